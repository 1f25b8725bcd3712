package mesh

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func TestEstimateDistance(t *testing.T) {
	t.Parallel()

	// At the reference RSSI the model reports one metre.
	if d := EstimateDistance(DefaultRefRSSI, DefaultRefRSSI, DefaultExponent); math.Abs(d-1) > 1e-9 {
		t.Errorf("distance at reference RSSI = %f, want 1", d)
	}

	// 20 dB of extra loss at exponent 2 is one decade of distance.
	if d := EstimateDistance(DefaultRefRSSI-20, DefaultRefRSSI, 2); math.Abs(d-10) > 1e-9 {
		t.Errorf("distance at -20 dB = %f, want 10", d)
	}
}

func TestEstimateDistanceMonotone(t *testing.T) {
	t.Parallel()

	prev := 0.0
	for rssi := -40.0; rssi >= -100; rssi -= 5 {
		d := EstimateDistance(rssi, DefaultRefRSSI, DefaultExponent)
		if d <= prev {
			t.Fatalf("distance %f at rssi %f not greater than %f", d, rssi, prev)
		}
		prev = d
	}
}

func TestRosterObserveAndOrder(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewRoster(RosterConfig{})

	// A closer peer outranks a farther one.
	r.Observe("1111111111111111", -50, true, now)
	r.Observe("2222222222222222", -90, true, now)

	helpers := r.Helpers()
	if len(helpers) != 2 {
		t.Fatalf("len(helpers) = %d, want 2", len(helpers))
	}
	if helpers[0].ID != "1111111111111111" {
		t.Errorf("top helper = %s, want the closer peer", helpers[0].ID)
	}
	if helpers[0].EstimatedDistance >= helpers[1].EstimatedDistance {
		t.Errorf("distances not ordered: %f vs %f",
			helpers[0].EstimatedDistance, helpers[1].EstimatedDistance)
	}
}

func TestRosterAvailabilityOutranksProximity(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewRoster(RosterConfig{})

	// Equidistant peers: the available one wins.
	r.Observe("aaaaaaaaaaaaaaaa", -70, false, now)
	r.Observe("bbbbbbbbbbbbbbbb", -70, true, now)

	helpers := r.Helpers()
	if helpers[0].ID != "bbbbbbbbbbbbbbbb" {
		t.Errorf("top helper = %s, want the available peer", helpers[0].ID)
	}
}

func TestRosterResponseBonus(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewRoster(RosterConfig{})

	r.Observe("aaaaaaaaaaaaaaaa", -70, true, now)
	r.Observe("bbbbbbbbbbbbbbbb", -70, true, now)
	r.MarkResponded("bbbbbbbbbbbbbbbb", now)

	if helpers := r.Helpers(); helpers[0].ID != "bbbbbbbbbbbbbbbb" {
		t.Errorf("top helper = %s, want the responder", helpers[0].ID)
	}

	// The bonus expires with the response window.
	r.Prune(now.Add(responseWindow + time.Second))
	r.Observe("aaaaaaaaaaaaaaaa", -60, true, now.Add(responseWindow+time.Second))
	r.Observe("bbbbbbbbbbbbbbbb", -70, true, now.Add(responseWindow+time.Second))
	if helpers := r.Helpers(); helpers[0].ID != "aaaaaaaaaaaaaaaa" {
		t.Errorf("top helper after expiry = %s, want the closer peer", helpers[0].ID)
	}
}

func TestRosterStalenessEviction(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewRoster(RosterConfig{Staleness: 30 * time.Second})

	r.Observe("aaaaaaaaaaaaaaaa", -60, true, now)
	r.Observe("bbbbbbbbbbbbbbbb", -60, true, now.Add(20*time.Second))

	// Exactly at the boundary the first peer survives.
	r.Prune(now.Add(30 * time.Second))
	if r.Len() != 2 {
		t.Fatalf("Len = %d after boundary prune, want 2", r.Len())
	}

	// One second past staleness it is evicted; the fresher peer stays.
	r.Prune(now.Add(31 * time.Second))
	helpers := r.Helpers()
	if len(helpers) != 1 || helpers[0].ID != "bbbbbbbbbbbbbbbb" {
		t.Fatalf("helpers after prune = %+v, want only the fresh peer", helpers)
	}
}

func TestRosterBound(t *testing.T) {
	t.Parallel()

	now := time.Now()
	r := NewRoster(RosterConfig{MaxHelpers: 4})

	// Farther peers have lower priority; the cap keeps the closest four.
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("%016x", i+1)
		r.Observe(id, -50-float64(i*5), true, now)
	}

	if r.Len() != 4 {
		t.Fatalf("Len = %d, want 4", r.Len())
	}
	for _, h := range r.Helpers() {
		if h.SignalStrength < -65 {
			t.Errorf("weak peer %s (rssi %f) survived the bound", h.ID, h.SignalStrength)
		}
	}
}
