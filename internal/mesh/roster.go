package mesh

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// Path-loss reference constants for the log-distance model. RefRSSI is the
// expected signal strength at one metre; Exponent ≈ 2 models free space,
// higher values model obstructed indoor environments.
const (
	DefaultRefRSSI  = -59.0
	DefaultExponent = 2.0
)

// priorityBase scales the inverse-distance priority term.
const priorityBase = 100.0

// responseBonus multiplies the priority of helpers that responded to an
// SOS recently; responseWindow bounds "recently".
const (
	responseBonus  = 1.5
	responseWindow = 10 * time.Minute
)

// availabilityBonus multiplies the priority of helpers advertising
// willingness to respond.
const availabilityBonus = 2.0

// EstimateDistance converts a measured RSSI to metres with the
// log-distance path-loss model:
//
//	distance = 10^((refRSSI − rssi) / (10·n))
//
// Monotone: a more negative RSSI never yields a smaller distance.
func EstimateDistance(rssi, refRSSI, exponent float64) float64 {
	if exponent <= 0 {
		exponent = DefaultExponent
	}
	return math.Pow(10, (refRSSI-rssi)/(10*exponent))
}

// RosterConfig bounds the nearby-helper set.
type RosterConfig struct {
	// MaxHelpers caps the roster size; the lowest-priority entries are
	// dropped first.
	MaxHelpers int

	// Staleness is how long an unseen helper survives before eviction.
	Staleness time.Duration

	// RefRSSI and Exponent parameterise the path-loss model.
	RefRSSI  float64
	Exponent float64
}

func (c RosterConfig) withDefaults() RosterConfig {
	if c.MaxHelpers <= 0 {
		c.MaxHelpers = 16
	}
	if c.Staleness <= 0 {
		c.Staleness = 30 * time.Second
	}
	if c.RefRSSI == 0 {
		c.RefRSSI = DefaultRefRSSI
	}
	if c.Exponent <= 0 {
		c.Exponent = DefaultExponent
	}
	return c
}

// Roster is the bounded set of nearby helpers. Entries are refreshed by
// scanner observations and evicted by Prune once unseen longer than the
// staleness window.
//
// Safe for concurrent use.
type Roster struct {
	cfg RosterConfig

	mu        sync.Mutex
	helpers   map[string]*types.NearbyHelper
	responded map[string]time.Time
}

// NewRoster creates an empty roster.
func NewRoster(cfg RosterConfig) *Roster {
	return &Roster{
		cfg:       cfg.withDefaults(),
		helpers:   make(map[string]*types.NearbyHelper),
		responded: make(map[string]time.Time),
	}
}

// Observe records one beacon sighting for a peer.
func (r *Roster) Observe(id string, rssi float64, available bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.helpers[id]
	if !ok {
		h = &types.NearbyHelper{ID: id}
		r.helpers[id] = h
	}
	h.SignalStrength = rssi
	h.EstimatedDistance = EstimateDistance(rssi, r.cfg.RefRSSI, r.cfg.Exponent)
	h.Available = available
	h.LastSeen = at
	h.Priority = r.priority(h, at)

	r.enforceBound()
}

// MarkResponded records that a peer answered an SOS, boosting its ranking
// for the response window.
func (r *Roster) MarkResponded(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responded[id] = at
	if h, ok := r.helpers[id]; ok {
		h.Priority = r.priority(h, at)
	}
}

// priority ranks a helper for selection ordering only — it never gates
// whether an SOS is broadcast.
func (r *Roster) priority(h *types.NearbyHelper, now time.Time) float64 {
	p := priorityBase / (h.EstimatedDistance + 1)
	if h.Available {
		p *= availabilityBonus
	}
	if at, ok := r.responded[h.ID]; ok && now.Sub(at) <= responseWindow {
		p *= responseBonus
	}
	return p
}

// Prune evicts helpers unseen longer than the staleness window and expires
// old response records. Call it on the scan refresh interval.
func (r *Roster) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.helpers {
		if now.Sub(h.LastSeen) > r.cfg.Staleness {
			delete(r.helpers, id)
		}
	}
	for id, at := range r.responded {
		if now.Sub(at) > responseWindow {
			delete(r.responded, id)
		}
	}
}

// Helpers returns the current set ordered by descending priority.
func (r *Roster) Helpers() []types.NearbyHelper {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.NearbyHelper, 0, len(r.helpers))
	for _, h := range r.helpers {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Clear drops every helper and response record.
func (r *Roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.helpers)
	clear(r.responded)
}

// Len returns the current roster size.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.helpers)
}

// enforceBound drops the lowest-priority helpers above the cap.
// Caller holds the lock.
func (r *Roster) enforceBound() {
	for len(r.helpers) > r.cfg.MaxHelpers {
		worstID := ""
		worst := math.Inf(1)
		for id, h := range r.helpers {
			if h.Priority < worst {
				worst = h.Priority
				worstID = id
			}
		}
		delete(r.helpers, worstID)
	}
}
