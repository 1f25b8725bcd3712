// Package mock provides a test double for the mesh.Radio interface.
//
// Inject received advertisements with Receive and inspect the advertised
// payloads via AdvertisedPayloads.
package mock

import (
	"context"
	"sync"

	"github.com/quietharbor/aegis/internal/mesh"
)

// Radio is a mock mesh.Radio backed by an in-memory channel.
type Radio struct {
	mu sync.Mutex

	// AdvertiseErr, if non-nil, is returned by Advertise.
	AdvertiseErr error

	// ScanErr, if non-nil, is returned by Scan.
	ScanErr error

	// payloads records every Advertise call, in order.
	payloads [][]byte

	stopCalls int
	incoming  chan mesh.Advertisement
}

// Compile-time interface check.
var _ mesh.Radio = (*Radio)(nil)

// NewRadio creates a mock radio with a buffered reception channel.
func NewRadio() *Radio {
	return &Radio{incoming: make(chan mesh.Advertisement, 64)}
}

// Advertise records the payload.
func (r *Radio) Advertise(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AdvertiseErr != nil {
		return r.AdvertiseErr
	}
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return nil
}

// StopAdvertise counts the invocation.
func (r *Radio) StopAdvertise() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCalls++
	return nil
}

// Scan returns the injection channel; it is closed when ctx ends.
func (r *Radio) Scan(ctx context.Context) (<-chan mesh.Advertisement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ScanErr != nil {
		return nil, r.ScanErr
	}

	out := make(chan mesh.Advertisement)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case adv, ok := <-r.incoming:
				if !ok {
					return
				}
				select {
				case out <- adv:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Receive injects an advertisement as if it had been observed over the air.
func (r *Radio) Receive(adv mesh.Advertisement) {
	r.incoming <- adv
}

// AdvertisedPayloads returns a copy of all payloads passed to Advertise.
func (r *Radio) AdvertisedPayloads() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.payloads))
	for i, p := range r.payloads {
		out[i] = append([]byte(nil), p...)
	}
	return out
}

// StopCalls returns how many times StopAdvertise was called.
func (r *Radio) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopCalls
}
