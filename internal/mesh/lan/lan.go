// Package lan provides a mesh.Radio backed by a local-network websocket
// relay. It substitutes for short-range radio hardware in development and
// in indoor deployments where devices share a LAN: every frame published
// to the relay is fanned out to all other connected clients.
package lan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/quietharbor/aegis/internal/mesh"
)

const (
	defaultRepeatInterval = 1 * time.Second

	// defaultRSSI stands in for a real signal measurement. A LAN hop has
	// no meaningful RSSI, so peers appear at roughly beacon range.
	defaultRSSI = -65.0
)

// frame is the relay wire format. Payload carries the raw advertisement
// bytes; ServiceID lets the relay multiplex unrelated traffic.
type frame struct {
	ServiceID uint16  `json:"serviceId"`
	Payload   []byte  `json:"payload"`
	RSSI      float64 `json:"rssi,omitempty"`
}

// Option is a functional option for configuring the Radio.
type Option func(*Radio)

// WithRepeatInterval sets how often the current advertisement is
// republished to the relay.
func WithRepeatInterval(d time.Duration) Option {
	return func(r *Radio) {
		if d > 0 {
			r.repeatInterval = d
		}
	}
}

// WithRSSI sets the synthetic signal strength attached to received frames
// that carry none of their own.
func WithRSSI(rssi float64) Option {
	return func(r *Radio) {
		r.rssi = rssi
	}
}

// Radio implements mesh.Radio over a websocket connection to a relay.
type Radio struct {
	relayURL       string
	repeatInterval time.Duration
	rssi           float64

	mu      sync.Mutex
	conn    *websocket.Conn
	payload []byte
	advStop context.CancelFunc
}

// Compile-time interface check.
var _ mesh.Radio = (*Radio)(nil)

// Dial connects to the relay at relayURL (ws:// or wss://).
func Dial(ctx context.Context, relayURL string, opts ...Option) (*Radio, error) {
	if relayURL == "" {
		return nil, errors.New("lan: relay URL must not be empty")
	}
	r := &Radio{
		relayURL:       relayURL,
		repeatInterval: defaultRepeatInterval,
		rssi:           defaultRSSI,
	}
	for _, o := range opts {
		o(r)
	}

	conn, _, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("lan: dial relay: %w", err)
	}
	r.conn = conn
	return r, nil
}

// Advertise publishes the payload to the relay immediately and then keeps
// republishing it on the repeat interval until StopAdvertise, a
// replacement Advertise call, or ctx cancellation.
func (r *Radio) Advertise(ctx context.Context, payload []byte) error {
	if len(payload) > mesh.PayloadBudget {
		return fmt.Errorf("lan: payload of %d bytes exceeds advertisement budget", len(payload))
	}

	r.mu.Lock()
	if r.advStop != nil {
		r.advStop()
	}
	advCtx, cancel := context.WithCancel(ctx)
	r.advStop = cancel
	r.payload = append([]byte(nil), payload...)
	r.mu.Unlock()

	if err := r.publish(ctx, payload); err != nil {
		return err
	}

	go r.repeatLoop(advCtx)
	return nil
}

// StopAdvertise halts the republish loop.
func (r *Radio) StopAdvertise() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.advStop != nil {
		r.advStop()
		r.advStop = nil
	}
	r.payload = nil
	return nil
}

// Scan returns a channel of advertisements received from the relay. The
// channel is closed when ctx is done or the connection fails.
func (r *Radio) Scan(ctx context.Context) (<-chan mesh.Advertisement, error) {
	out := make(chan mesh.Advertisement, 16)
	go func() {
		defer close(out)
		for {
			_, data, err := r.conn.Read(ctx)
			if err != nil {
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil || f.ServiceID != mesh.ServiceID {
				continue
			}
			rssi := f.RSSI
			if rssi == 0 {
				rssi = r.rssi
			}

			adv := mesh.Advertisement{
				RSSI:     rssi,
				Payload:  f.Payload,
				Received: time.Now(),
			}
			select {
			case out <- adv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops advertising and closes the relay connection.
func (r *Radio) Close() error {
	_ = r.StopAdvertise()
	return r.conn.Close(websocket.StatusNormalClosure, "radio closed")
}

// repeatLoop republishes the current payload until cancelled.
func (r *Radio) repeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.repeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			payload := r.payload
			r.mu.Unlock()
			if payload == nil {
				return
			}
			if err := r.publish(ctx, payload); err != nil {
				return
			}
		}
	}
}

// publish sends one frame to the relay.
func (r *Radio) publish(ctx context.Context, payload []byte) error {
	data, err := json.Marshal(frame{ServiceID: mesh.ServiceID, Payload: payload})
	if err != nil {
		return fmt.Errorf("lan: marshal frame: %w", err)
	}
	if err := r.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("lan: publish: %w", err)
	}
	return nil
}
