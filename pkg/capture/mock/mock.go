// Package mock provides test doubles for the capture package interfaces.
//
// Use AudioSource to feed scripted frames to the detection loop, Recorder to
// observe start/stop calls without touching hardware, LocationProvider to
// inject fixes or failures, and Settings for an in-memory settings store.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/quietharbor/aegis/pkg/capture"
	"github.com/quietharbor/aegis/pkg/types"
)

// AudioSource is a mock implementation of capture.AudioSource that serves
// frames from a scripted slice.
type AudioSource struct {
	mu sync.Mutex

	// Frames are returned by successive ReadFrame calls. When exhausted,
	// ReadFrame blocks until ctx is done.
	Frames []types.AudioFrame

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// Interval, when positive, is the simulated capture cadence —
	// ReadFrame sleeps this long before returning each frame.
	Interval time.Duration

	started bool
	stopped bool
	next    int
}

// Compile-time interface check.
var _ capture.AudioSource = (*AudioSource)(nil)

// Start records the call and returns StartErr.
func (s *AudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// ReadFrame returns the next scripted frame, blocking on ctx when the
// script is exhausted.
func (s *AudioSource) ReadFrame(ctx context.Context) (types.AudioFrame, error) {
	s.mu.Lock()
	var frame types.AudioFrame
	have := s.next < len(s.Frames)
	if have {
		frame = s.Frames[s.next]
		s.next++
	}
	interval := s.Interval
	s.mu.Unlock()

	if !have {
		<-ctx.Done()
		return types.AudioFrame{}, ctx.Err()
	}
	if interval > 0 {
		select {
		case <-ctx.Done():
			return types.AudioFrame{}, ctx.Err()
		case <-time.After(interval):
		}
	}
	return frame, nil
}

// Stop records that the source was stopped.
func (s *AudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Stopped reports whether Stop has been called.
func (s *AudioSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Recorder is a mock implementation of capture.Recorder.
type Recorder struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// StartDelay, when positive, delays Start — use it to exercise the
	// assembler's per-task timeouts.
	StartDelay time.Duration

	// Paths records the file paths passed to Start, in order.
	Paths []string

	ctxs  []context.Context
	stops int
}

var _ capture.Recorder = (*Recorder)(nil)

// Start records the path and returns StartErr after an optional delay.
func (r *Recorder) Start(ctx context.Context, path string) error {
	if r.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.StartDelay):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.Paths = append(r.Paths, path)
	r.ctxs = append(r.ctxs, ctx)
	return nil
}

// StartContexts returns the contexts passed to successful Start calls, in
// order. Inspect them to assert session lifetimes.
func (r *Recorder) StartContexts() []context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]context.Context(nil), r.ctxs...)
}

// Stop counts the invocation.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

// Stops returns how many times Stop was called.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// LocationProvider is a mock implementation of capture.LocationProvider.
type LocationProvider struct {
	mu sync.Mutex

	// Fix is returned by LastKnown unless Err is set.
	Fix types.Location

	// Err, if non-nil, is returned by LastKnown and Subscribe.
	Err error

	// Delay, when positive, delays LastKnown before it responds.
	Delay time.Duration

	calls int
}

var _ capture.LocationProvider = (*LocationProvider)(nil)

// LastKnown returns Fix or Err after an optional delay.
func (p *LocationProvider) LastKnown(ctx context.Context) (types.Location, error) {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return types.Location{}, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return types.Location{}, p.Err
	}
	return p.Fix, nil
}

// Subscribe delivers Fix once per interval until ctx is done.
func (p *LocationProvider) Subscribe(ctx context.Context, interval time.Duration) (<-chan types.Location, error) {
	p.mu.Lock()
	err := p.Err
	fix := p.Fix
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan types.Location)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// SensorFeed is a mock implementation of capture.SensorFeed that replays a
// scripted set of readings and then leaves the channel open until ctx ends.
type SensorFeed struct {
	// Readings are delivered in order on the events channel.
	Readings []types.SensorReading

	// Err, if non-nil, is returned by Events.
	Err error
}

var _ capture.SensorFeed = (*SensorFeed)(nil)

// Events replays the scripted readings.
func (f *SensorFeed) Events(ctx context.Context) (<-chan types.SensorReading, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	ch := make(chan types.SensorReading, len(f.Readings))
	go func() {
		defer close(ch)
		for _, r := range f.Readings {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

// Settings is an in-memory capture.Settings implementation.
type Settings struct {
	mu     sync.Mutex
	values map[string]any
}

var _ capture.Settings = (*Settings)(nil)

// Set stores value under key.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	s.values[key] = value
	return nil
}

// GetString returns the string stored under key.
func (s *Settings) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(string)
	return v, ok
}

// GetFloat returns the float stored under key.
func (s *Settings) GetFloat(key string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(float64)
	return v, ok
}

// GetBool returns the bool stored under key.
func (s *Settings) GetBool(key string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(bool)
	return v, ok
}
