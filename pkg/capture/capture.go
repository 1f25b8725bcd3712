// Package capture defines the device-facing interfaces the emergency
// pipeline depends on: audio input, media recorders, the location provider,
// and the durable settings store.
//
// The pipeline never talks to platform APIs directly — it consumes these
// start/stop/read contracts so the device layer (and tests, via the mock
// subpackage) can supply implementations. Permission prompts, codec setup,
// and hardware session management all live behind these interfaces.
package capture

import (
	"context"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// AudioSource provides fixed-duration microphone frames. Reads are blocking
// I/O and must be confined to a dedicated worker goroutine.
//
// Only one audio capture session may be active per device at a time.
type AudioSource interface {
	// Start acquires the microphone. Returns an error if the device is
	// unauthorised or already held by another session.
	Start(ctx context.Context) error

	// ReadFrame blocks until the next frame is available or ctx is done.
	// The returned frame buffer is owned by the caller.
	ReadFrame(ctx context.Context) (types.AudioFrame, error)

	// Stop releases the microphone. Safe to call more than once.
	Stop() error
}

// Recorder captures media to a file. The pipeline starts a recorder during
// evidence assembly and stops it when the incident window closes.
//
// Implementations must guarantee that a recording interrupted by Stop or by
// context cancellation is either finalised or the file is removed — never
// left silently truncated.
type Recorder interface {
	// Start begins recording to the file at path. It returns once the
	// recording session is established, not when it finishes.
	Start(ctx context.Context, path string) error

	// Stop finalises the recording and closes the file.
	Stop() error
}

// LocationProvider exposes the platform location service.
type LocationProvider interface {
	// LastKnown returns the most recent cached fix without powering up
	// hardware. Returns an error when no fix has ever been obtained or the
	// sensor is unauthorised.
	LastKnown(ctx context.Context) (types.Location, error)

	// Subscribe delivers periodic fixes on the returned channel until ctx
	// is done. The channel is closed on cancellation.
	Subscribe(ctx context.Context, interval time.Duration) (<-chan types.Location, error)
}

// SensorFeed is a stream of non-audio sensor confidences (motion,
// proximity, visual). Events are pushed onto the returned channel; the
// fusion scorer is the single consumer.
type SensorFeed interface {
	// Events returns the reading channel. The feed closes it when ctx is
	// done or the underlying sensor fails permanently.
	Events(ctx context.Context) (<-chan types.SensorReading, error)
}

// Settings is a durable key-value store for runtime flags and tuned
// thresholds. Writes must survive process restarts.
type Settings interface {
	GetString(key string) (string, bool)
	GetFloat(key string) (float64, bool)
	GetBool(key string) (bool, bool)
	Set(key string, value any) error
}
