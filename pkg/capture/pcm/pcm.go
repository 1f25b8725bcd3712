// Package pcm is a file-backed device layer for development and soak runs.
//
// Source plays a raw little-endian 16-bit PCM stream through the
// capture.AudioSource contract, converting to the pipeline's mono sample
// rate and pacing frames in real time. Recorder taps the same source and
// writes everything it hears to a file, standing in for the platform media
// recorder on machines without microphone access.
package pcm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/quietharbor/aegis/pkg/capture"
	"github.com/quietharbor/aegis/pkg/types"
)

const (
	// DefaultSampleRate is the pipeline-facing mono sample rate.
	DefaultSampleRate = 16000

	// DefaultFrameDuration is the cadence of ReadFrame.
	DefaultFrameDuration = 30 * time.Millisecond
)

// Option configures a Source.
type Option func(*Source)

// WithInputFormat declares the sample rate and channel count of the raw
// stream. Defaults to 16kHz mono.
func WithInputFormat(sampleRate, channels int) Option {
	return func(s *Source) {
		if sampleRate > 0 {
			s.inRate = sampleRate
		}
		if channels == 1 || channels == 2 {
			s.inChannels = channels
		}
	}
}

// WithFrameDuration sets the emitted frame length.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithRealtime controls frame pacing. When disabled, ReadFrame returns as
// fast as the stream can be read; useful for replaying captures in tests.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// Source plays a raw PCM file as a capture.AudioSource.
type Source struct {
	path       string
	inRate     int
	inChannels int
	frameDur   time.Duration
	realtime   bool

	mu      sync.Mutex
	file    *os.File
	started bool
	taps    []chan types.AudioFrame
}

var _ capture.AudioSource = (*Source)(nil)

// NewSource creates a Source that reads from the raw PCM file at path.
// The file is not opened until Start.
func NewSource(path string, opts ...Option) *Source {
	s := &Source{
		path:       path,
		inRate:     DefaultSampleRate,
		inChannels: 1,
		frameDur:   DefaultFrameDuration,
		realtime:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the backing file. Returns an error when the file is missing
// or the source is already started.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("pcm: source already started")
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("pcm: open source: %w", err)
	}
	s.file = f
	s.started = true
	return nil
}

// ReadFrame reads, converts, and paces the next frame. At end of stream it
// blocks until ctx is done, mirroring a microphone that has gone quiet.
func (s *Source) ReadFrame(ctx context.Context) (types.AudioFrame, error) {
	s.mu.Lock()
	f := s.file
	started := s.started
	s.mu.Unlock()
	if !started || f == nil {
		return types.AudioFrame{}, errors.New("pcm: source not started")
	}

	// Input samples needed to fill one output frame.
	inSamples := int(int64(s.inRate) * int64(s.frameDur) / int64(time.Second))
	raw := make([]byte, inSamples*s.inChannels*2)

	if _, err := io.ReadFull(f, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			<-ctx.Done()
			return types.AudioFrame{}, ctx.Err()
		}
		return types.AudioFrame{}, fmt.Errorf("pcm: read: %w", err)
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	if s.inChannels == 2 {
		samples = StereoToMono(samples)
	}
	samples = ResampleMono(samples, s.inRate, DefaultSampleRate)

	if s.realtime {
		select {
		case <-time.After(s.frameDur):
		case <-ctx.Done():
			return types.AudioFrame{}, ctx.Err()
		}
	}

	frame := types.AudioFrame{
		PCM:        samples,
		SampleRate: DefaultSampleRate,
		Captured:   time.Now(),
	}
	s.fanOut(frame)
	return frame, nil
}

// Stop closes the backing file and all taps. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	for _, tap := range s.taps {
		close(tap)
	}
	s.taps = nil
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// Tap returns a channel that receives a copy of every frame read from the
// source. Slow consumers drop frames rather than stall the capture loop.
func (s *Source) Tap() <-chan types.AudioFrame {
	ch := make(chan types.AudioFrame, 32)
	s.mu.Lock()
	s.taps = append(s.taps, ch)
	s.mu.Unlock()
	return ch
}

func (s *Source) fanOut(frame types.AudioFrame) {
	s.mu.Lock()
	taps := s.taps
	s.mu.Unlock()
	for _, tap := range taps {
		select {
		case tap <- frame:
		default:
		}
	}
}

// Recorder writes frames from a Source tap to a raw PCM file.
type Recorder struct {
	source *Source

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ capture.Recorder = (*Recorder)(nil)

// NewRecorder creates a Recorder fed by src.
func NewRecorder(src *Source) *Recorder {
	return &Recorder{source: src}
}

// Start begins writing tapped frames to the file at path.
func (r *Recorder) Start(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("pcm: recorder already running")
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pcm: create recording: %w", err)
	}

	tap := r.source.Tap()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		defer f.Close()
		buf := make([]byte, 0, 4096)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-tap:
				if !ok {
					return
				}
				buf = buf[:0]
				for _, sample := range frame.PCM {
					buf = binary.LittleEndian.AppendUint16(buf, uint16(sample))
				}
				if _, err := f.Write(buf); err != nil {
					return
				}
			}
		}
	}()
	return nil
}

// Stop finalises the recording. Safe to call more than once.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
