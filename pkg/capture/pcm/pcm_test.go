package pcm

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePCM writes interleaved little-endian int16 samples to a temp file.
func writePCM(t *testing.T, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.pcm")
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write pcm: %v", err)
	}
	return path
}

func TestSourceReadsFrames(t *testing.T) {
	t.Parallel()

	// Two 30ms frames at 16kHz mono: 480 samples each.
	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i)
	}
	src := NewSource(writePCM(t, samples), WithRealtime(false))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	frame, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(frame.PCM) != 480 {
		t.Errorf("frame length = %d, want 480", len(frame.PCM))
	}
	if frame.SampleRate != DefaultSampleRate {
		t.Errorf("sample rate = %d, want %d", frame.SampleRate, DefaultSampleRate)
	}
	if frame.PCM[1] != 1 {
		t.Errorf("sample[1] = %d, want 1", frame.PCM[1])
	}
}

func TestSourceConvertsStereo48k(t *testing.T) {
	t.Parallel()

	// One 30ms frame at 48kHz stereo: 1440 frames, 2880 samples.
	samples := make([]int16, 2880)
	src := NewSource(writePCM(t, samples),
		WithInputFormat(48000, 2),
		WithRealtime(false),
	)
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	frame, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	// 1440 mono samples at 48kHz resample to 480 at 16kHz.
	if len(frame.PCM) != 480 {
		t.Errorf("frame length = %d, want 480", len(frame.PCM))
	}
}

func TestSourceBlocksAtEOF(t *testing.T) {
	t.Parallel()

	src := NewSource(writePCM(t, nil), WithRealtime(false))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.ReadFrame(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSourceStartTwiceFails(t *testing.T) {
	t.Parallel()

	src := NewSource(writePCM(t, nil))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	if err := src.Start(context.Background()); err == nil {
		t.Error("second Start accepted")
	}
}

func TestRecorderWritesTap(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 960)
	for i := range samples {
		samples[i] = int16(i % 100)
	}
	src := NewSource(writePCM(t, samples), WithRealtime(false))
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	rec := NewRecorder(src)
	out := filepath.Join(t.TempDir(), "capture.pcm")
	if err := rec.Start(context.Background(), out); err != nil {
		t.Fatalf("recorder Start: %v", err)
	}

	for range 2 {
		if _, err := src.ReadFrame(context.Background()); err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
	}

	// Give the drain goroutine a moment, then finalise.
	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := os.Stat(out)
		if err == nil && info.Size() >= 960*2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recording never reached expected size")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("recorder Stop: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	if len(data) != 960*2 {
		t.Errorf("recording size = %d, want %d", len(data), 960*2)
	}
	if got := int16(binary.LittleEndian.Uint16(data[2:])); got != 1 {
		t.Errorf("sample[1] = %d, want 1", got)
	}
}

func TestStereoToMonoAverages(t *testing.T) {
	t.Parallel()

	mono := StereoToMono([]int16{100, 200, -50, 50})
	if len(mono) != 2 {
		t.Fatalf("length = %d, want 2", len(mono))
	}
	if mono[0] != 150 {
		t.Errorf("mono[0] = %d, want 150", mono[0])
	}
	if mono[1] != 0 {
		t.Errorf("mono[1] = %d, want 0", mono[1])
	}
}

func TestResampleMonoHalvesRate(t *testing.T) {
	t.Parallel()

	in := make([]int16, 480)
	out := ResampleMono(in, 32000, 16000)
	if len(out) != 240 {
		t.Errorf("length = %d, want 240", len(out))
	}

	same := ResampleMono(in, 16000, 16000)
	if len(same) != 480 {
		t.Errorf("identity resample length = %d, want 480", len(same))
	}
}
