package evidence

import (
	"encoding/binary"
	"fmt"
	"os"

	"layeh.com/gopus"

	"github.com/quietharbor/aegis/pkg/types"
)

// The pre-trigger snippet is mono voice audio at the pipeline sample rate,
// encoded in 20 ms Opus frames.
const (
	opusChannels    = 1
	opusFrameSizeMs = 20
	// maxPacketBytes bounds a single encoded Opus packet.
	maxPacketBytes = 4000
)

// writeTriggerAudio encodes the buffered pre-trigger PCM frames to an Opus
// packet stream at path. Each packet is prefixed with a big-endian uint16
// length so the stream can be decoded packet-by-packet.
//
// The file is written to a temp path and renamed into place: a cancelled or
// failed encode leaves no partial artifact behind.
func writeTriggerAudio(frames []types.AudioFrame, path string) error {
	if len(frames) == 0 {
		return fmt.Errorf("evidence: no pre-trigger frames to encode")
	}
	sampleRate := frames[0].SampleRate
	if sampleRate <= 0 {
		return fmt.Errorf("evidence: invalid sample rate %d", sampleRate)
	}

	enc, err := gopus.NewEncoder(sampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return fmt.Errorf("evidence: create opus encoder: %w", err)
	}

	// Flatten the frame buffers, then slice into fixed encoder frames.
	var pcm []int16
	for _, f := range frames {
		pcm = append(pcm, f.PCM...)
	}
	frameSamples := sampleRate * opusFrameSizeMs / 1000

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("evidence: open trigger audio file: %w", err)
	}

	var lenPrefix [2]byte
	for off := 0; off+frameSamples <= len(pcm); off += frameSamples {
		packet, err := enc.Encode(pcm[off:off+frameSamples], frameSamples, maxPacketBytes)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("evidence: opus encode: %w", err)
		}
		binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(packet)))
		if _, err := out.Write(lenPrefix[:]); err == nil {
			_, err = out.Write(packet)
		}
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("evidence: write trigger audio: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("evidence: close trigger audio: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("evidence: finalise trigger audio: %w", err)
	}
	return nil
}
