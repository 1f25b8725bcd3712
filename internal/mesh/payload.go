package mesh

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// PayloadBudget is the maximum advertisement body size, chosen to fit the
// tightest common radio advertisement limits.
const PayloadBudget = 31

// payloadVersion is the wire format version byte.
const payloadVersion = 1

// Payload kinds.
const (
	kindBeacon byte = 0x01 // periodic presence beacon from a potential helper
	kindSOS    byte = 0x02 // help request
)

// Wire layout (big-endian):
//
//	SOS:    ver(1) kind(1) msgID(8) sender(8) urgency(1) flags(1) lat(4) lon(4) ts(3) = 31 bytes
//	Beacon: ver(1) kind(1) sender(8) flags(1) = 11 bytes
//
// Coordinates are fixed-point 1e-5 degrees (≈1.1m resolution, deliberately
// coarse). The timestamp is seconds since the epoch truncated to 24 bits —
// receivers reconstruct the full value relative to their own clock, which
// is safe inside the dedup window.
const (
	sosLen    = 31
	beaconLen = 11

	flagHasLocation = 0x01
	flagAvailable   = 0x01 // beacon flags
)

var (
	// ErrMalformedPayload marks payloads that cannot be decoded. Scanners
	// drop these without crashing and without polluting the dedup cache.
	ErrMalformedPayload = errors.New("mesh: malformed payload")

	errPayloadTooLarge = errors.New("mesh: payload exceeds advertisement budget")
)

// EncodeSOS packs an SOSMessage into the compact advertisement form.
// Message and sender ids must be 16 hex chars (8 bytes).
func EncodeSOS(msg types.SOSMessage) ([]byte, error) {
	msgID, err := idBytes(msg.ID)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode message id: %w", err)
	}
	sender, err := idBytes(msg.SenderPseudoID)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode sender id: %w", err)
	}

	buf := make([]byte, 0, sosLen)
	buf = append(buf, payloadVersion, kindSOS)
	buf = append(buf, msgID[:]...)
	buf = append(buf, sender[:]...)
	buf = append(buf, byte(msg.Urgency))

	// Threat type rides in the upper nibble of the flags byte.
	flags := threatOrdinal(msg.Threat) << 4
	var lat, lon int32
	if msg.Location != nil {
		flags |= flagHasLocation
		lat = int32(math.Round(msg.Location.Latitude * 1e5))
		lon = int32(math.Round(msg.Location.Longitude * 1e5))
	}
	buf = append(buf, flags)
	buf = binary.BigEndian.AppendUint32(buf, uint32(lat))
	buf = binary.BigEndian.AppendUint32(buf, uint32(lon))

	ts := uint32(msg.Timestamp.Unix()) & 0xFFFFFF
	buf = append(buf, byte(ts>>16), byte(ts>>8), byte(ts))

	if len(buf) > PayloadBudget {
		return nil, errPayloadTooLarge
	}
	return buf, nil
}

// DecodeSOS unpacks an SOS advertisement. The reference time anchors the
// truncated timestamp; pass the reception time.
func DecodeSOS(payload []byte, ref time.Time) (types.SOSMessage, error) {
	if len(payload) != sosLen || payload[0] != payloadVersion || payload[1] != kindSOS {
		return types.SOSMessage{}, ErrMalformedPayload
	}

	msg := types.SOSMessage{
		ID:             hex.EncodeToString(payload[2:10]),
		SenderPseudoID: hex.EncodeToString(payload[10:18]),
		Urgency:        types.Urgency(payload[18]),
	}
	if msg.Urgency > types.UrgencyCritical {
		return types.SOSMessage{}, ErrMalformedPayload
	}

	flags := payload[19]
	msg.Threat = threatFromOrdinal(flags >> 4)
	if flags&flagHasLocation != 0 {
		lat := int32(binary.BigEndian.Uint32(payload[20:24]))
		lon := int32(binary.BigEndian.Uint32(payload[24:28]))
		msg.Location = &types.Location{
			Latitude:  float64(lat) / 1e5,
			Longitude: float64(lon) / 1e5,
		}
	}

	ts := uint32(payload[28])<<16 | uint32(payload[29])<<8 | uint32(payload[30])
	msg.Timestamp = expandTimestamp(ts, ref)
	return msg, nil
}

// EncodeBeacon packs a presence beacon for the given pseudonymous sender.
func EncodeBeacon(senderPseudoID string, available bool) ([]byte, error) {
	sender, err := idBytes(senderPseudoID)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode sender id: %w", err)
	}
	buf := make([]byte, 0, beaconLen)
	buf = append(buf, payloadVersion, kindBeacon)
	buf = append(buf, sender[:]...)
	var flags byte
	if available {
		flags |= flagAvailable
	}
	return append(buf, flags), nil
}

// beacon is a decoded presence beacon.
type beacon struct {
	senderID  string
	available bool
}

func decodeBeacon(payload []byte) (beacon, error) {
	if len(payload) != beaconLen || payload[0] != payloadVersion || payload[1] != kindBeacon {
		return beacon{}, ErrMalformedPayload
	}
	return beacon{
		senderID:  hex.EncodeToString(payload[2:10]),
		available: payload[10]&flagAvailable != 0,
	}, nil
}

// payloadKind peeks at the kind byte. Returns 0 for undecodable payloads.
func payloadKind(payload []byte) byte {
	if len(payload) < 2 || payload[0] != payloadVersion {
		return 0
	}
	return payload[1]
}

// threatOrdinal maps threat types to their wire ordinal.
func threatOrdinal(t types.ThreatType) byte {
	switch t {
	case types.ThreatScream:
		return 1
	case types.ThreatRiskFusion:
		return 2
	case types.ThreatManual:
		return 3
	default:
		return 0 // voice trigger
	}
}

func threatFromOrdinal(o byte) types.ThreatType {
	switch o {
	case 1:
		return types.ThreatScream
	case 2:
		return types.ThreatRiskFusion
	case 3:
		return types.ThreatManual
	default:
		return types.ThreatVoiceTrigger
	}
}

// idBytes parses a 16-hex-char pseudonymous id into its 8-byte wire form.
func idBytes(id string) ([8]byte, error) {
	var out [8]byte
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) != 8 {
		return out, ErrMalformedPayload
	}
	copy(out[:], raw)
	return out, nil
}

// expandTimestamp reconstructs a full timestamp from its low 24 bits using
// ref as the anchor, picking the candidate closest to ref.
func expandTimestamp(low24 uint32, ref time.Time) time.Time {
	const span = int64(1) << 24
	base := ref.Unix() &^ (span - 1)
	candidate := base | int64(low24)

	// The truncation may have wrapped just before or after ref.
	best := candidate
	for _, c := range []int64{candidate - span, candidate + span} {
		if abs64(c-ref.Unix()) < abs64(best-ref.Unix()) {
			best = c
		}
	}
	return time.Unix(best, 0).UTC()
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
