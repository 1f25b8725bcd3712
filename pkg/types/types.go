// Package types defines the shared types used across all Aegis packages.
//
// These types form the lingua franca between the classifier, the trigger
// debouncer, the fusion scorer, the evidence assembler, the mesh broadcast
// service, and the ledger client. Each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioFrame is a single fixed-duration buffer of raw PCM captured by the
// microphone worker. Frames are the atomic unit of the detection pipeline —
// they are analysed and discarded, never persisted.
type AudioFrame struct {
	// PCM is little-endian signed 16-bit mono audio.
	PCM []int16

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Captured marks when this frame was read from the device.
	Captured time.Time
}

// Duration returns the wall-clock length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}

// DetectionResult is the per-frame output of the acoustic classifier.
// It is produced once per audio cycle and consumed immediately.
type DetectionResult struct {
	// ScreamConfidence is the likelihood (0.0–1.0) that the frame contains
	// a scream or similar distress vocalisation.
	ScreamConfidence float64

	// TriggerConfidence is the likelihood (0.0–1.0) that the frame contains
	// the configured trigger keyword. This is an acoustic-pattern score,
	// not a transcription result.
	TriggerConfidence float64

	// TriggeredKeyword is the keyword label the classifier matched, empty
	// when TriggerConfidence is below the classifier's own floor.
	TriggeredKeyword string

	// Latency is how long classification of this frame took.
	Latency time.Duration
}

// SensorKind identifies the origin of a sensor reading.
type SensorKind string

const (
	SensorAudio     SensorKind = "audio"
	SensorMotion    SensorKind = "motion"
	SensorProximity SensorKind = "proximity"
	SensorVisual    SensorKind = "visual"
)

// SensorReading is a single confidence observation pushed onto the fusion
// bus by a sensor worker. Readings are ephemeral.
type SensorReading struct {
	Kind       SensorKind
	Confidence float64
	Observed   time.Time
}

// RiskAssessment is the output of one fusion pass. Recomputed on every
// call, never persisted.
type RiskAssessment struct {
	// Score is the fused risk in [0, 1].
	Score float64

	// Contributing holds the per-sensor confidences that produced Score.
	Contributing map[SensorKind]float64

	// Assessed is when the fusion pass ran.
	Assessed time.Time
}

// Location is a geographic fix from the platform location provider.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`

	// Accuracy is the estimated horizontal error radius in metres.
	Accuracy float64 `json:"accuracy"`
}

// ThreatType categorises what tripped the escalation.
type ThreatType string

const (
	ThreatVoiceTrigger ThreatType = "voice_trigger"
	ThreatScream       ThreatType = "scream"
	ThreatRiskFusion   ThreatType = "risk_fusion"
	ThreatManual       ThreatType = "manual"
)

// Urgency is the broadcast urgency level carried in an SOS payload.
type Urgency uint8

const (
	UrgencyLow Urgency = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

// String returns the lowercase name of the urgency level.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyMedium:
		return "medium"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	}
	return "unknown"
}

// AnchorState tracks where an evidence package sits in the ledger-anchoring
// lifecycle.
type AnchorState string

const (
	AnchorPending   AnchorState = "pending"
	AnchorQueued    AnchorState = "queued"
	AnchorConfirmed AnchorState = "confirmed"
	AnchorAbandoned AnchorState = "abandoned"
)

// MediaRefs holds the evidence-directory paths of captured media. Empty
// fields mean the corresponding capture did not produce output.
type MediaRefs struct {
	Audio string `json:"audio,omitempty"`
	Video string `json:"video,omitempty"`
	Photo string `json:"photo,omitempty"`
}

// EvidencePackage is the bundled artifact produced exactly once per
// escalation. It becomes immutable the instant Hash is computed; the
// orchestrator owns it until anchoring completes or is abandoned. Unlike
// frames and readings it persists in durable storage beyond the session.
type EvidencePackage struct {
	ID        string    `json:"evidenceId"`
	Timestamp time.Time `json:"timestamp"`

	// Media references resolved during assembly. Video and photo are
	// best-effort; audio-only evidence is valid.
	Media MediaRefs `json:"files"`

	// Location is the last-known fix at assembly time, nil when the
	// provider timed out or is unauthorised.
	Location *Location `json:"location,omitempty"`

	// Sensors is the snapshot of the latest per-sensor confidences at the
	// moment of escalation.
	Sensors map[SensorKind]float64 `json:"sensorSnapshot,omitempty"`

	// Threat describes what fired the escalation.
	Threat     ThreatType `json:"threatType"`
	RiskScore  float64    `json:"riskScore"`
	AudioScore float64    `json:"audioConfidence"`

	// Hash is the hex SHA-256 over the deterministic serialisation of
	// {ID, Timestamp, Media, Location}. Computed exactly once.
	Hash string `json:"evidenceHash"`

	// Encrypted reports whether the media files are encrypted at rest.
	Encrypted bool `json:"encrypted"`

	// AnchorStatus and LedgerTxRef are updated by the orchestrator as the
	// anchoring lifecycle progresses; they are not covered by Hash.
	AnchorStatus AnchorState `json:"anchorStatus"`
	LedgerTxRef  string      `json:"ledgerTxRef,omitempty"`
}

// SOSMessage is the help request broadcast to nearby peers. It is ephemeral
// and must fit the radio advertisement payload budget once encoded.
type SOSMessage struct {
	// ID identifies the message for deduplication on the receiving side.
	ID string

	// SenderPseudoID is a rotating pseudonymous device identifier. It is
	// never a stable personal identifier.
	SenderPseudoID string

	Urgency Urgency

	// Location is a coarse fix, nil when unavailable or withheld.
	Location *Location

	Threat    ThreatType
	Timestamp time.Time
}

// NearbyHelper is one peer observed by the mesh scanner. Helpers live in a
// bounded roster and are evicted after a staleness window.
type NearbyHelper struct {
	ID string

	// EstimatedDistance in metres, from the path-loss model.
	EstimatedDistance float64

	// SignalStrength is the last measured RSSI in dBm.
	SignalStrength float64

	// Available reports whether the peer advertised willingness to respond.
	Available bool

	LastSeen time.Time

	// Priority orders helpers for selection; higher is better.
	Priority float64
}

// AnchorJob is one queued ledger submission. Jobs are created when an
// anchor attempt fails or the device is offline, persisted durably, and
// removed on success or once RetryCount exceeds the retry budget.
type AnchorJob struct {
	EvidenceID string     `json:"evidenceRef"`
	Hash       string     `json:"hash"`
	Timestamp  time.Time  `json:"timestamp"`
	Location   *Location  `json:"location,omitempty"`
	Threat     ThreatType `json:"threatType"`
	RetryCount int        `json:"retryCount"`
	LastError  string     `json:"lastError,omitempty"`
	QueuedAt   time.Time  `json:"queuedAt"`
}

// LedgerReceipt is returned by a successful anchor submission.
type LedgerReceipt struct {
	TxRef       string `json:"txRef"`
	BlockHeight uint64 `json:"blockHeight"`
	Confirmed   bool   `json:"confirmed"`
}
