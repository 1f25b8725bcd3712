package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// File-name suffixes of the evidence artifact layout. All artifacts of one
// incident share the evidence id prefix.
const (
	audioSuffix      = "_audio.opus"
	videoSuffix      = "_video.mp4"
	triggerSuffix    = "_trigger.opus"
	descriptorSuffix = ".json"
)

// descriptor is the on-disk package descriptor written next to the media
// files. Field layout is part of the external evidence contract consumed by
// certificate generation.
type descriptor struct {
	EvidenceID string          `json:"evidenceId"`
	Timestamp  time.Time       `json:"timestamp"`
	Location   *types.Location `json:"location,omitempty"`
	Threat     threatInfo      `json:"threat"`
	Files      types.MediaRefs `json:"files"`
	Encrypted  bool            `json:"encrypted"`
	Hash       string          `json:"evidenceHash"`
	LedgerTx   string          `json:"ledgerTxRef,omitempty"`
	Anchor     types.AnchorState `json:"anchorStatus"`
}

type threatInfo struct {
	Type            types.ThreatType `json:"type"`
	RiskScore       float64          `json:"riskScore"`
	AudioConfidence float64          `json:"audioConfidence"`
}

// Store manages the well-known evidence directory: artifact paths, the JSON
// package descriptor, and post-seal anchor-status updates.
type Store struct {
	dir string
}

// NewStore ensures the evidence directory exists and returns a Store for
// it. An unwritable directory is the one unrecoverable configuration error
// of the pipeline, so this is checked eagerly.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("evidence: create directory %q: %w", dir, err)
	}
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, nil, 0o600); err != nil {
		return nil, fmt.Errorf("evidence: directory %q not writable: %w", dir, err)
	}
	os.Remove(probe)
	return &Store{dir: dir}, nil
}

// Dir returns the evidence directory path.
func (s *Store) Dir() string { return s.dir }

// AudioPath returns the durable audio capture path for an incident.
func (s *Store) AudioPath(id string) string {
	return filepath.Join(s.dir, id+audioSuffix)
}

// VideoPath returns the best-effort video capture path for an incident.
func (s *Store) VideoPath(id string) string {
	return filepath.Join(s.dir, id+videoSuffix)
}

// TriggerAudioPath returns the path of the pre-trigger audio snippet — the
// frames that caused the escalation, encoded at assembly time.
func (s *Store) TriggerAudioPath(id string) string {
	return filepath.Join(s.dir, id+triggerSuffix)
}

// WriteDescriptor persists the package descriptor atomically (temp file +
// rename) so a crash or cancellation mid-write leaves either the previous
// descriptor or none — never a truncated one.
func (s *Store) WriteDescriptor(pkg *types.EvidencePackage) error {
	d := descriptor{
		EvidenceID: pkg.ID,
		Timestamp:  pkg.Timestamp,
		Location:   pkg.Location,
		Threat: threatInfo{
			Type:            pkg.Threat,
			RiskScore:       pkg.RiskScore,
			AudioConfidence: pkg.AudioScore,
		},
		Files:     pkg.Media,
		Encrypted: pkg.Encrypted,
		Hash:      pkg.Hash,
		LedgerTx:  pkg.LedgerTxRef,
		Anchor:    pkg.AnchorStatus,
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: marshal descriptor: %w", err)
	}

	final := filepath.Join(s.dir, pkg.ID+descriptorSuffix)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("evidence: write descriptor: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("evidence: finalise descriptor: %w", err)
	}
	return nil
}

// ReadDescriptor loads the stored package for an incident id.
func (s *Store) ReadDescriptor(id string) (*types.EvidencePackage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+descriptorSuffix))
	if err != nil {
		return nil, fmt.Errorf("evidence: read descriptor %s: %w", id, err)
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("evidence: parse descriptor %s: %w", id, err)
	}
	return &types.EvidencePackage{
		ID:           d.EvidenceID,
		Timestamp:    d.Timestamp,
		Media:        d.Files,
		Location:     d.Location,
		Threat:       d.Threat.Type,
		RiskScore:    d.Threat.RiskScore,
		AudioScore:   d.Threat.AudioConfidence,
		Hash:         d.Hash,
		Encrypted:    d.Encrypted,
		AnchorStatus: d.Anchor,
		LedgerTxRef:  d.LedgerTx,
	}, nil
}

// SetAnchorStatus updates the anchoring fields of a stored descriptor.
// These fields are outside the sealed hash, so rewriting them does not
// violate package immutability.
func (s *Store) SetAnchorStatus(id string, state types.AnchorState, txRef string) error {
	pkg, err := s.ReadDescriptor(id)
	if err != nil {
		return err
	}
	pkg.AnchorStatus = state
	if txRef != "" {
		pkg.LedgerTxRef = txRef
	}
	return s.WriteDescriptor(pkg)
}
