package mesh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quietharbor/aegis/internal/observe"
	"github.com/quietharbor/aegis/pkg/types"
)

// DefaultScanRefresh is the roster prune/refresh interval.
const DefaultScanRefresh = 5 * time.Second

// DefaultDedupWindow is how long a received message id suppresses
// duplicates.
const DefaultDedupWindow = 30 * time.Second

// Config parameterises the broadcast service.
type Config struct {
	// SenderPseudoID is this device's rotating pseudonymous identifier,
	// 16 hex characters. Required.
	SenderPseudoID string

	// AvailableAsHelper controls whether the device beacons its presence
	// to peers while monitoring.
	AvailableAsHelper bool

	// ScanRefresh is the roster refresh/prune interval.
	ScanRefresh time.Duration

	// DedupWindow suppresses duplicate message ids.
	DedupWindow time.Duration

	// Roster bounds the nearby-helper set.
	Roster RosterConfig

	// Metrics receives the nearby-helper gauge. Nil selects the
	// process-wide default instruments.
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.ScanRefresh <= 0 {
		c.ScanRefresh = DefaultScanRefresh
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	return c
}

// Service runs peer discovery and SOS broadcast over a Radio.
//
// Start launches the scan and prune loops; Broadcast switches the outgoing
// advertisement to an SOS payload and keeps it on the air until
// StopBroadcast. Incoming SOS messages are deduplicated and delivered to
// the onSOS callback; beacons feed the helper roster.
type Service struct {
	radio   Radio
	roster  *Roster
	cfg     Config
	onSOS   func(types.SOSMessage, float64)
	metrics *observe.Metrics

	mu           sync.Mutex
	seen         map[string]time.Time
	broadcasting bool
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewService creates a Service. onSOS may be nil when the device only
// broadcasts. Returns an error for a missing or unencodable sender id.
func NewService(radio Radio, cfg Config, onSOS func(types.SOSMessage, float64)) (*Service, error) {
	if _, err := idBytes(cfg.SenderPseudoID); err != nil {
		return nil, fmt.Errorf("mesh: invalid sender pseudo id %q", cfg.SenderPseudoID)
	}
	cfg = cfg.withDefaults()
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Service{
		radio:   radio,
		roster:  NewRoster(cfg.Roster),
		cfg:     cfg,
		onSOS:   onSOS,
		metrics: cfg.Metrics,
		seen:    make(map[string]time.Time),
	}, nil
}

// Start launches the scanner and the periodic roster refresh. It returns
// once the radio scan is established; the loops run until Stop or ctx
// cancellation. A stopped service may be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("mesh: service already started")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	adverts, err := s.radio.Scan(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("mesh: start scan: %w", err)
	}

	if s.cfg.AvailableAsHelper {
		payload, err := EncodeBeacon(s.cfg.SenderPseudoID, true)
		if err == nil {
			err = s.radio.Advertise(ctx, payload)
		}
		if err != nil {
			slog.Warn("mesh: presence beacon not started", "err", err)
		}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.started = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, adverts, done)
	return nil
}

// Stop cancels the loops and halts any outgoing advertisement. Safe to call
// more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	if err := s.radio.StopAdvertise(); err != nil {
		slog.Warn("mesh: stop advertise", "err", err)
	}
	<-done
}

// Broadcast encodes the SOS and puts it on the air at maximum
// range-appropriate power. The advertisement repeats until StopBroadcast
// (or Stop). Broadcast never waits for a receiving peer.
func (s *Service) Broadcast(ctx context.Context, msg types.SOSMessage) error {
	payload, err := EncodeSOS(msg)
	if err != nil {
		return err
	}
	if err := s.radio.Advertise(ctx, payload); err != nil {
		return fmt.Errorf("mesh: broadcast: %w", err)
	}
	s.mu.Lock()
	s.broadcasting = true
	s.mu.Unlock()
	slog.Info("mesh: sos broadcast started", "message_id", msg.ID, "urgency", msg.Urgency.String())
	return nil
}

// StopBroadcast takes the SOS off the air, restoring the presence beacon
// if one is configured.
func (s *Service) StopBroadcast(ctx context.Context) error {
	s.mu.Lock()
	wasBroadcasting := s.broadcasting
	s.broadcasting = false
	s.mu.Unlock()
	if !wasBroadcasting {
		return nil
	}
	if err := s.radio.StopAdvertise(); err != nil {
		return fmt.Errorf("mesh: stop broadcast: %w", err)
	}
	if s.cfg.AvailableAsHelper {
		if payload, err := EncodeBeacon(s.cfg.SenderPseudoID, true); err == nil {
			if err := s.radio.Advertise(ctx, payload); err != nil {
				slog.Warn("mesh: presence beacon not restored", "err", err)
			}
		}
	}
	return nil
}

// Helpers returns the current nearby-helper set ordered by priority.
func (s *Service) Helpers() []types.NearbyHelper {
	return s.roster.Helpers()
}

// MarkResponded boosts the ranking of a peer that answered an SOS.
func (s *Service) MarkResponded(id string) {
	s.roster.MarkResponded(id, time.Now())
}

// run consumes advertisements and drives the periodic prune until ctx is
// done or the radio closes the channel.
func (s *Service) run(ctx context.Context, adverts <-chan Advertisement, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.ScanRefresh)
	defer ticker.Stop()

	// Roster size only changes on this goroutine, so tracking the last
	// published value here keeps the gauge consistent without locking.
	lastSize := 0
	publishSize := func() {
		if n := s.roster.Len(); n != lastSize {
			s.metrics.NearbyHelpers.Add(ctx, int64(n-lastSize))
			lastSize = n
		}
	}
	// Drop the roster with the scan session: sightings from a dead scan
	// are meaningless, and the gauge returns to zero.
	defer func() {
		s.roster.Clear()
		if lastSize != 0 {
			s.metrics.NearbyHelpers.Add(context.WithoutCancel(ctx), int64(-lastSize))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.roster.Prune(now)
			s.pruneSeen(now)
			publishSize()
		case adv, ok := <-adverts:
			if !ok {
				slog.Warn("mesh: scanner channel closed")
				return
			}
			s.handle(adv)
			publishSize()
		}
	}
}

// handle dispatches one received advertisement. Malformed payloads are
// dropped without touching the dedup cache; the scanner keeps running.
func (s *Service) handle(adv Advertisement) {
	switch payloadKind(adv.Payload) {
	case kindBeacon:
		b, err := decodeBeacon(adv.Payload)
		if err != nil {
			slog.Debug("mesh: malformed beacon dropped", "len", len(adv.Payload))
			return
		}
		// Ignore our own beacon reflected back by the radio layer.
		if b.senderID == s.cfg.SenderPseudoID {
			return
		}
		s.roster.Observe(b.senderID, adv.RSSI, b.available, adv.Received)

	case kindSOS:
		msg, err := DecodeSOS(adv.Payload, adv.Received)
		if err != nil {
			slog.Debug("mesh: malformed sos dropped", "len", len(adv.Payload))
			return
		}
		if msg.SenderPseudoID == s.cfg.SenderPseudoID {
			return
		}
		if s.isDuplicate(msg.ID, adv.Received) {
			return
		}
		if s.onSOS != nil {
			s.onSOS(msg, adv.RSSI)
		}

	default:
		slog.Debug("mesh: unknown payload dropped", "len", len(adv.Payload))
	}
}

// isDuplicate records the id and reports whether it was already seen
// within the dedup window.
func (s *Service) isDuplicate(id string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seenAt, ok := s.seen[id]; ok && at.Sub(seenAt) <= s.cfg.DedupWindow {
		return true
	}
	s.seen[id] = at
	return false
}

// pruneSeen expires old dedup entries.
func (s *Service) pruneSeen(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, at := range s.seen {
		if now.Sub(at) > s.cfg.DedupWindow {
			delete(s.seen, id)
		}
	}
}

// NewPseudoID returns a fresh 16-hex-char pseudonymous identifier. Rotate
// it between sessions so broadcasts cannot be linked to a stable device
// identity.
func NewPseudoID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}

// NewMessageID returns a fresh 16-hex-char SOS message identifier.
func NewMessageID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:8])
}
