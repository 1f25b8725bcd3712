package emergency

import "sync"

// State is the observable pipeline snapshot exposed to the UI layer. It
// carries no media or location data, only lifecycle flags.
type State struct {
	IsMonitoring bool
	IsEmergency  bool

	// TriggerCount is the debouncer's current partial count, for the
	// arming indicator.
	TriggerCount int

	// EvidenceID names the in-flight or most recent evidence package.
	EvidenceID string

	// LastError is the most recent recoverable failure, empty when
	// healthy.
	LastError string

	// Seq increases with every published change, so a sink can discard
	// out-of-order deliveries.
	Seq uint64
}

// StateSink receives every state change. Implementations must not block;
// the orchestrator calls it inline.
type StateSink func(State)

// stateStore holds the current state and fans updates out to the sink.
type stateStore struct {
	mu    sync.Mutex
	state State
	sink  StateSink
}

func newStateStore(sink StateSink) *stateStore {
	return &stateStore{sink: sink}
}

// update applies fn to the state under the lock and publishes the result.
func (s *stateStore) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.state.Seq++
	snapshot := s.state
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink(snapshot)
	}
}

// snapshot returns a copy of the current state.
func (s *stateStore) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
