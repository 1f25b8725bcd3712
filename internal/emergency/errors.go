package emergency

import "errors"

// Failure taxonomy. Sensor, model, and network failures recover locally
// with degraded fallbacks; only an unusable evidence store is terminal.
var (
	// ErrPermissionDenied marks a sensor the platform refused to
	// authorise. The sensor is disabled and the rest continue.
	ErrPermissionDenied = errors.New("emergency: sensor permission denied")

	// ErrHardwareUnavailable marks a capture device that failed to
	// initialise. The sensor set degrades, monitoring continues.
	ErrHardwareUnavailable = errors.New("emergency: capture hardware unavailable")

	// ErrEscalationInFlight is returned when a trigger arrives while an
	// incident is already being handled. The trigger is coalesced into the
	// in-flight incident, never queued.
	ErrEscalationInFlight = errors.New("emergency: escalation already in flight")

	// ErrAnchorExhausted reports a ledger anchor that burned its whole
	// retry budget. The evidence remains valid locally.
	ErrAnchorExhausted = errors.New("emergency: anchor retry budget exhausted")

	// ErrAlreadyMonitoring is returned by Start on a running orchestrator.
	ErrAlreadyMonitoring = errors.New("emergency: already monitoring")

	// ErrNotMonitoring is returned by operations that need a running
	// orchestrator.
	ErrNotMonitoring = errors.New("emergency: not monitoring")
)
