// Package mesh implements serverless peer discovery and SOS broadcast over
// short-range radio.
//
// The package owns the protocol: a compact binary advertisement payload, a
// path-loss distance model, a bounded nearby-helper roster with staleness
// eviction, and the scan/advertise loops. The radio hardware itself stays
// behind the Radio interface — BLE, NAN, or the websocket LAN bridge in the
// lan subpackage all satisfy the same contract.
//
// Delivery is best-effort by design: there are no acknowledgements, and the
// absence of any receiving peer never blocks the emergency pipeline.
package mesh

import (
	"context"
	"time"
)

// ServiceID is the fixed identifier carried by every Aegis advertisement.
// Scanners filter on it; payloads with other service ids never reach this
// package.
const ServiceID = 0xA395

// Advertisement is one received over-the-air payload, as surfaced by a
// Radio implementation.
type Advertisement struct {
	// RSSI is the received signal strength in dBm (more negative = weaker).
	RSSI float64

	// Payload is the raw advertisement body, at most PayloadBudget bytes.
	Payload []byte

	// Received is when the scanner observed the advertisement.
	Received time.Time
}

// Radio abstracts the short-range radio device. Implementations must be
// safe for concurrent use.
//
// Advertising and scanning are independent: a device advertises its own
// payload while simultaneously receiving peers' advertisements.
type Radio interface {
	// Advertise begins broadcasting the payload at range-appropriate
	// maximum power and keeps repeating it until StopAdvertise or ctx
	// cancellation. Calling Advertise again replaces the payload.
	Advertise(ctx context.Context, payload []byte) error

	// StopAdvertise halts the outgoing broadcast. Safe to call when not
	// advertising.
	StopAdvertise() error

	// Scan returns a channel of received advertisements matching
	// ServiceID. The channel is closed when ctx is done or the radio
	// fails permanently.
	Scan(ctx context.Context) (<-chan Advertisement, error)
}
