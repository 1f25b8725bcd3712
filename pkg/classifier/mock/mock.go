// Package mock provides a scripted test double for the classifier.Detector
// interface. Results are returned in order; when the script is exhausted the
// last result repeats.
package mock

import (
	"sync"

	"github.com/quietharbor/aegis/pkg/classifier"
	"github.com/quietharbor/aegis/pkg/types"
)

// Detector is a mock classifier.Detector.
type Detector struct {
	mu sync.Mutex

	// Results are returned by successive Detect calls.
	Results []types.DetectionResult

	// Err, if non-nil, is returned by every Detect call.
	Err error

	// Calls counts Detect invocations.
	Calls int

	next int
}

// Compile-time interface check.
var _ classifier.Detector = (*Detector)(nil)

// Detect returns the next scripted result.
func (d *Detector) Detect(frame types.AudioFrame) (types.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Err != nil {
		return types.DetectionResult{}, d.Err
	}
	if len(d.Results) == 0 {
		return types.DetectionResult{}, nil
	}
	res := d.Results[min(d.next, len(d.Results)-1)]
	d.next++
	return res, nil
}
