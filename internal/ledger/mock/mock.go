// Package mock provides a test double for the ledger.Anchorer interface.
package mock

import (
	"context"
	"sync"

	"github.com/quietharbor/aegis/internal/ledger"
	"github.com/quietharbor/aegis/pkg/types"
)

// Anchorer is a scripted ledger.Anchorer.
type Anchorer struct {
	mu sync.Mutex

	// AnchorErr, if non-nil, fails every Anchor call.
	AnchorErr error

	// Receipt is returned by successful Anchor calls.
	Receipt types.LedgerReceipt

	// Anchored maps hashes to receipts returned by Verify. Hashes absent
	// from the map report ledger.ErrNotAnchored.
	Anchored map[string]types.LedgerReceipt

	anchorCalls int
	verifyCalls int
}

// Compile-time interface check.
var _ ledger.Anchorer = (*Anchorer)(nil)

func (a *Anchorer) Anchor(ctx context.Context, job types.AnchorJob) (types.LedgerReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.anchorCalls++
	if a.AnchorErr != nil {
		return types.LedgerReceipt{}, a.AnchorErr
	}
	return a.Receipt, nil
}

func (a *Anchorer) Verify(ctx context.Context, hash string) (types.LedgerReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verifyCalls++
	if receipt, ok := a.Anchored[hash]; ok {
		return receipt, nil
	}
	return types.LedgerReceipt{}, ledger.ErrNotAnchored
}

// AnchorCalls returns how many times Anchor was invoked.
func (a *Anchorer) AnchorCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anchorCalls
}

// VerifyCalls returns how many times Verify was invoked.
func (a *Anchorer) VerifyCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verifyCalls
}
