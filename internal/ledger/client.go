// Package ledger anchors evidence hashes to an external distributed ledger
// and owns the durable retry queue that carries submissions across offline
// periods and process restarts.
//
// Anchoring is strictly asynchronous with respect to the emergency
// pipeline: a failed or slow anchor never delays recording or broadcast.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/quietharbor/aegis/pkg/types"
)

// anchorFunction is the remote function invoked by every anchor
// transaction. Its argument order is part of the external contract.
const anchorFunction = "recordEvidence"

const (
	defaultSubmitTimeout = 10 * time.Second
	defaultPollInterval  = 2 * time.Second
	defaultPollBudget    = 30 * time.Second
)

// ErrNotAnchored is returned by Verify when the ledger holds no confirmed
// transaction for the queried hash.
var ErrNotAnchored = errors.New("ledger: hash not anchored")

// Anchorer is the submission surface the retry sweeper drives. Client is
// the production implementation.
type Anchorer interface {
	// Anchor submits the job's hash and minimal metadata as a transaction
	// and waits, up to a bounded budget, for inclusion.
	Anchor(ctx context.Context, job types.AnchorJob) (types.LedgerReceipt, error)

	// Verify queries the ledger for an existing confirmed anchor of hash.
	// Returns ErrNotAnchored when none exists.
	Verify(ctx context.Context, hash string) (types.LedgerReceipt, error)
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithPollInterval sets how often inclusion is polled after submission.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPollBudget bounds the total wait for transaction inclusion.
func WithPollBudget(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollBudget = d
		}
	}
}

// Client talks to the ledger gateway's HTTP API.
type Client struct {
	baseURL      string
	http         *http.Client
	pollInterval time.Duration
	pollBudget   time.Duration
}

// Compile-time interface check.
var _ Anchorer = (*Client)(nil)

// NewClient creates a Client for the gateway at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("ledger: baseURL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("ledger: parse baseURL: %w", err)
	}
	c := &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: defaultSubmitTimeout},
		pollInterval: defaultPollInterval,
		pollBudget:   defaultPollBudget,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// transaction is the submission wire format. Args order:
// (evidenceHash, timestamp, latitude, longitude, threatTypeName).
// Only the hash and this minimal metadata ever leave the device; raw media
// and personal identifiers never do.
type transaction struct {
	Function string `json:"function"`
	Args     []any  `json:"args"`
}

type submitResponse struct {
	TxRef string `json:"txRef"`
}

type txStatus struct {
	TxRef       string `json:"txRef"`
	BlockHeight uint64 `json:"blockHeight"`
	Confirmed   bool   `json:"confirmed"`
	Success     bool   `json:"success"`
}

type headResponse struct {
	Height uint64 `json:"height"`
}

// Anchor submits the transaction and polls for inclusion up to the poll
// budget. Callers treat any returned error as transient and enqueue the
// job for retry.
func (c *Client) Anchor(ctx context.Context, job types.AnchorJob) (types.LedgerReceipt, error) {
	var lat, lon float64
	if job.Location != nil {
		lat = job.Location.Latitude
		lon = job.Location.Longitude
	}
	tx := transaction{
		Function: anchorFunction,
		Args:     []any{job.Hash, job.Timestamp.UTC().Format(time.RFC3339), lat, lon, string(job.Threat)},
	}

	body, err := json.Marshal(tx)
	if err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: marshal transaction: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: submit: unexpected status %d", resp.StatusCode)
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: decode submit response: %w", err)
	}
	if sub.TxRef == "" {
		return types.LedgerReceipt{}, errors.New("ledger: submit response missing txRef")
	}

	return c.awaitInclusion(ctx, sub.TxRef)
}

// awaitInclusion polls the transaction status until confirmation or the
// poll budget expires.
func (c *Client) awaitInclusion(ctx context.Context, txRef string) (types.LedgerReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollBudget)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.txStatus(ctx, txRef)
		if err == nil && status.Confirmed {
			if !status.Success {
				return types.LedgerReceipt{}, fmt.Errorf("ledger: transaction %s rejected by chain", txRef)
			}
			return types.LedgerReceipt{
				TxRef:       status.TxRef,
				BlockHeight: status.BlockHeight,
				Confirmed:   true,
			}, nil
		}

		select {
		case <-ctx.Done():
			return types.LedgerReceipt{}, fmt.Errorf("ledger: transaction %s not included within poll budget: %w", txRef, ctx.Err())
		case <-ticker.C:
		}
	}
}

// txStatus fetches one transaction's inclusion status.
func (c *Client) txStatus(ctx context.Context, txRef string) (txStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/transactions/"+url.PathEscape(txRef), nil)
	if err != nil {
		return txStatus{}, fmt.Errorf("ledger: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return txStatus{}, fmt.Errorf("ledger: tx status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return txStatus{}, fmt.Errorf("ledger: tx status: unexpected status %d", resp.StatusCode)
	}

	var status txStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return txStatus{}, fmt.Errorf("ledger: decode tx status: %w", err)
	}
	return status, nil
}

// Verify queries the ledger for a confirmed anchor of hash.
func (c *Client) Verify(ctx context.Context, hash string) (types.LedgerReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/anchors/"+url.PathEscape(hash), nil)
	if err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: verify: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return types.LedgerReceipt{}, ErrNotAnchored
	default:
		return types.LedgerReceipt{}, fmt.Errorf("ledger: verify: unexpected status %d", resp.StatusCode)
	}

	var receipt types.LedgerReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return types.LedgerReceipt{}, fmt.Errorf("ledger: decode verify response: %w", err)
	}
	if !receipt.Confirmed {
		return types.LedgerReceipt{}, ErrNotAnchored
	}
	return receipt, nil
}

// Head returns the current chain height. It doubles as the connectivity
// probe for the retry sweeper.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/head", nil)
	if err != nil {
		return 0, fmt.Errorf("ledger: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger: head: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ledger: head: unexpected status %d", resp.StatusCode)
	}

	var head headResponse
	if err := json.NewDecoder(resp.Body).Decode(&head); err != nil {
		return 0, fmt.Errorf("ledger: decode head response: %w", err)
	}
	return head.Height, nil
}
