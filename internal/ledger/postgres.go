package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietharbor/aegis/pkg/types"
)

// Schema is the SQL DDL for the anchor_queue table. Execute it via
// [PostgresQueue.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS anchor_queue (
    evidence_id  TEXT PRIMARY KEY,
    hash         TEXT NOT NULL,
    threat_type  TEXT NOT NULL DEFAULT '',
    location     JSONB,
    occurred_at  TIMESTAMPTZ NOT NULL,
    retry_count  INTEGER NOT NULL DEFAULT 0,
    last_error   TEXT NOT NULL DEFAULT '',
    queued_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_anchor_queue_queued ON anchor_queue(queued_at);
`

// DB is the database interface used by [PostgresQueue]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresQueue is a [Queue] backed by a PostgreSQL database, for
// deployments where the companion service owns the retry queue rather
// than the device's local filesystem.
type PostgresQueue struct {
	db DB
}

// Compile-time interface check.
var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates a new [PostgresQueue] that uses the given
// database connection or pool. The caller is responsible for calling
// [PostgresQueue.Migrate] to ensure the schema exists before issuing
// queries.
func NewPostgresQueue(db DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// anchor_queue table and index if they do not already exist.
func (q *PostgresQueue) Migrate(ctx context.Context) error {
	_, err := q.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job types.AnchorJob) error {
	if job.EvidenceID == "" {
		return errors.New("ledger: enqueue: empty evidence id")
	}
	locJSON, err := marshalLocation(job.Location)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO anchor_queue (
			evidence_id, hash, threat_type, location, occurred_at,
			retry_count, last_error, queued_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (evidence_id) DO UPDATE SET
			hash = EXCLUDED.hash,
			threat_type = EXCLUDED.threat_type,
			location = EXCLUDED.location,
			occurred_at = EXCLUDED.occurred_at,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			queued_at = EXCLUDED.queued_at`

	_, err = q.db.Exec(ctx, query,
		job.EvidenceID, job.Hash, string(job.Threat), locJSON, job.Timestamp,
		job.RetryCount, job.LastError, job.QueuedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: enqueue: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Pending(ctx context.Context) ([]types.AnchorJob, error) {
	const query = `
		SELECT evidence_id, hash, threat_type, location, occurred_at,
		       retry_count, last_error, queued_at
		FROM anchor_queue
		ORDER BY queued_at`

	rows, err := q.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger: pending: %w", err)
	}
	defer rows.Close()

	var jobs []types.AnchorJob
	for rows.Next() {
		var (
			job     types.AnchorJob
			threat  string
			locJSON []byte
		)
		if err := rows.Scan(
			&job.EvidenceID, &job.Hash, &threat, &locJSON, &job.Timestamp,
			&job.RetryCount, &job.LastError, &job.QueuedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: pending scan: %w", err)
		}
		job.Threat = types.ThreatType(threat)
		if len(locJSON) > 0 {
			var loc types.Location
			if err := json.Unmarshal(locJSON, &loc); err != nil {
				return nil, fmt.Errorf("ledger: unmarshal location: %w", err)
			}
			job.Location = &loc
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: pending: %w", err)
	}
	return jobs, nil
}

func (q *PostgresQueue) Update(ctx context.Context, job types.AnchorJob) error {
	const query = `
		UPDATE anchor_queue SET
			retry_count = $2, last_error = $3
		WHERE evidence_id = $1
		RETURNING evidence_id`

	var id string
	err := q.db.QueryRow(ctx, query, job.EvidenceID, job.RetryCount, job.LastError).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, job.EvidenceID)
		}
		return fmt.Errorf("ledger: update: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Remove(ctx context.Context, evidenceID string) error {
	const query = `DELETE FROM anchor_queue WHERE evidence_id = $1`
	_, err := q.db.Exec(ctx, query, evidenceID)
	if err != nil {
		return fmt.Errorf("ledger: remove %q: %w", evidenceID, err)
	}
	return nil
}

// marshalLocation serialises a location for the JSONB column; a nil
// location becomes SQL NULL.
func marshalLocation(loc *types.Location) ([]byte, error) {
	if loc == nil {
		return nil, nil
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, fmt.Errorf("ledger: marshal location: %w", err)
	}
	return data, nil
}
