package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/quietharbor/aegis/pkg/types"
)

// ErrJobNotFound is returned when a queue operation names an evidence id
// with no queued job.
var ErrJobNotFound = errors.New("ledger: anchor job not found")

// Queue is the durable store for pending anchor jobs. Jobs survive a
// process restart; at most one job exists per evidence id.
type Queue interface {
	// Enqueue adds a job. Enqueueing an evidence id that is already queued
	// replaces the existing job.
	Enqueue(ctx context.Context, job types.AnchorJob) error

	// Pending returns all queued jobs ordered by QueuedAt, oldest first.
	Pending(ctx context.Context) ([]types.AnchorJob, error)

	// Update persists a job's mutated retry bookkeeping. Returns
	// ErrJobNotFound for an unknown evidence id.
	Update(ctx context.Context, job types.AnchorJob) error

	// Remove deletes a job. Removing an unknown evidence id is not an
	// error.
	Remove(ctx context.Context, evidenceID string) error
}

// FileQueue persists anchor jobs as JSON lines in a local file, one job
// per line. Mutations rewrite the file atomically via a temp file.
// Thread-safe for concurrent use.
type FileQueue struct {
	mu   sync.Mutex
	path string
}

// Compile-time interface check.
var _ Queue = (*FileQueue)(nil)

// NewFileQueue creates a FileQueue at the given path. The file is created
// on first enqueue.
func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path}
}

func (q *FileQueue) Enqueue(ctx context.Context, job types.AnchorJob) error {
	if job.EvidenceID == "" {
		return errors.New("ledger: enqueue: empty evidence id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range jobs {
		if jobs[i].EvidenceID == job.EvidenceID {
			jobs[i] = job
			replaced = true
			break
		}
	}
	if !replaced {
		jobs = append(jobs, job)
	}
	return q.save(jobs)
}

func (q *FileQueue) Pending(ctx context.Context) ([]types.AnchorJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].QueuedAt.Before(jobs[j].QueuedAt)
	})
	return jobs, nil
}

func (q *FileQueue) Update(ctx context.Context, job types.AnchorJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].EvidenceID == job.EvidenceID {
			jobs[i] = job
			return q.save(jobs)
		}
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, job.EvidenceID)
}

func (q *FileQueue) Remove(ctx context.Context, evidenceID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.EvidenceID != evidenceID {
			kept = append(kept, j)
		}
	}
	if len(kept) == len(jobs) {
		return nil
	}
	return q.save(kept)
}

// load reads all jobs from the file. A missing file is an empty queue.
// Corrupt lines are skipped so one bad write cannot wedge the whole
// queue.
func (q *FileQueue) load() ([]types.AnchorJob, error) {
	f, err := os.Open(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: open queue: %w", err)
	}
	defer f.Close()

	var jobs []types.AnchorJob
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var job types.AnchorJob
		if err := json.Unmarshal(line, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ledger: read queue: %w", err)
	}
	return jobs, nil
}

// save rewrites the queue file atomically.
func (q *FileQueue) save(jobs []types.AnchorJob) error {
	tmp := q.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("ledger: write queue: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, job := range jobs {
		data, err := json.Marshal(job)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("ledger: marshal job: %w", err)
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("ledger: write queue: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("ledger: flush queue: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: close queue: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: replace queue: %w", err)
	}
	return nil
}
