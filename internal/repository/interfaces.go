package repository

import (
	"context"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// Mutator edits a download record in place. Returning an error aborts the update
// and leaves the stored record untouched.
type Mutator func(d *domain.Download) error

// DownloadRepository persists download records. Implementations return copies, so
// callers never share memory with the store.
type DownloadRepository interface {
	// Create assigns the next ID and persists the record.
	Create(ctx context.Context, d *domain.Download) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error)

	// Update applies fn to the current record and persists the result atomically.
	// Updates to the same record are serialized.
	Update(ctx context.Context, id domain.DownloadID, fn Mutator) (*domain.Download, error)

	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*domain.Download, error)

	// ListByStatus returns all records in status, oldest first.
	ListByStatus(ctx context.Context, status domain.DownloadStatus) ([]*domain.Download, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// JobRepository manages the job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next queued job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.Job) error

	// GetByDownloadID finds the job driving a download record.
	GetByDownloadID(ctx context.Context, downloadID domain.DownloadID) (*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

var (
	_ DownloadRepository = (*InMemoryDownloadRepository)(nil)
	_ DownloadRepository = (*SQLiteDownloadRepository)(nil)
	_ DownloadRepository = (*PostgresDownloadRepository)(nil)
	_ JobRepository      = (*InMemoryJobRepository)(nil)
)
