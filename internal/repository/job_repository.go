package repository

import (
	"context"
	"sync"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// DefaultFinishedJobs is how many completed or failed jobs the in-memory queue retains.
// The download record is the durable outcome; finished jobs are only kept for inspection.
const DefaultFinishedJobs = 1000

// InMemoryJobRepository implements JobRepository using in-memory storage.
type InMemoryJobRepository struct {
	mu         sync.RWMutex
	jobs       map[domain.JobID]*domain.Job
	byDownload map[domain.DownloadID]domain.JobID
	queue      []domain.JobID // FIFO queue of queued job IDs

	finished      []domain.JobID // oldest first
	finishedLimit int
	pruned        QueueStats
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:          make(map[domain.JobID]*domain.Job),
		byDownload:    make(map[domain.DownloadID]domain.JobID),
		queue:         make([]domain.JobID, 0),
		finishedLimit: DefaultFinishedJobs,
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.byDownload[job.DownloadID] = job.ID
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next queued job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) > 0 {
		jobID := r.queue[0]
		r.queue = r.queue[1:]

		job, ok := r.jobs[jobID]
		if ok && job.Status == domain.JobStatusQueued {
			return job, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Update modifies job state. Finished jobs beyond the retention limit are dropped, oldest first.
func (r *InMemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	r.jobs[job.ID] = job

	if job.Finished() && !r.isFinished(job.ID) {
		r.finished = append(r.finished, job.ID)
		r.prune()
	}
	return nil
}

func (r *InMemoryJobRepository) isFinished(id domain.JobID) bool {
	for _, f := range r.finished {
		if f == id {
			return true
		}
	}
	return false
}

// prune must be called with mu held.
func (r *InMemoryJobRepository) prune() {
	for r.finishedLimit > 0 && len(r.finished) > r.finishedLimit {
		id := r.finished[0]
		r.finished = r.finished[1:]

		job, ok := r.jobs[id]
		if !ok {
			continue
		}
		switch job.Status {
		case domain.JobStatusCompleted:
			r.pruned.Completed++
		case domain.JobStatusFailed:
			r.pruned.Failed++
		}
		delete(r.jobs, id)
		if r.byDownload[job.DownloadID] == id {
			delete(r.byDownload, job.DownloadID)
		}
	}
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return job, nil
}

// GetByDownloadID finds the job driving a download record.
func (r *InMemoryJobRepository) GetByDownloadID(ctx context.Context, downloadID domain.DownloadID) (*domain.Job, error) {
	r.mu.RLock()
	jobID, ok := r.byDownload[downloadID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.ErrJobNotFound
	}

	return r.Get(ctx, jobID)
}

// Stats returns queue statistics. Completed and failed counts include pruned jobs.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.pruned
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		case domain.JobStatusCompleted:
			stats.Completed++
		case domain.JobStatusFailed:
			stats.Failed++
		}
	}

	return &stats, nil
}
