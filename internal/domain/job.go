package domain

import (
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job drives one download record through its lifecycle on a worker.
type Job struct {
	ID         JobID
	DownloadID DownloadID
	Status     JobStatus
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// NewJob creates a queued job for a download.
func NewJob(id JobID, downloadID DownloadID) *Job {
	now := time.Now()
	return &Job{
		ID:         id,
		DownloadID: downloadID,
		Status:     JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkProcessing updates the job status to processing.
func (j *Job) MarkProcessing() {
	now := time.Now()
	j.Attempts++
	j.Status = JobStatusProcessing
	j.StartedAt = now
	j.UpdatedAt = now
}

// QueueWait is how long the job sat in the queue before a worker picked it up.
// Zero until the job has started.
func (j *Job) QueueWait() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	return j.StartedAt.Sub(j.CreatedAt)
}

// Finished reports whether the job reached completed or failed.
func (j *Job) Finished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// MarkCompleted updates the job status to completed.
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.UpdatedAt = time.Now()
}

// MarkFailed updates the job status to failed with an error message.
// Jobs are not retried: the download record already carries the terminal state.
func (j *Job) MarkFailed(err string) {
	j.LastError = err
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
}
