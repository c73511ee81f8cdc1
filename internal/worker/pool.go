package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/metrics"
	"github.com/iconidentify/tokgrab/internal/repository"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// Processor advances one download record through extraction.
type Processor interface {
	Process(ctx context.Context, id domain.DownloadID) error
}

// Pool manages a pool of workers that drain the download job queue.
type Pool struct {
	workers      int
	pollInterval time.Duration
	jobRepo      repository.JobRepository
	processor    Processor
	metrics      *metrics.Metrics
	logger       *slog.Logger

	wake   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
	Metrics      *metrics.Metrics
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	jobRepo repository.JobRepository,
	processor Processor,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobRepo:      jobRepo,
		processor:    processor,
		metrics:      cfg.Metrics,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Wake nudges an idle worker to poll the queue now instead of on its next tick.
// It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop cancels in-flight work and waits for workers to exit.
// Records interrupted mid-extraction stay pending.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Info("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			p.drain(logger)
		case <-p.wake:
			p.drain(logger)
		}
	}
}

func (p *Pool) drain(logger *slog.Logger) {
	for p.ctx.Err() == nil && p.processNextJob(logger) {
	}
}

// processNextJob handles one job and reports whether the queue may hold more.
func (p *Pool) processNextJob(logger *slog.Logger) bool {
	job, err := p.jobRepo.Dequeue(p.ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID, "download_id", job.DownloadID)
	logger.Info("processing job")

	job.MarkProcessing()
	if err := p.jobRepo.Update(p.ctx, job); err != nil {
		logger.Error("failed to update job status", "error", err)
		return false
	}
	p.metrics.QueueWait(job.QueueWait())

	if err := p.processor.Process(p.ctx, job.DownloadID); err != nil {
		p.handleJobFailure(logger, job, err)
		return true
	}

	job.MarkCompleted()
	if err := p.jobRepo.Update(p.ctx, job); err != nil {
		logger.Error("failed to mark job completed", "error", err)
	}

	logger.Info("job completed successfully")
	return true
}

func (p *Pool) handleJobFailure(logger *slog.Logger, job *domain.Job, err error) {
	job.MarkFailed(err.Error())

	if errors.Is(err, context.Canceled) {
		logger.Warn("job interrupted by shutdown", "error", err)
	} else {
		logger.Error("job failed", "error", err, "attempts", job.Attempts)
	}

	// The pool context may already be canceled here.
	if updateErr := p.jobRepo.Update(context.WithoutCancel(p.ctx), job); updateErr != nil {
		logger.Error("failed to update job after failure", "error", updateErr)
	}
}
