package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/events"
	"github.com/iconidentify/tokgrab/internal/extractor"
	"github.com/iconidentify/tokgrab/internal/mediacache"
	"github.com/iconidentify/tokgrab/internal/metrics"
	"github.com/iconidentify/tokgrab/internal/repository"
	"github.com/iconidentify/tokgrab/pkg/tiktok"
)

// MaxListLimit caps the number of records returned by ListRecent.
const MaxListLimit = 100

// ReasonInterrupted is recorded on records that were mid-flight when the process stopped.
const ReasonInterrupted = "interrupted by restart"

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9 ]`)

// Fetcher downloads media bytes for a format.
type Fetcher interface {
	Fetch(ctx context.Context, url string, format domain.Format) ([]byte, error)
}

// DownloadService drives download records through their lifecycle and serves their bytes.
type DownloadService struct {
	downloads   repository.DownloadRepository
	jobs        repository.JobRepository
	resolver    extractor.Resolver
	fetcher     Fetcher
	cache       mediacache.Cache
	events      events.Publisher
	metrics     *metrics.Metrics
	recentLimit int
	logger      *slog.Logger

	onEnqueue func()
}

// NewDownloadService creates a new download service. cache and publisher may be nil.
func NewDownloadService(
	downloads repository.DownloadRepository,
	jobs repository.JobRepository,
	resolver extractor.Resolver,
	fetcher Fetcher,
	cache mediacache.Cache,
	publisher events.Publisher,
	m *metrics.Metrics,
	recentLimit int,
	logger *slog.Logger,
) *DownloadService {
	if cache == nil {
		cache = mediacache.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if recentLimit <= 0 {
		recentLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DownloadService{
		downloads:   downloads,
		jobs:        jobs,
		resolver:    resolver,
		fetcher:     fetcher,
		cache:       cache,
		events:      publisher,
		metrics:     m,
		recentLimit: recentLimit,
		logger:      logger,
	}
}

// OnEnqueue registers fn to be called after every queued job, typically a worker pool's Wake.
// It must be set before the service handles requests.
func (s *DownloadService) OnEnqueue(fn func()) {
	s.onEnqueue = fn
}

func (s *DownloadService) enqueue(ctx context.Context, id domain.DownloadID) (domain.JobID, error) {
	jobID := domain.JobID("job_" + uuid.New().String()[:8])
	if err := s.jobs.Enqueue(ctx, domain.NewJob(jobID, id)); err != nil {
		return "", err
	}
	if s.onEnqueue != nil {
		s.onEnqueue()
	}
	return jobID, nil
}

// SubmitRequest represents a download submission.
type SubmitRequest struct {
	URL     string
	Format  string
	Quality string
}

// Submit validates the request, creates a pending record and queues it for processing.
// Nothing is persisted when validation fails.
func (s *DownloadService) Submit(ctx context.Context, req SubmitRequest) (*domain.Download, error) {
	rawURL := strings.TrimSpace(req.URL)
	if !tiktok.Validate(rawURL) {
		return nil, domain.ErrInvalidURL
	}
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	quality, err := domain.ParseQuality(req.Quality)
	if err != nil {
		return nil, err
	}

	d := domain.NewDownload(rawURL, format, quality)
	if err := s.downloads.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create download: %w", err)
	}
	s.metrics.Transition(string(domain.StatusPending))
	s.publish(ctx, domain.DownloadEvent{
		DownloadID: d.ID,
		Status:     d.Status,
		OccurredAt: d.CreatedAt,
	})

	jobID, err := s.enqueue(ctx, d.ID)
	if err != nil {
		if _, failErr := s.transition(ctx, d.ID, func(rec *domain.Download) error {
			return rec.MarkFailed("could not queue download")
		}); failErr != nil {
			s.logger.Error("failed to mark unqueued download failed", "download_id", d.ID, "error", failErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("download submitted",
		"download_id", d.ID,
		"job_id", jobID,
		"url", rawURL,
		"video_id", tiktok.VideoID(rawURL),
		"format", format,
		"quality", quality,
	)

	return d, nil
}

// Process runs extraction for one record and commits the resulting transitions.
// Records that are no longer pending are skipped.
func (s *DownloadService) Process(ctx context.Context, id domain.DownloadID) error {
	d, err := s.downloads.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get download: %w", err)
	}

	logger := s.logger.With("download_id", id)
	if d.Status != domain.StatusPending {
		logger.Info("skipping download that is no longer pending", "status", d.Status)
		return nil
	}

	logger.Info("extracting video information", "url", d.URL)
	res, err := s.resolver.Resolve(ctx, d.URL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Left pending; picked up again by Recover on the next start.
			return ctxErr
		}
		s.fail(ctx, logger, id, err)
		return domain.NewDownloadError(id, "extract", err)
	}

	if _, err := s.transition(ctx, id, func(rec *domain.Download) error {
		return rec.MarkProcessing(res.Metadata())
	}); err != nil {
		s.fail(ctx, logger, id, err)
		return domain.NewDownloadError(id, "merge metadata", err)
	}

	if _, err := s.transition(ctx, id, func(rec *domain.Download) error {
		return rec.MarkCompleted(domain.DeliveryPath(rec.ID, rec.Format))
	}); err != nil {
		s.fail(ctx, logger, id, err)
		return domain.NewDownloadError(id, "complete", err)
	}

	logger.Info("download ready", "title", res.Title, "provider", res.Provider)
	return nil
}

// fail moves the record to failed with cause as its reason. A store that rejects this
// too is only logged; Recover handles whatever state remains on the next start.
func (s *DownloadService) fail(ctx context.Context, logger *slog.Logger, id domain.DownloadID, cause error) {
	if _, err := s.transition(ctx, id, func(rec *domain.Download) error {
		return rec.MarkFailed(cause.Error())
	}); err != nil {
		logger.Error("failed to mark download failed", "error", err)
	}
}

// Recover re-queues pending records without a live job and fails records left in processing by a previous run.
func (s *DownloadService) Recover(ctx context.Context) (requeued, failed int, err error) {
	pending, err := s.downloads.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending: %w", err)
	}
	for _, d := range pending {
		if job, err := s.jobs.GetByDownloadID(ctx, d.ID); err == nil && !job.Finished() {
			continue
		}
		if _, err := s.enqueue(ctx, d.ID); err != nil {
			return requeued, failed, fmt.Errorf("requeue download %d: %w", d.ID, err)
		}
		requeued++
	}

	processing, err := s.downloads.ListByStatus(ctx, domain.StatusProcessing)
	if err != nil {
		return requeued, failed, fmt.Errorf("list processing: %w", err)
	}
	for _, d := range processing {
		if _, err := s.transition(ctx, d.ID, func(rec *domain.Download) error {
			return rec.MarkFailed(ReasonInterrupted)
		}); err != nil {
			return requeued, failed, fmt.Errorf("fail interrupted download %d: %w", d.ID, err)
		}
		failed++
	}

	if requeued > 0 || failed > 0 {
		s.logger.Info("recovered downloads", "requeued", requeued, "failed", failed)
	}
	return requeued, failed, nil
}

// Get returns a record by ID.
func (s *DownloadService) Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error) {
	return s.downloads.Get(ctx, id)
}

// ListRecent returns the newest records. limit <= 0 uses the configured default and
// values above MaxListLimit are capped.
func (s *DownloadService) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	if limit <= 0 {
		limit = s.recentLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.downloads.ListRecent(ctx, limit)
}

// FormatOption is one downloadable variant offered for a video.
type FormatOption struct {
	Type    domain.Format  `json:"type"`
	Quality domain.Quality `json:"quality"`
	Size    string         `json:"size"`
}

// VideoInfo is the preview returned before a download is submitted.
type VideoInfo struct {
	Title     string         `json:"title"`
	Duration  int            `json:"duration"`
	Thumbnail string         `json:"thumbnail"`
	Author    string         `json:"author"`
	Stats     domain.Stats   `json:"stats"`
	Formats   []FormatOption `json:"formats"`
}

// VideoInfo resolves metadata for a URL without creating a record.
func (s *DownloadService) VideoInfo(ctx context.Context, rawURL string) (*VideoInfo, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !tiktok.Validate(rawURL) {
		return nil, domain.ErrInvalidURL
	}

	res, err := s.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	return &VideoInfo{
		Title:     res.Title,
		Duration:  res.Duration,
		Thumbnail: res.Thumbnail,
		Author:    res.Author,
		Stats:     res.Stats,
		Formats: []FormatOption{
			{Type: domain.FormatVideo, Quality: domain.QualityHigh, Size: humanize.IBytes(uint64(res.Sizes.High))},
			{Type: domain.FormatVideo, Quality: domain.QualityStandard, Size: humanize.IBytes(uint64(res.Sizes.Standard))},
			{Type: domain.FormatAudio, Quality: domain.QualityHigh, Size: humanize.IBytes(uint64(res.Sizes.Audio))},
		},
	}, nil
}

// Delivery is a file ready to be written to a client.
type Delivery struct {
	Filename    string
	ContentType string
	Data        []byte
	Placeholder bool
}

// Deliver produces the bytes for a completed record. Upstream failures yield a
// plain-text placeholder instead of an error.
func (s *DownloadService) Deliver(ctx context.Context, id domain.DownloadID, rawFormat string) (*Delivery, error) {
	format, err := domain.ParseFormat(rawFormat)
	if err != nil {
		return nil, err
	}

	d, err := s.downloads.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.StatusCompleted {
		return nil, domain.ErrDownloadNotReady
	}

	logger := s.logger.With("download_id", id, "format", format)
	base := FilenameBase(d.Title)
	key := mediacache.Key(id, format)

	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("media cache read failed", "error", err)
	}
	if ok {
		s.metrics.Delivered(metrics.DeliveryCache)
		return &Delivery{
			Filename:    fmt.Sprintf("%s_%d.%s", base, id, format.Extension()),
			ContentType: format.ContentType(),
			Data:        data,
		}, nil
	}

	data, err = s.fetchMedia(ctx, d, format)
	if err != nil {
		logger.Warn("media unavailable, serving placeholder", "error", err)
		s.metrics.Delivered(metrics.DeliveryPlaceholder)
		return &Delivery{
			Filename:    fmt.Sprintf("%s_%d.txt", base, id),
			ContentType: "text/plain; charset=utf-8",
			Data:        placeholderBody(d, format),
			Placeholder: true,
		}, nil
	}

	if err := s.cache.Put(ctx, key, data, format.ContentType()); err != nil {
		logger.Warn("media cache write failed", "error", err)
	}
	s.metrics.Delivered(metrics.DeliveryMedia)
	logger.Info("media delivered", "size", humanize.IBytes(uint64(len(data))))

	return &Delivery{
		Filename:    fmt.Sprintf("%s_%d.%s", base, id, format.Extension()),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func (s *DownloadService) fetchMedia(ctx context.Context, d *domain.Download, format domain.Format) ([]byte, error) {
	res, err := s.resolver.Resolve(ctx, d.URL)
	if err != nil {
		return nil, err
	}
	mediaURL := res.MediaURL(format, d.Quality)
	if mediaURL == "" {
		return nil, fmt.Errorf("%w: no media url for %s", domain.ErrDownloadFailed, format)
	}
	return s.fetcher.Fetch(ctx, mediaURL, format)
}

// transition commits fn and, when the status changed, records the event.
func (s *DownloadService) transition(ctx context.Context, id domain.DownloadID, fn func(*domain.Download) error) (*domain.Download, error) {
	var previous domain.DownloadStatus
	updated, err := s.downloads.Update(ctx, id, func(rec *domain.Download) error {
		previous = rec.Status
		return fn(rec)
	})
	if err != nil {
		return nil, err
	}
	if updated.Status == previous {
		return updated, nil
	}

	s.metrics.Transition(string(updated.Status))

	evt := domain.DownloadEvent{
		DownloadID: id,
		Status:     updated.Status,
		Previous:   previous,
		OccurredAt: updated.UpdatedAt,
	}
	if updated.Error != nil {
		evt.Error = *updated.Error
	}
	s.publish(ctx, evt)
	return updated, nil
}

// publish is best effort; delivery problems never fail a transition.
func (s *DownloadService) publish(ctx context.Context, evt domain.DownloadEvent) {
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warn("failed to publish download event", "download_id", evt.DownloadID, "status", evt.Status, "error", err)
	}
}

// FilenameBase turns a title into a filename stem.
func FilenameBase(title *string) string {
	if title == nil || strings.TrimSpace(*title) == "" {
		return "tiktok_video"
	}
	return unsafeFilenameChars.ReplaceAllString(*title, "_")
}

func placeholderBody(d *domain.Download, format domain.Format) []byte {
	kind := "Video"
	if format == domain.FormatAudio {
		kind = "Audio"
	}
	title := domain.PlaceholderTitle
	if d.Title != nil && *d.Title != "" {
		title = *d.Title
	}
	return []byte(fmt.Sprintf(
		"# TikTok %s - %s\n# URL: %s\n# The %s file could not be retrieved from the source.\n# Generated: %s\n",
		kind, title, d.URL, format.Extension(), time.Now().UTC().Format(time.RFC3339),
	))
}

// IsClientError reports whether err is caused by the request rather than the service.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidURL) ||
		errors.Is(err, domain.ErrInvalidFormat) ||
		errors.Is(err, domain.ErrInvalidQuality) ||
		errors.Is(err, domain.ErrExtractionFailed)
}
