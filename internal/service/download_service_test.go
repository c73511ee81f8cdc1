package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/mediacache"
	"github.com/iconidentify/tokgrab/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Fakes
// ============================================================================

type fakeResolver struct {
	result *domain.ExtractionResult
	err    error
	calls  atomic.Int32
}

func (r *fakeResolver) Resolve(ctx context.Context, rawURL string) (*domain.ExtractionResult, error) {
	r.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.err != nil {
		return nil, r.err
	}
	res := *r.result
	return &res, nil
}

type fakeFetcher struct {
	data   []byte
	err    error
	gotURL string
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, format domain.Format) ([]byte, error) {
	f.calls++
	f.gotURL = url
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type memoryCache struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{objects: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[key]
	return data, ok, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[key] = data
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.DownloadEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt domain.DownloadEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses() []domain.DownloadStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.DownloadStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

type failingJobRepository struct {
	*repository.InMemoryJobRepository
}

func (failingJobRepository) Enqueue(context.Context, *domain.Job) error {
	return errors.New("queue unavailable")
}

// flakyDownloadRepository rejects the next failUpdates calls to Update.
type flakyDownloadRepository struct {
	*repository.InMemoryDownloadRepository
	failUpdates atomic.Int32
}

func (r *flakyDownloadRepository) Update(ctx context.Context, id domain.DownloadID, fn repository.Mutator) (*domain.Download, error) {
	if r.failUpdates.Add(-1) >= 0 {
		return nil, errors.New("store write failed")
	}
	return r.InMemoryDownloadRepository.Update(ctx, id, fn)
}

// ============================================================================
// Setup
// ============================================================================

const testURL = "https://www.tiktok.com/@creator/video/7234567890123456789"

func sampleResult() *domain.ExtractionResult {
	return &domain.ExtractionResult{
		Provider:         "tikwm",
		Title:            "Cooking: pasta!",
		Duration:         42,
		Thumbnail:        "https://img.example/thumb.jpg",
		Author:           "chef",
		VideoURLHigh:     "https://cdn.example/hd.mp4",
		VideoURLStandard: "https://cdn.example/sd.mp4",
		AudioURL:         "https://cdn.example/a.mp3",
		Sizes:            domain.EstimateSizes(0),
		Stats:            domain.PlaceholderStats,
	}
}

type harness struct {
	svc       *DownloadService
	downloads *repository.InMemoryDownloadRepository
	jobs      *repository.InMemoryJobRepository
	resolver  *fakeResolver
	fetcher   *fakeFetcher
	cache     *memoryCache
	events    *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		downloads: repository.NewInMemoryDownloadRepository(),
		jobs:      repository.NewInMemoryJobRepository(),
		resolver:  &fakeResolver{result: sampleResult()},
		fetcher:   &fakeFetcher{data: []byte("video-bytes")},
		cache:     newMemoryCache(),
		events:    &recordingPublisher{},
	}
	h.svc = NewDownloadService(h.downloads, h.jobs, h.resolver, h.fetcher, h.cache, h.events, nil, 10, testLogger())
	return h
}

func (h *harness) completed(t *testing.T, format string) *domain.Download {
	t.Helper()
	ctx := context.Background()
	d, err := h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: format, Quality: "high"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := h.svc.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	return d
}

// ============================================================================
// Submit
// ============================================================================

func TestNewDownloadService_Defaults(t *testing.T) {
	svc := NewDownloadService(nil, nil, nil, nil, nil, nil, nil, 0, nil)
	if svc.recentLimit != 10 {
		t.Errorf("recentLimit = %d, want 10", svc.recentLimit)
	}
	if _, ok := svc.cache.(mediacache.Nop); !ok {
		t.Errorf("cache = %T, want mediacache.Nop", svc.cache)
	}
	if svc.logger == nil {
		t.Error("logger should default")
	}
}

func TestDownloadService_Submit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.svc.Submit(ctx, SubmitRequest{URL: "  " + testURL + " ", Format: "video", Quality: "high"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if d.ID <= 0 {
		t.Errorf("ID = %d, want positive", d.ID)
	}
	if d.URL != testURL {
		t.Errorf("URL = %q, want trimmed %q", d.URL, testURL)
	}
	if d.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", d.Status)
	}

	job, err := h.jobs.GetByDownloadID(ctx, d.ID)
	if err != nil {
		t.Fatalf("job not enqueued: %v", err)
	}
	if !strings.HasPrefix(string(job.ID), "job_") {
		t.Errorf("job ID = %q, want job_ prefix", job.ID)
	}
}

func TestDownloadService_Submit_Aliases(t *testing.T) {
	h := newHarness(t)

	d, err := h.svc.Submit(context.Background(), SubmitRequest{URL: testURL, Format: "mp3", Quality: "sd"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if d.Format != domain.FormatAudio || d.Quality != domain.QualityStandard {
		t.Errorf("format/quality = %s/%s, want audio/standard", d.Format, d.Quality)
	}
}

func TestDownloadService_Submit_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{"not tiktok", SubmitRequest{URL: "https://youtube.com/watch?v=1", Format: "video", Quality: "high"}, domain.ErrInvalidURL},
		{"empty url", SubmitRequest{URL: "   ", Format: "video", Quality: "high"}, domain.ErrInvalidURL},
		{"bad format", SubmitRequest{URL: testURL, Format: "gif", Quality: "high"}, domain.ErrInvalidFormat},
		{"bad quality", SubmitRequest{URL: testURL, Format: "video", Quality: "4k"}, domain.ErrInvalidQuality},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			_, err := h.svc.Submit(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if !IsClientError(err) {
				t.Errorf("IsClientError(%v) = false", err)
			}

			all, _ := h.downloads.ListRecent(ctx, 10)
			if len(all) != 0 {
				t.Errorf("rejected submission persisted %d records", len(all))
			}
		})
	}
}

func TestDownloadService_Submit_EnqueueFailure(t *testing.T) {
	downloads := repository.NewInMemoryDownloadRepository()
	jobs := failingJobRepository{repository.NewInMemoryJobRepository()}
	svc := NewDownloadService(downloads, jobs, &fakeResolver{result: sampleResult()}, &fakeFetcher{}, nil, nil, nil, 10, testLogger())
	ctx := context.Background()

	if _, err := svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"}); err == nil {
		t.Fatal("expected error when queue is unavailable")
	}

	all, _ := downloads.ListRecent(ctx, 10)
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1", len(all))
	}
	if all[0].Status != domain.StatusFailed || all[0].Error == nil {
		t.Errorf("unqueued record should be failed, got %+v", all[0])
	}
}

// ============================================================================
// Process
// ============================================================================

func TestDownloadService_Process_Completes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.completed(t, "video")

	got, err := h.svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("Status = %q, want completed", got.Status)
	}
	if got.Title == nil || *got.Title != "Cooking: pasta!" {
		t.Errorf("Title = %v", got.Title)
	}
	if got.Duration == nil || *got.Duration != 42 {
		t.Errorf("Duration = %v", got.Duration)
	}
	if got.Thumbnail == nil || *got.Thumbnail != "https://img.example/thumb.jpg" {
		t.Errorf("Thumbnail = %v", got.Thumbnail)
	}
	want := fmt.Sprintf("/download/%d/video", d.ID)
	if got.DownloadURL == nil || *got.DownloadURL != want {
		t.Errorf("DownloadURL = %v, want %q", got.DownloadURL, want)
	}
	if got.Error != nil {
		t.Errorf("Error = %q, want nil", *got.Error)
	}

	statuses := h.events.statuses()
	wantStatuses := []domain.DownloadStatus{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("events = %v, want %v", statuses, wantStatuses)
	}
	for i := range wantStatuses {
		if statuses[i] != wantStatuses[i] {
			t.Errorf("event[%d] = %q, want %q", i, statuses[i], wantStatuses[i])
		}
	}
}

func TestDownloadService_Process_ExtractionFailure(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = fmt.Errorf("%w: tikwm: status 500; ssstik: no link", domain.ErrExtractionFailed)
	ctx := context.Background()

	d, _ := h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"})

	err := h.svc.Process(ctx, d.ID)
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("error = %v, want ErrExtractionFailed", err)
	}
	var dErr *domain.DownloadError
	if !errors.As(err, &dErr) || dErr.ID != d.ID {
		t.Errorf("error should be a DownloadError for %d, got %v", d.ID, err)
	}

	got, _ := h.svc.Get(ctx, d.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "tikwm: status 500") {
		t.Errorf("Error = %v", got.Error)
	}
	if got.DownloadURL != nil {
		t.Errorf("failed record must not have a download URL")
	}
}

func TestDownloadService_Process_MergeFailureMarksFailed(t *testing.T) {
	downloads := &flakyDownloadRepository{InMemoryDownloadRepository: repository.NewInMemoryDownloadRepository()}
	svc := NewDownloadService(downloads, repository.NewInMemoryJobRepository(), &fakeResolver{result: sampleResult()}, &fakeFetcher{}, nil, nil, nil, 10, testLogger())
	ctx := context.Background()

	d, err := svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	downloads.failUpdates.Store(1)
	err = svc.Process(ctx, d.ID)
	var dlErr *domain.DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("Process error = %v, want DownloadError", err)
	}

	got, err := svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("Status = %q, want failed", got.Status)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "store write failed") {
		t.Errorf("Error = %v, want store failure reason", got.Error)
	}
}

func TestDownloadService_Process_SkipsNonPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.completed(t, "video")
	calls := h.resolver.calls.Load()

	if err := h.svc.Process(ctx, d.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if h.resolver.calls.Load() != calls {
		t.Error("completed record should not be extracted again")
	}
}

func TestDownloadService_Process_CanceledLeavesPending(t *testing.T) {
	h := newHarness(t)
	d, _ := h.svc.Submit(context.Background(), SubmitRequest{URL: testURL, Format: "video", Quality: "high"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.svc.Process(ctx, d.ID); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	got, _ := h.svc.Get(context.Background(), d.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestDownloadService_Process_NotFound(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.Process(context.Background(), 99); !errors.Is(err, domain.ErrDownloadNotFound) {
		t.Errorf("error = %v, want ErrDownloadNotFound", err)
	}
}

func TestDownloadService_Process_PublishErrorIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.events.err = errors.New("nats down")

	d := h.completed(t, "audio")

	got, _ := h.svc.Get(context.Background(), d.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
}

// ============================================================================
// Recover
// ============================================================================

func TestDownloadService_Recover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := domain.NewDownload(testURL, domain.FormatVideo, domain.QualityHigh)
	h.downloads.Create(ctx, pending)

	stuck := domain.NewDownload(testURL, domain.FormatVideo, domain.QualityHigh)
	h.downloads.Create(ctx, stuck)
	h.downloads.Update(ctx, stuck.ID, func(rec *domain.Download) error {
		return rec.MarkProcessing(domain.Metadata{Title: "half done"})
	})

	done := domain.NewDownload(testURL, domain.FormatVideo, domain.QualityHigh)
	h.downloads.Create(ctx, done)
	h.downloads.Update(ctx, done.ID, func(rec *domain.Download) error {
		return rec.MarkFailed("earlier")
	})

	requeued, failed, err := h.svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Errorf("requeued, failed = %d, %d; want 1, 1", requeued, failed)
	}

	if _, err := h.jobs.GetByDownloadID(ctx, pending.ID); err != nil {
		t.Errorf("pending record not requeued: %v", err)
	}

	got, _ := h.svc.Get(ctx, stuck.ID)
	if got.Status != domain.StatusFailed || got.Error == nil || *got.Error != ReasonInterrupted {
		t.Errorf("stuck record = %+v", got)
	}
	if got.Title == nil || *got.Title != "half done" {
		t.Errorf("metadata should survive failure, got %v", got.Title)
	}
}

func TestDownloadService_Recover_SkipsLiveJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	queued, err := h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	orphan := domain.NewDownload(testURL, domain.FormatAudio, domain.QualityStandard)
	h.downloads.Create(ctx, orphan)

	requeued, _, err := h.svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if requeued != 1 {
		t.Errorf("requeued = %d, want 1", requeued)
	}

	// A second pass finds both records covered by queued jobs.
	requeued, _, err = h.svc.Recover(ctx)
	if err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}
	if requeued != 0 {
		t.Errorf("second requeued = %d, want 0", requeued)
	}

	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Queued != 2 {
		t.Errorf("queued jobs = %d, want 2 (one per record)", stats.Queued)
	}
	if _, err := h.jobs.GetByDownloadID(ctx, queued.ID); err != nil {
		t.Errorf("submitted record lost its job: %v", err)
	}
}

func TestDownloadService_OnEnqueue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wakes int
	h.svc.OnEnqueue(func() { wakes++ })

	if _, err := h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if wakes != 1 {
		t.Errorf("wakes after Submit = %d, want 1", wakes)
	}

	h.downloads.Create(ctx, domain.NewDownload(testURL, domain.FormatAudio, domain.QualityStandard))
	if _, _, err := h.svc.Recover(ctx); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	// Only the record without a queued job is requeued.
	if wakes != 2 {
		t.Errorf("wakes after Recover = %d, want 2", wakes)
	}

	if _, err := h.svc.Submit(ctx, SubmitRequest{URL: "not-a-url", Format: "video", Quality: "high"}); err == nil {
		t.Fatal("Submit should reject an invalid URL")
	}
	if wakes != 2 {
		t.Errorf("rejected submission should not wake workers, wakes = %d", wakes)
	}
}

// ============================================================================
// Queries
// ============================================================================

func TestDownloadService_ListRecent(t *testing.T) {
	h := newHarness(t)
	h.svc.recentLimit = 2
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"})
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, 2},
		{-5, 2},
		{3, 3},
		{1000, 4},
	}
	for _, tt := range tests {
		got, err := h.svc.ListRecent(ctx, tt.limit)
		if err != nil {
			t.Fatalf("ListRecent(%d) failed: %v", tt.limit, err)
		}
		if len(got) != tt.want {
			t.Errorf("ListRecent(%d) len = %d, want %d", tt.limit, len(got), tt.want)
		}
	}
}

func TestDownloadService_VideoInfo(t *testing.T) {
	h := newHarness(t)

	info, err := h.svc.VideoInfo(context.Background(), testURL)
	if err != nil {
		t.Fatalf("VideoInfo failed: %v", err)
	}
	if info.Title != "Cooking: pasta!" || info.Duration != 42 {
		t.Errorf("info = %+v", info)
	}

	want := []FormatOption{
		{Type: domain.FormatVideo, Quality: domain.QualityHigh, Size: "15 MiB"},
		{Type: domain.FormatVideo, Quality: domain.QualityStandard, Size: "9.0 MiB"},
		{Type: domain.FormatAudio, Quality: domain.QualityHigh, Size: "1.5 MiB"},
	}
	if len(info.Formats) != len(want) {
		t.Fatalf("formats = %+v", info.Formats)
	}
	for i := range want {
		if info.Formats[i] != want[i] {
			t.Errorf("formats[%d] = %+v, want %+v", i, info.Formats[i], want[i])
		}
	}

	all, _ := h.downloads.ListRecent(context.Background(), 10)
	if len(all) != 0 {
		t.Error("VideoInfo must not create records")
	}
}

func TestDownloadService_VideoInfo_Errors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.VideoInfo(context.Background(), "not a url"); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("error = %v, want ErrInvalidURL", err)
	}

	h.resolver.err = fmt.Errorf("%w: everything failed", domain.ErrExtractionFailed)
	if _, err := h.svc.VideoInfo(context.Background(), testURL); !errors.Is(err, domain.ErrExtractionFailed) {
		t.Errorf("error = %v, want ErrExtractionFailed", err)
	}
}

// ============================================================================
// Deliver
// ============================================================================

func TestDownloadService_Deliver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.completed(t, "video")

	delivery, err := h.svc.Deliver(ctx, d.ID, "video")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if delivery.Placeholder {
		t.Error("expected real media")
	}
	if string(delivery.Data) != "video-bytes" {
		t.Errorf("Data = %q", delivery.Data)
	}
	if delivery.ContentType != "video/mp4" {
		t.Errorf("ContentType = %q", delivery.ContentType)
	}
	wantName := fmt.Sprintf("Cooking_ pasta__%d.mp4", d.ID)
	if delivery.Filename != wantName {
		t.Errorf("Filename = %q, want %q", delivery.Filename, wantName)
	}
	if h.fetcher.gotURL != "https://cdn.example/hd.mp4" {
		t.Errorf("fetched %q, want high quality url", h.fetcher.gotURL)
	}
	if _, ok, _ := h.cache.Get(ctx, mediacache.Key(d.ID, domain.FormatVideo)); !ok {
		t.Error("delivered media should be cached")
	}
}

func TestDownloadService_Deliver_AudioFormat(t *testing.T) {
	h := newHarness(t)
	d := h.completed(t, "video")

	delivery, err := h.svc.Deliver(context.Background(), d.ID, "mp3")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if delivery.ContentType != "audio/mpeg" || !strings.HasSuffix(delivery.Filename, ".mp3") {
		t.Errorf("delivery = %s %s", delivery.ContentType, delivery.Filename)
	}
	if h.fetcher.gotURL != "https://cdn.example/a.mp3" {
		t.Errorf("fetched %q, want audio url", h.fetcher.gotURL)
	}
}

func TestDownloadService_Deliver_CacheHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.completed(t, "video")
	h.cache.Put(ctx, mediacache.Key(d.ID, domain.FormatVideo), []byte("cached"), "video/mp4")
	resolves := h.resolver.calls.Load()

	delivery, err := h.svc.Deliver(ctx, d.ID, "video")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if string(delivery.Data) != "cached" {
		t.Errorf("Data = %q, want cached bytes", delivery.Data)
	}
	if h.fetcher.calls != 0 || h.resolver.calls.Load() != resolves {
		t.Error("cache hit should not touch upstream")
	}
}

func TestDownloadService_Deliver_Placeholder(t *testing.T) {
	h := newHarness(t)
	d := h.completed(t, "video")
	h.fetcher.err = domain.ErrURLExpired

	delivery, err := h.svc.Deliver(context.Background(), d.ID, "video")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !delivery.Placeholder {
		t.Fatal("expected placeholder")
	}
	if !strings.HasPrefix(delivery.ContentType, "text/plain") {
		t.Errorf("ContentType = %q", delivery.ContentType)
	}
	if !strings.HasSuffix(delivery.Filename, ".txt") {
		t.Errorf("Filename = %q", delivery.Filename)
	}
	body := string(delivery.Data)
	if !strings.Contains(body, "# TikTok Video - Cooking: pasta!") || !strings.Contains(body, testURL) {
		t.Errorf("body = %q", body)
	}
}

func TestDownloadService_Deliver_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending, _ := h.svc.Submit(ctx, SubmitRequest{URL: testURL, Format: "video", Quality: "high"})
	done := h.completed(t, "video")

	tests := []struct {
		name    string
		id      domain.DownloadID
		format  string
		wantErr error
	}{
		{"unknown id", 999, "video", domain.ErrDownloadNotFound},
		{"not ready", pending.ID, "video", domain.ErrDownloadNotReady},
		{"bad format", done.ID, "flac", domain.ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.Deliver(ctx, tt.id, tt.format); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilenameBase(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		title *string
		want  string
	}{
		{nil, "tiktok_video"},
		{str(""), "tiktok_video"},
		{str("   "), "tiktok_video"},
		{str("Hello World"), "Hello World"},
		{str("a/b:c?"), "a_b_c_"},
		{str("café"), "caf_"},
		{str("line\none\ttab"), "line_one_tab"},
	}
	for _, tt := range tests {
		if got := FilenameBase(tt.title); got != tt.want {
			t.Errorf("FilenameBase(%v) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
