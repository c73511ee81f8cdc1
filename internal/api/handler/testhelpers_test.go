package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/extractor"
	"github.com/iconidentify/tokgrab/internal/repository"
	"github.com/iconidentify/tokgrab/internal/service"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockJobRepository is a test implementation of repository.JobRepository.
type mockJobRepository struct {
	stats    *repository.QueueStats
	statsErr error
	jobs     map[domain.JobID]*domain.Job
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		stats: &repository.QueueStats{},
		jobs:  make(map[domain.JobID]*domain.Job),
	}
}

func (m *mockJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusQueued {
			return job, nil
		}
	}
	return nil, domain.ErrNoJobs
}

func (m *mockJobRepository) GetByDownloadID(ctx context.Context, downloadID domain.DownloadID) (*domain.Job, error) {
	for _, job := range m.jobs {
		if job.DownloadID == downloadID {
			return job, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockJobRepository) Update(ctx context.Context, job *domain.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) Stats(ctx context.Context) (*repository.QueueStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// fakePinger is a test implementation of Pinger.
type fakePinger struct {
	err error
}

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

// stubProvider resolves every URL to a fixed result or error.
type stubProvider struct {
	name   string
	result *domain.ExtractionResult
	err    error
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Resolve(ctx context.Context, sourceURL string) (*domain.ExtractionResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	res := *p.result
	return &res, nil
}

// stubFetcher returns fixed bytes or an error.
type stubFetcher struct {
	data []byte
	err  error
}

func (f *stubFetcher) Fetch(ctx context.Context, url string, format domain.Format) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

// mockDownloadService fails every call with err.
type mockDownloadService struct {
	err error
}

func (m *mockDownloadService) Submit(context.Context, service.SubmitRequest) (*domain.Download, error) {
	return nil, m.err
}

func (m *mockDownloadService) Get(context.Context, domain.DownloadID) (*domain.Download, error) {
	return nil, m.err
}

func (m *mockDownloadService) ListRecent(context.Context, int) ([]*domain.Download, error) {
	return nil, m.err
}

func (m *mockDownloadService) VideoInfo(context.Context, string) (*service.VideoInfo, error) {
	return nil, m.err
}

func (m *mockDownloadService) Deliver(context.Context, domain.DownloadID, string) (*service.Delivery, error) {
	return nil, m.err
}

func clipResult() *domain.ExtractionResult {
	return &domain.ExtractionResult{
		Provider:         "stub",
		Title:            "Dance #1",
		Duration:         15,
		Thumbnail:        "https://img.example/cover.jpg",
		Author:           "dancer",
		VideoURLHigh:     "https://cdn.example/hd.mp4",
		VideoURLStandard: "https://cdn.example/sd.mp4",
		AudioURL:         "https://cdn.example/music.mp3",
		Sizes:            domain.EstimateSizes(2 << 20),
		Stats:            domain.PlaceholderStats,
	}
}

// testEnv wires a real DownloadService over in-memory stores and stub providers.
type testEnv struct {
	svc     *service.DownloadService
	fetcher *stubFetcher
	router  http.Handler
}

func newTestEnv(providers ...extractor.Provider) *testEnv {
	if len(providers) == 0 {
		providers = []extractor.Provider{&stubProvider{name: "stub", result: clipResult()}}
	}
	chain := extractor.NewChain(time.Second, nil, testLogger(), providers...)
	fetcher := &stubFetcher{data: []byte("mp4-bytes")}

	svc := service.NewDownloadService(
		repository.NewInMemoryDownloadRepository(),
		repository.NewInMemoryJobRepository(),
		chain,
		fetcher,
		nil,
		nil,
		nil,
		10,
		testLogger(),
	)

	return &testEnv{
		svc:     svc,
		fetcher: fetcher,
		router:  newTestRouter(NewDownloadHandler(svc, testLogger())),
	}
}

func newTestRouter(h *DownloadHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/video-info", h.VideoInfo)
	r.Post("/downloads", h.Create)
	r.Get("/downloads", h.List)
	r.Get("/downloads/{id}", h.Get)
	r.Get("/download/{id}/{format}", h.Serve)
	return r
}

var errAllFailed = errors.New("upstream returned status 503")
