package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/iconidentify/tokgrab/internal/config"
	"github.com/iconidentify/tokgrab/internal/domain"
	"github.com/iconidentify/tokgrab/internal/metrics"
)

// HTTPDownloader implements Downloader on a retrying HTTP client.
type HTTPDownloader struct {
	client  *retryablehttp.Client
	cfg     config.DownloadConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewHTTPDownloader creates a media fetcher. Connection errors, 429 and 5xx responses
// are retried with capped exponential backoff; 401 and 403 are not.
func NewHTTPDownloader(cfg config.DownloadConfig, m *metrics.Metrics, logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = cfg.RetryDelay
	client.RetryWaitMax = cfg.MaxRetryDelay
	client.CheckRetry = retryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = logger

	return &HTTPDownloader{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Limit returns the size ceiling applied to format.
func (d *HTTPDownloader) Limit(format domain.Format) int64 {
	if format == domain.FormatAudio {
		return d.cfg.AudioMaxBytes
	}
	return d.cfg.VideoMaxBytes
}

// Download streams media from url.
func (d *HTTPDownloader) Download(ctx context.Context, url string, format domain.Format) (io.ReadCloser, int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	// Set headers to mimic browser request
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader(format))
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Referer", d.cfg.Referer)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, 0, domain.ErrURLExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, 0, domain.ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: unexpected status code: %d", domain.ErrDownloadFailed, resp.StatusCode)
	}

	limit := d.Limit(format)
	if resp.ContentLength > limit {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: %s > %s", domain.ErrMediaTooLarge,
			humanize.IBytes(uint64(resp.ContentLength)), humanize.IBytes(uint64(limit)))
	}

	return &cappedReader{
		body:  resp.Body,
		limit: limit,
		onClose: func(n int64) {
			d.metrics.Fetched(n)
			d.logger.Debug("media fetched", "url", url, "size", humanize.IBytes(uint64(n)))
		},
	}, resp.ContentLength, nil
}

// Fetch reads the whole payload for url, bounded by the per-format ceiling.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string, format domain.Format) ([]byte, error) {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	body, _, err := d.Download(ctx, url, format)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		if errors.Is(err, domain.ErrMediaTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrDownloadFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", domain.ErrDownloadFailed)
	}
	return data, nil
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func acceptHeader(format domain.Format) string {
	if format == domain.FormatAudio {
		return "audio/mpeg,audio/*;q=0.9,*/*;q=0.8"
	}
	return "video/mp4,video/*;q=0.9,*/*;q=0.8"
}

// cappedReader fails once more than limit bytes have been read.
type cappedReader struct {
	body    io.ReadCloser
	limit   int64
	read    int64
	onClose func(n int64)
	once    sync.Once
}

func (r *cappedReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.read += int64(n)
	if r.read > r.limit {
		return n, fmt.Errorf("%w: more than %s", domain.ErrMediaTooLarge, humanize.IBytes(uint64(r.limit)))
	}
	return n, err
}

func (r *cappedReader) Close() error {
	r.once.Do(func() {
		if r.onClose != nil {
			r.onClose(r.read)
		}
	})
	return r.body.Close()
}
