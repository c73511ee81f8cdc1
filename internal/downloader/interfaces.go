package downloader

import (
	"context"
	"io"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// Downloader fetches media bytes from upstream hosts.
type Downloader interface {
	// Download streams media from url. The reader fails with domain.ErrMediaTooLarge
	// once the ceiling for format is crossed. Caller is responsible for closing it.
	Download(ctx context.Context, url string, format domain.Format) (io.ReadCloser, int64, error)

	// Fetch reads the whole payload into memory, bounded by the ceiling for format.
	Fetch(ctx context.Context, url string, format domain.Format) ([]byte, error)
}
