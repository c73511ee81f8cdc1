package domain

import "errors"

// Domain errors.
var (
	// ErrDownloadNotFound is returned when a download record cannot be found.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrDownloadNotReady is returned when bytes are requested before the record completed.
	ErrDownloadNotReady = errors.New("download not ready")

	// ErrInvalidTransition is returned for a lifecycle edge that is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrInvalidURL is returned when the URL is not a supported TikTok link.
	ErrInvalidURL = errors.New("please enter a valid TikTok URL")

	// ErrInvalidFormat is returned for a format other than video or audio.
	ErrInvalidFormat = errors.New("format must be video or audio")

	// ErrInvalidQuality is returned for a quality other than high or standard.
	ErrInvalidQuality = errors.New("quality must be high or standard")

	// ErrExtractionFailed is returned when every extraction provider failed.
	ErrExtractionFailed = errors.New("failed to extract video information")

	// ErrDownloadFailed is returned when the media download fails.
	ErrDownloadFailed = errors.New("media download failed")

	// ErrMediaTooLarge is returned when the media exceeds the size ceiling.
	ErrMediaTooLarge = errors.New("media exceeds size limit")

	// ErrURLExpired is returned when the media host refuses the URL.
	ErrURLExpired = errors.New("media URL has expired")

	// ErrRateLimited is returned when rate limited by external services.
	ErrRateLimited = errors.New("rate limited")
)

// DownloadError wraps an error with download record context.
type DownloadError struct {
	ID  DownloadID
	Op  string
	Err error
}

func (e *DownloadError) Error() string {
	if e.ID != 0 {
		return e.Op + " [" + e.ID.String() + "]: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// NewDownloadError creates a new DownloadError.
func NewDownloadError(id DownloadID, op string, err error) *DownloadError {
	return &DownloadError{
		ID:  id,
		Op:  op,
		Err: err,
	}
}
