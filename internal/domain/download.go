package domain

import (
	"fmt"
	"strings"
	"time"
)

// DownloadID is the store-assigned identifier of a download record.
type DownloadID int64

// String returns the decimal representation of the DownloadID.
func (id DownloadID) String() string {
	return fmt.Sprintf("%d", int64(id))
}

// DownloadStatus represents the lifecycle state of a download record.
type DownloadStatus string

const (
	StatusPending    DownloadStatus = "pending"
	StatusProcessing DownloadStatus = "processing"
	StatusCompleted  DownloadStatus = "completed"
	StatusFailed     DownloadStatus = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s DownloadStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is an allowed edge.
func (s DownloadStatus) CanTransitionTo(next DownloadStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Format is the requested media kind.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// ParseFormat accepts the canonical names and the legacy container aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "mp4":
		return FormatVideo, nil
	case "audio", "mp3":
		return FormatAudio, nil
	}
	return "", ErrInvalidFormat
}

// Extension returns the file extension delivered for the format.
func (f Format) Extension() string {
	if f == FormatAudio {
		return "mp3"
	}
	return "mp4"
}

// ContentType returns the MIME type delivered for the format.
func (f Format) ContentType() string {
	if f == FormatAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// Quality is the requested video quality.
type Quality string

const (
	QualityHigh     Quality = "high"
	QualityStandard Quality = "standard"
)

// ParseQuality accepts the canonical names and the short aliases.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "hd":
		return QualityHigh, nil
	case "standard", "sd":
		return QualityStandard, nil
	}
	return "", ErrInvalidQuality
}

// Download is a persisted download request and its lifecycle state.
type Download struct {
	ID          DownloadID
	URL         string
	Format      Format
	Quality     Quality
	Title       *string
	Duration    *int
	Thumbnail   *string
	Status      DownloadStatus
	DownloadURL *string
	Error       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewDownload returns an unsaved pending record. The store assigns ID and timestamps.
func NewDownload(url string, format Format, quality Quality) *Download {
	return &Download{
		URL:     url,
		Format:  format,
		Quality: quality,
		Status:  StatusPending,
	}
}

// Clone returns a deep copy so stores can hand out records without sharing pointers.
func (d *Download) Clone() *Download {
	c := *d
	c.Title = clonePtr(d.Title)
	c.Duration = clonePtr(d.Duration)
	c.Thumbnail = clonePtr(d.Thumbnail)
	c.DownloadURL = clonePtr(d.DownloadURL)
	c.Error = clonePtr(d.Error)
	return &c
}

// Metadata is the subset of an extraction merged into the record.
type Metadata struct {
	Title     string
	Duration  int
	Thumbnail string
}

// MarkProcessing merges extraction metadata and advances pending -> processing.
func (d *Download) MarkProcessing(meta Metadata) error {
	if err := d.transition(StatusProcessing); err != nil {
		return err
	}
	title, duration, thumb := meta.Title, meta.Duration, meta.Thumbnail
	d.Title = &title
	d.Duration = &duration
	d.Thumbnail = &thumb
	return nil
}

// MarkCompleted sets the download URL and advances processing -> completed.
func (d *Download) MarkCompleted(downloadURL string) error {
	if downloadURL == "" {
		return fmt.Errorf("mark completed: empty download URL")
	}
	if err := d.transition(StatusCompleted); err != nil {
		return err
	}
	d.DownloadURL = &downloadURL
	return nil
}

// MarkFailed records the reason and moves any non-terminal record to failed.
// Metadata already merged is kept.
func (d *Download) MarkFailed(reason string) error {
	if err := d.transition(StatusFailed); err != nil {
		return err
	}
	d.Error = &reason
	return nil
}

func (d *Download) transition(next DownloadStatus) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// DeliveryPath is the server-relative path the record's bytes are served from.
func DeliveryPath(id DownloadID, format Format) string {
	return fmt.Sprintf("/download/%d/%s", int64(id), format)
}

// DownloadEvent describes a committed lifecycle transition.
type DownloadEvent struct {
	DownloadID DownloadID     `json:"download_id"`
	Status     DownloadStatus `json:"status"`
	Previous   DownloadStatus `json:"previous"`
	Error      string         `json:"error,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
