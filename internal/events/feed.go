package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// DefaultFeedSize is the number of transitions a Feed keeps when none is configured.
const DefaultFeedSize = 256

// Feed keeps recent transitions in a ring buffer and fans them out to live subscribers.
type Feed struct {
	logger *slog.Logger

	mu     sync.RWMutex
	events []domain.DownloadEvent
	head   int
	count  int

	subMu       sync.RWMutex
	subscribers map[uint64]chan domain.DownloadEvent
	subSeq      uint64
}

// NewFeed creates a feed holding up to size events.
func NewFeed(size int, logger *slog.Logger) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		logger:      logger,
		events:      make([]domain.DownloadEvent, size),
		subscribers: make(map[uint64]chan domain.DownloadEvent),
	}
}

// Publish implements Publisher. It never blocks on slow subscribers.
func (f *Feed) Publish(_ context.Context, evt domain.DownloadEvent) error {
	f.mu.Lock()
	f.events[f.head] = evt
	f.head = (f.head + 1) % len(f.events)
	if f.count < len(f.events) {
		f.count++
	}
	f.mu.Unlock()

	f.subMu.RLock()
	defer f.subMu.RUnlock()
	for id, ch := range f.subscribers {
		select {
		case ch <- evt:
		default:
			f.logger.Warn("feed subscriber buffer full, dropping event", "subscriber_id", id, "download_id", evt.DownloadID)
		}
	}
	return nil
}

// Recent returns up to n events, newest first.
func (f *Feed) Recent(n int) []domain.DownloadEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n <= 0 || n > f.count {
		n = f.count
	}
	size := len(f.events)
	result := make([]domain.DownloadEvent, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, f.events[(f.head-1-i+size)%size])
	}
	return result
}

// Subscribe registers a live subscriber. The caller must call Unsubscribe when done.
func (f *Feed) Subscribe() (uint64, <-chan domain.DownloadEvent) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	f.subSeq++
	id := f.subSeq
	ch := make(chan domain.DownloadEvent, 64)
	f.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(id uint64) {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	if ch, ok := f.subscribers[id]; ok {
		close(ch)
		delete(f.subscribers, id)
	}
}

// Subscribers returns the number of live subscribers.
func (f *Feed) Subscribers() int {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	return len(f.subscribers)
}

// Close disconnects every subscriber.
func (f *Feed) Close() error {
	f.subMu.Lock()
	defer f.subMu.Unlock()

	for id, ch := range f.subscribers {
		close(ch)
		delete(f.subscribers, id)
	}
	return nil
}

// Fanout publishes every event to each publisher in order.
type Fanout []Publisher

// Publish implements Publisher. Every publisher is attempted.
func (f Fanout) Publish(ctx context.Context, evt domain.DownloadEvent) error {
	var result *multierror.Error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Close closes every publisher.
func (f Fanout) Close() error {
	var result *multierror.Error
	for _, p := range f {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
