package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// InMemoryDownloadRepository implements DownloadRepository with a map. Records do not
// survive a restart.
type InMemoryDownloadRepository struct {
	mu        sync.RWMutex
	downloads map[domain.DownloadID]*domain.Download
	nextID    domain.DownloadID
}

// NewInMemoryDownloadRepository creates an empty store. IDs start at 1.
func NewInMemoryDownloadRepository() *InMemoryDownloadRepository {
	return &InMemoryDownloadRepository{
		downloads: make(map[domain.DownloadID]*domain.Download),
		nextID:    1,
	}
}

// Create assigns the next ID and persists the record.
func (r *InMemoryDownloadRepository) Create(ctx context.Context, d *domain.Download) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp(d)
	d.ID = r.nextID
	r.nextID++
	r.downloads[d.ID] = d.Clone()

	return nil
}

// Get retrieves a record by ID.
func (r *InMemoryDownloadRepository) Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.downloads[id]
	if !ok {
		return nil, domain.ErrDownloadNotFound
	}
	return d.Clone(), nil
}

// Update applies fn under the write lock.
func (r *InMemoryDownloadRepository) Update(ctx context.Context, id domain.DownloadID, fn Mutator) (*domain.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.downloads[id]
	if !ok {
		return nil, domain.ErrDownloadNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	r.downloads[id] = next

	return next.Clone(), nil
}

// ListRecent returns up to limit records, newest first.
func (r *InMemoryDownloadRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Download, 0, len(r.downloads))
	for _, d := range r.downloads {
		all = append(all, d)
	}
	slices.SortFunc(all, func(a, b *domain.Download) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	result := make([]*domain.Download, 0, len(all))
	for _, d := range all {
		result = append(result, d.Clone())
	}
	return result, nil
}

// ListByStatus returns all records in status, oldest first.
func (r *InMemoryDownloadRepository) ListByStatus(ctx context.Context, status domain.DownloadStatus) ([]*domain.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Download
	for _, d := range r.downloads {
		if d.Status == status {
			result = append(result, d.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *domain.Download) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// Ping always succeeds.
func (r *InMemoryDownloadRepository) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (r *InMemoryDownloadRepository) Close() error { return nil }

// stamp sets creation defaults on a record about to be inserted.
func stamp(d *domain.Download) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Status == "" {
		d.Status = domain.StatusPending
	}
}
