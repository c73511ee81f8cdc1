package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/iconidentify/tokgrab/internal/domain"
)

const downloadColumns = `id, url, format, quality, title, duration, thumbnail, status, download_url, error, created_at, updated_at`

// SQLiteDownloadRepository implements DownloadRepository on a single SQLite file.
type SQLiteDownloadRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteDownloadRepository opens (or creates) the database at path and applies migrations.
func NewSQLiteDownloadRepository(path string, logger *slog.Logger) (*SQLiteDownloadRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps read-modify-write updates atomic.
	db.SetMaxOpenConns(1)

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init migration driver: %w", err)
	}
	if _, err := runMigrations("sqlite", "sqlite", driver, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteDownloadRepository{db: db, logger: logger}, nil
}

// Create assigns the next ID and persists the record.
func (r *SQLiteDownloadRepository) Create(ctx context.Context, d *domain.Download) error {
	stamp(d)

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (url, format, quality, title, duration, thumbnail, status, download_url, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.URL, string(d.Format), string(d.Quality),
		nullString(d.Title), nullInt(d.Duration), nullString(d.Thumbnail),
		string(d.Status), nullString(d.DownloadURL), nullString(d.Error),
		d.CreatedAt.UnixNano(), d.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read inserted id: %w", err)
	}
	d.ID = domain.DownloadID(id)
	return nil
}

// Get retrieves a record by ID.
func (r *SQLiteDownloadRepository) Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error) {
	return r.get(ctx, r.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteDownloadRepository) get(ctx context.Context, q queryRower, id domain.DownloadID) (*domain.Download, error) {
	row := q.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, int64(id))
	d, err := scanSQLiteDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDownloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

// Update applies fn inside a transaction.
func (r *SQLiteDownloadRepository) Update(ctx context.Context, id domain.DownloadID, fn Mutator) (*domain.Download, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	d, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		return nil, err
	}
	d.ID = id

	_, err = tx.ExecContext(ctx,
		`UPDATE downloads
		 SET title = ?, duration = ?, thumbnail = ?, status = ?, download_url = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(d.Title), nullInt(d.Duration), nullString(d.Thumbnail),
		string(d.Status), nullString(d.DownloadURL), nullString(d.Error),
		d.UpdatedAt.UnixNano(), int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("update download: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return d, nil
}

// ListRecent returns up to limit records, newest first.
func (r *SQLiteDownloadRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return collectSQLiteDownloads(rows)
}

// ListByStatus returns all records in status, oldest first.
func (r *SQLiteDownloadRepository) ListByStatus(ctx context.Context, status domain.DownloadStatus) ([]*domain.Download, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list downloads by status: %w", err)
	}
	return collectSQLiteDownloads(rows)
}

// Ping checks the database handle.
func (r *SQLiteDownloadRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteDownloadRepository) Close() error {
	return r.db.Close()
}

func collectSQLiteDownloads(rows *sql.Rows) ([]*domain.Download, error) {
	defer rows.Close()

	result := make([]*domain.Download, 0)
	for rows.Next() {
		d, err := scanSQLiteDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDownload(s rowScanner) (*domain.Download, error) {
	var (
		d                          domain.Download
		id, createdAt, updatedAt   int64
		format, quality, status    string
		title, thumbnail, url, msg sql.NullString
		duration                   sql.NullInt64
	)
	if err := s.Scan(&id, &d.URL, &format, &quality, &title, &duration, &thumbnail,
		&status, &url, &msg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.ID = domain.DownloadID(id)
	d.Format = domain.Format(format)
	d.Quality = domain.Quality(quality)
	d.Status = domain.DownloadStatus(status)
	d.Title = stringPtr(title)
	d.Thumbnail = stringPtr(thumbnail)
	d.DownloadURL = stringPtr(url)
	d.Error = stringPtr(msg)
	if duration.Valid {
		v := int(duration.Int64)
		d.Duration = &v
	}
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	d.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &d, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}
