package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iconidentify/tokgrab/internal/domain"
)

// PostgresDownloadRepository implements DownloadRepository on a pgx connection pool.
type PostgresDownloadRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresDownloadRepository migrates the schema and opens a pool for dsn.
func NewPostgresDownloadRepository(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresDownloadRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := migratePostgres(dsn, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDownloadRepository{pool: pool, logger: logger}, nil
}

// migratePostgres runs migrations over a short-lived database/sql handle.
func migratePostgres(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration handle: %w", err)
	}

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := runMigrations("postgres", "pgx5", driver, logger)
	if err != nil {
		db.Close()
		return err
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migration database: %w", dbErr)
	}
	return nil
}

// Create assigns the next ID and persists the record.
func (r *PostgresDownloadRepository) Create(ctx context.Context, d *domain.Download) error {
	stamp(d)

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO downloads (url, format, quality, title, duration, thumbnail, status, download_url, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		d.URL, string(d.Format), string(d.Quality),
		d.Title, d.Duration, d.Thumbnail,
		string(d.Status), d.DownloadURL, d.Error,
		d.CreatedAt, d.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}

	d.ID = domain.DownloadID(id)
	return nil
}

// Get retrieves a record by ID.
func (r *PostgresDownloadRepository) Get(ctx context.Context, id domain.DownloadID) (*domain.Download, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = $1`, int64(id))
	d, err := scanPostgresDownload(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDownloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

// Update locks the row, applies fn and writes it back in one transaction.
func (r *PostgresDownloadRepository) Update(ctx context.Context, id domain.DownloadID, fn Mutator) (*domain.Download, error) {
	var updated *domain.Download

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = $1 FOR UPDATE`, int64(id))
		d, err := scanPostgresDownload(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrDownloadNotFound
		}
		if err != nil {
			return fmt.Errorf("lock download: %w", err)
		}

		if err := fn(d); err != nil {
			return err
		}
		d.ID = id

		_, err = tx.Exec(ctx,
			`UPDATE downloads
			 SET title = $1, duration = $2, thumbnail = $3, status = $4, download_url = $5, error = $6, updated_at = $7
			 WHERE id = $8`,
			d.Title, d.Duration, d.Thumbnail, string(d.Status), d.DownloadURL, d.Error, d.UpdatedAt, int64(id),
		)
		if err != nil {
			return fmt.Errorf("update download: %w", err)
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListRecent returns up to limit records, newest first.
func (r *PostgresDownloadRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	return collectPostgresDownloads(rows)
}

// ListByStatus returns all records in status, oldest first.
func (r *PostgresDownloadRepository) ListByStatus(ctx context.Context, status domain.DownloadStatus) ([]*domain.Download, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list downloads by status: %w", err)
	}
	return collectPostgresDownloads(rows)
}

// Ping checks pool connectivity.
func (r *PostgresDownloadRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the pool.
func (r *PostgresDownloadRepository) Close() error {
	r.pool.Close()
	return nil
}

func collectPostgresDownloads(rows pgx.Rows) ([]*domain.Download, error) {
	defer rows.Close()

	result := make([]*domain.Download, 0)
	for rows.Next() {
		d, err := scanPostgresDownload(rows)
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

func scanPostgresDownload(s rowScanner) (*domain.Download, error) {
	var (
		d                       domain.Download
		id                      int64
		format, quality, status string
	)
	if err := s.Scan(&id, &d.URL, &format, &quality, &d.Title, &d.Duration, &d.Thumbnail,
		&status, &d.DownloadURL, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	d.ID = domain.DownloadID(id)
	d.Format = domain.Format(format)
	d.Quality = domain.Quality(quality)
	d.Status = domain.DownloadStatus(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}
