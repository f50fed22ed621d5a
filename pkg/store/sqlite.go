package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/petpixie/pixie/pkg/models"
)

// SQLiteStore keeps the registry in a named, shared in-memory SQLite
// database. The data lives only as long as the store's connection.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens the in-memory database identified by name
func NewSQLiteStore(name string) (*SQLiteStore, error) {
	// - mode=memory: never touches disk
	// - cache=shared: every connection in the pool sees the same database
	// - _busy_timeout: wait instead of failing with SQLITE_BUSY
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", url.PathEscape(name))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One long-lived connection keeps the memory database alive and
	// serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		provider TEXT NOT NULL,
		image_url TEXT,
		prompt TEXT,
		last_snapshot TEXT,
		terminal_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_terminal_at ON jobs(terminal_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create registers a job
func (s *SQLiteStore) Create(ctx context.Context, job *models.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}

	last, err := encodeSnapshot(job.Last)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, started_at, provider, image_url, prompt, last_snapshot, terminal_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.StartedAt.UnixNano(), string(job.Provider), job.ImageURL, job.Prompt,
		last, nullableUnixNano(job.TerminalAt))

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", job.ID, ErrJobExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, provider, image_url, prompt, last_snapshot, terminal_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// Delete removes a job
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List returns all jobs ordered by start time
func (s *SQLiteStore) List(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, provider, image_url, prompt, last_snapshot, terminal_at
		FROM jobs ORDER BY started_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Count returns the number of registered jobs
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

// SaveSnapshot caches the latest snapshot for a job
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, id string, snap models.Snapshot, observedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT id, started_at, provider, image_url, prompt, last_snapshot, terminal_at
		FROM jobs WHERE id = ?
	`, id))
	if err != nil {
		return false, err
	}

	changed, err := applySnapshot(job, snap, observedAt)
	if err != nil || !changed {
		return false, err
	}

	last, err := encodeSnapshot(job.Last)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET last_snapshot = ?, terminal_at = ? WHERE id = ?
	`, last, nullableUnixNano(job.TerminalAt), id); err != nil {
		return false, fmt.Errorf("failed to update snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return snap.IsTerminal(), nil
}

// Close closes the database, discarding its contents
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job        models.Job
		startedAt  int64
		provider   string
		imageURL   sql.NullString
		prompt     sql.NullString
		last       sql.NullString
		terminalAt sql.NullInt64
	)

	err := row.Scan(&job.ID, &startedAt, &provider, &imageURL, &prompt, &last, &terminalAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.StartedAt = time.Unix(0, startedAt)
	job.Provider = models.Provider(provider)
	job.ImageURL = imageURL.String
	job.Prompt = prompt.String

	if last.Valid && last.String != "" {
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(last.String), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		job.Last = &snap
	}
	if terminalAt.Valid {
		t := time.Unix(0, terminalAt.Int64)
		job.TerminalAt = &t
	}

	return &job, nil
}

func encodeSnapshot(snap *models.Snapshot) (sql.NullString, error) {
	if snap == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullableUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
