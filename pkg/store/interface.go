package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petpixie/pixie/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// Store is the job registry. Implementations must be safe for concurrent use.
type Store interface {
	// Create registers a new job. Duplicate IDs return ErrJobExists.
	Create(ctx context.Context, job *models.Job) error
	// Get returns a copy of the job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)
	// Delete removes a job or returns ErrJobNotFound.
	Delete(ctx context.Context, id string) error
	// List returns copies of every job.
	List(ctx context.Context) ([]*models.Job, error)
	// Count returns the number of registered jobs.
	Count(ctx context.Context) (int, error)
	// SaveSnapshot caches the last observed snapshot. The first terminal
	// snapshot stamps TerminalAt; later writes for a terminal job are ignored.
	// finished is true only for the call that stamped TerminalAt.
	SaveSnapshot(ctx context.Context, id string, snap models.Snapshot, observedAt time.Time) (finished bool, err error)
	Close() error
}

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config selects and configures a registry backend
type Config struct {
	Backend string
	// Name identifies the shared in-memory SQLite database
	Name string
}

// New creates the registry backend named by cfg
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		name := cfg.Name
		if name == "" {
			name = "pixie-registry"
		}
		return NewSQLiteStore(name)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}

// applySnapshot holds the SaveSnapshot rules shared by every backend.
// It reports whether job was modified.
func applySnapshot(job *models.Job, snap models.Snapshot, observedAt time.Time) (bool, error) {
	if job.TerminalAt != nil {
		return false, nil
	}
	if job.Last != nil {
		if err := models.ValidateTransition(job.Last.Status, snap.Status); err != nil {
			return false, fmt.Errorf("job %s: %w", job.ID, err)
		}
	}

	cp := snap.Clone()
	job.Last = &cp
	if snap.IsTerminal() {
		t := observedAt
		job.TerminalAt = &t
	}
	return true, nil
}
