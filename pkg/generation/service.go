// Package generation ties the registry to a snapshot source: either the
// local progress projection or the Replicate API.
package generation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/store"
)

var (
	// ErrJobNotFound is returned for IDs the registry does not know
	ErrJobNotFound = store.ErrJobNotFound
	// ErrUpstreamUnavailable means the provider state is unknown right now.
	// It is transient: callers retry later or serve a cached snapshot.
	ErrUpstreamUnavailable = errors.New("upstream status unavailable")
)

// StartRequest is a start-job request
type StartRequest struct {
	ImageURL   string
	Prompt     string
	NumOutputs int
}

// StartResult mirrors the start-job response. A failed Status carries the
// provider's Detail and no ID.
type StartResult struct {
	ID     string           `json:"id"`
	Status models.JobStatus `json:"status"`
	Detail string           `json:"detail,omitempty"`
}

// Failed reports whether the job could not be started
func (r StartResult) Failed() bool {
	return r.Status == models.JobStatusFailed
}

// Service starts jobs and computes their snapshots
type Service interface {
	Provider() models.Provider
	Start(ctx context.Context, req StartRequest) (StartResult, error)
	Snapshot(ctx context.Context, id string) (models.Snapshot, error)
}

// Recorder receives job lifecycle events. pkg/metrics implements it.
type Recorder interface {
	JobStarted(provider, result string)
	JobFinished(provider, status string, d time.Duration)
}

// Option customizes a service
type Option func(*base)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithIDGenerator overrides the job ID generator
func WithIDGenerator(gen func() string) Option {
	return func(b *base) { b.newID = gen }
}

// WithRecorder attaches a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(b *base) { b.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(b *base) { b.logger = l }
}

type base struct {
	store    store.Store
	provider models.Provider
	now      func() time.Time
	newID    func() string
	recorder Recorder
	logger   zerolog.Logger
}

func newBase(s store.Store, provider models.Provider, opts []Option) base {
	b := base{
		store:    s,
		provider: provider,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Provider() models.Provider {
	return b.provider
}

func (b *base) jobStarted(result string) {
	if b.recorder != nil {
		b.recorder.JobStarted(string(b.provider), result)
	}
}

// observe caches snap on job. The first terminal snapshot stamps the job
// for the TTL sweeper and is reported to the recorder exactly once, however
// many streams and polls observe it.
func (b *base) observe(ctx context.Context, job *models.Job, snap models.Snapshot, now time.Time) {
	finished, err := b.store.SaveSnapshot(ctx, job.ID, snap, now)
	if err != nil {
		b.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to cache snapshot")
		return
	}
	if finished {
		b.logger.Info().Str("job_id", job.ID).Str("status", string(snap.Status)).
			Dur("elapsed", now.Sub(job.StartedAt)).Msg("job reached terminal status")
		if b.recorder != nil {
			b.recorder.JobFinished(string(b.provider), string(snap.Status), now.Sub(job.StartedAt))
		}
	}
}
