// Package cleanup evicts finished and abandoned jobs from the registry.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petpixie/pixie/pkg/store"
)

// Config defines retention policies and the sweep interval
type Config struct {
	Enabled       bool
	Retention     time.Duration // how long a terminal job stays queryable
	AbandonAfter  time.Duration // age after which a job that never finished is dropped
	SweepInterval time.Duration
	LimiterMaxAge time.Duration // idle rate limiter eviction, 0 disables
}

// DefaultConfig returns 15m retention, 1h abandonment and a 1m sweep
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Retention:     15 * time.Minute,
		AbandonAfter:  time.Hour,
		SweepInterval: time.Minute,
		LimiterMaxAge: 10 * time.Minute,
	}
}

// Recorder receives eviction counts. pkg/metrics implements it.
type Recorder interface {
	Evicted(reason string, n int)
}

// LimiterPruner drops per-client rate limiters idle for longer than maxAge
type LimiterPruner interface {
	CleanupOldLimiters(maxAge time.Duration) int
}

// Stats tracks sweep results
type Stats struct {
	LastSweepTime      time.Time
	LastSweepDuration  time.Duration
	TotalSweeps        int64
	TotalExpired       int64
	TotalAbandoned     int64
	TotalLimitersFreed int64
}

// Sweeper periodically removes expired registry entries
type Sweeper struct {
	config   Config
	store    store.Store
	recorder Recorder
	limiter  LimiterPruner
	logger   zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// Option customizes a Sweeper
type Option func(*Sweeper)

// WithRecorder reports evictions to r
func WithRecorder(r Recorder) Option {
	return func(s *Sweeper) { s.recorder = r }
}

// WithLimiter also prunes idle rate limiters on every sweep
func WithLimiter(l LimiterPruner) Option {
	return func(s *Sweeper) { s.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a sweeper over st
func NewSweeper(config Config, st store.Store, opts ...Option) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		config: config,
		store:  st,
		logger: zerolog.Nop(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins periodic sweeping
func (s *Sweeper) Start() {
	if !s.config.Enabled || s.config.SweepInterval <= 0 {
		s.logger.Info().Msg("registry sweeper disabled")
		return
	}

	s.logger.Info().
		Dur("retention", s.config.Retention).
		Dur("abandon_after", s.config.AbandonAfter).
		Dur("interval", s.config.SweepInterval).
		Msg("starting registry sweeper")

	s.wg.Add(1)
	go s.loop()
}

// Stop stops the sweeper and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("registry sweeper stopped")
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep(s.ctx)
		}
	}
}

// CleanupNow runs one sweep immediately and returns how many jobs it removed
func (s *Sweeper) CleanupNow(ctx context.Context) int {
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) int {
	start := s.now()

	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list jobs for sweep")
		return 0
	}

	expired, abandoned := 0, 0
	for _, job := range jobs {
		var reason string
		switch {
		case job.TerminalAt != nil:
			if s.config.Retention <= 0 || start.Sub(*job.TerminalAt) < s.config.Retention {
				continue
			}
			reason = "expired"
		case s.config.AbandonAfter > 0 && start.Sub(job.StartedAt) >= s.config.AbandonAfter:
			reason = "abandoned"
		default:
			continue
		}

		if err := s.store.Delete(ctx, job.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to evict job")
			continue
		}
		if reason == "expired" {
			expired++
		} else {
			abandoned++
		}
	}

	freed := 0
	if s.limiter != nil && s.config.LimiterMaxAge > 0 {
		freed = s.limiter.CleanupOldLimiters(s.config.LimiterMaxAge)
	}

	if s.recorder != nil {
		s.recorder.Evicted("expired", expired)
		s.recorder.Evicted("abandoned", abandoned)
	}

	duration := s.now().Sub(start)
	s.mu.Lock()
	s.stats.LastSweepTime = start
	s.stats.LastSweepDuration = duration
	s.stats.TotalSweeps++
	s.stats.TotalExpired += int64(expired)
	s.stats.TotalAbandoned += int64(abandoned)
	s.stats.TotalLimitersFreed += int64(freed)
	s.mu.Unlock()

	if expired+abandoned > 0 {
		s.logger.Info().Int("expired", expired).Int("abandoned", abandoned).Dur("duration", duration).Msg("registry sweep complete")
	}
	return expired + abandoned
}

// GetStats returns sweep statistics
func (s *Sweeper) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
