package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/retry"
)

var (
	// ErrTimedOut ends a session that saw no terminal status in time
	ErrTimedOut = errors.New("generation timed out")
	// ErrStartFailed means the server refused to start the job
	ErrStartFailed = errors.New("generation could not be started")
	// ErrReset ends a session torn down by Reset or a new Start
	ErrReset = errors.New("session reset")
)

// Config holds the manager's timing
type Config struct {
	ReconnectAttempts int
	ReconnectBackoff  retry.Config
	PollInterval      time.Duration
	Timeout           time.Duration
}

// DefaultConfig returns 3 reconnects at 1s, 2s, 4s, 2s polling and a
// 5 minute ceiling
func DefaultConfig() Config {
	return Config{
		ReconnectAttempts: 3,
		ReconnectBackoff: retry.Config{
			InitialBackoff: time.Second,
			MaxBackoff:     8 * time.Second,
			Multiplier:     2,
		},
		PollInterval: 2 * time.Second,
		Timeout:      5 * time.Minute,
	}
}

// Manager drives one generation session at a time. All state changes are
// serialized under mu and tagged with the session they belong to, so work
// scheduled by a torn-down session never touches the current one.
type Manager struct {
	transport Transport
	cfg       Config
	logger    zerolog.Logger

	mu      sync.Mutex
	state   State
	session uint64
	timers  *TimerGroup
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	subs    map[chan State]struct{}
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an idle manager
func NewManager(t Transport, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		transport: t,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		state:     idleState(),
		timers:    NewTimerGroup(),
		cancel:    func() {},
		done:      make(chan struct{}),
		subs:      make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Done is closed when the current session ends
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err reports why the current session ended: nil for a terminal status,
// ErrTimedOut, ErrStartFailed or ErrReset
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Subscribe returns a channel receiving state changes. Slow readers only
// see the latest state. Call the returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, ch)
		m.mu.Unlock()
	}
}

// Wait blocks until the session ends or ctx is done
func (m *Manager) Wait(ctx context.Context) (State, error) {
	select {
	case <-m.Done():
		return m.State(), m.Err()
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

// Start tears down any previous session and starts a new job. The session
// continues in the background after Start returns; ctx only bounds the
// start request.
func (m *Manager) Start(ctx context.Context, req generation.StartRequest) error {
	m.mu.Lock()
	m.teardownLocked(ErrReset)
	m.session++
	sess := m.session
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.timers = NewTimerGroup()
	m.done = make(chan struct{})
	m.err = nil
	m.state = idleState()
	m.state.Phase = PhaseStarting
	m.timers.AfterFunc(m.cfg.Timeout, func() { m.timeout(sess) })
	m.notifyLocked()
	m.mu.Unlock()

	res, err := m.transport.Start(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != m.session {
		return ErrReset
	}
	if !m.liveLocked(sess) {
		return m.err
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to start generation")
		m.failLocked("Failed to start generation", fmt.Errorf("%w: %w", ErrStartFailed, err))
		return m.err
	}
	if res.Failed() {
		detail := res.Detail
		if detail == "" {
			detail = "Failed to start generation"
		}
		m.failLocked(detail, fmt.Errorf("%w: %s", ErrStartFailed, detail))
		return m.err
	}

	m.state.ID = res.ID
	m.state.Phase = PhaseProcessing
	m.notifyLocked()
	m.logger.Info().Str("job_id", res.ID).Msg("generation started")

	go m.connect(sessCtx, sess, res.ID, 0)
	return nil
}

// Reset tears down the session and returns to idle. It is safe in any phase.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(ErrReset)
	m.session++
	m.state = idleState()
	m.notifyLocked()
}

// connect opens the push stream and consumes it until it ends
func (m *Manager) connect(ctx context.Context, sess uint64, id string, attempt int) {
	stream, err := m.transport.Open(ctx, id)
	if err != nil {
		m.channelError(ctx, sess, id, attempt, err)
		return
	}
	defer stream.Close()

	for {
		data, err := stream.Next()
		if err != nil {
			m.channelError(ctx, sess, id, attempt, err)
			return
		}

		var patch models.SnapshotPatch
		if err := json.Unmarshal(data, &patch); err != nil {
			m.logger.Warn().Err(err).Str("job_id", id).Msg("ignoring malformed snapshot")
			continue
		}
		// a delivered message proves the channel works again
		attempt = 0
		if m.apply(sess, patch) {
			return
		}
	}
}

// channelError schedules a reconnect while the budget lasts, then polls
func (m *Manager) channelError(ctx context.Context, sess uint64, id string, attempt int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(sess) {
		return
	}

	if attempt < m.cfg.ReconnectAttempts {
		delay := m.cfg.ReconnectBackoff.Backoff(attempt)
		m.logger.Warn().Err(cause).Str("job_id", id).Int("attempt", attempt+1).Dur("delay", delay).Msg("stream lost, reconnecting")
		m.timers.AfterFunc(delay, func() { m.connect(ctx, sess, id, attempt+1) })
		return
	}

	m.logger.Warn().Err(cause).Str("job_id", id).Msg("reconnects exhausted, polling status")
	m.timers.AfterFunc(0, func() { m.poll(ctx, sess, id) })
	m.timers.Every(m.cfg.PollInterval, func() { m.poll(ctx, sess, id) })
}

func (m *Manager) poll(ctx context.Context, sess uint64, id string) {
	patch, err := m.transport.Poll(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(sess) {
		return
	}
	switch {
	case errors.Is(err, ErrJobNotFound):
		m.failLocked("Job not found", nil)
	case err != nil:
		m.logger.Debug().Err(err).Str("job_id", id).Msg("status poll failed")
	default:
		m.applyLocked(patch)
	}
}

// apply merges a pushed snapshot and reports whether the stream should stop
func (m *Manager) apply(sess uint64, patch models.SnapshotPatch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(sess) {
		return true
	}
	m.applyLocked(patch)
	return m.state.Terminal()
}

func (m *Manager) applyLocked(patch models.SnapshotPatch) {
	next, ok := m.state.Apply(patch)
	if !ok {
		return
	}
	m.state = next
	m.notifyLocked()
	if m.state.Terminal() {
		m.logger.Info().Str("job_id", m.state.ID).Str("phase", string(m.state.Phase)).Msg("generation finished")
		m.teardownLocked(nil)
	}
}

func (m *Manager) timeout(sess uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.liveLocked(sess) {
		return
	}
	m.logger.Warn().Str("job_id", m.state.ID).Dur("timeout", m.cfg.Timeout).Msg("generation timed out")
	m.failLocked("Generation timed out", ErrTimedOut)
}

func (m *Manager) failLocked(message string, err error) {
	m.state.Phase = PhaseFailed
	m.state.Error = message
	m.notifyLocked()
	m.teardownLocked(err)
}

// liveLocked reports whether sess is current and still running
func (m *Manager) liveLocked(sess uint64) bool {
	return sess == m.session && !m.state.Terminal() && m.state.Phase != PhaseIdle
}

// teardownLocked stops every timer, closes the stream and ends the session
func (m *Manager) teardownLocked(err error) {
	m.timers.Stop()
	m.cancel()
	select {
	case <-m.done:
	default:
		m.err = err
		close(m.done)
	}
}

func (m *Manager) notifyLocked() {
	st := m.state.Clone()
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
