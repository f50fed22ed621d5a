package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/store"
)

type countingRecorder struct {
	evicted map[string]int
}

func (r *countingRecorder) Evicted(reason string, n int) {
	r.evicted[reason] += n
}

type fakePruner struct {
	maxAge time.Duration
}

func (p *fakePruner) CleanupOldLimiters(maxAge time.Duration) int {
	p.maxAge = maxAge
	return 2
}

func TestSweepEvictsExpiredAndAbandoned(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()

	mkJob := func(id string, started time.Time) {
		require.NoError(t, st.Create(ctx, &models.Job{ID: id, StartedAt: started, Provider: models.ProviderSimulated}))
	}
	finish := func(id string, at time.Time) {
		_, err := st.SaveSnapshot(ctx, id, models.Snapshot{ID: id, Status: models.JobStatusSucceeded, Progress: 100}, at)
		require.NoError(t, err)
	}

	mkJob("expired", now.Add(-30*time.Minute))
	finish("expired", now.Add(-20*time.Minute))

	mkJob("recent", now.Add(-10*time.Minute))
	finish("recent", now.Add(-5*time.Minute))

	mkJob("abandoned", now.Add(-2*time.Hour))
	mkJob("running", now.Add(-time.Minute))

	rec := &countingRecorder{evicted: map[string]int{}}
	pruner := &fakePruner{}
	s := NewSweeper(DefaultConfig(), st,
		WithClock(func() time.Time { return now }),
		WithRecorder(rec),
		WithLimiter(pruner),
	)

	assert.Equal(t, 2, s.CleanupNow(ctx))

	_, err := st.Get(ctx, "expired")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = st.Get(ctx, "abandoned")
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	_, err = st.Get(ctx, "recent")
	assert.NoError(t, err)
	_, err = st.Get(ctx, "running")
	assert.NoError(t, err)

	assert.Equal(t, map[string]int{"expired": 1, "abandoned": 1}, rec.evicted)
	assert.Equal(t, 10*time.Minute, pruner.maxAge)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.TotalSweeps)
	assert.Equal(t, int64(1), stats.TotalExpired)
	assert.Equal(t, int64(1), stats.TotalAbandoned)
	assert.Equal(t, int64(2), stats.TotalLimitersFreed)
	assert.Equal(t, now, stats.LastSweepTime)

	// a second sweep finds nothing new
	assert.Equal(t, 0, s.CleanupNow(ctx))
}

func TestSweeperLoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Create(ctx, &models.Job{ID: "old", StartedAt: time.Now().Add(-2 * time.Hour)}))

	cfg := DefaultConfig()
	cfg.SweepInterval = 5 * time.Millisecond
	s := NewSweeper(cfg, st)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		n, err := st.Count(ctx)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSweeperDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	s := NewSweeper(cfg, store.NewMemoryStore())
	s.Start()
	s.Stop()
	assert.Equal(t, int64(0), s.GetStats().TotalSweeps)
}
