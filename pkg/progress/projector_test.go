package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petpixie/pixie/pkg/models"
)

func newDefault(t *testing.T) *Projector {
	t.Helper()
	p, err := NewProjector(DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestProjectSchedule(t *testing.T) {
	p := newDefault(t)

	tests := []struct {
		elapsed  time.Duration
		progress int
		status   models.JobStatus
		stage    models.Stage
		eta      int
	}{
		{0, 0, models.JobStatusStarting, models.StageAnalyzing, 10},
		{999 * time.Millisecond, 0, models.JobStatusStarting, models.StageAnalyzing, 10},
		{time.Second, 10, models.JobStatusStarting, models.StageAnalyzing, 9},
		{2500 * time.Millisecond, 20, models.JobStatusProcessing, models.StageModeling3D, 8},
		{5 * time.Second, 50, models.JobStatusProcessing, models.StageModeling3D, 5},
		{6 * time.Second, 60, models.JobStatusProcessing, models.StageRenderingCharacter, 4},
		{9 * time.Second, 90, models.JobStatusProcessing, models.StageRenderingCharacter, 1},
		{10 * time.Second, 100, models.JobStatusSucceeded, models.StageComplete, 0},
		{time.Hour, 100, models.JobStatusSucceeded, models.StageComplete, 0},
		{-time.Second, 0, models.JobStatusStarting, models.StageAnalyzing, 10},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			snap := p.Project("job-1", tt.elapsed)
			assert.Equal(t, "job-1", snap.ID)
			assert.Equal(t, tt.progress, snap.Progress)
			assert.Equal(t, tt.status, snap.Status)
			assert.Equal(t, tt.stage, snap.Stage)
			assert.Equal(t, tt.eta, snap.EstimatedTimeRemaining)
		})
	}
}

func TestProjectExampleScenario(t *testing.T) {
	p := newDefault(t)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mid := p.ProjectAt("job-1", start, start.Add(2500*time.Millisecond))
	assert.Equal(t, 20, mid.Progress)
	assert.Equal(t, models.StageModeling3D, mid.Stage)
	assert.Empty(t, mid.Images)

	done := p.ProjectAt("job-1", start, start.Add(10*time.Second))
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, models.JobStatusSucceeded, done.Status)
	assert.Len(t, done.Images, 3)
	assert.NotEmpty(t, done.Model3D)
	assert.Equal(t, "Done!", done.CurrentStep)
}

func TestProjectIsDeterministic(t *testing.T) {
	p := newDefault(t)
	for ms := 0; ms <= 12000; ms += 250 {
		elapsed := time.Duration(ms) * time.Millisecond
		assert.Equal(t, p.Project("job-1", elapsed), p.Project("job-1", elapsed))
	}
}

func TestProjectIsMonotonic(t *testing.T) {
	p := newDefault(t)
	prev := p.Project("job-1", 0)
	for ms := 100; ms <= 15000; ms += 100 {
		snap := p.Project("job-1", time.Duration(ms)*time.Millisecond)
		assert.GreaterOrEqual(t, snap.Progress, prev.Progress, "progress regressed at %dms", ms)
		assert.GreaterOrEqual(t, models.Rank(snap.Status), models.Rank(prev.Status), "status regressed at %dms", ms)
		assert.LessOrEqual(t, snap.EstimatedTimeRemaining, prev.EstimatedTimeRemaining)
		if prev.IsTerminal() {
			assert.Equal(t, prev.Status, snap.Status, "terminal status changed at %dms", ms)
		}
		prev = snap
	}
}

func TestProjectOutputsAreCopied(t *testing.T) {
	p := newDefault(t)
	first := p.Project("job-1", time.Minute)
	first.Images[0] = "mutated"

	second := p.Project("job-1", time.Minute)
	assert.Equal(t, "/placeholder.svg?height=512&width=512", second.Images[0])
}

func TestProjectUnevenStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StepPercent = 30
	p, err := NewProjector(cfg)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Second, p.TotalDuration())
	assert.Equal(t, 90, p.Project("j", 3*time.Second).Progress)
	assert.Equal(t, 100, p.Project("j", 4*time.Second).Progress)
	assert.Equal(t, models.JobStatusSucceeded, p.Project("j", 4*time.Second).Status)
}

func TestProjectSubSecondTickRoundsEstimateUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tick = 10 * time.Millisecond
	p, err := NewProjector(cfg)
	require.NoError(t, err)

	tests := []struct {
		elapsed time.Duration
		eta     int
	}{
		{0, 1},
		{50 * time.Millisecond, 1},
		{95 * time.Millisecond, 1},
		{100 * time.Millisecond, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.eta, p.Project("j", tt.elapsed).EstimatedTimeRemaining, "elapsed %s", tt.elapsed)
	}
}

func TestNewProjectorValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Tick = 0 }},
		{"zero step", func(c *Config) { c.StepPercent = 0 }},
		{"step above 100", func(c *Config) { c.StepPercent = 101 }},
		{"no stages", func(c *Config) { c.Stages = nil }},
		{"first stage not at zero", func(c *Config) { c.Stages[0].From = 5 }},
		{"non increasing", func(c *Config) { c.Stages[2].From = 20 }},
		{"threshold at 100", func(c *Config) { c.Stages[2].From = 100 }},
		{"terminal stage status", func(c *Config) { c.Stages[1].Status = models.JobStatusSucceeded }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewProjector(cfg)
			assert.Error(t, err)
		})
	}
}
