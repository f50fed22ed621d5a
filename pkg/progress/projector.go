// Package progress derives simulated job snapshots from elapsed time.
package progress

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/petpixie/pixie/pkg/models"
)

// Threshold starts a stage at the given progress percentage
type Threshold struct {
	From   int
	Stage  models.Stage
	Status models.JobStatus
	Label  string
}

// Outputs is the asset payload attached once a simulated job succeeds
type Outputs struct {
	Images  []string
	Model3D string
}

// Config holds the projection constants
type Config struct {
	Tick        time.Duration
	StepPercent int
	Stages      []Threshold
	DoneLabel   string
	Outputs     Outputs
}

// DefaultConfig returns the 1s/10% schedule with three stages
func DefaultConfig() Config {
	return Config{
		Tick:        time.Second,
		StepPercent: 10,
		Stages: []Threshold{
			{From: 0, Stage: models.StageAnalyzing, Status: models.JobStatusStarting, Label: "Analyzing image..."},
			{From: 20, Stage: models.StageModeling3D, Status: models.JobStatusProcessing, Label: "Generating 3D model..."},
			{From: 60, Stage: models.StageRenderingCharacter, Status: models.JobStatusProcessing, Label: "Generating character images..."},
		},
		DoneLabel: "Done!",
		Outputs: Outputs{
			Images: []string{
				"/placeholder.svg?height=512&width=512",
				"/placeholder.svg?height=512&width=512",
				"/placeholder.svg?height=512&width=512",
			},
			Model3D: "/placeholder.svg?height=1&width=1",
		},
	}
}

// Projector computes snapshots. It holds no mutable state and is safe for
// concurrent use.
type Projector struct {
	cfg        Config
	totalTicks int
}

// NewProjector validates cfg and builds a Projector
func NewProjector(cfg Config) (*Projector, error) {
	if cfg.Tick <= 0 {
		return nil, errors.New("tick must be positive")
	}
	if cfg.StepPercent <= 0 || cfg.StepPercent > 100 {
		return nil, fmt.Errorf("step percent %d out of range (1-100)", cfg.StepPercent)
	}
	if len(cfg.Stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}
	if cfg.Stages[0].From != 0 {
		return nil, fmt.Errorf("first stage must start at 0, got %d", cfg.Stages[0].From)
	}
	for i, st := range cfg.Stages {
		if st.From >= 100 {
			return nil, fmt.Errorf("stage %q starts at %d, must be below 100", st.Stage, st.From)
		}
		if i > 0 && st.From <= cfg.Stages[i-1].From {
			return nil, fmt.Errorf("stage %q threshold %d not above previous %d", st.Stage, st.From, cfg.Stages[i-1].From)
		}
		if models.IsTerminalState(st.Status) || !models.IsValidStatus(st.Status) {
			return nil, fmt.Errorf("stage %q has non-running status %q", st.Stage, st.Status)
		}
	}

	cfg.Stages = append([]Threshold(nil), cfg.Stages...)
	cfg.Outputs.Images = append([]string(nil), cfg.Outputs.Images...)

	return &Projector{
		cfg:        cfg,
		totalTicks: (100 + cfg.StepPercent - 1) / cfg.StepPercent,
	}, nil
}

// TotalDuration is the elapsed time after which every job has succeeded
func (p *Projector) TotalDuration() time.Duration {
	return time.Duration(p.totalTicks) * p.cfg.Tick
}

// Project returns the snapshot of job id after elapsed time. Same inputs
// always produce the same snapshot.
func (p *Projector) Project(id string, elapsed time.Duration) models.Snapshot {
	if elapsed < 0 {
		elapsed = 0
	}
	ticks := int(elapsed / p.cfg.Tick)
	if ticks > p.totalTicks {
		ticks = p.totalTicks
	}

	progress := ticks * p.cfg.StepPercent
	if progress > 100 {
		progress = 100
	}

	remaining := p.totalTicks - ticks
	if remaining < 0 {
		remaining = 0
	}

	snap := models.Snapshot{
		ID:                     id,
		Progress:               progress,
		EstimatedTimeRemaining: int(math.Ceil((time.Duration(remaining) * p.cfg.Tick).Seconds())),
	}

	if progress >= 100 {
		snap.Status = models.JobStatusSucceeded
		snap.Stage = models.StageComplete
		snap.CurrentStep = p.cfg.DoneLabel
		snap.EstimatedTimeRemaining = 0
		snap.Images = append([]string(nil), p.cfg.Outputs.Images...)
		snap.Model3D = p.cfg.Outputs.Model3D
		return snap
	}

	st := p.stageFor(progress)
	snap.Status = st.Status
	snap.Stage = st.Stage
	snap.CurrentStep = st.Label
	return snap
}

// ProjectAt is Project with elapsed computed from startedAt and now
func (p *Projector) ProjectAt(id string, startedAt, now time.Time) models.Snapshot {
	return p.Project(id, now.Sub(startedAt))
}

func (p *Projector) stageFor(progress int) Threshold {
	current := p.cfg.Stages[0]
	for _, st := range p.cfg.Stages[1:] {
		if progress < st.From {
			break
		}
		current = st
	}
	return current
}
