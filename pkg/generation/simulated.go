package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/progress"
	"github.com/petpixie/pixie/pkg/store"
)

// SimulatedService derives every snapshot from the job's start time. The
// registry only needs id and StartedAt.
type SimulatedService struct {
	base
	projector *progress.Projector
}

// NewSimulatedService creates a service backed by the progress projection
func NewSimulatedService(s store.Store, projector *progress.Projector, opts ...Option) *SimulatedService {
	return &SimulatedService{
		base:      newBase(s, models.ProviderSimulated, opts),
		projector: projector,
	}
}

// Start registers a new job starting now
func (s *SimulatedService) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	job := &models.Job{
		ID:        s.newID(),
		StartedAt: s.now(),
		Provider:  s.provider,
		ImageURL:  req.ImageURL,
		Prompt:    strings.TrimSpace(req.Prompt),
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.jobStarted("error")
		return StartResult{}, fmt.Errorf("failed to register job: %w", err)
	}

	s.jobStarted("ok")
	s.logger.Info().Str("job_id", job.ID).Msg("simulated job started")
	return StartResult{ID: job.ID, Status: models.JobStatusStarting}, nil
}

// Snapshot projects the job's state at the current time
func (s *SimulatedService) Snapshot(ctx context.Context, id string) (models.Snapshot, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}

	now := s.now()
	snap := s.projector.ProjectAt(id, job.StartedAt, now)
	if snap.IsTerminal() && job.TerminalAt == nil {
		s.observe(ctx, job, snap, now)
	}
	return snap, nil
}
