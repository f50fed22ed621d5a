package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/replicate"
	"github.com/petpixie/pixie/pkg/store"
)

// Predictor is the part of the Replicate client the service needs
type Predictor interface {
	Start(ctx context.Context, req replicate.StartRequest) replicate.StartResult
	Fetch(ctx context.Context, id string) *replicate.Prediction
	AverageDuration() time.Duration
}

// ReplicateService proxies jobs to Replicate. The registry only caches the
// last snapshot; the remote side is authoritative.
type ReplicateService struct {
	base
	client Predictor
}

// NewReplicateService creates a service backed by the Replicate API
func NewReplicateService(s store.Store, client Predictor, opts ...Option) *ReplicateService {
	return &ReplicateService{
		base:   newBase(s, models.ProviderReplicate, opts),
		client: client,
	}
}

// Start creates a remote prediction and registers it
func (s *ReplicateService) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	res := s.client.Start(ctx, replicate.StartRequest{
		ImageURL:   req.ImageURL,
		Prompt:     req.Prompt,
		NumOutputs: req.NumOutputs,
	})
	if res.Failed() {
		s.jobStarted("rejected")
		s.logger.Warn().Str("detail", res.Detail).Msg("replicate refused prediction")
		return StartResult{Status: models.JobStatusFailed, Detail: res.Detail}, nil
	}

	job := &models.Job{
		ID:        res.ID,
		StartedAt: s.now(),
		Provider:  s.provider,
		ImageURL:  req.ImageURL,
		Prompt:    strings.TrimSpace(req.Prompt),
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.jobStarted("error")
		return StartResult{}, fmt.Errorf("failed to register prediction %s: %w", res.ID, err)
	}

	s.jobStarted("ok")
	s.logger.Info().Str("job_id", res.ID).Str("status", string(res.Status)).Msg("replicate prediction started")
	return StartResult{ID: res.ID, Status: res.Status}, nil
}

// Snapshot fetches the prediction and maps it onto a snapshot. Terminal
// jobs are served from the cache without calling the provider.
func (s *ReplicateService) Snapshot(ctx context.Context, id string) (models.Snapshot, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return models.Snapshot{}, err
	}
	if job.TerminalAt != nil && job.Last != nil {
		return job.Last.Clone(), nil
	}

	p := s.client.Fetch(ctx, id)
	if p == nil {
		return models.Snapshot{}, fmt.Errorf("prediction %s: %w", id, ErrUpstreamUnavailable)
	}

	now := s.now()
	snap := replicate.ToSnapshot(p, s.client.AverageDuration(), now)
	snap.ID = id
	snap = keepMonotonic(job.Last, snap)

	s.observe(ctx, job, snap, now)
	return snap, nil
}

// keepMonotonic stops heuristic progress from going backwards between
// polls, e.g. the flat 50% estimate followed by a lower predict_time estimate.
func keepMonotonic(last *models.Snapshot, snap models.Snapshot) models.Snapshot {
	if last == nil || snap.IsTerminal() {
		return snap
	}
	if models.Rank(snap.Status) < models.Rank(last.Status) {
		return last.Clone()
	}
	if snap.Status == last.Status && snap.Progress < last.Progress {
		snap.Progress = last.Progress
	}
	return snap
}
