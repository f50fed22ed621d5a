// Package subscription follows a generation job from the client side. It
// starts the job, consumes the push stream, reconnects when the stream
// drops and falls back to polling when it cannot be re-established.
package subscription

import (
	"github.com/petpixie/pixie/pkg/models"
)

// Phase is the public lifecycle of a client session
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseStarting   Phase = "starting"
	PhaseProcessing Phase = "processing"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

// DefaultEstimatedTime is the estimate shown before the server sends one
const DefaultEstimatedTime = 60

// State is the reconciled client view of a job
type State struct {
	ID            string           `json:"id"`
	Phase         Phase            `json:"phase"`
	Status        models.JobStatus `json:"status,omitempty"` // last status reported by the server
	Stage         models.Stage     `json:"stage,omitempty"`
	Progress      int              `json:"progress"`
	Images        []string         `json:"images,omitempty"`
	Model3D       string           `json:"model3D,omitempty"`
	Error         string           `json:"error,omitempty"`
	EstimatedTime int              `json:"estimatedTime"`
	CurrentStep   string           `json:"currentStep,omitempty"`
}

func idleState() State {
	return State{Phase: PhaseIdle, EstimatedTime: DefaultEstimatedTime}
}

// Clone copies the state including its image slice
func (s State) Clone() State {
	if s.Images != nil {
		s.Images = append([]string(nil), s.Images...)
	}
	return s
}

// Terminal reports whether the session has finished
func (s State) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}

// Active reports whether a job is being started or followed
func (s State) Active() bool {
	return s.Phase == PhaseStarting || s.Phase == PhaseProcessing
}

// Apply merges the fields present in p and reports whether anything was
// merged. Redelivered snapshots are dropped: a status ranked below the last
// one seen, or a lower progress at the same rank, is stale. Nothing is
// merged once the state is terminal.
func (s State) Apply(p models.SnapshotPatch) (State, bool) {
	if s.Terminal() {
		return s, false
	}

	current := models.Rank(s.Status)
	incoming := current
	if p.Status != nil {
		if !models.IsValidStatus(*p.Status) {
			p.Status = nil
		} else {
			incoming = models.Rank(*p.Status)
		}
	}
	if incoming < current {
		return s, false
	}
	if incoming == current && p.Progress != nil && *p.Progress < s.Progress {
		return s, false
	}

	next := s.Clone()
	if p.ID != nil && next.ID == "" {
		next.ID = *p.ID
	}
	if p.Stage != nil {
		next.Stage = *p.Stage
	}
	if p.Progress != nil {
		next.Progress = *p.Progress
	}
	if p.EstimatedTimeRemaining != nil {
		next.EstimatedTime = *p.EstimatedTimeRemaining
	}
	if p.CurrentStep != nil {
		next.CurrentStep = *p.CurrentStep
	}
	if p.Images != nil {
		next.Images = append([]string(nil), p.Images...)
	}
	if p.Model3D != nil {
		next.Model3D = *p.Model3D
	}
	if p.Error != nil {
		next.Error = *p.Error
	}
	if p.Status != nil {
		next.Status = *p.Status
		next.Phase = phaseFor(*p.Status)
	}

	switch next.Status {
	case models.JobStatusCanceled:
		if next.Error == "" {
			next.Error = "Generation canceled"
		}
	case models.JobStatusFailed:
		if next.Error == "" {
			next.Error = "Generation failed"
		}
	}
	return next, true
}

func phaseFor(status models.JobStatus) Phase {
	switch status {
	case models.JobStatusSucceeded:
		return PhaseSucceeded
	case models.JobStatusFailed, models.JobStatusCanceled:
		return PhaseFailed
	default:
		return PhaseProcessing
	}
}
