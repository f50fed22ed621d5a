package replicate

import (
	"math"
	"time"

	"github.com/petpixie/pixie/pkg/models"
)

// Progress estimates completion from the remote status. Replicate exposes no
// fine-grained progress, so processing is 50% unless predict_time is known,
// in which case it scales linearly and is capped at 90% until completion.
func Progress(p *Prediction) int {
	if p == nil {
		return 0
	}
	switch p.JobStatus() {
	case models.JobStatusStarting:
		return 10
	case models.JobStatusProcessing:
		if p.Metrics != nil && p.Metrics.PredictTime != nil && *p.Metrics.PredictTime > 0 {
			return int(math.Min(90, 20+(*p.Metrics.PredictTime/60)*70))
		}
		return 50
	case models.JobStatusSucceeded:
		return 100
	default:
		return 0
	}
}

// EstimatedTimeRemaining subtracts time since the remote start from the
// average duration. Only processing predictions have a non-zero estimate.
func EstimatedTimeRemaining(p *Prediction, average time.Duration, now time.Time) time.Duration {
	if p == nil || p.JobStatus() != models.JobStatusProcessing {
		return 0
	}
	var elapsed time.Duration
	if p.StartedAt != nil {
		elapsed = now.Sub(*p.StartedAt)
	}
	remaining := average - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ToSnapshot maps a prediction onto the canonical snapshot
func ToSnapshot(p *Prediction, average time.Duration, now time.Time) models.Snapshot {
	status := p.JobStatus()
	snap := models.Snapshot{
		ID:                     p.ID,
		Status:                 status,
		Progress:               Progress(p),
		EstimatedTimeRemaining: int(math.Ceil(EstimatedTimeRemaining(p, average, now).Seconds())),
		CurrentStep:            stepLabel(status),
	}

	switch status {
	case models.JobStatusSucceeded:
		snap.Images = append([]string(nil), p.Output...)
	case models.JobStatusFailed:
		snap.Error = p.ErrorMessage()
		if snap.Error == "" {
			snap.Error = "Generation failed"
		}
	case models.JobStatusCanceled:
		snap.Error = p.ErrorMessage()
		if snap.Error == "" {
			snap.Error = "Generation canceled"
		}
	}
	return snap
}

func stepLabel(status models.JobStatus) string {
	switch status {
	case models.JobStatusStarting:
		return "Waiting for a GPU..."
	case models.JobStatusProcessing:
		return "Generating character images..."
	case models.JobStatusSucceeded:
		return "Done!"
	default:
		return ""
	}
}
