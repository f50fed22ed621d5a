package replicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/petpixie/pixie/pkg/models"
)

func floatPtr(f float64) *float64 { return &f }

func TestProgress(t *testing.T) {
	tests := []struct {
		name string
		p    *Prediction
		want int
	}{
		{"nil", nil, 0},
		{"starting", &Prediction{Status: "starting"}, 10},
		{"processing without metrics", &Prediction{Status: "processing"}, 50},
		{"processing early", &Prediction{Status: "processing", Metrics: &Metrics{PredictTime: floatPtr(6)}}, 27},
		{"processing late is capped", &Prediction{Status: "processing", Metrics: &Metrics{PredictTime: floatPtr(600)}}, 90},
		{"succeeded", &Prediction{Status: "succeeded"}, 100},
		{"failed", &Prediction{Status: "failed"}, 0},
		{"canceled", &Prediction{Status: "canceled"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.p))
		})
	}
}

func TestEstimatedTimeRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	started := now.Add(-20 * time.Second)
	longAgo := now.Add(-5 * time.Minute)

	assert.Equal(t, 40*time.Second, EstimatedTimeRemaining(&Prediction{Status: "processing", StartedAt: &started}, time.Minute, now))
	assert.Equal(t, time.Duration(0), EstimatedTimeRemaining(&Prediction{Status: "processing", StartedAt: &longAgo}, time.Minute, now))
	assert.Equal(t, time.Minute, EstimatedTimeRemaining(&Prediction{Status: "processing"}, time.Minute, now))
	assert.Equal(t, time.Duration(0), EstimatedTimeRemaining(&Prediction{Status: "starting", StartedAt: &started}, time.Minute, now))
	assert.Equal(t, time.Duration(0), EstimatedTimeRemaining(nil, time.Minute, now))
}

func TestToSnapshot(t *testing.T) {
	now := time.Now()

	ok := ToSnapshot(&Prediction{ID: "p", Status: "succeeded", Output: Output{"a.png"}}, time.Minute, now)
	assert.Equal(t, models.JobStatusSucceeded, ok.Status)
	assert.Equal(t, 100, ok.Progress)
	assert.Equal(t, []string{"a.png"}, ok.Images)
	assert.Empty(t, ok.Error)

	failed := ToSnapshot(&Prediction{ID: "p", Status: "failed", Error: "NSFW content detected"}, time.Minute, now)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.Equal(t, "NSFW content detected", failed.Error)
	assert.Empty(t, failed.Images)

	canceled := ToSnapshot(&Prediction{ID: "p", Status: "canceled"}, time.Minute, now)
	assert.Equal(t, models.JobStatusCanceled, canceled.Status)
	assert.Equal(t, "Generation canceled", canceled.Error)

	structured := ToSnapshot(&Prediction{ID: "p", Status: "failed", Error: map[string]any{"code": "E1"}}, time.Minute, now)
	assert.Equal(t, `{"code":"E1"}`, structured.Error)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, models.JobStatusCanceled, NormalizeStatus("aborted"))
	assert.Equal(t, models.JobStatusProcessing, NormalizeStatus("queued-somewhere"))
	assert.Equal(t, models.JobStatusStarting, NormalizeStatus("starting"))
}
