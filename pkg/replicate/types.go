package replicate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petpixie/pixie/pkg/models"
)

// Prediction mirrors the subset of Replicate's prediction object we use
type Prediction struct {
	ID          string         `json:"id"`
	Version     string         `json:"version,omitempty"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      Output         `json:"output,omitempty"`
	Error       any            `json:"error,omitempty"`
	Logs        string         `json:"logs,omitempty"`
	Metrics     *Metrics       `json:"metrics,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Metrics holds Replicate timing metadata in seconds
type Metrics struct {
	PredictTime *float64 `json:"predict_time,omitempty"`
	TotalTime   *float64 `json:"total_time,omitempty"`
}

// Output accepts either a list of URLs or a single URL
type Output []string

// UnmarshalJSON implements json.Unmarshaler
func (o *Output) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*o = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("unsupported output shape: %s", string(data))
	}
	*o = Output{single}
	return nil
}

// ErrorMessage renders the provider error verbatim where possible
func (p *Prediction) ErrorMessage() string {
	switch e := p.Error.(type) {
	case nil:
		return ""
	case string:
		return e
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Sprint(e)
		}
		return string(b)
	}
}

// JobStatus maps the remote status onto the canonical enum
func (p *Prediction) JobStatus() models.JobStatus {
	return NormalizeStatus(p.Status)
}

// NormalizeStatus maps a Replicate status string onto the canonical enum.
// Unknown non-terminal values are treated as processing.
func NormalizeStatus(status string) models.JobStatus {
	switch status {
	case "starting":
		return models.JobStatusStarting
	case "processing":
		return models.JobStatusProcessing
	case "succeeded":
		return models.JobStatusSucceeded
	case "failed":
		return models.JobStatusFailed
	case "canceled", "aborted":
		return models.JobStatusCanceled
	default:
		return models.JobStatusProcessing
	}
}

// StartRequest holds the inputs of a new prediction
type StartRequest struct {
	ImageURL   string
	Prompt     string
	NumOutputs int
}

// StartResult is the outcome of Start. Failures are reported in-band:
// Status is failed, ID is empty and Detail carries the reason.
type StartResult struct {
	ID     string
	Status models.JobStatus
	Detail string
}

// Failed reports whether the prediction could not be started
func (r StartResult) Failed() bool {
	return r.Status == models.JobStatusFailed
}

// StatusError is a non-2xx response from the API
type StatusError struct {
	Code   int
	Status string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

type predictionInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	NumOutputs        int     `json:"num_outputs"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Scheduler         string  `json:"scheduler"`
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type errorBody struct {
	Detail string `json:"detail"`
}
