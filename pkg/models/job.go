package models

import (
	"time"
)

// JobStatus is the canonical lifecycle status of a generation job.
// Both the simulated and the Replicate-backed providers report through it.
type JobStatus string

const (
	JobStatusStarting   JobStatus = "starting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// Stage is the finer-grained step a simulated job is in. It never changes the
// status vocabulary, it only refines "processing".
type Stage string

const (
	StageAnalyzing          Stage = "analyzing"
	StageModeling3D         Stage = "modeling-3d"
	StageRenderingCharacter Stage = "rendering-character"
	StageComplete           Stage = "complete"
)

// Provider identifies which backend owns a job's truth
type Provider string

const (
	ProviderSimulated Provider = "simulated"
	ProviderReplicate Provider = "replicate"
)

// Job is a registry entry. ID and StartedAt never change after creation.
type Job struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	Provider   Provider   `json:"provider"`
	ImageURL   string     `json:"image_url,omitempty"`
	Prompt     string     `json:"prompt,omitempty"`
	Last       *Snapshot  `json:"last,omitempty"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.Last != nil {
		snap := j.Last.Clone()
		cp.Last = &snap
	}
	if j.TerminalAt != nil {
		t := *j.TerminalAt
		cp.TerminalAt = &t
	}
	return &cp
}

// Snapshot is the point-in-time view of a job pushed to subscribers and
// returned by the status endpoint.
type Snapshot struct {
	ID                     string    `json:"id"`
	Status                 JobStatus `json:"status"`
	Stage                  Stage     `json:"stage,omitempty"`
	Progress               int       `json:"progress"`
	EstimatedTimeRemaining int       `json:"estimatedTimeRemaining"`
	CurrentStep            string    `json:"currentStep,omitempty"`
	Images                 []string  `json:"images,omitempty"`
	Model3D                string    `json:"model3D,omitempty"`
	Error                  string    `json:"error,omitempty"`
}

// Clone copies the snapshot including its image slice
func (s Snapshot) Clone() Snapshot {
	if s.Images != nil {
		s.Images = append([]string(nil), s.Images...)
	}
	return s
}

// IsTerminal reports whether the snapshot's status is terminal
func (s Snapshot) IsTerminal() bool {
	return IsTerminalState(s.Status)
}

// FailedSnapshot builds the synthetic terminal snapshot used when a job is
// unknown or its state could not be computed.
func FailedSnapshot(id, message string) Snapshot {
	return Snapshot{
		ID:       id,
		Status:   JobStatusFailed,
		Progress: 0,
		Error:    message,
	}
}

// SnapshotPatch is a partial snapshot: nil fields were absent on the wire.
type SnapshotPatch struct {
	ID                     *string    `json:"id,omitempty"`
	Status                 *JobStatus `json:"status,omitempty"`
	Stage                  *Stage     `json:"stage,omitempty"`
	Progress               *int       `json:"progress,omitempty"`
	EstimatedTimeRemaining *int       `json:"estimatedTimeRemaining,omitempty"`
	CurrentStep            *string    `json:"currentStep,omitempty"`
	Images                 []string   `json:"images,omitempty"`
	Model3D                *string    `json:"model3D,omitempty"`
	Error                  *string    `json:"error,omitempty"`
}

// PatchFrom converts a full snapshot into a patch with every field present
func PatchFrom(s Snapshot) SnapshotPatch {
	s = s.Clone()
	return SnapshotPatch{
		ID:                     &s.ID,
		Status:                 &s.Status,
		Stage:                  &s.Stage,
		Progress:               &s.Progress,
		EstimatedTimeRemaining: &s.EstimatedTimeRemaining,
		CurrentStep:            &s.CurrentStep,
		Images:                 s.Images,
		Model3D:                &s.Model3D,
		Error:                  &s.Error,
	}
}
