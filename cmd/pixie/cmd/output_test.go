package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petpixie/pixie/pkg/models"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		progress int
		want     string
	}{
		{0, "[--------------------]"},
		{50, "[##########----------]"},
		{100, "[####################]"},
		{150, "[####################]"},
		{-5, "[--------------------]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressBar(tt.progress), "progress %d", tt.progress)
	}
}

func TestProgressLine(t *testing.T) {
	assert.Equal(t, "[####----------------]  20%  modeling-3d  Building 3D model",
		progressLine(20, "modeling-3d", "Building 3D model"))
	assert.Equal(t, "[--------------------]   0%", progressLine(0, "", ""))
}

func TestRender(t *testing.T) {
	snap := models.Snapshot{
		ID:          "job-1",
		Status:      models.JobStatusSucceeded,
		Progress:    100,
		CurrentStep: "Done!",
		Images:      []string{"a.png", "b.png"},
		Model3D:     "m.glb",
	}
	defer func(f string) { outputFormat = f }(outputFormat)

	t.Run("json", func(t *testing.T) {
		outputFormat = formatJSON
		var buf bytes.Buffer
		require.NoError(t, render(&buf, snap, snapshotRows(snap)))
		assert.Contains(t, buf.String(), `"currentStep": "Done!"`)
	})

	t.Run("yaml keeps wire names", func(t *testing.T) {
		outputFormat = formatYAML
		var buf bytes.Buffer
		require.NoError(t, render(&buf, snap, snapshotRows(snap)))
		assert.Contains(t, buf.String(), "model3D: m.glb")
		assert.Contains(t, buf.String(), "estimatedTimeRemaining: 0")
	})

	t.Run("table", func(t *testing.T) {
		outputFormat = formatTable
		var buf bytes.Buffer
		require.NoError(t, render(&buf, snap, snapshotRows(snap)))
		out := buf.String()
		for _, want := range []string{"job-1", "succeeded", "100%", "Image 2", "b.png", "3D Model"} {
			assert.Contains(t, out, want)
		}
		assert.NotContains(t, out, "Error")
	})
}

func TestSnapshotRowsIncludeError(t *testing.T) {
	rows := snapshotRows(models.FailedSnapshot("job-9", "Job not found"))
	assert.Equal(t, []string{"Error", "Job not found"}, rows[len(rows)-1])
}
