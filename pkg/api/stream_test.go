package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/sse"
)

func (e *testEnv) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e.router)
	t.Cleanup(srv.Close)
	t.Cleanup(e.handler.Close)
	return srv
}

func openStream(t *testing.T, url string) (*sse.Reader, func()) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	return sse.NewReader(resp.Body), func() { resp.Body.Close() }
}

func nextSnapshot(t *testing.T, r *sse.Reader) models.Snapshot {
	t.Helper()
	ev, err := r.Next()
	require.NoError(t, err)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	return snap
}

func TestEventsExampleScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := env.serve(t)

	w := env.do(t, http.MethodPost, "/api/generate", map[string]string{"imageUrl": "https://cdn.example.com/cat.png"})
	require.Equal(t, http.StatusOK, w.Code)

	reader, closeStream := openStream(t, srv.URL+"/api/events?id=job-1")
	defer closeStream()

	var frames []models.Snapshot
	for {
		snap := nextSnapshot(t, reader)
		frames = append(frames, snap)
		if snap.IsTerminal() {
			break
		}
		require.Less(t, len(frames), 20, "stream never reached a terminal snapshot")
		env.clock.Advance(time.Second)
		env.ticks <- env.clock.Now()
	}

	require.GreaterOrEqual(t, len(frames), 10)
	for i := 1; i < len(frames); i++ {
		assert.GreaterOrEqual(t, frames[i].Progress, frames[i-1].Progress)
		assert.GreaterOrEqual(t, models.Rank(frames[i].Status), models.Rank(frames[i-1].Status))
	}

	first, last := frames[0], frames[len(frames)-1]
	assert.Equal(t, models.JobStatusStarting, first.Status)
	assert.Equal(t, 0, first.Progress)
	assert.Equal(t, models.JobStatusSucceeded, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Len(t, last.Images, 3)
	assert.Equal(t, "/placeholder.svg?height=1&width=1", last.Model3D)

	// the server closes the stream after the terminal frame
	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return env.metrics.ActiveStreams() == 0 }, time.Second, 10*time.Millisecond)
}

func TestEventsUnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := env.serve(t)

	reader, closeStream := openStream(t, srv.URL+"/api/events?id=ghost")
	defer closeStream()

	snap := nextSnapshot(t, reader)
	assert.Equal(t, "ghost", snap.ID)
	assert.Equal(t, models.JobStatusFailed, snap.Status)
	assert.Equal(t, "Job not found", snap.Error)

	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventsMissingID(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing prediction ID", decode[map[string]string](t, w)["error"])
}

func TestEventsFailureModes(t *testing.T) {
	tests := []struct {
		name     string
		snapshot func(context.Context, string) (models.Snapshot, error)
		ticks    int
	}{
		{
			name: "panic",
			snapshot: func(context.Context, string) (models.Snapshot, error) {
				panic("boom")
			},
		},
		{
			name: "unexpected error",
			snapshot: func(context.Context, string) (models.Snapshot, error) {
				return models.Snapshot{}, errors.New("decode failure")
			},
		},
		{
			name: "upstream unavailable",
			snapshot: func(context.Context, string) (models.Snapshot, error) {
				return models.Snapshot{}, generation.ErrUpstreamUnavailable
			},
			ticks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &stubService{snapshot: tt.snapshot})
			srv := env.serve(t)

			reader, closeStream := openStream(t, srv.URL+"/api/events?id=p-1")
			defer closeStream()

			go func() {
				for i := 0; i < tt.ticks; i++ {
					select {
					case env.ticks <- time.Now():
					case <-time.After(2 * time.Second):
						return
					}
				}
			}()

			snap := nextSnapshot(t, reader)
			assert.Equal(t, models.JobStatusFailed, snap.Status)
			assert.Equal(t, "Failed to fetch prediction status", snap.Error)

			_, err := reader.Next()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestEventsClosedOnShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := env.serve(t)
	env.do(t, http.MethodPost, "/api/generate", map[string]string{"imageUrl": "https://cdn.example.com/cat.png"})

	reader, closeStream := openStream(t, srv.URL+"/api/events?id=job-1")
	defer closeStream()

	snap := nextSnapshot(t, reader)
	assert.Equal(t, models.JobStatusStarting, snap.Status)
	require.Equal(t, 1, env.metrics.ActiveStreams())

	env.handler.Close()
	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return env.metrics.ActiveStreams() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLiveStats(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := env.serve(t)

	reader, closeStream := openStream(t, srv.URL+"/api/stats/live")
	defer closeStream()

	decodeStats := func() StatsResponse {
		ev, err := reader.Next()
		require.NoError(t, err)
		var stats StatsResponse
		require.NoError(t, json.Unmarshal(ev.Data, &stats))
		return stats
	}

	assert.Equal(t, 52, decodeStats().TodayGenerations)

	env.do(t, http.MethodPost, "/api/generate", map[string]string{"imageUrl": "https://cdn.example.com/cat.png"})
	env.ticks <- time.Now()
	assert.Equal(t, 53, decodeStats().TodayGenerations)
}
