package subscription

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petpixie/pixie/pkg/api"
	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/progress"
	"github.com/petpixie/pixie/pkg/store"
)

// newServer runs the real API on a fast projection schedule
func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := progress.DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	proj, err := progress.NewProjector(cfg)
	require.NoError(t, err)

	reg := store.NewMemoryStore()
	svc := generation.NewSimulatedService(reg, proj)

	apiCfg := api.DefaultConfig()
	apiCfg.StreamInterval = 5 * time.Millisecond
	h := api.NewHandler(svc, reg, apiCfg)

	r := mux.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return srv
}

func TestHTTPTransportEndToEnd(t *testing.T) {
	srv := newServer(t)
	m := NewManager(NewHTTPTransport(srv.URL, nil), DefaultConfig())

	require.NoError(t, m.Start(context.Background(), generation.StartRequest{ImageURL: "https://cdn.example.com/cat.png"}))

	st, err := waitDone(t, m)
	require.NoError(t, err)
	assert.Equal(t, PhaseSucceeded, st.Phase)
	assert.Equal(t, models.JobStatusSucceeded, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Len(t, st.Images, 3)
	assert.Equal(t, "Done!", st.CurrentStep)
}

func TestHTTPTransportStartRejected(t *testing.T) {
	srv := newServer(t)
	tr := NewHTTPTransport(srv.URL, nil)

	res, err := tr.Start(context.Background(), generation.StartRequest{})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "Image URL is required", res.Detail)
}

func TestHTTPTransportPoll(t *testing.T) {
	srv := newServer(t)
	tr := NewHTTPTransport(srv.URL, nil)
	ctx := context.Background()

	_, err := tr.Poll(ctx, "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)

	res, err := tr.Start(ctx, generation.StartRequest{ImageURL: "https://cdn.example.com/cat.png"})
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)

	patch, err := tr.Poll(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, patch.Status)
	require.NotNil(t, patch.Progress)
	assert.Equal(t, res.ID, *patch.ID)
}

func TestHTTPTransportOpenUnknownJob(t *testing.T) {
	srv := newServer(t)
	tr := NewHTTPTransport(srv.URL, nil)

	stream, err := tr.Open(context.Background(), "ghost")
	require.NoError(t, err)
	defer stream.Close()

	data, err := stream.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ghost","status":"failed","progress":0,"estimatedTimeRemaining":0,"error":"Job not found"}`, string(data))
}
