package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/sse"
)

// Stream close reasons reported to metrics
const (
	closeTerminal   = "terminal"
	closeDisconnect = "disconnect"
	closeWriteError = "write_error"
	closeShutdown   = "shutdown"
)

// Events handles GET /api/events?id= and pushes a snapshot every
// StreamInterval until the job is terminal or the subscriber goes away.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing prediction ID")
		return
	}

	stream, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	logger := h.logger.With().Str("job_id", id).Logger()
	h.metrics.StreamOpened()
	reason := closeDisconnect
	defer func() {
		h.metrics.StreamClosed(reason)
		logger.Debug().Str("reason", reason).Msg("stream closed")
	}()
	logger.Debug().Msg("stream opened")

	if err := stream.Comment("connected"); err != nil {
		reason = closeWriteError
		return
	}

	ctx := r.Context()
	misses := 0

	// push sends the current snapshot and reports whether the stream is done
	push := func() bool {
		snap := h.step(r, id, &misses)
		if snap == nil {
			return false
		}
		if err := stream.SendJSON(snap); err != nil {
			logger.Debug().Err(err).Msg("failed to write snapshot")
			reason = closeWriteError
			return true
		}
		h.metrics.SnapshotPushed(string(snap.Status))
		if snap.IsTerminal() {
			reason = closeTerminal
			return true
		}
		return false
	}

	if push() {
		return
	}

	ticks, stopTicker := h.newTicker(h.cfg.StreamInterval)
	defer stopTicker()

	var heartbeat <-chan time.Time
	if h.cfg.Heartbeat > 0 {
		hb, stopHeartbeat := h.newTicker(h.cfg.Heartbeat)
		defer stopHeartbeat()
		heartbeat = hb
	}

	for {
		select {
		case <-ctx.Done():
			reason = closeDisconnect
			return
		case <-h.closing:
			reason = closeShutdown
			return
		case <-heartbeat:
			if err := stream.Comment("heartbeat"); err != nil {
				reason = closeWriteError
				return
			}
		case <-ticks:
			if push() {
				return
			}
		}
	}
}

// step computes the next snapshot to push. A nil result means the upstream
// state is unknown for this tick and nothing is sent. Every failure mode
// becomes a terminal failed snapshot so the subscriber always sees an end.
func (h *Handler) step(r *http.Request, id string, misses *int) (snap *models.Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Str("job_id", id).Str("panic", fmt.Sprint(rec)).Msg("snapshot computation panicked")
			failed := models.FailedSnapshot(id, genericStatusError)
			snap = &failed
		}
	}()

	s, err := h.service.Snapshot(r.Context(), id)
	switch {
	case err == nil:
		*misses = 0
		return &s
	case errors.Is(err, generation.ErrJobNotFound):
		failed := models.FailedSnapshot(id, "Job not found")
		return &failed
	case errors.Is(err, generation.ErrUpstreamUnavailable):
		*misses++
		if *misses < h.cfg.MaxMisses {
			return nil
		}
		h.logger.Warn().Str("job_id", id).Int("misses", *misses).Msg("upstream status unavailable, giving up")
	default:
		h.logger.Error().Err(err).Str("job_id", id).Msg("failed to compute snapshot")
	}
	failed := models.FailedSnapshot(id, genericStatusError)
	return &failed
}
