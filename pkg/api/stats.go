package api

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/petpixie/pixie/pkg/sse"
)

// StatsConfig holds the campaign figures and fallbacks behind /api/stats
type StatsConfig struct {
	Interval                 time.Duration
	BaseGenerations          int
	DefaultProcessingSeconds int
	SatisfactionRate         int
	FundingGoal              int64
	FundingAmount            int64
	Backers                  int
	DaysLeft                 int
	// EndsAt overrides DaysLeft when set
	EndsAt time.Time
}

// DefaultStatsConfig returns the launch campaign figures
func DefaultStatsConfig() StatsConfig {
	return StatsConfig{
		Interval:                 30 * time.Second,
		BaseGenerations:          52,
		DefaultProcessingSeconds: 58,
		SatisfactionRate:         92,
		FundingGoal:              5000000,
		FundingAmount:            4250000,
		Backers:                  127,
		DaysLeft:                 12,
	}
}

// StatsResponse is the body of /api/stats and each /api/stats/live frame
type StatsResponse struct {
	TodayGenerations      int   `json:"todayGenerations"`
	AverageProcessingTime int   `json:"averageProcessingTime"`
	SatisfactionRate      int   `json:"satisfactionRate"`
	ActiveUsers           int   `json:"activeUsers"`
	FundingProgress       int   `json:"fundingProgress"`
	FundingAmount         int64 `json:"fundingAmount"`
	Backers               int   `json:"backers"`
	DaysLeft              int   `json:"daysLeft"`
}

// Stats handles GET /api/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.collectStats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to collect stats")
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// LiveStats handles GET /api/stats/live
func (h *Handler) LiveStats(w http.ResponseWriter, r *http.Request) {
	stream, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	send := func() bool {
		stats, err := h.collectStats(r.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to collect stats")
			return true
		}
		return stream.SendJSON(stats) == nil
	}
	if !send() {
		return
	}

	interval := h.cfg.Stats.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticks, stop := h.newTicker(interval)
	defer stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.closing:
			return
		case <-ticks:
			if !send() {
				return
			}
		}
	}
}

func (h *Handler) collectStats(ctx context.Context) (StatsResponse, error) {
	cfg := h.cfg.Stats
	now := h.now()

	jobs, err := h.store.List(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today := 0
	for _, job := range jobs {
		if !job.StartedAt.Before(midnight) {
			today++
		}
	}

	avg := cfg.DefaultProcessingSeconds
	if d, ok := h.metrics.AverageJobDuration(); ok {
		avg = int(math.Round(d.Seconds()))
	}

	progress := 0
	if cfg.FundingGoal > 0 {
		progress = int(cfg.FundingAmount * 100 / cfg.FundingGoal)
	}

	daysLeft := cfg.DaysLeft
	if !cfg.EndsAt.IsZero() {
		daysLeft = int(math.Ceil(cfg.EndsAt.Sub(now).Hours() / 24))
		if daysLeft < 0 {
			daysLeft = 0
		}
	}

	return StatsResponse{
		TodayGenerations:      cfg.BaseGenerations + today,
		AverageProcessingTime: avg,
		SatisfactionRate:      cfg.SatisfactionRate,
		ActiveUsers:           h.metrics.ActiveStreams(),
		FundingProgress:       progress,
		FundingAmount:         cfg.FundingAmount,
		Backers:               cfg.Backers,
		DaysLeft:              daysLeft,
	}, nil
}
