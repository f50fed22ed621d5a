package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/metrics"
	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/ratelimit"
	"github.com/petpixie/pixie/pkg/store"
)

const genericStatusError = "Failed to fetch prediction status"

// Config holds the tunables of the HTTP surface
type Config struct {
	StreamInterval time.Duration // snapshot push period
	Heartbeat      time.Duration // keep-alive comment period, 0 disables
	MaxMisses      int           // consecutive unknown upstream states before failing a stream
	Upload         UploadConfig
	Stats          StatsConfig
}

// DefaultConfig returns the 1s push schedule and 5MB upload ceiling
func DefaultConfig() Config {
	return Config{
		StreamInterval: time.Second,
		Heartbeat:      15 * time.Second,
		MaxMisses:      5,
		Upload:         DefaultUploadConfig(),
		Stats:          DefaultStatsConfig(),
	}
}

// TickerFunc creates a ticker channel and its stop function
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Handler serves the generation API
type Handler struct {
	service   generation.Service
	store     store.Store
	cfg       Config
	metrics   *metrics.Recorder
	limiter   *ratelimit.Limiter
	logger    zerolog.Logger
	validate  *validator.Validate
	now       func() time.Time
	newTicker TickerFunc
	startedAt time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

// Option customizes a Handler
type Option func(*Handler)

// WithMetrics attaches a metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithRateLimiter limits the job and upload endpoints per client IP
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithTicker overrides how periodic pushes are scheduled
func WithTicker(f TickerFunc) Option {
	return func(h *Handler) { h.newTicker = f }
}

// NewHandler creates a new API handler
func NewHandler(svc generation.Service, s store.Store, cfg Config, opts ...Option) *Handler {
	h := &Handler{
		service:   svc,
		store:     s,
		cfg:       cfg,
		logger:    zerolog.Nop(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
		newTicker: realTicker,
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cfg.StreamInterval <= 0 {
		h.cfg.StreamInterval = time.Second
	}
	if h.cfg.MaxMisses <= 0 {
		h.cfg.MaxMisses = 5
	}
	h.startedAt = h.now()
	return h
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/api/generate", h.limited(h.Generate)).Methods(http.MethodPost)
	r.HandleFunc("/api/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/events", h.Events).Methods(http.MethodGet)
	r.Handle("/api/sign-upload", h.limited(h.SignUpload)).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/stats/live", h.LiveStats).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

// Close ends every open stream. Call it before shutting the server down so
// long-lived responses do not hold the shutdown open.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *Handler) limited(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Middleware(ratelimit.IPKeyFunc)(fn)
}

type generateRequest struct {
	ImageURL   string `json:"imageUrl" validate:"required"`
	Prompt     string `json:"prompt" validate:"max=1000"`
	NumOutputs int    `json:"numOutputs" validate:"omitempty,min=1,max=4"`
}

type startFailedResponse struct {
	ID     *string          `json:"id"`
	Status models.JobStatus `json:"status"`
	Detail string           `json:"detail"`
	Error  string           `json:"error"`
}

// Generate handles POST /api/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req.ImageURL = strings.TrimSpace(req.ImageURL)

	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, generateValidationMessage(err))
		return
	}

	res, err := h.service.Start(r.Context(), generation.StartRequest{
		ImageURL:   req.ImageURL,
		Prompt:     req.Prompt,
		NumOutputs: req.NumOutputs,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to start generation")
		writeError(w, http.StatusInternalServerError, "Unexpected error starting generation")
		return
	}
	if res.Failed() {
		writeJSON(w, http.StatusInternalServerError, startFailedResponse{
			Status: models.JobStatusFailed,
			Detail: res.Detail,
			Error:  res.Detail,
		})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func generateValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	switch verrs[0].Field() {
	case "ImageURL":
		return "Image URL is required"
	case "Prompt":
		return "Prompt is too long"
	case "NumOutputs":
		return "numOutputs must be between 1 and 4"
	default:
		return "Invalid request"
	}
}

// Status handles GET /api/status?id=
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id")
		return
	}

	snap, err := h.service.Snapshot(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, generation.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, generation.ErrUpstreamUnavailable):
		if job, gerr := h.store.Get(r.Context(), id); gerr == nil && job.Last != nil {
			writeJSON(w, http.StatusOK, job.Last)
			return
		}
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusServiceUnavailable, "Status temporarily unavailable")
	default:
		h.logger.Error().Err(err).Str("job_id", id).Msg("failed to compute snapshot")
		writeError(w, http.StatusInternalServerError, genericStatusError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
