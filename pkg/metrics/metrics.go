package metrics

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "pixie"

// Recorder owns the process metrics. All methods are safe on a nil
// receiver so components can run without metrics in tests.
type Recorder struct {
	registry *prometheus.Registry

	jobsStarted       *prometheus.CounterVec
	snapshotsPushed   *prometheus.CounterVec
	streamSessions    *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	upstreamRequests  *prometheus.CounterVec
	upstreamRetries   *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	registryEvictions *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec

	mu          sync.Mutex
	streams     int
	durationSum time.Duration
	durationN   int
}

// NewRecorder creates a recorder backed by its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Generation jobs requested, by provider and result",
		}, []string{"provider", "result"}),
		snapshotsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pushed_total",
			Help:      "Snapshots written to push subscriptions, by status",
		}, []string{"status"}),
		streamSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sessions_total",
			Help:      "Closed push subscriptions, by close reason",
		}, []string{"reason"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Currently open push subscriptions",
		}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to the generation provider, by operation and outcome",
		}, []string{"op", "outcome"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Retried calls to the generation provider",
		}, []string{"op"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to the first observed terminal snapshot",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180, 300},
		}, []string{"provider", "status"}),
		registryEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_evictions_total",
			Help:      "Jobs removed from the registry by the sweeper",
		}, []string{"reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code",
		}, []string{"route", "code", "method"}),
	}

	r.registry.MustRegister(
		r.jobsStarted,
		r.snapshotsPushed,
		r.streamSessions,
		r.activeStreams,
		r.upstreamRequests,
		r.upstreamRetries,
		r.jobDuration,
		r.registryEvictions,
		r.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RegisterRegistrySize exports the job registry size, read on scrape
func (r *Recorder) RegisterRegistrySize(size func() float64) {
	if r == nil {
		return
	}
	r.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_jobs",
		Help:      "Jobs currently held in the registry",
	}, size))
}

// JobStarted counts a start-job request
func (r *Recorder) JobStarted(provider, result string) {
	if r == nil {
		return
	}
	r.jobsStarted.WithLabelValues(provider, result).Inc()
}

// SnapshotPushed counts a snapshot frame
func (r *Recorder) SnapshotPushed(status string) {
	if r == nil {
		return
	}
	r.snapshotsPushed.WithLabelValues(status).Inc()
}

// StreamOpened tracks a new push subscription
func (r *Recorder) StreamOpened() {
	if r == nil {
		return
	}
	r.activeStreams.Inc()
	r.mu.Lock()
	r.streams++
	r.mu.Unlock()
}

// StreamClosed tracks the end of a push subscription
func (r *Recorder) StreamClosed(reason string) {
	if r == nil {
		return
	}
	r.activeStreams.Dec()
	r.streamSessions.WithLabelValues(reason).Inc()
	r.mu.Lock()
	r.streams--
	r.mu.Unlock()
}

// ActiveStreams returns the number of open push subscriptions
func (r *Recorder) ActiveStreams() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

// JobFinished records how long a job took to reach a terminal status
func (r *Recorder) JobFinished(provider, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.jobDuration.WithLabelValues(provider, status).Observe(d.Seconds())
	if status != "succeeded" {
		return
	}
	r.mu.Lock()
	r.durationSum += d
	r.durationN++
	r.mu.Unlock()
}

// AverageJobDuration is the mean duration of succeeded jobs. ok is false
// until one has been observed.
func (r *Recorder) AverageJobDuration() (avg time.Duration, ok bool) {
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.durationN == 0 {
		return 0, false
	}
	return r.durationSum / time.Duration(r.durationN), true
}

// UpstreamRequest counts a provider call outcome
func (r *Recorder) UpstreamRequest(op, outcome string) {
	if r == nil {
		return
	}
	r.upstreamRequests.WithLabelValues(op, outcome).Inc()
}

// UpstreamRetry counts a retried provider call
func (r *Recorder) UpstreamRetry(op string) {
	if r == nil {
		return
	}
	r.upstreamRetries.WithLabelValues(op).Inc()
}

// Evicted counts registry evictions
func (r *Recorder) Evicted(reason string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.registryEvictions.WithLabelValues(reason).Add(float64(n))
}

// HTTPMiddleware counts requests per matched route
func (r *Recorder) HTTPMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if r == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			route := "unmatched"
			if cur := mux.CurrentRoute(req); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			counter := r.httpRequests.MustCurryWith(prometheus.Labels{"route": route})
			promhttp.InstrumentHandlerCounter(counter, next).ServeHTTP(w, req)
		})
	}
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		families, err := r.registry.Gather()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
		for _, mf := range families {
			if err := encoder.Encode(mf); err != nil {
				http.Error(w, "failed to encode metrics", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", string(expfmt.FmtText))
		w.Write(buf.Bytes())
	})
}
