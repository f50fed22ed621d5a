package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/petpixie/pixie/internal/config"
	"github.com/petpixie/pixie/pkg/api"
	"github.com/petpixie/pixie/pkg/cleanup"
	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/logging"
	"github.com/petpixie/pixie/pkg/metrics"
	"github.com/petpixie/pixie/pkg/middleware"
	"github.com/petpixie/pixie/pkg/progress"
	"github.com/petpixie/pixie/pkg/ratelimit"
	"github.com/petpixie/pixie/pkg/replicate"
	"github.com/petpixie/pixie/pkg/retry"
	"github.com/petpixie/pixie/pkg/store"
	"github.com/petpixie/pixie/pkg/tracing"
)

// app holds every long-lived component of the server
type app struct {
	cfg      *config.Config
	registry store.Store
	tracer   *tracing.Provider
	metrics  *metrics.Recorder
	limiter  *ratelimit.Limiter
	service  generation.Service
	handler  *api.Handler
	sweeper  *cleanup.Sweeper
	router   *mux.Router
	metricsR *mux.Router
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewRecorder()}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracer = tracer

	registry, err := store.New(store.Config{Backend: cfg.Registry.Backend, Name: cfg.Registry.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	a.registry = registry
	a.metrics.RegisterRegistrySize(func() float64 {
		n, err := registry.Count(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})

	a.service, err = newService(cfg, registry, a.metrics, tracer, logger)
	if err != nil {
		registry.Close()
		return nil, err
	}

	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithLogger(logging.WithComponent(logger, "api")),
	}
	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		opts = append(opts, api.WithRateLimiter(a.limiter))
	}

	endsAt, err := cfg.CampaignEnd()
	if err != nil {
		registry.Close()
		return nil, err
	}
	a.handler = api.NewHandler(a.service, registry, api.Config{
		StreamInterval: cfg.StreamInterval(),
		Heartbeat:      cfg.Stream.Heartbeat,
		MaxMisses:      cfg.Stream.MaxMisses,
		Upload: api.UploadConfig{
			MaxBytes:      cfg.Upload.MaxBytes,
			UploadURL:     cfg.Upload.UploadURL,
			PublicBaseURL: cfg.Upload.PublicBaseURL,
		},
		Stats: api.StatsConfig{
			Interval:                 cfg.Campaign.StatsInterval,
			BaseGenerations:          cfg.Campaign.BaseGenerations,
			DefaultProcessingSeconds: cfg.Campaign.DefaultProcessingSeconds,
			SatisfactionRate:         cfg.Campaign.SatisfactionRate,
			FundingGoal:              cfg.Campaign.FundingGoal,
			FundingAmount:            cfg.Campaign.FundingAmount,
			Backers:                  cfg.Campaign.Backers,
			DaysLeft:                 cfg.Campaign.DaysLeft,
			EndsAt:                   endsAt,
		},
	}, opts...)

	sweepOpts := []cleanup.Option{
		cleanup.WithRecorder(a.metrics),
		cleanup.WithLogger(logging.WithComponent(logger, "sweeper")),
	}
	if a.limiter != nil {
		sweepOpts = append(sweepOpts, cleanup.WithLimiter(a.limiter))
	}
	sweepCfg := cleanup.DefaultConfig()
	sweepCfg.Retention = cfg.Registry.Retention
	sweepCfg.AbandonAfter = cfg.Registry.AbandonAfter
	sweepCfg.SweepInterval = cfg.Registry.SweepInterval
	a.sweeper = cleanup.NewSweeper(sweepCfg, registry, sweepOpts...)

	a.router = mux.NewRouter()
	a.router.Use(
		middleware.RequestID,
		middleware.Recover(logger),
		middleware.Logger(logging.WithComponent(logger, "http")),
		tracing.HTTPMiddleware(tracer),
		a.metrics.HTTPMiddleware(),
	)
	a.handler.RegisterRoutes(a.router)

	a.metricsR = mux.NewRouter()
	a.metricsR.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	a.metricsR.HandleFunc("/health", a.handler.Health).Methods(http.MethodGet)

	return a, nil
}

func newService(cfg *config.Config, registry store.Store, rec *metrics.Recorder, tracer *tracing.Provider, logger zerolog.Logger) (generation.Service, error) {
	svcLogger := logging.WithComponent(logger, "generation")
	opts := []generation.Option{
		generation.WithRecorder(rec),
		generation.WithLogger(svcLogger),
	}

	switch cfg.Provider {
	case "simulated":
		projCfg := progress.DefaultConfig()
		projCfg.Tick = cfg.Simulation.Tick
		projCfg.StepPercent = cfg.Simulation.StepPercent
		projector, err := progress.NewProjector(projCfg)
		if err != nil {
			return nil, fmt.Errorf("invalid simulation settings: %w", err)
		}
		return generation.NewSimulatedService(registry, projector, opts...), nil

	case "replicate":
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxRetries = cfg.Replicate.MaxRetries
		clientLogger := logging.WithComponent(logger, "replicate")
		client, err := replicate.NewClient(replicate.Options{
			Token:           cfg.Replicate.APIToken,
			ModelVersion:    cfg.Replicate.ModelVersion,
			BaseURL:         cfg.Replicate.BaseURL,
			RequestTimeout:  cfg.Replicate.RequestTimeout,
			Retry:           &retryCfg,
			AverageDuration: cfg.Replicate.AverageDuration,
			Logger:          &clientLogger,
			Tracer:          tracer.Tracer(),
			Recorder:        rec,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create replicate client: %w", err)
		}
		return generation.NewReplicateService(registry, client, opts...), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
