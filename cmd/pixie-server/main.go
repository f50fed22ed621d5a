package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/petpixie/pixie/internal/config"
	"github.com/petpixie/pixie/pkg/logging"
	"github.com/petpixie/pixie/pkg/shutdown"
	tlsutil "github.com/petpixie/pixie/pkg/tls"
)

func main() {
	configFile := flag.String("config", "", "YAML config file (default: $PIXIE_CONFIG)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		bootLogger().Fatal().Err(err).Msg("failed to load configuration")
	}

	if *printConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			bootLogger().Fatal().Err(err).Msg("failed to print configuration")
		}
		return
	}

	logger := logging.NewLogger(logging.Options{
		Level: logging.ParseLevel(cfg.App.LogLevel),
		Env:   cfg.App.Env,
	}).With().Str("service", "pixie-server").Logger()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}

	tlsConfig, err := tlsutil.ServerConfig(tlsutil.Config{
		Enabled:    cfg.Server.TLS.Enabled,
		CertFile:   cfg.Server.TLS.CertFile,
		KeyFile:    cfg.Server.TLS.KeyFile,
		CAFile:     cfg.Server.TLS.CAFile,
		SelfSigned: cfg.Server.TLS.SelfSigned,
		Hosts:      cfg.Server.TLS.Hosts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load TLS configuration")
	}

	// No WriteTimeout: event streams stay open for the life of a job
	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     a.router,
		TLSConfig:   tlsConfig,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}
	metricsSrv := &http.Server{
		Addr:         cfg.Server.MetricsAddr,
		Handler:      a.metricsR,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout,
	}

	sm := shutdown.New(cfg.Server.ShutdownTimeout, logger)
	sm.Register("registry", shutdown.CloseResource(a.registry))
	sm.Register("tracing", a.tracer.Shutdown)
	sm.Register("sweeper", func(context.Context) error {
		a.sweeper.Stop()
		st := a.sweeper.GetStats()
		logger.Info().
			Int64("sweeps", st.TotalSweeps).
			Int64("expired", st.TotalExpired).
			Int64("abandoned", st.TotalAbandoned).
			Int64("limiters_freed", st.TotalLimitersFreed).
			Msg("registry sweeper stopped")
		return nil
	})
	sm.Register("metrics-server", shutdown.StopHTTPServer(metricsSrv))
	sm.Register("http-server", func(ctx context.Context) error {
		a.handler.Close()
		return srv.Shutdown(ctx)
	})

	a.sweeper.Start()

	go func() {
		logger.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("provider", cfg.Provider).
			Str("registry", cfg.Registry.Backend).
			Bool("tls", tlsConfig != nil).
			Msg("pixie-server listening")

		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			sm.Trigger()
		}
	}()

	if err := sm.Wait(context.Background()); err != nil {
		logger.Error().Err(err).Msg("shutdown finished with errors")
		os.Exit(1)
	}
}

func bootLogger() *zerolog.Logger {
	l := logging.NewLogger(logging.Options{Level: logging.INFO})
	return &l
}
