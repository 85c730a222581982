package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pharmacare/permengine/pkg/api"
	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/config"
	"github.com/pharmacare/permengine/pkg/engine"
	"github.com/pharmacare/permengine/pkg/observability"
)

var version = "dev"

var (
	exportMatrix = flag.Bool("export-matrix", false, "Print the active permission catalog and action matrix as YAML and exit")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *exportMatrix {
		if err := writeMatrix(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to export matrix: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("permengine stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	eng, err := engine.New(ctx, cfg, engine.Deps{Logger: logger, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		eng.Close()
		return err
	}

	srv := api.NewServer(eng, api.Options{
		Logger:   logger,
		Metrics:  metrics,
		Recorder: audit.NewLogRecorder(logger.Logrus()),
	})
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsRouter := mux.NewRouter()
	probes := observability.EngineProbes(eng.DB(), eng.Redis())
	observability.RegisterHealthRoutes(opsRouter, observability.NewHealthChecker(version, probes...))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(opsRouter, registry)
	}
	opsServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: opsRouter,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("ops listener", opsServer.Shutdown)
	shutdown.Register("engine", func(ctx context.Context) error {
		stopErr := eng.Stop(ctx)
		return errors.Join(stopErr, eng.Close())
	})
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	for _, s := range []*http.Server{server, opsServer} {
		go func(s *http.Server) {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel(fmt.Errorf("listener %s: %w", s.Addr, err))
			}
		}(s)
	}
	logger.WithFields(map[string]interface{}{
		"addr":        server.Addr,
		"health_addr": opsServer.Addr,
		"storage":     storageMode(cfg),
		"cache":       cfg.Cache.Backend,
		"probes":      len(probes),
		"version":     version,
	}).Info("permengine started")

	shutdownErr := shutdown.WaitForShutdown(runCtx)
	if cause := context.Cause(runCtx); cause != nil {
		return errors.Join(cause, shutdownErr)
	}
	return shutdownErr
}

func storageMode(cfg *config.Config) string {
	if cfg.Storage.PostgresURL == "" {
		return "memory"
	}
	return "postgres"
}

// writeMatrix prints the catalog and matrix the engine would load
func writeMatrix(cfg *config.Config) error {
	cat, matrix := catalog.DefaultCatalog(), catalog.DefaultMatrix()
	if cfg.Engine.MatrixFile != "" {
		var err error
		cat, matrix, err = catalog.LoadFile(cfg.Engine.MatrixFile)
		if err != nil {
			return err
		}
	}
	return catalog.Export(os.Stdout, cat, matrix)
}
