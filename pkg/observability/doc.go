// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for the engine.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", userID).Info("decision cached")
//
// Components that take a *logrus.Logger share the same sink through
// logger.Logrus().
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.DecisionsTotal.WithLabelValues("allow", "role").Inc()
//
// # Health Checks
//
// A failing critical probe (the database) fails /readyz; a failing Redis only
// reports the engine as degraded.
//
//	checker := observability.NewHealthChecker(version, observability.EngineProbes(db, redisClient)...)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Shutdown
//
// Steps run in registration order after the API server has drained.
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.Register("engine", eng.Stop)
//	err := sm.WaitForShutdown(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "permengine",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
