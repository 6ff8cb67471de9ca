package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindgarden/backend/internal/grpcserver"
	"mindgarden/backend/pkg/config"
	"mindgarden/backend/pkg/di"
	"mindgarden/backend/pkg/logger"
	"mindgarden/backend/pkg/router"
	"mindgarden/backend/shared/observability"
)

func main() {
	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", cfg.Server.Version, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Spans go to stdout only in development
	var traceOut io.Writer = io.Discard
	if !cfg.IsProduction() {
		traceOut = os.Stdout
	}
	shutdownTracing, err := observability.SetupTracing("mindgarden-backend", traceOut)
	if err != nil {
		log.LogError(err, "Failed to initialize tracing")
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	container, err := di.New(ctx, cfg, log, di.Dependencies{})
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	if _, err := container.Metrics.MeterProvider(); err != nil {
		log.LogError(err, "Failed to initialize metrics bridge")
	}
	go container.Metrics.Serve(ctx, ":"+cfg.Server.MetricsPort, log)

	container.Start(ctx)

	r := router.New(container)
	r.SetupRoutes()
	r.Start(ctx)

	go func() {
		grpcServer := grpcserver.New(container.Health, 10*time.Second, log)
		if err := grpcServer.ListenAndServe(ctx, cfg.Server.GRPCPort); err != nil {
			log.LogError(err, "gRPC server failed")
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
