package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/localmind/localmind/internal/api"
	"github.com/localmind/localmind/internal/degradation"
	"github.com/localmind/localmind/internal/memory"
	"github.com/localmind/localmind/internal/model"
	"github.com/localmind/localmind/internal/provider"
	"github.com/localmind/localmind/pkg/config"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
	"github.com/localmind/localmind/pkg/resilience"
	"github.com/localmind/localmind/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "localmind",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "localmind",
		ServiceVersion: version,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Memory pressure controller
	modes := memory.NewController(memory.NewSystemMonitor(), cfg.Memory, m)
	if _, err := modes.SampleNow(); err != nil {
		logger.WithError(err).Warn("Initial memory sample failed")
	}
	modes.Start(ctx)
	defer modes.Stop()

	// Degradation controller with alerting on breaker transitions
	alerts := resilience.NewAlertManager()
	alerts.AddHandler(resilience.NewLoggingAlertHandler())
	degrader := degradation.NewController(modes, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Breakers.FailureThreshold,
		SuccessThreshold: cfg.Breakers.SuccessThreshold,
		OpenDuration:     cfg.Breakers.OpenDuration,
		HalfOpenMaxCalls: cfg.Breakers.HalfOpenMaxCalls,
	}, alerts, m)

	// Model loader, gated on memory mode
	requiredMode, err := memory.ParseMode(cfg.Model.RequiredMode)
	if err != nil {
		logger.WithError(err).Fatal("Invalid MODEL_REQUIRED_MODE")
	}
	loader := model.NewLoader(model.FileFactory(cfg.Model.Path), requiredMode, modes, m)
	loader.SetTracing(tracer)

	modes.RegisterPressureObserver(func(oldMode, newMode memory.Mode) {
		severity := resilience.SeverityInfo
		switch {
		case newMode == memory.ModeMinimal:
			severity = resilience.SeverityError
		case newMode > oldMode:
			severity = resilience.SeverityWarning
		}
		alert := resilience.ModeAlert(oldMode.String(), newMode.String(), severity)
		if err := alerts.SendAlert(ctx, alert); err != nil {
			logger.WithError(err).Warn("Mode change alert failed")
		}
	})

	// Unload the model when memory degrades to MINIMAL so the process
	// itself stays alive
	modes.RegisterPressureObserver(loader.AutoUnload())

	if cfg.Model.Path != "" {
		loadCtx, loadCancel := context.WithTimeout(ctx, cfg.Model.LoadTimeout)
		if _, err := loader.Acquire(loadCtx); err != nil {
			logger.WithError(err).Warn("Model not loaded at startup, will retry on demand")
		}
		loadCancel()
	}

	// Provider sync worker
	var providers []provider.Provider
	if notesDir := os.Getenv("NOTES_DIR"); notesDir != "" {
		providers = append(providers, provider.NewLocalDirProvider("notes", notesDir))
	}
	worker := provider.NewWorker(providers, degrader, cfg.Sync, tracer, m)
	go worker.Run(ctx)

	// Status API
	sink, _ := worker.Sink().(*provider.MemorySink)
	handler := api.NewStatusHandler(degrader, modes, loader, sink, version)
	router := api.NewRouter(cfg, handler, m, tracer)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Status server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Status server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := loader.Unload(); err != nil {
		logger.WithError(err).Warn("Model unload on shutdown failed")
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Tracer shutdown failed")
	}

	logger.Info("Shutdown complete")
}
