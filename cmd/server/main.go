package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nataliia-kulatska/gadget/internal/config"
	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
	"github.com/nataliia-kulatska/gadget/internal/logging"
	"github.com/nataliia-kulatska/gadget/internal/metrics"
	"github.com/nataliia-kulatska/gadget/internal/runner"
	"github.com/nataliia-kulatska/gadget/internal/server"
	"github.com/nataliia-kulatska/gadget/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "calibration server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service":     "calibration-server",
		"environment": cfg.Environment,
	})
	zapLogger := logging.NewZapLogger(serviceLogger)
	defer func() { _ = zapLogger.Sync() }()

	st, err := store.NewFSStore(cfg.Calibration.DataDir, zapLogger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(apperrors.RecoveryMiddleware(serviceLogger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := server.NewServer(cfg, serviceLogger, &runner.Runner{
		Store:            st,
		Metrics:          metrics.New(prometheus.DefaultRegisterer),
		Logger:           zapLogger,
		DefaultAlgorithm: cfg.Calibration.DefaultAlgorithm,
		DefaultSeed:      cfg.Calibration.Seed,
	})
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address":  httpServer.Addr,
			"data_dir": cfg.Calibration.DataDir,
			"max_jobs": cfg.Calibration.MaxJobs,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-quit:
	}

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Calibrations did not stop in time", map[string]interface{}{"error": err.Error()})
		return err
	}

	serviceLogger.Info("Server stopped")
	return nil
}
