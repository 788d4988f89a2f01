package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/receptionist-relay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/receptionist-relay/internal/config"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		logging.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting receptionist relay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := bootstrap.BuildCore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize relay", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	api, err := bootstrap.BuildAPI(core)
	if err != nil {
		logger.Error("failed to build API", "error", err)
		os.Exit(1)
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	if api.CallWorker != nil {
		api.CallWorker.Start(workerCtx)
		logger.Info("in-process call worker started", "workers", cfg.CallWorkers)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancelWorkers()
	if api.CallWorker != nil {
		api.CallWorker.Wait()
	}

	logger.Info("server stopped")
}
