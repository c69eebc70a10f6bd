package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/api"
	"github.com/clinicflow/scheduling-engine/internal/app"
	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("timezone", cfg.ClinicTimezone),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancelBoot := context.WithTimeout(rootCtx, 15*time.Second)
	a, err := app.Bootstrap(bootCtx, cfg, log)
	cancelBoot()
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("error closing resources", zap.Error(err))
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Scheduler: a.Service,
		DB:        a.DB,
		Redis:     a.Redis,
		Gatherer:  a.Registry,
		Location:  cfg.Location(),
		Logger:    log,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received, draining requests")
	case err := <-serverErr:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("api-server stopped")
}
