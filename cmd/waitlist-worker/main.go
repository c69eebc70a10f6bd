package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/app"
	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/logging"
)

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

	log.Info("waitlist-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

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

	runOnce(rootCtx, a.Service, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping waitlist worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Service, log)
		}
	}
}

type waitlistRunner interface {
	ExpireNotifications(ctx context.Context) (int, error)
	SweepNotifications(ctx context.Context) (int, error)
}

// runOnce expires stale offers first so their slots can be re-offered in
// the same cycle. A failed expiry pass does not hold back the sweep.
func runOnce(ctx context.Context, svc waitlistRunner, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := svc.ExpireNotifications(runCtx)
	if err != nil {
		log.Error("expire notifications failed", zap.Error(err))
	}

	notified, err := svc.SweepNotifications(runCtx)
	if err != nil {
		log.Error("waitlist sweep failed", zap.Error(err))
		return
	}

	log.Info("waitlist run complete",
		zap.Int("expired", expired),
		zap.Int("notified", notified),
		zap.Duration("took", time.Since(start)),
	)
}
