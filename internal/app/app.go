package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/db"
	"github.com/clinicflow/scheduling-engine/internal/lock"
	"github.com/clinicflow/scheduling-engine/internal/metrics"
	"github.com/clinicflow/scheduling-engine/internal/notify"
	redisclient "github.com/clinicflow/scheduling-engine/internal/redis"
	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

// App holds the connections and the scheduling service shared by the
// api-server and the waitlist worker.
type App struct {
	Config   config.Config
	Log      *zap.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client // nil with the local lock backend
	Registry *prometheus.Registry
	Service  *scheduling.Service

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	if err != nil {
		return nil, err
	}
	a.DB = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	locker, err := a.locker(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	notifier, err := a.notifier()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	policy := scheduling.PolicyFromConfig(cfg)
	if err := policy.Validate(); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("scheduling policy: %w", err)
	}

	a.Service = scheduling.NewService(scheduling.NewPgRepository(pool), locker, scheduling.Options{
		Policy:   &policy,
		Location: cfg.Location(),
		Notifier: notifier,
		Metrics:  metrics.NewSchedulingMetrics(a.Registry),
		Logger:   log,
	})
	return a, nil
}

func (a *App) locker(ctx context.Context) (lock.Locker, error) {
	if a.Config.LockBackend == config.LockBackendLocal {
		a.Log.Warn("using in-process doctor locks; run a single replica only")
		return lock.NewLocalLocker(a.Config.LockWait), nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     a.Config.RedisAddr,
		Username: a.Config.RedisUsername,
		Password: a.Config.RedisPassword,
	}, a.Log)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	return lock.NewRedisLocker(rdb, a.Config.LockTTL, a.Config.LockWait), nil
}

func (a *App) notifier() (scheduling.Notifier, error) {
	if a.Config.AMQPURL == "" {
		a.Log.Info("AMQP_URL not set, waitlist notifications are logged only")
		return notify.NewLogNotifier(a.Log), nil
	}

	conn, err := amqp091.Dial(a.Config.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	n, err := notify.NewAMQPNotifier(conn, a.Config.NotifyQueue, a.Log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.closers = append(a.closers, conn.Close, n.Close)
	a.Log.Info("publishing waitlist notifications", zap.String("queue", a.Config.NotifyQueue))
	return n, nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
