package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/logging"
	"github.com/clinicflow/scheduling-engine/migrations"
)

// Usage:
//
//	migrate              apply all pending migrations
//	migrate down         roll back one step
//	migrate force <ver>  mark the schema as version <ver>
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

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatal("ping db", zap.Error(err))
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("db driver", zap.Error(err))
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Fatal("source driver", zap.Error(err))
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Fatal("create migrator", zap.Error(err))
	}
	defer func() { _, _ = m.Close() }()

	args := os.Args[1:]
	switch {
	case len(args) >= 2 && args[0] == "force":
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatal("invalid version", zap.String("version", args[1]))
		}
		if err := m.Force(v); err != nil {
			log.Fatal("force version", zap.Error(err))
		}
		log.Info("forced schema version", zap.Int("version", v))
		return
	case len(args) >= 1 && args[0] == "down":
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal("migrate", zap.Error(err))
	}

	v, dirty, _ := m.Version()
	log.Info("migrations complete", zap.Uint("version", v), zap.Bool("dirty", dirty))
}
