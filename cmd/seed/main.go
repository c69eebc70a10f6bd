package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/db"
	"github.com/clinicflow/scheduling-engine/internal/logging"
)

var procedures = []struct {
	name   string
	urgent bool
}{
	{"General consultation", false},
	{"Follow-up visit", false},
	{"Annual physical", false},
	{"Vaccination", false},
	{"Dermatology screening", false},
	{"Cardiology review", false},
	{"Urgent care assessment", true},
	{"Post-operative check", false},
	{"Acute pain (urgent)", true},
	{"Lab results discussion", false},
}

func main() {
	doctors := flag.Int("doctors", 20, "number of doctors to create")
	patients := flag.Int("patients", 2000, "number of patients to create")
	seed := flag.Uint64("seed", 0, "faker seed, 0 picks a random one")
	flag.Parse()

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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	faker := gofakeit.New(*seed)

	if err := seedProcedures(ctx, pool, log); err != nil {
		log.Fatal("seed procedures", zap.Error(err))
	}
	if err := seedDoctors(ctx, pool, faker, *doctors, log); err != nil {
		log.Fatal("seed doctors", zap.Error(err))
	}
	if err := seedPatients(ctx, pool, faker, *patients, log); err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedProcedures(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	batch := &pgx.Batch{}
	for _, p := range procedures {
		batch.Queue(`INSERT INTO procedure_types (id, name, urgent) VALUES ($1, $2, $3)`, uuid.New(), p.name, p.urgent)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	log.Info("procedures seeded", zap.Int("count", len(procedures)))
	return nil
}

// seedDoctors gives every doctor a weekday schedule with a morning block
// and, for most of them, an afternoon block.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	durations := []int{15, 20, 30, 45, 60}

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + faker.LastName()
		duration := durations[faker.Number(0, len(durations)-1)]
		maxDaily := faker.Number(8, 24)

		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, max_daily_appointments, appointment_duration_minutes)
			VALUES ($1, $2, $3, $4)
		`, id, name, maxDaily, duration); err != nil {
			return err
		}

		for day := 1; day <= 5; day++ {
			if faker.Number(1, 10) == 1 {
				continue // day off
			}
			blocks := [][2]int{{8 + faker.Number(0, 1), 12}}
			if faker.Bool() || faker.Bool() {
				blocks = append(blocks, [2]int{13, 16 + faker.Number(0, 2)})
			}
			for _, b := range blocks {
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctor_availability (id, doctor_id, day_of_week, start_time, end_time)
					VALUES ($1, $2, $3, $4, $5)
				`, uuid.New(), id, day, clock(b[0]), clock(b[1])); err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info("doctors seeded", zap.Int("count", count))
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, log *zap.Logger) error {
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, []any{uuid.New(), faker.Name(), strings.ToLower(faker.Email())})
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{"patients"}, []string{"id", "name", "email"}, pgx.CopyFromRows(rows))
	if err != nil {
		return err
	}
	log.Info("patients seeded", zap.Int64("count", n))
	return nil
}

func clock(hour int) pgtype.Time {
	return pgtype.Time{Microseconds: int64(hour) * int64(time.Hour/time.Microsecond), Valid: true}
}
