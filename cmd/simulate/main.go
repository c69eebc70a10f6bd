package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/config"
	"github.com/clinicflow/scheduling-engine/internal/db"
	"github.com/clinicflow/scheduling-engine/internal/logging"
)

type simConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	DoctorLimit int
	BookRatio   float64
	SlotsRatio  float64
	OptRatio    float64
}

type doctorRef struct {
	ID       uuid.UUID
	Duration time.Duration
}

type dataPool struct {
	Doctors    []doctorRef
	Patients   []uuid.UUID
	Procedures []uuid.UUID

	mu    sync.Mutex
	appts []uuid.UUID
}

func (p *dataPool) addAppointment(id uuid.UUID) {
	p.mu.Lock()
	p.appts = append(p.appts, id)
	p.mu.Unlock()
}

func (p *dataPool) randomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.appts) == 0 {
		return uuid.Nil, false
	}
	return p.appts[rng.Intn(len(p.appts))], true
}

// opStats counts outcomes per operation. "conflict" covers 409 answers,
// which are expected under contention.
type opStats struct {
	total, ok, conflict, failed atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (o *opStats) record(latency time.Duration, status int, err error) {
	o.total.Add(1)
	switch {
	case err != nil || status >= 500:
		o.failed.Add(1)
	case status == http.StatusConflict:
		o.conflict.Add(1)
	case status < 300:
		o.ok.Add(1)
	default:
		o.failed.Add(1)
	}
	o.mu.Lock()
	o.latencies = append(o.latencies, latency)
	o.mu.Unlock()
}

func (o *opStats) percentile(p int) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), o.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type simulator struct {
	cfg    simConfig
	data   *dataPool
	client *http.Client
	log    *zap.Logger

	book, slots, optimize, confirm opStats
	outcomes                       sync.Map // outcome -> *atomic.Int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := simConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 16),
		DoctorLimit: getInt("SIM_DOCTOR_LIMIT", 5),
		BookRatio:   getFloat("SIM_BOOK_RATIO", 0.6),
		SlotsRatio:  getFloat("SIM_SLOTS_RATIO", 0.25),
		OptRatio:    getFloat("SIM_OPTIMIZE_RATIO", 0.05),
	}
	if cfg.Workers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_WORKERS and SIM_DURATION must be positive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{}, log)
	cancel()
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	data, err := loadDataPool(context.Background(), pool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("simulation starting",
		zap.Int("doctors", len(data.Doctors)),
		zap.Int("patients", len(data.Patients)),
		zap.Int("workers", cfg.Workers),
		zap.Duration("duration", cfg.Duration),
	)

	sim := &simulator{cfg: cfg, data: data, client: &http.Client{Timeout: 10 * time.Second}, log: log}
	sim.run()
	sim.report()

	overlaps, err := countOverlaps(context.Background(), pool)
	if err != nil {
		log.Fatal("verify overlaps", zap.Error(err))
	}
	if overlaps > 0 {
		log.Fatal("double booking detected", zap.Int("overlapping_pairs", overlaps))
	}
	log.Info("no overlapping active appointments")
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg simConfig) (*dataPool, error) {
	data := &dataPool{}

	// Few doctors on purpose: contention is the point.
	rows, err := pool.Query(ctx, `
		SELECT d.id, d.appointment_duration_minutes FROM doctors d
		WHERE EXISTS (SELECT 1 FROM doctor_availability a WHERE a.doctor_id = d.id AND a.is_active)
		ORDER BY d.created_at LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var d doctorRef
		var minutes int
		if err := rows.Scan(&d.ID, &minutes); err != nil {
			rows.Close()
			return nil, err
		}
		d.Duration = time.Duration(minutes) * time.Minute
		data.Doctors = append(data.Doctors, d)
	}
	rows.Close()

	if data.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients LIMIT 5000`); err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	if data.Procedures, err = loadIDs(ctx, pool, `SELECT id FROM procedure_types`); err != nil {
		return nil, fmt.Errorf("load procedures: %w", err)
	}

	if len(data.Doctors) == 0 || len(data.Patients) == 0 || len(data.Procedures) == 0 {
		return nil, fmt.Errorf("database is empty, run cmd/seed first")
	}
	return data, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// countOverlaps returns the number of active appointment pairs for the same
// doctor whose intervals intersect.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments a
		JOIN appointments b ON a.doctor_id = b.doctor_id AND a.id < b.id
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.status IN ('pending', 'confirmed') AND b.status IN ('pending', 'confirmed')
		  AND abs(extract(epoch FROM a.scheduled_at - b.scheduled_at)) < d.appointment_duration_minutes * 60`).Scan(&n)
	return n, err
}

func (s *simulator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				switch r := rng.Float64(); {
				case r < s.cfg.BookRatio:
					s.doBook(ctx, rng)
				case r < s.cfg.BookRatio+s.cfg.SlotsRatio:
					s.doFindSlots(ctx, rng)
				case r < s.cfg.BookRatio+s.cfg.SlotsRatio+s.cfg.OptRatio:
					s.doOptimize(ctx, rng)
				default:
					s.doConfirm(ctx, rng)
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

// randomSlot picks a grid-aligned time on one of the next five weekdays so
// workers collide on the same slots.
func (s *simulator) randomSlot(rng *rand.Rand, d doctorRef) time.Time {
	day := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 1+rng.Intn(5))
	offset := time.Duration(rng.Intn(int(8*time.Hour/d.Duration))) * d.Duration
	return day.Add(9 * time.Hour).Add(offset)
}

func (s *simulator) bookingBody(rng *rand.Rand) map[string]any {
	d := s.data.Doctors[rng.Intn(len(s.data.Doctors))]
	return map[string]any{
		"patient_id":     s.data.Patients[rng.Intn(len(s.data.Patients))],
		"doctor_id":      d.ID,
		"procedure_id":   s.data.Procedures[rng.Intn(len(s.data.Procedures))],
		"requested_time": s.randomSlot(rng, d),
	}
}

func (s *simulator) doBook(ctx context.Context, rng *rand.Rand) {
	var out struct {
		Outcome       string     `json:"outcome"`
		AppointmentID *uuid.UUID `json:"appointment_id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", s.bookingBody(rng), &out)
	s.book.record(latency, status, err)
	if err != nil {
		return
	}
	if out.Outcome != "" {
		v, _ := s.outcomes.LoadOrStore(out.Outcome, new(atomic.Int64))
		v.(*atomic.Int64).Add(1)
	}
	if out.AppointmentID != nil {
		s.data.addAppointment(*out.AppointmentID)
	}
}

func (s *simulator) doFindSlots(ctx context.Context, rng *rand.Rand) {
	d := s.data.Doctors[rng.Intn(len(s.data.Doctors))]
	start := time.Now().UTC().AddDate(0, 0, 1)
	path := fmt.Sprintf("/doctors/%s/slots?start=%s&end=%s", d.ID, start.Format("2006-01-02"), start.AddDate(0, 0, 6).Format("2006-01-02"))
	status, latency, err := s.call(ctx, http.MethodGet, path, nil, nil)
	s.slots.record(latency, status, err)
}

func (s *simulator) doOptimize(ctx context.Context, rng *rand.Rand) {
	reqs := make([]map[string]any, 0, 5)
	for i := 0; i < 5; i++ {
		reqs = append(reqs, s.bookingBody(rng))
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/optimize", map[string]any{"requests": reqs}, nil)
	s.optimize.record(latency, status, err)
}

func (s *simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	id, ok := s.data.randomAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+id.String()+"/confirm", nil, nil)
	s.confirm.record(latency, status, err)
}

func (s *simulator) call(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return 0, latency, ctx.Err()
		}
		s.log.Warn("request failed", zap.String("path", path), zap.Error(err))
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

func (s *simulator) report() {
	for _, op := range []struct {
		name  string
		stats *opStats
	}{
		{"book", &s.book},
		{"find_slots", &s.slots},
		{"optimize", &s.optimize},
		{"confirm", &s.confirm},
	} {
		if op.stats.total.Load() == 0 {
			continue
		}
		s.log.Info("operation summary",
			zap.String("op", op.name),
			zap.Int64("total", op.stats.total.Load()),
			zap.Int64("ok", op.stats.ok.Load()),
			zap.Int64("conflict", op.stats.conflict.Load()),
			zap.Int64("failed", op.stats.failed.Load()),
			zap.Duration("p50", op.stats.percentile(50)),
			zap.Duration("p95", op.stats.percentile(95)),
		)
	}

	s.outcomes.Range(func(k, v any) bool {
		s.log.Info("booking outcome", zap.String("outcome", k.(string)), zap.Int64("count", v.(*atomic.Int64).Load()))
		return true
	})
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
