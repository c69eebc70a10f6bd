package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/lock"
	"github.com/clinicflow/scheduling-engine/internal/metrics"
)

type Options struct {
	Policy    *Policy        // nil uses DefaultPolicy
	Location  *time.Location // clinic time zone, defaults to UTC
	WaitTimes WaitTimeSource // defaults to DefaultWaitProfile
	Notifier  Notifier       // defaults to a no-op
	Metrics   *metrics.SchedulingMetrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service is the entry point of the engine. It wires the slot generator,
// scorer and optimizer and owns every operation that writes.
type Service struct {
	repo      Repository
	locker    lock.Locker
	notifier  Notifier
	policy    Policy
	loc       *time.Location
	conflicts *ConflictChecker
	slots     *SlotGenerator
	scorer    *SlotScorer
	optimizer *Optimizer
	metrics   *metrics.SchedulingMetrics
	log       *zap.Logger
	now       func() time.Time
}

func NewService(repo Repository, locker lock.Locker, opts Options) *Service {
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func(context.Context, WaitlistNotification) error { return nil })
	}

	conflicts := NewConflictChecker(repo)
	slots := NewSlotGenerator(repo, NewAvailabilityIndex(repo), conflicts, opts.Location, policy, opts.Metrics)
	scorer := NewSlotScorer(repo, opts.WaitTimes, policy, opts.Location)

	return &Service{
		repo:      repo,
		locker:    locker,
		notifier:  opts.Notifier,
		policy:    policy,
		loc:       opts.Location,
		conflicts: conflicts,
		slots:     slots,
		scorer:    scorer,
		optimizer: NewOptimizer(repo, slots, scorer, policy, opts.Location, opts.Now, opts.Metrics, opts.Logger),
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

func (s *Service) FindCandidateSlots(ctx context.Context, q SlotQuery) ([]time.Time, error) {
	return s.slots.FindCandidateSlots(ctx, q)
}

func (s *Service) IsBooked(ctx context.Context, doctor *Doctor, start time.Time) (bool, error) {
	return s.conflicts.IsBooked(ctx, doctor, start)
}

func (s *Service) ScoreSlot(ctx context.Context, doctor *Doctor, slot, requested time.Time, procedureID uuid.UUID) (float64, error) {
	return s.scorer.Score(ctx, doctor, slot, requested, procedureID)
}

func (s *Service) OptimizeSchedule(ctx context.Context, requests []OptimizationRequest) []OptimizationResult {
	return s.optimizer.OptimizeSchedule(ctx, requests)
}
