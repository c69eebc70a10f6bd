package scheduling

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/metrics"
)

type OptimizationRequest struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ProcedureID   uuid.UUID
	RequestedTime time.Time
}

type OptimizationResult struct {
	PatientID            uuid.UUID
	DoctorID             uuid.UUID
	ProcedureID          uuid.UUID
	OriginalTime         time.Time
	OptimizedTime        time.Time
	TimeDiffMinutes      int
	WaitReductionMinutes int
	Score                float64 // normalized to [0, 1]
	SlotScore            float64 // raw SlotScorer total of the chosen slot
	Found                bool
	Err                  error // set when the request could not be evaluated
}

// Optimizer picks the highest scoring slot around a requested time.
type Optimizer struct {
	repo    Repository
	slots   *SlotGenerator
	scorer  *SlotScorer
	policy  Policy
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.SchedulingMetrics
	log     *zap.Logger
}

func NewOptimizer(repo Repository, slots *SlotGenerator, scorer *SlotScorer, policy Policy, loc *time.Location, now func() time.Time, m *metrics.SchedulingMetrics, log *zap.Logger) *Optimizer {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Optimizer{repo: repo, slots: slots, scorer: scorer, policy: policy, loc: loc, now: now, metrics: m, log: log}
}

// BestSlot searches ±OptimizeSearchDays around requested and returns the
// maximum scoring slot. Equal scores resolve to the earliest slot.
func (o *Optimizer) BestSlot(ctx context.Context, doctor *Doctor, procedureID uuid.UUID, requested time.Time) (time.Time, float64, bool, error) {
	window := time.Duration(o.policy.OptimizeSearchDays) * 24 * time.Hour
	candidates, err := o.slots.candidates(ctx, doctor, requested.Add(-window), requested.Add(window), nil)
	if err != nil {
		return time.Time{}, 0, false, err
	}

	now := o.now()
	loads := make(map[time.Time]int)

	var (
		best      time.Time
		bestScore float64
		found     bool
	)
	// candidates are ascending, so a strict comparison keeps the earliest tie.
	for _, slot := range candidates {
		if slot.Before(now) {
			continue
		}
		b, err := o.scorer.Breakdown(ctx, doctor, slot, requested, loads)
		if err != nil {
			return time.Time{}, 0, false, err
		}
		if score := b.Total(); !found || score > bestScore {
			best, bestScore, found = slot, score, true
		}
	}
	return best, bestScore, found, nil
}

// OptimizeSchedule evaluates each request independently. Optimization is
// advisory: a request without candidates keeps its requested time, and a
// request that fails is reported with Err rather than aborting the batch.
func (o *Optimizer) OptimizeSchedule(ctx context.Context, requests []OptimizationRequest) []OptimizationResult {
	results := make([]OptimizationResult, 0, len(requests))
	doctors := make(map[uuid.UUID]*Doctor)

	for _, req := range requests {
		res := OptimizationResult{
			PatientID:     req.PatientID,
			DoctorID:      req.DoctorID,
			ProcedureID:   req.ProcedureID,
			OriginalTime:  req.RequestedTime,
			OptimizedTime: req.RequestedTime,
		}

		doctor, ok := doctors[req.DoctorID]
		if !ok {
			d, err := o.repo.GetDoctor(ctx, req.DoctorID)
			if err != nil {
				o.log.Warn("optimize: doctor lookup failed",
					zap.Stringer("doctor_id", req.DoctorID), zap.Error(err))
				res.Err = err
				results = append(results, res)
				continue
			}
			doctors[req.DoctorID] = d
			doctor = d
		}

		slot, slotScore, found, err := o.BestSlot(ctx, doctor, req.ProcedureID, req.RequestedTime)
		if err != nil {
			o.log.Warn("optimize: slot search failed",
				zap.Stringer("doctor_id", req.DoctorID), zap.Error(err))
			res.Err = err
			results = append(results, res)
			continue
		}
		o.metrics.ObserveOptimization(found)

		if found {
			diff := math.Abs(slot.Sub(req.RequestedTime).Minutes())
			reduction := estimateWaitReduction(o.policy, slot.In(o.loc), req.RequestedTime.In(o.loc))

			res.OptimizedTime = slot
			res.TimeDiffMinutes = int(diff)
			res.WaitReductionMinutes = reduction
			res.Score = optimizationScore(o.policy, diff, reduction)
			res.SlotScore = slotScore
			res.Found = true
		}
		results = append(results, res)
	}

	return results
}

// estimateWaitReduction is a coarse heuristic: moving out of the late
// afternoon saves the most, otherwise savings shrink linearly with the shift.
func estimateWaitReduction(p Policy, optimized, original time.Time) int {
	if original.Hour() >= p.LateHour {
		if optimized.Hour() < p.EarlyHour {
			return p.EarlyReduction
		}
		if optimized.Hour() < p.LateHour {
			return p.BeforeLateReduction
		}
	}
	hours := math.Abs(optimized.Sub(original).Hours())
	return max(0, int(p.LinearReductionBase-hours*p.LinearReductionRate))
}

func optimizationScore(p Policy, diffMinutes float64, reductionMinutes int) float64 {
	penalty := math.Min(diffMinutes/p.TimePenaltyMinutes, 0.5)
	benefit := math.Min(float64(reductionMinutes)/p.WaitBenefitMinutes, 0.5)
	return math.Max(0, math.Min(1, 0.5-penalty+benefit))
}
