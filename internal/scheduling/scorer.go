package scheduling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// WaitTimeSource reports a doctor's historical average patient wait for
// appointments starting at the given hour.
type WaitTimeSource interface {
	AverageWait(ctx context.Context, doctorID uuid.UUID, hour int) (time.Duration, error)
}

// StaticWaitProfile is a fixed per-day-part wait profile shared by all doctors.
type StaticWaitProfile struct {
	Morning   time.Duration // before 12:00
	Afternoon time.Duration // 12:00 to 17:00
	Evening   time.Duration
}

func DefaultWaitProfile() StaticWaitProfile {
	return StaticWaitProfile{
		Morning:   12 * time.Minute,
		Afternoon: 25 * time.Minute,
		Evening:   20 * time.Minute,
	}
}

func (p StaticWaitProfile) AverageWait(_ context.Context, _ uuid.UUID, hour int) (time.Duration, error) {
	switch {
	case hour < 12:
		return p.Morning, nil
	case hour < 17:
		return p.Afternoon, nil
	default:
		return p.Evening, nil
	}
}

// ScoreBreakdown keeps each component so a score can be audited.
type ScoreBreakdown struct {
	Base      float64
	Proximity float64
	Workload  float64
	TimeOfDay float64
	WaitTime  float64
}

func (b ScoreBreakdown) Total() float64 {
	return b.Base + b.Proximity + b.Workload + b.TimeOfDay + b.WaitTime
}

// SlotScorer rates a candidate slot; higher is better.
type SlotScorer struct {
	repo   Repository
	waits  WaitTimeSource
	policy Policy
	loc    *time.Location
}

func NewSlotScorer(repo Repository, waits WaitTimeSource, policy Policy, loc *time.Location) *SlotScorer {
	if waits == nil {
		waits = DefaultWaitProfile()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SlotScorer{repo: repo, waits: waits, policy: policy, loc: loc}
}

// Score returns the total desirability of slot for a patient who asked for
// requested. procedureID is accepted for interface stability; the linear
// model does not weigh procedures.
func (s *SlotScorer) Score(ctx context.Context, doctor *Doctor, slot, requested time.Time, procedureID uuid.UUID) (float64, error) {
	b, err := s.Breakdown(ctx, doctor, slot, requested, nil)
	if err != nil {
		return 0, err
	}
	return b.Total(), nil
}

// Breakdown scores slot. loads, when non-nil, caches same-day appointment
// counts across calls within one scoring pass.
func (s *SlotScorer) Breakdown(ctx context.Context, doctor *Doctor, slot, requested time.Time, loads map[time.Time]int) (ScoreBreakdown, error) {
	local := slot.In(s.loc)

	count, err := s.dayLoad(ctx, doctor.ID, local, loads)
	if err != nil {
		return ScoreBreakdown{}, err
	}

	avgWait, err := s.waits.AverageWait(ctx, doctor.ID, local.Hour())
	if err != nil {
		return ScoreBreakdown{}, fmt.Errorf("average wait: %w", err)
	}

	return ScoreBreakdown{
		Base:      s.policy.BaseScore,
		Proximity: proximityPoints(s.policy, slot, requested),
		Workload:  workloadPoints(s.policy, count, doctor.MaxDailyAppointments),
		TimeOfDay: timeOfDayPoints(s.policy, local.Hour()),
		WaitTime:  waitPoints(s.policy, avgWait),
	}, nil
}

func (s *SlotScorer) dayLoad(ctx context.Context, doctorID uuid.UUID, local time.Time, loads map[time.Time]int) (int, error) {
	y, m, d := local.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.loc)
	if n, ok := loads[dayStart]; ok {
		return n, nil
	}
	n, err := s.repo.CountActiveAppointments(ctx, doctorID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("count day load: %w", err)
	}
	if loads != nil {
		loads[dayStart] = n
	}
	return n, nil
}

func proximityPoints(p Policy, slot, requested time.Time) float64 {
	hours := math.Abs(slot.Sub(requested).Hours())
	return math.Max(0, p.ProximityCap-hours*p.ProximityPerHour)
}

func workloadPoints(p Policy, sameDay, maxDaily int) float64 {
	if maxDaily <= 0 {
		return 0
	}
	ratio := float64(sameDay) / float64(maxDaily)
	return math.Max(0, p.WorkloadCap-ratio*p.WorkloadCap)
}

func timeOfDayPoints(p Policy, hour int) float64 {
	for _, b := range p.TimeOfDayBands {
		if hour >= b.FromHour && hour < b.ToHour {
			return b.Points
		}
	}
	return p.TimeOfDayFallback
}

func waitPoints(p Policy, avg time.Duration) float64 {
	switch {
	case avg < p.FastWaitThreshold:
		return p.FastWaitPoints
	case avg < p.ModerateWaitThreshold:
		return p.ModerateWaitPoints
	default:
		return 0
	}
}
