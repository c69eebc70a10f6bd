package scheduling

import (
	"fmt"
	"time"

	"github.com/clinicflow/scheduling-engine/internal/config"
)

// TimeBand awards Points to slots starting in [FromHour, ToHour).
type TimeBand struct {
	FromHour int
	ToHour   int
	Points   float64
}

// Policy holds every tunable constant of the engine. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	BaseScore float64

	ProximityCap     float64
	ProximityPerHour float64

	WorkloadCap float64

	TimeOfDayBands    []TimeBand
	TimeOfDayFallback float64

	FastWaitThreshold     time.Duration
	FastWaitPoints        float64
	ModerateWaitThreshold time.Duration
	ModerateWaitPoints    float64

	// Wait-reduction heuristic used by batch optimization.
	LateHour            int // original slot at or after this hour counts as "late"
	EarlyHour           int // optimized slot before this hour counts as "early"
	EarlyReduction      int
	BeforeLateReduction int
	LinearReductionBase float64
	LinearReductionRate float64 // minutes lost per hour of shift

	TimePenaltyMinutes float64 // time difference that costs the full 0.5
	WaitBenefitMinutes float64 // wait reduction that earns the full 0.5

	AlternativeSearchDays int
	OptimizeSearchDays    int
	MaxSearchDays         int

	NotificationTTL time.Duration

	PriorityBase         int
	PriorityPerCompleted int
	PriorityCompletedCap int
	PriorityUrgentBonus  int
	UrgentMarker         string

	DefaultWaitlistStart TimeOfDay
	DefaultWaitlistEnd   TimeOfDay
}

func DefaultPolicy() Policy {
	return Policy{
		BaseScore:        100,
		ProximityCap:     40,
		ProximityPerHour: 5,
		WorkloadCap:      30,
		TimeOfDayBands: []TimeBand{
			{FromHour: 9, ToHour: 11, Points: 20},
			{FromHour: 11, ToHour: 14, Points: 15},
			{FromHour: 14, ToHour: 17, Points: 10},
		},
		TimeOfDayFallback:     5,
		FastWaitThreshold:     15 * time.Minute,
		FastWaitPoints:        10,
		ModerateWaitThreshold: 30 * time.Minute,
		ModerateWaitPoints:    5,

		LateHour:            14,
		EarlyHour:           11,
		EarlyReduction:      30,
		BeforeLateReduction: 15,
		LinearReductionBase: 10,
		LinearReductionRate: 2,

		TimePenaltyMinutes: 120,
		WaitBenefitMinutes: 60,

		AlternativeSearchDays: 3,
		OptimizeSearchDays:    2,
		MaxSearchDays:         62,

		NotificationTTL: 24 * time.Hour,

		PriorityBase:         50,
		PriorityPerCompleted: 5,
		PriorityCompletedCap: 20,
		PriorityUrgentBonus:  30,
		UrgentMarker:         "urgent",

		DefaultWaitlistStart: NewTimeOfDay(9, 0),
		DefaultWaitlistEnd:   NewTimeOfDay(17, 0),
	}
}

// PolicyFromConfig applies the operator overrides in cfg to DefaultPolicy.
func PolicyFromConfig(cfg config.Config) Policy {
	p := DefaultPolicy()
	if cfg.NotificationTTL > 0 {
		p.NotificationTTL = cfg.NotificationTTL
	}
	if cfg.AlternativeSearchDays > 0 {
		p.AlternativeSearchDays = cfg.AlternativeSearchDays
	}
	if cfg.OptimizeSearchDays > 0 {
		p.OptimizeSearchDays = cfg.OptimizeSearchDays
	}
	if cfg.MaxSearchDays > 0 {
		p.MaxSearchDays = cfg.MaxSearchDays
	}
	return p
}

func (p Policy) Validate() error {
	switch {
	case p.ProximityPerHour < 0, p.ProximityCap < 0, p.WorkloadCap < 0:
		return fmt.Errorf("%w: scoring caps must not be negative", ErrInvalidInput)
	case p.TimePenaltyMinutes <= 0, p.WaitBenefitMinutes <= 0:
		return fmt.Errorf("%w: optimization score scales must be positive", ErrInvalidInput)
	case p.AlternativeSearchDays < 0, p.OptimizeSearchDays < 0:
		return fmt.Errorf("%w: search windows must not be negative", ErrInvalidInput)
	case p.MaxSearchDays <= 0:
		return fmt.Errorf("%w: max search days must be positive", ErrInvalidInput)
	case p.NotificationTTL <= 0:
		return fmt.Errorf("%w: notification ttl must be positive", ErrInvalidInput)
	case p.DefaultWaitlistStart >= p.DefaultWaitlistEnd:
		return fmt.Errorf("%w: default waitlist window is empty", ErrInvalidInput)
	}
	for _, b := range p.TimeOfDayBands {
		if b.FromHour >= b.ToHour {
			return fmt.Errorf("%w: time band %d-%d is empty", ErrInvalidInput, b.FromHour, b.ToHour)
		}
	}
	return nil
}
