package scheduling

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/metrics"
)

type DayPart string

const (
	AnyTime   DayPart = ""
	Morning   DayPart = "morning"   // before 12:00
	Afternoon DayPart = "afternoon" // 12:00 to 17:00
	Evening   DayPart = "evening"   // from 17:00
)

func ParseDayPart(s string) (DayPart, error) {
	switch p := DayPart(s); p {
	case AnyTime, Morning, Afternoon, Evening:
		return p, nil
	default:
		return "", fmt.Errorf("%w: time of day must be morning, afternoon or evening", ErrInvalidInput)
	}
}

func (p DayPart) contains(t time.Time) bool {
	h := t.Hour()
	switch p {
	case Morning:
		return h < 12
	case Afternoon:
		return h >= 12 && h < 17
	case Evening:
		return h >= 17
	default:
		return true
	}
}

type Preferences struct {
	TimeOfDay  DayPart
	DaysOfWeek []time.Weekday // empty allows every day
}

func (p *Preferences) allows(t time.Time) bool {
	if p == nil {
		return true
	}
	if !p.TimeOfDay.contains(t) {
		return false
	}
	if len(p.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range p.DaysOfWeek {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}

// SlotQuery covers every calendar day from Start's date to End's date
// inclusive, in the clinic time zone.
type SlotQuery struct {
	DoctorID    uuid.UUID
	Start       time.Time
	End         time.Time
	Preferences *Preferences
}

// SlotGenerator expands weekly availability into bookable start times.
type SlotGenerator struct {
	repo         Repository
	availability *AvailabilityIndex
	conflicts    *ConflictChecker
	loc          *time.Location
	maxDays      int
	metrics      *metrics.SchedulingMetrics
}

func NewSlotGenerator(repo Repository, availability *AvailabilityIndex, conflicts *ConflictChecker, loc *time.Location, policy Policy, m *metrics.SchedulingMetrics) *SlotGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &SlotGenerator{
		repo:         repo,
		availability: availability,
		conflicts:    conflicts,
		loc:          loc,
		maxDays:      policy.MaxSearchDays,
		metrics:      m,
	}
}

// FindCandidateSlots returns the free slots of a doctor, sorted ascending.
// A doctor without availability yields an empty list, not an error.
func (g *SlotGenerator) FindCandidateSlots(ctx context.Context, q SlotQuery) ([]time.Time, error) {
	doctor, err := g.repo.GetDoctor(ctx, q.DoctorID)
	if err != nil {
		return nil, err
	}
	return g.candidates(ctx, doctor, q.Start, q.End, q.Preferences)
}

func (g *SlotGenerator) candidates(ctx context.Context, doctor *Doctor, from, to time.Time, prefs *Preferences) ([]time.Time, error) {
	start := time.Now()
	defer func() { g.metrics.ObserveSlotSearch(time.Since(start).Seconds()) }()

	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("%w: date range is required", ErrInvalidInput)
	}
	if doctor.AppointmentDuration <= 0 {
		return nil, fmt.Errorf("%w: doctor %s has non-positive appointment duration", ErrInvalidInput, doctor.ID)
	}

	firstDay := g.dateOf(from)
	lastDay := g.dateOf(to)
	if lastDay.Before(firstDay) {
		return nil, fmt.Errorf("%w: end date precedes start date", ErrInvalidInput)
	}
	if days := calendarDays(firstDay, lastDay); days > g.maxDays {
		return nil, fmt.Errorf("%w: range spans %d days, limit is %d", ErrInvalidInput, days, g.maxDays)
	}

	booked, err := g.conflicts.snapshot(ctx, doctor, firstDay, lastDay.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	week := g.availability.week(doctor.ID)
	d := doctor.AppointmentDuration
	var slots []time.Time

	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		windows, err := week.windows(ctx, day.Weekday())
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			end := w.End.On(day)
			for t := w.Start.On(day); !t.Add(d).After(end); t = t.Add(d) {
				if booked.isBooked(t) || !prefs.allows(t) {
					continue
				}
				slots = append(slots, t)
			}
		}
	}

	return sortUnique(slots), nil
}

func (g *SlotGenerator) dateOf(t time.Time) time.Time {
	y, m, d := t.In(g.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, g.loc)
}

// calendarDays counts dates in [first, last]; rounding absorbs DST shifts.
func calendarDays(first, last time.Time) int {
	return int(math.Round(last.Sub(first).Hours()/24)) + 1
}

func sortUnique(ts []time.Time) []time.Time {
	if len(ts) == 0 {
		return []time.Time{}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	out := ts[:1]
	for _, t := range ts[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
