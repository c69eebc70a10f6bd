package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ConflictChecker decides whether a candidate start collides with a booked
// appointment.
//
// Every appointment of a doctor lasts the doctor's AppointmentDuration d, so
// [a, a+d) and [c, c+d) overlap exactly when a lies strictly inside
// (c-d, c+d). Back-to-back appointments do not conflict. Procedures with
// their own durations are not modelled.
type ConflictChecker struct {
	repo Repository
}

func NewConflictChecker(repo Repository) *ConflictChecker {
	return &ConflictChecker{repo: repo}
}

func (c *ConflictChecker) IsBooked(ctx context.Context, doctor *Doctor, start time.Time) (bool, error) {
	booked, err := c.repo.HasConflict(ctx, doctor.ID, start, doctor.AppointmentDuration)
	if err != nil {
		return false, fmt.Errorf("check conflict: %w", err)
	}
	return booked, nil
}

func overlaps(existing, candidate time.Time, d time.Duration) bool {
	return existing.After(candidate.Add(-d)) && existing.Before(candidate.Add(d))
}

// bookedSet is an in-memory snapshot of a doctor's active appointment starts,
// used to prune a whole search range with a single read.
type bookedSet struct {
	starts   []time.Time // sorted
	duration time.Duration
}

func (c *ConflictChecker) snapshot(ctx context.Context, doctor *Doctor, from, to time.Time) (*bookedSet, error) {
	d := doctor.AppointmentDuration
	appts, err := c.repo.ListActiveAppointments(ctx, doctor.ID, from.Add(-d), to.Add(d))
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}

	starts := make([]time.Time, 0, len(appts))
	for _, a := range appts {
		if a.Status.Terminal() {
			continue
		}
		starts = append(starts, a.ScheduledAt)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	return &bookedSet{starts: starts, duration: d}, nil
}

func (b *bookedSet) isBooked(candidate time.Time) bool {
	lower := candidate.Add(-b.duration)
	i := sort.Search(len(b.starts), func(i int) bool { return b.starts[i].After(lower) })
	return i < len(b.starts) && overlaps(b.starts[i], candidate, b.duration)
}
