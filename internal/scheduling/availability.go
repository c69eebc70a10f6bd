package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// AvailabilityIndex answers "when does this doctor work on this weekday".
type AvailabilityIndex struct {
	repo Repository
}

func NewAvailabilityIndex(repo Repository) *AvailabilityIndex {
	return &AvailabilityIndex{repo: repo}
}

// Windows returns the doctor's active, well-formed windows for weekday
// ordered by start time. Malformed rows (start >= end) are skipped.
func (a *AvailabilityIndex) Windows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error) {
	all, err := a.repo.ListAvailabilityWindows(ctx, doctorID, weekday)
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}

	windows := make([]AvailabilityWindow, 0, len(all))
	for _, w := range all {
		if !w.Active || !w.Valid() || w.Weekday != weekday {
			continue
		}
		windows = append(windows, w)
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Start < windows[j].Start
	})
	return windows, nil
}

// weekCache memoizes Windows per weekday for the span of one search.
type weekCache struct {
	index    *AvailabilityIndex
	doctorID uuid.UUID
	byDay    map[time.Weekday][]AvailabilityWindow
}

func (a *AvailabilityIndex) week(doctorID uuid.UUID) *weekCache {
	return &weekCache{index: a, doctorID: doctorID, byDay: make(map[time.Weekday][]AvailabilityWindow, 7)}
}

func (c *weekCache) windows(ctx context.Context, weekday time.Weekday) ([]AvailabilityWindow, error) {
	if w, ok := c.byDay[weekday]; ok {
		return w, nil
	}
	w, err := c.index.Windows(ctx, c.doctorID, weekday)
	if err != nil {
		return nil, err
	}
	c.byDay[weekday] = w
	return w, nil
}
