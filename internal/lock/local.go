package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type localLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
	wait  time.Duration
}

// NewLocalLocker serializes per doctor inside one process. It is only safe
// when a single api-server and no separate worker write to the database.
func NewLocalLocker(wait time.Duration) Locker {
	return &localLocker{
		slots: make(map[uuid.UUID]chan struct{}),
		wait:  wait,
	}
}

func (l *localLocker) sem(doctorID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[doctorID]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[doctorID] = s
	}
	return s
}

func (l *localLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	s := l.sem(doctorID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s }()

	return fn(ctx)
}
