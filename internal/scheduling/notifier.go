package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// WaitlistNotification is emitted when a waiting entry has an open slot.
// Delivering it to the patient is the job of the messaging system.
type WaitlistNotification struct {
	WaitlistID    uuid.UUID `json:"waitlist_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	AvailableTime time.Time `json:"available_time"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type Notifier interface {
	NotifyWaitlist(ctx context.Context, n WaitlistNotification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n WaitlistNotification) error

func (f NotifierFunc) NotifyWaitlist(ctx context.Context, n WaitlistNotification) error {
	return f(ctx, n)
}
