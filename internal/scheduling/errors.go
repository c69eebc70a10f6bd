package scheduling

import "errors"

// ErrNotFound is the parent of every lookup failure; test with errors.Is.
var ErrNotFound = errors.New("not found")

var (
	ErrDoctorNotFound        = notFound("doctor not found")
	ErrPatientNotFound       = notFound("patient not found")
	ErrProcedureNotFound     = notFound("procedure not found")
	ErrAppointmentNotFound   = notFound("appointment not found")
	ErrWaitlistEntryNotFound = notFound("waitlist entry not found")
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrConflictOnWrite         = errors.New("slot was booked concurrently")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOfferExpired            = errors.New("waitlist offer has expired")
	ErrDoctorBusy              = errors.New("doctor schedule is being modified, please retry")
)

type notFoundError struct{ msg string }

func notFound(msg string) error { return &notFoundError{msg: msg} }

func (e *notFoundError) Error() string { return e.msg }

func (e *notFoundError) Is(target error) bool { return target == ErrNotFound }
