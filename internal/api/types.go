package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

const dateLayout = "2006-01-02"

type CreateAppointmentRequest struct {
	PatientID     string    `json:"patient_id" validate:"required,uuid"`
	DoctorID      string    `json:"doctor_id" validate:"required,uuid"`
	ProcedureID   string    `json:"procedure_id" validate:"required,uuid"`
	RequestedTime time.Time `json:"requested_time" validate:"required"`
}

type BookingResponse struct {
	Outcome         string     `json:"outcome"`
	AppointmentID   *uuid.UUID `json:"appointment_id,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	AlternativeTime *time.Time `json:"alternative_time,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

func newBookingResponse(res scheduling.BookingResult) BookingResponse {
	resp := BookingResponse{Outcome: string(res.Outcome), Reason: res.Reason}
	if res.Outcome == scheduling.OutcomeBooked {
		resp.AppointmentID = &res.AppointmentID
		resp.ScheduledAt = &res.ScheduledAt
	}
	if !res.AlternativeTime.IsZero() {
		resp.AlternativeTime = &res.AlternativeTime
	}
	return resp
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	PatientID   uuid.UUID `json:"patient_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	ProcedureID uuid.UUID `json:"procedure_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:          a.ID,
		PatientID:   a.PatientID,
		DoctorID:    a.DoctorID,
		ProcedureID: a.ProcedureID,
		ScheduledAt: a.ScheduledAt,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

type SlotsResponse struct {
	DoctorID uuid.UUID   `json:"doctor_id"`
	Slots    []time.Time `json:"slots"`
}

type OptimizeRequest struct {
	Requests []OptimizeItem `json:"requests" validate:"required,min=1,max=500,dive"`
}

type OptimizeItem struct {
	PatientID     string    `json:"patient_id" validate:"required,uuid"`
	DoctorID      string    `json:"doctor_id" validate:"required,uuid"`
	ProcedureID   string    `json:"procedure_id" validate:"required,uuid"`
	RequestedTime time.Time `json:"requested_time" validate:"required"`
}

type OptimizeResult struct {
	PatientID            uuid.UUID `json:"patient_id"`
	DoctorID             uuid.UUID `json:"doctor_id"`
	ProcedureID          uuid.UUID `json:"procedure_id"`
	OriginalTime         time.Time `json:"original_time"`
	OptimizedTime        time.Time `json:"optimized_time"`
	TimeDiffMinutes      int       `json:"time_diff_minutes"`
	WaitReductionMinutes int       `json:"wait_reduction_minutes"`
	Score                float64   `json:"score"`
	Found                bool      `json:"found"`
	Error                string    `json:"error,omitempty"`
}

type OptimizeResponse struct {
	Results []OptimizeResult `json:"results"`
}

type AddToWaitlistRequest struct {
	PatientID     string `json:"patient_id" validate:"required,uuid"`
	DoctorID      string `json:"doctor_id" validate:"required,uuid"`
	ProcedureID   string `json:"procedure_id" validate:"required,uuid"`
	PreferredDate string `json:"preferred_date" validate:"required,datetime=2006-01-02"`
	TimeStart     string `json:"time_start,omitempty" validate:"omitempty,datetime=15:04"`
	TimeEnd       string `json:"time_end,omitempty" validate:"omitempty,datetime=15:04"`
}

type WaitlistPlacementResponse struct {
	WaitlistID    uuid.UUID `json:"waitlist_id"`
	QueuePosition int       `json:"queue_position"`
	PriorityScore int       `json:"priority_score"`
}

type WaitlistEntryResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	ProcedureID   uuid.UUID  `json:"procedure_id"`
	PreferredDate string     `json:"preferred_date"`
	TimeStart     string     `json:"time_start"`
	TimeEnd       string     `json:"time_end"`
	Status        string     `json:"status"`
	PriorityScore int        `json:"priority_score"`
	NotifiedAt    *time.Time `json:"notified_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	OfferedAt     *time.Time `json:"offered_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newWaitlistEntryResponse(e *scheduling.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:            e.ID,
		PatientID:     e.PatientID,
		DoctorID:      e.DoctorID,
		ProcedureID:   e.ProcedureID,
		PreferredDate: e.PreferredDate.Format(dateLayout),
		TimeStart:     e.TimeStart.String(),
		TimeEnd:       e.TimeEnd.String(),
		Status:        string(e.Status),
		PriorityScore: e.PriorityScore,
		NotifiedAt:    e.NotifiedAt,
		ExpiresAt:     e.ExpiresAt,
		OfferedAt:     e.OfferedAt,
		CreatedAt:     e.CreatedAt,
	}
}

type WaitlistListResponse struct {
	Entries []WaitlistEntryResponse `json:"entries"`
}

// AcceptOfferRequest is optional; an empty body accepts the offered slot.
type AcceptOfferRequest struct {
	Slot *time.Time `json:"slot,omitempty"`
}

type SweepResponse struct {
	NotifiedCount int  `json:"notified_count"`
	ExpiredCount  int  `json:"expired_count"`
	ExpireFailed  bool `json:"expire_failed,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
