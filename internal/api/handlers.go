package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

// Scheduler is the engine surface the HTTP layer drives.
type Scheduler interface {
	FindCandidateSlots(ctx context.Context, q scheduling.SlotQuery) ([]time.Time, error)
	CreateAppointment(ctx context.Context, req scheduling.CreateAppointmentRequest) scheduling.BookingResult
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	TransitionAppointment(ctx context.Context, id uuid.UUID, to scheduling.AppointmentStatus) (*scheduling.Appointment, error)
	OptimizeSchedule(ctx context.Context, requests []scheduling.OptimizationRequest) []scheduling.OptimizationResult
	AddToWaitlist(ctx context.Context, req scheduling.AddToWaitlistRequest) (scheduling.WaitlistPlacement, error)
	ListWaitlist(ctx context.Context, doctorID uuid.UUID, status scheduling.WaitlistStatus) ([]scheduling.WaitlistEntry, error)
	AcceptWaitlistOffer(ctx context.Context, waitlistID uuid.UUID, slot time.Time) scheduling.BookingResult
	CancelWaitlistEntry(ctx context.Context, id uuid.UUID) (*scheduling.WaitlistEntry, error)
	SweepNotifications(ctx context.Context) (int, error)
	ExpireNotifications(ctx context.Context) (int, error)
}

var appointmentActions = map[string]scheduling.AppointmentStatus{
	"confirm":  scheduling.StatusConfirmed,
	"complete": scheduling.StatusCompleted,
	"cancel":   scheduling.StatusCancelled,
	"no-show":  scheduling.StatusNoShow,
}

func findSlotsHandler(svc Scheduler, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		q := r.URL.Query()
		start, err := time.ParseInLocation(dateLayout, q.Get("start"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be YYYY-MM-DD")
			return
		}
		end := start
		if raw := q.Get("end"); raw != "" {
			if end, err = time.ParseInLocation(dateLayout, raw, loc); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_end", "end must be YYYY-MM-DD")
				return
			}
		}

		prefs, err := parsePreferences(q.Get("time_of_day"), q.Get("days"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preferences", err.Error())
			return
		}

		slots, err := svc.FindCandidateSlots(r.Context(), scheduling.SlotQuery{
			DoctorID:    doctorID,
			Start:       start,
			End:         end,
			Preferences: prefs,
		})
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{DoctorID: doctorID, Slots: slots})
	}
}

// parsePreferences reads time_of_day=morning and days=1,3 (0 = Sunday).
func parsePreferences(timeOfDay, days string) (*scheduling.Preferences, error) {
	if timeOfDay == "" && days == "" {
		return nil, nil
	}

	part, err := scheduling.ParseDayPart(timeOfDay)
	if err != nil {
		return nil, err
	}
	prefs := &scheduling.Preferences{TimeOfDay: part}

	if days != "" {
		for _, raw := range strings.Split(days, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || n < 0 || n > 6 {
				return nil, errors.New("days must be comma separated weekdays 0-6 (0 = Sunday)")
			}
			prefs.DaysOfWeek = append(prefs.DaysOfWeek, time.Weekday(n))
		}
	}
	return prefs, nil
}

func createAppointmentHandler(svc Scheduler, v *requestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		res := svc.CreateAppointment(r.Context(), scheduling.CreateAppointmentRequest{
			PatientID:     uuid.MustParse(req.PatientID),
			DoctorID:      uuid.MustParse(req.DoctorID),
			ProcedureID:   uuid.MustParse(req.ProcedureID),
			RequestedTime: req.RequestedTime,
		})
		writeBookingResult(w, res)
	}
}

func writeBookingResult(w http.ResponseWriter, res scheduling.BookingResult) {
	switch res.Outcome {
	case scheduling.OutcomeBooked:
		writeJSON(w, http.StatusCreated, newBookingResponse(res))
	case scheduling.OutcomeAlternativeOffered, scheduling.OutcomeWaitlistSuggested:
		writeJSON(w, http.StatusConflict, newBookingResponse(res))
	default:
		handleError(w, res.Err)
	}
}

func getAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func transitionAppointmentHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		to, ok := appointmentActions[chi.URLParam(r, "action")]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown_action", "action must be confirm, complete, cancel or no-show")
			return
		}

		appt, err := svc.TransitionAppointment(r.Context(), id, to)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func optimizeHandler(svc Scheduler, v *requestValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OptimizeRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		requests := make([]scheduling.OptimizationRequest, 0, len(req.Requests))
		for _, item := range req.Requests {
			requests = append(requests, scheduling.OptimizationRequest{
				PatientID:     uuid.MustParse(item.PatientID),
				DoctorID:      uuid.MustParse(item.DoctorID),
				ProcedureID:   uuid.MustParse(item.ProcedureID),
				RequestedTime: item.RequestedTime,
			})
		}

		results := svc.OptimizeSchedule(r.Context(), requests)

		resp := OptimizeResponse{Results: make([]OptimizeResult, 0, len(results))}
		for _, res := range results {
			out := OptimizeResult{
				PatientID:            res.PatientID,
				DoctorID:             res.DoctorID,
				ProcedureID:          res.ProcedureID,
				OriginalTime:         res.OriginalTime,
				OptimizedTime:        res.OptimizedTime,
				TimeDiffMinutes:      res.TimeDiffMinutes,
				WaitReductionMinutes: res.WaitReductionMinutes,
				Score:                res.Score,
				Found:                res.Found,
			}
			if res.Err != nil {
				out.Error = res.Err.Error()
			}
			resp.Results = append(resp.Results, out)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *requestValidator, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Validate(dst); err != nil {
		writeValidationError(w, v.FormatValidationErrors(err))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrProcedureNotFound):
		writeError(w, http.StatusNotFound, "procedure_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrWaitlistEntryNotFound):
		writeError(w, http.StatusNotFound, "waitlist_entry_not_found", err.Error())
	case errors.Is(err, scheduling.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, scheduling.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrOfferExpired):
		writeError(w, http.StatusGone, "offer_expired", err.Error())
	case errors.Is(err, scheduling.ErrDoctorBusy),
		errors.Is(err, scheduling.ErrConflictOnWrite):
		writeError(w, http.StatusConflict, "doctor_busy", "doctor schedule is currently being modified, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
