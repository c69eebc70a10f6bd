package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

func addToWaitlistHandler(svc Scheduler, v *requestValidator, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddToWaitlistRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		date, err := time.ParseInLocation(dateLayout, req.PreferredDate, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_preferred_date", "preferred_date must be YYYY-MM-DD")
			return
		}
		in := scheduling.AddToWaitlistRequest{
			PatientID:     uuid.MustParse(req.PatientID),
			DoctorID:      uuid.MustParse(req.DoctorID),
			ProcedureID:   uuid.MustParse(req.ProcedureID),
			PreferredDate: date,
		}
		if req.TimeStart != "" {
			start, err := scheduling.ParseTimeOfDay(req.TimeStart)
			if err != nil {
				handleError(w, err)
				return
			}
			in.TimeStart = &start
		}
		if req.TimeEnd != "" {
			end, err := scheduling.ParseTimeOfDay(req.TimeEnd)
			if err != nil {
				handleError(w, err)
				return
			}
			in.TimeEnd = &end
		}

		placement, err := svc.AddToWaitlist(r.Context(), in)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, WaitlistPlacementResponse{
			WaitlistID:    placement.WaitlistID,
			QueuePosition: placement.QueuePosition,
			PriorityScore: placement.PriorityScore,
		})
	}
}

var waitlistStatuses = map[string]scheduling.WaitlistStatus{
	"":          "",
	"waiting":   scheduling.WaitlistWaiting,
	"notified":  scheduling.WaitlistNotified,
	"booked":    scheduling.WaitlistBooked,
	"expired":   scheduling.WaitlistExpired,
	"cancelled": scheduling.WaitlistCancelled,
}

func listWaitlistHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		status, ok := waitlistStatuses[r.URL.Query().Get("status")]
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be waiting, notified, booked, expired or cancelled")
			return
		}

		entries, err := svc.ListWaitlist(r.Context(), doctorID, status)
		if err != nil {
			handleError(w, err)
			return
		}

		resp := WaitlistListResponse{Entries: make([]WaitlistEntryResponse, 0, len(entries))}
		for i := range entries {
			resp.Entries = append(resp.Entries, newWaitlistEntryResponse(&entries[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func acceptWaitlistOfferHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_waitlist_id")
		if !ok {
			return
		}

		var req AcceptOfferRequest
		if !decodeOptional(w, r, &req) {
			return
		}

		var slot time.Time
		if req.Slot != nil {
			slot = *req.Slot
		}

		writeBookingResult(w, svc.AcceptWaitlistOffer(r.Context(), id, slot))
	}
}

func cancelWaitlistEntryHandler(svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_waitlist_id")
		if !ok {
			return
		}

		entry, err := svc.CancelWaitlistEntry(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, newWaitlistEntryResponse(entry))
	}
}

// sweepHandler runs one expiry pass and one notification sweep, the same
// cycle the waitlist worker runs on its ticker. An expiry failure is
// reported in the response but does not skip the sweep.
func sweepHandler(svc Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expired, err := svc.ExpireNotifications(r.Context())
		expireFailed := err != nil
		if expireFailed {
			log.Error("expire notifications failed", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
		}

		notified, err := svc.SweepNotifications(r.Context())
		if err != nil {
			log.Error("waitlist sweep failed", zap.Error(err), zap.String("request_id", GetRequestID(r.Context())))
			handleError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SweepResponse{
			NotifiedCount: notified,
			ExpiredCount:  expired,
			ExpireFailed:  expireFailed,
		})
	}
}
