package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

const appointmentColumns = `id, patient_id, doctor_id, procedure_id, scheduled_at, status, created_at, updated_at`

const waitlistColumns = `id, patient_id, doctor_id, procedure_id, preferred_date, preferred_time_start,
		preferred_time_end, status, priority_score, notified_at, expires_at, offered_at, created_at, updated_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var durationMinutes int

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.MaxDailyAppointments,
		&durationMinutes,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.AppointmentDuration = time.Duration(durationMinutes) * time.Minute
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ProcedureID,
		&a.ScheduledAt,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var (
		e          WaitlistEntry
		status     string
		start, end pgtype.Time
	)

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.DoctorID,
		&e.ProcedureID,
		&e.PreferredDate,
		&start,
		&end,
		&status,
		&e.PriorityScore,
		&e.NotifiedAt,
		&e.ExpiresAt,
		&e.OfferedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}

	e.Status = WaitlistStatus(status)
	e.TimeStart = fromPgTime(start)
	e.TimeEnd = fromPgTime(end)
	return &e, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func toPgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

// Interface methods

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, max_daily_appointments, appointment_duration_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetProcedure(ctx context.Context, id uuid.UUID) (*ProcedureType, error) {
	var p ProcedureType
	err := r.db.QueryRow(ctx, `
		SELECT id, name, urgent
		FROM procedure_types
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Urgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProcedureNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) ListAvailabilityWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time, is_active
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND is_active
		ORDER BY start_time
	`, doctorID, int(weekday))
	if err != nil {
		return nil, err
	}

	return collect(rows, func(row pgx.Row) (*AvailabilityWindow, error) {
		var (
			w          AvailabilityWindow
			day        int
			start, end pgtype.Time
		)
		if err := row.Scan(&w.ID, &w.DoctorID, &day, &start, &end, &w.Active); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(day)
		w.Start = fromPgTime(start)
		w.End = fromPgTime(end)
		return &w, nil
	})
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		ORDER BY scheduled_at
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
	`, doctorID, from, to).Scan(&n)
	return n, err
}

func (r *PgRepository) CountCompletedAppointments(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE patient_id = $1
		  AND status = 'completed'
	`, patientID).Scan(&n)
	return n, err
}

func (r *PgRepository) HasConflict(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND status IN ('pending', 'confirmed')
			  AND scheduled_at > $2
			  AND scheduled_at < $3
		)
	`, doctorID, start.Add(-duration), start.Add(duration)).Scan(&exists)
	return exists, err
}

// CreateAppointment inserts only if no active appointment overlaps. A lost
// race against a concurrent insert surfaces either as no row returned or as
// a unique violation on (doctor_id, scheduled_at).
func (r *PgRepository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, procedure_id, scheduled_at, status, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, 'pending', now(), now()
		WHERE NOT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $3
			  AND status IN ('pending', 'confirmed')
			  AND scheduled_at > $6
			  AND scheduled_at < $7
		)
		RETURNING `+appointmentColumns,
		id, in.PatientID, in.DoctorID, in.ProcedureID, in.ScheduledAt,
		in.ScheduledAt.Add(-in.Duration), in.ScheduledAt.Add(in.Duration))

	appt, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.Is(err, ErrAppointmentNotFound):
			return nil, ErrConflictOnWrite
		case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
			return nil, ErrConflictOnWrite
		}
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) CreateWaitlistEntry(ctx context.Context, in NewWaitlistEntry) (*WaitlistEntry, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, patient_id, doctor_id, procedure_id, preferred_date,
			preferred_time_start, preferred_time_end, status, priority_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'waiting', $8, now(), now())
		RETURNING `+waitlistColumns,
		id, in.PatientID, in.DoctorID, in.ProcedureID, in.PreferredDate,
		toPgTime(in.TimeStart), toPgTime(in.TimeEnd), in.PriorityScore)

	return scanWaitlistEntry(row)
}

func (r *PgRepository) GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE id = $1
	`, id)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE ($1::uuid IS NULL OR doctor_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY priority_score DESC, created_at ASC
	`, f.DoctorID, string(f.Status))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWaitlistEntry)
}

func (r *PgRepository) CountWaitingAtOrAbove(ctx context.Context, doctorID uuid.UUID, priority int) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM waitlist_entries
		WHERE doctor_id = $1
		  AND status = 'waiting'
		  AND priority_score >= $2
	`, doctorID, priority).Scan(&n)
	return n, err
}

func (r *PgRepository) TransitionWaitlistEntry(ctx context.Context, t WaitlistTransition) (*WaitlistEntry, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = $2,
		    notified_at = $4,
		    expires_at = $5,
		    offered_at = $6,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+waitlistColumns,
		t.ID, string(t.To), string(t.From), t.NotifiedAt, t.ExpiresAt, t.OfferedAt)

	return scanWaitlistEntry(row)
}

func (r *PgRepository) FindExpiredNotified(ctx context.Context, now time.Time) ([]WaitlistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE status = 'notified'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWaitlistEntry)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, entity_type, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.EntityType, ev.EntityID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
