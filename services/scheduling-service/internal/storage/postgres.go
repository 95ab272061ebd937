package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

const appointmentColumns = `
	a.id::text, a.professional_id, a.patient_id, a.start_time, a.duration_minutes, a.status,
	a.consultation_kind, a.insurer_id, a.reason, a.notes, a.created_at, a.updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements the engine's schedule and appointment stores.
// Appointment overlap is also enforced by an exclusion constraint, so a
// conflicting insert that slips past the application lock still fails.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

func (s *PostgresStore) ActiveSchedule(ctx context.Context, professionalID string, weekday time.Weekday) (*model.WeeklyScheduleEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT professional_id, weekday, start_minute, end_minute, is_active, updated_at
		FROM weekly_schedules
		WHERE professional_id = $1 AND weekday = $2 AND is_active
	`, professionalID, int(weekday))
	entry, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *PostgresStore) ListSchedule(ctx context.Context, professionalID string) ([]model.WeeklyScheduleEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT professional_id, weekday, start_minute, end_minute, is_active, updated_at
		FROM weekly_schedules
		WHERE professional_id = $1
		ORDER BY weekday
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WeeklyScheduleEntry
	for rows.Next() {
		entry, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSchedule(ctx context.Context, entry model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO weekly_schedules (professional_id, weekday, start_minute, end_minute, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (professional_id, weekday)
		DO UPDATE SET start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING professional_id, weekday, start_minute, end_minute, is_active, updated_at
	`, entry.ProfessionalID, int(entry.Weekday), entry.StartMinute, entry.EndMinute, entry.IsActive, entry.UpdatedAt)
	return scanSchedule(row)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`,
			c.reason, c.cancelled_by, c.cancelled_at
		FROM appointments a
		LEFT JOIN appointment_cancellations c ON c.appointment_id = a.id
		WHERE a.id = $1
	`, id)
	appt, err := scanAppointmentWithCancellation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	return appt, err
}

func (s *PostgresStore) ListByProfessionalAndDate(ctx context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	return listActive(ctx, s.pool, professionalID, day)
}

func (s *PostgresStore) ListDay(ctx context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`,
			c.reason, c.cancelled_by, c.cancelled_at
		FROM appointments a
		LEFT JOIN appointment_cancellations c ON c.appointment_id = a.id
		WHERE a.professional_id = $1
			AND a.start_time < $3
			AND a.end_time > $2
		ORDER BY a.start_time ASC
	`, professionalID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointmentWithCancellation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// InTx takes a transaction-scoped advisory lock on the professional so that
// booking re-validation and insert run serially across replicas.
func (s *PostgresStore) InTx(ctx context.Context, professionalID string, fn func(engine.Tx) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, professionalID); err != nil {
			return err
		}
		return fn(&postgresTx{tx: tx, outbox: s.outbox})
	})
}

type postgresTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *postgresTx) ListByProfessionalAndDate(ctx context.Context, professionalID string, day time.Time) ([]model.Appointment, error) {
	return listActive(ctx, t.tx, professionalID, day)
}

func (t *postgresTx) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, professional_id, patient_id, start_time, end_time, duration_minutes, status,
			 consultation_kind, insurer_id, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, appt.ID, appt.ProfessionalID, appt.PatientID, appt.StartTime, appt.EndTime(), appt.DurationMinutes,
		string(appt.Status), string(appt.ConsultationKind), appt.InsurerID, appt.Reason, appt.Notes,
		appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		if IsConflict(err) {
			return model.Appointment{}, engine.ErrOverlap
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (t *postgresTx) GetForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`,
			c.reason, c.cancelled_by, c.cancelled_at
		FROM appointments a
		LEFT JOIN appointment_cancellations c ON c.appointment_id = a.id
		WHERE a.id = $1
		FOR UPDATE OF a
	`, id)
	appt, err := scanAppointmentWithCancellation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, engine.ErrRecordNotFound
	}
	return appt, err
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			updated_at = $3
		WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrRecordNotFound
	}
	return nil
}

func (t *postgresTx) InsertCancellation(ctx context.Context, rec model.CancellationRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_cancellations (appointment_id, reason, cancelled_by, cancelled_at)
		VALUES ($1, $2, $3, $4)
	`, rec.AppointmentID, rec.Reason, rec.CancelledBy, rec.CancelledAt)
	return err
}

func (t *postgresTx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func listActive(ctx context.Context, q querier, professionalID string, day time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.professional_id = $1
			AND a.status <> 'cancelled'
			AND a.start_time < $3
			AND a.end_time > $2
		ORDER BY a.start_time ASC
	`, professionalID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

// IsConflict reports whether err is an exclusion or unique violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgExclusionViolation || pgErr.Code == pgUniqueViolation
	}
	return false
}

func scanSchedule(row pgx.Row) (model.WeeklyScheduleEntry, error) {
	var entry model.WeeklyScheduleEntry
	var weekday int16
	err := row.Scan(&entry.ProfessionalID, &weekday, &entry.StartMinute, &entry.EndMinute, &entry.IsActive, &entry.UpdatedAt)
	if err != nil {
		return model.WeeklyScheduleEntry{}, err
	}
	entry.Weekday = time.Weekday(weekday)
	return entry, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status, kind string
	err := row.Scan(
		&appt.ID,
		&appt.ProfessionalID,
		&appt.PatientID,
		&appt.StartTime,
		&appt.DurationMinutes,
		&status,
		&kind,
		&appt.InsurerID,
		&appt.Reason,
		&appt.Notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.ConsultationKind = model.ConsultationKind(kind)
	return appt, nil
}

func scanAppointmentWithCancellation(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status, kind string
	var cancelReason, cancelledBy *string
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.ProfessionalID,
		&appt.PatientID,
		&appt.StartTime,
		&appt.DurationMinutes,
		&status,
		&kind,
		&appt.InsurerID,
		&appt.Reason,
		&appt.Notes,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&cancelReason,
		&cancelledBy,
		&cancelledAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.ConsultationKind = model.ConsultationKind(kind)
	if cancelledAt != nil {
		rec := model.CancellationRecord{AppointmentID: appt.ID, CancelledAt: *cancelledAt}
		if cancelReason != nil {
			rec.Reason = *cancelReason
		}
		if cancelledBy != nil {
			rec.CancelledBy = *cancelledBy
		}
		appt.Cancellation = &rec
	}
	return appt, nil
}
