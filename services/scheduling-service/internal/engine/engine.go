// Package engine answers availability queries, books appointments and moves
// them through their status lifecycle.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/lock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/lifecycle"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Policy   availability.Policy
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	schedules ScheduleStore
	appts     AppointmentStore
	locker    lock.Locker
	logger    *slog.Logger
	policy    availability.Policy
	loc       *time.Location
	now       func() time.Time
	tracer    trace.Tracer
}

// New builds an Engine. A nil locker falls back to an in-process keyed mutex.
func New(schedules ScheduleStore, appts AppointmentStore, locker lock.Locker, logger *slog.Logger, cfg Config) (*Engine, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schedules: schedules,
		appts:     appts,
		locker:    locker,
		logger:    logger,
		policy:    cfg.Policy,
		loc:       cfg.Location,
		now:       cfg.Now,
		tracer:    otel.Tracer("scheduling-engine"),
	}, nil
}

func (e *Engine) Policy() availability.Policy { return e.policy }

func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) today() time.Time {
	return availability.DayStart(e.now(), e.loc)
}

// Availability returns the slot grid for professionalID on date. A zero
// durationMinutes uses the policy minimum.
func (e *Engine) Availability(ctx context.Context, professionalID string, date time.Time, durationMinutes int) (slots []availability.Slot, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.availability", trace.WithAttributes(
		attribute.String("professional.id", professionalID),
		attribute.String("date", date.Format(time.DateOnly)),
	))
	defer func() { e.endSpan(span, err) }()

	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, newError(KindInvalidArgument, "professional_id is required")
	}
	if durationMinutes == 0 {
		durationMinutes = e.policy.MinDurationMinutes
	}
	if !e.policy.ValidDuration(durationMinutes) {
		return nil, newError(KindInvalidArgument, "duration must be a multiple of the slot granularity and at least the minimum duration")
	}

	day := availability.DayStart(date, e.loc)
	entry, err := e.schedules.ActiveSchedule(ctx, professionalID, day.Weekday())
	if err != nil {
		return nil, e.storeError(ctx, "load schedule", err)
	}
	window, ok := availability.EffectiveWindow(entry, day, e.today(), e.policy)
	if !ok {
		return []availability.Slot{}, nil
	}

	appts, err := e.appts.ListByProfessionalAndDate(ctx, professionalID, day)
	if err != nil {
		return nil, e.storeError(ctx, "list appointments", err)
	}
	slots = availability.Grid(day, window, durationMinutes, e.policy.GranularityMinutes, busyIntervals(appts))
	if slots == nil {
		slots = []availability.Slot{}
	}
	return slots, nil
}

type BookRequest struct {
	ProfessionalID   string
	PatientID        string
	Start            time.Time
	DurationMinutes  int
	ConsultationKind model.ConsultationKind
	InsurerID        *string
	Reason           string
	Notes            string
}

// Book validates the slot against the schedule and grid, then re-reads
// occupancy and inserts the appointment under the professional's lock.
func (e *Engine) Book(ctx context.Context, req BookRequest) (appt model.Appointment, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.book", trace.WithAttributes(
		attribute.String("professional.id", req.ProfessionalID),
		attribute.String("start", req.Start.Format(time.RFC3339)),
	))
	defer func() { e.endSpan(span, err) }()

	req, err = e.normalizeBooking(req)
	if err != nil {
		return model.Appointment{}, err
	}

	now := e.now()
	start := req.Start.In(e.loc)
	day := availability.DayStart(start, e.loc)
	if err := lifecycle.CheckInitial(start, now); err != nil {
		return model.Appointment{}, e.rejected(ctx, "book", newError(KindTemporalInconsistency, "cannot book an appointment on a past day"))
	}

	entry, err := e.schedules.ActiveSchedule(ctx, req.ProfessionalID, day.Weekday())
	if err != nil {
		return model.Appointment{}, e.storeError(ctx, "load schedule", err)
	}
	if verr := e.checkSlot(entry, start, day, req.DurationMinutes); verr != nil {
		return model.Appointment{}, e.rejected(ctx, "book", verr)
	}

	requested := availability.Interval{
		Start: start,
		End:   start.Add(time.Duration(req.DurationMinutes) * time.Minute),
	}

	unlock, err := e.locker.Lock(ctx, "professional:"+req.ProfessionalID)
	if err != nil {
		return model.Appointment{}, e.storeError(ctx, "acquire booking lock", err)
	}
	defer unlock()

	err = e.appts.InTx(ctx, req.ProfessionalID, func(tx Tx) error {
		current, err := tx.ListByProfessionalAndDate(ctx, req.ProfessionalID, day)
		if err != nil {
			return err
		}
		if conflict, found := availability.FirstOverlap(requested, busyIntervals(current)); found {
			return &Error{Kind: KindSlotConflict, Message: "requested time overlaps an existing appointment", Conflict: &conflict}
		}

		created, err := tx.Create(ctx, model.Appointment{
			ID:               uuid.NewString(),
			ProfessionalID:   req.ProfessionalID,
			PatientID:        req.PatientID,
			StartTime:        start,
			DurationMinutes:  req.DurationMinutes,
			Status:           model.StatusScheduled,
			ConsultationKind: req.ConsultationKind,
			InsurerID:        req.InsurerID,
			Reason:           req.Reason,
			Notes:            req.Notes,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
		if err != nil {
			return err
		}
		evt, err := newAppointmentEvent(EventAppointmentBooked, created, "", "", "", now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return err
		}
		appt = created
		return nil
	})
	if err != nil {
		return model.Appointment{}, e.txError(ctx, "book", err)
	}

	e.logger.InfoContext(ctx, "appointment booked",
		"appointment_id", appt.ID,
		"professional_id", appt.ProfessionalID,
		"start", appt.StartTime.Format(time.RFC3339),
	)
	return appt, nil
}

func (e *Engine) normalizeBooking(req BookRequest) (BookRequest, error) {
	req.ProfessionalID = strings.TrimSpace(req.ProfessionalID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.ProfessionalID == "" || req.PatientID == "" {
		return req, newError(KindInvalidArgument, "professional_id and patient_id are required")
	}
	if req.Start.IsZero() {
		return req, newError(KindInvalidArgument, "start is required")
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = e.policy.MinDurationMinutes
	}
	if !e.policy.ValidDuration(req.DurationMinutes) {
		return req, newError(KindInvalidArgument, "duration must be a multiple of the slot granularity and at least the minimum duration")
	}
	if req.ConsultationKind == "" {
		req.ConsultationKind = model.ConsultationSelfPay
	}
	if req.InsurerID != nil && strings.TrimSpace(*req.InsurerID) == "" {
		req.InsurerID = nil
	}
	if req.ConsultationKind == model.ConsultationInsurance && req.InsurerID == nil {
		return req, newError(KindInvalidArgument, "insurer_id is required for insurance consultations")
	}
	return req, nil
}

// checkSlot rejects starts that are off the grid or outside the day's
// effective window. It runs before the occupancy check, so an off-grid
// request reports InvalidSlot even when it also overlaps a booking.
func (e *Engine) checkSlot(entry *model.WeeklyScheduleEntry, start, day time.Time, durationMinutes int) *Error {
	minute, whole := availability.MinuteOfDay(start)
	if !whole || !availability.Aligned(minute, e.policy.GranularityMinutes) {
		return newError(KindInvalidSlot, "start is not aligned to the slot grid")
	}
	window, ok := availability.EffectiveWindow(entry, day, e.today(), e.policy)
	if !ok || !window.Contains(minute, durationMinutes) {
		return newError(KindInvalidSlot, "requested time is outside the professional's working hours")
	}
	return nil
}

type StatusRequest struct {
	AppointmentID string
	Status        model.Status
	Actor         string
	Reason        string
}

// SetStatus applies a lifecycle transition. Moving to cancelled also writes
// the cancellation record.
func (e *Engine) SetStatus(ctx context.Context, req StatusRequest) (appt model.Appointment, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.set_status", trace.WithAttributes(
		attribute.String("appointment.id", req.AppointmentID),
		attribute.String("status", string(req.Status)),
	))
	defer func() { e.endSpan(span, err) }()

	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Actor = strings.TrimSpace(req.Actor)
	if req.AppointmentID == "" || req.Actor == "" {
		return model.Appointment{}, newError(KindInvalidArgument, "appointment_id and actor are required")
	}
	if _, perr := model.ParseStatus(string(req.Status)); perr != nil {
		return model.Appointment{}, newError(KindInvalidArgument, perr.Error())
	}

	existing, err := e.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, e.txError(ctx, "set_status", err)
	}

	unlock, err := e.locker.Lock(ctx, "professional:"+existing.ProfessionalID)
	if err != nil {
		return model.Appointment{}, e.storeError(ctx, "acquire booking lock", err)
	}
	defer unlock()

	err = e.appts.InTx(ctx, existing.ProfessionalID, func(tx Tx) error {
		current, err := tx.GetForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return err
		}
		now := e.now()
		if err := lifecycle.CheckTransition(current.Status, req.Status, current.StartTime.In(e.loc), now.In(e.loc)); err != nil {
			if errors.Is(err, lifecycle.ErrTemporal) {
				return newError(KindTemporalInconsistency, string(req.Status)+" is not allowed for an appointment on "+current.StartTime.In(e.loc).Format(time.DateOnly))
			}
			return newError(KindInvalidTransition, "cannot move from "+string(current.Status)+" to "+string(req.Status))
		}
		if current.Status == req.Status {
			appt = current
			return nil
		}

		if err := tx.UpdateStatus(ctx, current.ID, req.Status, now); err != nil {
			return err
		}
		previous := current.Status
		current.Status = req.Status
		current.UpdatedAt = now

		if req.Status == model.StatusCancelled {
			rec := model.CancellationRecord{
				AppointmentID: current.ID,
				Reason:        strings.TrimSpace(req.Reason),
				CancelledBy:   req.Actor,
				CancelledAt:   now,
			}
			if err := tx.InsertCancellation(ctx, rec); err != nil {
				return err
			}
			current.Cancellation = &rec
			evt, err := newAppointmentEvent(EventAppointmentCancelled, current, previous, req.Actor, rec.Reason, now)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, evt); err != nil {
				return err
			}
		}

		evt, err := newAppointmentEvent(EventAppointmentStatusChanged, current, previous, req.Actor, req.Reason, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, evt); err != nil {
			return err
		}
		appt = current
		return nil
	})
	if err != nil {
		return model.Appointment{}, e.txError(ctx, "set_status", err)
	}
	return appt, nil
}

func (e *Engine) Get(ctx context.Context, id string) (model.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Appointment{}, newError(KindInvalidArgument, "id is required")
	}
	appt, err := e.appts.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, e.txError(ctx, "get", err)
	}
	return appt, nil
}

// ListDay returns every appointment of the professional on date, cancelled ones included.
func (e *Engine) ListDay(ctx context.Context, professionalID string, date time.Time) ([]model.Appointment, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, newError(KindInvalidArgument, "professional_id is required")
	}
	appts, err := e.appts.ListDay(ctx, professionalID, availability.DayStart(date, e.loc))
	if err != nil {
		return nil, e.storeError(ctx, "list day", err)
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	return appts, nil
}

func (e *Engine) UpsertSchedule(ctx context.Context, entry model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error) {
	entry.ProfessionalID = strings.TrimSpace(entry.ProfessionalID)
	if err := entry.Validate(); err != nil {
		return model.WeeklyScheduleEntry{}, newError(KindInvalidArgument, err.Error())
	}
	entry.UpdatedAt = e.now()
	saved, err := e.schedules.UpsertSchedule(ctx, entry)
	if err != nil {
		return model.WeeklyScheduleEntry{}, e.storeError(ctx, "upsert schedule", err)
	}
	return saved, nil
}

func (e *Engine) ListSchedule(ctx context.Context, professionalID string) ([]model.WeeklyScheduleEntry, error) {
	professionalID = strings.TrimSpace(professionalID)
	if professionalID == "" {
		return nil, newError(KindInvalidArgument, "professional_id is required")
	}
	entries, err := e.schedules.ListSchedule(ctx, professionalID)
	if err != nil {
		return nil, e.storeError(ctx, "list schedule", err)
	}
	if entries == nil {
		entries = []model.WeeklyScheduleEntry{}
	}
	return entries, nil
}

func busyIntervals(appts []model.Appointment) []availability.Interval {
	busy := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		if !a.Status.Occupying() {
			continue
		}
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime()})
	}
	return busy
}

// txError maps errors returned from store calls and transaction bodies.
func (e *Engine) txError(ctx context.Context, op string, err error) error {
	var engErr *Error
	switch {
	case errors.As(err, &engErr):
		return e.rejected(ctx, op, engErr)
	case errors.Is(err, ErrRecordNotFound):
		return e.rejected(ctx, op, newError(KindNotFound, "appointment not found"))
	case errors.Is(err, ErrOverlap):
		return e.rejected(ctx, op, newError(KindSlotConflict, "requested time overlaps an existing appointment"))
	default:
		return e.storeError(ctx, op, err)
	}
}

func (e *Engine) rejected(ctx context.Context, op string, err *Error) error {
	e.logger.InfoContext(ctx, "request rejected", "op", op, "kind", string(err.Kind), "reason", err.Message)
	return err
}

func (e *Engine) storeError(ctx context.Context, op string, err error) error {
	e.logger.ErrorContext(ctx, "store failure", "op", op, "err", err)
	return &Error{Kind: KindStoreUnavailable, Message: op + " failed", Err: err}
}

func (e *Engine) endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(KindOf(err))))
		if KindOf(err) == KindStoreUnavailable {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
