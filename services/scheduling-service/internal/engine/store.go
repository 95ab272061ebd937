package engine

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

// ScheduleStore holds weekly schedule entries keyed by (professional, weekday).
type ScheduleStore interface {
	// ActiveSchedule returns nil, nil when the professional does not work that day.
	ActiveSchedule(ctx context.Context, professionalID string, weekday time.Weekday) (*model.WeeklyScheduleEntry, error)
	ListSchedule(ctx context.Context, professionalID string) ([]model.WeeklyScheduleEntry, error)
	UpsertSchedule(ctx context.Context, entry model.WeeklyScheduleEntry) (model.WeeklyScheduleEntry, error)
}

// AppointmentReader lists the appointments that occupy a professional's day,
// ordered by start. day is a local midnight; cancelled appointments are
// excluded.
type AppointmentReader interface {
	ListByProfessionalAndDate(ctx context.Context, professionalID string, day time.Time) ([]model.Appointment, error)
}

type AppointmentStore interface {
	AppointmentReader
	// Get returns ErrRecordNotFound for unknown ids.
	Get(ctx context.Context, id string) (model.Appointment, error)
	// ListDay returns every appointment of the day regardless of status.
	ListDay(ctx context.Context, professionalID string, day time.Time) ([]model.Appointment, error)
	// InTx runs fn in a transaction serialized with every other InTx call for
	// the same professional. Reads inside fn observe earlier writes.
	InTx(ctx context.Context, professionalID string, fn func(Tx) error) error
}

type Tx interface {
	AppointmentReader
	// Create returns ErrOverlap when the store itself detects a clash.
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	GetForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error
	InsertCancellation(ctx context.Context, rec model.CancellationRecord) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
}
