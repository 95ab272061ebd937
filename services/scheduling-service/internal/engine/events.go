package engine

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

const (
	EventAppointmentBooked        = "clinic.appointment.booked.v1"
	EventAppointmentStatusChanged = "clinic.appointment.status_changed.v1"
	EventAppointmentCancelled     = "clinic.appointment.cancelled.v1"
)

type appointmentEvent struct {
	AppointmentID   string    `json:"appointment_id"`
	ProfessionalID  string    `json:"professional_id"`
	PatientID       string    `json:"patient_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status,omitempty"`
	Actor           string    `json:"actor,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func newAppointmentEvent(eventType string, appt model.Appointment, previous model.Status, actor, reason string, at time.Time) (outbox.Event, error) {
	payload, err := json.Marshal(appointmentEvent{
		AppointmentID:   appt.ID,
		ProfessionalID:  appt.ProfessionalID,
		PatientID:       appt.PatientID,
		StartTime:       appt.StartTime,
		EndTime:         appt.EndTime(),
		DurationMinutes: appt.DurationMinutes,
		Status:          string(appt.Status),
		PreviousStatus:  string(previous),
		Actor:           actor,
		Reason:          reason,
		OccurredAt:      at,
	})
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
