package model

import "time"

type Appointment struct {
	ID               string
	ProfessionalID   string
	PatientID        string
	StartTime        time.Time
	DurationMinutes  int
	Status           Status
	ConsultationKind ConsultationKind
	InsurerID        *string
	Reason           string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Cancellation     *CancellationRecord
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// CancellationRecord is written once, when the appointment is cancelled.
type CancellationRecord struct {
	AppointmentID string
	Reason        string
	CancelledBy   string
	CancelledAt   time.Time
}
