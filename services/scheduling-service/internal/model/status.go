package model

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusScheduled     Status = "scheduled"
	StatusConfirmed     Status = "confirmed"
	StatusInWaitingRoom Status = "in_waiting_room"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusNoShow        Status = "no_show"
)

var allStatuses = []Status{
	StatusScheduled,
	StatusConfirmed,
	StatusInWaitingRoom,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
}

// ParseStatus accepts the wire form in any case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allStatuses {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Occupying reports whether an appointment in this status holds its slot.
// Only cancellations free the slot; a no-show keeps the historical booking.
func (s Status) Occupying() bool {
	return s != StatusCancelled
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type ConsultationKind string

const (
	ConsultationInsurance ConsultationKind = "insurance"
	ConsultationSelfPay   ConsultationKind = "self_pay"
)

func ParseConsultationKind(raw string) (ConsultationKind, error) {
	switch k := ConsultationKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case ConsultationInsurance, ConsultationSelfPay:
		return k, nil
	case "":
		return ConsultationSelfPay, nil
	}
	return "", fmt.Errorf("unknown consultation kind %q", raw)
}
