// Package lifecycle holds the appointment status machine. Legal moves are a
// table keyed by (current status, whether the appointment day is past).
package lifecycle

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var (
	ErrTemporal   = errors.New("status is inconsistent with the appointment date")
	ErrTransition = errors.New("status transition not allowed")
)

type key struct {
	from model.Status
	past bool
}

var transitions = map[key][]model.Status{
	{model.StatusScheduled, false}:     {model.StatusConfirmed, model.StatusInWaitingRoom, model.StatusCancelled, model.StatusNoShow},
	{model.StatusConfirmed, false}:     {model.StatusInWaitingRoom, model.StatusCancelled, model.StatusNoShow},
	{model.StatusInWaitingRoom, false}: {model.StatusNoShow},

	{model.StatusScheduled, true}:     {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
	{model.StatusConfirmed, true}:     {model.StatusCompleted, model.StatusCancelled, model.StatusNoShow},
	{model.StatusInWaitingRoom, true}: {model.StatusCompleted, model.StatusNoShow},
}

// IsPast reports whether start falls before the civil day containing now.
func IsPast(start, now time.Time) bool {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return start.Before(today)
}

// Consistent reports whether status s may hold for an appointment on a day
// that is (or is not) in the past.
func Consistent(s model.Status, past bool) bool {
	switch s {
	case model.StatusScheduled, model.StatusConfirmed, model.StatusInWaitingRoom:
		return !past
	case model.StatusCompleted:
		return past
	default:
		return true
	}
}

// Allowed lists the statuses reachable from current.
func Allowed(current model.Status, past bool) []model.Status {
	return append([]model.Status(nil), transitions[key{current, past}]...)
}

// CheckTransition validates setting next on an appointment currently in
// current that starts at start. Re-asserting the current status is accepted
// as long as it is still consistent with the date.
func CheckTransition(current, next model.Status, start, now time.Time) error {
	past := IsPast(start, now)
	if !Consistent(next, past) {
		return ErrTemporal
	}
	if next == current {
		return nil
	}
	for _, s := range transitions[key{current, past}] {
		if s == next {
			return nil
		}
	}
	return ErrTransition
}

// CheckInitial validates the status a new booking starts in.
func CheckInitial(start, now time.Time) error {
	if !Consistent(model.StatusScheduled, IsPast(start, now)) {
		return ErrTemporal
	}
	return nil
}
