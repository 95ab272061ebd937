package engine

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
)

type Kind string

const (
	KindInvalidSlot           Kind = "invalid_slot"
	KindSlotConflict          Kind = "slot_conflict"
	KindTemporalInconsistency Kind = "temporal_inconsistency"
	KindInvalidTransition     Kind = "invalid_transition"
	KindNotFound              Kind = "not_found"
	KindInvalidArgument       Kind = "invalid_argument"
	KindStoreUnavailable      Kind = "store_unavailable"
	KindInternal              Kind = "internal"
)

// Error is returned by every Engine operation. Conflict is set for
// SlotConflict when the clashing appointment is known.
type Error struct {
	Kind     Kind
	Message  string
	Conflict *availability.Interval
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, engine.ErrSlotConflict).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidSlot           = &Error{Kind: KindInvalidSlot}
	ErrSlotConflict          = &Error{Kind: KindSlotConflict}
	ErrTemporalInconsistency = &Error{Kind: KindTemporalInconsistency}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidArgument       = &Error{Kind: KindInvalidArgument}
	ErrStoreUnavailable      = &Error{Kind: KindStoreUnavailable}
)

// Errors stores return; the engine translates them into kinds.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrOverlap        = errors.New("appointment overlaps an active appointment")
)

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ConflictOf returns the conflicting interval carried by err, if any.
func ConflictOf(err error) (availability.Interval, bool) {
	var e *Error
	if errors.As(err, &e) && e.Conflict != nil {
		return *e.Conflict, true
	}
	return availability.Interval{}, false
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}
