package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

func TestIsPast(t *testing.T) {
	now := time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)
	if IsPast(time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC), now) {
		t.Fatalf("today's midnight is not past")
	}
	if IsPast(time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC), now) {
		t.Fatalf("earlier today is not past")
	}
	if !IsPast(time.Date(2026, 1, 25, 23, 59, 0, 0, time.UTC), now) {
		t.Fatalf("yesterday is past")
	}
}

func TestCheckTransition(t *testing.T) {
	now := time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)
	future := time.Date(2026, 1, 27, 9, 0, 0, 0, time.UTC)
	today := time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC)
	past := time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		from, to model.Status
		start    time.Time
		want     error
	}{
		{"confirm future", model.StatusScheduled, model.StatusConfirmed, future, nil},
		{"check in today", model.StatusConfirmed, model.StatusInWaitingRoom, today, nil},
		{"cancel future", model.StatusScheduled, model.StatusCancelled, future, nil},
		{"no show from waiting room", model.StatusInWaitingRoom, model.StatusNoShow, today, nil},
		{"complete today rejected", model.StatusInWaitingRoom, model.StatusCompleted, today, ErrTemporal},
		{"complete future rejected", model.StatusScheduled, model.StatusCompleted, future, ErrTemporal},
		{"complete past", model.StatusScheduled, model.StatusCompleted, past, nil},
		{"complete past from waiting room", model.StatusInWaitingRoom, model.StatusCompleted, past, nil},
		{"reschedule past rejected", model.StatusScheduled, model.StatusScheduled, past, ErrTemporal},
		{"confirm past rejected", model.StatusScheduled, model.StatusConfirmed, past, ErrTemporal},
		{"same status future", model.StatusConfirmed, model.StatusConfirmed, future, nil},
		{"backwards rejected", model.StatusConfirmed, model.StatusScheduled, future, ErrTransition},
		{"terminal cancelled", model.StatusCancelled, model.StatusConfirmed, future, ErrTransition},
		{"terminal completed", model.StatusCompleted, model.StatusCancelled, past, ErrTransition},
		{"waiting room cannot cancel", model.StatusInWaitingRoom, model.StatusCancelled, today, ErrTransition},
		{"cancel past", model.StatusConfirmed, model.StatusCancelled, past, nil},
	}
	for _, tc := range cases {
		err := CheckTransition(tc.from, tc.to, tc.start, now)
		if !errors.Is(err, tc.want) || (tc.want == nil && err != nil) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestTableRespectsTemporalRule(t *testing.T) {
	for k, targets := range transitions {
		for _, to := range targets {
			if !Consistent(to, k.past) {
				t.Fatalf("table allows %s -> %s with past=%v, which the temporal rule forbids", k.from, to, k.past)
			}
		}
		if k.from.Terminal() {
			t.Fatalf("terminal status %s must have no transitions", k.from)
		}
	}
}

func TestCheckInitial(t *testing.T) {
	now := time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)
	if err := CheckInitial(time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC), now); err != nil {
		t.Fatalf("booking earlier today is allowed: %v", err)
	}
	if err := CheckInitial(time.Date(2026, 1, 24, 8, 0, 0, 0, time.UTC), now); !errors.Is(err, ErrTemporal) {
		t.Fatalf("expected ErrTemporal for past booking, got %v", err)
	}
}

func TestAllowedReturnsCopy(t *testing.T) {
	got := Allowed(model.StatusScheduled, false)
	got[0] = model.StatusCompleted
	if Allowed(model.StatusScheduled, false)[0] != model.StatusConfirmed {
		t.Fatalf("Allowed must not expose the table")
	}
}
