package availability

import "time"

type Slot struct {
	Start    time.Time
	End      time.Time
	Occupied bool
}

// Grid enumerates grid-aligned candidates of the given duration inside w on
// day, marking each one occupied when it overlaps any busy interval. The
// window start is expected to be aligned already (see EffectiveWindow).
func Grid(day time.Time, w Window, durationMinutes, granularityMinutes int, busy []Interval) []Slot {
	if durationMinutes <= 0 || granularityMinutes <= 0 {
		return nil
	}
	var slots []Slot
	for m := w.StartMinute; m+durationMinutes <= w.EndMinute; m += granularityMinutes {
		iv := Interval{Start: At(day, m), End: At(day, m+durationMinutes)}
		_, occupied := FirstOverlap(iv, busy)
		slots = append(slots, Slot{Start: iv.Start, End: iv.End, Occupied: occupied})
	}
	return slots
}
