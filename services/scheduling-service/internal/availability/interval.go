package availability

import "time"

// Interval is half-open: [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share an instant, i.e. max(starts) < min(ends).
// Touching intervals (one ends when the other starts) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// FirstOverlap returns the first interval in busy that overlaps iv.
func FirstOverlap(iv Interval, busy []Interval) (Interval, bool) {
	for _, b := range busy {
		if Overlaps(iv, b) {
			return b, true
		}
	}
	return Interval{}, false
}
