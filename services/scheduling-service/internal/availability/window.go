package availability

import (
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Blackout keeps near-term days free before a cutoff time so walk-ins have
// room. HorizonDays counts days from today; zero means through the end of the
// current Monday-to-Sunday week.
type Blackout struct {
	Enabled      bool
	CutoffMinute int
	HorizonDays  int
}

// Applies reports whether day (a local midnight) falls inside the blackout
// horizon that starts at today.
func (b Blackout) Applies(day, today time.Time) bool {
	if !b.Enabled || day.Before(today) {
		return false
	}
	var horizonEnd time.Time
	if b.HorizonDays > 0 {
		horizonEnd = today.AddDate(0, 0, b.HorizonDays)
	} else {
		daysToMonday := (int(time.Monday) - int(today.Weekday()) + 7) % 7
		if daysToMonday == 0 {
			daysToMonday = 7
		}
		horizonEnd = today.AddDate(0, 0, daysToMonday)
	}
	return day.Before(horizonEnd)
}

type Policy struct {
	GranularityMinutes int
	MinDurationMinutes int
	Blackout           Blackout
}

func DefaultPolicy() Policy {
	return Policy{GranularityMinutes: 30, MinDurationMinutes: 30, Blackout: Blackout{CutoffMinute: 17 * 60}}
}

func (p Policy) Validate() error {
	if p.GranularityMinutes <= 0 || p.GranularityMinutes > model.MinutesPerDay {
		return errors.New("granularity must be between 1 and 1440 minutes")
	}
	if p.MinDurationMinutes <= 0 || p.MinDurationMinutes%p.GranularityMinutes != 0 {
		return errors.New("minimum duration must be a positive multiple of the granularity")
	}
	if p.Blackout.CutoffMinute < 0 || p.Blackout.CutoffMinute > model.MinutesPerDay {
		return errors.New("blackout cutoff must be within the day")
	}
	if p.Blackout.HorizonDays < 0 {
		return errors.New("blackout horizon must not be negative")
	}
	return nil
}

// ValidDuration reports whether minutes is a bookable appointment length.
func (p Policy) ValidDuration(minutes int) bool {
	return minutes >= p.MinDurationMinutes && minutes%p.GranularityMinutes == 0
}

// Window is a bookable range in minutes since local midnight, [StartMinute, EndMinute).
type Window struct {
	StartMinute int
	EndMinute   int
}

// Contains reports whether [startMinute, startMinute+duration) lies inside w.
func (w Window) Contains(startMinute, durationMinutes int) bool {
	return startMinute >= w.StartMinute && startMinute+durationMinutes <= w.EndMinute
}

// EffectiveWindow resolves the bookable window for day. The schedule start is
// raised to the blackout cutoff when the blackout applies and then aligned up
// to the grid. ok is false when nothing can be booked that day.
func EffectiveWindow(entry *model.WeeklyScheduleEntry, day, today time.Time, p Policy) (Window, bool) {
	if entry == nil || !entry.IsActive {
		return Window{}, false
	}
	w := Window{StartMinute: entry.StartMinute, EndMinute: entry.EndMinute}
	if p.Blackout.Applies(day, today) && w.StartMinute < p.Blackout.CutoffMinute {
		w.StartMinute = p.Blackout.CutoffMinute
	}
	w.StartMinute = alignUp(w.StartMinute, p.GranularityMinutes)
	if w.EndMinute-w.StartMinute < p.MinDurationMinutes {
		return Window{}, false
	}
	return w, true
}

func Aligned(minute, granularity int) bool {
	return granularity > 0 && minute%granularity == 0
}

func alignUp(minute, granularity int) int {
	if granularity <= 0 {
		return minute
	}
	if r := minute % granularity; r != 0 {
		return minute + granularity - r
	}
	return minute
}

// DayStart returns local midnight of t in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// At returns the civil time minute minutes after day's midnight.
func At(day time.Time, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, day.Location())
}

// MinuteOfDay returns the minutes since midnight of t and whether t sits on a
// whole minute.
func MinuteOfDay(t time.Time) (int, bool) {
	return t.Hour()*60 + t.Minute(), t.Second() == 0 && t.Nanosecond() == 0
}
