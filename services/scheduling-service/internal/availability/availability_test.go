package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

func at(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func TestOverlaps(t *testing.T) {
	day := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	base := Interval{Start: at(day, 9, 0), End: at(day, 9, 30)}

	cases := []struct {
		name string
		b    Interval
		want bool
	}{
		{"identical", base, true},
		{"touching after", Interval{Start: at(day, 9, 30), End: at(day, 10, 0)}, false},
		{"touching before", Interval{Start: at(day, 8, 30), End: at(day, 9, 0)}, false},
		{"partial start", Interval{Start: at(day, 8, 45), End: at(day, 9, 15)}, true},
		{"partial end", Interval{Start: at(day, 9, 15), End: at(day, 9, 45)}, true},
		{"contains", Interval{Start: at(day, 8, 0), End: at(day, 10, 0)}, true},
		{"contained", Interval{Start: at(day, 9, 10), End: at(day, 9, 20)}, true},
		{"disjoint", Interval{Start: at(day, 11, 0), End: at(day, 12, 0)}, false},
	}
	for _, tc := range cases {
		if got := Overlaps(base, tc.b); got != tc.want {
			t.Fatalf("%s: Overlaps(a,b)=%v want %v", tc.name, got, tc.want)
		}
		if got := Overlaps(tc.b, base); got != tc.want {
			t.Fatalf("%s: overlap must be symmetric", tc.name)
		}
	}
}

func TestFirstOverlap(t *testing.T) {
	day := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: at(day, 8, 0), End: at(day, 8, 30)},
		{Start: at(day, 9, 0), End: at(day, 10, 0)},
	}
	got, ok := FirstOverlap(Interval{Start: at(day, 9, 30), End: at(day, 10, 0)}, busy)
	if !ok || !got.Start.Equal(at(day, 9, 0)) {
		t.Fatalf("expected overlap with 09:00 interval, got %v ok=%v", got, ok)
	}
	if _, ok := FirstOverlap(Interval{Start: at(day, 8, 30), End: at(day, 9, 0)}, busy); ok {
		t.Fatalf("expected no overlap in gap")
	}
}

func TestBlackoutApplies(t *testing.T) {
	thursday := time.Date(2026, 1, 22, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)

	b := Blackout{Enabled: true, CutoffMinute: 17 * 60}
	if !b.Applies(thursday, thursday) {
		t.Fatalf("expected blackout today")
	}
	if !b.Applies(thursday.AddDate(0, 0, 3), thursday) {
		t.Fatalf("expected blackout through sunday")
	}
	if b.Applies(monday, thursday) {
		t.Fatalf("next week must not be blacked out")
	}
	if !b.Applies(monday.AddDate(0, 0, 6), monday) {
		t.Fatalf("on a monday the whole week is blacked out")
	}
	if b.Applies(thursday.AddDate(0, 0, -1), thursday) {
		t.Fatalf("past days are outside the horizon")
	}

	b.HorizonDays = 2
	if !b.Applies(thursday.AddDate(0, 0, 1), thursday) || b.Applies(thursday.AddDate(0, 0, 2), thursday) {
		t.Fatalf("horizon of 2 days should cover today and tomorrow only")
	}

	b.Enabled = false
	if b.Applies(thursday, thursday) {
		t.Fatalf("disabled blackout never applies")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	p := DefaultPolicy()
	p.MinDurationMinutes = 45
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for duration off the grid")
	}
	p = DefaultPolicy()
	p.GranularityMinutes = 0
	if err := p.Validate(); err == nil {
		t.Fatalf("expected error for zero granularity")
	}
	if !DefaultPolicy().ValidDuration(60) || DefaultPolicy().ValidDuration(45) || DefaultPolicy().ValidDuration(0) {
		t.Fatalf("unexpected ValidDuration results")
	}
}

func TestEffectiveWindow(t *testing.T) {
	thursday := time.Date(2026, 1, 22, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	entry := &model.WeeklyScheduleEntry{ProfessionalID: "p", Weekday: time.Thursday, StartMinute: 8 * 60, EndMinute: 18*60 + 15, IsActive: true}

	p := DefaultPolicy()
	w, ok := EffectiveWindow(entry, thursday, monday, p)
	if !ok || w.StartMinute != 480 || w.EndMinute != 1095 {
		t.Fatalf("unexpected window %+v ok=%v", w, ok)
	}

	if _, ok := EffectiveWindow(nil, thursday, monday, p); ok {
		t.Fatalf("missing entry yields no window")
	}
	inactive := *entry
	inactive.IsActive = false
	if _, ok := EffectiveWindow(&inactive, thursday, monday, p); ok {
		t.Fatalf("inactive entry yields no window")
	}

	// Cutoff at 16:45 must round up to 17:00, not down to 16:30.
	p.Blackout = Blackout{Enabled: true, CutoffMinute: 16*60 + 45}
	w, ok = EffectiveWindow(entry, thursday, thursday, p)
	if !ok || w.StartMinute != 17*60 {
		t.Fatalf("expected cutoff aligned to 17:00, got %+v ok=%v", w, ok)
	}

	// 17:00-18:15 leaves room for one 30 minute slot; an 18:00 cutoff does not.
	p.Blackout.CutoffMinute = 18 * 60
	if _, ok := EffectiveWindow(entry, thursday, thursday, p); ok {
		t.Fatalf("window shorter than the minimum duration must be empty")
	}

	offGrid := *entry
	offGrid.StartMinute = 8*60 + 10
	w, ok = EffectiveWindow(&offGrid, thursday, monday, DefaultPolicy())
	if !ok || w.StartMinute != 8*60+30 {
		t.Fatalf("expected schedule start aligned to 08:30, got %+v", w)
	}
}

func TestGridFullDay(t *testing.T) {
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	slots := Grid(monday, Window{StartMinute: 8 * 60, EndMinute: 17 * 60}, 30, 30, nil)
	if len(slots) != 18 {
		t.Fatalf("expected 18 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(at(monday, 8, 0)) || !slots[17].Start.Equal(at(monday, 16, 30)) {
		t.Fatalf("unexpected bounds %s..%s", slots[0].Start, slots[17].Start)
	}
	if !slots[17].End.Equal(at(monday, 17, 0)) {
		t.Fatalf("last slot must end at 17:00, got %s", slots[17].End)
	}
	for i, s := range slots {
		if s.Occupied {
			t.Fatalf("slot %d unexpectedly occupied", i)
		}
		if m, whole := MinuteOfDay(s.Start); !whole || !Aligned(m, 30) {
			t.Fatalf("slot %d not on the grid: %s", i, s.Start)
		}
	}
}

func TestGridMarksOccupied(t *testing.T) {
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: at(monday, 9, 0), End: at(monday, 9, 30)},
		// A longer booking covers two grid cells.
		{Start: at(monday, 11, 0), End: at(monday, 12, 0)},
	}
	slots := Grid(monday, Window{StartMinute: 8 * 60, EndMinute: 13 * 60}, 30, 30, busy)

	occupied := map[string]bool{}
	for _, s := range slots {
		occupied[s.Start.Format("15:04")] = s.Occupied
	}
	for clock, want := range map[string]bool{
		"08:30": false, "09:00": true, "09:30": false,
		"11:00": true, "11:30": true, "12:00": false,
	} {
		if occupied[clock] != want {
			t.Fatalf("%s occupied=%v want %v", clock, occupied[clock], want)
		}
	}

	// A 60 minute request overlaps the 09:00 booking when starting at 08:30.
	long := Grid(monday, Window{StartMinute: 8 * 60, EndMinute: 10 * 60}, 60, 30, busy)
	if len(long) != 3 || long[0].Occupied || !long[1].Occupied || !long[2].Occupied {
		t.Fatalf("unexpected 60 minute grid: %+v", long)
	}
}

func TestGridIsDeterministic(t *testing.T) {
	monday := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	busy := []Interval{{Start: at(monday, 10, 0), End: at(monday, 10, 30)}}
	a := Grid(monday, Window{StartMinute: 480, EndMinute: 720}, 30, 30, busy)
	b := Grid(monday, Window{StartMinute: 480, EndMinute: 720}, 30, 30, busy)
	if len(a) != len(b) {
		t.Fatalf("length differs")
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || a[i].Occupied != b[i].Occupied {
			t.Fatalf("slot %d differs", i)
		}
	}
}

func TestAtEndOfDay(t *testing.T) {
	day := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	if got := At(day, model.MinutesPerDay); !got.Equal(day.AddDate(0, 0, 1)) {
		t.Fatalf("minute 1440 should be next midnight, got %s", got)
	}
	if got := DayStart(at(day, 15, 20), time.UTC); !got.Equal(day) {
		t.Fatalf("unexpected day start %s", got)
	}
}
