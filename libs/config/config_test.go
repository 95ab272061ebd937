package config

import (
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "08:30", want: 510},
		{in: "17:00", want: 1020},
		{in: "24:00", want: 1440},
		{in: " 09:15 ", want: 555},
		{in: "9am", wantErr: true},
		{in: "25:00", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestIntAndDuration(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "45")
	n, err := Int("CFG_TEST_INT", 30)
	if err != nil || n != 45 {
		t.Fatalf("Int = %d, %v", n, err)
	}
	n, err = Int("CFG_TEST_INT_UNSET", 30)
	if err != nil || n != 30 {
		t.Fatalf("Int fallback = %d, %v", n, err)
	}
	t.Setenv("CFG_TEST_INT", "forty")
	if _, err := Int("CFG_TEST_INT", 30); err == nil {
		t.Fatal("expected error for malformed int")
	}

	t.Setenv("CFG_TEST_DUR", "15s")
	d, err := Duration("CFG_TEST_DUR", time.Minute)
	if err != nil || d != 15*time.Second {
		t.Fatalf("Duration = %s, %v", d, err)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "yes")
	if !Bool("CFG_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CFG_TEST_BOOL", "garbage")
	if Bool("CFG_TEST_BOOL", false) {
		t.Fatal("expected fallback false")
	}

	t.Setenv("CFG_TEST_LIST", "a, b,,c ")
	got := List("CFG_TEST_LIST", "")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("List = %v", got)
	}
}
