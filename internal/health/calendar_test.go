package health

import (
	"testing"
	"time"
)

func TestNYSEHours(t *testing.T) {
	cal, err := NYSEHours()
	if err != nil {
		t.Fatalf("NYSEHours: %v", err)
	}
	ny, _ := time.LoadLocation("America/New_York")

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"midday tuesday", time.Date(2025, 6, 10, 12, 0, 0, 0, ny), true},
		{"open bell", time.Date(2025, 6, 10, 9, 30, 0, 0, ny), true},
		{"just before open", time.Date(2025, 6, 10, 9, 29, 0, 0, ny), false},
		{"close bell", time.Date(2025, 6, 10, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2025, 6, 14, 12, 0, 0, 0, ny), false},
		{"overnight", time.Date(2025, 6, 10, 3, 0, 0, 0, ny), false},
	}
	for _, tc := range cases {
		if got := cal.Open(tc.at); got != tc.want {
			t.Errorf("%s: Open(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestWeeklyHoursCrossTimezone(t *testing.T) {
	cal, err := NYSEHours()
	if err != nil {
		t.Fatalf("NYSEHours: %v", err)
	}
	// 17:00 UTC on a Tuesday in June is 13:00 in New York
	utc := time.Date(2025, 6, 10, 17, 0, 0, 0, time.UTC)
	if !cal.Open(utc) {
		t.Fatal("UTC timestamp inside NY trading hours should be open")
	}
}
