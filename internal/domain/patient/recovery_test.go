package patient

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRecoveryDay(t *testing.T) {
	cases := []struct {
		name    string
		surgery time.Time
		ref     time.Time
		want    int
	}{
		{"day of surgery", date(2024, 1, 1), date(2024, 1, 1), 0},
		{"first full day", date(2024, 1, 1), date(2024, 1, 2), 1},
		{"one week out", date(2024, 1, 1), date(2024, 1, 8), 7},
		{"across month boundary", date(2024, 1, 28), date(2024, 2, 3), 6},
		{"across leap day", date(2024, 2, 28), date(2024, 3, 1), 2},
		{"across year boundary", date(2023, 12, 30), date(2024, 1, 2), 3},
	}
	for _, tc := range cases {
		got, err := RecoveryDay(tc.surgery, tc.ref)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got day %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRecoveryDay_TimeOfDayIgnored(t *testing.T) {
	surgery := time.Date(2024, 1, 1, 23, 45, 0, 0, time.UTC)
	ref := time.Date(2024, 1, 2, 0, 10, 0, 0, time.UTC)

	got, err := RecoveryDay(surgery, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Only 25 minutes elapsed, but the calendar date advanced.
	if got != 1 {
		t.Errorf("got day %d, want 1", got)
	}
}

func TestRecoveryDay_NonUTCZone(t *testing.T) {
	zone := time.FixedZone("UTC+10", 10*3600)
	// 2024-01-02 08:00 +10 is 2024-01-01 22:00 UTC: still day 0.
	surgery := date(2024, 1, 1)
	ref := time.Date(2024, 1, 2, 8, 0, 0, 0, zone)

	got, err := RecoveryDay(surgery, ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("got day %d, want 0 (comparison is by UTC date)", got)
	}
}

func TestRecoveryDay_FutureSurgery(t *testing.T) {
	_, err := RecoveryDay(date(2024, 6, 1), date(2024, 5, 20))
	if !errors.Is(err, ErrFutureSurgery) {
		t.Errorf("expected ErrFutureSurgery, got %v", err)
	}
}

func TestRecoveryDay_ZeroDates(t *testing.T) {
	if _, err := RecoveryDay(time.Time{}, date(2024, 1, 1)); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero surgery date, got %v", err)
	}
	if _, err := RecoveryDay(date(2024, 1, 1), time.Time{}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero reference date, got %v", err)
	}
}
