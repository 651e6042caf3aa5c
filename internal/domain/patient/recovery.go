package patient

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDate is returned when either date input is the zero time.
	ErrInvalidDate = errors.New("invalid date")

	// ErrFutureSurgery is returned when the reference date falls before the
	// surgery date. A mis-entered surgery date should be visible, not
	// clamped to day zero.
	ErrFutureSurgery = errors.New("surgery date is in the future")
)

// RecoveryDay returns the whole number of days between the surgery date and
// the reference date. Day 0 is the day of surgery; the first full day after
// surgery is day 1. Both inputs are compared by calendar date in UTC, so the
// time of day never shifts the result.
func RecoveryDay(surgeryDate, ref time.Time) (int, error) {
	if surgeryDate.IsZero() || ref.IsZero() {
		return 0, ErrInvalidDate
	}

	sd := dateOnly(surgeryDate)
	rd := dateOnly(ref)
	if rd.Before(sd) {
		return 0, ErrFutureSurgery
	}

	return int(rd.Sub(sd).Hours() / 24), nil
}

// RecoveryDayNow returns the recovery day as of the current time.
func RecoveryDayNow(surgeryDate time.Time) (int, error) {
	return RecoveryDay(surgeryDate, time.Now())
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
