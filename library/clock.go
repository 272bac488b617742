package library

import "time"

// Clock supplies the current time. Loan dates and session expiry are computed from it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Today truncates the clock's current time to a UTC calendar date.
func Today(c Clock) time.Time {
	return dateOf(c.Now())
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string { return t.UTC().Format(dateLayout) }

func parseDate(s string) (time.Time, error) { return time.ParseInLocation(dateLayout, s, time.UTC) }

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int64 {
	return int64(dateOf(b).Sub(dateOf(a)).Hours() / 24)
}
