package timeutil

import "time"

// Now returns the current time in UTC. Services take it as their default
// clock so tests can swap it.
func Now() time.Time {
	return time.Now().UTC()
}

// StartOfDay truncates t to midnight of its UTC date
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
