package utils

import "time"

// ParseTime returns time.Time from text represented time
func ParseTime(t string) (time.Time, error) {
	return time.Parse(time.RFC3339, t)
}

// MakeTimeToString returns text represented time from time.Time
func MakeTimeToString(t time.Time) string {
	return t.Format(time.RFC3339)
}

// MaxDuration returns the larger of the given durations
func MaxDuration(d1 time.Duration, d2 time.Duration) time.Duration {
	if d1 >= d2 {
		return d1
	}
	return d2
}
