package utils

import "time"

func Now() time.Time {
	return time.Now().UTC()
}

// MaxTime returns the later of two instants.
func MaxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
