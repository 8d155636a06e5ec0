package security

import "time"

// KeyRotationWindow bounds when a key is in service. Zero bounds are open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// Overlaps reports whether both windows are in service at some instant.
func (w KeyRotationWindow) Overlaps(other KeyRotationWindow) bool {
	if !w.NotAfter.IsZero() && !other.NotBefore.IsZero() && w.NotAfter.Before(other.NotBefore) {
		return false
	}
	if !other.NotAfter.IsZero() && !w.NotBefore.IsZero() && other.NotAfter.Before(w.NotBefore) {
		return false
	}
	return true
}
