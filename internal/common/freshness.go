// Package common provides shared utilities for vire-screen
package common

import "time"

// DefaultCooldown is the window before a ticker/detector pair may fire again.
const DefaultCooldown = 180 * 24 * time.Hour

// InCooldown reports whether a detection at last still suppresses a new one at now.
// A pair becomes eligible again exactly at last+window.
func InCooldown(last, now time.Time, window time.Duration) bool {
	if last.IsZero() || window <= 0 {
		return false
	}
	return now.Sub(last) < window
}

// CooldownEnds returns the first instant a pair may fire again.
func CooldownEnds(last time.Time, window time.Duration) time.Time {
	if last.IsZero() {
		return time.Time{}
	}
	return last.Add(window)
}
