// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import "time"

// Clock supplies the current time. Every expiry and lockout comparison in
// this package goes through an injected Clock so tests can pin time.
type Clock func() time.Time

// SystemClock is the wall-clock Clock used outside of tests.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock frozen at t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
