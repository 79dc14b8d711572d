// Package streamclient implements the consumer side of the event stream:
// the reconnection policy a UI layer or service caller follows after an
// unexpected disconnect, and the pure backoff schedule behind it.
package streamclient

import "time"

// Delay returns the wait before reconnect attempt number attempt (1-based):
// initial for the first attempt, doubling each attempt after that, capped at
// max. It is a pure function of its inputs so schedules can be tested
// without timers.
func Delay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		return 0
	}
	if max > 0 && initial >= max {
		return max
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	return d
}
