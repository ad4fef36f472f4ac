// Package mstime provides a monotonic millisecond clock and one-shot
// timers, ported from afrd's mstime.c/mstime.h. Timers are plain values
// (an armed deadline or zero for disabled) so the engine can hold them
// inline in its state struct without pointers or allocation, matching the
// original's array-of-structs layout.
package mstime

import "time"

// Millis is a point in time on the daemon's monotonic millisecond clock.
// Like the original's uint32_t mstime_t, arithmetic on Millis wraps; all
// comparisons go through signed-difference subtraction so wraparound
// never causes a timer to misfire.
type Millis uint32

// Now returns the current monotonic millisecond clock reading, counted
// from process start.
func Now() Millis {
	return Millis(nowFunc().Sub(epoch).Milliseconds())
}

// epoch is the reference point Now measures from. Values returned by
// time.Now carry a monotonic reading, so the difference ignores
// wall-clock changes.
var epoch = time.Now()

// nowFunc supplies the current time; tests can replace it to control the
// clock without sleeping.
var nowFunc = time.Now

// Timer is a one-shot timer armed in terms of the millisecond clock.
// The zero value is disabled.
type Timer struct {
	deadline Millis
}

// Arm schedules the timer to expire delay milliseconds after now.
// A delay that would produce a zero deadline (the disabled sentinel) is
// nudged to 1, matching mstime_arm's "if (!t) t = 1" guard.
func (t *Timer) Arm(now Millis, delay uint32) {
	d := now + Millis(delay)
	if d == 0 {
		d = 1
	}
	t.deadline = d
}

// Disable cancels the timer.
func (t *Timer) Disable() {
	t.deadline = 0
}

// Enabled reports whether the timer is armed (regardless of whether it
// has already expired).
func (t *Timer) Enabled() bool {
	return t.deadline != 0
}

// Left returns the number of milliseconds until the timer expires, -1 if
// disabled, or 0 if already expired.
func (t *Timer) Left(now Millis) int {
	if !t.Enabled() {
		return -1
	}
	diff := int32(t.deadline - now)
	if diff >= 0 {
		return int(diff)
	}
	return 0
}

// Expired reports whether the timer has reached its deadline. As a side
// effect, an expired timer is disabled — callers that need to re-check
// the same tick must do so before calling Expired again. This mirrors
// mstime_expired exactly, since every call site in the original relies on
// the implicit disable.
func (t *Timer) Expired(now Millis) bool {
	if !t.Enabled() {
		return false
	}
	if t.Left(now) > 0 {
		return false
	}
	t.Disable()
	return true
}

// Adjust shifts an armed timer by delta milliseconds, used to correct for
// clock jumps detected across a poll wait. Disabled timers are left
// untouched.
func (t *Timer) Adjust(delta int) {
	if t.Enabled() {
		t.deadline = Millis(int32(t.deadline) + int32(delta))
	}
}

// Min returns the smaller of to and the timer's Left value, preserving
// the "no active timeout" (-1) sentinel the way min_time does: a -1 from
// either side only wins if the other side is also negative.
func Min(to int, t *Timer, now Millis) int {
	tLeft := t.Left(now)
	if to < 0 || (tLeft >= 0 && tLeft < to) {
		return tLeft
	}
	return to
}
