package engine

import (
	"github.com/ausocean/afrd/internal/dispmode"
	"github.com/ausocean/afrd/internal/framerate"
	"github.com/ausocean/afrd/internal/mstime"
)

// switchState is the frame rate detector's working data, ported from
// afrd.c's g_state struct. It is cleared wholesale by clear (matching
// "memset(&g_state, 0, sizeof(g_state))") and partially by resetStats
// (matching the narrower "memset(&g_state.hz_stat, 0, ...)" done when
// delay_framerate_switch flips the restore flag).
type switchState struct {
	// restore is true to restore origMode, false to switch to match the
	// currently playing movie.
	restore bool
	// hz is the desired refresh rate in 24.8 fixed-point, or 0 if not yet
	// known.
	hz framerate.Hz
	// origMode is the mode active before this playback session started;
	// hasOrigMode distinguishes "restore to this" from "nothing to
	// restore", matching the original's "orig_mode.name[0]" sentinel.
	origMode    dispmode.Mode
	hasOrigMode bool
	// modalias is the active video decoder's driver name, used for
	// blacklist checks and logging.
	modalias string
	// hzDeadline is the overall hz-detection timeout, armed when a
	// playback session starts, matching g_state.hz_ost.
	hzDeadline mstime.Timer
	// stats accumulates fps samples from every source.
	stats framerate.Estimator
}

// clear resets every field to its zero value except the estimator's
// configured RetryDelay, matching framerate_restore's full g_state
// memset (RetryDelay isn't part of g_state in the original — it's
// derived from g_switch_delay_retry at each accumulate_fps call — but
// here it lives on the Estimator, so it must survive the reset).
func (s *switchState) clear() {
	retry := s.stats.RetryDelay
	*s = switchState{}
	s.stats.RetryDelay = retry
}

// resetStats clears only the per-source accumulated fps data, matching
// delay_framerate_switch's "memset(&g_state.hz_stat, 0, ...)" when the
// restore flag flips.
func (s *switchState) resetStats() {
	s.stats.Reset()
}
