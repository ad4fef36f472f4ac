package engine

import (
	"github.com/ausocean/afrd/internal/dispmode"
	"github.com/ausocean/afrd/internal/framerate"
)

// searchMode picks the catalog mode that best matches target (a nonzero
// 24.8 fixed-point Hz) given the currently active mode's dimensions and
// interlace flag, ported verbatim from framerate_switch's rating loop in
// afrd.c. blacklisted reports whether a candidate rate is on the
// configured blacklist; preferExact selects mode.prefer.exact's
// tie-breaking direction (closer-to-exact harmonic vs. highest
// available harmonic). ok is false if no mode is within the ~4.3%
// tolerance, or every candidate within tolerance is blacklisted in both
// its integer and fractional forms.
func searchMode(modes []dispmode.Mode, current dispmode.Mode, target framerate.Hz, preferExact bool, blacklisted func(dispmode.Hz) bool) (best dispmode.Mode, ok bool) {
	bestRating := -1

	for _, mode := range modes {
		if mode.Width != current.Width || mode.Height != current.Height || mode.Interlaced != current.Interlaced {
			continue
		}

		n := 1
		rate := (mode.FrameRate << 16) / int(target)
		for rate > 0x180 {
			n++
			rate = (mode.FrameRate << 16) / (int(target) * n)
		}

		delta := rate - 0x100
		if delta < 0 {
			delta = -delta
		}
		if delta > 11 {
			// frequency error over ~4.3%
			continue
		}

		rating := (11 - delta) * 16
		harmonic := n - 1
		if harmonic > 3 {
			harmonic = 3
		}
		if preferExact {
			rating += 4 * (3 - harmonic)
		} else {
			rating += 4 * harmonic
		}

		if rating <= bestRating {
			continue
		}

		candidate := mode
		candidate.SetHz(dispmode.Hz(target))
		if blacklisted(candidate.Hz()) {
			candidate.Fractional = !candidate.Fractional
			if blacklisted(candidate.Hz()) {
				// both framerates banned, try the next mode
				continue
			}
		}

		bestRating = rating
		best = candidate
		ok = true
	}

	return best, ok
}
