// Package dispmode parses, rates and switches HDMI display modes, ported
// from afrd's modes.c and the display_mode_t type in afrd.h.
package dispmode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ausocean/afrd/internal/colorspace"
	"github.com/ausocean/afrd/internal/sysfs"
)

// Hz is a refresh rate in 24.8 fixed-point hertz: the low 8 bits are the
// fractional part, so 60*256 == 15360 means 60.00Hz.
type Hz int

// String renders Hz as "%u.%02u", matching DISPMODE_FMT/HZ_FMT.
func (h Hz) String() string {
	return fmt.Sprintf("%d.%02d", int(h)>>8, (100*(int(h)&255))>>8)
}

// impliedWidth maps a bare display height to the width the original
// implies for it, from mode_parse's switch on mode->height.
var impliedWidth = map[int]int{
	480:  640,
	576:  720,
	720:  1280,
	1080: 1920,
	2160: 3840,
}

// fractionalHz gives the NTSC-equivalent 24.8 Hz value for supported
// integer bases, computed to the same sub-unit precision as
// display_mode_hz's switch statement.
var fractionalHz = map[int]Hz{
	24:  (2997*256 + 62) / 125,
	30:  (2997*256 + 50) / 100,
	60:  (5994*256 + 50) / 100,
	120: (11988*256 + 50) / 100,
	240: (23976*256 + 50) / 100,
}

// Mode is a single display mode: dimensions, interlace, integer framerate,
// and whether the NTSC-fractional variant of that framerate is selected.
type Mode struct {
	Name       string
	Width      int
	Height     int
	FrameRate  int
	Interlaced bool
	Fractional bool
}

// ParseMode parses a mode name as reported by disp_cap or /sys/class/display/mode,
// e.g. "1080p60hz", "3840x2160p30hz", "smpte24hz". Anything after the
// framerate digits (the "hz" suffix, a trailing "*" marking the active
// capability-list entry, a colorspace hint) is ignored, as in mode_parse.
func ParseMode(desc string) (Mode, bool) {
	var m Mode
	m.Name = desc
	if desc == "" {
		return Mode{}, false
	}

	rest := desc
	if strings.HasPrefix(rest, "smpte") {
		m.Width = 4096
		m.Height = 2160
		rest = rest[len("smpte"):]
	} else {
		v, r := parseInt(rest)
		if r == rest {
			return Mode{}, false
		}
		rest = r
		if len(rest) > 0 && rest[0] == 'x' {
			m.Width = v
			rest = rest[1:]
			h, r2 := parseInt(rest)
			m.Height = h
			rest = r2
		} else {
			w, ok := impliedWidth[v]
			if !ok {
				return Mode{}, false
			}
			m.Height = v
			m.Width = w
		}

		if len(rest) == 0 {
			return Mode{}, false
		}
		c := rest[0]
		rest = rest[1:]
		// 'fp' is treated identically to 'p'.
		if c == 'f' {
			if len(rest) == 0 {
				return Mode{}, false
			}
			c = rest[0]
			rest = rest[1:]
		}
		switch c {
		case 'i':
			m.Interlaced = true
		case 'p':
			m.Interlaced = false
		default:
			return Mode{}, false
		}
	}

	fr, _ := parseInt(rest)
	m.FrameRate = fr
	// Anything following the framerate (hz suffix, colorspace hint) is
	// ignored, matching the original's comment in mode_parse.
	return m, true
}

// parseInt consumes a leading run of decimal digits, returning the parsed
// value and the remainder of the string. Mirrors parse_int's behavior of
// simply stopping at the first non-digit rather than erroring.
func parseInt(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	v, _ := strconv.Atoi(s[:i])
	return v, s[i:]
}

// Hz returns the mode's refresh rate in 24.8 fixed-point, picking the
// NTSC-fractional variant when Fractional is set and the base framerate
// has one, else falling back to the plain integer rate.
func (m Mode) Hz() Hz {
	if m.Fractional {
		if hz, ok := fractionalHz[m.FrameRate]; ok {
			return hz
		}
	}
	return Hz(m.FrameRate * 256)
}

// Equal compares dimensions, interlace and computed Hz — so a 60p integer
// mode and a 60p fractional mode compare unequal, matching
// display_mode_equal.
func (m Mode) Equal(other Mode) bool {
	if m.Width != other.Width || m.Height != other.Height || m.Interlaced != other.Interlaced {
		return false
	}
	return m.Hz() == other.Hz()
}

// SetHz chooses Fractional so the mode's Hz is as close as possible to
// target, ported verbatim from display_mode_set_hz's multiple-search loop:
// find the multiple of target closest to the integer rate, then decide
// whether the integer or fractional rate is nearer that multiple.
func (m *Mode) SetHz(target Hz) {
	m.Fractional = true
	hzFrac := m.Hz()
	hzInt := Hz(m.FrameRate * 256)

	if hzFrac == hzInt {
		// No NTSC variant exists for this base.
		m.Fractional = false
		return
	}

	bestHz := target
	bestDiff := abs(int(target) - int(hzInt))
	n := 1
	for {
		n++
		multiple := Hz(int(target) * n)
		diff := abs(int(multiple) - int(hzInt))
		if diff > bestDiff {
			break
		}
		bestHz = multiple
		bestDiff = diff
	}

	if abs(int(hzInt)-int(bestHz)) < abs(int(hzFrac)-int(bestHz)) {
		m.Fractional = false
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Catalog owns the ordered list of modes a display supports, plus the
// currently active mode and whether the screen is blackened (null mode).
type Catalog struct {
	HDMIDev  string
	ModePath string

	modes     []Mode
	current   Mode
	blackened bool
}

// Modes returns the catalog's modes in insertion order, which is also the
// order mode search iterates in.
func (c *Catalog) Modes() []Mode { return c.modes }

// Current returns the currently active mode.
func (c *Catalog) Current() Mode { return c.current }

// Blackened reports whether the screen is currently in the null (blackout) mode.
func (c *Catalog) Blackened() bool { return c.blackened }

// Add inserts mode into the catalog, deduplicating against the
// "fractional-ignored" equality display_mode_add uses (the catalog only
// ever stores non-fractional entries; fractional selection happens later,
// per mode, via SetHz at search time).
func (c *Catalog) Add(mode Mode) {
	mode.Fractional = false
	for _, existing := range c.modes {
		if mode.Equal(existing) {
			return
		}
	}
	c.modes = append(c.modes, mode)
}

// Clear drops the catalog's mode list, matching display_modes_fini:
// called when HDMI goes inactive, since the mode list it advertised is no
// longer meaningful.
func (c *Catalog) Clear() {
	c.modes = nil
}

// Init re-reads the supported mode list and current mode from sysfs,
// ported from display_modes_init/display_mode_get_current. extraModes are
// additional mode-name tokens from the "mode.extra" config key.
func (c *Catalog) Init(extraModes []string) error {
	c.modes = nil

	raw, err := sysfs.ReadAttr(c.HDMIDev, "disp_cap")
	if err != nil {
		return errors.Wrap(err, "dispmode: reading disp_cap")
	}

	for _, tok := range strings.Fields(raw) {
		tok = strings.TrimSuffix(tok, "*")
		if mode, ok := ParseMode(tok); ok {
			c.Add(mode)
		}
	}

	c.refreshCurrent()

	// On some weird configs the current mode may not be listed in disp_cap.
	if c.current.Name != "" {
		c.Add(c.current)
	}

	for _, tok := range extraModes {
		if mode, ok := ParseMode(tok); ok {
			c.Add(mode)
		}
	}

	return nil
}

// Refresh re-reads the active mode and fractional-rate policy from
// sysfs without touching the mode list, matching
// display_mode_get_current's standalone call sites (e.g. right before
// blackout saves it off as the mode to restore later).
func (c *Catalog) Refresh() {
	c.refreshCurrent()
}

// refreshCurrent re-reads the active mode and fractional-rate policy,
// ported from display_mode_get_current.
func (c *Catalog) refreshCurrent() {
	name, err := sysfs.ReadString(c.ModePath)
	if err != nil || name == "null" {
		return
	}

	mode, ok := ParseMode(name)
	if !ok {
		return
	}
	mode.Fractional = false
	if frac, err := sysfs.ReadInt(c.HDMIDev, "frac_rate_policy"); err == nil {
		mode.Fractional = frac != 0
	}
	c.current = mode
}

// SwitchTo transitions the display to mode, ported from
// display_mode_switch. The switch is a no-op when the display is already
// showing the requested mode, unless force is set or the screen is
// currently blackened.
func (c *Catalog) SwitchTo(mode Mode, force bool) error {
	if !c.blackened && !force && mode.Equal(c.current) {
		return nil
	}

	// A fractional<->non-fractional transition of the same mode name must
	// go through the null mode first, as must any forced switch.
	if force || (mode.Name == c.current.Name && mode.Fractional != c.current.Fractional) {
		if err := c.writeNull(); err != nil {
			return err
		}
	}

	frac := "0"
	if mode.Fractional {
		frac = "1"
	}
	if err := sysfs.WriteAttr(c.HDMIDev, "frac_rate_policy", frac); err != nil {
		return errors.Wrap(err, "dispmode: writing frac_rate_policy")
	}

	colorspace.Apply(mode.Name)

	if err := sysfs.WriteString(c.ModePath, mode.Name); err != nil {
		return errors.Wrap(err, "dispmode: writing mode name")
	}

	c.current = mode
	c.blackened = false
	return nil
}

// Blackout writes the null mode and marks the screen blackened, ported
// from afrd.c's blackout() / modes.c's display_mode_null. Idempotent.
func (c *Catalog) Blackout() error {
	return c.writeNull()
}

func (c *Catalog) writeNull() error {
	if c.blackened {
		return nil
	}
	if err := sysfs.WriteString(c.ModePath, "null"); err != nil {
		return errors.Wrap(err, "dispmode: writing null mode")
	}
	c.blackened = true
	return nil
}
