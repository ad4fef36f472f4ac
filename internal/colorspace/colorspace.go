// Package colorspace selects an HDMI color space/depth/range for a given
// display mode, ported from afrd's colorspace.c. Selection is driven by an
// ordered list of "regex=cs,cd,cr" filters matched against the mode name
// about to be switched to; the first matching, display-supported filter
// wins, and an unmatched mode falls back to the display's own default.
package colorspace

import (
	"regexp"
	"strings"

	"github.com/ausocean/afrd/internal/sysfs"
)

// reserved marks an axis as "unset" in a filter or parsed value, matching
// the *_RESERVED enum members in colorspace.c — an unset axis never
// overrides, and never blocks a support match.
const reserved = -1

var spaceNames = []struct {
	val  int
	name string
}{
	{0, "rgb"},
	{1, "422"},
	{2, "444"},
	{3, "420"},
}

var depthNames = []struct {
	val  int
	name string
}{
	{4, "8bit"},
	{5, "10bit"},
	{6, "12bit"},
	{7, "16bit"},
}

var rangeNames = []struct {
	val  int
	name string
}{
	{0, "limit"},
	{1, "full"},
}

// triple is a single colorspace/depth/range value, any axis of which may
// be reserved (unset).
type triple struct {
	cs, cd, cr int
}

func parseComponent(tok string, list []struct {
	val  int
	name string
}) (int, bool) {
	for _, e := range list {
		if e.name == tok {
			return e.val, true
		}
	}
	return 0, false
}

// parseTriple parses a comma-separated list of tokens (in any order) such
// as "420,8bit,full" into a triple, starting from an all-reserved base.
// It mirrors colorspace_parse: any token not recognized by any of the
// three lists fails the whole parse.
func parseTriple(s string) (triple, bool) {
	t := triple{reserved, reserved, reserved}
	if s == "" {
		return t, false
	}
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if v, ok := parseComponent(tok, spaceNames); ok {
			t.cs = v
			continue
		}
		if v, ok := parseComponent(tok, depthNames); ok {
			t.cd = v
			continue
		}
		if v, ok := parseComponent(tok, rangeNames); ok {
			t.cr = v
			continue
		}
		return triple{}, false
	}
	return t, true
}

// String renders a triple as "cs,cd,cr" using only the axes that have a
// known name, matching colorspace_str.
func (t triple) String() string {
	var parts []string
	for _, e := range spaceNames {
		if e.val == t.cs {
			parts = append(parts, e.name)
			break
		}
	}
	for _, e := range depthNames {
		if e.val == t.cd {
			parts = append(parts, e.name)
			break
		}
	}
	for _, e := range rangeNames {
		if e.val == t.cr {
			parts = append(parts, e.name)
			break
		}
	}
	return strings.Join(parts, ",")
}

// filter is one "regex=triple" selector entry.
type filter struct {
	re *regexp.Regexp
	cs triple
}

// Logger is the narrow trace interface Selector needs; internal/engine
// supplies an adapter that forwards it to its logging.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}

// Selector holds the configured colorspace filters and the display's
// currently-supported/default colorspace state, mirroring the file-scope
// globals of colorspace.c.
type Selector struct {
	ListPath string // sysfs attribute listing supported color spaces
	Path     string // sysfs attribute for the active color space
	Log      Logger

	filters  []filter
	def      string
	override *triple

	supported []triple
}

// Override sets or clears an API-forced colorspace, matching
// afrd_override_colorspace. An empty spec restores the normal
// filter/default behavior; a non-empty spec that fails to parse is
// logged and otherwise ignored, leaving any previous override in place.
func (s *Selector) Override(spec string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.override = nil
		return
	}
	cs, ok := parseTriple(spec)
	if !ok {
		s.logf("ignoring invalid color space override: %s", spec)
		return
	}
	s.override = &cs
}

// ParseFilters compiles a "regex1=sel1 regex2=sel2 ..." selector string
// (whitespace-separated, ported from colorspace_parse_filter) into the
// Selector's filter list. Malformed entries are skipped, matching the
// original's log-and-continue behavior.
func (s *Selector) ParseFilters(csel string) {
	s.filters = nil
	for _, tok := range strings.Fields(csel) {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			s.logf("invalid color space selector: %s", tok)
			continue
		}
		pattern, val := tok[:eq], tok[eq+1:]

		cs, ok := parseTriple(val)
		if !ok {
			s.logf("ignoring invalid color space: %s", val)
			continue
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			s.logf("ignoring bad regex: %s", pattern)
			continue
		}
		// Leftmost-longest matching makes Apply's span check accept any
		// mode name the regex can match in full.
		re.Longest()

		s.filters = append(s.filters, filter{re: re, cs: cs})
	}
}

// Refresh re-reads the display's list of supported color spaces and its
// current default, ported from colorspace_refresh. It is cheap enough to
// call on every HDMI hotplug event, matching the original's call site.
func (s *Selector) Refresh() bool {
	s.supported = nil
	if s.ListPath == "" || s.Path == "" {
		return false
	}

	list, err := sysfs.ReadString(s.ListPath)
	if err != nil {
		return false
	}

	for _, tok := range strings.Fields(list) {
		cs, ok := parseTriple(tok)
		if !ok {
			s.logf("ignoring invalid color space: %s", tok)
			continue
		}
		s.supported = append(s.supported, cs)
	}

	s.def, _ = sysfs.ReadString(s.Path)
	return true
}

func (s *Selector) supportedTriple(cs triple) bool {
	for _, sup := range s.supported {
		if sup.cs != reserved && cs.cs != reserved && sup.cs != cs.cs {
			continue
		}
		if sup.cd != reserved && cs.cd != reserved && sup.cd != cs.cd {
			continue
		}
		if sup.cr != reserved && cs.cr != reserved && sup.cr != cs.cr {
			continue
		}
		return true
	}
	return false
}

// defaultTriple returns the display's advertised default, falling back to
// YUV444/8bit/full when none was read, matching colorspace_apply's
// def_cs initializer.
func (s *Selector) defaultTriple() triple {
	def := triple{cs: 2, cd: 4, cr: 1}
	if parsed, ok := parseTriple(s.def); ok {
		mergeReserved(&def, parsed)
	}
	return def
}

// mergeReserved overwrites base's non-reserved axes with override's,
// leaving base alone where override left an axis reserved. This matches
// colorspace_parse's "reserved bool" contract when called with
// reserved=false: axes absent from the string are left as base had them.
func mergeReserved(base *triple, override triple) {
	if override.cs != reserved {
		base.cs = override.cs
	}
	if override.cd != reserved {
		base.cd = override.cd
	}
	if override.cr != reserved {
		base.cr = override.cr
	}
}

// Apply picks a color space for the mode about to be switched to and
// writes it to the display, ported from colorspace_apply. The first
// filter whose regex fully matches mode (anchored start-to-end, since Go
// regexes are not implicitly anchored) and whose resulting triple is
// display-supported wins; axes the filter leaves reserved inherit from
// the display's current setting. No match falls back to the display's
// advertised default.
func (s *Selector) Apply(mode string) bool {
	if s.ListPath == "" || s.Path == "" {
		return false
	}

	def := s.defaultTriple()

	cur := def
	if curStr, err := sysfs.ReadString(s.Path); err == nil {
		if parsed, ok := parseTriple(curStr); ok {
			mergeReserved(&cur, parsed)
		}
	}

	if s.override != nil && s.supportedTriple(*s.override) {
		mergeReserved(&cur, *s.override)
		s.logf("setting color space to %s (API override)", cur)
		return sysfs.WriteString(s.Path, cur.String()) == nil
	}

	chosen := def
	matched := false
	for _, f := range s.filters {
		loc := f.re.FindStringIndex(mode)
		if loc == nil || loc[0] != 0 || loc[1] != len(mode) {
			continue
		}
		if !s.supportedTriple(f.cs) {
			s.logf("not using color space %s because not supported", f.cs)
			continue
		}
		mergeReserved(&cur, f.cs)
		chosen = cur
		matched = true
		break
	}
	if !matched {
		chosen = def
	}

	s.logf("setting color space to %s", chosen)
	return sysfs.WriteString(s.Path, chosen.String()) == nil
}

func (s *Selector) logf(format string, args ...interface{}) {
	if s.Log == nil {
		s.Log = nopLogger{}
	}
	s.Log.Debugf(format, args...)
}

// Default is the package-wide selector engine.New wires up from config and
// dispmode.Catalog.SwitchTo calls through Apply, matching the original's
// single-instance global state.
var Default = &Selector{}

// Apply delegates to Default, giving callers that only need mode-switch
// side effects (like dispmode.Catalog) a plain function instead of a
// Selector reference.
func Apply(mode string) bool {
	return Default.Apply(mode)
}

// Override delegates to Default, matching the API socket's color_space
// command.
func Override(spec string) {
	Default.Override(spec)
}
