// Package uevent implements the attribute filters afrd uses to decide
// whether a kobject-uevent netlink message should trigger an engine
// event, ported from uevent_filter.c/.h.
package uevent

import (
	"regexp"
	"strings"
)

// rule is one "ATTR=regex" pair within a Filter.
type rule struct {
	attr string
	re   *regexp.Regexp
}

// Filter is a named set of attr=regex rules all of which must match,
// across the attributes of one uevent message, before it is Satisfied. This
// mirrors uevent_filter_t: a filter is matched incrementally, one
// attribute at a time, as uevent lines stream in.
type Filter struct {
	Name  string
	rules []rule

	matches int
}

// ParseFilter builds a Filter named name from a whitespace-separated list
// of "ATTR=regex" tokens, matching uevent_filter_init/append_rex. A token
// with no '=' or an unparseable regex is skipped silently;
// the result reports ok=false if no rule was accepted, matching the
// original's "uevf->size > 0" return value.
func ParseFilter(name, filter string) (*Filter, bool) {
	f := &Filter{Name: name}
	for _, tok := range strings.Fields(filter) {
		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			continue
		}
		attr := strings.TrimSpace(tok[:eq])
		pattern := strings.TrimSpace(tok[eq+1:])
		if attr == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		// Leftmost-longest matching makes Match's span check accept any
		// value the regex can match in full, as POSIX regexec does.
		re.Longest()
		f.rules = append(f.rules, rule{attr: attr, re: re})
	}
	return f, len(f.rules) > 0
}

// Reset clears the filter's match count, called at the start of each new
// uevent message, matching uevent_filter_reset.
func (f *Filter) Reset() {
	f.matches = 0
}

// Match checks attr/value against every rule whose attr name equals attr,
// requiring a whole-value match (anchored start-to-end, since regexec's
// REG_EXTENDED match is not implicitly anchored either and the original
// checks rm_so/rm_eo explicitly). Every call that matches increments the
// filter's match count, matching uevent_filter_match.
func (f *Filter) Match(attr, value string) bool {
	for _, r := range f.rules {
		if r.attr != attr {
			continue
		}
		loc := r.re.FindStringIndex(value)
		if loc == nil || loc[0] != 0 || loc[1] != len(value) {
			continue
		}
		f.matches++
		return true
	}
	return false
}

// Satisfied reports whether every rule in the filter has matched (exactly
// once per rule, accumulated since the last Reset), matching
// uevent_filter_matched.
func (f *Filter) Satisfied() bool {
	return len(f.rules) > 0 && f.matches == len(f.rules)
}
