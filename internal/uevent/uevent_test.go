package uevent

import "testing"

func TestParseFilterAndMatch(t *testing.T) {
	f, ok := ParseFilter("vdec", "ACTION=change DEVPATH=.*/vdec.*")
	if !ok {
		t.Fatal("ParseFilter failed on a valid filter")
	}

	f.Reset()
	if f.Satisfied() {
		t.Fatal("a freshly reset filter must not be satisfied")
	}

	if !f.Match("ACTION", "change") {
		t.Fatal("expected ACTION=change to match")
	}
	if f.Satisfied() {
		t.Fatal("filter should not be satisfied after only one of two rules matched")
	}

	if !f.Match("DEVPATH", "/devices/platform/vdec/uevent") {
		t.Fatal("expected DEVPATH to match the vdec regex")
	}
	if !f.Satisfied() {
		t.Fatal("filter should be satisfied once every rule has matched")
	}
}

func TestMatchRequiresWholeValue(t *testing.T) {
	f, ok := ParseFilter("x", "ACTION=change")
	if !ok {
		t.Fatal("ParseFilter failed")
	}
	if f.Match("ACTION", "changeling") {
		t.Fatal("Match should require the regex to match the whole value, not a prefix")
	}
	if f.Match("ACTION", "a change") {
		t.Fatal("Match should require the regex to match the whole value, not a substring")
	}
}

func TestMatchIgnoresUnknownAttr(t *testing.T) {
	f, _ := ParseFilter("x", "ACTION=change")
	if f.Match("DEVPATH", "change") {
		t.Fatal("Match should not match against an attribute the filter doesn't reference")
	}
}

func TestResetClearsMatchCount(t *testing.T) {
	f, _ := ParseFilter("x", "ACTION=change")
	f.Match("ACTION", "change")
	if !f.Satisfied() {
		t.Fatal("single-rule filter should be satisfied after its one match")
	}
	f.Reset()
	if f.Satisfied() {
		t.Fatal("Reset should clear the match count")
	}
}

func TestParseFilterSkipsMalformedTokens(t *testing.T) {
	f, ok := ParseFilter("x", "noequalsign ACTION=change BADREGEX=(")
	if !ok {
		t.Fatal("ParseFilter should still succeed with at least one valid rule")
	}
	if len(f.rules) != 1 {
		t.Fatalf("expected exactly one accepted rule, got %d", len(f.rules))
	}
}

func TestParseFilterRejectsAllInvalid(t *testing.T) {
	if _, ok := ParseFilter("x", "noequalsign"); ok {
		t.Fatal("ParseFilter should report ok=false when no rule was accepted")
	}
}
