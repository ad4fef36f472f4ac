package dispmode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseModeImpliedWidth(t *testing.T) {
	m, ok := ParseMode("1080p60hz")
	if !ok {
		t.Fatal("ParseMode failed")
	}
	if m.Width != 1920 || m.Height != 1080 || m.Interlaced || m.FrameRate != 60 {
		t.Fatalf("ParseMode(1080p60hz) = %+v", m)
	}
}

func TestParseModeExplicitDims(t *testing.T) {
	m, ok := ParseMode("3840x2160p30hz")
	if !ok {
		t.Fatal("ParseMode failed")
	}
	if m.Width != 3840 || m.Height != 2160 || m.FrameRate != 30 {
		t.Fatalf("ParseMode(3840x2160p30hz) = %+v", m)
	}
}

func TestParseModeInterlaced(t *testing.T) {
	m, ok := ParseMode("1080i60hz")
	if !ok {
		t.Fatal("ParseMode failed")
	}
	if !m.Interlaced {
		t.Fatal("expected interlaced mode")
	}
}

func TestParseModeSMPTE(t *testing.T) {
	m, ok := ParseMode("smpte24hz")
	if !ok {
		t.Fatal("ParseMode failed")
	}
	if m.Width != 4096 || m.Height != 2160 || m.FrameRate != 24 {
		t.Fatalf("ParseMode(smpte24hz) = %+v", m)
	}
}

func TestParseModeRejectsUnknownHeight(t *testing.T) {
	if _, ok := ParseMode("333p60hz"); ok {
		t.Fatal("ParseMode should reject a bare height with no implied width")
	}
}

func TestParseModeRejectsEmpty(t *testing.T) {
	if _, ok := ParseMode(""); ok {
		t.Fatal("ParseMode should reject the empty string")
	}
}

func TestModeEqualDistinguishesFractional(t *testing.T) {
	a, _ := ParseMode("1080p60hz")
	b, _ := ParseMode("1080p60hz")
	b.Fractional = true
	if a.Equal(b) {
		t.Fatal("fractional and integer 60hz modes should compare unequal")
	}
}

func TestModeHzInteger(t *testing.T) {
	m, _ := ParseMode("1080p60hz")
	if m.Hz() != Hz(60*256) {
		t.Fatalf("Hz() = %v, want %v", m.Hz(), Hz(60*256))
	}
}

func TestModeHzFractional(t *testing.T) {
	m, _ := ParseMode("1080p60hz")
	m.Fractional = true
	got := m.Hz()
	want := fractionalHz[60]
	if got != want {
		t.Fatalf("Hz() fractional = %v, want %v", got, want)
	}
	// 59.94 is close to but below 60.00.
	if got >= Hz(60*256) {
		t.Fatalf("fractional 60hz (%v) should be below integer 60hz", got)
	}
}

func TestModeHzStringFormat(t *testing.T) {
	h := Hz(60 * 256)
	if got, want := h.String(), "60.00"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestCatalogAddDeduplicates(t *testing.T) {
	var c Catalog
	m1, _ := ParseMode("1080p60hz")
	m2, _ := ParseMode("1080p60hz")
	m2.Fractional = true
	c.Add(m1)
	c.Add(m2)
	if len(c.Modes()) != 1 {
		t.Fatalf("Add() should dedup fractional variants of the same mode, got %d entries", len(c.Modes()))
	}
}

func TestCatalogInitParsesDispCapAndCurrent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "disp_cap"), []byte("1080p60hz\n1080p50hz*\n720p60hz\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frac_rate_policy"), []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}
	modePath := filepath.Join(dir, "mode")
	if err := os.WriteFile(modePath, []byte("1080p50hz"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &Catalog{HDMIDev: dir, ModePath: modePath}
	if err := c.Init(nil); err != nil {
		t.Fatal(err)
	}

	if len(c.Modes()) != 3 {
		t.Fatalf("Init() loaded %d modes, want 3", len(c.Modes()))
	}
	want, _ := ParseMode("1080p50hz")
	if !c.Current().Equal(want) {
		t.Fatalf("Current() = %+v, want %+v", c.Current(), want)
	}
}

func TestCatalogSwitchToWritesModeAndFracPolicy(t *testing.T) {
	dir := t.TempDir()
	modePath := filepath.Join(dir, "mode")
	fracPath := filepath.Join(dir, "frac_rate_policy")
	if err := os.WriteFile(modePath, []byte("null"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fracPath, []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &Catalog{HDMIDev: dir, ModePath: modePath}
	target, _ := ParseMode("1080p60hz")
	if err := c.SwitchTo(target, false); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(modePath)
	if string(got) != "1080p60hz" {
		t.Fatalf("mode file = %q, want %q", got, "1080p60hz")
	}
	if !c.Current().Equal(target) {
		t.Fatal("Current() not updated after SwitchTo")
	}
	if c.Blackened() {
		t.Fatal("Blackened() should be false after a successful switch")
	}
}

func TestCatalogSwitchToIsNoOpWhenAlreadyActive(t *testing.T) {
	dir := t.TempDir()
	modePath := filepath.Join(dir, "mode")
	if err := os.WriteFile(modePath, []byte("UNTOUCHED"), 0644); err != nil {
		t.Fatal(err)
	}

	current, _ := ParseMode("1080p60hz")
	c := &Catalog{HDMIDev: dir, ModePath: modePath}
	c.current = current

	if err := c.SwitchTo(current, false); err != nil {
		t.Fatal(err)
	}

	got, _ := os.ReadFile(modePath)
	if string(got) != "UNTOUCHED" {
		t.Fatal("SwitchTo should not touch sysfs when the mode is already active")
	}
}

func TestCatalogBlackoutThenSwitchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	modePath := filepath.Join(dir, "mode")
	fracPath := filepath.Join(dir, "frac_rate_policy")
	if err := os.WriteFile(modePath, []byte("1080p60hz"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fracPath, []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}

	c := &Catalog{HDMIDev: dir, ModePath: modePath}
	if err := c.Blackout(); err != nil {
		t.Fatal(err)
	}
	if !c.Blackened() {
		t.Fatal("Blackened() should be true after Blackout")
	}
	got, _ := os.ReadFile(modePath)
	if string(got) != "null" {
		t.Fatalf("mode file = %q, want null", got)
	}

	if err := c.Blackout(); err != nil {
		t.Fatal(err)
	}
}

func TestCatalogClearDropsModeList(t *testing.T) {
	c := &Catalog{}
	c.Add(Mode{Name: "1080p60hz", Width: 1920, Height: 1080, FrameRate: 60})
	if len(c.Modes()) != 1 {
		t.Fatalf("Modes() = %d, want 1", len(c.Modes()))
	}
	c.Clear()
	if len(c.Modes()) != 0 {
		t.Fatalf("Modes() after Clear() = %d, want 0", len(c.Modes()))
	}
}

func TestSetHzPrefersFractionalWhenCloser(t *testing.T) {
	m, _ := ParseMode("1080p60hz")
	m.SetHz(Hz(5994 * 256 / 100))
	if !m.Fractional {
		t.Fatal("SetHz should select the fractional rate when it's closer to target")
	}
}

func TestSetHzPrefersIntegerWhenCloser(t *testing.T) {
	m, _ := ParseMode("1080p60hz")
	m.SetHz(Hz(60 * 256))
	if m.Fractional {
		t.Fatal("SetHz should select the integer rate when it's closer to target")
	}
}
