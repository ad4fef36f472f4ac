package colorspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseTripleRoundTrip(t *testing.T) {
	tr, ok := parseTriple("420,8bit,full")
	if !ok {
		t.Fatal("parseTriple failed to parse a valid triple")
	}
	if got, want := tr.String(), "420,8bit,full"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseTripleRejectsUnknownToken(t *testing.T) {
	if _, ok := parseTriple("420,bogus"); ok {
		t.Fatal("parseTriple should reject an unrecognized token")
	}
}

func TestApplyPicksMatchingFilter(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "cs_list")
	csPath := filepath.Join(dir, "cs")

	if err := os.WriteFile(listPath, []byte("420,8bit,full 444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Selector{ListPath: listPath, Path: csPath}
	s.ParseFilters("^1080p.*$=420")
	if !s.Refresh() {
		t.Fatal("Refresh() = false, want true")
	}

	if !s.Apply("1080p60hz") {
		t.Fatal("Apply() = false, want true")
	}

	got, err := os.ReadFile(csPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := "420,8bit,full"; string(got) != want {
		t.Fatalf("cs attribute = %q, want %q", got, want)
	}
}

func TestApplyFallsBackToDefaultOnNoMatch(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "cs_list")
	csPath := filepath.Join(dir, "cs")

	if err := os.WriteFile(listPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Selector{ListPath: listPath, Path: csPath}
	s.ParseFilters("^720p.*$=420")
	s.Refresh()

	if !s.Apply("1080p60hz") {
		t.Fatal("Apply() = false, want true")
	}

	got, _ := os.ReadFile(csPath)
	if want := "444,8bit,full"; string(got) != want {
		t.Fatalf("cs attribute = %q, want %q (default)", got, want)
	}
}

func TestOverrideTakesPriorityOverFilters(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "cs_list")
	csPath := filepath.Join(dir, "cs")

	if err := os.WriteFile(listPath, []byte("420,8bit,full 444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Selector{ListPath: listPath, Path: csPath}
	s.ParseFilters("^1080p.*$=444")
	s.Refresh()
	s.Override("420,8bit,full")

	if !s.Apply("1080p60hz") {
		t.Fatal("Apply() = false, want true")
	}

	got, _ := os.ReadFile(csPath)
	if want := "420,8bit,full"; string(got) != want {
		t.Fatalf("cs attribute = %q, want %q (override)", got, want)
	}
}

func TestOverrideEmptyRestoresNormalBehavior(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "cs_list")
	csPath := filepath.Join(dir, "cs")

	if err := os.WriteFile(listPath, []byte("420,8bit,full 444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Selector{ListPath: listPath, Path: csPath}
	s.ParseFilters("^1080p.*$=420")
	s.Refresh()
	s.Override("444,8bit,full")
	s.Override("")

	if !s.Apply("1080p60hz") {
		t.Fatal("Apply() = false, want true")
	}

	got, _ := os.ReadFile(csPath)
	if want := "420,8bit,full"; string(got) != want {
		t.Fatalf("cs attribute = %q, want %q (filter should apply again)", got, want)
	}
}

func TestApplyUnsupportedFilterIsSkipped(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "cs_list")
	csPath := filepath.Join(dir, "cs")

	// Display only supports 444, but the filter wants 420.
	if err := os.WriteFile(listPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(csPath, []byte("444,8bit,full"), 0644); err != nil {
		t.Fatal(err)
	}

	s := &Selector{ListPath: listPath, Path: csPath}
	s.ParseFilters("^1080p.*$=420")
	s.Refresh()

	if !s.Apply("1080p60hz") {
		t.Fatal("Apply() = false, want true")
	}

	got, _ := os.ReadFile(csPath)
	if want := "444,8bit,full"; string(got) != want {
		t.Fatalf("cs attribute = %q, want %q (default, filter unsupported)", got, want)
	}
}
