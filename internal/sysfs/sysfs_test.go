package sysfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadStringTrims(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attr")
	if err := os.WriteFile(path, []byte("  1080p60hz*\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadString(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := "1080p60hz*"; got != want {
		t.Fatalf("ReadString() = %q, want %q", got, want)
	}
}

func TestReadAttrDualConvention(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "disp_cap"), []byte("1080p60hz"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAttr(dir, "disp_cap")
	if err != nil || got != "1080p60hz" {
		t.Fatalf("ReadAttr(dir, attr) = %q, %v", got, err)
	}

	got, err = ReadAttr(filepath.Join(dir, "disp_cap"), "")
	if err != nil || got != "1080p60hz" {
		t.Fatalf("ReadAttr(path, \"\") = %q, %v", got, err)
	}
}

func TestParseIntWithPrefix(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"42", 42, false},
		{"KEY=42", 42, false},
		{"  42  ", 42, false},
		{"42 garbage", 42, false},
		{"-1", -1, false},
		{"nope", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := ParseIntWithPrefix(c.in)
		if (err != nil) != c.wantErr {
			t.Errorf("ParseIntWithPrefix(%q) error = %v, wantErr %v", c.in, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("ParseIntWithPrefix(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestWriteStringTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mode")
	if err := os.WriteFile(path, []byte("a very long previous value"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteString(path, "null"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "null" {
		t.Fatalf("file contents = %q, want %q (truncated)", got, "null")
	}
}

func TestWriteIntAndReadInt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frac_rate_policy")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteInt(dir, "frac_rate_policy", 1); err != nil {
		t.Fatal(err)
	}
	got, err := ReadInt(dir, "frac_rate_policy")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Fatalf("ReadInt() = %d, want 1", got)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if !Exists(path) {
		t.Error("Exists() = false for a file that exists")
	}
	if Exists(filepath.Join(dir, "absent")) {
		t.Error("Exists() = true for a file that does not exist")
	}
}
