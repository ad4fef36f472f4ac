// Package sysfs provides trivial read/write access to kernel pseudo-file
// attributes, ported from afrd's sysfs.c. Every operation here is
// deliberately dumb: small synchronous reads/writes of a handful of
// kilobytes at most, no retry, no caching — failures are returned to the
// caller to log and work around, never treated as fatal.
package sysfs

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// maxRead bounds a single attribute read, matching sysfs_read's 4096-byte
// stack buffer.
const maxRead = 4096

// ReadString reads an attribute file and trims surrounding whitespace,
// matching sysfs_get_str's behavior when called with a bare path.
func ReadString(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "sysfs: open %s", path)
	}
	defer f.Close()

	buf := make([]byte, maxRead)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", errors.Wrapf(err, "sysfs: read %s", path)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// ReadAttr reads device/attr when attr is non-empty, or device alone
// otherwise — the dual calling convention of sysfs_get_str.
func ReadAttr(device, attr string) (string, error) {
	if attr == "" {
		return ReadString(device)
	}
	return ReadString(device + "/" + attr)
}

// ReadInt reads an attribute and parses it as a decimal integer, tolerating
// an optional "KEY=value" prefix as sysfs_get_int/strtol-based callers do
// for a few oddly-formatted kernel attributes.
func ReadInt(device, attr string) (int, error) {
	s, err := ReadAttr(device, attr)
	if err != nil {
		return 0, err
	}
	return ParseIntWithPrefix(s)
}

// ParseIntWithPrefix parses a leading decimal integer out of s, skipping a
// "KEY=" prefix if present. Trailing garbage after the digits is ignored,
// matching the original's strtol-then-ignore-rest convention.
func ParseIntWithPrefix(s string) (int, error) {
	if eq := strings.IndexByte(s, '='); eq >= 0 && looksLikeKey(s[:eq]) {
		s = s[eq+1:]
	}
	s = strings.TrimSpace(s)

	end := 0
	for end < len(s) && (s[end] == '-' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	if end == 0 {
		return 0, errors.Errorf("sysfs: no integer in %q", s)
	}
	return strconv.Atoi(s[:end])
}

func looksLikeKey(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// WriteString truncates the target file and writes value, matching
// sysfs_write (open O_TRUNC|O_WRONLY, single write, no O_CREAT — sysfs
// attribute files already exist).
func WriteString(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "sysfs: open %s for write", path)
	}
	defer f.Close()

	n, err := f.WriteString(value)
	if err != nil {
		return errors.Wrapf(err, "sysfs: write %s", path)
	}
	if n != len(value) {
		return errors.Errorf("sysfs: short write to %s (%d/%d bytes)", path, n, len(value))
	}
	return nil
}

// WriteAttr writes device/attr when attr is non-empty, or device alone
// otherwise, matching sysfs_set_str.
func WriteAttr(device, attr, value string) error {
	if attr == "" {
		return WriteString(device, value)
	}
	return WriteString(device+"/"+attr, value)
}

// WriteInt writes an integer attribute, matching sysfs_set_int.
func WriteInt(device, attr string, value int) error {
	return WriteAttr(device, attr, strconv.Itoa(value))
}

// Exists reports whether a sysfs path is accessible, matching
// sysfs_exists (access(path, F_OK) == 0).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
