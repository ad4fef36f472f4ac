package engine

import "github.com/pkg/errors"

// Kind sentinels the scheduler wraps every recoverable error against, so
// the one place that decides user-visible behavior can recover the kind
// with errors.Cause (or the standard library's errors.Is, since
// github.com/pkg/errors wraps implement Unwrap) instead of re-deriving it
// from a message string.
var (
	// TransientIO marks a sysfs or socket operation that failed but is
	// expected to succeed on a later retry — logged and ignored, matching
	// afrd.c's "log and continue" treatment of sysfs_get_str/write failures.
	TransientIO = errors.New("engine: transient I/O failure")

	// Parse marks a malformed uevent field, config value, or status line
	// that the producer is expected to eventually send correctly.
	Parse = errors.New("engine: parse failure")

	// NotSupported marks a display mode, color space or rate rejected by
	// the hardware (blacklisted, out of range, or absent from the
	// catalog), never the fault of the caller.
	NotSupported = errors.New("engine: not supported")

	// Denied marks an operation refused by policy (a vdec or decoder on a
	// configured blacklist, AFR disabled by the user).
	Denied = errors.New("engine: denied")

	// Shutdown marks the engine tearing down; callers should stop
	// scheduling further work rather than retry.
	Shutdown = errors.New("engine: shutting down")
)

// wrap tags err with kind and a call-site message, or returns nil if err
// is nil. The kind becomes err's Cause, so callers can later recover it
// with errors.Cause(err) == TransientIO (etc.) regardless of how much
// additional context has been wrapped on top.
func wrap(kind error, err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.Wrap(kind, err.Error()), message)
}
