package readynotify

import "testing"

// Without NOTIFY_SOCKET set, every call here must be a silent no-op:
// there is no systemd manager to talk to in a test environment.

func TestReadyWithoutNotifySocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := Ready(); err != nil {
		t.Fatalf("Ready() = %v, want nil", err)
	}
}

func TestStoppingWithoutNotifySocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := Stopping(); err != nil {
		t.Fatalf("Stopping() = %v, want nil", err)
	}
}

func TestWatchdogDisabledWithoutEnv(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	interval, enabled, err := Watchdog()
	if err != nil {
		t.Fatalf("Watchdog() = %v", err)
	}
	if enabled {
		t.Fatalf("Watchdog() enabled = true with no WATCHDOG_USEC set, interval=%v", interval)
	}
}
