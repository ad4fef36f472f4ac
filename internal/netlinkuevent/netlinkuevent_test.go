package netlinkuevent

import "testing"

func TestParseFieldsSkipsHeaderLine(t *testing.T) {
	msg := "change@/devices/platform/vdec\x00ACTION=change\x00DEVPATH=/devices/platform/vdec\x00MODALIAS=platform:amvdec_h264\x00"
	fields := ParseFields([]byte(msg))

	if len(fields) != 3 {
		t.Fatalf("got %d fields, want 3 (header line skipped): %+v", len(fields), fields)
	}
	if fields[0].Key != "ACTION" || fields[0].Value != "change" {
		t.Fatalf("fields[0] = %+v", fields[0])
	}
	if fields[2].Key != "MODALIAS" || fields[2].Value != "platform:amvdec_h264" {
		t.Fatalf("fields[2] = %+v", fields[2])
	}
}

func TestParseFieldsHandlesValuelessKey(t *testing.T) {
	msg := "header\x00SEQNUM\x00"
	fields := ParseFields([]byte(msg))
	if len(fields) != 1 || fields[0].Key != "SEQNUM" || fields[0].Value != "" {
		t.Fatalf("fields = %+v", fields)
	}
}
