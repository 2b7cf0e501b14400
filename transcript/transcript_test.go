package transcript

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMeetingID(t *testing.T) {
	tests := []struct {
		room     string
		expected string
	}{
		{"meeting-abc123", "abc123"},
		{"abc123", "abc123"},
		{"meeting-", ""},
		{"my-meeting-abc", "my-meeting-abc"},
	}

	for _, tt := range tests {
		if got := MeetingID(tt.room); got != tt.expected {
			t.Errorf("MeetingID(%q) = %q, want %q", tt.room, got, tt.expected)
		}
	}
}

func TestNewEventSegmentID(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	ev := NewEvent(Final, "hello", "alice", "TR_1", at)

	if ev.SegmentID != "alice_1700000000123" {
		t.Errorf("SegmentID = %q", ev.SegmentID)
	}
	if ev.TimestampMs() != 1700000000123 {
		t.Errorf("TimestampMs = %d", ev.TimestampMs())
	}

	later := NewEvent(Final, "hello", "alice", "TR_1", at.Add(time.Millisecond))
	if later.SegmentID == ev.SegmentID {
		t.Error("segment IDs should differ per emission")
	}
}

func TestPayload(t *testing.T) {
	ev := NewEvent(Interim, "hel", "alice", "TR_1", time.UnixMilli(42))

	b, err := ev.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]string{
		"type":        "interim",
		"text":        "hel",
		"participant": "alice",
		"trackSid":    "TR_1",
		"segmentId":   "alice_42",
	}
	if len(got) != len(want) {
		t.Fatalf("payload has %d keys, want %d: %s", len(got), len(want), b)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("payload[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestKindText(t *testing.T) {
	var k Kind
	if err := k.UnmarshalText([]byte("final")); err != nil || k != Final {
		t.Errorf("UnmarshalText(final) = %v, %v", k, err)
	}
	if err := k.UnmarshalText([]byte("partial")); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := Kind(7).MarshalText(); err == nil {
		t.Error("expected error marshaling unknown kind")
	}
}
