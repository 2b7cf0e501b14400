// Package transcript holds the values that flow from a speech recognizer to
// the transcript sinks.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topic is the LiveKit data topic transcript payloads are published on.
const Topic = "lk.transcription"

const meetingPrefix = "meeting-"

type Kind int

const (
	Interim Kind = iota
	Final
)

func (k Kind) String() string {
	switch k {
	case Interim:
		return "interim"
	case Final:
		return "final"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case Interim, Final:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown transcript kind %d", int(k))
}

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "interim":
		*k = Interim
	case "final":
		*k = Final
	default:
		return fmt.Errorf("unknown transcript kind %q", b)
	}
	return nil
}

// Event is one recognition result attributed to a participant's track.
// Fields are exported for encoding only; treat an Event as immutable.
type Event struct {
	Kind        Kind      `json:"type"`
	Text        string    `json:"text"`
	Participant string    `json:"participant"`
	TrackSID    string    `json:"trackSid"`
	SegmentID   string    `json:"segmentId"`
	Timestamp   time.Time `json:"-"`
}

// NewEvent stamps a new event at now. The segment ID is derived from the
// emission time, so an interim result and the final revision of the same
// utterance carry different IDs.
func NewEvent(kind Kind, text, participant, trackSID string, now time.Time) Event {
	return Event{
		Kind:        kind,
		Text:        text,
		Participant: participant,
		TrackSID:    trackSID,
		SegmentID:   SegmentID(participant, now),
		Timestamp:   now,
	}
}

func SegmentID(participant string, at time.Time) string {
	return fmt.Sprintf("%s_%d", participant, at.UnixMilli())
}

// TimestampMs is the emission time in Unix milliseconds.
func (e Event) TimestampMs() int64 {
	return e.Timestamp.UnixMilli()
}

// Payload is the compact JSON published to room peers.
func (e Event) Payload() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode transcript payload: %w", err)
	}
	return b, nil
}

// MeetingID maps a room name to the backend meeting identifier.
func MeetingID(room string) string {
	return strings.TrimPrefix(room, meetingPrefix)
}
