// Package room adapts a live LiveKit room into an ordered stream of
// lifecycle events and a data channel for transcript payloads.
package room

import (
	"context"
	"fmt"

	"github.com/pion/rtp"

	"node.town/scribe/transcript"
)

type EventKind int

const (
	TrackSubscribed EventKind = iota
	TrackUnsubscribed
	ParticipantDisconnected
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case TrackSubscribed:
		return "track_subscribed"
	case TrackUnsubscribed:
		return "track_unsubscribed"
	case ParticipantDisconnected:
		return "participant_disconnected"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one room notification. Track is set for track events; its
// Open is only set for newly subscribed audio tracks.
type Event struct {
	Kind        EventKind
	Participant string
	Track       Track
}

// Track identifies one participant's published track. Nothing is read
// from the transport until Open is called.
type Track struct {
	Participant string
	SID         string
	Audio       bool
	Open        func() AudioSource
}

// AudioSource yields the RTP packets of one subscribed audio track. Frames
// is closed when the track ends or the source is closed.
type AudioSource interface {
	Frames() <-chan *rtp.Packet
	Close() error
}

// Room is a connected session.
type Room interface {
	Name() string
	// Events delivers notifications in the order the transport raised them.
	Events() <-chan Event
	PublishData(ctx context.Context, payload []byte, topic string) error
	Disconnect()
}

type Connector interface {
	Connect(ctx context.Context, name string) (Room, error)
}

// DataSender is the publishing half of a Room.
type DataSender interface {
	PublishData(ctx context.Context, payload []byte, topic string) error
}

// Publisher broadcasts transcript events to every peer in the room.
type Publisher struct {
	room DataSender
}

func NewPublisher(room DataSender) *Publisher {
	return &Publisher{room: room}
}

func (p *Publisher) Publish(ctx context.Context, ev transcript.Event) error {
	payload, err := ev.Payload()
	if err != nil {
		return err
	}
	if err := p.room.PublishData(ctx, payload, transcript.Topic); err != nil {
		return fmt.Errorf("publish %s: %w", transcript.Topic, err)
	}
	return nil
}
