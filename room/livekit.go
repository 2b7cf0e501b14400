package room

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("room closed")

type LiveKit struct {
	url       string
	apiKey    string
	apiSecret string
	identity  string
	logger    *log.Logger
}

var _ Connector = (*LiveKit)(nil)

func NewLiveKit(url, apiKey, apiSecret, identity string, logger *log.Logger) *LiveKit {
	return &LiveKit{
		url:       url,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		identity:  identity,
		logger:    logger,
	}
}

// Connect joins the room and subscribes to every published track. Non-audio
// tracks are reported but never read.
func (l *LiveKit) Connect(ctx context.Context, name string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &liveKitRoom{
		name:   name,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
		logger: l.logger.With("room", name),
	}

	cb := lksdk.NewRoomCallback()
	cb.ParticipantCallback.OnTrackSubscribed = r.onTrackSubscribed
	cb.ParticipantCallback.OnTrackUnsubscribed = r.onTrackUnsubscribed
	cb.OnParticipantDisconnected = r.onParticipantDisconnected
	cb.OnDisconnected = r.onDisconnected

	lkRoom, err := lksdk.ConnectToRoom(
		l.url,
		lksdk.ConnectInfo{
			APIKey:              l.apiKey,
			APISecret:           l.apiSecret,
			RoomName:            name,
			ParticipantIdentity: l.identity,
		},
		cb,
		lksdk.WithAutoSubscribe(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to room %s: %w", name, err)
	}

	r.mu.Lock()
	r.room = lkRoom
	r.mu.Unlock()

	return r, nil
}

type liveKitRoom struct {
	name   string
	events chan Event
	logger *log.Logger

	mu        sync.Mutex
	room      *lksdk.Room
	closed    chan struct{}
	closeOnce sync.Once
}

func (r *liveKitRoom) Name() string { return r.name }

func (r *liveKitRoom) Events() <-chan Event { return r.events }

func (r *liveKitRoom) PublishData(ctx context.Context, payload []byte, topic string) error {
	r.mu.Lock()
	lkRoom := r.room
	r.mu.Unlock()
	if lkRoom == nil {
		return ErrClosed
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- lkRoom.LocalParticipant.PublishDataPacket(
			lksdk.UserData(payload),
			lksdk.WithDataPublishTopic(topic),
			lksdk.WithDataPublishReliable(true),
		)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return ErrClosed
	}
}

// Disconnect leaves the room.
func (r *liveKitRoom) Disconnect() {
	r.closeOnce.Do(func() {
		close(r.closed)

		r.mu.Lock()
		lkRoom := r.room
		r.room = nil
		r.mu.Unlock()

		if lkRoom != nil {
			lkRoom.Disconnect()
		}
	})
}

func (r *liveKitRoom) emit(ev Event) {
	select {
	case <-r.closed:
	case r.events <- ev:
	}
}

func (r *liveKitRoom) onTrackSubscribed(
	track *webrtc.TrackRemote,
	pub *lksdk.RemoteTrackPublication,
	rp *lksdk.RemoteParticipant,
) {
	t := Track{
		Participant: rp.Identity(),
		SID:         pub.SID(),
		Audio:       track.Kind() == webrtc.RTPCodecTypeAudio,
	}
	if t.Audio {
		t.Open = func() AudioSource {
			return NewTrackSource(func() (*rtp.Packet, error) {
				pkt, _, err := track.ReadRTP()
				return pkt, err
			})
		}
	}
	r.emit(Event{Kind: TrackSubscribed, Participant: t.Participant, Track: t})
}

func (r *liveKitRoom) onTrackUnsubscribed(
	track *webrtc.TrackRemote,
	pub *lksdk.RemoteTrackPublication,
	rp *lksdk.RemoteParticipant,
) {
	r.emit(Event{
		Kind:        TrackUnsubscribed,
		Participant: rp.Identity(),
		Track: Track{
			Participant: rp.Identity(),
			SID:         pub.SID(),
			Audio:       track.Kind() == webrtc.RTPCodecTypeAudio,
		},
	})
}

func (r *liveKitRoom) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	r.emit(Event{Kind: ParticipantDisconnected, Participant: rp.Identity()})
}

func (r *liveKitRoom) onDisconnected() {
	r.emit(Event{Kind: Disconnected})
}
