package room

import (
	"sync"

	"github.com/pion/rtp"
)

// ReadFunc reads the next RTP packet, blocking until one arrives.
type ReadFunc func() (*rtp.Packet, error)

// TrackSource pumps packets from a ReadFunc into a buffered channel so
// consumers can select on it alongside shutdown and cancellation.
type TrackSource struct {
	frames    chan *rtp.Packet
	quit      chan struct{}
	closeOnce sync.Once
}

var _ AudioSource = (*TrackSource)(nil)

func NewTrackSource(read ReadFunc) *TrackSource {
	s := &TrackSource{
		frames: make(chan *rtp.Packet, 50), // one second of 20ms frames
		quit:   make(chan struct{}),
	}
	go s.pump(read)
	return s
}

func (s *TrackSource) pump(read ReadFunc) {
	defer close(s.frames)
	for {
		pkt, err := read()
		if err != nil {
			return
		}
		select {
		case <-s.quit:
			return
		default:
		}
		select {
		case s.frames <- pkt:
		case <-s.quit:
			return
		}
	}
}

func (s *TrackSource) Frames() <-chan *rtp.Packet { return s.frames }

// Close stops delivery. A read already blocked in the transport returns
// when the track itself ends.
func (s *TrackSource) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	return nil
}
