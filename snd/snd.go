// Package snd turns RTP audio packets into a byte stream a recognizer can
// consume.
package snd

import (
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	SampleRate = 48000
	Channels   = 2
)

// Encoder accepts RTP packets and writes encoded audio downstream.
type Encoder interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// NewEncoderFunc builds an Encoder over w.
type NewEncoderFunc func(w io.Writer) (Encoder, error)

// NewOggEncoder wraps Opus RTP payloads into an Ogg stream. The Ogg headers
// are written to w immediately.
func NewOggEncoder(w io.Writer) (Encoder, error) {
	writer, err := oggwriter.NewWith(w, SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}
	return writer, nil
}
