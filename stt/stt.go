// Package stt defines the streaming speech recognition contract used by the
// transcription pipelines, and its Deepgram implementation.
package stt

import (
	"context"
	"errors"

	"node.town/scribe/transcript"
)

var ErrNoCredential = errors.New("speech recognition credential not configured")

// Result is one recognition event. Kind tags whether the text may still be
// revised (Interim) or is settled (Final).
type Result struct {
	Kind       transcript.Kind
	Text       string
	Start      float64
	Duration   float64
	Confidence float64
}

// Session is one live transcription stream.
type Session interface {
	// SendAudio submits encoded audio. It must not block for long.
	SendAudio(data []byte) error
	// Results yields recognition events in order and is closed once the
	// session has ended.
	Results() <-chan Result
	// Finish announces that no more audio follows. Pending results are
	// flushed before Results is closed.
	Finish() error
	// Close releases the session immediately.
	Close() error
}

type Recognizer interface {
	// Ready reports whether the recognizer can open sessions at all.
	Ready() error
	Start(ctx context.Context) (Session, error)
}

// Writer adapts a Session to io.Writer for audio encoders.
type Writer struct {
	Session Session
}

func (w Writer) Write(p []byte) (int, error) {
	// encoders reuse their buffers
	buf := make([]byte, len(p))
	copy(buf, p)
	if err := w.Session.SendAudio(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}
