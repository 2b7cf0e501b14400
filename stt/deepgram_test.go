package stt

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"node.town/scribe/transcript"
)

type fakeConn struct {
	mu      sync.Mutex
	audio   [][]byte
	json    []interface{}
	stopped bool
	err     error
}

func (c *fakeConn) WriteBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.audio = append(c.audio, data)
	return nil
}

func (c *fakeConn) WriteJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.json = append(c.json, payload)
	return nil
}

func (c *fakeConn) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func newTestSession() (*DeepgramSession, *fakeConn) {
	conn := &fakeConn{}
	s := newDeepgramSession(log.New(io.Discard))
	s.client = conn
	return s, conn
}

func message(text string, final bool) *api.MessageResponse {
	return &api.MessageResponse{
		IsFinal: final,
		Channel: api.Channel{
			Alternatives: []api.Alternative{{Transcript: text, Confidence: 0.9}},
		},
	}
}

func TestDeepgramClassifiesResults(t *testing.T) {
	s, _ := newTestSession()
	h := deepgramHandler{s}

	go func() {
		h.Message(message("hel", false))
		h.Message(message("  ", false))
		h.Message(message("hello", true))
		h.Close(&api.CloseResponse{Type: "Close"})
	}()

	var got []Result
	for r := range s.Results() {
		got = append(got, r)
	}

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Kind != transcript.Interim || got[0].Text != "hel" {
		t.Errorf("first result = %+v", got[0])
	}
	if got[1].Kind != transcript.Final || got[1].Text != "hello" {
		t.Errorf("second result = %+v", got[1])
	}
}

func TestDeepgramIgnoresEmptyAlternatives(t *testing.T) {
	s, _ := newTestSession()
	h := deepgramHandler{s}

	if err := h.Message(&api.MessageResponse{IsFinal: true}); err != nil {
		t.Fatalf("Message: %v", err)
	}
	select {
	case r := <-s.Results():
		t.Fatalf("unexpected result %+v", r)
	default:
	}
}

func TestDeepgramCloseUnblocksPendingEmit(t *testing.T) {
	s, conn := newTestSession()
	h := deepgramHandler{s}

	// fill the buffer so the next emit blocks
	for i := 0; i < cap(s.results); i++ {
		s.results <- Result{}
	}

	done := make(chan struct{})
	go func() {
		h.Message(message("stuck", true))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Message did not return after Close")
	}
	if !conn.stopped {
		t.Error("websocket was not stopped")
	}
	if err := s.SendAudio([]byte{1}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
}

func TestDeepgramFinishSendsCloseStream(t *testing.T) {
	s, conn := newTestSession()
	if err := s.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(conn.json) != 1 {
		t.Fatalf("sent %d control messages", len(conn.json))
	}
	msg, ok := conn.json[0].(map[string]string)
	if !ok || msg["type"] != "CloseStream" {
		t.Errorf("control message = %#v", conn.json[0])
	}
}

func TestWriterCopiesAudio(t *testing.T) {
	s, conn := newTestSession()
	w := Writer{Session: s}

	buf := []byte{1, 2, 3}
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf[0] = 9
	if conn.audio[0][0] != 1 {
		t.Error("writer should copy the caller's buffer")
	}

	conn.err = errors.New("broken pipe")
	if _, err := w.Write(buf); err == nil {
		t.Error("expected write error")
	}
}

func TestDeepgramReady(t *testing.T) {
	if err := NewDeepgramClient("", "nova-2", "en-US", log.New(io.Discard)).Ready(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Ready() = %v, want ErrNoCredential", err)
	}
	if err := NewDeepgramClient("key", "nova-2", "en-US", log.New(io.Discard)).Ready(); err != nil {
		t.Errorf("Ready() = %v", err)
	}
}
