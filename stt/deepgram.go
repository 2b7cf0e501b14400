package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"node.town/scribe/transcript"
)

type DeepgramClient struct {
	token    string
	model    string
	language string
	logger   *log.Logger
}

var _ Recognizer = (*DeepgramClient)(nil)

func NewDeepgramClient(
	token, model, language string,
	logger *log.Logger,
) *DeepgramClient {
	return &DeepgramClient{
		token:    token,
		model:    model,
		language: language,
		logger:   logger,
	}
}

func (c *DeepgramClient) Ready() error {
	if c.token == "" {
		return ErrNoCredential
	}
	return nil
}

// Start opens a live transcription websocket. Audio is expected in a
// container (Ogg Opus), so encoding and sample rate are left to detection.
func (c *DeepgramClient) Start(ctx context.Context) (Session, error) {
	if err := c.Ready(); err != nil {
		return nil, err
	}

	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          c.model,
		Language:       c.language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	session := newDeepgramSession(c.logger)

	client, err := listen.NewWSUsingCallback(
		ctx,
		c.token,
		cOptions,
		tOptions,
		deepgramHandler{session},
	)
	if err != nil {
		return nil, fmt.Errorf("create live transcription connection: %w", err)
	}
	session.client = client

	if !client.Connect() {
		client.Stop()
		return nil, errors.New("connect to deepgram")
	}

	return session, nil
}

type DeepgramSession struct {
	client  deepgramConn
	logger  *log.Logger
	results chan Result
	quit    chan struct{}

	mu       sync.Mutex
	ended    bool
	inflight sync.WaitGroup

	endOnce  sync.Once
	quitOnce sync.Once
}

// deepgramConn is the part of the websocket client a session drives.
type deepgramConn interface {
	WriteBinary(data []byte) error
	WriteJSON(payload interface{}) error
	Stop()
}

var _ Session = (*DeepgramSession)(nil)

func newDeepgramSession(logger *log.Logger) *DeepgramSession {
	return &DeepgramSession{
		logger:  logger,
		results: make(chan Result, 64),
		quit:    make(chan struct{}),
	}
}

func (s *DeepgramSession) SendAudio(data []byte) error {
	select {
	case <-s.quit:
		return errors.New("session closed")
	default:
	}
	if err := s.client.WriteBinary(data); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

func (s *DeepgramSession) Results() <-chan Result {
	return s.results
}

func (s *DeepgramSession) Finish() error {
	if err := s.client.WriteJSON(map[string]string{"type": "CloseStream"}); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

func (s *DeepgramSession) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.end()
	if s.client != nil {
		s.client.Stop()
	}
	return nil
}

func (s *DeepgramSession) emit(r Result) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case s.results <- r:
	case <-s.quit:
	}
}

// end stops accepting results and closes the channel once in-flight sends
// have drained.
func (s *DeepgramSession) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		go func() {
			s.inflight.Wait()
			close(s.results)
		}()
	})
}

// deepgramHandler receives websocket callbacks on behalf of a session.
type deepgramHandler struct {
	s *DeepgramSession
}

var _ api.LiveMessageCallback = deepgramHandler{}

func (h deepgramHandler) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if len(text) == 0 {
		return nil
	}

	kind := transcript.Interim
	if mr.IsFinal {
		kind = transcript.Final
	}

	h.s.logger.Debug("hear", "kind", kind, "txt", text)

	h.s.emit(Result{
		Kind:       kind,
		Text:       text,
		Start:      mr.Start,
		Duration:   mr.Duration,
		Confidence: mr.Channel.Alternatives[0].Confidence,
	})
	return nil
}

func (h deepgramHandler) Open(ocr *api.OpenResponse) error {
	h.s.logger.Info("open", "kind", "deepgram")
	return nil
}

func (h deepgramHandler) Metadata(md *api.MetadataResponse) error {
	h.s.logger.Debug("metadata", "metadata", md)
	return nil
}

func (h deepgramHandler) SpeechStarted(ssr *api.SpeechStartedResponse) error {
	h.s.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	return nil
}

func (h deepgramHandler) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	h.s.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	return nil
}

func (h deepgramHandler) Close(ocr *api.CloseResponse) error {
	h.s.logger.Info("closed", "reason", ocr.Type)
	h.s.end()
	return nil
}

func (h deepgramHandler) Error(er *api.ErrorResponse) error {
	h.s.logger.Error("error", "type", er.Type, "description", er.Description)
	return nil
}

func (h deepgramHandler) UnhandledEvent(byData []byte) error {
	h.s.logger.Warn("unhandled event", "data", string(byData))
	return nil
}
