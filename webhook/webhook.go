// Package webhook notifies the meeting backend about transcripts and
// session lifecycle over HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/transcript"
)

const apiKeyHeader = "X-API-Key"

type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	timeout    time.Duration
	endTimeout time.Duration
	logger     *log.Logger
}

type Option func(*Client)

// WithTimeout bounds transcript, start and stats calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEndTimeout bounds the session-ended call, which may trigger heavier
// processing on the backend.
func WithEndTimeout(d time.Duration) Option {
	return func(c *Client) { c.endTimeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, apiKey string, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		http:       http.DefaultClient,
		timeout:    5 * time.Second,
		endTimeout: 10 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcriptRequest struct {
	MeetingID string           `json:"meeting_id"`
	Data      transcript.Event `json:"transcription_data"`
}

// SendTranscript posts one transcript event. It reports success only for
// HTTP 200.
func (c *Client) SendTranscript(
	ctx context.Context,
	meetingID string,
	ev transcript.Event,
) bool {
	body := transcriptRequest{MeetingID: meetingID, Data: ev}
	status, _, err := c.post(ctx, c.timeout, "/api/v1/transcription/livekit", body)
	if err != nil {
		c.logger.Error("send transcript", "meeting", meetingID, "error", err)
		return false
	}
	if status != http.StatusOK {
		c.logger.Error("backend rejected transcript", "meeting", meetingID, "status", status)
		return false
	}
	c.logger.Debug("transcript sent", "meeting", meetingID, "segment", ev.SegmentID)
	return true
}

func (c *Client) NotifySessionStarted(ctx context.Context, meetingID string) bool {
	path := "/api/v1/transcription/start/" + url.PathEscape(meetingID)
	status, _, err := c.post(ctx, c.timeout, path, struct{}{})
	if err != nil {
		c.logger.Error("notify session started", "meeting", meetingID, "error", err)
		return false
	}
	if status != http.StatusOK {
		c.logger.Error("backend rejected session start", "meeting", meetingID, "status", status)
		return false
	}
	c.logger.Info("session start sent", "meeting", meetingID)
	return true
}

// NotifySessionEnded returns the backend's response payload on success.
func (c *Client) NotifySessionEnded(
	ctx context.Context,
	meetingID string,
	userID int64,
) (map[string]any, bool) {
	path := "/api/transcription/end/" + url.PathEscape(meetingID)
	body := map[string]int64{"user_id": userID}
	status, resp, err := c.post(ctx, c.endTimeout, path, body)
	if err != nil {
		c.logger.Error("notify session ended", "meeting", meetingID, "error", err)
		return nil, false
	}
	if status != http.StatusOK {
		c.logger.Error("backend rejected session end", "meeting", meetingID, "status", status)
		return nil, false
	}

	payload, err := decodeObject(resp)
	if err != nil {
		c.logger.Error("decode session end response", "meeting", meetingID, "error", err)
		return nil, false
	}
	c.logger.Info("session end sent", "meeting", meetingID)
	return payload, true
}

// TranscriptionStats fetches backend statistics for a meeting.
func (c *Client) TranscriptionStats(
	ctx context.Context,
	meetingID string,
) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+"/api/transcription/stats/"+url.PathEscape(meetingID),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("build stats request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	status, resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("stats request: unexpected status %d", status)
	}
	return decodeObject(resp)
}

func (c *Client) post(
	ctx context.Context,
	timeout time.Duration,
	path string,
	body any,
) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(data),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	payload := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload, nil
}
