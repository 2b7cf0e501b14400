// Package forward fans transcript events out to the room broadcast channel,
// the backend webhook and any configured mirrors.
package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/transcript"
)

// Broadcaster publishes an event to the session's peers.
type Broadcaster interface {
	Publish(ctx context.Context, ev transcript.Event) error
}

// TranscriptSink delivers an event to the backend.
type TranscriptSink interface {
	SendTranscript(ctx context.Context, meetingID string, ev transcript.Event) bool
}

// Mirror is an optional secondary destination. Mirrors are best-effort like
// the primary sinks and never affect the reported Delivery.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, meetingID string, ev transcript.Event) error
}

// Delivery reports the outcome per primary sink.
type Delivery struct {
	BroadcastOK bool
	WebhookOK   bool
}

func (d Delivery) OK() bool { return d.BroadcastOK && d.WebhookOK }

type Forwarder struct {
	broadcast Broadcaster
	webhook   TranscriptSink
	mirrors   []Mirror
	logger    *log.Logger

	broadcastTimeout time.Duration
	webhookTimeout   time.Duration
	mirrorTimeout    time.Duration
}

type Option func(*Forwarder)

func WithTimeouts(broadcast, webhook time.Duration) Option {
	return func(f *Forwarder) {
		f.broadcastTimeout = broadcast
		f.webhookTimeout = webhook
	}
}

func WithMirrors(mirrors ...Mirror) Option {
	return func(f *Forwarder) {
		f.mirrors = append(f.mirrors, mirrors...)
	}
}

func New(
	broadcast Broadcaster,
	webhook TranscriptSink,
	logger *log.Logger,
	opts ...Option,
) *Forwarder {
	f := &Forwarder{
		broadcast:        broadcast,
		webhook:          webhook,
		logger:           logger,
		broadcastTimeout: 3 * time.Second,
		webhookTimeout:   5 * time.Second,
		mirrorTimeout:    5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Deliver attempts every sink concurrently and returns once all attempts
// have finished or timed out. Nothing is retried.
func (f *Forwarder) Deliver(
	ctx context.Context,
	meetingID string,
	ev transcript.Event,
) Delivery {
	var (
		wg sync.WaitGroup
		d  Delivery
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		err := f.guard("broadcast", func() error {
			ctx, cancel := context.WithTimeout(ctx, f.broadcastTimeout)
			defer cancel()
			return f.broadcast.Publish(ctx, ev)
		})
		if err != nil {
			f.logger.Error("broadcast transcript", "segment", ev.SegmentID, "error", err)
			return
		}
		d.BroadcastOK = true
	}()

	go func() {
		defer wg.Done()
		err := f.guard("webhook", func() error {
			ctx, cancel := context.WithTimeout(ctx, f.webhookTimeout)
			defer cancel()
			if !f.webhook.SendTranscript(ctx, meetingID, ev) {
				return errWebhookRejected
			}
			return nil
		})
		if err != nil {
			// The webhook client logs its own rejections.
			if !errors.Is(err, errWebhookRejected) {
				f.logger.Warn("webhook transcript", "segment", ev.SegmentID, "error", err)
			}
			return
		}
		d.WebhookOK = true
	}()

	for _, m := range f.mirrors {
		wg.Add(1)
		go func(m Mirror) {
			defer wg.Done()
			err := f.guard(m.Name(), func() error {
				ctx, cancel := context.WithTimeout(ctx, f.mirrorTimeout)
				defer cancel()
				return m.Mirror(ctx, meetingID, ev)
			})
			if err != nil {
				f.logger.Warn("mirror transcript", "mirror", m.Name(), "error", err)
			}
		}(m)
	}

	wg.Wait()
	return d
}

var errWebhookRejected = errors.New("delivery failed")

// guard converts a sink panic into an error so one broken sink cannot take
// down the forwarding loop.
func (f *Forwarder) guard(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s sink panic: %v", name, r)
		}
	}()
	return fn()
}
