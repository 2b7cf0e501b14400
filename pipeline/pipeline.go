// Package pipeline runs the transcription of a single participant track:
// audio frames go into a speech recognition session and the recognized text
// is forwarded as transcript events.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"node.town/scribe/forward"
	"node.town/scribe/room"
	"node.town/scribe/shutdown"
	"node.town/scribe/snd"
	"node.town/scribe/stt"
	"node.town/scribe/transcript"
)

// Forwarder delivers one event to every sink.
type Forwarder interface {
	Deliver(ctx context.Context, meetingID string, ev transcript.Event) forward.Delivery
}

type Config struct {
	MeetingID  string
	Track      room.Track
	Recognizer stt.Recognizer
	Forwarder  Forwarder
	Signal     *shutdown.Signal
	Logger     *log.Logger

	// NewEncoder defaults to snd.NewOggEncoder.
	NewEncoder snd.NewEncoderFunc
	// FlushGrace bounds how long teardown waits for trailing results.
	FlushGrace time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type Stats struct {
	Frames  int64 `json:"frames"`
	Interim int64 `json:"interim"`
	Final   int64 `json:"final"`
	Failed  int64 `json:"failed"`
}

type Pipeline struct {
	cfg     Config
	logger  *log.Logger
	started time.Time

	frames  atomic.Int64
	interim atomic.Int64
	final   atomic.Int64
	failed  atomic.Int64
}

func New(cfg Config) *Pipeline {
	if cfg.NewEncoder == nil {
		cfg.NewEncoder = snd.NewOggEncoder
	}
	if cfg.FlushGrace <= 0 {
		cfg.FlushGrace = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Signal == nil {
		cfg.Signal = shutdown.NewSignal()
	}
	return &Pipeline{
		cfg: cfg,
		logger: cfg.Logger.With(
			"participant", cfg.Track.Participant,
			"track", cfg.Track.SID,
		),
		started: cfg.Now(),
	}
}

func (p *Pipeline) Track() room.Track { return p.cfg.Track }

func (p *Pipeline) Started() time.Time { return p.started }

func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:  p.frames.Load(),
		Interim: p.interim.Load(),
		Final:   p.final.Load(),
		Failed:  p.failed.Load(),
	}
}

// resources is what a run has acquired so far. Teardown releases exactly
// these.
type resources struct {
	session       stt.Session
	encoder       snd.Encoder
	source        room.AudioSource
	forwardDone   chan struct{}
	cancelForward context.CancelFunc
	// drained is set once the audio loop returned normally.
	drained bool
}

// Run blocks until the track ends, the audio stream fails, the shutdown
// signal is raised or ctx is cancelled. Whatever the exit path, the
// forwarding loop is joined and everything acquired is released before it
// returns.
func (p *Pipeline) Run(ctx context.Context) {
	var res resources

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(
				"critical error in transcription",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	defer p.teardown(ctx, &res)

	if err := p.cfg.Recognizer.Ready(); err != nil {
		p.logger.Error("speech recognition unavailable", "error", err)
		return
	}

	p.logger.Info("starting transcription")

	var err error
	res.session, err = p.cfg.Recognizer.Start(ctx)
	if err != nil {
		p.logger.Error("start speech recognition", "error", err)
		return
	}

	res.encoder, err = p.cfg.NewEncoder(stt.Writer{Session: res.session})
	if err != nil {
		p.logger.Error("create audio encoder", "error", err)
		return
	}

	forwardCtx, cancelForward := context.WithCancel(ctx)
	res.cancelForward = cancelForward
	res.forwardDone = make(chan struct{})

	session := res.session
	done := res.forwardDone
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("transcription forwarding panic", "panic", r)
			}
		}()
		p.forwardTranscripts(forwardCtx, session)
	}()

	res.source = p.cfg.Track.Open()
	p.processAudio(ctx, res.source, res.encoder)
	res.drained = true
}

// teardown runs on every exit path of Run. A drained run flushes trailing
// results for up to FlushGrace; any other exit cancels forwarding at once.
func (p *Pipeline) teardown(ctx context.Context, res *resources) {
	if res.encoder != nil {
		if err := res.encoder.Close(); err != nil {
			p.logger.Warn("close audio encoder", "error", err)
		}
	}

	if res.forwardDone != nil {
		if res.drained && !p.cfg.Signal.IsSet() && ctx.Err() == nil {
			if err := res.session.Finish(); err != nil {
				p.logger.Warn("finish speech recognition", "error", err)
			}
		} else {
			res.cancelForward()
		}
		p.awaitForwarding(res.forwardDone, res.cancelForward)
		res.cancelForward()
	}

	if err := p.release(res.source, res.session); err != nil {
		p.logger.Error("error during cleanup", "error", err)
	}
	p.logger.Info("transcription cleanup completed", "stats", p.Stats())
}

// awaitForwarding gives trailing results FlushGrace to arrive, then
// force-cancels the forwarding loop.
func (p *Pipeline) awaitForwarding(done <-chan struct{}, cancel context.CancelFunc) {
	timer := time.NewTimer(p.cfg.FlushGrace)
	defer timer.Stop()

	select {
	case <-done:
		return
	case <-timer.C:
	}

	p.logger.Warn("transcription forwarding task timed out")
	cancel()

	timer.Reset(p.cfg.FlushGrace)
	select {
	case <-done:
	case <-timer.C:
		p.logger.Error("transcription forwarding ignored cancellation")
	}
}

func (p *Pipeline) processAudio(
	ctx context.Context,
	source room.AudioSource,
	encoder snd.Encoder,
) {
	frames := source.Frames()
	for {
		select {
		case <-p.cfg.Signal.Done():
			p.logger.Info("shutdown signal received, stopping audio processing")
			return
		case <-ctx.Done():
			return
		case pkt, ok := <-frames:
			if !ok {
				p.logger.Info("audio track ended")
				return
			}
			if p.cfg.Signal.IsSet() {
				p.logger.Info("shutdown signal received, stopping audio processing")
				return
			}
			if err := encoder.WriteRTP(pkt); err != nil {
				p.logger.Error("error pushing audio frame", "error", err)
				return
			}
			p.frames.Add(1)
		}
	}
}

func (p *Pipeline) forwardTranscripts(ctx context.Context, session stt.Session) {
	results := session.Results()
	for {
		select {
		case <-p.cfg.Signal.Done():
			p.logger.Info("shutdown signal received, stopping transcription forwarding")
			return
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			if p.cfg.Signal.IsSet() {
				p.logger.Info("shutdown signal received, stopping transcription forwarding")
				return
			}
			p.forward(ctx, r)
		}
	}
}

func (p *Pipeline) forward(ctx context.Context, r stt.Result) {
	switch r.Kind {
	case transcript.Interim:
		p.interim.Add(1)
		p.logger.Info("interim transcript", "text", r.Text)
	case transcript.Final:
		p.final.Add(1)
		p.logger.Info("final transcript", "text", r.Text)
	default:
		p.logger.Warn("dropping result of unknown kind", "kind", r.Kind)
		return
	}

	ev := transcript.NewEvent(
		r.Kind,
		r.Text,
		p.cfg.Track.Participant,
		p.cfg.Track.SID,
		p.cfg.Now(),
	)

	d := p.cfg.Forwarder.Deliver(ctx, p.cfg.MeetingID, ev)
	if !d.OK() {
		p.failed.Add(1)
		p.logger.Warn(
			"transcript not fully delivered",
			"segment", ev.SegmentID,
			"broadcast", d.BroadcastOK,
			"webhook", d.WebhookOK,
		)
	}
}

// release closes the audio source and the recognition session. Every step
// runs even if an earlier one fails.
func (p *Pipeline) release(source room.AudioSource, session stt.Session) error {
	var err error
	if source != nil {
		if cerr := source.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close audio source: %w", cerr))
		}
	}
	if session != nil {
		if cerr := session.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close recognition session: %w", cerr))
		}
	}
	return err
}
