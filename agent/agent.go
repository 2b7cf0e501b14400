// Package agent drives one transcription session: it joins the room, starts
// a pipeline for every subscribed audio track and drains them all when the
// session ends.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"node.town/scribe/forward"
	"node.town/scribe/pipeline"
	"node.town/scribe/room"
	"node.town/scribe/shutdown"
	"node.town/scribe/snd"
	"node.town/scribe/stt"
	"node.town/scribe/transcript"
)

var ErrConnect = errors.New("could not connect to room")

type State int

const (
	Connecting State = iota
	Active
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Backend is the durable side of the session.
type Backend interface {
	forward.TranscriptSink
	NotifySessionStarted(ctx context.Context, meetingID string) bool
}

type Options struct {
	Room       string
	Connector  room.Connector
	Recognizer stt.Recognizer
	Backend    Backend
	Mirrors    []forward.Mirror
	Logger     *log.Logger

	NewEncoder snd.NewEncoderFunc

	ConnectAttempts  int
	ConnectBackoff   time.Duration
	FlushGrace       time.Duration
	DrainGrace       time.Duration
	BroadcastTimeout time.Duration
	WebhookTimeout   time.Duration

	// Sleep waits between connection attempts. Defaults to a timer that
	// gives up when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = 3
	}
	if o.ConnectBackoff <= 0 {
		o.ConnectBackoff = 2 * time.Second
	}
	if o.FlushGrace <= 0 {
		o.FlushGrace = 5 * time.Second
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 10 * time.Second
	}
	if o.BroadcastTimeout <= 0 {
		o.BroadcastTimeout = 3 * time.Second
	}
	if o.WebhookTimeout <= 0 {
		o.WebhookTimeout = 5 * time.Second
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Orchestrator struct {
	opts   Options
	logger *log.Logger
	coord  *shutdown.Coordinator

	mu        sync.Mutex
	state     State
	meetingID string
	pipelines map[string]*pipeline.Pipeline
}

func New(opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		opts:      opts,
		logger:    opts.Logger.With("room", opts.Room),
		coord:     shutdown.New(),
		state:     Connecting,
		meetingID: transcript.MeetingID(opts.Room),
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("session state", "from", prev, "to", s)
}

// Stop asks a running session to drain. It does not wait.
func (o *Orchestrator) Stop() {
	o.coord.SignalShutdown()
}

// Run connects, serves the room until it disconnects, ctx is cancelled or
// Stop is called, and then drains every pipeline. Only a failure to connect
// is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(Connecting)

	r, err := o.connect(ctx)
	if err != nil {
		o.setState(Closed)
		return err
	}

	o.mu.Lock()
	o.meetingID = transcript.MeetingID(r.Name())
	o.mu.Unlock()

	o.logger.Info("connected to room", "meeting", o.meetingID)

	if !o.opts.Backend.NotifySessionStarted(ctx, o.meetingID) {
		o.logger.Warn("backend was not told the session started")
	}

	fwd := forward.New(
		room.NewPublisher(r),
		o.opts.Backend,
		o.logger,
		forward.WithTimeouts(o.opts.BroadcastTimeout, o.opts.WebhookTimeout),
		forward.WithMirrors(o.opts.Mirrors...),
	)

	o.setState(Active)
	// Pipelines outlive ctx so they can stop cooperatively during drain.
	o.dispatch(ctx, context.WithoutCancel(ctx), r, fwd)

	o.coord.SignalShutdown()
	o.setState(Draining)
	o.drain()
	r.Disconnect()

	o.setState(Closed)
	o.logger.Info("session closed")
	return nil
}

func (o *Orchestrator) connect(ctx context.Context) (room.Room, error) {
	for attempt := 1; ; attempt++ {
		r, err := o.opts.Connector.Connect(ctx, o.opts.Room)
		if err == nil {
			return r, nil
		}
		o.logger.Error(
			"connection attempt failed",
			"attempt", attempt,
			"of", o.opts.ConnectAttempts,
			"error", err,
		)
		if attempt >= o.opts.ConnectAttempts {
			return nil, fmt.Errorf("%w %q after %d attempts: %w",
				ErrConnect, o.opts.Room, attempt, err)
		}

		delay := o.opts.ConnectBackoff << (attempt - 1)
		o.logger.Info("retrying connection", "in", delay)
		if err := o.opts.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrConnect, o.opts.Room, err)
		}
	}
}

// dispatch consumes room events until the room disconnects, ctx is done or
// shutdown is signalled.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	taskCtx context.Context,
	r room.Room,
	fwd pipeline.Forwarder,
) {
	events := r.Events()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("session cancelled")
			return
		case <-o.coord.Signal().Done():
			o.logger.Info("session stop requested")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if o.handle(taskCtx, ev, fwd) {
				return
			}
		}
	}
}

// handle reacts to a single room event and reports whether the session is
// over.
func (o *Orchestrator) handle(ctx context.Context, ev room.Event, fwd pipeline.Forwarder) bool {
	switch ev.Kind {
	case room.TrackSubscribed:
		if !ev.Track.Audio || ev.Track.Open == nil {
			o.logger.Debug("ignoring non-audio track",
				"participant", ev.Track.Participant, "track", ev.Track.SID)
			return false
		}
		o.startPipeline(ctx, ev.Track, fwd)

	case room.TrackUnsubscribed:
		o.logger.Info("track unsubscribed",
			"participant", ev.Track.Participant, "track", ev.Track.SID)

	case room.ParticipantDisconnected:
		o.logger.Info("participant disconnected", "participant", ev.Participant)

	case room.Disconnected:
		o.logger.Info("room disconnected, initiating cleanup")
		return true

	default:
		o.logger.Warn("unknown room event", "kind", ev.Kind)
	}
	return false
}

func pipelineKey(t room.Track) string {
	return t.Participant + "/" + t.SID
}

func (o *Orchestrator) startPipeline(ctx context.Context, track room.Track, fwd pipeline.Forwarder) {
	key := pipelineKey(track)

	o.mu.Lock()
	if _, ok := o.pipelines[key]; ok {
		o.mu.Unlock()
		o.logger.Warn("track already transcribed", "participant", track.Participant, "track", track.SID)
		return
	}
	p := pipeline.New(pipeline.Config{
		MeetingID:  o.meetingID,
		Track:      track,
		Recognizer: o.opts.Recognizer,
		Forwarder:  fwd,
		Signal:     o.coord.Signal(),
		Logger:     o.logger,
		NewEncoder: o.opts.NewEncoder,
		FlushGrace: o.opts.FlushGrace,
	})
	o.pipelines[key] = p
	o.mu.Unlock()

	_, err := o.coord.Go(ctx, key, func(ctx context.Context) {
		defer o.forget(key, p)
		p.Run(ctx)
	})
	if err != nil {
		o.logger.Warn("not starting transcription", "participant", track.Participant, "error", err)
		o.forget(key, p)
		return
	}
	o.logger.Info("audio track subscribed", "participant", track.Participant, "track", track.SID)
}

func (o *Orchestrator) forget(key string, p *pipeline.Pipeline) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pipelines[key] == p {
		delete(o.pipelines, key)
	}
}

func (o *Orchestrator) drain() {
	n := o.coord.Len()
	if n == 0 {
		return
	}
	o.logger.Info("stopping active transcription tasks", "count", n)

	// The whole drain fits in DrainGrace; the last tenth is reserved for
	// cancelled pipelines to release their resources.
	deadline := time.Now().Add(o.opts.DrainGrace)
	if o.coord.AwaitAll(o.opts.DrainGrace - o.opts.DrainGrace/10) {
		return
	}
	pending := o.coord.CancelAll()
	o.logger.Warn(
		"some transcription tasks did not complete within timeout",
		"pending", len(pending),
		"grace", o.opts.DrainGrace,
	)
	if !o.coord.AwaitAll(time.Until(deadline)) {
		o.logger.Error("transcription tasks ignored cancellation", "pending", o.coord.Len())
	}
}

// ActivePipelines returns the number of running pipelines.
func (o *Orchestrator) ActivePipelines() int {
	return o.coord.Len()
}

type PipelineStatus struct {
	Participant string         `json:"participant"`
	TrackSID    string         `json:"trackSid"`
	Started     time.Time      `json:"started"`
	Stats       pipeline.Stats `json:"stats"`
}

type Status struct {
	Room      string           `json:"room"`
	MeetingID string           `json:"meetingId"`
	State     string           `json:"state"`
	Pipelines []PipelineStatus `json:"pipelines"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Room:      o.opts.Room,
		MeetingID: o.meetingID,
		State:     o.state.String(),
		Pipelines: make([]PipelineStatus, 0, len(o.pipelines)),
	}
	for _, p := range o.pipelines {
		t := p.Track()
		st.Pipelines = append(st.Pipelines, PipelineStatus{
			Participant: t.Participant,
			TrackSID:    t.SID,
			Started:     p.Started(),
			Stats:       p.Stats(),
		})
	}
	sort.Slice(st.Pipelines, func(i, j int) bool {
		a, b := st.Pipelines[i], st.Pipelines[j]
		if a.Participant != b.Participant {
			return a.Participant < b.Participant
		}
		return a.TrackSID < b.TrackSID
	})
	return st
}
