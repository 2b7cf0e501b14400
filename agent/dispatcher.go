package agent

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Dispatcher runs at most one Orchestrator per room.
type Dispatcher struct {
	newOrchestrator func(room string) *Orchestrator
	logger          *log.Logger

	mu       sync.Mutex
	running  map[string]*Orchestrator
	draining map[*Orchestrator]struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(logger *log.Logger, newOrchestrator func(room string) *Orchestrator) *Dispatcher {
	return &Dispatcher{
		newOrchestrator: newOrchestrator,
		logger:          logger,
		running:         make(map[string]*Orchestrator),
		draining:        make(map[*Orchestrator]struct{}),
	}
}

// Start launches a session for room unless one is already running. A
// session that is still draining after Stop does not block a new one. It
// reports whether a new session was started.
func (d *Dispatcher) Start(ctx context.Context, room string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.running[room]; ok {
		return false
	}
	o := d.newOrchestrator(room)
	d.running[room] = o

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.remove(room, o)

		if err := o.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("session failed", "room", room, "error", err)
		}
	}()
	return true
}

func (d *Dispatcher) remove(room string, o *Orchestrator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[room] == o {
		delete(d.running, room)
	}
	delete(d.draining, o)
}

// Stop asks the session for room to drain. It reports whether one was
// running.
func (d *Dispatcher) Stop(room string) bool {
	d.mu.Lock()
	o, ok := d.running[room]
	if ok {
		delete(d.running, room)
		d.draining[o] = struct{}{}
	}
	d.mu.Unlock()
	if ok {
		o.Stop()
	}
	return ok
}

func (d *Dispatcher) Status() []Status {
	d.mu.Lock()
	sessions := make([]*Orchestrator, 0, len(d.running)+len(d.draining))
	for _, o := range d.running {
		sessions = append(sessions, o)
	}
	for o := range d.draining {
		sessions = append(sessions, o)
	}
	d.mu.Unlock()

	statuses := make([]Status, 0, len(sessions))
	for _, o := range sessions {
		statuses = append(statuses, o.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Room < statuses[j].Room
	})
	return statuses
}

// Shutdown stops every session and waits up to timeout for them to close.
func (d *Dispatcher) Shutdown(timeout time.Duration) bool {
	d.mu.Lock()
	for room, o := range d.running {
		delete(d.running, room)
		d.draining[o] = struct{}{}
	}
	for o := range d.draining {
		o.Stop()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		d.logger.Warn("sessions still draining at shutdown", "timeout", timeout)
		return false
	}
}
