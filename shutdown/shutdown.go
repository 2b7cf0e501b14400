// Package shutdown coordinates the stop of a session's background tasks.
//
// A Coordinator pairs a set-once Signal, which tasks poll cooperatively, with
// a registry of running tasks that can be awaited under a deadline and, once
// the deadline passes, force-cancelled through their contexts.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrShutdown = errors.New("shutdown in progress")
	ErrFinished = errors.New("task already finished")
)

// Signal is a monotone flag. Once set it stays set.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set raises the signal. Calls after the first are no-ops.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Task is one registered unit of background work.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Coordinator.mu
	removed bool
}

// NewTask prepares a task whose context derives from parent. Run it with
// Coordinator.Start or hand it to Register and close it with Finish.
func NewTask(parent context.Context, name string) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (t *Task) Name() string { return t.name }

func (t *Task) Context() context.Context { return t.ctx }

// Cancel force-cancels the task's context.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Coordinator owns the shutdown signal and the registry of running tasks
// for a single session.
type Coordinator struct {
	signal *Signal

	mu    sync.Mutex
	tasks map[*Task]struct{}
}

func New() *Coordinator {
	return &Coordinator{
		signal: NewSignal(),
		tasks:  make(map[*Task]struct{}),
	}
}

func (c *Coordinator) Signal() *Signal { return c.signal }

func (c *Coordinator) SignalShutdown() { c.signal.Set() }

// Register adds t to the registry. A task that has finished or has been
// unregistered once is refused, as is any task after shutdown was signalled.
func (c *Coordinator) Register(t *Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signal.IsSet() {
		return ErrShutdown
	}
	if t.removed || t.finished() {
		return ErrFinished
	}
	c.tasks[t] = struct{}{}
	return nil
}

func (c *Coordinator) Unregister(t *Task) {
	c.mu.Lock()
	delete(c.tasks, t)
	t.removed = true
	c.mu.Unlock()
}

// Start registers t and runs fn on its own goroutine. The task is
// unregistered automatically when fn returns.
func (c *Coordinator) Start(t *Task, fn func(ctx context.Context)) error {
	if err := c.Register(t); err != nil {
		t.cancel()
		return err
	}

	go func() {
		defer close(t.done)
		defer c.Unregister(t)
		defer t.cancel()
		fn(t.ctx)
	}()
	return nil
}

// Go is NewTask followed by Start.
func (c *Coordinator) Go(
	parent context.Context,
	name string,
	fn func(ctx context.Context),
) (*Task, error) {
	t := NewTask(parent, name)
	if err := c.Start(t, fn); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Tasks returns a snapshot of the registry.
func (c *Coordinator) Tasks() []*Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]*Task, 0, len(c.tasks))
	for t := range c.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// AwaitAll waits for every registered task to finish. It reports false if
// timeout elapsed first; it never blocks for longer than timeout.
func (c *Coordinator) AwaitAll(timeout time.Duration) bool {
	return Await(c.Tasks(), timeout)
}

// CancelAll force-cancels every registered task and returns the ones that
// were still running.
func (c *Coordinator) CancelAll() []*Task {
	var pending []*Task
	for _, t := range c.Tasks() {
		if !t.finished() {
			t.Cancel()
			pending = append(pending, t)
		}
	}
	return pending
}

// Await gathers tasks under a single deadline.
func Await(tasks []*Task, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, t := range tasks {
		select {
		case <-t.done:
		case <-timer.C:
			return false
		}
	}
	return true
}
