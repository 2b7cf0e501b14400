package agent

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(quiet, func(name string) *Orchestrator {
		return New(Options{
			Room:       name,
			Connector:  &fakeConnector{room: newFakeRoom(name)},
			Recognizer: &fakeRecognizer{},
			Backend:    &fakeBackend{},
			Logger:     quiet,
			DrainGrace: time.Second,
		})
	})
}

func TestDispatcherOneSessionPerRoom(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	if !d.Start(ctx, "meeting-1") {
		t.Fatal("first start should launch a session")
	}
	if d.Start(ctx, "meeting-1") {
		t.Fatal("second start for the same room should be refused")
	}
	waitFor(t, "active session", func() bool {
		st := d.Status()
		return len(st) == 1 && st[0].State == "active"
	})

	if !d.Stop("meeting-1") {
		t.Fatal("stop should find the running session")
	}
	waitFor(t, "session removal", func() bool { return len(d.Status()) == 0 })

	if d.Stop("meeting-1") {
		t.Error("stop of a finished session should report false")
	}
	if !d.Start(ctx, "meeting-1") {
		t.Error("a finished room can be started again")
	}
	if !d.Shutdown(2 * time.Second) {
		t.Error("shutdown should drain every session")
	}
}

func TestDispatcherShutdownStopsAll(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	for _, name := range []string{"meeting-b", "meeting-a"} {
		d.Start(ctx, name)
	}
	waitFor(t, "two sessions", func() bool {
		st := d.Status()
		return len(st) == 2 && st[0].State == "active" && st[1].State == "active"
	})
	if st := d.Status(); st[0].Room != "meeting-a" {
		t.Errorf("status should be sorted by room, got %q first", st[0].Room)
	}

	if !d.Shutdown(2 * time.Second) {
		t.Fatal("shutdown timed out")
	}
	if n := len(d.Status()); n != 0 {
		t.Errorf("%d sessions left", n)
	}
}

func TestDispatcherRestartsWhileDraining(t *testing.T) {
	release := make(chan struct{})
	var (
		mu    sync.Mutex
		rooms []*fakeRoom
	)
	d := NewDispatcher(quiet, func(name string) *Orchestrator {
		r := newFakeRoom(name)
		mu.Lock()
		rooms = append(rooms, r)
		mu.Unlock()
		return New(Options{
			Room:       name,
			Connector:  &fakeConnector{room: r},
			Recognizer: &fakeRecognizer{release: release},
			Backend:    &fakeBackend{},
			Logger:     quiet,
			FlushGrace: 100 * time.Millisecond,
			DrainGrace: time.Second,
		})
	})
	ctx := context.Background()

	d.Start(ctx, "meeting-1")
	waitFor(t, "active session", func() bool {
		st := d.Status()
		return len(st) == 1 && st[0].State == "active"
	})
	mu.Lock()
	first := rooms[0]
	mu.Unlock()
	first.subscribe("alice", "TR_a", newFakeSource())
	waitFor(t, "pipeline", func() bool {
		st := d.Status()
		return len(st) == 1 && len(st[0].Pipelines) == 1
	})

	d.Stop("meeting-1")
	if !d.Start(ctx, "meeting-1") {
		t.Fatal("a room whose session is draining should start again")
	}
	if n := len(d.Status()); n != 2 {
		t.Errorf("want the draining and the new session listed, got %d", n)
	}
	if d.Start(ctx, "meeting-1") {
		t.Error("the restarted session should block further starts")
	}

	close(release)
	waitFor(t, "old session removal", func() bool { return len(d.Status()) == 1 })
	if !d.Stop("meeting-1") {
		t.Error("stop should reach the restarted session")
	}
	if !d.Shutdown(2 * time.Second) {
		t.Error("shutdown should drain every session")
	}
}
