// Package http serves the dispatch endpoints: LiveKit webhooks start and
// stop sessions, and status and live transcript feeds are exposed for
// operators.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/webhook"

	"node.town/scribe/agent"
)

const (
	eventRoomStarted  = "room_started"
	eventRoomFinished = "room_finished"
)

// Sessions starts and stops per-room transcription sessions.
type Sessions interface {
	Start(ctx context.Context, room string) bool
	Stop(room string) bool
	Status() []agent.Status
}

type Server struct {
	router   chi.Router
	sessions Sessions
	keys     auth.KeyProvider
	logger   *log.Logger

	// sessionCtx outlives webhook requests.
	sessionCtx context.Context
}

func NewServer(
	sessionCtx context.Context,
	sessions Sessions,
	hub *Hub,
	keys auth.KeyProvider,
	logger *log.Logger,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		sessions:   sessions,
		keys:       keys,
		logger:     logger,
		sessionCtx: sessionCtx,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/rooms", s.handleRooms)
	s.router.Post("/livekit/webhook", s.handleWebhook)
	if hub != nil {
		s.router.Get("/live", hub.ServeHTTP)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http", "url", fmt.Sprintf("http://localhost%s", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.sessions.Status()); err != nil {
		s.logger.Error("encode room status", "error", err)
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := webhook.ReceiveWebhookEvent(r, s.keys)
	if err != nil {
		s.logger.Warn("rejected livekit webhook", "error", err)
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
		return
	}

	name := event.GetRoom().GetName()
	switch event.GetEvent() {
	case eventRoomStarted:
		if name == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		if s.sessions.Start(s.sessionCtx, name) {
			s.logger.Info("session started", "room", name)
		} else {
			s.logger.Debug("session already running", "room", name)
		}
	case eventRoomFinished:
		if s.sessions.Stop(name) {
			s.logger.Info("session stopping", "room", name)
		}
	default:
		s.logger.Debug("ignoring livekit webhook", "event", event.GetEvent(), "room", name)
	}
	w.WriteHeader(http.StatusOK)
}
