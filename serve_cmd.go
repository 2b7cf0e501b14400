package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/livekit/protocol/auth"
	"github.com/spf13/cobra"

	"node.town/scribe/agent"
	scribehttp "node.town/scribe/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a session for every room announced by LiveKit webhooks",
	Long: `serve listens for LiveKit webhooks. A room_started event starts a
transcription session for that room and room_finished drains it. Status is
served at /rooms and a live transcript feed at /live.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	defer c.close()

	hub := scribehttp.NewHub(c.logs.http)
	defer hub.Close()

	dispatcher := agent.NewDispatcher(c.logs.main, func(room string) *agent.Orchestrator {
		return c.orchestrator(room, hub)
	})

	server := scribehttp.NewServer(
		ctx,
		dispatcher,
		hub,
		auth.NewSimpleKeyProvider(c.cfg.LiveKitAPIKey, c.cfg.LiveKitAPISecret),
		c.logs.http,
	)

	err = server.ListenAndServe(ctx, fmt.Sprintf(":%d", c.cfg.HTTPPort))

	c.logs.main.Info("draining sessions")
	dispatcher.Shutdown(c.cfg.DrainGrace + c.cfg.FlushGrace)
	return err
}
