package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/agent"
	"node.town/scribe/config"
	"node.town/scribe/db"
	"node.town/scribe/discord"
	"node.town/scribe/forward"
	"node.town/scribe/room"
	"node.town/scribe/stt"
	"node.town/scribe/webhook"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Transcribe a single room until it ends",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().String("room", "", "Room to join")
	agentCmd.MarkFlagRequired("room")
}

// components is everything a session needs apart from the room name.
type components struct {
	cfg     config.Config
	logs    *loggers
	mirrors []forward.Mirror
	closers []func() error
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logs.main.Warn("error during shutdown", "error", err)
		}
	}
}

func newComponents(ctx context.Context) (*components, error) {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, err := createLoggers()
	if err != nil {
		return nil, err
	}

	c := &components{cfg: cfg, logs: logs, closers: []func() error{logs.closeFn}}

	if cfg.DatabaseURL != "" {
		archive, err := db.Open(ctx, cfg.DatabaseURL, logs.data)
		if err != nil {
			c.close()
			return nil, err
		}
		c.mirrors = append(c.mirrors, archive)
		c.closers = append(c.closers, func() error { archive.Close(); return nil })
	}

	if cfg.DiscordToken != "" && cfg.DiscordChannel != "" {
		chat, err := discord.Open(cfg.DiscordToken, cfg.DiscordChannel, logs.chat)
		if err != nil {
			c.close()
			return nil, err
		}
		c.mirrors = append(c.mirrors, chat)
		c.closers = append(c.closers, chat.Close)
	}

	return c, nil
}

func (c *components) backend() *webhook.Client {
	return webhook.New(
		c.cfg.BackendURL,
		c.cfg.BackendAPIKey,
		c.logs.hook,
		webhook.WithTimeout(c.cfg.WebhookTimeout),
		webhook.WithEndTimeout(c.cfg.WebhookEndTimeout),
	)
}

func (c *components) orchestrator(roomName string, extra ...forward.Mirror) *agent.Orchestrator {
	return agent.New(agent.Options{
		Room: roomName,
		Connector: room.NewLiveKit(
			c.cfg.LiveKitURL,
			c.cfg.LiveKitAPIKey,
			c.cfg.LiveKitAPISecret,
			c.cfg.Identity,
			c.logs.room,
		),
		Recognizer: stt.NewDeepgramClient(
			c.cfg.DeepgramAPIKey,
			c.cfg.Model,
			c.cfg.Language,
			c.logs.hear,
		),
		Backend:          c.backend(),
		Mirrors:          append(append([]forward.Mirror(nil), c.mirrors...), extra...),
		Logger:           c.logs.main,
		ConnectAttempts:  c.cfg.ConnectAttempts,
		ConnectBackoff:   c.cfg.ConnectBackoff,
		FlushGrace:       c.cfg.FlushGrace,
		DrainGrace:       c.cfg.DrainGrace,
		BroadcastTimeout: c.cfg.BroadcastTimeout,
		WebhookTimeout:   c.cfg.WebhookTimeout,
	})
}

func runAgent(cmd *cobra.Command, args []string) error {
	roomName, _ := cmd.Flags().GetString("room")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	defer c.close()

	c.logs.main.Info("starting transcription agent", "room", roomName, "backend", c.cfg.BackendURL)

	if err := c.orchestrator(roomName).Run(ctx); err != nil {
		c.logs.main.Error("agent failed", "error", err)
		return err
	}
	c.logs.main.Info("agent stopped")
	return nil
}
