package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/scribe/config"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(statsCmd)

	rootCmd.PersistentFlags().String("log-file", "scribe.log", "Also write logs to this file (empty to disable)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().String("livekit-url", "", "LiveKit server URL")
	rootCmd.PersistentFlags().
		String("livekit-api-key", "", "LiveKit API key")
	rootCmd.PersistentFlags().
		String("livekit-api-secret", "", "LiveKit API secret")
	rootCmd.PersistentFlags().String("backend-url", "", "Transcript backend URL")
	rootCmd.PersistentFlags().
		String("database-url", "", "Postgres URL for the transcript archive")
	rootCmd.PersistentFlags().
		String("discord-token", "", "Discord bot token for the chat mirror")
	rootCmd.PersistentFlags().
		String("discord-channel", "", "Discord channel ID for the chat mirror")
	rootCmd.PersistentFlags().Int("http-port", 8081, "HTTP server port")

	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag(
		config.KeyDeepgramAPIKey,
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		config.KeyLiveKitURL,
		rootCmd.PersistentFlags().Lookup("livekit-url"),
	)
	viper.BindPFlag(
		config.KeyLiveKitAPIKey,
		rootCmd.PersistentFlags().Lookup("livekit-api-key"),
	)
	viper.BindPFlag(
		config.KeyLiveKitAPISecret,
		rootCmd.PersistentFlags().Lookup("livekit-api-secret"),
	)
	viper.BindPFlag(
		config.KeyBackendURL,
		rootCmd.PersistentFlags().Lookup("backend-url"),
	)
	viper.BindPFlag(
		config.KeyDatabaseURL,
		rootCmd.PersistentFlags().Lookup("database-url"),
	)
	viper.BindPFlag(
		config.KeyDiscordToken,
		rootCmd.PersistentFlags().Lookup("discord-token"),
	)
	viper.BindPFlag(
		config.KeyDiscordChannel,
		rootCmd.PersistentFlags().Lookup("discord-channel"),
	)
	viper.BindPFlag(config.KeyHTTPPort, rootCmd.PersistentFlags().Lookup("http-port"))

	config.SetDefaults(viper.GetViper())
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
		}
	}

	// .env sits on top of config.yaml; real environment variables still win.
	if _, err := os.Stat(".env"); err == nil {
		viper.SetConfigFile(".env")
		viper.SetConfigType("env")
		if err := viper.MergeInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading .env: %s\n", err)
		}
	}

	logger = newLogger(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe transcribes LiveKit rooms in real time",
	Long: `Scribe joins LiveKit rooms, transcribes every speaking participant with
Deepgram and forwards interim and final transcripts to the room and to a
backend webhook.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *log.Logger {
	l := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if viper.GetBool("debug") {
		l.SetLevel(log.DebugLevel)
	}
	l.SetReportCaller(true)
	l.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))
	l.SetStyles(styles)

	return l
}

type loggers struct {
	main    *log.Logger
	room    *log.Logger
	hear    *log.Logger
	hook    *log.Logger
	data    *log.Logger
	chat    *log.Logger
	http    *log.Logger
	closeFn func() error
}

// createLoggers derives the component loggers. When a log file is
// configured every line is copied to it.
func createLoggers() (*loggers, error) {
	base := logger
	closeFn := func() error { return nil }

	if path := viper.GetString("log_file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		base = newLogger(io.MultiWriter(os.Stderr, f))
		closeFn = f.Close
	}

	return &loggers{
		main:    base.WithPrefix("main"),
		room:    base.WithPrefix("room"),
		hear:    base.WithPrefix("hear"),
		hook:    base.WithPrefix("hook"),
		data:    base.WithPrefix("data"),
		chat:    base.WithPrefix("chat"),
		http:    base.WithPrefix("http"),
		closeFn: closeFn,
	}, nil
}
