package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissing = errors.New("missing required configuration")

// Keys double as environment variable names once upper-cased by viper.
const (
	KeyDeepgramAPIKey    = "deepgram_api_key"
	KeyLiveKitURL        = "livekit_url"
	KeyLiveKitAPIKey     = "livekit_api_key"
	KeyLiveKitAPISecret  = "livekit_api_secret"
	KeyBackendURL        = "backend_url"
	KeyBackendAPIKey     = "livekit_webhook_api_key"
	KeyIdentity          = "agent_identity"
	KeyModel             = "deepgram_model"
	KeyLanguage          = "deepgram_language"
	KeyDatabaseURL       = "database_url"
	KeyDiscordToken      = "discord_token"
	KeyDiscordChannel    = "discord_channel"
	KeyHTTPPort          = "http_port"
	KeyConnectAttempts   = "connect_attempts"
	KeyConnectBackoff    = "connect_backoff"
	KeyFlushGrace        = "flush_grace"
	KeyDrainGrace        = "drain_grace"
	KeyBroadcastTimeout  = "broadcast_timeout"
	KeyWebhookTimeout    = "webhook_timeout"
	KeyWebhookEndTimeout = "webhook_end_timeout"
)

type Config struct {
	DeepgramAPIKey   string
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	BackendURL    string
	BackendAPIKey string

	Identity string
	Model    string
	Language string

	DatabaseURL    string
	DiscordToken   string
	DiscordChannel string
	HTTPPort       int

	ConnectAttempts   int
	ConnectBackoff    time.Duration
	FlushGrace        time.Duration
	DrainGrace        time.Duration
	BroadcastTimeout  time.Duration
	WebhookTimeout    time.Duration
	WebhookEndTimeout time.Duration
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBackendURL, "http://localhost:8978")
	v.SetDefault(KeyBackendAPIKey, "your-webhook-api-key")
	v.SetDefault(KeyIdentity, "transcription-agent")
	v.SetDefault(KeyModel, "nova-2")
	v.SetDefault(KeyLanguage, "en-US")
	v.SetDefault(KeyHTTPPort, 8081)
	v.SetDefault(KeyConnectAttempts, 3)
	v.SetDefault(KeyConnectBackoff, 2*time.Second)
	v.SetDefault(KeyFlushGrace, 5*time.Second)
	v.SetDefault(KeyDrainGrace, 10*time.Second)
	v.SetDefault(KeyBroadcastTimeout, 3*time.Second)
	v.SetDefault(KeyWebhookTimeout, 5*time.Second)
	v.SetDefault(KeyWebhookEndTimeout, 10*time.Second)
}

func Load(v *viper.Viper) Config {
	return Config{
		DeepgramAPIKey:    v.GetString(KeyDeepgramAPIKey),
		LiveKitURL:        v.GetString(KeyLiveKitURL),
		LiveKitAPIKey:     v.GetString(KeyLiveKitAPIKey),
		LiveKitAPISecret:  v.GetString(KeyLiveKitAPISecret),
		BackendURL:        strings.TrimRight(v.GetString(KeyBackendURL), "/"),
		BackendAPIKey:     v.GetString(KeyBackendAPIKey),
		Identity:          v.GetString(KeyIdentity),
		Model:             v.GetString(KeyModel),
		Language:          v.GetString(KeyLanguage),
		DatabaseURL:       v.GetString(KeyDatabaseURL),
		DiscordToken:      v.GetString(KeyDiscordToken),
		DiscordChannel:    v.GetString(KeyDiscordChannel),
		HTTPPort:          v.GetInt(KeyHTTPPort),
		ConnectAttempts:   v.GetInt(KeyConnectAttempts),
		ConnectBackoff:    v.GetDuration(KeyConnectBackoff),
		FlushGrace:        v.GetDuration(KeyFlushGrace),
		DrainGrace:        v.GetDuration(KeyDrainGrace),
		BroadcastTimeout:  v.GetDuration(KeyBroadcastTimeout),
		WebhookTimeout:    v.GetDuration(KeyWebhookTimeout),
		WebhookEndTimeout: v.GetDuration(KeyWebhookEndTimeout),
	}
}

// Setting is one required value as shown by the check command.
type Setting struct {
	Env         string
	Description string
	Value       string
}

func (c Config) Required() []Setting {
	return []Setting{
		{"LIVEKIT_URL", "LiveKit server URL", c.LiveKitURL},
		{"LIVEKIT_API_KEY", "LiveKit API key", c.LiveKitAPIKey},
		{"LIVEKIT_API_SECRET", "LiveKit API secret", c.LiveKitAPISecret},
		{"DEEPGRAM_API_KEY", "Deepgram API key", c.DeepgramAPIKey},
	}
}

// Validate reports every required setting that is empty.
func (c Config) Validate() error {
	var missing []string
	for _, s := range c.Required() {
		if s.Value == "" {
			missing = append(missing, s.Env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Mask hides all but the first 8 characters of a secret.
func Mask(value string) string {
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}
