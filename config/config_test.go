package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(newViper(nil))

	if cfg.BackendURL != "http://localhost:8978" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.BackendAPIKey != "your-webhook-api-key" {
		t.Errorf("BackendAPIKey = %q", cfg.BackendAPIKey)
	}
	if cfg.ConnectAttempts != 3 {
		t.Errorf("ConnectAttempts = %d", cfg.ConnectAttempts)
	}
	if cfg.DrainGrace != 10*time.Second {
		t.Errorf("DrainGrace = %v", cfg.DrainGrace)
	}
	if cfg.WebhookTimeout != 5*time.Second || cfg.WebhookEndTimeout != 10*time.Second {
		t.Errorf("webhook timeouts = %v, %v", cfg.WebhookTimeout, cfg.WebhookEndTimeout)
	}
}

func TestLoadTrimsBackendURL(t *testing.T) {
	cfg := Load(newViper(map[string]any{KeyBackendURL: "https://api.example.com/"}))
	if cfg.BackendURL != "https://api.example.com" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		missing []string
	}{
		{
			name: "complete",
			values: map[string]any{
				KeyDeepgramAPIKey:   "dg",
				KeyLiveKitURL:       "wss://lk",
				KeyLiveKitAPIKey:    "key",
				KeyLiveKitAPISecret: "secret",
			},
		},
		{
			name:    "empty",
			missing: []string{"LIVEKIT_URL", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "DEEPGRAM_API_KEY"},
		},
		{
			name: "missing deepgram",
			values: map[string]any{
				KeyLiveKitURL:       "wss://lk",
				KeyLiveKitAPIKey:    "key",
				KeyLiveKitAPISecret: "secret",
			},
			missing: []string{"DEEPGRAM_API_KEY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Load(newViper(tt.values)).Validate()
			if len(tt.missing) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrMissing) {
				t.Fatalf("Validate() = %v, want ErrMissing", err)
			}
			for _, key := range tt.missing {
				if !strings.Contains(err.Error(), key) {
					t.Errorf("error %q does not name %s", err, key)
				}
			}
		})
	}
}

func TestMask(t *testing.T) {
	if got := Mask("abcdefghijkl"); got != "abcdefgh..." {
		t.Errorf("Mask = %q", got)
	}
	if got := Mask("short"); got != "***" {
		t.Errorf("Mask(short) = %q", got)
	}
}
