package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Relay struct {
	ListenAddress string        `env:"RELAY_LISTEN_ADDRESS" envDefault:":8080"`
	Path          string        `env:"RELAY_PATH" envDefault:"/realtime"`
	GracePeriod   time.Duration `env:"RELAY_GRACE_PERIOD" envDefault:"2s"`
	Greeting      string        `env:"RELAY_GREETING" envDefault:"Hi! What would you like to talk about?"`

	UpstreamURL        string `env:"UPSTREAM_URL" envDefault:"wss://api.openai.com/v1/realtime"`
	UpstreamAPIKey     string `env:"UPSTREAM_API_KEY,required,notEmpty"`
	Model              string `env:"UPSTREAM_MODEL" envDefault:"gpt-4o-realtime-preview"`
	Voice              string `env:"UPSTREAM_VOICE" envDefault:"alloy"`
	Instructions       string `env:"UPSTREAM_INSTRUCTIONS"`
	TranscriptionModel string `env:"UPSTREAM_TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
}

type Client struct {
	RelayURL       string        `env:"RELAY_URL" envDefault:"ws://localhost:8080/realtime"`
	CaptureBackend string        `env:"CAPTURE_BACKEND" envDefault:"miniaudio"`
	FrameDuration  time.Duration `env:"CAPTURE_FRAME_DURATION" envDefault:"40ms"`
	MaxQueued      int           `env:"PLAYBACK_MAX_QUEUED_CHUNKS" envDefault:"0"`
	DisableAudio   bool          `env:"DISABLE_AUDIO"`
}

const (
	CaptureBackendMiniaudio = "miniaudio"
	CaptureBackendPortaudio = "portaudio"
)

// LoadRelay reads the relay configuration from the environment, after
// loading envFiles into it.
func LoadRelay(envFiles ...string) (Relay, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return Relay{}, err
	}

	cfg, err := env.ParseAs[Relay]()
	if err != nil {
		return Relay{}, fmt.Errorf("invalid relay configuration: %w", err)
	}
	if cfg.GracePeriod <= 0 {
		return Relay{}, fmt.Errorf("invalid relay configuration: grace period must be positive, got %s", cfg.GracePeriod)
	}
	return cfg, nil
}

func LoadClient(envFiles ...string) (Client, error) {
	if err := loadEnvFiles(envFiles...); err != nil {
		return Client{}, err
	}

	cfg, err := env.ParseAs[Client]()
	if err != nil {
		return Client{}, fmt.Errorf("invalid client configuration: %w", err)
	}
	switch cfg.CaptureBackend {
	case CaptureBackendMiniaudio, CaptureBackendPortaudio:
	default:
		return Client{}, fmt.Errorf("invalid client configuration: unknown capture backend %q", cfg.CaptureBackend)
	}
	return cfg, nil
}

// loadEnvFiles loads .env style files without overriding variables that are
// already set. Missing files are skipped.
func loadEnvFiles(envFiles ...string) error {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
