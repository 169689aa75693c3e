package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the task server and the voice client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         slog.Level

	// PublicOrigin is the origin tool URLs are resolved against. Empty means
	// "derive from the request" on the server and ServerURL on the client.
	PublicOrigin string

	DatabaseURL string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	AgentName        string
	AccessTokenTTL   time.Duration
	RoomRetention    time.Duration

	ServerURL           string
	InactivityTimeout   time.Duration
	MutedFlatFrames     int
	FrameRate           int
	HandoffDelay        time.Duration
	Wakeword            string
	WakewordEnabled     bool
	WakewordMaxEdits    int
	WakewordErrorBudget int
	STTURL              string
	MicCommand          string
	PlayerCommand       string
	FreshUser           bool
}

// Load reads .env files (when present) and environment variables, then applies
// defaults and validation.
func Load() (Config, error) {
	loadDotEnv(".env.local", ".env")

	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "taskmaster"),
		PublicOrigin:        strings.TrimRight(stringsTrimSpace("APP_PUBLIC_ORIGIN"), "/"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		LiveKitURL:          envOrDefault("LIVEKIT_URL", "ws://localhost:7880"),
		LiveKitAPIKey:       stringsTrimSpace("LIVEKIT_API_KEY"),
		LiveKitAPISecret:    stringsTrimSpace("LIVEKIT_API_SECRET"),
		AgentName:           envOrDefault("LIVEKIT_AGENT_NAME", "Drew-94d"),
		ServerURL:           strings.TrimRight(envOrDefault("TASKVOICE_SERVER_URL", "http://localhost:8080"), "/"),
		Wakeword:            envOrDefault("TASKVOICE_WAKEWORD", "master"),
		STTURL:              stringsTrimSpace("TASKVOICE_STT_URL"),
		MicCommand:          envOrDefault("TASKVOICE_MIC_COMMAND", "arecord -q -f S16_LE -r 16000 -c 1 -t raw"),
		PlayerCommand:       envOrDefault("TASKVOICE_PLAYER_COMMAND", "aplay -q"),
		ShutdownTimeout:     15 * time.Second,
		AccessTokenTTL:      15 * time.Minute,
		RoomRetention:       30 * time.Minute,
		InactivityTimeout:   3 * time.Minute,
		MutedFlatFrames:     60,
		FrameRate:           60,
		HandoffDelay:        300 * time.Millisecond,
		WakewordEnabled:     true,
		WakewordMaxEdits:    0,
		WakewordErrorBudget: 3,
		LogLevel:            slog.LevelInfo,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AccessTokenTTL, err = durationFromEnv("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.RoomRetention, err = durationFromEnv("APP_ROOM_RETENTION", cfg.RoomRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.InactivityTimeout, err = durationFromEnv("TASKVOICE_INACTIVITY_TIMEOUT", cfg.InactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HandoffDelay, err = durationFromEnv("TASKVOICE_HANDOFF_DELAY", cfg.HandoffDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.MutedFlatFrames, err = intFromEnv("TASKVOICE_MUTED_FLAT_FRAMES", cfg.MutedFlatFrames)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameRate, err = intFromEnv("TASKVOICE_FRAME_RATE", cfg.FrameRate)
	if err != nil {
		return Config{}, err
	}
	cfg.WakewordMaxEdits, err = intFromEnv("TASKVOICE_WAKEWORD_MAX_EDITS", cfg.WakewordMaxEdits)
	if err != nil {
		return Config{}, err
	}
	cfg.WakewordErrorBudget, err = intFromEnv("TASKVOICE_WAKEWORD_ERROR_BUDGET", cfg.WakewordErrorBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.WakewordEnabled, err = boolFromEnv("TASKVOICE_WAKEWORD_ENABLED", cfg.WakewordEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.FreshUser, err = boolFromEnv("TASKVOICE_FRESH_USER", cfg.FreshUser)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("LOG_LEVEL", cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}

	if cfg.InactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("TASKVOICE_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.AccessTokenTTL < time.Minute {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL must be at least 1m")
	}
	if cfg.MutedFlatFrames <= 0 {
		return Config{}, fmt.Errorf("TASKVOICE_MUTED_FLAT_FRAMES must be positive")
	}
	if cfg.FrameRate <= 0 || cfg.FrameRate > 240 {
		return Config{}, fmt.Errorf("TASKVOICE_FRAME_RATE must be in 1..240")
	}
	if cfg.WakewordMaxEdits < 0 {
		return Config{}, fmt.Errorf("TASKVOICE_WAKEWORD_MAX_EDITS must be >= 0")
	}
	if cfg.WakewordErrorBudget <= 0 {
		return Config{}, fmt.Errorf("TASKVOICE_WAKEWORD_ERROR_BUDGET must be positive")
	}
	if strings.TrimSpace(cfg.Wakeword) == "" {
		return Config{}, fmt.Errorf("TASKVOICE_WAKEWORD must not be empty")
	}

	return cfg, nil
}

// FrameInterval is the animation-frame cadence derived from FrameRate.
func (c Config) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 60
	}
	return time.Second / time.Duration(c.FrameRate)
}

// TokenSigningEnabled reports whether room access tokens can be minted.
func (c Config) TokenSigningEnabled() bool {
	return c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		// Existing environment wins over file values.
		_ = godotenv.Load(p)
	}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return lvl, nil
}
