package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxareflect/internal/logging"
)

// Config stores runtime configuration for the coaching client.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Audio    AudioConfig    `yaml:"audio"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Playback PlaybackConfig `yaml:"playback"`
	Logging  logging.Config `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// Path is the YAML file that was applied, if any.
	Path string `yaml:"-"`
}

type ServerConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SessionConfig struct {
	Username   string `yaml:"username"`
	Language   string `yaml:"language"`
	StudyGroup string `yaml:"study_group"`
	Mic        bool   `yaml:"mic"`
	Avatar     bool   `yaml:"avatar"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
	LevelIntervalMS int    `yaml:"level_interval_ms"`
}

type JobsConfig struct {
	PollIntervalMS int `yaml:"poll_interval_ms"`
	MaxPolls       int `yaml:"max_polls"`
}

type PlaybackConfig struct {
	PlayerCommand string  `yaml:"player_command"`
	DefaultRate   float64 `yaml:"default_rate"`
	MinRate       float64 `yaml:"min_rate"`
	MaxRate       float64 `yaml:"max_rate"`
	Step          float64 `yaml:"step"`
	Output        string  `yaml:"output"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c AudioConfig) LevelInterval() time.Duration {
	return time.Duration(c.LevelIntervalMS) * time.Millisecond
}

func (c JobsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:   "http://localhost:5001/",
			TimeoutMS: 30000,
		},
		Session: SessionConfig{
			Language:   "en",
			StudyGroup: "1",
			Mic:        true,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
			LevelIntervalMS: 33,
		},
		Jobs: JobsConfig{
			PollIntervalMS: 1500,
			MaxPolls:       60,
		},
		Playback: PlaybackConfig{
			PlayerCommand: "ffplay",
			DefaultRate:   1.0,
			MinRate:       0.85,
			MaxRate:       1.35,
			Step:          0.05,
			Output:        "text",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: logging.FormatConsole,
		},
	}
}

// Load resolves defaults, then the YAML file, then VOXAREFLECT_* variables.
func Load() (Config, error) {
	cfg := Defaults()

	path, err := configPath()
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
		cfg.Path = path
	}

	applyEnv(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

func configPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("VOXAREFLECT_CONFIG")); explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine home directory")
	}
	return firstExisting(filepath.Join(home, ".config", "voxareflect", "config.yaml")), nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.BaseURL = envOrDefault("VOXAREFLECT_SERVER_URL", cfg.Server.BaseURL)
	cfg.Server.TimeoutMS = envOrDefaultInt("VOXAREFLECT_SERVER_TIMEOUT_MS", cfg.Server.TimeoutMS)

	cfg.Session.Username = envOrDefault("VOXAREFLECT_USERNAME", cfg.Session.Username)
	cfg.Session.Language = envOrDefault("VOXAREFLECT_LANGUAGE", cfg.Session.Language)
	cfg.Session.StudyGroup = envOrDefault("VOXAREFLECT_STUDY_GROUP", cfg.Session.StudyGroup)
	cfg.Session.Mic = envOrDefaultBool("VOXAREFLECT_MIC", cfg.Session.Mic)
	cfg.Session.Avatar = envOrDefaultBool("VOXAREFLECT_AVATAR", cfg.Session.Avatar)

	cfg.Audio.RecorderCommand = envOrDefault("VOXAREFLECT_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOXAREFLECT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("VOXAREFLECT_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("VOXAREFLECT_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("VOXAREFLECT_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("VOXAREFLECT_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)
	cfg.Audio.LevelIntervalMS = envOrDefaultInt("VOXAREFLECT_LEVEL_INTERVAL_MS", cfg.Audio.LevelIntervalMS)

	cfg.Jobs.PollIntervalMS = envOrDefaultInt("VOXAREFLECT_POLL_INTERVAL_MS", cfg.Jobs.PollIntervalMS)
	cfg.Jobs.MaxPolls = envOrDefaultInt("VOXAREFLECT_MAX_POLLS", cfg.Jobs.MaxPolls)

	cfg.Playback.PlayerCommand = envOrDefault("VOXAREFLECT_PLAYER_COMMAND", cfg.Playback.PlayerCommand)
	cfg.Playback.DefaultRate = envOrDefaultFloat("VOXAREFLECT_PLAYBACK_RATE", cfg.Playback.DefaultRate)
	cfg.Playback.Output = envOrDefault("VOXAREFLECT_VOICE_OUTPUT", cfg.Playback.Output)

	cfg.Logging.Level = envOrDefault("VOXAREFLECT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("VOXAREFLECT_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = envOrDefault("VOXAREFLECT_LOG_FILE", cfg.Logging.File)

	cfg.Metrics.Address = envOrDefault("VOXAREFLECT_METRICS_ADDR", cfg.Metrics.Address)
}

// sanitize replaces out-of-range values with defaults.
func sanitize(cfg *Config) {
	def := Defaults()

	if strings.TrimSpace(cfg.Server.BaseURL) == "" {
		cfg.Server.BaseURL = def.Server.BaseURL
	}
	if cfg.Server.TimeoutMS <= 0 {
		cfg.Server.TimeoutMS = def.Server.TimeoutMS
	}
	if cfg.Session.Language != "en" && cfg.Session.Language != "de" {
		cfg.Session.Language = def.Session.Language
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = def.Audio.Channels
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = def.Audio.ChunkSize
	}
	if cfg.Audio.LevelIntervalMS <= 0 {
		cfg.Audio.LevelIntervalMS = def.Audio.LevelIntervalMS
	}
	if cfg.Jobs.PollIntervalMS <= 0 {
		cfg.Jobs.PollIntervalMS = def.Jobs.PollIntervalMS
	}
	if cfg.Jobs.MaxPolls <= 0 {
		cfg.Jobs.MaxPolls = def.Jobs.MaxPolls
	}
	p := &cfg.Playback
	if p.MinRate <= 0 || p.MaxRate <= 0 || p.MinRate > p.MaxRate {
		p.MinRate, p.MaxRate = def.Playback.MinRate, def.Playback.MaxRate
	}
	if p.Step <= 0 {
		p.Step = def.Playback.Step
	}
	if p.DefaultRate < p.MinRate || p.DefaultRate > p.MaxRate {
		p.DefaultRate = def.Playback.DefaultRate
	}
	if p.Output != "text" && p.Output != "voice" {
		p.Output = def.Playback.Output
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		cfg.Logging.Level = def.Logging.Level
	}
	if f := cfg.Logging.Format; f != logging.FormatJSON && f != logging.FormatConsole {
		cfg.Logging.Format = def.Logging.Format
	}
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
