package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Embedding EmbeddingConfig `json:"embedding"`
	Daemon    DaemonConfig    `json:"daemon"`
}

type DatabaseConfig struct {
	Path string `json:"path" env:"MNEMO_DATABASE_PATH"`
}

type EmbeddingConfig struct {
	// Provider selects the backend: openai, voyage, local or mock.
	Provider     string `json:"provider" env:"MNEMO_EMBEDDING_PROVIDER"`
	OpenAIAPIKey string `json:"openai_api_key" env:"OPENAI_API_KEY"`
	VoyageAPIKey string `json:"voyage_api_key" env:"VOYAGE_API_KEY"`
	VoyageModel  string `json:"voyage_model" env:"MNEMO_EMBEDDING_VOYAGE_MODEL"`
	// Dimension is the width stored embeddings are reconciled to.
	Dimension int `json:"dimension" env:"MNEMO_EMBEDDING_DIMENSION"`
}

type DaemonConfig struct {
	PollSeconds      int      `json:"poll_seconds" env:"MNEMO_DAEMON_POLL_SECONDS"`
	StaleSeconds     int      `json:"stale_seconds" env:"MNEMO_DAEMON_STALE_SECONDS"`
	MaxConcurrent    int      `json:"max_concurrent" env:"MNEMO_DAEMON_MAX_CONCURRENT"`
	PIDFile          string   `json:"pid_file" env:"MNEMO_DAEMON_PID_FILE"`
	LogFile          string   `json:"log_file" env:"MNEMO_DAEMON_LOG_FILE"`
	TranscriptsDir   string   `json:"transcripts_dir" env:"MNEMO_DAEMON_TRANSCRIPTS_DIR"`
	ExtractorCommand []string `json:"extractor_command" env:"MNEMO_DAEMON_EXTRACTOR_COMMAND"`
	// DiscoverCron optionally gates stale-session discovery to a cron
	// schedule. Empty means discover on every poll tick.
	DiscoverCron string `json:"discover_cron" env:"MNEMO_DAEMON_DISCOVER_CRON"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "~/.mnemo/memory.db",
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Dimension: 1536,
		},
		Daemon: DaemonConfig{
			PollSeconds:    60,
			StaleSeconds:   300,
			MaxConcurrent:  2,
			PIDFile:        "~/.mnemo/daemon.pid",
			LogFile:        "~/.mnemo/daemon.log",
			TranscriptsDir: "~/.mnemo/transcripts",
		},
	}
}

// LoadConfig layers defaults, the JSON config file and environment
// overrides, in that order. A `.env` file next to the working directory is
// loaded into the environment first so it participates in the overrides.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config env: %w", err)
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// DefaultPath is the config file location unless overridden on the CLI.
func DefaultPath() string {
	return expandHome("~/.mnemo/config.json")
}

func (c *Config) DatabasePath() string {
	return expandHome(c.Database.Path)
}

func (c *Config) PIDFilePath() string {
	return expandHome(c.Daemon.PIDFile)
}

func (c *Config) LogFilePath() string {
	return expandHome(c.Daemon.LogFile)
}

func (c *Config) TranscriptsPath() string {
	return expandHome(c.Daemon.TranscriptsDir)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
