// Package config loads the fabric configuration: defaults, an optional YAML
// file, and TRIKERNEL_* environment overrides, in that precedence order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	DataDir        string
	ConversationID string

	WorkerCount       int
	PollInterval      time.Duration
	WorkerTimeout     time.Duration
	WorkQueueTimeout  time.Duration
	MainRunnerTimeout time.Duration
	ClaimTTL          time.Duration

	Runner        string // single_turn | tool_loop | pdca
	MaxSteps      int
	OllamaBaseURL string
	OllamaModel   string
	// OllamaEmbedModel enables the vector artifact index when non-empty;
	// empty keeps the keyword index.
	OllamaEmbedModel string
	MetricsAddr      string
	LogLevel         string
}

// Load resolves configuration. path may be empty; a missing explicit file is
// an error, a missing default file is not.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRIKERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("trikernel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.trikernel")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DataDir:           v.GetString("data_dir"),
		ConversationID:    v.GetString("conversation_id"),
		WorkerCount:       v.GetInt("worker_count"),
		PollInterval:      v.GetDuration("poll_interval"),
		WorkerTimeout:     v.GetDuration("worker_timeout"),
		WorkQueueTimeout:  v.GetDuration("work_queue_timeout"),
		MainRunnerTimeout: v.GetDuration("main_runner_timeout"),
		ClaimTTL:          v.GetDuration("claim_ttl"),
		Runner:            v.GetString("runner"),
		MaxSteps:          v.GetInt("max_steps"),
		OllamaBaseURL:     v.GetString("ollama.base_url"),
		OllamaModel:       v.GetString("ollama.model"),
		OllamaEmbedModel:  v.GetString("ollama.embed_model"),
		MetricsAddr:       v.GetString("metrics_addr"),
		LogLevel:          v.GetString("log_level"),
	}
	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker_count must be positive, got %d", cfg.WorkerCount)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".state")
	v.SetDefault("conversation_id", "default")
	v.SetDefault("worker_count", 2)
	v.SetDefault("poll_interval", "200ms")
	v.SetDefault("worker_timeout", "600s")
	v.SetDefault("work_queue_timeout", "1800s")
	v.SetDefault("main_runner_timeout", "600s")
	v.SetDefault("claim_ttl", "30s")
	v.SetDefault("runner", "single_turn")
	v.SetDefault("max_steps", 8)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "qwen2.5")
	v.SetDefault("ollama.embed_model", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}
