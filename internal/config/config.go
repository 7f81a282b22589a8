package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Classify ClassifyConfig
	Verify   VerifyConfig
	Limits   LimitsConfig
	API      APIConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL       string
	ClassifyModel string
	JudgeModel    string
}

type StorageConfig struct {
	DataDir string
}

type ClassifyConfig struct {
	ExemplarLimit  int
	TimeoutSeconds int
}

// Timeout is the per-call classification deadline.
func (c ClassifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type VerifyConfig struct {
	Mode                string
	LenientMinPass      int
	JudgeTimeoutSeconds int
}

// JudgeTimeout is the per-call intent judge deadline.
func (v VerifyConfig) JudgeTimeout() time.Duration {
	return time.Duration(v.JudgeTimeoutSeconds) * time.Second
}

type LimitsConfig struct {
	ClassifyPerMinute int
}

// APIConfig holds the bearer token for the HTTP API. The token is a
// secret: it is only ever read from TRIAGE_API_TOKEN, never from the
// config file. Empty disables auth, which is the expected state for a
// localhost-only deployment.
type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			ClassifyModel: "phi3.5",
			JudgeModel:    "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Classify: ClassifyConfig{
			ExemplarLimit:  5,
			TimeoutSeconds: 15,
		},
		Verify: VerifyConfig{
			Mode:                "strict",
			LenientMinPass:      3,
			JudgeTimeoutSeconds: 20,
		},
		Limits: LimitsConfig{
			ClassifyPerMinute: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/triage/config.json, then applies TRIAGE_* environment
// overrides on top.
func Load() (Config, error) {
	return loadWith(openBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := mergeBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	mergeEnv(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama.base_url must not be empty")
	}
	if cfg.Ollama.ClassifyModel == "" || cfg.Ollama.JudgeModel == "" {
		return fmt.Errorf("ollama models must not be empty")
	}
	if cfg.Classify.ExemplarLimit < 0 {
		return fmt.Errorf("classify.exemplar_limit must not be negative")
	}
	if cfg.Classify.TimeoutSeconds <= 0 {
		return fmt.Errorf("classify.timeout_seconds must be positive")
	}
	if cfg.Verify.Mode != "strict" && cfg.Verify.Mode != "lenient" {
		return fmt.Errorf("verify.mode %q must be strict or lenient", cfg.Verify.Mode)
	}
	if cfg.Verify.LenientMinPass < 1 || cfg.Verify.LenientMinPass > 5 {
		return fmt.Errorf("verify.lenient_min_pass %d is out of range 1..5", cfg.Verify.LenientMinPass)
	}
	if cfg.Verify.JudgeTimeoutSeconds <= 0 {
		return fmt.Errorf("verify.judge_timeout_seconds must be positive")
	}
	if cfg.Limits.ClassifyPerMinute < 0 {
		return fmt.Errorf("limits.classify_per_minute must not be negative")
	}
	return nil
}
