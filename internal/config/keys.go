package config

import (
	"fmt"
	"os"
	"strconv"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
)

type keySpec struct {
	key    string
	kind   valueKind
	env    string
	secret bool
	set    func(cfg *Config, v any)
	get    func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", kind: kindInt, env: "TRIAGE_SERVER_PORT",
		set: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		get: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", kind: kindString, env: "TRIAGE_OLLAMA_BASE_URL",
		set: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		get: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.classify_model", kind: kindString, env: "TRIAGE_OLLAMA_CLASSIFY_MODEL",
		set: func(cfg *Config, v any) { cfg.Ollama.ClassifyModel = v.(string) },
		get: func(cfg Config) any { return cfg.Ollama.ClassifyModel },
	},
	{
		key: "ollama.judge_model", kind: kindString, env: "TRIAGE_OLLAMA_JUDGE_MODEL",
		set: func(cfg *Config, v any) { cfg.Ollama.JudgeModel = v.(string) },
		get: func(cfg Config) any { return cfg.Ollama.JudgeModel },
	},
	{
		key: "storage.data_dir", kind: kindString, env: "TRIAGE_STORAGE_DATA_DIR",
		set: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		get: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "classify.exemplar_limit", kind: kindInt, env: "TRIAGE_CLASSIFY_EXEMPLAR_LIMIT",
		set: func(cfg *Config, v any) { cfg.Classify.ExemplarLimit = v.(int) },
		get: func(cfg Config) any { return cfg.Classify.ExemplarLimit },
	},
	{
		key: "classify.timeout_seconds", kind: kindInt, env: "TRIAGE_CLASSIFY_TIMEOUT_SECONDS",
		set: func(cfg *Config, v any) { cfg.Classify.TimeoutSeconds = v.(int) },
		get: func(cfg Config) any { return cfg.Classify.TimeoutSeconds },
	},
	{
		key: "verify.mode", kind: kindString, env: "TRIAGE_VERIFY_MODE",
		set: func(cfg *Config, v any) { cfg.Verify.Mode = v.(string) },
		get: func(cfg Config) any { return cfg.Verify.Mode },
	},
	{
		key: "verify.lenient_min_pass", kind: kindInt, env: "TRIAGE_VERIFY_LENIENT_MIN_PASS",
		set: func(cfg *Config, v any) { cfg.Verify.LenientMinPass = v.(int) },
		get: func(cfg Config) any { return cfg.Verify.LenientMinPass },
	},
	{
		key: "verify.judge_timeout_seconds", kind: kindInt, env: "TRIAGE_VERIFY_JUDGE_TIMEOUT_SECONDS",
		set: func(cfg *Config, v any) { cfg.Verify.JudgeTimeoutSeconds = v.(int) },
		get: func(cfg Config) any { return cfg.Verify.JudgeTimeoutSeconds },
	},
	{
		key: "limits.classify_per_minute", kind: kindInt, env: "TRIAGE_LIMITS_CLASSIFY_PER_MINUTE",
		set: func(cfg *Config, v any) { cfg.Limits.ClassifyPerMinute = v.(int) },
		get: func(cfg Config) any { return cfg.Limits.ClassifyPerMinute },
	},
	{
		key: "api.token", kind: kindString, env: "TRIAGE_API_TOKEN",
		secret: true,
		set:    func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		get:    func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", kind: kindString, env: "TRIAGE_LOG_LEVEL",
		set: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		get: func(cfg Config) any { return cfg.Log.Level },
	},
}

// fromBackend reads this key's value from b, reporting whether the
// backend had it.
func (s keySpec) fromBackend(b ConfigBackend) (any, bool, error) {
	if s.kind == kindInt {
		v, ok, err := b.Int(s.key)
		return v, ok, err
	}
	v, ok, err := b.String(s.key)
	return v, ok, err
}

// parse converts a raw string (from the environment or the CLI) into
// this key's Go type.
func (s keySpec) parse(raw string) (any, error) {
	if s.kind == kindInt {
		return strconv.Atoi(raw)
	}
	return raw, nil
}

// mergeBackend overlays file values onto cfg. Secrets never come from
// the file; they are env-only.
func mergeBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := s.fromBackend(b)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.set(cfg, v)
		}
	}
	return nil
}

// mergeEnv lays TRIAGE_* variables over cfg. An empty variable
// counts as unset; a malformed one is reported and skipped.
func mergeEnv(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
			continue
		}
		s.set(cfg, v)
	}
}
