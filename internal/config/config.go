package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "PAYROLLGW_"

const (
	ResolverRules = "rules"
	ResolverLLM   = "llm"

	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"

	ExecutorHTTP   = "http"
	ExecutorDryRun = "dry-run"
)

type ResolverConfig struct {
	Backend        string            `yaml:"backend"`
	Provider       string            `yaml:"provider"`
	Model          string            `yaml:"model"`
	APIKey         string            `yaml:"api_key"`
	BaseURL        string            `yaml:"base_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	MaxTokens      int               `yaml:"max_tokens"`
	HistoryLimit   int               `yaml:"history_limit"`
}

type SessionConfig struct {
	Backend    string `yaml:"backend"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	RedisURL   string `yaml:"redis_url"`
	Persist    bool   `yaml:"persist"`
}

type ExecutorConfig struct {
	Mode           string `yaml:"mode"`
	PayrollAPIURL  string `yaml:"payroll_api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type BatchConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Schedule            string `yaml:"schedule"`
	Timezone            string `yaml:"timezone"`
	MisfireGraceSeconds int    `yaml:"misfire_grace_seconds"`
	SignerURL           string `yaml:"signer_url"`
	OperatorAddress     string `yaml:"operator_address"`
}

type Config struct {
	Host        string         `yaml:"host"`
	Port        string         `yaml:"port"`
	DataDir     string         `yaml:"data_dir"`
	APIKey      string         `yaml:"api_key"`
	LogLevel    string         `yaml:"log_level"`
	LogFormat   string         `yaml:"log_format"`
	CatalogFile string         `yaml:"catalog_file"`
	Resolver    ResolverConfig `yaml:"resolver"`
	Session     SessionConfig  `yaml:"session"`
	Executor    ExecutorConfig `yaml:"executor"`
	Batch       BatchConfig    `yaml:"batch"`
}

func Defaults() Config {
	return Config{
		Host:      "127.0.0.1",
		Port:      "8088",
		DataDir:   ".data",
		LogLevel:  "info",
		LogFormat: "json",
		Resolver: ResolverConfig{
			Backend:        ResolverRules,
			Provider:       "openai",
			TimeoutSeconds: 45,
			MaxTokens:      1024,
			HistoryLimit:   20,
		},
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			TTLSeconds: 3600,
		},
		Executor: ExecutorConfig{
			Mode:           ExecutorDryRun,
			PayrollAPIURL:  "http://127.0.0.1:8000",
			TimeoutSeconds: 30,
		},
		Batch: BatchConfig{
			Schedule:            "0 0 * * *",
			Timezone:            "UTC",
			MisfireGraceSeconds: 300,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by PAYROLLGW_CONFIG_FILE, and finally PAYROLLGW_* environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_FILE")); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Host, "HOST")
	setString(&cfg.Port, "PORT")
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.APIKey, "API_KEY")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.CatalogFile, "CATALOG_FILE")

	setString(&cfg.Resolver.Backend, "RESOLVER")
	setString(&cfg.Resolver.Provider, "LLM_PROVIDER")
	setString(&cfg.Resolver.Model, "LLM_MODEL")
	setString(&cfg.Resolver.APIKey, "LLM_API_KEY")
	setString(&cfg.Resolver.BaseURL, "LLM_BASE_URL")
	setInt(&cfg.Resolver.TimeoutSeconds, "RESOLVE_TIMEOUT_SECONDS")
	setInt(&cfg.Resolver.MaxTokens, "LLM_MAX_TOKENS")
	setInt(&cfg.Resolver.HistoryLimit, "HISTORY_LIMIT")

	setString(&cfg.Session.Backend, "SESSION_BACKEND")
	setInt(&cfg.Session.TTLSeconds, "SESSION_TTL_SECONDS")
	setString(&cfg.Session.RedisURL, "REDIS_URL")
	setBool(&cfg.Session.Persist, "SESSION_PERSIST")

	setString(&cfg.Executor.Mode, "EXECUTOR")
	setString(&cfg.Executor.PayrollAPIURL, "PAYROLL_API_URL")
	setInt(&cfg.Executor.TimeoutSeconds, "EXECUTOR_TIMEOUT_SECONDS")

	setBool(&cfg.Batch.Enabled, "BATCH_ENABLED")
	setString(&cfg.Batch.Schedule, "BATCH_SCHEDULE")
	setString(&cfg.Batch.Timezone, "BATCH_TIMEZONE")
	setInt(&cfg.Batch.MisfireGraceSeconds, "BATCH_MISFIRE_GRACE_SECONDS")
	setString(&cfg.Batch.SignerURL, "SIGNER_URL")
	setString(&cfg.Batch.OperatorAddress, "OPERATOR_ADDRESS")
}

func (c Config) Validate() error {
	switch c.Resolver.Backend {
	case ResolverRules, ResolverLLM:
	default:
		return fmt.Errorf("unknown resolver backend %q", c.Resolver.Backend)
	}
	switch c.Session.Backend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if strings.TrimSpace(c.Session.RedisURL) == "" {
			return fmt.Errorf("session backend redis requires %sREDIS_URL", envPrefix)
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	switch c.Executor.Mode {
	case ExecutorHTTP, ExecutorDryRun:
	default:
		return fmt.Errorf("unknown executor mode %q", c.Executor.Mode)
	}
	return nil
}

func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}

func (c Config) ResolveTimeout() time.Duration {
	return seconds(c.Resolver.TimeoutSeconds)
}

func (c Config) SessionTTL() time.Duration {
	return seconds(c.Session.TTLSeconds)
}

func (c Config) ExecutorTimeout() time.Duration {
	return seconds(c.Executor.TimeoutSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return
	}
	if n, err := strconv.Atoi(raw); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return
	}
	*dst = parseEnvBool(raw)
}

func parseEnvBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
