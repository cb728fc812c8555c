package config

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Gmail       GmailConfig       `yaml:"gmail" mapstructure:"gmail"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" mapstructure:"rate_limit"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Vault       VaultConfig       `yaml:"vault" mapstructure:"vault"`
	Contacts    ContactsConfig    `yaml:"contacts" mapstructure:"contacts"`
	Credentials CredentialsConfig `yaml:"credentials" mapstructure:"credentials"`
	Jobs        JobsConfig        `yaml:"jobs" mapstructure:"jobs"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GmailConfig holds OAuth client credentials and fetch tuning.
type GmailConfig struct {
	ClientID         string        `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret     string        `yaml:"client_secret" mapstructure:"client_secret"`
	PageSize         int64         `yaml:"page_size" mapstructure:"page_size"`
	FetchChunk       int           `yaml:"fetch_chunk" mapstructure:"fetch_chunk"`
	PagePause        time.Duration `yaml:"page_pause" mapstructure:"page_pause"`
	FetchConcurrency int           `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency"`
	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// RateLimitConfig configures the shared Gmail token bucket.
type RateLimitConfig struct {
	Backend     string        `yaml:"backend" mapstructure:"backend"`
	Key         string        `yaml:"key" mapstructure:"key"`
	MaxTokens   float64       `yaml:"max_tokens" mapstructure:"max_tokens"`
	RefillRate  float64       `yaml:"refill_rate" mapstructure:"refill_rate"`
	WaitTimeout time.Duration `yaml:"wait_timeout" mapstructure:"wait_timeout"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string        `yaml:"key" mapstructure:"key"`
	Model        string        `yaml:"model" mapstructure:"model"`
	MaxBatchSize int           `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	MaxTokens    int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	PollInitial  time.Duration `yaml:"poll_initial" mapstructure:"poll_initial"`
	PollCap      time.Duration `yaml:"poll_cap" mapstructure:"poll_cap"`
	PollAttempts int           `yaml:"poll_attempts" mapstructure:"poll_attempts"`
	PollTimeout  time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`
	// Primer warms the prompt cache with one synchronous call before each batch.
	Primer bool `yaml:"primer" mapstructure:"primer"`
}

// VaultConfig locates the Obsidian vault.
type VaultConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ContactsConfig selects the contact sources used by the contacts phase.
type ContactsConfig struct {
	PeopleAPI bool `yaml:"people_api" mapstructure:"people_api"`
}

// CredentialsConfig holds the key used to encrypt stored OAuth tokens.
type CredentialsConfig struct {
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// JobsConfig configures the job executor.
type JobsConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MaxRetries      int `yaml:"max_retries" mapstructure:"max_retries"`
	NoteCommitEvery int `yaml:"note_commit_every" mapstructure:"note_commit_every"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty file looks
// for an optional ./config.yaml; a named file must exist.
func Load(file string) (*Config, error) {
	v := viper.New()

	// Config file
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("GMAILVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default to empty so AutomaticEnv still binds them.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("vault.path", "")
	v.SetDefault("credentials.encryption_key", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("gmail.page_size", 500)
	v.SetDefault("gmail.fetch_chunk", 50)
	v.SetDefault("gmail.page_pause", "2s")
	v.SetDefault("gmail.fetch_concurrency", 10)
	v.SetDefault("gmail.max_retries", 5)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.key", "gmail")
	v.SetDefault("rate_limit.max_tokens", 100)
	v.SetDefault("rate_limit.refill_rate", 3)
	v.SetDefault("rate_limit.wait_timeout", "60s")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_batch_size", 100)
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.poll_initial", "10s")
	v.SetDefault("anthropic.poll_cap", "60s")
	v.SetDefault("anthropic.poll_attempts", 60)
	v.SetDefault("anthropic.poll_timeout", "30m")
	v.SetDefault("anthropic.primer", false)
	v.SetDefault("contacts.people_api", false)
	v.SetDefault("jobs.max_concurrent", 2)
	v.SetDefault("jobs.max_retries", 2)
	v.SetDefault("jobs.note_commit_every", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings required by a command mode: "migrate",
// "scan" or "serve". Every problem found is reported in one error.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate":
	case "scan", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" {
			errs = append(errs, "gmail.client_id and gmail.client_secret are required")
		}
		if c.Vault.Path == "" {
			errs = append(errs, "vault.path is required")
		}
		if c.Anthropic.MaxBatchSize < 1 || c.Anthropic.MaxBatchSize > 100 {
			errs = append(errs, "anthropic.max_batch_size must be between 1 and 100")
		}
		if c.Jobs.MaxConcurrent < 1 {
			errs = append(errs, "jobs.max_concurrent must be > 0")
		}
		// Each fetch chunk waits for one token per message.
		if c.RateLimit.MaxTokens > 0 && float64(c.Gmail.FetchChunk) > c.RateLimit.MaxTokens {
			errs = append(errs, fmt.Sprintf("gmail.fetch_chunk %d exceeds rate_limit.max_tokens %v", c.Gmail.FetchChunk, c.RateLimit.MaxTokens))
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not postgres or sqlite", c.Store.Driver))
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "postgres":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "rate_limit.backend postgres requires store.driver postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("rate_limit.backend %q is not memory or postgres", c.RateLimit.Backend))
	}
	if c.RateLimit.MaxTokens <= 0 || c.RateLimit.RefillRate <= 0 {
		errs = append(errs, "rate_limit.max_tokens and rate_limit.refill_rate must be > 0")
	}

	if c.Vault.Path != "" && !filepath.IsAbs(c.Vault.Path) {
		errs = append(errs, fmt.Sprintf("vault.path must be absolute, got %q", c.Vault.Path))
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if c.Credentials.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Credentials.EncryptionKey)
		switch {
		case err != nil:
			errs = append(errs, "credentials.encryption_key must be base64")
		case len(key) != 32:
			errs = append(errs, fmt.Sprintf("credentials.encryption_key must decode to 32 bytes, got %d", len(key)))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
