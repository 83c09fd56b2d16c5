package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultDuration     = 3 * time.Minute
	DefaultTickInterval = time.Second
	DefaultSinkTimeout  = 10 * time.Second
	DefaultAPIAddr      = ":8080"
	DefaultSeedDays     = 30
)

type AppConfig struct {
	Writing WritingConfig `yaml:"writing"`
	Prompts PromptsConfig `yaml:"prompts"`
	Storage StorageConfig `yaml:"storage"`
	Sinks   SinksConfig   `yaml:"sinks"`
	Server  ServerConfig  `yaml:"server"`
	Mail    MailConfig    `yaml:"mail"`
}

type WritingConfig struct {
	Duration      time.Duration `yaml:"duration"`
	RequireSignIn bool          `yaml:"require_sign_in"`
	TickInterval  time.Duration `yaml:"tick_interval"`
}

type PromptsConfig struct {
	Source    string   `yaml:"source"`
	RemoteURL string   `yaml:"remote_url,omitempty"`
	Rotation  []string `yaml:"rotation,omitempty"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type SinksConfig struct {
	SubmissionURL   string        `yaml:"submission_url,omitempty"`
	NotificationURL string        `yaml:"notification_url,omitempty"`
	SubscribeURL    string        `yaml:"subscribe_url,omitempty"`
	Timeout         time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	DatabaseDSN string `yaml:"database_dsn,omitempty"`
	SeedDays    int    `yaml:"seed_days"`
}

type MailConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	From     string `yaml:"from"`
}

// Default returns a configuration that runs fully offline: rotation prompts,
// in-memory records and no remote sinks.
func Default() *AppConfig {
	cfg := &AppConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *AppConfig) ApplyDefaults() {
	if c.Writing.Duration == 0 {
		c.Writing.Duration = DefaultDuration
	}
	if c.Writing.TickInterval == 0 {
		c.Writing.TickInterval = DefaultTickInterval
	}
	if c.Prompts.Source == "" {
		c.Prompts.Source = "rotation"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Sinks.Timeout == 0 {
		c.Sinks.Timeout = DefaultSinkTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAPIAddr
	}
	if c.Server.SeedDays == 0 {
		c.Server.SeedDays = DefaultSeedDays
	}
	if c.Mail.From == "" {
		c.Mail.From = "OpenWrite <noreply@openwrite.app>"
	}
}

func (c *AppConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Writing.Duration <= 0 {
		return fmt.Errorf("config validation failed: writing.duration must be positive, got %s", c.Writing.Duration)
	}
	if c.Writing.TickInterval <= 0 {
		return fmt.Errorf("config validation failed: writing.tick_interval must be positive, got %s", c.Writing.TickInterval)
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "memory":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config validation failed: storage.path is required for backend '%s'", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("config validation failed: unknown storage backend '%s'", c.Storage.Backend)
	}

	for name, raw := range map[string]string{
		"sinks.submission_url":   c.Sinks.SubmissionURL,
		"sinks.notification_url": c.Sinks.NotificationURL,
		"sinks.subscribe_url":    c.Sinks.SubscribeURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("config validation failed: %s: %w", name, err)
		}
	}

	return validatePromptSource(c.Prompts)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in '%s'", raw)
	}
	return nil
}

// PromptSourceValidator checks the prompts section for the configured source.
type PromptSourceValidator func(cfg PromptsConfig) error

var (
	promptValidator PromptSourceValidator
	validatorMu     sync.RWMutex
)

func RegisterPromptSourceValidator(fn PromptSourceValidator) {
	validatorMu.Lock()
	defer validatorMu.Unlock()
	promptValidator = fn
}

func validatePromptSource(cfg PromptsConfig) error {
	fn := currentValidator()
	if fn == nil {
		switch cfg.Source {
		case "rotation":
			return nil
		case "remote":
			if cfg.RemoteURL == "" {
				return fmt.Errorf("config validation failed: prompts.remote_url is required for source 'remote'")
			}
			return validateHTTPURL(cfg.RemoteURL)
		default:
			return fmt.Errorf("config validation failed: unknown prompt source '%s'", cfg.Source)
		}
	}
	return fn(cfg)
}

func currentValidator() PromptSourceValidator {
	validatorMu.RLock()
	defer validatorMu.RUnlock()
	return promptValidator
}
