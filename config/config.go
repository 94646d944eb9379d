// Package config loads the aegisd and mcp-gateway configuration from a TOML
// file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hupe1980/aegis/logging"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Environment variables that override file values.
const (
	EnvLLMProvider   = "AEGIS_LLM_PROVIDER"
	EnvLLMAPIKey     = "AEGIS_LLM_API_KEY"
	EnvLogLevel      = "AEGIS_LOG_LEVEL"
	EnvStorefrontURL = "AEGIS_STOREFRONT_URL"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Gateway GatewayConfig `toml:"gateway"`
	LLM     LLMConfig     `toml:"llm"`
	Runtime RuntimeConfig `toml:"runtime"`
	Store   StoreConfig   `toml:"store"`
	Log     LogConfig     `toml:"log"`
	Path    string        `toml:"-"`
}

type ServerConfig struct {
	// Addr is the aegisd HTTP API address. Empty disables the API.
	Addr string `toml:"addr"`
	// MCPAddr is the listen address of cmd/mcp-gateway.
	MCPAddr           string `toml:"mcp_addr"`
	ShutdownTimeoutMS int    `toml:"shutdown_timeout_ms"`
}

type GatewayConfig struct {
	// MCPURL is where agents reach the MCP gateway. Empty makes aegisd call
	// the storefront directly.
	MCPURL        string `toml:"mcp_url"`
	StorefrontURL string `toml:"storefront_url"`
	TimeoutMS     int    `toml:"timeout_ms"`
}

type LLMConfig struct {
	Provider    string  `toml:"provider"`
	Model       string  `toml:"model"`
	APIKey      string  `toml:"api_key"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens"`
	// MaxCalls caps model calls per process; 0 is unlimited.
	MaxCalls  int `toml:"max_calls"`
	TimeoutMS int `toml:"timeout_ms"`
}

type RuntimeConfig struct {
	MailboxSize      int `toml:"mailbox_size"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
	ReplyTimeoutMS   int `toml:"reply_timeout_ms"`
	RequestTimeoutMS int `toml:"request_timeout_ms"`
	// Peers maps agent ids hosted by other processes to their base URLs.
	Peers map[string]string `toml:"peers"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{}.withDefaults()
}

// Load reads the TOML file at path, fills defaults and applies environment
// overrides. An empty path yields Default plus overrides.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		resolved, err := expandHome(path)
		if err != nil {
			return Config{}, err
		}
		b, err := os.ReadFile(resolved)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
		}
		if _, err := toml.Decode(string(b), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		cfg.Path = resolved
	}

	cfg = cfg.withDefaults()
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/")
	return filepath.Join(home, trimmed), nil
}

func (c Config) withDefaults() Config {
	if c.Server.MCPAddr == "" {
		c.Server.MCPAddr = ":8001"
	}
	if c.Server.ShutdownTimeoutMS <= 0 {
		c.Server.ShutdownTimeoutMS = 10_000
	}
	if c.Gateway.StorefrontURL == "" {
		c.Gateway.StorefrontURL = "http://frontend:80/api"
	}
	if c.Gateway.TimeoutMS <= 0 {
		c.Gateway.TimeoutMS = 30_000
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderMock
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1000
	}
	if c.LLM.TimeoutMS <= 0 {
		c.LLM.TimeoutMS = 60_000
	}
	if c.Runtime.MailboxSize <= 0 {
		c.Runtime.MailboxSize = 100
	}
	if c.Runtime.PollIntervalMS <= 0 {
		c.Runtime.PollIntervalMS = 1000
	}
	if c.Runtime.ReplyTimeoutMS <= 0 {
		c.Runtime.ReplyTimeoutMS = 30_000
	}
	if c.Runtime.RequestTimeoutMS <= 0 {
		c.Runtime.RequestTimeoutMS = 30_000
	}
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Store.Backend == StoreSQLite && c.Store.Path == "" {
		c.Store.Path = "aegis.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	return c
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLLMProvider); ok && v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v, ok := lookup(EnvLLMAPIKey); ok && v != "" {
		c.LLM.APIKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvStorefrontURL); ok && v != "" {
		c.Gateway.StorefrontURL = v
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderMock:
	default:
		return fmt.Errorf("%w: unknown llm provider %q", ErrInvalid, c.LLM.Provider)
	}
	switch c.Store.Backend {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalid, c.Store.Backend)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("%w: log format must be json or text, got %q", ErrInvalid, c.Log.Format)
	}
	if c.LLM.MaxCalls < 0 {
		return fmt.Errorf("%w: llm max_calls must not be negative", ErrInvalid)
	}
	return nil
}

// Logger builds the process logger from the log section.
func (c Config) Logger() *logging.AgentLogger {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.NewSlogLogger(level, c.Log.Format, false)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c ServerConfig) ShutdownTimeout() time.Duration { return ms(c.ShutdownTimeoutMS) }

func (c GatewayConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c LLMConfig) Timeout() time.Duration { return ms(c.TimeoutMS) }

func (c RuntimeConfig) PollInterval() time.Duration { return ms(c.PollIntervalMS) }

func (c RuntimeConfig) ReplyTimeout() time.Duration { return ms(c.ReplyTimeoutMS) }

func (c RuntimeConfig) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMS) }
