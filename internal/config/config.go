package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr     string
	ProvidersFile  string
	Provider       string
	APIKey         string
	ProxyURL       string
	RequestTimeout time.Duration

	// Streaming pipeline
	LineBufferSize int
	FlushThreshold int
	BufferCapacity int
	UILockTimeout  time.Duration
	PromptSuffix   string

	// Panel
	AskRate    float64
	AskBurst   int
	RelayToken string

	// A2A
	A2AEnabled bool
	A2APort    int
	A2AToken   string
	AgentName  string
	AgentDesc  string

	LogLevel  string
	LogFormat string
}

// Load parses the process flags and environment.
func Load() (*Config, error) {
	return LoadFrom(flag.CommandLine, os.Args[1:])
}

// LoadFrom registers the flags on fs and parses args. Environment variables
// supply the defaults.
func LoadFrom(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Control panel listen address")
	fs.StringVar(&cfg.ProvidersFile, "providers-file", getEnv("PROVIDERS_FILE", ""), "YAML or TOML file with provider configs (reloaded on change)")
	fs.StringVar(&cfg.Provider, "provider", getEnv("PROVIDER", "glm"), "Provider active at startup")
	fs.StringVar(&cfg.APIKey, "api-key", getEnv("API_KEY", ""), "API key for the startup provider")
	fs.StringVar(&cfg.ProxyURL, "proxy-url", getEnv("HTTP_PROXY_URL", ""), "HTTP/HTTPS proxy URL for upstream requests (e.g. http://proxy:8080)")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 30*time.Second), "Upstream timeout, reset on every chunk received")

	fs.IntVar(&cfg.LineBufferSize, "line-buffer", getEnvInt("LINE_BUFFER_SIZE", 2048), "SSE line buffer capacity in bytes")
	fs.IntVar(&cfg.FlushThreshold, "flush-threshold", getEnvInt("FLUSH_THRESHOLD", 15), "Coalesced bytes that trigger a flush")
	fs.IntVar(&cfg.BufferCapacity, "buffer-capacity", getEnvInt("BUFFER_CAPACITY", 512), "Coalesce buffer capacity in bytes")
	fs.DurationVar(&cfg.UILockTimeout, "ui-lock-timeout", getEnvDuration("UI_LOCK_TIMEOUT", 250*time.Millisecond), "Longest wait for the UI lock per fragment")
	fs.StringVar(&cfg.PromptSuffix, "prompt-suffix", getEnv("PROMPT_SUFFIX", " Please keep it within 50 words."), "Text appended to every question")

	fs.Float64Var(&cfg.AskRate, "ask-rate", getEnvFloat("ASK_RATE", 1), "Ask requests per second allowed on the panel")
	fs.IntVar(&cfg.AskBurst, "ask-burst", getEnvInt("ASK_BURST", 3), "Ask request burst allowed on the panel")
	fs.StringVar(&cfg.RelayToken, "relay-token", getEnv("RELAY_TOKEN", ""), "Bearer token required by /v1/chat/completions (empty disables the check)")

	fs.BoolVar(&cfg.A2AEnabled, "a2a", getEnvBool("A2A_ENABLED", false), "Enable A2A server alongside the panel")
	fs.IntVar(&cfg.A2APort, "a2a-port", getEnvInt("A2A_PORT", 8000), "A2A server listen port")
	fs.StringVar(&cfg.A2AToken, "a2a-token", getEnv("A2A_TOKEN", ""), "Bearer token required by the A2A server (empty disables the check)")
	fs.StringVar(&cfg.AgentName, "agent-name", getEnv("AGENT_NAME", "pocketchat"), "A2A AgentCard name")
	fs.StringVar(&cfg.AgentDesc, "agent-desc", getEnv("AGENT_DESC", "Streaming chat assistant exposed via A2A protocol"), "A2A AgentCard description")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	var errs []error
	if c.LineBufferSize < 2 {
		errs = append(errs, fmt.Errorf("line-buffer must be at least 2, got %d", c.LineBufferSize))
	}
	if c.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("flush-threshold must be positive, got %d", c.FlushThreshold))
	}
	if c.BufferCapacity <= c.FlushThreshold+1 {
		errs = append(errs, fmt.Errorf("buffer-capacity (%d) must exceed flush-threshold+1 (%d)", c.BufferCapacity, c.FlushThreshold+1))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request-timeout must be positive"))
	}
	if c.UILockTimeout <= 0 {
		errs = append(errs, errors.New("ui-lock-timeout must be positive"))
	}
	if c.AskRate <= 0 || c.AskBurst <= 0 {
		errs = append(errs, errors.New("ask-rate and ask-burst must be positive"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log-format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("unknown log-level %q", c.LogLevel)
	}
	return l, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	switch v {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	n, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d == 0 {
		return fallback
	}
	return d
}
