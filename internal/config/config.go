// Package config loads the gridiron configuration file.
//
// Files are YAML, or JSON5 when the extension is .json or .json5. A file may
// pull in others with a top-level $include (string or list); included files
// are merged first and the including file wins. ${VAR} references are
// expanded from the environment before parsing. Unknown keys are rejected.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/haasonsaas/gridiron/internal/net/egress"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Engine        EngineConfig        `yaml:"engine"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Browser       BrowserConfig       `yaml:"browser"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Sleeper       SleeperConfig       `yaml:"sleeper"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// EngineConfig bounds each turn.
type EngineConfig struct {
	MaxTurns     int           `yaml:"max_turns"`
	EventBuffer  int           `yaml:"event_buffer"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
	// CompactAfter keeps only the newest messages in model input once the
	// log is longer. Zero sends the full log.
	CompactAfter int `yaml:"compact_after"`
}

// LLMConfig selects the model backend. Fallbacks are tried in order when
// the primary fails with a failover-worthy error.
type LLMConfig struct {
	LLMProviderConfig `yaml:",inline"`
	Fallbacks         []LLMProviderConfig `yaml:"fallbacks"`
}

// LLMProviderConfig configures one model backend.
type LLMProviderConfig struct {
	Provider   string        `yaml:"provider"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Region     string        `yaml:"region"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ToolsConfig configures the dispatcher.
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// BrowserConfig configures the browser session pool and its tools.
type BrowserConfig struct {
	Enabled          bool              `yaml:"enabled"`
	Driver           string            `yaml:"driver"`
	Headless         *bool             `yaml:"headless"`
	ExecPath         string            `yaml:"exec_path"`
	DebugURL         string            `yaml:"debug_url"`
	ViewportWidth    int               `yaml:"viewport_width"`
	ViewportHeight   int               `yaml:"viewport_height"`
	BlockTrackers    *bool             `yaml:"block_trackers"`
	MaxSessions      int               `yaml:"max_sessions"`
	IdleTimeout      time.Duration     `yaml:"idle_timeout"`
	ActionTimeout    time.Duration     `yaml:"action_timeout"`
	SweepSchedule    string            `yaml:"sweep_schedule"`
	AllowedDomains   []string          `yaml:"allowed_domains"`
	ActionsPerSecond float64           `yaml:"actions_per_second"`
	MinActionDelay   time.Duration     `yaml:"min_action_delay"`
	MaxActionDelay   time.Duration     `yaml:"max_action_delay"`
	Screenshots      ScreenshotsConfig `yaml:"screenshots"`
}

// HeadlessOrDefault reports whether browsers run headless (default true).
func (b BrowserConfig) HeadlessOrDefault() bool {
	return b.Headless == nil || *b.Headless
}

// BlockTrackersOrDefault reports whether tracker requests are aborted
// (default true).
func (b BrowserConfig) BlockTrackersOrDefault() bool {
	return b.BlockTrackers == nil || *b.BlockTrackers
}

// ScreenshotsConfig selects where screenshots are stored. S3 is used when
// a bucket is set.
type ScreenshotsConfig struct {
	Dir string   `yaml:"dir"`
	S3  S3Config `yaml:"s3"`
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	DSN     string      `yaml:"dsn"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig configures a Redis connection.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// CredentialsConfig lists where Sleeper logins are looked up. The file is
// consulted before the environment.
type CredentialsConfig struct {
	File      string `yaml:"file"`
	EnvPrefix string `yaml:"env_prefix"`
}

// SleeperConfig configures the fantasy data sources.
type SleeperConfig struct {
	BaseURL        string        `yaml:"base_url"`
	ProjectionsURL string        `yaml:"projections_url"`
	Timeout        time.Duration `yaml:"timeout"`
	PlayersTTL     time.Duration `yaml:"players_ttl"`
	Cache          string        `yaml:"cache"`
	Redis          RedisConfig   `yaml:"redis"`
	ScheduleURL    string        `yaml:"schedule_url"`
	NewsURL        string        `yaml:"news_url"`
	NewsAPIKey     string        `yaml:"news_api_key"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
	// Redact lists extra regular expressions masked in log output.
	Redact []string `yaml:"redact"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr string        `yaml:"metrics_addr"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig configures OTLP trace export. Tracing is off without an
// endpoint.
type TracingConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Insecure       bool              `yaml:"insecure"`
	Attributes     map[string]string `yaml:"attributes"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads, merges, decodes, defaults and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Engine.MaxTurns == 0 {
		cfg.Engine.MaxTurns = 25
	}
	if cfg.Engine.EventBuffer == 0 {
		cfg.Engine.EventBuffer = 32
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}

	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = 30 * time.Second
	}
	if cfg.Tools.MaxConcurrency == 0 {
		cfg.Tools.MaxConcurrency = 8
	}

	b := &cfg.Browser
	if b.Driver == "" {
		b.Driver = "playwright"
	}
	if b.MaxSessions == 0 {
		b.MaxSessions = 5
	}
	if b.IdleTimeout == 0 {
		b.IdleTimeout = 30 * time.Minute
	}
	if b.ActionTimeout == 0 {
		b.ActionTimeout = 30 * time.Second
	}
	if b.SweepSchedule == "" {
		b.SweepSchedule = "@every 5m"
	}
	if len(b.AllowedDomains) == 0 {
		b.AllowedDomains = append([]string(nil), egress.DefaultAllowedDomains...)
	}
	if b.ActionsPerSecond == 0 {
		b.ActionsPerSecond = 2
	}
	if b.MinActionDelay == 0 && b.MaxActionDelay == 0 {
		b.MinActionDelay = 50 * time.Millisecond
		b.MaxActionDelay = 150 * time.Millisecond
	}
	if b.ViewportWidth == 0 {
		b.ViewportWidth = 1280
	}
	if b.ViewportHeight == 0 {
		b.ViewportHeight = 720
	}
	if b.Screenshots.Dir == "" {
		b.Screenshots.Dir = "screenshots"
	}

	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "sqlite"
	}
	if cfg.Checkpoint.Backend == "sqlite" && cfg.Checkpoint.Path == "" {
		cfg.Checkpoint.Path = "gridiron.db"
	}
	if cfg.Checkpoint.Backend == "bolt" && cfg.Checkpoint.Path == "" {
		cfg.Checkpoint.Path = "gridiron.bolt"
	}

	if cfg.Credentials.EnvPrefix == "" {
		cfg.Credentials.EnvPrefix = "GRIDIRON_SLEEPER"
	}

	if cfg.Sleeper.Timeout == 0 {
		cfg.Sleeper.Timeout = 30 * time.Second
	}
	if cfg.Sleeper.PlayersTTL == 0 {
		cfg.Sleeper.PlayersTTL = 24 * time.Hour
	}
	if cfg.Sleeper.Cache == "" {
		cfg.Sleeper.Cache = "memory"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "gridiron"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		errs = append(errs, err)
	}

	if c.Engine.MaxTurns < 1 {
		add("engine.max_turns must be positive")
	}
	if c.Engine.EventBuffer < 0 || c.Engine.ModelTimeout < 0 || c.Engine.CompactAfter < 0 {
		add("engine values must not be negative")
	}

	for i, p := range append([]LLMProviderConfig{c.LLM.LLMProviderConfig}, c.LLM.Fallbacks...) {
		field := "llm"
		if i > 0 {
			field = fmt.Sprintf("llm.fallbacks[%d]", i-1)
		}
		if !knownProvider(p.Provider) {
			add("%s.provider %q is not one of anthropic, openai, google, bedrock", field, p.Provider)
		}
		if p.MaxRetries < 0 || p.MaxTokens < 0 || p.RetryDelay < 0 {
			add("%s values must not be negative", field)
		}
	}

	if c.Tools.DefaultTimeout < 0 || c.Tools.MaxConcurrency < 0 {
		add("tools values must not be negative")
	}

	b := c.Browser
	switch b.Driver {
	case "playwright", "chromedp":
	default:
		add("browser.driver %q must be playwright or chromedp", b.Driver)
	}
	if b.MaxSessions < 1 {
		add("browser.max_sessions must be positive")
	}
	if b.MinActionDelay > b.MaxActionDelay {
		add("browser.min_action_delay must not exceed max_action_delay")
	}
	if b.ActionsPerSecond < 0 {
		add("browser.actions_per_second must not be negative")
	}
	for _, domain := range b.AllowedDomains {
		d := strings.TrimSpace(domain)
		if d == "" || strings.Contains(d, "/") || strings.Contains(d, "://") {
			add("browser.allowed_domains entry %q must be a bare domain", domain)
		}
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite", "bolt":
		if strings.TrimSpace(c.Checkpoint.Path) == "" {
			add("checkpoint.path is required for %s", c.Checkpoint.Backend)
		}
	case "postgres":
		if strings.TrimSpace(c.Checkpoint.DSN) == "" {
			add("checkpoint.dsn is required for postgres")
		}
	case "redis":
		if err := validateAddr(c.Checkpoint.Redis.Addr); err != nil {
			add("checkpoint.redis.addr: %v", err)
		}
	default:
		add("checkpoint.backend %q must be memory, sqlite, postgres, bolt or redis", c.Checkpoint.Backend)
	}

	switch c.Sleeper.Cache {
	case "memory":
	case "redis":
		if err := validateAddr(c.Sleeper.Redis.Addr); err != nil {
			add("sleeper.redis.addr: %v", err)
		}
	default:
		add("sleeper.cache %q must be memory or redis", c.Sleeper.Cache)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is invalid", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format %q must be json or text", c.Logging.Format)
	}

	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func knownProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "anthropic", "openai", "google", "gemini", "bedrock":
		return true
	}
	return false
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return err
	}
	return nil
}
