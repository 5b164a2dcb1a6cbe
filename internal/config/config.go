// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Learning LearningConfig `mapstructure:"learning" yaml:"learning"`
	Missions MissionsConfig `mapstructure:"missions" yaml:"missions"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection details for the system-under-test's
// PostgreSQL database. The URL is sensitive and normally arrives via
// TRIDENT_DATABASE_URL rather than the config file.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"-"`
	Schema         string        `mapstructure:"schema" yaml:"schema"`
	MaxConns       int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns       int32         `mapstructure:"min_conns" yaml:"min_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// EngineConfig configures the mission runner pool.
type EngineConfig struct {
	QueueSize         int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	MissionTimeout    time.Duration `mapstructure:"mission_timeout" yaml:"mission_timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless" yaml:"headless"`
	DisableCache       bool          `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors    bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug              bool          `mapstructure:"debug" yaml:"debug"`
	Args               []string      `mapstructure:"args" yaml:"args"`
	UserAgent          string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth      int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight     int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout" yaml:"default_step_timeout"`
	QuietPeriod        time.Duration `mapstructure:"quiet_period" yaml:"quiet_period"`
	SessionDir         string        `mapstructure:"session_dir" yaml:"session_dir"`
}

// ProxyConfig defines the sidecar capture proxy used to observe traffic that
// originates outside the browser.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// CaptureConfig tunes network traffic capture.
type CaptureConfig struct {
	ResponseBodies bool              `mapstructure:"response_bodies" yaml:"response_bodies"`
	MaxBodyBytes   int64             `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers"`
	Proxy          ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
}

// LLMProvider enumerates the supported plan-compiler/healer transports.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderGenAI  LLMProvider = "genai"
	ProviderMock   LLMProvider = "mock"
)

// LLMConfig defines the configuration for the language model used by the
// plan compiler and the selector healer. The API key is sensitive and
// normally arrives via TRIDENT_LLM_API_KEY.
type LLMConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst   int           `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// LearningBackend enumerates where learned selector corrections live.
type LearningBackend string

const (
	LearningPostgres LearningBackend = "postgres"
	LearningMemory   LearningBackend = "memory"
)

// LearningConfig configures the selector learning store.
type LearningConfig struct {
	Backend      LearningBackend `mapstructure:"backend" yaml:"backend"`
	Table        string          `mapstructure:"table" yaml:"table"`
	HistoryTable string          `mapstructure:"history_table" yaml:"history_table"`
}

// GitSourceConfig points at a git repository holding mission documents.
type GitSourceConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Ref   string `mapstructure:"ref" yaml:"ref"`
	Depth int    `mapstructure:"depth" yaml:"depth"`
}

// MissionsConfig describes where mission documents come from.
type MissionsConfig struct {
	Dir       string          `mapstructure:"dir" yaml:"dir"`
	SpoolFile string          `mapstructure:"spool_file" yaml:"spool_file"`
	Git       GitSourceConfig `mapstructure:"git" yaml:"git"`
}

// ReportConfig controls where and how execution reports are written.
type ReportConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	JUnit     bool   `mapstructure:"junit" yaml:"junit"`
	JUnitFile string `mapstructure:"junit_file" yaml:"junit_file"`
}

// RunConfig holds settings populated from CLI flags for a specific invocation.
type RunConfig struct {
	Paths     []string
	Git       bool
	OutputDir string
	JUnit     bool
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "trident-cli")
	v.SetDefault("logger.log_file", "trident.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Database --
	v.SetDefault("database.schema", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.connect_timeout", "10s")

	// -- Engine --
	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.worker_concurrency", 2)
	v.SetDefault("engine.mission_timeout", "10m")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.default_step_timeout", "15s")
	v.SetDefault("browser.quiet_period", "1s")
	v.SetDefault("browser.session_dir", "sessions")

	// -- Capture --
	v.SetDefault("capture.response_bodies", true)
	v.SetDefault("capture.max_body_bytes", 1<<20)
	v.SetDefault("capture.proxy.enabled", false)
	v.SetDefault("capture.proxy.address", "127.0.0.1:0")

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.max_elapsed", "2m")
	v.SetDefault("llm.rate_limit", 1.0)
	v.SetDefault("llm.rate_burst", 1)

	// -- Learning --
	v.SetDefault("learning.backend", "memory")
	v.SetDefault("learning.table", "selector_corrections")
	v.SetDefault("learning.history_table", "selector_correction_history")

	// -- Missions --
	v.SetDefault("missions.dir", "missions")
	v.SetDefault("missions.spool_file", "missions.spool")
	v.SetDefault("missions.git.ref", "main")
	v.SetDefault("missions.git.depth", 1)

	// -- Report --
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.junit", false)
	v.SetDefault("report.junit_file", "junit.xml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "TRIDENT_DATABASE_URL")
	v.BindEnv("llm.api_key", "TRIDENT_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, fmt.Errorf("error expanding config paths: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves "~" prefixes in path-valued settings.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Browser.SessionDir,
		&c.Missions.Dir,
		&c.Missions.SpoolFile,
		&c.Report.Dir,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if c.Engine.MissionTimeout <= 0 {
		return fmt.Errorf("engine.mission_timeout must be a positive duration")
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.Browser.DefaultStepTimeout <= 0 {
		return fmt.Errorf("browser.default_step_timeout must be a positive duration")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.Learning.Validate(); err != nil {
		return fmt.Errorf("learning configuration invalid: %w", err)
	}
	if c.Learning.Backend == LearningPostgres && c.Database.URL == "" {
		return fmt.Errorf("learning.backend is postgres but database.url is empty (set TRIDENT_DATABASE_URL)")
	}
	return nil
}

// Validate checks the LLM section.
func (l *LLMConfig) Validate() error {
	switch LLMProvider(strings.ToLower(string(l.Provider))) {
	case ProviderGemini, ProviderGenAI, ProviderMock:
	default:
		return fmt.Errorf("unsupported provider %q (expected gemini, genai or mock)", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if l.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// Validate checks the learning store section.
func (l *LearningConfig) Validate() error {
	switch LearningBackend(strings.ToLower(string(l.Backend))) {
	case LearningPostgres, LearningMemory:
	default:
		return fmt.Errorf("unsupported backend %q (expected postgres or memory)", l.Backend)
	}
	if l.Table == "" || l.HistoryTable == "" {
		return fmt.Errorf("table and history_table must not be empty")
	}
	return nil
}
