// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PAGELENS_BROWSER_HEADLESS.
const EnvPrefix = "PAGELENS"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Capture() CaptureConfig
	Console() ConsoleConfig
	Cookies() CookiesConfig
	Metrics() MetricsConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Cookie Setters
	SetCookiesFile(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	CaptureCfg CaptureConfig `mapstructure:"capture" yaml:"capture"`
	ConsoleCfg ConsoleConfig `mapstructure:"console" yaml:"console"`
	CookiesCfg CookiesConfig `mapstructure:"cookies" yaml:"cookies"`
	MetricsCfg MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Capture() CaptureConfig { return c.CaptureCfg }
func (c *Config) Console() ConsoleConfig { return c.ConsoleCfg }
func (c *Config) Cookies() CookiesConfig { return c.CookiesCfg }
func (c *Config) Metrics() MetricsConfig { return c.MetricsCfg }

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string) { c.BrowserCfg.ExecPath = p }
func (c *Config) SetCookiesFile(path string)  { c.CookiesCfg.File = path }

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

// BrowserConfig holds settings for the shared headless browser process.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath        string   `mapstructure:"exec_path" yaml:"exec_path"`
	DisableGPU      bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool     `mapstructure:"debug" yaml:"debug"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// MaxPages bounds the number of isolated pages open at once.
	MaxPages         int           `mapstructure:"max_pages" yaml:"max_pages"`
	LaunchRetries    int           `mapstructure:"launch_retries" yaml:"launch_retries"`
	LaunchRetryDelay time.Duration `mapstructure:"launch_retry_delay" yaml:"launch_retry_delay"`
	LaunchTimeout    time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// CaptureConfig tunes the screenshot pipeline. Each timeout bounds one phase.
type CaptureConfig struct {
	DefaultWidth       int           `mapstructure:"default_width" yaml:"default_width"`
	DefaultHeight      int           `mapstructure:"default_height" yaml:"default_height"`
	DefaultFormat      string        `mapstructure:"default_format" yaml:"default_format"`
	DefaultQuality     int           `mapstructure:"default_quality" yaml:"default_quality"`
	MinDimension       int           `mapstructure:"min_dimension" yaml:"min_dimension"`
	MaxDimension       int           `mapstructure:"max_dimension" yaml:"max_dimension"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	NetworkIdleQuiet   time.Duration `mapstructure:"network_idle_quiet" yaml:"network_idle_quiet"`
	ElementTimeout     time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	ElementPollRate    float64       `mapstructure:"element_poll_rate" yaml:"element_poll_rate"`
	CaptureTimeout     time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// ConsoleConfig tunes console log collection.
type ConsoleConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxBytes       int           `mapstructure:"max_bytes" yaml:"max_bytes"`
	DefaultLevels  []string      `mapstructure:"default_levels" yaml:"default_levels"`
	Sanitize       bool          `mapstructure:"sanitize" yaml:"sanitize"`
}

// CookiesConfig points at default authentication cookies applied to every request.
// JSON takes precedence over File when both are set.
type CookiesConfig struct {
	File string `mapstructure:"file" yaml:"file"`
	JSON string `mapstructure:"json" yaml:"-"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" yaml:"namespace"`
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
	v.SetDefault("logger.service_name", "pagelens")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.max_pages", 8)
	v.SetDefault("browser.launch_retries", 3)
	v.SetDefault("browser.launch_retry_delay", "1s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.close_timeout", "5s")

	// -- Capture --
	v.SetDefault("capture.default_width", 1280)
	v.SetDefault("capture.default_height", 720)
	v.SetDefault("capture.default_format", "webp")
	v.SetDefault("capture.default_quality", 80)
	v.SetDefault("capture.min_dimension", 200)
	v.SetDefault("capture.max_dimension", 4000)
	v.SetDefault("capture.request_timeout", "30s")
	v.SetDefault("capture.navigation_timeout", "30s")
	v.SetDefault("capture.network_idle_timeout", "10s")
	v.SetDefault("capture.network_idle_quiet", "500ms")
	v.SetDefault("capture.element_timeout", "5s")
	v.SetDefault("capture.element_poll_rate", 10.0)
	v.SetDefault("capture.capture_timeout", "15s")

	// -- Console --
	v.SetDefault("console.default_timeout", "5s")
	v.SetDefault("console.max_bytes", 1<<20)
	v.SetDefault("console.default_levels", []string{"log", "info", "warn", "error", "debug"})
	v.SetDefault("console.sanitize", true)

	// -- Cookies --
	v.SetDefault("cookies.file", "")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")
	v.SetDefault("metrics.namespace", "pagelens")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Cookie payloads are secrets; they are only ever read from the environment or a file.
	_ = v.BindEnv("cookies.json", EnvPrefix+"_COOKIES_JSON")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.CaptureCfg.Validate(); err != nil {
		return fmt.Errorf("capture configuration invalid: %w", err)
	}
	if err := c.ConsoleCfg.Validate(); err != nil {
		return fmt.Errorf("console configuration invalid: %w", err)
	}
	if c.MetricsCfg.Enabled && c.MetricsCfg.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be a positive integer")
	}
	if b.LaunchRetries <= 0 {
		return fmt.Errorf("launch_retries must be a positive integer")
	}
	if b.LaunchRetryDelay < 0 {
		return fmt.Errorf("launch_retry_delay must not be negative")
	}
	if b.LaunchTimeout <= 0 {
		return fmt.Errorf("launch_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the capture settings.
func (c *CaptureConfig) Validate() error {
	if c.MinDimension <= 0 || c.MaxDimension < c.MinDimension {
		return fmt.Errorf("min_dimension and max_dimension must form a positive range")
	}
	if c.DefaultWidth < c.MinDimension || c.DefaultWidth > c.MaxDimension {
		return fmt.Errorf("default_width must be between %d and %d", c.MinDimension, c.MaxDimension)
	}
	if c.DefaultHeight < c.MinDimension || c.DefaultHeight > c.MaxDimension {
		return fmt.Errorf("default_height must be between %d and %d", c.MinDimension, c.MaxDimension)
	}
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return fmt.Errorf("default_quality must be between 1 and 100")
	}
	timeouts := map[string]time.Duration{
		"request_timeout":      c.RequestTimeout,
		"navigation_timeout":   c.NavigationTimeout,
		"network_idle_timeout": c.NetworkIdleTimeout,
		"element_timeout":      c.ElementTimeout,
		"capture_timeout":      c.CaptureTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if c.ElementPollRate <= 0 {
		return fmt.Errorf("element_poll_rate must be positive")
	}
	return nil
}

// Validate checks the console settings.
func (c *ConsoleConfig) Validate() error {
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max_bytes must be a positive integer")
	}
	return nil
}
