// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/depthlens/internal/augment/core"
)

// EnvPrefix namespaces environment overrides, e.g. DEPTHLENS_CONVERSION_ENDPOINT.
const EnvPrefix = "DEPTHLENS"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Classifier() ClassifierConfig
	Layout() LayoutConfig
	Injection() InjectionConfig
	Lifecycle() LifecycleConfig
	Conversion() ConversionConfig
	Browser() BrowserConfig
	Prefs() PrefsConfig
	Immersive() ImmersiveConfig
	Policy() core.Policy

	// Setters for values the CLI overrides from flags.
	SetEngineVerbose(bool)
	SetBrowserRender(bool)
	SetConversionEndpoint(string)
	SetPrefsPath(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	EngineCfg     EngineConfig     `mapstructure:"engine" yaml:"engine"`
	ClassifierCfg ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	LayoutCfg     LayoutConfig     `mapstructure:"layout" yaml:"layout"`
	InjectionCfg  InjectionConfig  `mapstructure:"injection" yaml:"injection"`
	LifecycleCfg  LifecycleConfig  `mapstructure:"lifecycle" yaml:"lifecycle"`
	ConversionCfg ConversionConfig `mapstructure:"conversion" yaml:"conversion"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	PrefsCfg      PrefsConfig      `mapstructure:"prefs" yaml:"prefs"`
	ImmersiveCfg  ImmersiveConfig  `mapstructure:"immersive" yaml:"immersive"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Engine() EngineConfig         { return c.EngineCfg }
func (c *Config) Classifier() ClassifierConfig { return c.ClassifierCfg }
func (c *Config) Layout() LayoutConfig         { return c.LayoutCfg }
func (c *Config) Injection() InjectionConfig   { return c.InjectionCfg }
func (c *Config) Lifecycle() LifecycleConfig   { return c.LifecycleCfg }
func (c *Config) Conversion() ConversionConfig { return c.ConversionCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Prefs() PrefsConfig           { return c.PrefsCfg }
func (c *Config) Immersive() ImmersiveConfig   { return c.ImmersiveCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineVerbose(b bool)          { c.EngineCfg.Verbose = b }
func (c *Config) SetBrowserRender(b bool)          { c.BrowserCfg.Render = b }
func (c *Config) SetConversionEndpoint(url string) { c.ConversionCfg.Endpoint = url }
func (c *Config) SetPrefsPath(path string)         { c.PrefsCfg.Path = path }

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

// EngineConfig configures reconciliation and how many documents the CLI
// augments at once.
type EngineConfig struct {
	Verbose               bool          `mapstructure:"verbose" yaml:"verbose"`
	Concurrency           int           `mapstructure:"concurrency" yaml:"concurrency"`
	CleanupOnTeardown     bool          `mapstructure:"cleanup_on_teardown" yaml:"cleanup_on_teardown"`
	MutationDebounce      time.Duration `mapstructure:"mutation_debounce" yaml:"mutation_debounce"`
	MutationMaxBatch      int           `mapstructure:"mutation_max_batch" yaml:"mutation_max_batch"`
	ScrollDebounce        time.Duration `mapstructure:"scroll_debounce" yaml:"scroll_debounce"`
	ScrollBuffer          float64       `mapstructure:"scroll_buffer" yaml:"scroll_buffer"`
	StructuralSearchDepth int           `mapstructure:"structural_search_depth" yaml:"structural_search_depth"`
}

// ClassifierConfig holds the rejection thresholds and extra word lists.
type ClassifierConfig struct {
	ViewportAbove       float64  `mapstructure:"viewport_above" yaml:"viewport_above"`
	ViewportBelow       float64  `mapstructure:"viewport_below" yaml:"viewport_below"`
	ViewportLeft        float64  `mapstructure:"viewport_left" yaml:"viewport_left"`
	ViewportRight       float64  `mapstructure:"viewport_right" yaml:"viewport_right"`
	MaxAspectRatio      float64  `mapstructure:"max_aspect_ratio" yaml:"max_aspect_ratio"`
	IconMaxSide         float64  `mapstructure:"icon_max_side" yaml:"icon_max_side"`
	IconSquareTolerance float64  `mapstructure:"icon_square_tolerance" yaml:"icon_square_tolerance"`
	OcclusionFactor     float64  `mapstructure:"occlusion_factor" yaml:"occlusion_factor"`
	VideoSearchDepth    int      `mapstructure:"video_search_depth" yaml:"video_search_depth"`
	ExtraKeywords       []string `mapstructure:"extra_keywords" yaml:"extra_keywords"`
}

// LayoutConfig tunes the layout analyzer.
type LayoutConfig struct {
	AncestorDepth     int `mapstructure:"ancestor_depth" yaml:"ancestor_depth"`
	ComplexClassCount int `mapstructure:"complex_class_count" yaml:"complex_class_count"`
	ComplexZIndex     int `mapstructure:"complex_z_index" yaml:"complex_z_index"`
}

// InjectionConfig sizes and places control surfaces.
type InjectionConfig struct {
	OverlayHostDepth  int           `mapstructure:"overlay_host_depth" yaml:"overlay_host_depth"`
	ZoneSize          float64       `mapstructure:"zone_size" yaml:"zone_size"`
	ZoneOffset        float64       `mapstructure:"zone_offset" yaml:"zone_offset"`
	HoverRestoreDelay time.Duration `mapstructure:"hover_restore_delay" yaml:"hover_restore_delay"`
}

// LifecycleConfig times the conversion lifecycle.
type LifecycleConfig struct {
	AutoResetDelay     time.Duration `mapstructure:"auto_reset_delay" yaml:"auto_reset_delay"`
	ToastDuration      time.Duration `mapstructure:"toast_duration" yaml:"toast_duration"`
	RasterStepTimeout  time.Duration `mapstructure:"raster_step_timeout" yaml:"raster_step_timeout"`
	ConversionTimeout  time.Duration `mapstructure:"conversion_timeout" yaml:"conversion_timeout"`
	MinRasterSide      int           `mapstructure:"min_raster_side" yaml:"min_raster_side"`
	MaxRasterDimension int           `mapstructure:"max_raster_dimension" yaml:"max_raster_dimension"`
	DefaultWidth       float64       `mapstructure:"default_width" yaml:"default_width"`
	DefaultHeight      float64       `mapstructure:"default_height" yaml:"default_height"`
}

// ConversionConfig points at the conversion service.
type ConversionConfig struct {
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst           int           `mapstructure:"burst" yaml:"burst"`
	SigningKey      string        `mapstructure:"signing_key" yaml:"signing_key"`
	Issuer          string        `mapstructure:"issuer" yaml:"issuer"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// BrowserConfig controls how pages and their images are loaded.
type BrowserConfig struct {
	// Render loads remote pages through headless Chrome instead of a plain GET.
	Render            bool          `mapstructure:"render" yaml:"render"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ViewportWidth     float64       `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    float64       `mapstructure:"viewport_height" yaml:"viewport_height"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxImageBytes     int64         `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	AllowPrivileged   bool          `mapstructure:"allow_privileged" yaml:"allow_privileged"`
}

// PrefsConfig locates the preference database.
type PrefsConfig struct {
	// Path is the SQLite file. Empty keeps preferences in memory.
	Path string `mapstructure:"path" yaml:"path"`
}

// ImmersiveConfig is the static answer of the immersive display probe.
type ImmersiveConfig struct {
	Supported bool   `mapstructure:"supported" yaml:"supported"`
	Reason    string `mapstructure:"reason" yaml:"reason"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "depthlens")
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

	// -- Engine --
	v.SetDefault("engine.verbose", false)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.cleanup_on_teardown", true)
	v.SetDefault("engine.mutation_debounce", "200ms")
	v.SetDefault("engine.mutation_max_batch", 500)
	v.SetDefault("engine.scroll_debounce", "500ms")
	v.SetDefault("engine.scroll_buffer", 200)
	v.SetDefault("engine.structural_search_depth", 3)

	// -- Classifier --
	v.SetDefault("classifier.viewport_above", 3)
	v.SetDefault("classifier.viewport_below", 2)
	v.SetDefault("classifier.viewport_left", 3)
	v.SetDefault("classifier.viewport_right", 1)
	v.SetDefault("classifier.max_aspect_ratio", 20)
	v.SetDefault("classifier.icon_max_side", 150)
	v.SetDefault("classifier.icon_square_tolerance", 0.2)
	v.SetDefault("classifier.occlusion_factor", 3)
	v.SetDefault("classifier.video_search_depth", 3)

	// -- Layout --
	v.SetDefault("layout.ancestor_depth", 3)
	v.SetDefault("layout.complex_class_count", 6)
	v.SetDefault("layout.complex_z_index", 1000)

	// -- Injection --
	v.SetDefault("injection.overlay_host_depth", 3)
	v.SetDefault("injection.zone_size", 48)
	v.SetDefault("injection.zone_offset", 8)
	v.SetDefault("injection.hover_restore_delay", "300ms")

	// -- Lifecycle --
	v.SetDefault("lifecycle.auto_reset_delay", "3s")
	v.SetDefault("lifecycle.toast_duration", "4s")
	v.SetDefault("lifecycle.raster_step_timeout", "10s")
	v.SetDefault("lifecycle.conversion_timeout", "2m")
	v.SetDefault("lifecycle.min_raster_side", 16)
	v.SetDefault("lifecycle.max_raster_dimension", 2048)
	v.SetDefault("lifecycle.default_width", 640)
	v.SetDefault("lifecycle.default_height", 480)

	// -- Conversion --
	v.SetDefault("conversion.endpoint", "")
	v.SetDefault("conversion.request_timeout", "30s")
	v.SetDefault("conversion.poll_interval", "1s")
	v.SetDefault("conversion.max_elapsed", "20s")
	v.SetDefault("conversion.rate_limit", 2.0)
	v.SetDefault("conversion.burst", 4)
	v.SetDefault("conversion.issuer", "depthlens")
	v.SetDefault("conversion.token_ttl", "5m")
	v.SetDefault("conversion.breaker_failures", 5)
	v.SetDefault("conversion.breaker_cooldown", "30s")

	// -- Browser --
	v.SetDefault("browser.render", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1s")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.user_agent", "depthlens/1")
	v.SetDefault("browser.fetch_timeout", "15s")
	v.SetDefault("browser.max_image_bytes", 32<<20)
	v.SetDefault("browser.allow_privileged", false)

	// -- Prefs --
	v.SetDefault("prefs.path", "~/.depthlens/prefs.db")

	// -- Immersive --
	v.SetDefault("immersive.supported", false)
	v.SetDefault("immersive.reason", "no immersive display attached")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
// Environment variables prefixed DEPTHLENS_ override file values.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets are bound explicitly so Unmarshal sees them without a file entry.
	_ = v.BindEnv("conversion.signing_key", EnvPrefix+"_CONVERSION_SIGNING_KEY")
	_ = v.BindEnv("conversion.endpoint", EnvPrefix+"_CONVERSION_ENDPOINT")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.PrefsCfg.Path, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.EngineCfg.MutationDebounce <= 0 || c.EngineCfg.ScrollDebounce <= 0 {
		return fmt.Errorf("engine debounce windows must be positive durations")
	}
	if c.EngineCfg.MutationMaxBatch <= 0 {
		return fmt.Errorf("engine.mutation_max_batch must be a positive integer")
	}
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must have a positive size")
	}
	if err := c.ConversionCfg.Validate(); err != nil {
		return fmt.Errorf("conversion configuration invalid: %w", err)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("engine policy invalid: %w", err)
	}
	return nil
}

// Validate checks the conversion client settings. An empty endpoint is valid:
// the CLI then runs without a conversion service.
func (cc *ConversionConfig) Validate() error {
	if cc.Endpoint == "" {
		return nil
	}
	if !strings.HasPrefix(cc.Endpoint, "http://") && !strings.HasPrefix(cc.Endpoint, "https://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", cc.Endpoint)
	}
	if cc.RequestTimeout <= 0 || cc.PollInterval <= 0 {
		return fmt.Errorf("request_timeout and poll_interval must be positive durations")
	}
	if cc.RateLimit <= 0 || cc.Burst <= 0 {
		return fmt.Errorf("rate_limit and burst must be positive")
	}
	return nil
}
