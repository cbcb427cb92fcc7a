package model

import (
	"runtime"
	"strings"
	"time"
)

// Config holds all rolcurve settings. Loaded from defaults, config file, env and flags.
type Config struct {
	Grids       map[string]GridConfig `yaml:"grids" mapstructure:"grids"` // Per-LOB exposure grids, "default" as fallback
	Fit         FitConfig             `yaml:"fit" mapstructure:"fit"`
	Outlier     OutlierConfig         `yaml:"outlier" mapstructure:"outlier"`
	Selection   SelectionConfig       `yaml:"selection" mapstructure:"selection"`
	Validation  ValidationConfig      `yaml:"validation" mapstructure:"validation"`
	Concurrency ConcurrencyConfig     `yaml:"concurrency" mapstructure:"concurrency"`
	HTTP        HTTPConfig            `yaml:"http" mapstructure:"http"`
	Cache       CacheConfig           `yaml:"cache" mapstructure:"cache"`
	Store       StoreConfig           `yaml:"store" mapstructure:"store"`
	Server      ServerConfig          `yaml:"server" mapstructure:"server"`
	Logging     LoggingConfig         `yaml:"logging" mapstructure:"logging"`
	Output      OutputConfig          `yaml:"output" mapstructure:"output"`
}

// GridConfig describes one LOB's split points, either explicit or generated
type GridConfig struct {
	Points  []float64 `yaml:"points,omitempty" mapstructure:"points"` // Explicit split points; wins over generation
	Min     float64   `yaml:"min,omitempty" mapstructure:"min"`
	Max     float64   `yaml:"max,omitempty" mapstructure:"max"`
	Count   int       `yaml:"count,omitempty" mapstructure:"count"`
	Spacing string    `yaml:"spacing,omitempty" mapstructure:"spacing"` // uniform, log_uniform, quantile
}

// FitConfig controls the bootstrap estimator and segment regressions
type FitConfig struct {
	MinPolicies       int     `yaml:"min_policies" mapstructure:"min_policies"`
	Anchor            string  `yaml:"anchor" mapstructure:"anchor"`                   // linear, monotone, none
	AnchorStrength    float64 `yaml:"anchor_strength" mapstructure:"anchor_strength"` // In policy-equivalents
	Ridge             float64 `yaml:"ridge" mapstructure:"ridge"`
	Shape             string  `yaml:"shape" mapstructure:"shape"` // decreasing, none
	MonotoneTolerance float64 `yaml:"monotone_tolerance" mapstructure:"monotone_tolerance"`
	MaxEscalations    int     `yaml:"max_escalations" mapstructure:"max_escalations"`
	EscalationFactor  float64 `yaml:"escalation_factor" mapstructure:"escalation_factor"`
	Interpolation     string  `yaml:"interpolation" mapstructure:"interpolation"` // linear, step
	Extrapolation     string  `yaml:"extrapolation" mapstructure:"extrapolation"` // hold_last, log_linear
	ExposureBase      string  `yaml:"exposure_base" mapstructure:"exposure_base"` // limit, exposure
	BandZ             float64 `yaml:"band_z" mapstructure:"band_z"`
	LowerBound        float64 `yaml:"lower_bound" mapstructure:"lower_bound"` // Irreducible rate RMSE for the LOB, 0 = unknown
}

// OutlierConfig controls premium outlier flagging
type OutlierConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
}

// SelectionConfig controls the complexity sweep
type SelectionConfig struct {
	Folds             int       `yaml:"folds" mapstructure:"folds"`
	GridCounts        []int     `yaml:"grid_counts" mapstructure:"grid_counts"`
	AnchorStrengths   []float64 `yaml:"anchor_strengths" mapstructure:"anchor_strengths"`
	Spacing           string    `yaml:"spacing" mapstructure:"spacing"` // uniform or log_uniform
	ComplexityPenalty float64   `yaml:"complexity_penalty" mapstructure:"complexity_penalty"`
	TieTolerance      float64   `yaml:"tie_tolerance" mapstructure:"tie_tolerance"`
	Seed              uint64    `yaml:"seed" mapstructure:"seed"`
}

// ValidationConfig controls upstream row validation
type ValidationConfig struct {
	ErrorTolerance float64 `yaml:"error_tolerance" mapstructure:"error_tolerance"`
	RequireCountry bool    `yaml:"require_country" mapstructure:"require_country"`
}

// ConcurrencyConfig controls the batch worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// HTTPConfig controls fetching remote policy tables
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent    string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HTTPProxy    string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`   // Empty uses HTTP_PROXY
	HTTPSProxy   string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"` // Empty uses HTTPS_PROXY
}

// CacheConfig controls fitted-curve caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	MaxCurves int           `yaml:"max_curves" mapstructure:"max_curves"` // In-memory bound; 0 is unbounded
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	RedisAddr string        `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"` // Empty disables the shared layer
	RedisTTL  time.Duration `yaml:"redis_ttl" mapstructure:"redis_ttl"`
}

// StoreConfig controls curve persistence
type StoreConfig struct {
	Driver       string        `yaml:"driver,omitempty" mapstructure:"driver"` // sqlite, postgres; empty disables
	DSN          string        `yaml:"dsn,omitempty" mapstructure:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// ServerConfig controls the quote API
type ServerConfig struct {
	Addr              string        `yaml:"addr" mapstructure:"addr"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // Per client
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// Per-client overrides of the default rate, keyed by client
	ClientLimits map[string]RateLimit `yaml:"client_limits,omitempty" mapstructure:"client_limits"`
	// Limiters of clients idle this long are dropped
	LimiterIdle time.Duration `yaml:"limiter_idle" mapstructure:"limiter_idle"`
}

// RateLimit is a token bucket rate
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// LoggingConfig controls zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // auto, json, console
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Markdown bool   `yaml:"markdown" mapstructure:"markdown"`
	Verbose  bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		Grids: map[string]GridConfig{
			"default": {Points: []float64{0, 1e6, 5e6, 10e6, 25e6, 50e6, 100e6}},
		},
		Fit: FitConfig{
			MinPolicies:       10,
			Anchor:            "linear",
			AnchorStrength:    1.0,
			Ridge:             0.1,
			Shape:             "decreasing",
			MonotoneTolerance: 0.001, // 10bp of rate
			MaxEscalations:    3,
			EscalationFactor:  10,
			Interpolation:     "linear",
			Extrapolation:     "hold_last",
			ExposureBase:      "limit",
			BandZ:             1.96,
		},
		Outlier: OutlierConfig{
			Threshold: 2.5,
		},
		Selection: SelectionConfig{
			Folds:             5,
			GridCounts:        []int{3, 4, 6, 8},
			AnchorStrengths:   []float64{0, 1, 10},
			Spacing:           "uniform",
			ComplexityPenalty: 1.0,
			TieTolerance:      0.01,
			Seed:              42,
		},
		Validation: ValidationConfig{
			ErrorTolerance: 0.05,
		},
		Concurrency: ConcurrencyConfig{
			Workers: runtime.NumCPU(),
		},
		HTTP: HTTPConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "rolcurve/0.1",
			MaxBodyBytes: 50 << 20,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 1 * time.Hour,
			MaxCurves: 512,
			DiskTTL:   7 * 24 * time.Hour,
			Dir:       ".rolcurve-cache",
			RedisTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			QueryTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
			ShutdownTimeout:   10 * time.Second,
			LimiterIdle:       30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Output: OutputConfig{
			Dir:      "./rolcurve-reports",
			Markdown: true,
		},
	}
}

// GridFor returns the grid configured for a LOB, falling back to "default"
func (c *Config) GridFor(lob string) (GridConfig, bool) {
	if g, ok := c.Grids[strings.ToLower(lob)]; ok {
		return g, true
	}
	g, ok := c.Grids["default"]
	return g, ok
}
