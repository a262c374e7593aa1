package config

import (
	"time"
)

// Mode selects how dimming decisions are made.
type Mode string

const (
	// ModeSimple dims every display with a single static or auto-adjusted
	// level. Also the silent fallback when capture permission is missing.
	ModeSimple Mode = "simple"
	// ModeWindow computes one dim level per bright window.
	ModeWindow Mode = "window"
	// ModeRegion dims individual bright regions inside windows.
	ModeRegion Mode = "region"
)

// Intelligent reports whether the mode needs per-window capture.
func (m Mode) Intelligent() bool {
	return m == ModeWindow || m == ModeRegion
}

// Config holds every tunable the analysis core reads. A fresh snapshot is
// taken at the start of each cycle so edits take effect immediately.
type Config struct {
	Mode Mode `json:"mode" yaml:"mode"`

	// Brightness analysis
	BrightnessThreshold float64 `json:"brightness_threshold" yaml:"brightness_threshold"`
	BaseDimLevel        float64 `json:"base_dim_level" yaml:"base_dim_level"`

	// Active/inactive differentiation
	Differentiate bool    `json:"differentiate" yaml:"differentiate"`
	ActiveLevel   float64 `json:"active_level" yaml:"active_level"`
	InactiveLevel float64 `json:"inactive_level" yaml:"inactive_level"`

	// Inactivity decay
	DecayEnabled    bool          `json:"decay_enabled" yaml:"decay_enabled"`
	DecayRate       float64       `json:"decay_rate" yaml:"decay_rate"` // level per second
	DecayStartDelay time.Duration `json:"decay_start_delay" yaml:"decay_start_delay"`
	DecayMaxLevel   float64       `json:"decay_max_level" yaml:"decay_max_level"`

	// Auto-mode adjustment (simple mode only)
	AutoMode  bool    `json:"auto_mode" yaml:"auto_mode"`
	AutoRange float64 `json:"auto_range" yaml:"auto_range"`

	// Cadence
	ScanInterval     time.Duration `json:"scan_interval" yaml:"scan_interval"`
	TrackingInterval time.Duration `json:"tracking_interval" yaml:"tracking_interval"`

	// Region detection
	RegionGridSize int `json:"region_grid_size" yaml:"region_grid_size"`
	RegionMinCells int `json:"region_min_cells" yaml:"region_min_cells"`

	// Result cache
	CacheMaxAge time.Duration `json:"cache_max_age" yaml:"cache_max_age"`

	// Per-app exclusions, keyed by app/class identifier.
	ExcludedApps map[string]bool `json:"excluded_apps" yaml:"excluded_apps"`

	// Daemon surface
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		Mode:                ModeRegion,
		BrightnessThreshold: 0.85,
		BaseDimLevel:        0.25,
		Differentiate:       false,
		ActiveLevel:         0.15,
		InactiveLevel:       0.35,
		DecayEnabled:        false,
		DecayRate:           0.01,
		DecayStartDelay:     30 * time.Second,
		DecayMaxLevel:       0.8,
		AutoMode:            false,
		AutoRange:           0.15,
		ScanInterval:        2 * time.Second,
		TrackingInterval:    500 * time.Millisecond,
		RegionGridSize:      16,
		RegionMinCells:      2,
		CacheMaxAge:         10 * time.Second,
		ExcludedApps:        map[string]bool{},
		ServerPort:          8420,
		LogLevel:            "info",
	}
}

// Excluded reports whether a window's app identifier is excluded from
// analysis and decay.
func (c Config) Excluded(appID string) bool {
	return appID != "" && c.ExcludedApps[appID]
}

// Clamp forces every tunable into its valid range, in place. Out-of-range
// values never fail a cycle; they are pulled to the nearest bound.
func (c *Config) Clamp() {
	switch c.Mode {
	case ModeSimple, ModeWindow, ModeRegion:
	default:
		c.Mode = ModeRegion
	}

	c.BrightnessThreshold = clamp01(c.BrightnessThreshold)
	// A threshold of exactly 1 makes the overage formula divide by zero.
	if c.BrightnessThreshold > 0.99 {
		c.BrightnessThreshold = 0.99
	}
	c.BaseDimLevel = clamp01(c.BaseDimLevel)
	c.ActiveLevel = clamp01(c.ActiveLevel)
	c.InactiveLevel = clamp01(c.InactiveLevel)
	c.DecayMaxLevel = clamp01(c.DecayMaxLevel)
	c.AutoRange = clamp01(c.AutoRange)

	if c.DecayRate < 0 {
		c.DecayRate = 0
	}
	if c.DecayStartDelay < 0 {
		c.DecayStartDelay = 0
	}

	if c.ScanInterval < 250*time.Millisecond {
		c.ScanInterval = 250 * time.Millisecond
	}
	if c.TrackingInterval < 100*time.Millisecond {
		c.TrackingInterval = 100 * time.Millisecond
	}

	if c.RegionGridSize < 2 {
		c.RegionGridSize = 2
	}
	if c.RegionGridSize > 64 {
		c.RegionGridSize = 64
	}
	if c.RegionMinCells < 1 {
		c.RegionMinCells = 1
	}

	if c.CacheMaxAge < time.Second {
		c.CacheMaxAge = time.Second
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		c.ServerPort = Default().ServerPort
	}
	if c.ExcludedApps == nil {
		c.ExcludedApps = map[string]bool{}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
