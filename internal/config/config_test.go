package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsAlreadyValid(t *testing.T) {
	cfg := Default()
	clamped := Default()
	clamped.Clamp()

	if cfg.Mode != clamped.Mode ||
		cfg.BrightnessThreshold != clamped.BrightnessThreshold ||
		cfg.ScanInterval != clamped.ScanInterval ||
		cfg.RegionGridSize != clamped.RegionGridSize ||
		cfg.ServerPort != clamped.ServerPort {
		t.Fatalf("defaults changed under Clamp: %+v vs %+v", cfg, clamped)
	}
}

func TestClampPullsOutOfRangeValuesToBounds(t *testing.T) {
	cfg := Config{
		Mode:                Mode("bogus"),
		BrightnessThreshold: 1.5,
		BaseDimLevel:        -0.3,
		ActiveLevel:         2,
		DecayRate:           -1,
		DecayStartDelay:     -time.Minute,
		ScanInterval:        time.Millisecond,
		TrackingInterval:    0,
		RegionGridSize:      1000,
		RegionMinCells:      0,
		CacheMaxAge:         0,
		ServerPort:          -1,
	}
	cfg.Clamp()

	if cfg.Mode != ModeRegion {
		t.Errorf("unknown mode should fall back to region, got %q", cfg.Mode)
	}
	if cfg.BrightnessThreshold != 0.99 {
		t.Errorf("threshold must cap at 0.99, got %v", cfg.BrightnessThreshold)
	}
	if cfg.BaseDimLevel != 0 || cfg.ActiveLevel != 1 {
		t.Errorf("levels not clamped to [0,1]: base=%v active=%v", cfg.BaseDimLevel, cfg.ActiveLevel)
	}
	if cfg.DecayRate != 0 || cfg.DecayStartDelay != 0 {
		t.Errorf("negative decay values must clamp to zero: %v %v", cfg.DecayRate, cfg.DecayStartDelay)
	}
	if cfg.ScanInterval != 250*time.Millisecond {
		t.Errorf("scan interval floor, got %v", cfg.ScanInterval)
	}
	if cfg.TrackingInterval != 100*time.Millisecond {
		t.Errorf("tracking interval floor, got %v", cfg.TrackingInterval)
	}
	if cfg.RegionGridSize != 64 || cfg.RegionMinCells != 1 {
		t.Errorf("grid bounds, got size=%d cells=%d", cfg.RegionGridSize, cfg.RegionMinCells)
	}
	if cfg.CacheMaxAge != time.Second {
		t.Errorf("cache max age floor, got %v", cfg.CacheMaxAge)
	}
	if cfg.ServerPort != Default().ServerPort {
		t.Errorf("invalid port must fall back to default, got %d", cfg.ServerPort)
	}
	if cfg.ExcludedApps == nil {
		t.Error("nil exclusion map must be initialized")
	}
}

func TestModeIntelligent(t *testing.T) {
	if ModeSimple.Intelligent() {
		t.Error("simple mode must not require capture")
	}
	if !ModeWindow.Intelligent() || !ModeRegion.Intelligent() {
		t.Error("window and region modes require capture")
	}
}

func TestExcluded(t *testing.T) {
	cfg := Default()
	cfg.ExcludedApps["org.example.Player"] = true

	if !cfg.Excluded("org.example.Player") {
		t.Error("listed app must be excluded")
	}
	if cfg.Excluded("org.example.Editor") {
		t.Error("unlisted app must not be excluded")
	}
	if cfg.Excluded("") {
		t.Error("empty app identifier is never excluded")
	}
}

func TestManagerCreatesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if got := m.Get(); got.Mode != ModeRegion || got.BrightnessThreshold != 0.85 {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := m.Get()
	cfg.Mode = ModeWindow
	cfg.BaseDimLevel = 0.4
	cfg.ExcludedApps["org.example.Player"] = true
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.Get()
	if got.Mode != ModeWindow || got.BaseDimLevel != 0.4 {
		t.Fatalf("persisted config lost changes: %+v", got)
	}
	if !got.Excluded("org.example.Player") {
		t.Fatal("exclusion list not persisted")
	}
}

func TestManagerUpdateClampsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var notified []Config
	m.OnChange(func(cfg Config) { notified = append(notified, cfg) })

	cfg := m.Get()
	cfg.BrightnessThreshold = 5
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(notified) != 1 {
		t.Fatalf("expected 1 change notification, got %d", len(notified))
	}
	if notified[0].BrightnessThreshold != 0.99 {
		t.Fatalf("subscribers must see the clamped value, got %v", notified[0].BrightnessThreshold)
	}
	if m.Get().BrightnessThreshold != 0.99 {
		t.Fatalf("stored value not clamped: %v", m.Get().BrightnessThreshold)
	}
}

func TestManagerGetReturnsIsolatedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	snap := m.Get()
	snap.ExcludedApps["mutated"] = true

	if m.Get().Excluded("mutated") {
		t.Fatal("mutating a snapshot must not leak into the manager")
	}
}

func TestManagerRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("mode: [not, a, scalar"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewManager(path); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}
