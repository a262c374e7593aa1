// Package decide turns raw brightness and window state into target dim
// levels. Everything here is pure: inputs arrive explicitly, outputs are
// immutable values, and no clock or config is read behind the caller's back.
package decide

import (
	"time"

	"github.com/softdim/softdim/internal/config"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/window"
)

// Channel identifies which decision stream a Decision belongs to. Each
// channel is reconciled independently against its own overlays.
type Channel string

const (
	ChannelWindow Channel = "window"
	ChannelRegion Channel = "region"
	ChannelDecay  Channel = "decay"
)

// Decision is one window's (or region's) target opacity for a cycle. It is
// produced once per analysis pass and consumed exactly once by
// reconciliation.
type Decision struct {
	Channel   Channel          `json:"channel"`
	WindowID  window.WindowID  `json:"window_id"`
	Level     float64          `json:"level"`
	PID       int              `json:"pid"`
	Frontmost bool             `json:"frontmost"`
	Region    *luminance.RectF `json:"region,omitempty"`
}

// WindowLevel computes the dim level for a whole window.
func WindowLevel(brightness float64, frontmost bool, cfg config.Config) float64 {
	brightness = clamp01(brightness)
	if brightness <= cfg.BrightnessThreshold {
		return 0
	}
	if cfg.Differentiate {
		if frontmost {
			return clamp01(cfg.ActiveLevel)
		}
		return clamp01(cfg.InactiveLevel)
	}
	overage := (brightness - cfg.BrightnessThreshold) / (1 - cfg.BrightnessThreshold)
	return clamp01(cfg.BaseDimLevel * (0.5 + 0.5*overage))
}

// RegionLevel computes the dim level for one bright region. The overage
// formula anchors on the global base level; frontmost windows are capped at
// the active ceiling when differentiation is on, and any nonzero result is
// floored so the overlay stays perceptible.
func RegionLevel(brightness float64, frontmost bool, cfg config.Config) float64 {
	brightness = clamp01(brightness)
	if brightness <= cfg.BrightnessThreshold {
		return 0
	}

	overage := (brightness - cfg.BrightnessThreshold) / (1 - cfg.BrightnessThreshold)
	level := cfg.BaseDimLevel * (0.5 + 0.5*overage)

	floor := cfg.BaseDimLevel * 0.5
	if floor < 0.15 {
		floor = 0.15
	}
	if level < floor {
		level = floor
	}

	// The active ceiling binds last: a high base level must not let the
	// perceptibility floor push a frontmost region back above it.
	if frontmost && cfg.Differentiate && level > cfg.ActiveLevel {
		level = cfg.ActiveLevel
	}

	return clamp01(level)
}

// DecayLevel computes the inactivity-decay dim level. Active windows are
// always 0; inactive ones ramp linearly after the start delay, capped at
// the configured maximum. The result is non-decreasing for as long as
// lastActive stays fixed.
func DecayLevel(now, lastActive time.Time, active bool, cfg config.Config) float64 {
	if active {
		return 0
	}
	inactive := now.Sub(lastActive).Seconds()
	delayed := inactive - cfg.DecayStartDelay.Seconds()
	if delayed < 0 {
		delayed = 0
	}
	level := cfg.DecayRate * delayed
	if level > cfg.DecayMaxLevel {
		level = cfg.DecayMaxLevel
	}
	return clamp01(level)
}

// AutoAdjusted shifts a base dim level by the measured overall brightness.
// At brightness 0.5 the result is exactly the base; it scales linearly to
// base±range at the extremes.
func AutoAdjusted(base, brightness, adjustRange float64) float64 {
	return clamp01(base + (clamp01(brightness)-0.5)*adjustRange*2)
}

// FromWindow builds the whole-window decision for one analyzed window,
// using the peak region brightness as the window's brightness.
func FromWindow(w window.TrackedWindow, regions []luminance.Region, cfg config.Config) Decision {
	brightness := 0.0
	for _, r := range regions {
		if r.Brightness > brightness {
			brightness = r.Brightness
		}
	}
	return Decision{
		Channel:   ChannelWindow,
		WindowID:  w.ID,
		Level:     WindowLevel(brightness, w.Frontmost, cfg),
		PID:       w.PID,
		Frontmost: w.Frontmost,
	}
}

// FromRegions builds region decisions for one analyzed window, dropping
// regions that resolve to level 0.
func FromRegions(w window.TrackedWindow, regions []luminance.Region, cfg config.Config) []Decision {
	decisions := make([]Decision, 0, len(regions))
	for _, r := range regions {
		level := RegionLevel(r.Brightness, w.Frontmost, cfg)
		if level == 0 {
			continue
		}
		bounds := r.Bounds
		decisions = append(decisions, Decision{
			Channel:   ChannelRegion,
			WindowID:  w.ID,
			Level:     level,
			PID:       w.PID,
			Frontmost: w.Frontmost,
			Region:    &bounds,
		})
	}
	return decisions
}

// FromDecay builds the decay decision for one window.
func FromDecay(w window.TrackedWindow, now, lastActive time.Time, cfg config.Config) Decision {
	return Decision{
		Channel:   ChannelDecay,
		WindowID:  w.ID,
		Level:     DecayLevel(now, lastActive, w.Frontmost, cfg),
		PID:       w.PID,
		Frontmost: w.Frontmost,
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
