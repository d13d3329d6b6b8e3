package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
)

// Frame-skip factors per throttle trigger. When both triggers are active the
// composed factor is the max of the two.
const (
	batterySkipFactor = 2
	thermalSkipFactor = 3
)

// Battery hysteresis: engage below the low mark, release only above the high
// mark. The gap prevents mode flapping around a single threshold.
const (
	batteryEngagePercent  = 20.0
	batteryReleasePercent = 30.0
)

// batteryAllowed is the feature set still permitted under battery
// optimization.
var batteryAllowed = domain.NewFeatureSet(
	domain.FeatureFaceDetection,
	domain.FeatureEmotionAnalysis,
	domain.FeatureVoiceAnalysis,
	domain.FeaturePoseTracking,
)

// thermalAllowed is the feature set still permitted under thermal reduction.
var thermalAllowed = domain.NewFeatureSet(
	domain.FeatureFaceDetection,
	domain.FeatureVoiceAnalysis,
)

// ThrottleController observes battery and thermal signals and converts them
// into the discrete ThrottleState consumed by the analysis pipeline. Both
// triggers are idempotent toggles and compose independently.
type ThrottleController struct {
	profile domain.CapabilityProfile
	src     PowerSource

	batteryInterval time.Duration
	thermalInterval time.Duration

	mu        sync.RWMutex
	batteryOn bool
	thermalOn bool
}

// NewThrottleController creates a controller bound to the fixed capability
// profile. Sampling intervals of zero disable the respective loop (explicit
// toggles still work).
func NewThrottleController(profile domain.CapabilityProfile, src PowerSource, batteryInterval, thermalInterval time.Duration) *ThrottleController {
	return &ThrottleController{
		profile:         profile,
		src:             src,
		batteryInterval: batteryInterval,
		thermalInterval: thermalInterval,
	}
}

// State returns the current throttle state. The reduced feature set is always
// a subset of the profile's enabled features and the frame-skip factor is
// always >= 1.
func (c *ThrottleController) State() domain.ThrottleState {
	c.mu.RLock()
	batteryOn, thermalOn := c.batteryOn, c.thermalOn
	c.mu.RUnlock()

	mode := domain.ThrottleNormal
	skip := 1
	allowed := c.profile.EnabledFeatures.Clone()

	if batteryOn {
		mode = domain.ThrottleBatteryOptimized
		skip = batterySkipFactor
		allowed = allowed.Intersect(batteryAllowed)
	}
	if thermalOn {
		// Thermal is the more severe mode and wins the reported mode.
		mode = domain.ThrottleThermalReduced
		if thermalSkipFactor > skip {
			skip = thermalSkipFactor
		}
		allowed = allowed.Intersect(thermalAllowed)
	}

	return domain.ThrottleState{
		Mode:              mode,
		FrameSkipFactor:   skip,
		ReducedFeatureSet: allowed,
	}
}

// EnableBatteryOptimization turns battery throttling on. Idempotent.
func (c *ThrottleController) EnableBatteryOptimization() { c.setBattery(true) }

// DisableBatteryOptimization turns battery throttling off. Idempotent.
func (c *ThrottleController) DisableBatteryOptimization() { c.setBattery(false) }

// EnableThermalThrottling turns thermal throttling on. Idempotent.
func (c *ThrottleController) EnableThermalThrottling() { c.setThermal(true) }

// DisableThermalThrottling turns thermal throttling off. Idempotent.
func (c *ThrottleController) DisableThermalThrottling() { c.setThermal(false) }

func (c *ThrottleController) setBattery(on bool) {
	c.mu.Lock()
	changed := c.batteryOn != on
	c.batteryOn = on
	c.mu.Unlock()
	if changed {
		c.logModeChange("battery_optimization", on)
	}
}

func (c *ThrottleController) setThermal(on bool) {
	c.mu.Lock()
	changed := c.thermalOn != on
	c.thermalOn = on
	c.mu.Unlock()
	if changed {
		c.logModeChange("thermal_throttling", on)
	}
}

func (c *ThrottleController) logModeChange(trigger string, on bool) {
	state := c.State()
	metrics.SetThrottleMode(string(state.Mode))
	slog.Info("Throttle state changed",
		"trigger", trigger,
		"enabled", on,
		"mode", state.Mode,
		"frame_skip_factor", state.FrameSkipFactor)
}

// Run samples battery and thermal signals until ctx is cancelled. Battery is
// sampled on the battery interval, thermal on the thermal interval; each
// sample classifies the raw level into a discrete toggle with hysteresis.
func (c *ThrottleController) Run(ctx context.Context) {
	var batteryC, thermalC <-chan time.Time

	if c.batteryInterval > 0 {
		t := time.NewTicker(c.batteryInterval)
		defer t.Stop()
		batteryC = t.C
	}
	if c.thermalInterval > 0 {
		t := time.NewTicker(c.thermalInterval)
		defer t.Stop()
		thermalC = t.C
	}

	slog.Info("Throttle sampling started",
		"battery_interval", c.batteryInterval,
		"thermal_interval", c.thermalInterval)

	for {
		select {
		case <-batteryC:
			c.sampleBattery()
		case <-thermalC:
			c.sampleThermal()
		case <-ctx.Done():
			slog.Info("Throttle sampling stopped", "reason", ctx.Err())
			return
		}
	}
}

// sampleBattery applies hysteresis: engage below 20%, release above 30%.
// Readings between the two marks keep the current toggle.
func (c *ThrottleController) sampleBattery() {
	pct, err := c.src.BatteryPercent()
	if err != nil {
		slog.Warn("Battery sample failed", "error", err)
		return
	}
	switch {
	case pct < batteryEngagePercent:
		c.EnableBatteryOptimization()
	case pct > batteryReleasePercent:
		c.DisableBatteryOptimization()
	}
}

// sampleThermal applies hysteresis: engage at serious or above, release only
// back at nominal. A fair reading keeps the current toggle.
func (c *ThrottleController) sampleThermal() {
	level, err := c.src.ThermalLevel()
	if err != nil {
		slog.Warn("Thermal sample failed", "error", err)
		return
	}
	switch {
	case level >= ThermalSerious:
		c.EnableThermalThrottling()
	case level == ThermalNominal:
		c.DisableThermalThrottling()
	}
}
