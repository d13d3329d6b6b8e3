// Package device provides capability profiling and resource throttling.
package device

import (
	"bufio"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/poiselabs/poise/internal/domain"
)

// HardwareInfo is the raw device signal the profiler classifies.
type HardwareInfo struct {
	EraYear  int // approximate device generation year
	MemoryMB int
	HasGPU   bool
}

// HardwareSource supplies device signals for capability classification.
type HardwareSource interface {
	Info() (HardwareInfo, error)
}

// Tier thresholds over (device-era, memory).
const (
	highEraYear  = 2021
	highMemoryMB = 6144
	midEraYear   = 2018
	midMemoryMB  = 3072
)

// Profiler derives a fixed CapabilityProfile once per process lifetime.
type Profiler struct {
	src     HardwareSource
	once    sync.Once
	profile domain.CapabilityProfile
}

// NewProfiler creates a profiler over the given hardware source.
func NewProfiler(src HardwareSource) *Profiler {
	return &Profiler{src: src}
}

// Detect returns the capability profile, memoized after the first call.
// If device signals are unavailable it classifies as low tier: fail safe,
// never fail open to high.
func (p *Profiler) Detect() domain.CapabilityProfile {
	p.once.Do(func() {
		info, err := p.src.Info()
		if err != nil {
			slog.Warn("Hardware probe failed, defaulting to low tier", "error", err)
			p.profile = profileForTier(domain.TierLow, false)
			return
		}
		tier := classify(info)
		p.profile = profileForTier(tier, info.HasGPU)
		slog.Info("Capability profile detected",
			"tier", tier,
			"era_year", info.EraYear,
			"memory_mb", info.MemoryMB,
			"gpu_eligible", p.profile.GPUEligible)
	})
	return p.profile
}

func classify(info HardwareInfo) domain.DeviceTier {
	switch {
	case info.EraYear >= highEraYear && info.MemoryMB >= highMemoryMB:
		return domain.TierHigh
	case info.EraYear >= midEraYear && info.MemoryMB >= midMemoryMB:
		return domain.TierMid
	default:
		return domain.TierLow
	}
}

// profileForTier maps each tier to its fixed frame-rate and feature table.
// GPU eligibility additionally requires the device to report a GPU.
func profileForTier(tier domain.DeviceTier, hasGPU bool) domain.CapabilityProfile {
	switch tier {
	case domain.TierHigh:
		return domain.CapabilityProfile{
			Tier:         domain.TierHigh,
			MaxFrameRate: 30,
			EnabledFeatures: domain.NewFeatureSet(
				domain.FeatureFaceDetection,
				domain.FeatureEmotionAnalysis,
				domain.FeatureVoiceAnalysis,
				domain.FeaturePoseTracking,
				domain.FeatureHandTracking,
				domain.FeatureGestureAnalysis,
			),
			GPUEligible: hasGPU,
		}
	case domain.TierMid:
		return domain.CapabilityProfile{
			Tier:         domain.TierMid,
			MaxFrameRate: 24,
			EnabledFeatures: domain.NewFeatureSet(
				domain.FeatureFaceDetection,
				domain.FeatureEmotionAnalysis,
				domain.FeatureVoiceAnalysis,
				domain.FeaturePoseTracking,
			),
			GPUEligible: hasGPU,
		}
	default:
		return domain.CapabilityProfile{
			Tier:         domain.TierLow,
			MaxFrameRate: 15,
			EnabledFeatures: domain.NewFeatureSet(
				domain.FeatureFaceDetection,
				domain.FeatureEmotionAnalysis,
				domain.FeatureVoiceAnalysis,
			),
			GPUEligible: false,
		}
	}
}

// StaticSource returns fixed hardware info. Used in tests and for platforms
// where the deployment pins the device class.
type StaticSource struct {
	HW  HardwareInfo
	Err error
}

// Info implements HardwareSource.
func (s StaticSource) Info() (HardwareInfo, error) {
	return s.HW, s.Err
}

// HostSource probes the local host: memory from /proc/meminfo, era estimated
// from the logical CPU count. Era from CPU count is a coarse proxy; pinned
// deployments should use StaticSource instead.
type HostSource struct{}

// Info implements HardwareSource.
func (HostSource) Info() (HardwareInfo, error) {
	memMB, err := readMemTotalMB("/proc/meminfo")
	if err != nil {
		return HardwareInfo{}, err
	}

	era := midEraYear - 1
	switch cpus := runtime.NumCPU(); {
	case cpus >= 8:
		era = highEraYear
	case cpus >= 4:
		era = midEraYear
	}

	return HardwareInfo{
		EraYear:  era,
		MemoryMB: memMB,
		HasGPU:   false,
	}, nil
}

func readMemTotalMB(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, err
		}
		return kb / 1024, nil
	}
	return 0, os.ErrNotExist
}
