package device

import (
	"math/rand"
	"sync"
)

// ThermalLevel classifies the device thermal pressure signal.
type ThermalLevel int

// Thermal levels, least to most severe.
const (
	ThermalNominal ThermalLevel = iota
	ThermalFair
	ThermalSerious
	ThermalCritical
)

func (l ThermalLevel) String() string {
	switch l {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	default:
		return "critical"
	}
}

// PowerSource supplies raw battery and thermal signals. Per-platform sensor
// backends implement this; the throttle controller only depends on the
// interface.
type PowerSource interface {
	BatteryPercent() (float64, error)
	ThermalLevel() (ThermalLevel, error)
}

// SimulatedPowerSource is a random-walk power source for platforms without a
// sensor backend. Battery drains slowly; thermal level drifts one step at a
// time.
type SimulatedPowerSource struct {
	mu      sync.Mutex
	battery float64
	thermal ThermalLevel
	rng     *rand.Rand
}

// NewSimulatedPowerSource creates a simulated source starting at the given
// battery percentage.
func NewSimulatedPowerSource(battery float64, seed int64) *SimulatedPowerSource {
	return &SimulatedPowerSource{
		battery: battery,
		thermal: ThermalNominal,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// BatteryPercent implements PowerSource.
func (s *SimulatedPowerSource) BatteryPercent() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery -= s.rng.Float64() * 0.5
	if s.battery < 0 {
		s.battery = 0
	}
	return s.battery, nil
}

// ThermalLevel implements PowerSource.
func (s *SimulatedPowerSource) ThermalLevel() (ThermalLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch step := s.rng.Intn(10); {
	case step == 0 && s.thermal < ThermalCritical:
		s.thermal++
	case step == 1 && s.thermal > ThermalNominal:
		s.thermal--
	}
	return s.thermal, nil
}
