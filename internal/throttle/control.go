package throttle

import (
	"fmt"
	"math/rand"
)

// ControlSettings bound and parameterize a ControlValue.
type ControlSettings struct {
	Initial float64
	Min     float64
	Max     float64

	// AdditiveStep is added on Increase.
	AdditiveStep float64
	// MultiplicativeFactor scales the value on Decrease.
	MultiplicativeFactor float64
	// Temperature is the standard deviation of the gaussian noise mixed
	// into adjustments. Zero disables noise entirely.
	Temperature float64
}

// Validate checks the settings for construction-time errors.
func (s ControlSettings) Validate() error {
	if s.Min > s.Max {
		return fmt.Errorf("control min %v exceeds max %v", s.Min, s.Max)
	}
	if s.Initial < s.Min || s.Initial > s.Max {
		return fmt.Errorf("control initial %v outside [%v, %v]", s.Initial, s.Min, s.Max)
	}
	if s.Temperature < 0 {
		return fmt.Errorf("control temperature must be >= 0, got %v", s.Temperature)
	}
	return nil
}

// ControlValue is a bounded scalar control knob (request rate or
// concurrency) adjusted AIMD-style: additive increase, multiplicative
// decrease, with optional gaussian exploration noise. Every mutation
// clamps the value into [Min, Max].
type ControlValue struct {
	settings ControlSettings
	value    float64
}

// NewControlValue builds a ControlValue from settings.
func NewControlValue(settings ControlSettings) (*ControlValue, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &ControlValue{settings: settings, value: settings.Initial}, nil
}

// Value returns the current value.
func (v *ControlValue) Value() float64 {
	return v.value
}

// Set assigns the value directly, clamped into bounds.
func (v *ControlValue) Set(value float64) {
	v.value = v.clamp(value)
}

// Increase adds the additive step, optionally with noise.
func (v *ControlValue) Increase(withNoise bool) {
	next := v.value + v.settings.AdditiveStep
	if withNoise {
		next += v.noise()
	}
	v.value = v.clamp(next)
}

// Decrease scales by the multiplicative factor, optionally with noise.
func (v *ControlValue) Decrease(withNoise bool) {
	next := v.value * v.settings.MultiplicativeFactor
	if withNoise {
		next += v.noise()
	}
	v.value = v.clamp(next)
}

// AddNoise perturbs the value by gaussian noise scaled by Temperature.
func (v *ControlValue) AddNoise() {
	v.value = v.clamp(v.value + v.noise())
}

// Reset restores the initial value.
func (v *ControlValue) Reset() {
	v.value = v.settings.Initial
}

func (v *ControlValue) noise() float64 {
	if v.settings.Temperature == 0 {
		return 0
	}
	return rand.NormFloat64() * v.settings.Temperature
}

func (v *ControlValue) clamp(value float64) float64 {
	if value < v.settings.Min {
		return v.settings.Min
	}
	if value > v.settings.Max {
		return v.settings.Max
	}
	return value
}
