package converter

import "github.com/rsvfx/rsfuse/utils"

// Adjustments are the run-time tunable bake parameters.
type Adjustments struct {
	// DepthThreshold is the far clip in meters; points beyond it are dropped from the maps.
	DepthThreshold float32
	// Brightness lifts colors towards white, 0 to 1.
	Brightness float32
	// Saturation scales color saturation, 0 (gray) to 1 (unchanged).
	Saturation float32
}

// DefaultAdjustments returns a 10 meter threshold and unmodified colors.
func DefaultAdjustments() Adjustments {
	return Adjustments{DepthThreshold: 10, Brightness: 0, Saturation: 1}
}

// Clamped limits brightness and saturation to [0, 1] and the threshold to non-negative values.
func (a Adjustments) Clamped() Adjustments {
	if a.DepthThreshold < 0 {
		a.DepthThreshold = 0
	}
	a.Brightness = float32(utils.Clamp(float64(a.Brightness), 0, 1))
	a.Saturation = float32(utils.Clamp(float64(a.Saturation), 0, 1))
	return a
}
