package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
)

// LODController classifies agents into fidelity tiers by camera distance
// and gates which agents receive a physics update on a given tick. Its
// thresholds are swapped at runtime by the quality controller;
// reconfiguration only affects future classifications.
type LODController struct {
	reducedSq float64
	minimalSq float64
	culledSq  float64

	// Per-tier physics cadence: update when tick % interval == 0.
	// interval 0 means never (culled).
	intervals [components.NumLODTiers]int32

	density [components.NumLODTiers]float64
}

// NewLODController creates a controller configured for the given tier.
func NewLODController(t config.QualityTierConfig) *LODController {
	l := &LODController{}
	l.Configure(t)
	return l
}

// Configure applies a quality tier's distances, update rates and
// connection densities.
func (l *LODController) Configure(t config.QualityTierConfig) {
	d := t.LODDistances
	l.reducedSq = d.Reduced * d.Reduced
	l.minimalSq = d.Minimal * d.Minimal
	l.culledSq = d.Culled * d.Culled

	l.intervals[components.LODFull] = rateInterval(t.UpdateRates.Full)
	l.intervals[components.LODReduced] = rateInterval(t.UpdateRates.Reduced)
	l.intervals[components.LODMinimal] = rateInterval(t.UpdateRates.Minimal)
	l.intervals[components.LODCulled] = 0

	l.density[components.LODFull] = t.ConnectionDensity.Full
	l.density[components.LODReduced] = t.ConnectionDensity.Reduced
	l.density[components.LODMinimal] = t.ConnectionDensity.Minimal
	l.density[components.LODCulled] = 0
}

// rateInterval converts an update-rate fraction into a tick interval.
func rateInterval(rate float64) int32 {
	if rate >= 1 {
		return 1
	}
	if rate <= 0 {
		return 0
	}
	return int32(math.Round(1 / rate))
}

// Classify returns the fidelity tier for an agent at pos seen from camera.
// Squared-distance comparison against the three ascending boundaries.
func (l *LODController) Classify(pos, camera r3.Vec) components.LODTier {
	dSq := r3.Norm2(r3.Sub(pos, camera))
	switch {
	case dSq < l.reducedSq:
		return components.LODFull
	case dSq < l.minimalSq:
		return components.LODReduced
	case dSq < l.culledSq:
		return components.LODMinimal
	}
	return components.LODCulled
}

// ShouldUpdate reports whether an agent in the given tier receives a
// physics update this tick. Culled agents never do.
func (l *LODController) ShouldUpdate(tier components.LODTier, tick int32) bool {
	interval := l.intervals[tier]
	if interval == 0 {
		return false
	}
	return tick%interval == 0
}

// ConnectionDensity returns the connection-graph thinning multiplier for a
// tier. Culled agents contribute no connections.
func (l *LODController) ConnectionDensity(tier components.LODTier) float64 {
	return l.density[tier]
}
