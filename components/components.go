// Package components defines ECS components for the simulation.
package components

import "gonum.org/v1/gonum/spatial/r3"

// Kind classifies an agent's role in the swarm.
type Kind uint8

const (
	KindPrimary   Kind = iota // regular agent, pointer-interactive by default
	KindSecondary             // regular agent, background population
	KindAttractor             // sought by others, immune to flocking forces
)

// String returns a short name for logging.
func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindSecondary:
		return "secondary"
	case KindAttractor:
		return "attractor"
	}
	return "unknown"
}

// LODTier is the simulation fidelity level assigned by camera distance.
type LODTier uint8

const (
	LODFull LODTier = iota
	LODReduced
	LODMinimal
	LODCulled
)

// NumLODTiers is the number of LOD tiers, for per-tier lookup tables.
const NumLODTiers = 4

// String returns a short name for logging.
func (t LODTier) String() string {
	switch t {
	case LODFull:
		return "full"
	case LODReduced:
		return "reduced"
	case LODMinimal:
		return "minimal"
	case LODCulled:
		return "culled"
	}
	return "unknown"
}

// Position is an agent's world position.
type Position struct {
	r3.Vec
}

// Velocity is an agent's velocity.
type Velocity struct {
	r3.Vec
}

// Motion holds the kinematic scalars that are not part of the velocity vector.
type Motion struct {
	Speed        float64 // target |velocity| after renormalization
	FlickerPhase float64 // per-agent phase offset for flicker/opacity
}

// Agent holds identity, lifecycle and steering state.
type Agent struct {
	ID            uint32
	Kind          Kind
	Interactive   bool // eligible for pointer seeking (never true for attractors)
	RemainingLife int32
	AttractorID   uint32 // sticky seek target, 0 = none
	Tier          LODTier
}

// Color is the agent's HSL color state. Hue is in degrees [0, 360),
// saturation and lightness in [0, 1].
type Color struct {
	Hue      float64
	Sat      float64
	Light    float64
	Enhanced bool // within an attractor's enhancement radius this tick
}

// SyncState records the last values actually transmitted for an agent.
// Fields are only written when the corresponding value is included in an
// outbound delta, so comparisons against it implement true delta compression.
type SyncState struct {
	HasPos bool
	Pos    r3.Vec

	HasVel bool
	Vel    r3.Vec

	HasColor bool
	Hue      float64
	Sat      float64
	Light    float64

	HasOpacity bool
	Opacity    float64
}
