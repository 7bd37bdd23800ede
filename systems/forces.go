package systems

import (
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
)

// distEpsilon guards the inverse-distance separation term against
// divide-by-zero when two agents occupy the same point.
const distEpsilon = 1e-4

// Constants bundles the force-model radii and strengths established at init.
// Finalize precomputes the squared thresholds used in the hot path.
type Constants struct {
	SeparationRadius   float64
	SeparationStrength float64

	SpeedInfluenceRadius float64
	SpeedInfluenceFactor float64

	AttractorRadius   float64
	AttractorStrength float64

	EnhancementRadius    float64
	EnhancementSatBoost  float64
	EnhancementLiteBoost float64

	PointerRadius   float64
	PointerStrength float64

	Jitter          float64
	AttractorJitter float64

	// Squared thresholds, set by Finalize
	SeparationRadiusSq     float64
	SpeedInfluenceRadiusSq float64
	AttractorRadiusSq      float64
	EnhancementRadiusSq    float64
	PointerRadiusSq        float64
}

// ConstantsFromConfig builds finalized force constants from configuration.
func ConstantsFromConfig(p config.PhysicsConfig) Constants {
	c := Constants{
		SeparationRadius:     p.SeparationRadius,
		SeparationStrength:   p.SeparationStrength,
		SpeedInfluenceRadius: p.SpeedInfluenceRadius,
		SpeedInfluenceFactor: p.SpeedInfluenceFactor,
		AttractorRadius:      p.AttractorRadius,
		AttractorStrength:    p.AttractorStrength,
		EnhancementRadius:    p.EnhancementRadius,
		EnhancementSatBoost:  p.EnhancementSatBoost,
		EnhancementLiteBoost: p.EnhancementLiteBoost,
		PointerRadius:        p.PointerRadius,
		PointerStrength:      p.PointerStrength,
		Jitter:               p.Jitter,
		AttractorJitter:      p.AttractorJitter,
	}
	c.Finalize()
	return c
}

// Finalize computes the squared thresholds. Must be called after any
// mutation of the radii.
func (c *Constants) Finalize() {
	c.SeparationRadiusSq = c.SeparationRadius * c.SeparationRadius
	c.SpeedInfluenceRadiusSq = c.SpeedInfluenceRadius * c.SpeedInfluenceRadius
	c.AttractorRadiusSq = c.AttractorRadius * c.AttractorRadius
	c.EnhancementRadiusSq = c.EnhancementRadius * c.EnhancementRadius
	c.PointerRadiusSq = c.PointerRadius * c.PointerRadius
}

// ShortRange returns the neighbor-query radius covering both the
// separation and speed-influence rules.
func (c *Constants) ShortRange() float64 {
	return math.Max(c.SeparationRadius, c.SpeedInfluenceRadius)
}

// AttractorRef is a snapshot of one attractor for seek and enhancement
// lookups. Attractors are rare, so a flat slice beats the grid here.
type AttractorRef struct {
	ID  uint32
	Pos r3.Vec
}

// ApplySpeedDiffusion blends the agent's target speed toward each
// non-attractor neighbor within the influence radius. The blend is applied
// cumulatively in neighbor iteration order; the result is order-dependent
// within one tick, which is fine for a qualitative "match the locals" pull.
func ApplySpeedDiffusion(mot *components.Motion, neighbors []Neighbor, c *Constants, agentMap *ecs.Map1[components.Agent], motMap *ecs.Map1[components.Motion]) {
	for _, n := range neighbors {
		if n.DistSq > c.SpeedInfluenceRadiusSq {
			continue
		}
		na := agentMap.Get(n.E)
		if na == nil || na.Kind == components.KindAttractor {
			continue
		}
		nm := motMap.Get(n.E)
		if nm == nil {
			continue
		}
		mot.Speed += (nm.Speed - mot.Speed) * c.SpeedInfluenceFactor
	}
}

// ApplySeparation accumulates a repulsive term away from each neighbor
// within the separation radius, weighted by inverse distance, and adds the
// scaled sum to the velocity. All kinds repel, attractors included.
func ApplySeparation(vel *components.Velocity, neighbors []Neighbor, c *Constants) {
	var sum r3.Vec
	for _, n := range neighbors {
		if n.DistSq > c.SeparationRadiusSq {
			continue
		}
		dist := math.Sqrt(n.DistSq)
		// Unit vector away from the neighbor, scaled by 1/(dist+eps)
		sum = r3.Add(sum, r3.Scale(-1/(dist*(dist+distEpsilon)+distEpsilon), n.Delta))
	}
	vel.Vec = r3.Add(vel.Vec, r3.Scale(c.SeparationStrength, sum))
}

// ResolveAttractor validates or refreshes the agent's sticky attractor
// target. A stale or out-of-range target id is cleared; if none remains,
// the nearest attractor within range is chosen (first found at minimum
// distance wins ties). Returns the target position and whether one exists.
func ResolveAttractor(agent *components.Agent, pos r3.Vec, attractors []AttractorRef, c *Constants) (r3.Vec, bool) {
	if agent.AttractorID != 0 {
		for _, a := range attractors {
			if a.ID != agent.AttractorID {
				continue
			}
			if r3.Norm2(r3.Sub(a.Pos, pos)) <= c.AttractorRadiusSq {
				return a.Pos, true
			}
			break
		}
		// Target gone or out of range: a normal path, not an error
		agent.AttractorID = 0
	}

	bestSq := c.AttractorRadiusSq
	found := false
	var best AttractorRef
	for _, a := range attractors {
		dSq := r3.Norm2(r3.Sub(a.Pos, pos))
		if dSq < bestSq {
			bestSq = dSq
			best = a
			found = true
		}
	}
	if !found {
		return r3.Vec{}, false
	}
	agent.AttractorID = best.ID
	return best.Pos, true
}

// ApplyAttraction adds a velocity term toward the target, scaled by the
// attraction strength and a linear falloff that reaches zero at the radius
// boundary.
func ApplyAttraction(vel *components.Velocity, pos, target r3.Vec, c *Constants) {
	delta := r3.Sub(target, pos)
	dist := r3.Norm(delta)
	if dist >= c.AttractorRadius || dist == 0 {
		return
	}
	falloff := 1 - dist/c.AttractorRadius
	vel.Vec = r3.Add(vel.Vec, r3.Scale(c.AttractorStrength*falloff/dist, delta))
}

// ApplyJitter perturbs each velocity axis independently. Attractors get a
// much smaller magnitude so they read as stable anchors.
func ApplyJitter(vel *components.Velocity, kind components.Kind, c *Constants, rng *rand.Rand) {
	mag := c.Jitter
	if kind == components.KindAttractor {
		mag = c.AttractorJitter
	}
	vel.X += (rng.Float64()*2 - 1) * mag
	vel.Y += (rng.Float64()*2 - 1) * mag
	vel.Z += (rng.Float64()*2 - 1) * mag
}

// ApplyPointer blends the velocity toward the direction of the pointer
// point, scaled to the agent's speed. Soft attraction: a small lerp toward
// the desired vector, never a hard snap. Only called for interactive
// non-attractor agents within the pointer radius.
func ApplyPointer(vel *components.Velocity, pos r3.Vec, speed float64, pointer r3.Vec, c *Constants) {
	delta := r3.Sub(pointer, pos)
	distSq := r3.Norm2(delta)
	if distSq > c.PointerRadiusSq || distSq == 0 {
		return
	}
	desired := r3.Scale(speed/math.Sqrt(distSq), delta)
	vel.Vec = r3.Add(vel.Vec, r3.Scale(c.PointerStrength, r3.Sub(desired, vel.Vec)))
}

// Renormalize rescales the velocity to unit length times the agent's
// current speed. Keeps |velocity| == speed as the per-tick invariant.
func Renormalize(vel *components.Velocity, speed float64) {
	n := r3.Norm(vel.Vec)
	if n == 0 {
		return
	}
	vel.Vec = r3.Scale(speed/n, vel.Vec)
}

// Integrate advances the position by one unit-time Euler step.
func Integrate(pos *components.Position, vel *components.Velocity) {
	pos.Vec = r3.Add(pos.Vec, vel.Vec)
}
