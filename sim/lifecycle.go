package sim

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
)

// Seed describes one entity to create. Zero/nil fields are randomized from
// the lifecycle configuration. Randomize additionally picks the kind and
// interactive flag by the configured spawn chances.
type Seed struct {
	Kind         components.Kind
	Randomize    bool
	Interactive  *bool
	Position     *r3.Vec
	Direction    *r3.Vec // velocity direction hint, scaled to the resolved speed
	Speed        float64 // <= 0: randomized (attractors use the fixed slow speed)
	Lifespan     int32   // <= 0: uniform draw from [MinLifespan, MaxLifespan]
	FlickerPhase *float64
	Hue          *float64 // base hue override; default is per-kind with jitter
}

// RandomSeeds returns n fully randomized seeds, for initial populations.
func RandomSeeds(n int) []Seed {
	seeds := make([]Seed, n)
	for i := range seeds {
		seeds[i].Randomize = true
	}
	return seeds
}

// AddEntity injects one entity mid-run. Fails before Init.
func (s *Simulation) AddEntity(seed Seed) (uint32, error) {
	if !s.initialized {
		return 0, ErrNotInitialized
	}
	return s.spawn(seed), nil
}

// spawnTick realizes the fractional spawn rate r as floor(r) unconditional
// spawns plus one more with probability r-floor(r), giving the correct
// expected rate for any r. Spawns stop at the quality tier's ceiling.
// Steady state settles near spawnRate * averageLifespan.
func (s *Simulation) spawnTick() {
	r := s.lifecycleCfg.SpawnRate
	n := int(math.Floor(r))
	if s.rng.Float64() < r-math.Floor(r) {
		n++
	}
	for i := 0; i < n && s.aliveCount < s.entityCeiling; i++ {
		s.spawn(Seed{Randomize: true})
	}
}

// spawn creates one entity from a seed, resolving randomized fields.
func (s *Simulation) spawn(seed Seed) uint32 {
	cfg := s.lifecycleCfg

	kind := seed.Kind
	if seed.Randomize {
		kind = s.randomKind()
	}

	interactive := false
	if seed.Interactive != nil {
		interactive = *seed.Interactive
	} else if kind == components.KindPrimary {
		interactive = s.rng.Float64() < cfg.InteractiveChance
	}
	if kind == components.KindAttractor {
		interactive = false
	}

	speed := seed.Speed
	if speed <= 0 {
		if kind == components.KindAttractor {
			speed = cfg.AttractorSpeed
		} else {
			speed = cfg.MinSpeed + s.rng.Float64()*(cfg.MaxSpeed-cfg.MinSpeed)
		}
	}

	var position r3.Vec
	if seed.Position != nil {
		position = *seed.Position
	} else {
		position = s.randomSpherePoint(cfg.SpawnRadiusMin, cfg.SpawnRadiusMax)
	}

	dir := s.randomUnit()
	if seed.Direction != nil && r3.Norm(*seed.Direction) > 0 {
		dir = r3.Unit(*seed.Direction)
	}

	lifespan := seed.Lifespan
	if lifespan <= 0 {
		lifespan = cfg.MinLifespan + s.rng.Int31n(cfg.MaxLifespan-cfg.MinLifespan+1)
	}

	phase := s.rng.Float64() * 2 * math.Pi
	if seed.FlickerPhase != nil {
		phase = *seed.FlickerPhase
	}

	hue := s.baseHue(kind) + (s.rng.Float64()*2-1)*cfg.HueJitter
	if seed.Hue != nil {
		hue = *seed.Hue
	}

	id := s.nextID
	s.nextID++

	agent := components.Agent{
		ID:            id,
		Kind:          kind,
		Interactive:   interactive,
		RemainingLife: lifespan,
	}
	pos := components.Position{Vec: position}
	vel := components.Velocity{Vec: r3.Scale(speed, dir)}
	mot := components.Motion{Speed: speed, FlickerPhase: phase}
	color := components.Color{Hue: hue, Sat: cfg.BaseSaturation, Light: cfg.BaseLightness}
	syncState := components.SyncState{}

	entity := s.mapper.NewEntity(&agent, &pos, &vel, &mot, &color, &syncState)
	s.byID[id] = entity
	s.aliveCount++

	return id
}

// randomKind picks a spawn kind by the configured chances.
func (s *Simulation) randomKind() components.Kind {
	if s.rng.Float64() < s.lifecycleCfg.AttractorChance {
		return components.KindAttractor
	}
	if s.rng.Float64() < 0.5 {
		return components.KindPrimary
	}
	return components.KindSecondary
}

// baseHue returns the per-kind base hue.
func (s *Simulation) baseHue(kind components.Kind) float64 {
	switch kind {
	case components.KindAttractor:
		return s.lifecycleCfg.AttractorHue
	case components.KindSecondary:
		return s.lifecycleCfg.SecondaryHue
	}
	return s.lifecycleCfg.PrimaryHue
}

// randomSpherePoint draws a point uniformly on a random direction, with
// radius uniform in [minR, maxR].
func (s *Simulation) randomSpherePoint(minR, maxR float64) r3.Vec {
	radius := minR + s.rng.Float64()*(maxR-minR)
	return r3.Scale(radius, s.randomUnit())
}

// randomUnit returns a uniformly distributed unit vector.
func (s *Simulation) randomUnit() r3.Vec {
	z := s.rng.Float64()*2 - 1
	theta := s.rng.Float64() * 2 * math.Pi
	r := math.Sqrt(1 - z*z)
	return r3.Vec{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}
}

// ageAndExpire decrements every agent's remaining life and removes the
// expired ones. Returns the removed ids in expiry order.
func (s *Simulation) ageAndExpire() []uint32 {
	// First pass: age and collect expired (query must complete before
	// structural changes)
	type expired struct {
		entity ecs.Entity
		id     uint32
	}
	var toRemove []expired

	query := s.filter.Query()
	for query.Next() {
		agent, _, _, _, _, _ := query.Get()
		agent.RemainingLife--
		if agent.RemainingLife <= 0 {
			toRemove = append(toRemove, expired{entity: query.Entity(), id: agent.ID})
		}
	}

	if len(toRemove) == 0 {
		return nil
	}

	removed := make([]uint32, 0, len(toRemove))
	for _, e := range toRemove {
		s.mapper.Remove(e.entity)
		delete(s.byID, e.id)
		s.aliveCount--
		removed = append(removed, e.id)
	}
	return removed
}
