// Package sim owns the simulation state and advances it one synchronous
// tick at a time. Real-time pacing, telemetry cadence and event consumption
// belong to the owner; see Worker for the message-passing boundary.
package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/systems"
	"github.com/pthm-cable/drift/telemetry"
)

// ErrNotInitialized is returned when a tick-processing call arrives before
// Init. This is a programmer error in the owner and should be treated as
// fatal rather than retried.
var ErrNotInitialized = errors.New("sim: tick processing before init")

// ErrAlreadyInitialized is returned when Init is called twice.
var ErrAlreadyInitialized = errors.New("sim: init called twice")

// StepInput carries the optional per-tick inputs from the owner.
type StepInput struct {
	Pointer  *r3.Vec                       // projected pointer world point, nil when absent
	Camera   *r3.Vec                       // camera position for LOD classification
	LODHints map[uint32]components.LODTier // per-agent overrides for this tick
}

// StepOutput is the result of one tick: the delta-compressed state diff,
// the ids expired this tick (in expiry order) and the connection list.
type StepOutput struct {
	Tick        int32
	Changed     []systems.EntityDelta
	Removed     []uint32
	Connections []systems.Connection
	Population  int
}

// Simulation holds the complete simulation state. All state is private to
// one logical worker; there is no internal locking.
type Simulation struct {
	world *ecs.World
	rng   *rand.Rand

	mapper *ecs.Map6[
		components.Agent,
		components.Position,
		components.Velocity,
		components.Motion,
		components.Color,
		components.SyncState,
	]
	filter *ecs.Filter6[
		components.Agent,
		components.Position,
		components.Velocity,
		components.Motion,
		components.Color,
		components.SyncState,
	]

	// Individual component mappers for lookups
	posMap   *ecs.Map1[components.Position]
	motMap   *ecs.Map1[components.Motion]
	agentMap *ecs.Map1[components.Agent]

	grid *systems.SpatialGrid
	lod  *systems.LODController
	sync *systems.StateSync

	consts       systems.Constants
	lifecycleCfg config.LifecycleConfig

	// id-keyed index into the live set; sticky references resolve through it
	byID       map[uint32]ecs.Entity
	attractors []systems.AttractorRef

	tick          int32
	nextID        uint32
	aliveCount    int
	entityCeiling int
	camera        r3.Vec
	initialized   bool

	perf        *telemetry.PerfCollector
	neighborBuf []systems.Neighbor
}

// New creates an uninitialized simulation. Tick processing fails until
// Init establishes the entity set and physics constants.
func New(cfg *config.Config, seed int64, perf *telemetry.PerfCollector) *Simulation {
	world := ecs.NewWorld()
	initialTier := cfg.Quality.Tiers[cfg.Derived.InitialTierIdx]

	s := &Simulation{
		world: world,
		rng:   rand.New(rand.NewSource(seed)),
		mapper: ecs.NewMap6[
			components.Agent,
			components.Position,
			components.Velocity,
			components.Motion,
			components.Color,
			components.SyncState,
		](world),
		filter: ecs.NewFilter6[
			components.Agent,
			components.Position,
			components.Velocity,
			components.Motion,
			components.Color,
			components.SyncState,
		](world),
		posMap:   ecs.NewMap1[components.Position](world),
		motMap:   ecs.NewMap1[components.Motion](world),
		agentMap: ecs.NewMap1[components.Agent](world),

		grid:         systems.NewSpatialGrid(cfg.Physics.GridCellSize),
		lod:          systems.NewLODController(initialTier),
		lifecycleCfg: cfg.Lifecycle,

		byID:          make(map[uint32]ecs.Entity, 1024),
		nextID:        1,
		entityCeiling: initialTier.MaxEntities,
		perf:          perf,
	}
	s.sync = systems.NewStateSync(world, cfg.Sync, s.rng)
	s.sync.SetMaxConnections(initialTier.MaxConnections)
	return s
}

// Init establishes the live entity set and the tunable radii/strengths.
// One-time; a second call is an error.
func (s *Simulation) Init(seeds []Seed, consts systems.Constants) error {
	if s.initialized {
		return ErrAlreadyInitialized
	}
	consts.Finalize()
	s.consts = consts
	s.initialized = true

	for i := range seeds {
		if _, err := s.AddEntity(seeds[i]); err != nil {
			return fmt.Errorf("seeding entity %d: %w", i, err)
		}
	}
	return nil
}

// Population returns the live entity count.
func (s *Simulation) Population() int {
	return s.aliveCount
}

// Tick returns the current tick index.
func (s *Simulation) Tick() int32 {
	return s.tick
}

// ApplyQualityTier pushes a quality tier's settings into the LOD
// controller, the connection limits and the population ceiling. Stored
// agent state is never mutated retroactively; only future classifications
// and spawns see the new limits.
func (s *Simulation) ApplyQualityTier(t config.QualityTierConfig) {
	s.lod.Configure(t)
	s.sync.SetMaxConnections(t.MaxConnections)
	s.entityCeiling = t.MaxEntities
}

// Step advances the simulation by one tick: LOD tagging, aging and
// spawning, spatial rebuild, force application with integration, then
// state-sync collection.
func (s *Simulation) Step(in StepInput) (StepOutput, error) {
	if !s.initialized {
		return StepOutput{}, ErrNotInitialized
	}
	s.tick++
	if in.Camera != nil {
		s.camera = *in.Camera
	}

	if s.perf != nil {
		s.perf.StartTick()
		s.perf.StartPhase(telemetry.PhaseLOD)
	}
	s.classifyLOD(in.LODHints)

	if s.perf != nil {
		s.perf.StartPhase(telemetry.PhaseLifecycle)
	}
	s.spawnTick()
	removed := s.ageAndExpire()

	if s.perf != nil {
		s.perf.StartPhase(telemetry.PhaseSpatial)
	}
	s.rebuildIndex()

	if s.perf != nil {
		s.perf.StartPhase(telemetry.PhaseForces)
	}
	s.applyForces(in.Pointer)

	if s.perf != nil {
		s.perf.StartPhase(telemetry.PhaseSync)
	}
	changed := s.sync.CollectDeltas(s.tick, s.attractors, &s.consts)
	connections := s.sync.CollectConnections(s.grid, s.lod)

	if s.perf != nil {
		s.perf.EndTick()
	}

	return StepOutput{
		Tick:        s.tick,
		Changed:     changed,
		Removed:     removed,
		Connections: connections,
		Population:  s.aliveCount,
	}, nil
}

// classifyLOD assigns each agent's fidelity tier from camera distance,
// with explicit per-id hints taking precedence.
func (s *Simulation) classifyLOD(hints map[uint32]components.LODTier) {
	query := s.filter.Query()
	for query.Next() {
		agent, pos, _, _, _, _ := query.Get()
		if tier, ok := hints[agent.ID]; ok {
			agent.Tier = tier
			continue
		}
		agent.Tier = s.lod.Classify(pos.Vec, s.camera)
	}
}

// rebuildIndex rebuilds the spatial grid and the attractor snapshot from
// scratch. Every position changes every tick, so a full rebuild is cheaper
// than incremental maintenance.
func (s *Simulation) rebuildIndex() {
	s.grid.Clear()
	s.attractors = s.attractors[:0]

	query := s.filter.Query()
	for query.Next() {
		agent, pos, _, _, _, _ := query.Get()
		s.grid.Insert(query.Entity(), pos.Vec)
		if agent.Kind == components.KindAttractor {
			s.attractors = append(s.attractors, systems.AttractorRef{ID: agent.ID, Pos: pos.Vec})
		}
	}
}

// applyForces runs the force model for every agent whose LOD tier permits
// a physics update this tick, then renormalizes and integrates. Culled
// agents are skipped entirely: no velocity or position change.
func (s *Simulation) applyForces(pointer *r3.Vec) {
	shortRange := s.consts.ShortRange()

	query := s.filter.Query()
	for query.Next() {
		agent, pos, vel, mot, _, _ := query.Get()

		if !s.lod.ShouldUpdate(agent.Tier, s.tick) {
			continue
		}

		if agent.Kind == components.KindAttractor {
			// Attractors drift: jitter only, no flocking forces
			systems.ApplyJitter(vel, agent.Kind, &s.consts, s.rng)
			systems.Renormalize(vel, mot.Speed)
			systems.Integrate(pos, vel)
			continue
		}

		s.neighborBuf = s.grid.QueryRadiusInto(s.neighborBuf[:0], pos.Vec, shortRange, query.Entity(), s.posMap)

		systems.ApplySpeedDiffusion(mot, s.neighborBuf, &s.consts, s.agentMap, s.motMap)
		systems.ApplySeparation(vel, s.neighborBuf, &s.consts)

		if target, ok := systems.ResolveAttractor(agent, pos.Vec, s.attractors, &s.consts); ok {
			systems.ApplyAttraction(vel, pos.Vec, target, &s.consts)
		}

		systems.ApplyJitter(vel, agent.Kind, &s.consts, s.rng)

		if pointer != nil && agent.Interactive {
			systems.ApplyPointer(vel, pos.Vec, mot.Speed, *pointer, &s.consts)
		}

		systems.Renormalize(vel, mot.Speed)
		systems.Integrate(pos, vel)
	}
}
