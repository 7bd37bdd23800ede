package sim

import (
	"math"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/systems"
)

// testConfig loads the embedded defaults with spawning and jitter disabled
// so scenarios stay deterministic.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	cfg.Lifecycle.SpawnRate = 0
	cfg.Physics.Jitter = 0
	cfg.Physics.AttractorJitter = 0
	return cfg
}

func boolPtr(v bool) *bool    { return &v }
func vecPtr(v r3.Vec) *r3.Vec { return &v }

func TestStep_BeforeInitFails(t *testing.T) {
	s := New(testConfig(t), 1, nil)

	if _, err := s.Step(StepInput{}); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := s.AddEntity(Seed{Randomize: true}); err != ErrNotInitialized {
		t.Errorf("expected ErrNotInitialized from AddEntity, got %v", err)
	}
}

func TestInit_Twice(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)
	consts := systems.ConstantsFromConfig(cfg.Physics)

	if err := s.Init(nil, consts); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if err := s.Init(nil, consts); err != ErrAlreadyInitialized {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

// The concrete attraction scenario: one attractor at the origin, one
// primary 2 units away, one 20 units away, attraction radius 15. After one
// tick the near entity gains velocity toward the attractor; the far one
// does not.
func TestStep_AttractionScenario(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)

	consts := systems.ConstantsFromConfig(cfg.Physics)
	if consts.AttractorRadius != 15 {
		t.Fatalf("scenario expects attraction radius 15, got %v", consts.AttractorRadius)
	}

	seeds := []Seed{
		{Kind: components.KindAttractor, Position: vecPtr(r3.Vec{}), Speed: 0.01},
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 2}), Direction: vecPtr(r3.Vec{Y: 1}), Speed: 0.1, Interactive: boolPtr(false)},
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 20}), Direction: vecPtr(r3.Vec{Y: 1}), Speed: 0.1, Interactive: boolPtr(false)},
	}
	if err := s.Init(seeds, consts); err != nil {
		t.Fatalf("init: %v", err)
	}

	camera := r3.Vec{}
	if _, err := s.Step(StepInput{Camera: &camera}); err != nil {
		t.Fatalf("step: %v", err)
	}

	velMap := ecs.NewMap1[components.Velocity](s.world)

	near := velMap.Get(s.byID[2])
	if near.X >= 0 {
		t.Errorf("expected near entity pulled toward attractor (negative X), got %v", near.Vec)
	}

	far := velMap.Get(s.byID[3])
	if far.X != 0 {
		t.Errorf("expected far entity unaffected by attractor, got X velocity %v", far.X)
	}

	// The near entity's sticky reference is now set to the attractor
	agent := s.agentMap.Get(s.byID[2])
	if agent.AttractorID != 1 {
		t.Errorf("expected sticky attractor id 1, got %d", agent.AttractorID)
	}
}

func TestStep_IDUniqueness(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lifecycle.SpawnRate = 2.4
	cfg.Lifecycle.MinLifespan = 5
	cfg.Lifecycle.MaxLifespan = 20

	s := New(cfg, 3, nil)
	if err := s.Init(RandomSeeds(50), systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i := 0; i < 50; i++ {
		if _, err := s.Step(StepInput{}); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}

		seen := make(map[uint32]bool)
		query := s.filter.Query()
		for query.Next() {
			agent, _, _, _, _, _ := query.Get()
			if seen[agent.ID] {
				t.Fatalf("duplicate live id %d on tick %d", agent.ID, i)
			}
			seen[agent.ID] = true
		}
	}
}

func TestStep_MonotonicAgingAndRemoval(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)

	seeds := []Seed{
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 1}), Lifespan: 2},
	}
	if err := s.Init(seeds, systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	out, err := s.Step(StepInput{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(out.Removed) != 0 {
		t.Fatalf("expected no removal on first tick, got %v", out.Removed)
	}
	if got := s.agentMap.Get(s.byID[1]).RemainingLife; got != 1 {
		t.Errorf("expected remaining life 1 after one tick, got %d", got)
	}

	// remainingLife 1 before the tick means removed after it
	out, err = s.Step(StepInput{})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(out.Removed) != 1 || out.Removed[0] != 1 {
		t.Fatalf("expected entity 1 removed, got %v", out.Removed)
	}
	if _, ok := s.byID[1]; ok {
		t.Error("expected expired entity gone from the id index")
	}
	if s.Population() != 0 {
		t.Errorf("expected empty population, got %d", s.Population())
	}
}

func TestStep_SpeedConservation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Physics.Jitter = 0.02 // jitter on: renormalization must still hold

	s := New(cfg, 5, nil)
	if err := s.Init(RandomSeeds(40), systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	camera := r3.Vec{}
	for i := 0; i < 5; i++ {
		if _, err := s.Step(StepInput{Camera: &camera}); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	velMap := ecs.NewMap1[components.Velocity](s.world)
	motMap := ecs.NewMap1[components.Motion](s.world)

	query := s.filter.Query()
	for query.Next() {
		agent, _, _, _, _, _ := query.Get()
		e := s.byID[agent.ID]
		speed := motMap.Get(e).Speed
		norm := r3.Norm(velMap.Get(e).Vec)
		if math.Abs(norm-speed) > 1e-9 {
			t.Errorf("entity %d: |velocity| %v != speed %v", agent.ID, norm, speed)
		}
	}
}

func TestStep_CulledReceiveNoPhysics(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)

	seeds := []Seed{
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 5}), Lifespan: 100},
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 7}), Lifespan: 100},
	}
	if err := s.Init(seeds, systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Camera far away: everything classifies as culled
	camera := r3.Vec{X: 10000}
	out, err := s.Step(StepInput{Camera: &camera})
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	posA := s.posMap.Get(s.byID[1])
	posB := s.posMap.Get(s.byID[2])
	if posA.Vec != (r3.Vec{X: 5}) || posB.Vec != (r3.Vec{X: 7}) {
		t.Errorf("expected culled entities unmoved, got %v and %v", posA.Vec, posB.Vec)
	}
	if len(out.Connections) != 0 {
		t.Errorf("expected no connections from culled entities, got %d", len(out.Connections))
	}

	// Culled entities still age
	if got := s.agentMap.Get(s.byID[1]).RemainingLife; got != 99 {
		t.Errorf("expected culled entity aged to 99, got %d", got)
	}
}

func TestStep_LODHintsOverrideClassification(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)

	seeds := []Seed{
		{Kind: components.KindPrimary, Position: vecPtr(r3.Vec{X: 1}), Lifespan: 100},
	}
	if err := s.Init(seeds, systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Camera adjacent, but the hint forces culled: no movement
	camera := r3.Vec{X: 1}
	hints := map[uint32]components.LODTier{1: components.LODCulled}
	if _, err := s.Step(StepInput{Camera: &camera, LODHints: hints}); err != nil {
		t.Fatalf("step: %v", err)
	}

	if got := s.posMap.Get(s.byID[1]).Vec; got != (r3.Vec{X: 1}) {
		t.Errorf("expected hinted-culled entity unmoved, got %v", got)
	}
}

func TestApplyQualityTier_UpdatesCeiling(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, 1, nil)
	if err := s.Init(nil, systems.ConstantsFromConfig(cfg.Physics)); err != nil {
		t.Fatalf("init: %v", err)
	}

	tier := cfg.Quality.Tiers[0]
	s.ApplyQualityTier(tier)
	if s.entityCeiling != tier.MaxEntities {
		t.Errorf("expected ceiling %d, got %d", tier.MaxEntities, s.entityCeiling)
	}
}
