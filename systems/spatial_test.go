package systems

import (
	"math/rand"
	"testing"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
)

func TestSpatialGrid_NoFalseNegatives(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	rng := rand.New(rand.NewSource(7))
	type placed struct {
		e   ecs.Entity
		pos r3.Vec
	}
	var all []placed

	grid := NewSpatialGrid(4.0)
	for i := 0; i < 200; i++ {
		pos := components.Position{Vec: r3.Vec{
			X: rng.Float64()*40 - 20,
			Y: rng.Float64()*40 - 20,
			Z: rng.Float64()*40 - 20,
		}}
		e := posMapper.NewEntity(&pos)
		grid.Insert(e, pos.Vec)
		all = append(all, placed{e: e, pos: pos.Vec})
	}

	origin := r3.Vec{X: 1, Y: -2, Z: 3}
	radius := 6.0

	found := make(map[ecs.Entity]bool)
	for _, n := range grid.QueryRadiusInto(nil, origin, radius, ecs.Entity{}, posMapper) {
		found[n.E] = true
	}

	// Brute force: every entity within radius must be in the result
	for _, p := range all {
		inRange := r3.Norm2(r3.Sub(p.pos, origin)) <= radius*radius
		if inRange && !found[p.e] {
			t.Errorf("entity at %v within radius %v missing from query", p.pos, radius)
		}
		if !inRange && found[p.e] {
			t.Errorf("entity at %v outside radius %v returned by query", p.pos, radius)
		}
	}
}

func TestSpatialGrid_DeltaAndDistSq(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	pos := components.Position{Vec: r3.Vec{X: 3, Y: 4, Z: 0}}
	e := posMapper.NewEntity(&pos)

	grid := NewSpatialGrid(4.0)
	grid.Insert(e, pos.Vec)

	neighbors := grid.QueryRadiusInto(nil, r3.Vec{}, 6, ecs.Entity{}, posMapper)
	if len(neighbors) != 1 {
		t.Fatalf("expected 1 neighbor, got %d", len(neighbors))
	}
	n := neighbors[0]
	if n.DistSq != 25 {
		t.Errorf("expected DistSq 25, got %v", n.DistSq)
	}
	if n.Delta != pos.Vec {
		t.Errorf("expected delta %v, got %v", pos.Vec, n.Delta)
	}
}

func TestSpatialGrid_ExcludesSelf(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	pos := components.Position{Vec: r3.Vec{X: 1}}
	e := posMapper.NewEntity(&pos)

	grid := NewSpatialGrid(4.0)
	grid.Insert(e, pos.Vec)

	neighbors := grid.QueryRadiusInto(nil, pos.Vec, 5, e, posMapper)
	if len(neighbors) != 0 {
		t.Errorf("expected self to be excluded, got %d neighbors", len(neighbors))
	}
}

func TestSpatialGrid_QueryCap(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	grid := NewSpatialGrid(4.0)
	for i := 0; i < MaxQueryResults+50; i++ {
		pos := components.Position{Vec: r3.Vec{X: float64(i) * 0.001}}
		e := posMapper.NewEntity(&pos)
		grid.Insert(e, pos.Vec)
	}

	neighbors := grid.QueryRadiusInto(nil, r3.Vec{}, 2, ecs.Entity{}, posMapper)
	if len(neighbors) != MaxQueryResults {
		t.Errorf("expected query capped at %d, got %d", MaxQueryResults, len(neighbors))
	}
}

func TestSpatialGrid_ClearEmpties(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	pos := components.Position{Vec: r3.Vec{X: 1}}
	e := posMapper.NewEntity(&pos)

	grid := NewSpatialGrid(4.0)
	grid.Insert(e, pos.Vec)
	grid.Clear()

	neighbors := grid.QueryRadiusInto(nil, r3.Vec{}, 10, ecs.Entity{}, posMapper)
	if len(neighbors) != 0 {
		t.Errorf("expected empty grid after Clear, got %d neighbors", len(neighbors))
	}
}

func TestSpatialGrid_NegativeCoordinates(t *testing.T) {
	world := ecs.NewWorld()
	posMapper := ecs.NewMap1[components.Position](world)

	// Floor division must not collapse cells around zero
	pos := components.Position{Vec: r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}}
	e := posMapper.NewEntity(&pos)

	grid := NewSpatialGrid(4.0)
	grid.Insert(e, pos.Vec)

	neighbors := grid.QueryRadiusInto(nil, r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, 2, ecs.Entity{}, posMapper)
	if len(neighbors) != 1 {
		t.Errorf("expected neighbor across the origin, got %d", len(neighbors))
	}
}
