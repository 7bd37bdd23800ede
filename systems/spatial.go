// Package systems provides the simulation systems: spatial indexing, force
// computation, LOD classification and state synchronization.
package systems

import (
	"math"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
)

// Neighbor holds a nearby entity with precomputed spatial data.
// This avoids recomputing the delta and distance in the force rules.
type Neighbor struct {
	E      ecs.Entity
	Delta  r3.Vec  // from query origin to the neighbor
	DistSq float64 // squared distance (avoid sqrt in hot path)
}

// CellKey addresses one cube of the grid by floored coordinates.
type CellKey struct {
	X, Y, Z int32
}

// SpatialGrid provides O(1) neighbor lookups using a cube-based hash grid
// over unbounded 3-D space. Rebuilt fully once per tick; insertion is O(1)
// amortized and positions change every tick, so incremental updates would
// not pay for themselves.
type SpatialGrid struct {
	cellSize float64
	cells    map[CellKey][]ecs.Entity
}

// NewSpatialGrid creates a spatial grid with the given cube edge length.
// The edge should be slightly larger than the largest short-range
// interaction radius so most queries touch at most 27 cells.
func NewSpatialGrid(cellSize float64) *SpatialGrid {
	return &SpatialGrid{
		cellSize: cellSize,
		cells:    make(map[CellKey][]ecs.Entity, 256),
	}
}

// Clear removes all entities from the grid. Bucket capacity is retained so
// the per-tick rebuild does not reallocate.
func (g *SpatialGrid) Clear() {
	for k := range g.cells {
		g.cells[k] = g.cells[k][:0]
	}
}

// Insert adds an entity to the grid at the given position.
func (g *SpatialGrid) Insert(e ecs.Entity, p r3.Vec) {
	k := g.cellKey(p)
	g.cells[k] = append(g.cells[k], e)
}

// cellKey returns the cube containing a world position.
func (g *SpatialGrid) cellKey(p r3.Vec) CellKey {
	return CellKey{
		X: int32(math.Floor(p.X / g.cellSize)),
		Y: int32(math.Floor(p.Y / g.cellSize)),
		Z: int32(math.Floor(p.Z / g.cellSize)),
	}
}

// MaxQueryResults caps the number of neighbors returned by spatial queries.
// This prevents density spikes from causing unbounded work.
const MaxQueryResults = 128

// QueryRadiusInto finds entities within radius and appends to dst (up to
// MaxQueryResults). Returns the updated slice. Reuse dst across calls to
// avoid allocations. The cube scan has no false negatives; members
// outside the radius are rejected here with a squared-distance test, and
// each Neighbor carries Delta/DistSq so callers never recompute them.
func (g *SpatialGrid) QueryRadiusInto(dst []Neighbor, p r3.Vec, radius float64, exclude ecs.Entity, posMap *ecs.Map1[components.Position]) []Neighbor {
	cellRadius := int32(radius/g.cellSize) + 1
	center := g.cellKey(p)
	radiusSq := radius * radius

	for dx := -cellRadius; dx <= cellRadius; dx++ {
		for dy := -cellRadius; dy <= cellRadius; dy++ {
			for dz := -cellRadius; dz <= cellRadius; dz++ {
				key := CellKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				bucket, ok := g.cells[key]
				if !ok {
					continue
				}

				for _, e := range bucket {
					if e == exclude {
						continue
					}
					pos := posMap.Get(e)
					if pos == nil {
						continue
					}

					delta := r3.Sub(pos.Vec, p)
					distSq := r3.Norm2(delta)
					if distSq <= radiusSq {
						dst = append(dst, Neighbor{E: e, Delta: delta, DistSq: distSq})
						if len(dst) >= MaxQueryResults {
							return dst
						}
					}
				}
			}
		}
	}

	return dst
}
