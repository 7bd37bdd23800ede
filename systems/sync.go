package systems

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
)

// RGB is a color triple with channels in [0, 1].
type RGB struct {
	R, G, B float64
}

// defaultRGB is the substitute for a color conversion that produced
// non-finite channels. Opaque neutral, never propagated as a failure.
var defaultRGB = RGB{R: 0.8, G: 0.8, B: 0.85}

// EntityDelta is the diff-only outbound record for one agent. Nil fields
// were unchanged beyond their thresholds and are not transmitted.
type EntityDelta struct {
	ID      uint32
	Pos     *r3.Vec
	Vel     *r3.Vec
	Color   *RGB
	Opacity *float64
}

// Connection is one rendered link between two nearby agents.
type Connection struct {
	Start r3.Vec
	End   r3.Vec
	Color RGB
}

// StateSync performs per-agent change detection, quantization and diff
// assembly, and builds the bounded connection list.
type StateSync struct {
	cfg config.SyncConfig
	rng *rand.Rand

	filter *ecs.Filter6[
		components.Agent,
		components.Position,
		components.Velocity,
		components.Motion,
		components.Color,
		components.SyncState,
	]
	posMap   *ecs.Map1[components.Position]
	agentMap *ecs.Map1[components.Agent]

	quantum        float64
	maxConnections int

	pairSeen    map[uint64]struct{}
	neighborBuf []Neighbor
}

// NewStateSync creates the sync system for a world.
func NewStateSync(w *ecs.World, cfg config.SyncConfig, rng *rand.Rand) *StateSync {
	return &StateSync{
		cfg: cfg,
		rng: rng,
		filter: ecs.NewFilter6[
			components.Agent,
			components.Position,
			components.Velocity,
			components.Motion,
			components.Color,
			components.SyncState,
		](w),
		posMap:         ecs.NewMap1[components.Position](w),
		agentMap:       ecs.NewMap1[components.Agent](w),
		quantum:        math.Pow(10, -float64(cfg.QuantizeDecimals)),
		maxConnections: cfg.MaxConnections,
		pairSeen:       make(map[uint64]struct{}, cfg.MaxConnections),
	}
}

// SetMaxConnections overrides the connection cap; called on quality-tier
// transitions. Values <= 0 fall back to the configured default.
func (s *StateSync) SetMaxConnections(n int) {
	if n <= 0 {
		n = s.cfg.MaxConnections
	}
	s.maxConnections = n
}

// CollectDeltas runs change detection for every live agent and returns the
// diff list. Attractor proximity is evaluated here so the enhancement boost
// lands in the same pass that emits colors.
func (s *StateSync) CollectDeltas(tick int32, attractors []AttractorRef, c *Constants) []EntityDelta {
	var out []EntityDelta

	query := s.filter.Query()
	for query.Next() {
		agent, pos, vel, mot, color, sync := query.Get()

		color.Enhanced = false
		if agent.Kind != components.KindAttractor {
			for _, a := range attractors {
				if r3.Norm2(r3.Sub(a.Pos, pos.Vec)) <= c.EnhancementRadiusSq {
					color.Enhanced = true
					break
				}
			}
		}

		delta := EntityDelta{ID: agent.ID}
		changed := false

		if q, ok := s.diffVec(pos.Vec, sync.Pos, sync.HasPos); ok {
			delta.Pos = &q
			sync.HasPos = true
			sync.Pos = q
			changed = true
		}
		if q, ok := s.diffVec(vel.Vec, sync.Vel, sync.HasVel); ok {
			delta.Vel = &q
			sync.HasVel = true
			sync.Vel = q
			changed = true
		}

		hue, sat, light := s.modulatedHSL(tick, mot.FlickerPhase, color, c)
		if !sync.HasColor ||
			math.Abs(hue-sync.Hue) > s.cfg.ColorEpsilon ||
			math.Abs(sat-sync.Sat) > s.cfg.ColorEpsilon ||
			math.Abs(light-sync.Light) > s.cfg.ColorEpsilon {
			// Convert once here so consumers never repeat it
			rgb, ok := hslToRGB(hue, sat, light)
			if !ok {
				rgb = defaultRGB
			}
			delta.Color = &rgb
			sync.HasColor = true
			sync.Hue = hue
			sync.Sat = sat
			sync.Light = light
			changed = true
		}

		opacity := s.cfg.OpacityBase + s.cfg.OpacityAmplitude*math.Sin(float64(tick)*s.cfg.FlickerFrequency+mot.FlickerPhase)
		if !sync.HasOpacity || math.Abs(opacity-sync.Opacity) > s.cfg.OpacityEpsilon {
			delta.Opacity = &opacity
			sync.HasOpacity = true
			sync.Opacity = opacity
			changed = true
		}

		if changed {
			out = append(out, delta)
		}
	}

	return out
}

// diffVec quantizes v and reports whether it moved beyond the position
// epsilon on any axis relative to the last transmitted value.
func (s *StateSync) diffVec(v, last r3.Vec, hasLast bool) (r3.Vec, bool) {
	q := r3.Vec{
		X: quantize(v.X, s.quantum),
		Y: quantize(v.Y, s.quantum),
		Z: quantize(v.Z, s.quantum),
	}
	if !hasLast {
		return q, true
	}
	eps := s.cfg.PositionEpsilon
	if math.Abs(q.X-last.X) > eps || math.Abs(q.Y-last.Y) > eps || math.Abs(q.Z-last.Z) > eps {
		return q, true
	}
	return q, false
}

// modulatedHSL applies the flicker lightness modulation and, for enhanced
// agents, the attractor saturation/lightness boost.
func (s *StateSync) modulatedHSL(tick int32, phase float64, color *components.Color, c *Constants) (hue, sat, light float64) {
	hue = color.Hue
	sat = color.Sat
	light = color.Light + s.cfg.FlickerAmplitude*math.Sin(float64(tick)*s.cfg.FlickerFrequency+phase)
	if color.Enhanced {
		sat += c.EnhancementSatBoost
		light += c.EnhancementLiteBoost
	}
	return hue, clamp01(sat), clamp01(light)
}

// CollectConnections builds the connection list: pairs of agents within the
// connection distance, deduplicated by canonical id order, stably colored
// by a hash of the pair ids, thinned by per-tier density, and bounded by
// both a scan cap and a connection cap.
func (s *StateSync) CollectConnections(grid *SpatialGrid, lod *LODController) []Connection {
	var out []Connection
	for k := range s.pairSeen {
		delete(s.pairSeen, k)
	}

	scanned := 0
	query := s.filter.Query()
	for query.Next() {
		// The query must be fully consumed, so caps skip work instead of
		// breaking out.
		if scanned >= s.cfg.MaxConnectionScan || len(out) >= s.maxConnections {
			continue
		}
		agent, pos, _, _, _, _ := query.Get()
		if agent.Tier == components.LODCulled {
			continue
		}
		scanned++

		density := lod.ConnectionDensity(agent.Tier)
		if density <= 0 {
			continue
		}

		s.neighborBuf = grid.QueryRadiusInto(s.neighborBuf[:0], pos.Vec, s.cfg.ConnectionDistance, query.Entity(), s.posMap)
		for _, n := range s.neighborBuf {
			if len(out) >= s.maxConnections {
				break
			}
			other := s.agentMap.Get(n.E)
			if other == nil || other.Tier == components.LODCulled {
				continue
			}

			lo, hi := agent.ID, other.ID
			if lo > hi {
				lo, hi = hi, lo
			}
			key := uint64(lo)<<32 | uint64(hi)
			if _, seen := s.pairSeen[key]; seen {
				continue
			}
			s.pairSeen[key] = struct{}{}

			p := density * lod.ConnectionDensity(other.Tier)
			if p < 1 && s.rng.Float64() >= p {
				continue
			}

			otherPos := s.posMap.Get(n.E)
			if otherPos == nil {
				continue
			}
			out = append(out, Connection{
				Start: pos.Vec,
				End:   otherPos.Vec,
				Color: pairColor(lo, hi),
			})
		}
	}

	return out
}

// pairColor derives a stable color from the canonical id pair, so a given
// connection keeps its color across ticks.
func pairColor(lo, hi uint32) RGB {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], lo)
	binary.LittleEndian.PutUint32(buf[4:], hi)
	h := fnv.New32a()
	h.Write(buf[:])
	hue := float64(h.Sum32() % 360)
	rgb, ok := hslToRGB(hue, 0.7, 0.6)
	if !ok {
		return defaultRGB
	}
	return rgb
}

// quantize rounds v to the given quantum (a power of ten).
func quantize(v, quantum float64) float64 {
	return math.Round(v/quantum) * quantum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// hslToRGB converts HSL (hue in degrees, s/l in [0,1]) to RGB. The second
// return is false when any resulting channel is non-finite; callers
// substitute a safe default instead of failing.
func hslToRGB(h, s, l float64) (RGB, bool) {
	// NaN propagates through comparisons as false, so check inputs up front
	if !isFinite(h) || !isFinite(s) || !isFinite(l) {
		return RGB{}, false
	}
	h = math.Mod(math.Mod(h, 360)+360, 360) / 360

	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToChannel(p, q, h+1.0/3)
		g = hueToChannel(p, q, h)
		b = hueToChannel(p, q, h-1.0/3)
	}

	if !isFinite(r) || !isFinite(g) || !isFinite(b) {
		return RGB{}, false
	}
	return RGB{R: r, G: g, B: b}, true
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
