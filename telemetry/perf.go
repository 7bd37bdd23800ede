// Package telemetry provides performance tracking for the simulation worker
// and CSV export of perf windows and quality-tier transitions.
package telemetry

import (
	"log/slog"
	"runtime"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase names for the simulation tick.
const (
	PhaseLOD       = "lod"
	PhaseLifecycle = "lifecycle"
	PhaseSpatial   = "spatial_grid"
	PhaseForces    = "forces"
	PhaseSync      = "state_sync"
)

// PerfSample holds timing data for a single tick.
type PerfSample struct {
	TickDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector tracks tick and frame timing over a rolling window. The
// frame samples feed the adaptive quality controller; the per-phase tick
// samples exist for diagnostics.
//
// Not safe for concurrent use. The worker contract serializes access: the
// owner records frames only between tick replies.
type PerfCollector struct {
	windowSize  int
	samples     []PerfSample
	writeIndex  int
	sampleCount int

	currentPhases map[string]time.Duration
	tickStart     time.Time
	phaseStart    time.Time
	lastPhase     string

	// Frame timing window (seconds per frame)
	frameDurations []float64
	frameIndex     int
	frameCount     int
	lastFrameTime  time.Time
}

// NewPerfCollector creates a collector averaging over windowSize samples
// (e.g. 120 for two seconds at 60 fps).
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		windowSize:     windowSize,
		samples:        make([]PerfSample, windowSize),
		currentPhases:  make(map[string]time.Duration),
		frameDurations: make([]float64, windowSize),
	}
}

// StartTick begins timing a new simulation tick.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase, ending the previous one.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndTick finishes timing the current tick and records the sample.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.samples[p.writeIndex] = PerfSample{
		TickDuration: now.Sub(p.tickStart),
		Phases:       p.currentPhases,
	}
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// RecordFrame records the time since the previous call as one frame.
func (p *PerfCollector) RecordFrame() {
	now := time.Now()
	if !p.lastFrameTime.IsZero() {
		p.frameDurations[p.frameIndex] = now.Sub(p.lastFrameTime).Seconds()
		p.frameIndex = (p.frameIndex + 1) % len(p.frameDurations)
		if p.frameCount < len(p.frameDurations) {
			p.frameCount++
		}
	}
	p.lastFrameTime = now
}

// FrameStats returns the rolling average FPS and a stability measure in
// [0, 1]: one minus the normalized standard deviation of per-frame rates.
func (p *PerfCollector) FrameStats() (avgFPS, stability float64) {
	if p.frameCount == 0 {
		return 0, 1
	}

	rates := make([]float64, 0, p.frameCount)
	for i := 0; i < p.frameCount; i++ {
		if d := p.frameDurations[i]; d > 0 {
			rates = append(rates, 1/d)
		}
	}
	if len(rates) == 0 {
		return 0, 1
	}

	mean := stat.Mean(rates, nil)
	if mean <= 0 {
		return 0, 1
	}
	sd := 0.0
	if len(rates) > 1 {
		sd = stat.StdDev(rates, nil)
	}
	stability = 1 - sd/mean
	if stability < 0 {
		stability = 0
	}
	return mean, stability
}

// MemoryPressure returns the heap usage as a fraction of the given budget.
func MemoryPressure(budgetMB float64) float64 {
	if budgetMB <= 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (budgetMB * 1024 * 1024)
}

// PerfStats holds aggregated tick statistics over the current window.
type PerfStats struct {
	AvgTickDuration time.Duration
	MinTickDuration time.Duration
	MaxTickDuration time.Duration

	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	TicksPerSecond float64
	AvgFPS         float64
	FPSStability   float64
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	avgFPS, stability := p.FrameStats()

	if p.sampleCount == 0 {
		return PerfStats{
			PhaseAvg:     make(map[string]time.Duration),
			PhasePct:     make(map[string]float64),
			AvgFPS:       avgFPS,
			FPSStability: stability,
		}
	}

	var totalTick, minTick, maxTick time.Duration
	phaseSum := make(map[string]time.Duration)

	for i := 0; i < p.sampleCount; i++ {
		s := p.samples[i]
		totalTick += s.TickDuration
		if i == 0 || s.TickDuration < minTick {
			minTick = s.TickDuration
		}
		if s.TickDuration > maxTick {
			maxTick = s.TickDuration
		}
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	avgTick := totalTick / time.Duration(p.sampleCount)

	phaseAvg := make(map[string]time.Duration)
	phasePct := make(map[string]float64)
	for phase, sum := range phaseSum {
		phaseAvg[phase] = sum / time.Duration(p.sampleCount)
		if avgTick > 0 {
			phasePct[phase] = float64(phaseAvg[phase]) / float64(avgTick) * 100
		}
	}

	var ticksPerSec float64
	if avgTick > 0 {
		ticksPerSec = float64(time.Second) / float64(avgTick)
	}

	return PerfStats{
		AvgTickDuration: avgTick,
		MinTickDuration: minTick,
		MaxTickDuration: maxTick,
		PhaseAvg:        phaseAvg,
		PhasePct:        phasePct,
		TicksPerSecond:  ticksPerSec,
		AvgFPS:          avgFPS,
		FPSStability:    stability,
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("min_tick_us", s.MinTickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
		slog.Float64("fps", s.AvgFPS),
		slog.Float64("fps_stability", s.FPSStability),
	}
	for phase, pct := range s.PhasePct {
		attrs = append(attrs, slog.Float64(phase+"_pct", pct))
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WindowEnd    int32   `csv:"window_end"`
	AvgTickUS    int64   `csv:"avg_tick_us"`
	MinTickUS    int64   `csv:"min_tick_us"`
	MaxTickUS    int64   `csv:"max_tick_us"`
	TicksPerSec  float64 `csv:"ticks_per_sec"`
	AvgFPS       float64 `csv:"fps"`
	FPSStability float64 `csv:"fps_stability"`
	LODPct       float64 `csv:"lod_pct"`
	LifecyclePct float64 `csv:"lifecycle_pct"`
	SpatialPct   float64 `csv:"spatial_grid_pct"`
	ForcesPct    float64 `csv:"forces_pct"`
	SyncPct      float64 `csv:"state_sync_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd int32) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:    windowEnd,
		AvgTickUS:    s.AvgTickDuration.Microseconds(),
		MinTickUS:    s.MinTickDuration.Microseconds(),
		MaxTickUS:    s.MaxTickDuration.Microseconds(),
		TicksPerSec:  s.TicksPerSecond,
		AvgFPS:       s.AvgFPS,
		FPSStability: s.FPSStability,
		LODPct:       s.PhasePct[PhaseLOD],
		LifecyclePct: s.PhasePct[PhaseLifecycle],
		SpatialPct:   s.PhasePct[PhaseSpatial],
		ForcesPct:    s.PhasePct[PhaseForces],
		SyncPct:      s.PhasePct[PhaseSync],
	}
}
