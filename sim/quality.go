package sim

import (
	"time"

	"github.com/pthm-cable/drift/config"
)

// Composite score weights: FPS ratio, stability, inverse memory pressure.
const (
	scoreWeightFPS       = 0.5
	scoreWeightStability = 0.3
	scoreWeightMemory    = 0.2
)

// PerfInputs are the telemetry observations driving a quality evaluation.
type PerfInputs struct {
	AvgFPS         float64
	Stability      float64 // 1 - normalized FPS standard deviation
	MemoryPressure float64 // heap usage / budget
	Population     int
}

// Transition records one quality-tier change and what triggered it.
type Transition struct {
	From   string
	To     string
	Reason string
	Score  float64
	Inputs PerfInputs
}

// Reason tags attached to transitions.
const (
	ReasonCriticalFPS    = "critical_fps"
	ReasonCriticalMemory = "critical_memory"
	ReasonLowFPS         = "low_fps"
	ReasonLowScore       = "low_score"
	ReasonHeadroom       = "headroom"
	ReasonHighScore      = "high_score"
)

// QualityController steps through the ordered tier list (lowest fidelity
// first) based on observed performance. Cooldown plus the asymmetry
// between downgrade floors and upgrade headroom provides hysteresis, so
// two adjacent tiers never oscillate between evaluations.
type QualityController struct {
	cfg        config.QualityConfig
	idx        int
	cooldown   time.Duration
	lastChange time.Time
}

// NewQualityController creates a controller starting at the given tier index.
func NewQualityController(cfg config.QualityConfig, initialIdx int) *QualityController {
	if initialIdx < 0 || initialIdx >= len(cfg.Tiers) {
		initialIdx = len(cfg.Tiers) - 1
	}
	return &QualityController{
		cfg:      cfg,
		idx:      initialIdx,
		cooldown: time.Duration(cfg.CooldownSec * float64(time.Second)),
	}
}

// Active returns the currently selected tier configuration.
func (q *QualityController) Active() config.QualityTierConfig {
	return q.cfg.Tiers[q.idx]
}

// ActiveIndex returns the position of the active tier in the ordered list.
func (q *QualityController) ActiveIndex() int {
	return q.idx
}

// Score blends the FPS ratio, stability and inverse memory pressure into
// one composite performance score in [0, 1].
func (q *QualityController) Score(in PerfInputs) float64 {
	fpsRatio := 0.0
	if q.cfg.TargetFPS > 0 {
		fpsRatio = in.AvgFPS / q.cfg.TargetFPS
		if fpsRatio > 1 {
			fpsRatio = 1
		}
	}
	memInverse := 1 - in.MemoryPressure
	if memInverse < 0 {
		memInverse = 0
	} else if memInverse > 1 {
		memInverse = 1
	}
	stability := in.Stability
	if stability < 0 {
		stability = 0
	} else if stability > 1 {
		stability = 1
	}
	return scoreWeightFPS*fpsRatio + scoreWeightStability*stability + scoreWeightMemory*memInverse
}

// Evaluate decides whether to change tiers given fresh telemetry. Called
// on the owner's cadence, roughly once per second. Returns the transition
// and true when a change occurred. No decision is taken inside the
// cooldown window following the previous transition.
func (q *QualityController) Evaluate(in PerfInputs, now time.Time) (Transition, bool) {
	if !q.lastChange.IsZero() && now.Sub(q.lastChange) < q.cooldown {
		return Transition{}, false
	}

	score := q.Score(in)

	// Critical overrides jump straight to the lowest tier
	if in.AvgFPS < q.cfg.CriticalFPS {
		return q.moveTo(0, ReasonCriticalFPS, score, in, now)
	}
	if in.MemoryPressure > q.cfg.MemoryCritical {
		return q.moveTo(0, ReasonCriticalMemory, score, in, now)
	}

	// Moderate downgrade: one step at a time
	if in.AvgFPS < q.cfg.TargetFPS && in.Stability < q.cfg.StabilityMin {
		return q.moveTo(q.idx-1, ReasonLowFPS, score, in, now)
	}
	if score < q.cfg.ScoreLow {
		return q.moveTo(q.idx-1, ReasonLowScore, score, in, now)
	}

	// Upgrade needs headroom on every axis, and never skips a tier
	if in.AvgFPS >= q.cfg.UpgradeFPS && in.Stability >= q.cfg.UpgradeStability && in.MemoryPressure < q.cfg.MemoryLow {
		return q.moveTo(q.idx+1, ReasonHeadroom, score, in, now)
	}
	if score > q.cfg.ScoreHigh && in.MemoryPressure < q.cfg.MemoryLow {
		return q.moveTo(q.idx+1, ReasonHighScore, score, in, now)
	}

	return Transition{}, false
}

// moveTo clamps the target index and records the transition if it actually
// changes the tier.
func (q *QualityController) moveTo(target int, reason string, score float64, in PerfInputs, now time.Time) (Transition, bool) {
	if target < 0 {
		target = 0
	}
	if target >= len(q.cfg.Tiers) {
		target = len(q.cfg.Tiers) - 1
	}
	if target == q.idx {
		return Transition{}, false
	}

	tr := Transition{
		From:   q.cfg.Tiers[q.idx].Name,
		To:     q.cfg.Tiers[target].Name,
		Reason: reason,
		Score:  score,
		Inputs: in,
	}
	q.idx = target
	q.lastChange = now
	return tr, true
}
