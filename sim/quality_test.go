package sim

import (
	"testing"
	"time"

	"github.com/pthm-cable/drift/config"
)

func testQualityConfig(t *testing.T) config.QualityConfig {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return cfg.Quality
}

func healthyInputs() PerfInputs {
	return PerfInputs{AvgFPS: 55, Stability: 0.75, MemoryPressure: 0.4}
}

func TestQuality_CriticalFPSJumpsToLowest(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 2) // high

	in := PerfInputs{AvgFPS: 10, Stability: 0.9, MemoryPressure: 0.3}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed {
		t.Fatal("expected transition on critical fps")
	}
	if tr.To != "low" || tr.Reason != ReasonCriticalFPS {
		t.Errorf("expected jump to low with reason %s, got %+v", ReasonCriticalFPS, tr)
	}
	if q.ActiveIndex() != 0 {
		t.Errorf("expected tier index 0, got %d", q.ActiveIndex())
	}
}

func TestQuality_CriticalMemoryJumpsToLowest(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 3) // ultra

	in := PerfInputs{AvgFPS: 60, Stability: 0.95, MemoryPressure: 0.95}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed || tr.Reason != ReasonCriticalMemory {
		t.Fatalf("expected critical memory transition, got %+v changed=%v", tr, changed)
	}
	if q.ActiveIndex() != 0 {
		t.Errorf("expected tier index 0, got %d", q.ActiveIndex())
	}
}

func TestQuality_CooldownBlocksConsecutiveTransitions(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 2)
	base := time.Unix(100, 0)

	bad := PerfInputs{AvgFPS: 40, Stability: 0.4, MemoryPressure: 0.5}
	if _, changed := q.Evaluate(bad, base); !changed {
		t.Fatal("expected first downgrade")
	}

	// Within the 3s cooldown nothing moves, however bad the inputs
	if _, changed := q.Evaluate(bad, base.Add(1*time.Second)); changed {
		t.Error("expected cooldown to block the second transition")
	}
	if _, changed := q.Evaluate(PerfInputs{AvgFPS: 5}, base.Add(2*time.Second)); changed {
		t.Error("expected cooldown to block even a critical transition")
	}

	// After the cooldown the next evaluation may act again
	if _, changed := q.Evaluate(bad, base.Add(4*time.Second)); !changed {
		t.Error("expected transition after cooldown expiry")
	}
}

func TestQuality_ModerateDowngradeSingleStep(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 3) // ultra

	in := PerfInputs{AvgFPS: 40, Stability: 0.4, MemoryPressure: 0.5}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed {
		t.Fatal("expected downgrade")
	}
	if tr.From != "ultra" || tr.To != "high" || tr.Reason != ReasonLowFPS {
		t.Errorf("expected single step ultra->high on low fps, got %+v", tr)
	}
}

func TestQuality_LowScoreDowngrade(t *testing.T) {
	cfg := testQualityConfig(t)
	cfg.ScoreLow = 0.6 // raised so the composite branch is reachable
	q := NewQualityController(cfg, 2)

	// fps below target but stability fine, so only the score triggers
	in := PerfInputs{AvgFPS: 25, Stability: 0.9, MemoryPressure: 0.7}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed || tr.Reason != ReasonLowScore {
		t.Fatalf("expected low score downgrade, got %+v changed=%v", tr, changed)
	}
	if tr.To != "medium" {
		t.Errorf("expected single step to medium, got %s", tr.To)
	}
}

func TestQuality_UpgradeNeedsHeadroom(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 1) // medium

	// All axes clear: one step up
	in := PerfInputs{AvgFPS: 60, Stability: 0.95, MemoryPressure: 0.3}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed || tr.Reason != ReasonHeadroom {
		t.Fatalf("expected headroom upgrade, got %+v changed=%v", tr, changed)
	}
	if tr.From != "medium" || tr.To != "high" {
		t.Errorf("expected medium->high, got %+v", tr)
	}
}

func TestQuality_UpgradeDeniedByMemory(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 1)

	// Great fps and stability but memory above the low-water mark
	in := PerfInputs{AvgFPS: 60, Stability: 0.95, MemoryPressure: 0.7}
	if _, changed := q.Evaluate(in, time.Unix(100, 0)); changed {
		t.Error("expected upgrade denied while memory pressure is elevated")
	}
}

func TestQuality_HighScoreUpgrade(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 1)

	// Stability below the headroom bar, but the composite score clears
	in := PerfInputs{AvgFPS: 56, Stability: 0.8, MemoryPressure: 0.2}
	tr, changed := q.Evaluate(in, time.Unix(100, 0))
	if !changed || tr.Reason != ReasonHighScore {
		t.Fatalf("expected high score upgrade, got %+v changed=%v", tr, changed)
	}
}

func TestQuality_NoChangeAtBounds(t *testing.T) {
	cfg := testQualityConfig(t)

	// Already lowest: critical inputs produce no transition
	q := NewQualityController(cfg, 0)
	if _, changed := q.Evaluate(PerfInputs{AvgFPS: 5}, time.Unix(100, 0)); changed {
		t.Error("expected no transition below the lowest tier")
	}

	// Already highest: headroom produces no transition
	q = NewQualityController(cfg, len(cfg.Tiers)-1)
	in := PerfInputs{AvgFPS: 60, Stability: 0.95, MemoryPressure: 0.3}
	if _, changed := q.Evaluate(in, time.Unix(100, 0)); changed {
		t.Error("expected no transition above the highest tier")
	}
}

func TestQuality_SteadyStateHolds(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 2)

	// Healthy but not exceptional: no movement in either direction
	if _, changed := q.Evaluate(healthyInputs(), time.Unix(100, 0)); changed {
		t.Error("expected steady state to hold the current tier")
	}
}

func TestQuality_ScoreClamped(t *testing.T) {
	q := NewQualityController(testQualityConfig(t), 2)

	score := q.Score(PerfInputs{AvgFPS: 500, Stability: 5, MemoryPressure: -1})
	if score > 1 {
		t.Errorf("expected score clamped to [0, 1], got %v", score)
	}
	score = q.Score(PerfInputs{AvgFPS: 0, Stability: -2, MemoryPressure: 3})
	if score < 0 {
		t.Errorf("expected score clamped to [0, 1], got %v", score)
	}
}
