package sim

import (
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/components"
	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/systems"
	"github.com/pthm-cable/drift/telemetry"
)

// Inbound commands. Spawn requests and tick advances share one channel and
// are processed strictly in arrival order.

// InitCmd establishes the live entity set and physics constants. One-time.
type InitCmd struct {
	Seeds     []Seed
	Constants systems.Constants
}

// AdvanceCmd runs one tick. The owner should send at most one per
// animation frame and wait for the TickCompletedEvent reply before the
// next, which gives the protocol its back-pressure point.
type AdvanceCmd struct {
	Pointer  *r3.Vec
	Camera   *r3.Vec
	LODHints map[uint32]components.LODTier
}

// AddEntityCmd injects one entity mid-run.
type AddEntityCmd struct {
	Seed Seed
}

// PerfReportCmd feeds a telemetry snapshot to the quality controller.
// Sent by the owner on its own cadence, roughly once per second.
type PerfReportCmd struct {
	Inputs PerfInputs
}

// Outbound events.

// EntitiesChangedEvent carries the diff-only, quantized state updates.
type EntitiesChangedEvent struct {
	Tick   int32
	Deltas []systems.EntityDelta
}

// EntityRemovedEvent is emitted once per expiry, at the tick of expiry.
type EntityRemovedEvent struct {
	Tick int32
	ID   uint32
}

// ConnectionsChangedEvent carries the bounded, deduplicated connection list.
type ConnectionsChangedEvent struct {
	Tick        int32
	Connections []systems.Connection
}

// TickCompletedEvent is the per-tick reply; always the last event of a tick.
type TickCompletedEvent struct {
	Tick       int32
	Population int
}

// QualityChangedEvent reports a quality-tier transition.
type QualityChangedEvent struct {
	Tick       int32
	Transition Transition
}

// Worker runs the simulation on a single goroutine and talks to the owner
// over two unidirectional channels. All entity state is private to this
// goroutine, so tick processing needs no locking.
type Worker struct {
	Inbox  chan any
	Events chan any

	sim     *Simulation
	quality *QualityController
	quit    chan struct{}
}

// NewWorker creates a worker with its simulation and quality controller.
// perf may be nil to disable phase timing.
func NewWorker(cfg *config.Config, seed int64, perf *telemetry.PerfCollector) *Worker {
	return &Worker{
		Inbox:   make(chan any, 64),
		Events:  make(chan any, 256),
		sim:     New(cfg, seed, perf),
		quality: NewQualityController(cfg.Quality, cfg.Derived.InitialTierIdx),
		quit:    make(chan struct{}),
	}
}

// Stop terminates the worker loop. In-flight ticks complete; there is no
// cancellation of a tick once started.
func (w *Worker) Stop() {
	close(w.quit)
}

// Run processes commands until stopped. Call in a dedicated goroutine.
func (w *Worker) Run() {
	for {
		select {
		case <-w.quit:
			return
		case cmd := <-w.Inbox:
			w.handleCommand(cmd)
		}
	}
}

func (w *Worker) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case InitCmd:
		if err := w.sim.Init(c.Seeds, c.Constants); err != nil {
			panic(fmt.Sprintf("sim: worker init: %v", err))
		}
		w.sim.ApplyQualityTier(w.quality.Active())
		slog.Info("simulation initialized",
			"population", w.sim.Population(),
			"tier", w.quality.Active().Name,
		)

	case AdvanceCmd:
		out, err := w.sim.Step(StepInput{
			Pointer:  c.Pointer,
			Camera:   c.Camera,
			LODHints: c.LODHints,
		})
		if err != nil {
			// Tick processing before init is a programmer error in the
			// owner; fail loudly instead of computing on undefined state.
			panic(fmt.Sprintf("sim: worker advance: %v", err))
		}
		for _, id := range out.Removed {
			w.Events <- EntityRemovedEvent{Tick: out.Tick, ID: id}
		}
		if len(out.Changed) > 0 {
			w.Events <- EntitiesChangedEvent{Tick: out.Tick, Deltas: out.Changed}
		}
		if len(out.Connections) > 0 {
			w.Events <- ConnectionsChangedEvent{Tick: out.Tick, Connections: out.Connections}
		}
		w.Events <- TickCompletedEvent{Tick: out.Tick, Population: out.Population}

	case AddEntityCmd:
		if _, err := w.sim.AddEntity(c.Seed); err != nil {
			panic(fmt.Sprintf("sim: worker add entity: %v", err))
		}

	case PerfReportCmd:
		tr, changed := w.quality.Evaluate(c.Inputs, time.Now())
		if !changed {
			return
		}
		w.sim.ApplyQualityTier(w.quality.Active())
		slog.Info("quality tier changed",
			"from", tr.From,
			"to", tr.To,
			"reason", tr.Reason,
			"score", tr.Score,
			"fps", tr.Inputs.AvgFPS,
			"fps_stability", tr.Inputs.Stability,
			"mem_pressure", tr.Inputs.MemoryPressure,
			"population", tr.Inputs.Population,
		)
		w.Events <- QualityChangedEvent{Tick: w.sim.Tick(), Transition: tr}

	default:
		// Unknown commands are diagnostic, not fatal
		slog.Warn("ignoring unknown command", "type", fmt.Sprintf("%T", cmd))
	}
}
