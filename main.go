package main

import (
	"flag"
	"log/slog"
	"math"
	"os"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/drift/config"
	"github.com/pthm-cable/drift/sim"
	"github.com/pthm-cable/drift/systems"
	"github.com/pthm-cable/drift/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	tickHz := flag.Int("tick-hz", 60, "Simulation ticks per second")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	logStats := flag.Bool("log-stats", false, "Log perf stats every telemetry window")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	output, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output manager", "error", err)
		os.Exit(1)
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		slog.Error("failed to snapshot config", "error", err)
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	worker := sim.NewWorker(cfg, rngSeed, perf)
	go worker.Run()
	defer worker.Stop()

	slog.Info("starting simulation",
		"seed", rngSeed,
		"initial_population", cfg.Lifecycle.InitialPopulation,
		"tick_hz", *tickHz,
		"max_ticks", *maxTicks,
	)

	worker.Inbox <- sim.InitCmd{
		Seeds:     sim.RandomSeeds(cfg.Lifecycle.InitialPopulation),
		Constants: systems.ConstantsFromConfig(cfg.Physics),
	}

	// The pointer wanders along a smooth noise path, standing in for the
	// projected cursor of a real front end.
	noise := opensimplex.New(rngSeed)
	camera := r3.Vec{Z: 55}

	ticker := time.NewTicker(time.Second / time.Duration(*tickHz))
	defer ticker.Stop()

	windowTicks := int(cfg.Telemetry.WindowSec * float64(*tickHz))
	if windowTicks < 1 {
		windowTicks = 1
	}

	tick := 0
	population := cfg.Lifecycle.InitialPopulation
	for range ticker.C {
		tick++
		t := float64(tick) / float64(*tickHz)
		pointer := r3.Vec{
			X: noise.Eval2(t*0.1, 0) * 25,
			Y: noise.Eval2(0, t*0.1) * 25,
			Z: noise.Eval2(t*0.07, t*0.07) * 10,
		}

		worker.Inbox <- sim.AdvanceCmd{Pointer: &pointer, Camera: &camera}

		// Wait for the tick reply before pacing the next frame; this is
		// the back-pressure contract of the worker protocol.
	drain:
		for ev := range worker.Events {
			switch e := ev.(type) {
			case sim.TickCompletedEvent:
				population = e.Population
				break drain
			case sim.QualityChangedEvent:
				writeQuality(output, e)
			}
		}
		perf.RecordFrame()

		if tick%windowTicks == 0 {
			fps, stability := perf.FrameStats()
			worker.Inbox <- sim.PerfReportCmd{Inputs: sim.PerfInputs{
				AvgFPS:         fps,
				Stability:      stability,
				MemoryPressure: telemetry.MemoryPressure(cfg.Telemetry.MemoryBudgetMB),
				Population:     population,
			}}

			stats := perf.Stats()
			if err := output.WritePerf(stats, int32(tick)); err != nil {
				slog.Error("failed to write perf window", "error", err)
			}
			if *logStats {
				slog.Info("perf", "population", population, "stats", stats)
			}
		}

		if *maxTicks > 0 && tick >= *maxTicks {
			slog.Info("max ticks reached", "tick", tick, "population", population)
			return
		}
	}
}

// writeQuality exports a quality transition, tolerating disabled output.
func writeQuality(output *telemetry.OutputManager, e sim.QualityChangedEvent) {
	rec := telemetry.QualityTransitionCSV{
		Tick:        e.Tick,
		From:        e.Transition.From,
		To:          e.Transition.To,
		Reason:      e.Transition.Reason,
		AvgFPS:      round2(e.Transition.Inputs.AvgFPS),
		Stability:   round2(e.Transition.Inputs.Stability),
		MemPressure: round2(e.Transition.Inputs.MemoryPressure),
		Population:  e.Transition.Inputs.Population,
		Score:       round2(e.Transition.Score),
	}
	if err := output.WriteQuality(rec); err != nil {
		slog.Error("failed to write quality transition", "error", err)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
