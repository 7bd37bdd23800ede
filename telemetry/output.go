package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/drift/config"
)

// QualityTransitionCSV is one quality-tier transition record.
type QualityTransitionCSV struct {
	Tick        int32   `csv:"tick"`
	From        string  `csv:"from"`
	To          string  `csv:"to"`
	Reason      string  `csv:"reason"`
	AvgFPS      float64 `csv:"fps"`
	Stability   float64 `csv:"fps_stability"`
	MemPressure float64 `csv:"mem_pressure"`
	Population  int     `csv:"population"`
	Score       float64 `csv:"score"`
}

// OutputManager handles structured run output with CSV logging.
type OutputManager struct {
	dir         string
	perfFile    *os.File
	qualityFile *os.File

	perfHeaderWritten    bool
	qualityHeaderWritten bool
}

// NewOutputManager creates an output manager rooted at dir.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	f, err = os.Create(filepath.Join(dir, "quality.csv"))
	if err != nil {
		om.perfFile.Close()
		return nil, fmt.Errorf("creating quality.csv: %w", err)
	}
	om.qualityFile = f

	return om, nil
}

// WriteConfig saves the effective configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WritePerf writes a performance window record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int32) error {
	if om == nil {
		return nil
	}

	records := []PerfStatsCSV{stats.ToCSV(windowEnd)}

	if !om.perfHeaderWritten {
		if err := gocsv.Marshal(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
		om.perfHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.perfFile); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
	}

	return nil
}

// WriteQuality writes a quality-tier transition record to quality.csv.
func (om *OutputManager) WriteQuality(rec QualityTransitionCSV) error {
	if om == nil {
		return nil
	}

	records := []QualityTransitionCSV{rec}

	if !om.qualityHeaderWritten {
		if err := gocsv.Marshal(records, om.qualityFile); err != nil {
			return fmt.Errorf("writing quality: %w", err)
		}
		om.qualityHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.qualityFile); err != nil {
			return fmt.Errorf("writing quality: %w", err)
		}
	}

	return nil
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() {
	if om == nil {
		return
	}
	om.perfFile.Close()
	om.qualityFile.Close()
}
