// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Physics   PhysicsConfig   `yaml:"physics"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sync      SyncConfig      `yaml:"sync"`
	Quality   QualityConfig   `yaml:"quality"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// PhysicsConfig holds force-model radii and strengths.
type PhysicsConfig struct {
	GridCellSize float64 `yaml:"grid_cell_size"` // spatial grid cube edge; keep > largest short-range radius

	SeparationRadius   float64 `yaml:"separation_radius"`
	SeparationStrength float64 `yaml:"separation_strength"`

	SpeedInfluenceRadius float64 `yaml:"speed_influence_radius"`
	SpeedInfluenceFactor float64 `yaml:"speed_influence_factor"` // per-neighbor lerp factor

	AttractorRadius   float64 `yaml:"attractor_radius"`
	AttractorStrength float64 `yaml:"attractor_strength"`

	EnhancementRadius    float64 `yaml:"enhancement_radius"`
	EnhancementSatBoost  float64 `yaml:"enhancement_sat_boost"`
	EnhancementLiteBoost float64 `yaml:"enhancement_lite_boost"`

	PointerRadius   float64 `yaml:"pointer_radius"`
	PointerStrength float64 `yaml:"pointer_strength"` // lerp factor toward pointer direction

	Jitter          float64 `yaml:"jitter"`           // per-axis random perturbation, regular agents
	AttractorJitter float64 `yaml:"attractor_jitter"` // much smaller so attractors look stable
}

// LifecycleConfig holds spawn and aging parameters.
type LifecycleConfig struct {
	InitialPopulation int     `yaml:"initial_population"`
	SpawnRate         float64 `yaml:"spawn_rate"` // agents per tick, fractional allowed
	MinLifespan       int32   `yaml:"min_lifespan"`
	MaxLifespan       int32   `yaml:"max_lifespan"`
	SpawnRadiusMin    float64 `yaml:"spawn_radius_min"`
	SpawnRadiusMax    float64 `yaml:"spawn_radius_max"`

	MinSpeed       float64 `yaml:"min_speed"`
	MaxSpeed       float64 `yaml:"max_speed"`
	AttractorSpeed float64 `yaml:"attractor_speed"`

	AttractorChance   float64 `yaml:"attractor_chance"`   // probability a spawn is an attractor
	InteractiveChance float64 `yaml:"interactive_chance"` // probability a primary agent is pointer-interactive

	PrimaryHue   float64 `yaml:"primary_hue"`
	SecondaryHue float64 `yaml:"secondary_hue"`
	AttractorHue float64 `yaml:"attractor_hue"`
	HueJitter    float64 `yaml:"hue_jitter"` // +/- random offset around the base hue

	BaseSaturation float64 `yaml:"base_saturation"`
	BaseLightness  float64 `yaml:"base_lightness"`
}

// SyncConfig holds state-sync thresholds and connection-graph limits.
type SyncConfig struct {
	PositionEpsilon  float64 `yaml:"position_epsilon"` // min per-axis movement to resend position
	ColorEpsilon     float64 `yaml:"color_epsilon"`    // min HSL channel change to resend color
	OpacityEpsilon   float64 `yaml:"opacity_epsilon"`
	QuantizeDecimals int     `yaml:"quantize_decimals"`

	FlickerAmplitude float64 `yaml:"flicker_amplitude"` // lightness modulation depth
	FlickerFrequency float64 `yaml:"flicker_frequency"` // radians per tick
	OpacityBase      float64 `yaml:"opacity_base"`
	OpacityAmplitude float64 `yaml:"opacity_amplitude"`

	ConnectionDistance float64 `yaml:"connection_distance"`
	MaxConnections     int     `yaml:"max_connections"`
	MaxConnectionScan  int     `yaml:"max_connection_scan"` // agents examined per tick for connections
}

// LODDistances holds the three ascending tier boundaries, in world units.
type LODDistances struct {
	Reduced float64 `yaml:"reduced"`
	Minimal float64 `yaml:"minimal"`
	Culled  float64 `yaml:"culled"`
}

// UpdateRates holds per-tier physics update fractions (1.0 = every tick).
type UpdateRates struct {
	Full    float64 `yaml:"full"`
	Reduced float64 `yaml:"reduced"`
	Minimal float64 `yaml:"minimal"`
}

// ConnectionDensity holds per-tier connection-graph thinning multipliers.
type ConnectionDensity struct {
	Full    float64 `yaml:"full"`
	Reduced float64 `yaml:"reduced"`
	Minimal float64 `yaml:"minimal"`
}

// QualityTierConfig is one named quality configuration bundle.
type QualityTierConfig struct {
	Name              string            `yaml:"name"`
	MaxEntities       int               `yaml:"max_entities"`
	LODDistances      LODDistances      `yaml:"lod_distances"`
	UpdateRates       UpdateRates       `yaml:"update_rates"`
	ConnectionDensity ConnectionDensity `yaml:"connection_density"`
	MaxConnections    int               `yaml:"max_connections"` // 0 = use sync.max_connections
}

// QualityConfig holds the adaptive-quality policy and the ordered tier list
// (lowest fidelity first).
type QualityConfig struct {
	CooldownSec      float64 `yaml:"cooldown_sec"`
	TargetFPS        float64 `yaml:"target_fps"`
	CriticalFPS      float64 `yaml:"critical_fps"`
	UpgradeFPS       float64 `yaml:"upgrade_fps"`
	StabilityMin     float64 `yaml:"stability_min"`
	UpgradeStability float64 `yaml:"upgrade_stability"`
	MemoryCritical   float64 `yaml:"memory_critical"`
	MemoryLow        float64 `yaml:"memory_low"`
	ScoreLow         float64 `yaml:"score_low"`
	ScoreHigh        float64 `yaml:"score_high"`
	InitialTier      string  `yaml:"initial_tier"`

	Tiers []QualityTierConfig `yaml:"tiers"`
}

// TelemetryConfig holds perf-collection parameters.
type TelemetryConfig struct {
	WindowSec      float64 `yaml:"window_sec"`       // quality evaluation cadence
	PerfWindow     int     `yaml:"perf_window"`      // frames in the rolling perf window
	MemoryBudgetMB float64 `yaml:"memory_budget_mb"` // heap budget for memory-pressure ratio
}

// DerivedConfig holds values computed after loading.
type DerivedConfig struct {
	TierIndex       map[string]int // tier name -> position in the ordered list
	InitialTierIdx  int
	AverageLifespan float64 // (min+max)/2, for equilibrium diagnostics
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects configurations the engine cannot run with.
func (c *Config) validate() error {
	if len(c.Quality.Tiers) == 0 {
		return fmt.Errorf("config: quality.tiers must not be empty")
	}
	if c.Lifecycle.MinLifespan <= 0 || c.Lifecycle.MaxLifespan < c.Lifecycle.MinLifespan {
		return fmt.Errorf("config: lifecycle lifespan bounds invalid: [%d, %d]",
			c.Lifecycle.MinLifespan, c.Lifecycle.MaxLifespan)
	}
	if c.Physics.GridCellSize <= 0 {
		return fmt.Errorf("config: physics.grid_cell_size must be positive")
	}
	for i, t := range c.Quality.Tiers {
		d := t.LODDistances
		if !(d.Reduced < d.Minimal && d.Minimal < d.Culled) {
			return fmt.Errorf("config: tier %q (index %d): lod_distances must be strictly ascending", t.Name, i)
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.TierIndex = make(map[string]int, len(c.Quality.Tiers))
	for i, t := range c.Quality.Tiers {
		c.Derived.TierIndex[t.Name] = i
	}

	idx, ok := c.Derived.TierIndex[c.Quality.InitialTier]
	if !ok {
		// Fall back to the highest tier when unset or unknown
		idx = len(c.Quality.Tiers) - 1
	}
	c.Derived.InitialTierIdx = idx

	c.Derived.AverageLifespan = float64(c.Lifecycle.MinLifespan+c.Lifecycle.MaxLifespan) / 2
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
