// Package config loads simulation configuration from YAML.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/worldhistory/internal/polity"
	"github.com/talgya/worldhistory/internal/world"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	World       WorldConfig       `yaml:"world"`
	Prominence  ProminenceConfig  `yaml:"prominence"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Engine      EngineConfig      `yaml:"engine"`
	Persistence PersistenceConfig `yaml:"persistence"`
	API         APIConfig         `yaml:"api"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds map generation and founding parameters.
type WorldConfig struct {
	Seed              int64   `yaml:"seed"` // 0 = draw a fresh seed
	Radius            int     `yaml:"radius"`
	SeaLevel          float64 `yaml:"sea_level"`
	MountainLevel     float64 `yaml:"mountain_level"`
	SlopeCost         float64 `yaml:"slope_cost"`
	InitialFill       float64 `yaml:"initial_fill"` // starting population as a share of capacity
	Founders          int     `yaml:"founders"`     // polities founded on a new world
	FounderProminence float64 `yaml:"founder_prominence"`
}

// ProminenceConfig holds propagation parameters.
type ProminenceConfig struct {
	TimeConstant  float64 `yaml:"time_constant"`  // days
	MinValue      float64 `yaml:"min_value"`      // entries at or below this are deleted
	DistanceScale float64 `yaml:"distance_scale"` // k in k/(k+distance)
	Noise         float64 `yaml:"noise"`
	SupportFloor  float64 `yaml:"support_floor"`
	AdminBase     float64 `yaml:"admin_base"`
	AdminScale    float64 `yaml:"admin_scale"`
}

// ClusterConfig holds cluster bounds.
type ClusterConfig struct {
	MaxSize      int `yaml:"max_size"`
	MinSplitSize int `yaml:"min_split_size"`
	MergeBelow   int `yaml:"merge_below"` // 0 disables merge-on-underflow
}

// ScheduleConfig holds event timing, all in days.
type ScheduleConfig struct {
	MaxSpan         int64   `yaml:"max_span"`
	FieldUpdateSpan int64   `yaml:"field_update_span"`
	UnitUpdateMin   int64   `yaml:"unit_update_min"`
	UnitUpdateMax   int64   `yaml:"unit_update_max"`
	ExpansionMin    int64   `yaml:"expansion_min"`
	ExpansionMax    int64   `yaml:"expansion_max"`
	ExpansionValue  float64 `yaml:"expansion_value"`
	FactionSpanMin  int64   `yaml:"faction_span_min"`
	FactionSpanMax  int64   `yaml:"faction_span_max"`
	FactionArea     float64 `yaml:"faction_area"`
	GrowthRate      float64 `yaml:"growth_rate"`
}

// EngineConfig holds real-time pacing.
type EngineConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Speed       float64       `yaml:"speed"`
	DaysPerStep int64         `yaml:"days_per_step"`
	SaveEvery   int64         `yaml:"save_every"`
}

// PersistenceConfig holds storage locations.
type PersistenceConfig struct {
	DBPath      string `yaml:"db_path"`
	SnapshotDir string `yaml:"snapshot_dir"`
}

// APIConfig holds HTTP settings.
type APIConfig struct {
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key"` // empty disables admin endpoints
	RelayKey string `yaml:"relay_key"` // empty disables the chronicle stream
}

// TelemetryConfig holds census export settings.
type TelemetryConfig struct {
	OutputDir   string `yaml:"output_dir"`
	CensusEvery int64  `yaml:"census_every"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Field    polity.Config
	Gen      world.GenConfig
	LogLevel slog.Level
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file.
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

func (c *Config) validate() error {
	s := c.Schedule
	if s.MaxSpan <= 0 {
		return fmt.Errorf("schedule.max_span must be positive")
	}
	if s.FieldUpdateSpan <= 0 {
		return fmt.Errorf("schedule.field_update_span must be positive")
	}
	if s.UnitUpdateMin <= 0 || s.UnitUpdateMax < s.UnitUpdateMin {
		return fmt.Errorf("schedule.unit_update range [%d, %d] is invalid", s.UnitUpdateMin, s.UnitUpdateMax)
	}
	if s.ExpansionMin <= 0 || s.ExpansionMax < s.ExpansionMin {
		return fmt.Errorf("schedule.expansion range [%d, %d] is invalid", s.ExpansionMin, s.ExpansionMax)
	}
	if s.FactionSpanMin <= 0 || s.FactionSpanMax < s.FactionSpanMin {
		return fmt.Errorf("schedule.faction_span range [%d, %d] is invalid", s.FactionSpanMin, s.FactionSpanMax)
	}
	if s.ExpansionValue <= 0 || s.ExpansionValue > 1 {
		return fmt.Errorf("schedule.expansion_value %g outside (0, 1]", s.ExpansionValue)
	}
	if c.World.Radius < 1 {
		return fmt.Errorf("world.radius must be at least 1")
	}
	if c.World.FounderProminence <= 0 || c.World.FounderProminence > 1 {
		return fmt.Errorf("world.founder_prominence %g outside (0, 1]", c.World.FounderProminence)
	}
	if c.Engine.DaysPerStep <= 0 {
		return fmt.Errorf("engine.days_per_step must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	p := c.Prominence
	c.Derived.Field = polity.Config{
		TimeConstant:   p.TimeConstant,
		MinValue:       p.MinValue,
		DistanceScale:  p.DistanceScale,
		Noise:          p.Noise,
		SupportFloor:   p.SupportFloor,
		AdminBase:      p.AdminBase,
		AdminScale:     p.AdminScale,
		MaxClusterSize: c.Cluster.MaxSize,
		MinSplitSize:   c.Cluster.MinSplitSize,
		MergeBelow:     c.Cluster.MergeBelow,
	}

	gen := world.DefaultGenConfig()
	gen.Radius = c.World.Radius
	gen.Seed = c.World.Seed
	gen.SeaLevel = c.World.SeaLevel
	gen.MountainLvl = c.World.MountainLevel
	gen.SlopeCost = c.World.SlopeCost
	gen.InitialFill = c.World.InitialFill
	c.Derived.Gen = gen

	c.Derived.LogLevel, _ = parseLevel(c.Log.Level)
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

// SetSeed fixes the world seed, e.g. after drawing a fresh one, and keeps
// the derived generator config in step.
func (c *Config) SetSeed(seed int64) {
	c.World.Seed = seed
	c.Derived.Gen.Seed = seed
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
