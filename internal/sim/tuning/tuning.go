package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning is the server-side knob set loaded from tuning.yaml. Zero
// values take the defaults below, so a partial file only overrides what
// it names.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz   int     `yaml:"tick_rate_hz"`
	ViewDistance float64 `yaml:"view_distance"`

	// SnapshotEveryTicks is the world snapshot cadence; 0 disables.
	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`
	// SnapshotKeep bounds the rolling snapshot directory.
	SnapshotKeep int `yaml:"snapshot_keep"`

	World     World     `yaml:"world"`
	Surface   Surface   `yaml:"surface"`
	Collision Collision `yaml:"collision"`
}

type World struct {
	Seed          int64 `yaml:"seed"`
	BoundaryR     int   `yaml:"boundary_r"`
	GroundLevel   int   `yaml:"ground_level"`
	HillAmplitude int   `yaml:"hill_amplitude"`
	HillPeriod    int   `yaml:"hill_period"`
	DirtDepth     int   `yaml:"dirt_depth"`
	OrePermille   int   `yaml:"ore_permille"`
}

type Surface struct {
	// MaxChunkUpdates caps dirty-chunk regenerations per tick.
	MaxChunkUpdates int `yaml:"max_chunk_updates"`
	// LODThresholds are the screen-error cutoffs for voxel, high,
	// medium and low tiers, strictly decreasing.
	LODThresholds []float64 `yaml:"lod_thresholds"`
	LODBias       float64   `yaml:"lod_bias"`
	MaxDistance   float64   `yaml:"max_distance"`
}

type Collision struct {
	Epsilon  float64 `yaml:"epsilon"`
	MaxSteps int     `yaml:"max_steps"`
}

func Default() Tuning {
	var t Tuning
	applyDefaults(&t)
	return t
}

func applyDefaults(t *Tuning) {
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = "surface-1"
	}
	if t.TickRateHz == 0 {
		t.TickRateHz = 10
	}
	if t.ViewDistance == 0 {
		t.ViewDistance = 512
	}
	if t.SnapshotEveryTicks == 0 {
		t.SnapshotEveryTicks = 600
	}
	if t.SnapshotKeep == 0 {
		t.SnapshotKeep = 12
	}
	if t.World.GroundLevel == 0 {
		t.World.GroundLevel = 24
	}
	if t.World.HillAmplitude == 0 {
		t.World.HillAmplitude = 12
	}
	if t.World.HillPeriod == 0 {
		t.World.HillPeriod = 48
	}
	if t.World.DirtDepth == 0 {
		t.World.DirtDepth = 3
	}
	if t.World.OrePermille == 0 {
		t.World.OrePermille = 20
	}
	if t.Surface.MaxChunkUpdates == 0 {
		t.Surface.MaxChunkUpdates = 8
	}
	if len(t.Surface.LODThresholds) == 0 {
		t.Surface.LODThresholds = []float64{0.1, 0.05, 0.02, 0.01}
	}
	if t.Surface.MaxDistance == 0 {
		t.Surface.MaxDistance = 8
	}
	if t.Collision.Epsilon == 0 {
		t.Collision.Epsilon = 0.01
	}
	if t.Collision.MaxSteps == 0 {
		t.Collision.MaxSteps = 128
	}
}

func validate(t *Tuning) error {
	if len(t.Surface.LODThresholds) != 4 {
		return fmt.Errorf("tuning.yaml: surface.lod_thresholds needs 4 entries, got %d", len(t.Surface.LODThresholds))
	}
	for i := 1; i < len(t.Surface.LODThresholds); i++ {
		if t.Surface.LODThresholds[i] >= t.Surface.LODThresholds[i-1] {
			return fmt.Errorf("tuning.yaml: surface.lod_thresholds must be strictly decreasing")
		}
	}
	if t.Surface.MaxChunkUpdates < 1 {
		return fmt.Errorf("tuning.yaml: surface.max_chunk_updates must be positive")
	}
	return nil
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	applyDefaults(&t)
	if err := validate(&t); err != nil {
		return t, err
	}
	return t, nil
}
