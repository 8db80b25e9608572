package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeTemp(t, "tick_rate_hz: 20\nsurface:\n  max_chunk_updates: 3\n")
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.TickRateHz != 20 {
		t.Fatalf("tick_rate_hz = %d want 20", tu.TickRateHz)
	}
	if tu.Surface.MaxChunkUpdates != 3 {
		t.Fatalf("max_chunk_updates = %d want 3", tu.Surface.MaxChunkUpdates)
	}
	if tu.ViewDistance != 512 {
		t.Fatalf("view_distance default missing: %v", tu.ViewDistance)
	}
	if len(tu.Surface.LODThresholds) != 4 || tu.Surface.LODThresholds[0] != 0.1 {
		t.Fatalf("lod thresholds default missing: %v", tu.Surface.LODThresholds)
	}
	if tu.Collision.Epsilon != 0.01 || tu.Collision.MaxSteps != 128 {
		t.Fatalf("collision defaults missing: %+v", tu.Collision)
	}
}

func TestLoad_RejectsNonDecreasingThresholds(t *testing.T) {
	p := writeTemp(t, "surface:\n  lod_thresholds: [0.1, 0.1, 0.02, 0.01]\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("non-decreasing thresholds accepted")
	}
	p = writeTemp(t, "surface:\n  lod_thresholds: [0.1, 0.05]\n")
	if _, err := Load(p); err == nil {
		t.Fatalf("short threshold list accepted")
	}
}

func TestDefault_Valid(t *testing.T) {
	tu := Default()
	if err := validate(&tu); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}
