package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/lod"
)

func TestGenerationLogger_RecordsOutcomeFields(t *testing.T) {
	dir := t.TempDir()
	l := NewGenerationLogger(dir)
	l.Observe(dual.GenerationEvent{
		Key:       voxel.ChunkKey{CX: 1, CY: 2, CZ: 3},
		Level:     lod.High,
		Duration:  1500 * time.Microsecond,
		Vertices:  90,
		Triangles: 44,
	})
	l.Observe(dual.GenerationEvent{
		Key:       voxel.ChunkKey{CX: 1, CY: 2, CZ: 3},
		Level:     lod.Low,
		Malformed: true,
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readJSONL[GenerationEntry](t, filepath.Join(dir, "generations", "generations-*.jsonl.zst"))
	if len(entries) != 2 {
		t.Fatalf("got %d entries want 2", len(entries))
	}
	if entries[0].Level != "high" || entries[0].Vertices != 90 || entries[0].DurationMS != 1.5 {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].Level != "low" || !entries[1].Malformed {
		t.Fatalf("entry 1: %+v", entries[1])
	}
}

func readJSONL[T any](t *testing.T, glob string) []T {
	t.Helper()
	matches, err := filepath.Glob(glob)
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files %v err %v", matches, err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var out []T
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e T
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestSurfaceLogger_WritesDecodableJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewSurfaceLogger(dir)
	l.ObserveTick(1, dual.Stats{DirtyChunks: 3, Generations: 2}, 1)
	l.ObserveTick(2, dual.Stats{MeshedChunks: 5, Failures: 1}, 2)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readJSONL[TickEntry](t, filepath.Join(dir, "surface", "surface-*.jsonl.zst"))
	if len(entries) != 2 {
		t.Fatalf("got %d entries want 2", len(entries))
	}
	if entries[0].Tick != 1 || entries[0].DirtyChunks != 3 || entries[0].Sessions != 1 {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].Tick != 2 || entries[1].Failures != 1 {
		t.Fatalf("entry 1: %+v", entries[1])
	}
}
