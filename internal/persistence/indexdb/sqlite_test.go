package indexdb

import (
	"path/filepath"
	"testing"

	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
)

func openTestIndex(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "surface.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx, path
}

func TestBake_UpsertAndQuery(t *testing.T) {
	idx, path := openTestIndex(t)

	idx.RecordBake(BakeRow{CX: 1, CY: 2, CZ: 3, Level: "high", Vertices: 100, Triangles: 50, DurationMS: 1.5, Digest: "aaa"})
	idx.RecordBake(BakeRow{CX: 1, CY: 2, CZ: 3, Level: "high", Vertices: 120, Triangles: 60, DurationMS: 2.0, Digest: "bbb"})
	idx.RecordBake(BakeRow{CX: 1, CY: 2, CZ: 3, Level: "low", Vertices: 30, Triangles: 15, DurationMS: 0.4, Digest: "ccc"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	row, ok, err := idx.Bake(1, 2, 3, "high")
	if err != nil || !ok {
		t.Fatalf("Bake: ok=%v err=%v", ok, err)
	}
	if row.Vertices != 120 || row.Digest != "bbb" {
		t.Fatalf("upsert did not replace: %+v", row)
	}
	if _, ok, _ := idx.Bake(9, 9, 9, "high"); ok {
		t.Fatalf("missing bake reported present")
	}
}

func TestObserveTick_RecordsCounters(t *testing.T) {
	idx, path := openTestIndex(t)

	idx.ObserveTick(10, dual.Stats{DirtyChunks: 4, Generations: 2, Failures: 1}, 3)
	idx.ObserveTick(11, dual.Stats{MeshedChunks: 7}, 3)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	rows, err := idx.TickStats(0, 100)
	if err != nil {
		t.Fatalf("TickStats: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d tick rows want 2", len(rows))
	}
	if rows[0].Tick != 10 || rows[0].DirtyChunks != 4 || rows[0].Failures != 1 || rows[0].Sessions != 3 {
		t.Fatalf("row 0: %+v", rows[0])
	}
	if rows[1].Tick != 11 || rows[1].MeshedChunks != 7 {
		t.Fatalf("row 1: %+v", rows[1])
	}
}

func TestRecordSnapshot_LatestWins(t *testing.T) {
	idx, path := openTestIndex(t)

	snapA := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Tick: 100}, Seed: 7}
	snapB := snapshot.SnapshotV1{Header: snapshot.Header{Version: 1, Tick: 300}, Seed: 7, Chunks: []snapshot.ChunkV1{{}}}
	idx.RecordSnapshot("/data/snapshots/100.snap.zst", snapA)
	idx.RecordSnapshot("/data/snapshots/300.snap.zst", snapB)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	p, tick, ok, err := idx.LatestSnapshot()
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot: ok=%v err=%v", ok, err)
	}
	if tick != 300 || p != "/data/snapshots/300.snap.zst" {
		t.Fatalf("latest %q tick %d", p, tick)
	}
}

func TestClosedIndexDropsWrites(t *testing.T) {
	idx, _ := openTestIndex(t)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic or block.
	idx.RecordBake(BakeRow{Level: "high"})
	idx.ObserveTick(1, dual.Stats{}, 0)
	if depth, _ := idx.QueueStats(); depth != 0 {
		t.Fatalf("queue depth %d after close", depth)
	}
}
