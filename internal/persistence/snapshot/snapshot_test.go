package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
)

func testStore() *voxel.ChunkStore {
	return voxel.NewChunkStore(voxel.WorldGen{Seed: 7, GroundLevel: -1000})
}

func TestCaptureWriteReadApply(t *testing.T) {
	store := testStore()
	store.SetBlock(5, 5, 5, voxel.Stone)
	store.SetBlock(40, 1, 1, voxel.Dirt)

	snap := Capture(store, "w1", 42)
	if snap.Header.Tick != 42 || snap.Header.WorldID != "w1" {
		t.Fatalf("header %+v", snap.Header)
	}
	if snap.Seed != 7 {
		t.Fatalf("seed %d want 7", snap.Seed)
	}
	if len(snap.Chunks) != 2 {
		t.Fatalf("got %d chunks want 2", len(snap.Chunks))
	}

	path := filepath.Join(t.TempDir(), "snapshots", "42.snap.zst")
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.Header != snap.Header || len(got.Chunks) != len(snap.Chunks) {
		t.Fatalf("round trip mismatch: %+v", got.Header)
	}

	restored := testStore()
	if err := got.Apply(restored); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b := restored.GetBlock(5, 5, 5); b != voxel.Stone {
		t.Fatalf("restored block %d want %d", b, voxel.Stone)
	}
	if b := restored.GetBlock(40, 1, 1); b != voxel.Dirt {
		t.Fatalf("restored block %d want %d", b, voxel.Dirt)
	}
	k := voxel.ChunkKey{}
	if restored.Chunks[k].Digest() != store.Chunks[k].Digest() {
		t.Fatalf("restored chunk digest differs")
	}
}

func TestApply_RejectsBadPayload(t *testing.T) {
	snap := SnapshotV1{Chunks: []ChunkV1{{Blocks: "not base64!"}}}
	if err := snap.Apply(testStore()); err == nil {
		t.Fatalf("Apply accepted a corrupt chunk payload")
	}
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	if got := FindLatest(dir); got != "" {
		t.Fatalf("FindLatest on empty dir = %q", got)
	}
	store := testStore()
	store.SetBlock(0, 0, 0, voxel.Stone)
	for _, tick := range []uint64{10, 300, 200} {
		if err := WriteSnapshot(PathFor(dir, tick), Capture(store, "w1", tick)); err != nil {
			t.Fatalf("WriteSnapshot: %v", err)
		}
	}
	want := PathFor(dir, 300)
	if got := FindLatest(dir); got != want {
		t.Fatalf("FindLatest = %q want %q", got, want)
	}
}
