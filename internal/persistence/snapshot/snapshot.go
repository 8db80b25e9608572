// Package snapshot persists the voxel world to disk. A snapshot file is
// zstd-compressed: one JSON header line for quick inspection, then a
// gob-encoded body. Only the authoritative grid is saved; distance
// fields and meshes are caches the coordinator rebuilds after restore.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/noahsabaj/earth-engine-sub003/internal/sim/encoding"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	// Worldgen parameters, so a resumed world regenerates unloaded
	// chunks identically.
	Seed          int64 `json:"seed"`
	BoundaryR     int   `json:"boundary_r"`
	GroundLevel   int   `json:"ground_level"`
	HillAmplitude int   `json:"hill_amplitude"`
	HillPeriod    int   `json:"hill_period"`
	DirtDepth     int   `json:"dirt_depth"`
	OrePermille   int   `json:"ore_permille"`

	Chunks []ChunkV1 `json:"chunks"`
}

// ChunkV1 carries one chunk's blocks in the same RLE encoding the wire
// protocol uses for voxel payloads.
type ChunkV1 struct {
	CX     int    `json:"cx"`
	CY     int    `json:"cy"`
	CZ     int    `json:"cz"`
	Blocks string `json:"blocks"`
}

// Capture copies every loaded chunk out of the store in deterministic
// key order. Call from the goroutine that owns the store.
func Capture(store *voxel.ChunkStore, worldID string, tick uint64) SnapshotV1 {
	snap := SnapshotV1{
		Header:        Header{Version: 1, WorldID: worldID, Tick: tick},
		Seed:          store.Gen.Seed,
		BoundaryR:     store.Gen.BoundaryR,
		GroundLevel:   store.Gen.GroundLevel,
		HillAmplitude: store.Gen.HillAmplitude,
		HillPeriod:    store.Gen.HillPeriod,
		DirtDepth:     store.Gen.DirtDepth,
		OrePermille:   store.Gen.OrePermille,
	}

	keys := store.LoadedChunkKeys()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CZ < keys[j].CZ
	})
	for _, k := range keys {
		ch := store.Chunks[k]
		snap.Chunks = append(snap.Chunks, ChunkV1{
			CX:     k.CX,
			CY:     k.CY,
			CZ:     k.CZ,
			Blocks: encoding.EncodeRLE(ch.Blocks),
		})
	}
	return snap
}

// Apply loads the snapshot's chunks into the store, replacing any
// generated contents. The caller re-dirties the surface caches
// afterwards (EnsureChunk per restored key).
func (s SnapshotV1) Apply(store *voxel.ChunkStore) error {
	want := voxel.ChunkSize * voxel.ChunkSize * voxel.ChunkSize
	for _, cv := range s.Chunks {
		blocks, err := encoding.DecodeRLE(cv.Blocks)
		if err != nil {
			return fmt.Errorf("chunk (%d,%d,%d): %w", cv.CX, cv.CY, cv.CZ, err)
		}
		if len(blocks) != want {
			return fmt.Errorf("chunk (%d,%d,%d): %d blocks, want %d", cv.CX, cv.CY, cv.CZ, len(blocks), want)
		}
		ch := store.GetOrGenChunk(voxel.ChunkKey{CX: cv.CX, CY: cv.CY, CZ: cv.CZ})
		ch.SetBlocks(blocks)
	}
	return nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line repeats inside the gob body; skip it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// PathFor is the canonical location for a snapshot at one tick.
func PathFor(worldDir string, tick uint64) string {
	return filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", tick))
}

// FindLatest returns the highest-tick snapshot under worldDir, or ""
// when none exists.
func FindLatest(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	var found bool
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if !found || tick > bestTick {
			best = filepath.Join(dir, name)
			bestTick = tick
			found = true
		}
	}
	return best
}
