// Package archive keeps milestone snapshots out of the rolling
// snapshot directory so retention pruning never deletes them.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
)

type Meta struct {
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Chunks    int    `json:"chunks"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveSnapshot copies a milestone snapshot into
// `worldDir/archives/tick_<NNN>/`. A snapshot is a milestone when its
// tick is a positive multiple of everyTicks; everything else returns
// archived=false without touching the disk.
func ArchiveSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks uint64) (archivedPath string, archived bool, err error) {
	if everyTicks == 0 {
		return "", false, nil
	}
	tick := snap.Header.Tick
	if tick == 0 || tick%everyTicks != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("tick_%012d", tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := Meta{
		Tick:      tick,
		Seed:      snap.Seed,
		Chunks:    len(snap.Chunks),
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	mb, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), mb, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// PruneSnapshots deletes the oldest rolling snapshots beyond keep.
// Archived copies are untouched.
func PruneSnapshots(worldDir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var ticks []uint64
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	if len(ticks) <= keep {
		return nil
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	for _, tick := range ticks[:len(ticks)-keep] {
		if err := os.Remove(filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
