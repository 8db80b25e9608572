// meshbake voxelizes an analytic solid, runs it through the full
// surface pipeline at every LOD, and writes the meshes out as OBJ
// files plus a sqlite bake index. Useful for eyeballing extraction
// quality against known geometry and for pre-baking static props.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	sdfx "github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/indexdb"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/lod"
)

func main() {
	var (
		outDir = flag.String("out", "./bake", "output directory for OBJ files")
		dbPath = flag.String("db", "", "bake index path (default: <out>/bake.db)")
		shape  = flag.String("shape", "sphere", "solid to bake: sphere, box or cylinder")
		size   = flag.Float64("size", 24, "solid radius / half-extent in voxels")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[meshbake] ", log.LstdFlags|log.Lmicroseconds)

	solid, err := buildSolid(*shape, *size)
	if err != nil {
		logger.Fatalf("build solid: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Fatalf("mkdir out: %v", err)
	}
	dp := *dbPath
	if dp == "" {
		dp = filepath.Join(*outDir, "bake.db")
	}
	idx, err := indexdb.OpenSQLite(dp)
	if err != nil {
		logger.Fatalf("open bake index: %v", err)
	}
	defer idx.Close()

	// Empty terrain; the solid is the only geometry.
	store := voxel.NewChunkStore(voxel.WorldGen{GroundLevel: -1 << 20})
	voxelize(store, solid, *size)
	keys := store.LoadedChunkKeys()
	logger.Printf("voxelized %s size=%.1f into %d chunks", *shape, *size, len(keys))

	coord := dual.NewCoordinator(store, gpu.NewCPUDevice(runtime.NumCPU()), logger)

	var meshes, failures int
	for _, k := range keys {
		start := time.Now()
		if err := coord.GenerateChunkLods(k); err != nil {
			logger.Printf("chunk %+v: %v", k, err)
			failures++
			continue
		}
		elapsed := time.Since(start)
		digest := store.Chunks[k].Digest()

		for _, level := range lod.SmoothLevels {
			mesh := coord.MeshForLevel(k, level)
			if mesh == nil || mesh.VertexCount() == 0 {
				continue
			}
			name := fmt.Sprintf("chunk_%d_%d_%d_%s.obj", k.CX, k.CY, k.CZ, level)
			if err := writeOBJ(filepath.Join(*outDir, name), mesh); err != nil {
				logger.Fatalf("write %s: %v", name, err)
			}
			idx.RecordBake(indexdb.BakeRow{
				CX: k.CX, CY: k.CY, CZ: k.CZ,
				Level:      level.String(),
				Vertices:   mesh.VertexCount(),
				Triangles:  mesh.TriangleCount(),
				DurationMS: float64(elapsed.Microseconds()) / 1000 / float64(len(lod.SmoothLevels)),
				Digest:     hex.EncodeToString(digest[:]),
			})
			meshes++
		}
	}
	logger.Printf("baked %d meshes (%d chunk failures) into %s", meshes, failures, *outDir)
}

func buildSolid(shape string, size float64) (sdfx.SDF3, error) {
	switch shape {
	case "sphere":
		return sdfx.Sphere3D(size)
	case "box":
		return sdfx.Box3D(v3.Vec{X: 2 * size, Y: 2 * size, Z: 2 * size}, size/8)
	case "cylinder":
		return sdfx.Cylinder3D(2*size, size*0.6, size/8)
	default:
		return nil, fmt.Errorf("unknown shape %q", shape)
	}
}

// voxelize marks every voxel whose center the solid contains. The
// solid is centered so the whole thing sits in positive space and a
// one-chunk skirt of loaded air surrounds it.
func voxelize(store *voxel.ChunkStore, solid sdfx.SDF3, size float64) {
	c := float64(voxel.ChunkSize) * (1 + float64(int(size)/voxel.ChunkSize))
	lo := int(c - size - 2)
	hi := int(c + size + 2)
	for z := lo; z <= hi; z++ {
		for y := lo; y <= hi; y++ {
			for x := lo; x <= hi; x++ {
				p := v3.Vec{X: float64(x) + 0.5 - c, Y: float64(y) + 0.5 - c, Z: float64(z) + 0.5 - c}
				if solid.Evaluate(p) < 0 {
					store.SetBlock(x, y, z, voxel.Stone)
				}
			}
		}
	}
}

func writeOBJ(path string, mesh *extract.Mesh) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriterSize(f, 256*1024)
	if err := encodeOBJ(w, mesh); err != nil {
		return err
	}
	return w.Flush()
}

func encodeOBJ(w io.Writer, mesh *extract.Mesh) error {
	for _, p := range mesh.Positions {
		if _, err := fmt.Fprintf(w, "v %g %g %g\n", p.X, p.Y, p.Z); err != nil {
			return err
		}
	}
	for _, n := range mesh.Normals {
		if _, err := fmt.Fprintf(w, "vn %g %g %g\n", n.X, n.Y, n.Z); err != nil {
			return err
		}
	}
	for i := 0; i+2 < len(mesh.Indices); i += 3 {
		// OBJ indices are 1-based.
		a, b, c := mesh.Indices[i]+1, mesh.Indices[i+1]+1, mesh.Indices[i+2]+1
		if _, err := fmt.Fprintf(w, "f %d//%d %d//%d %d//%d\n", a, a, b, b, c, c); err != nil {
			return err
		}
	}
	return nil
}
