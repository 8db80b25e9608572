package dual

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/collide"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/lod"
)

func newTestCoordinator(t *testing.T) (*voxel.ChunkStore, *Coordinator) {
	t.Helper()
	store := voxel.NewChunkStore(voxel.WorldGen{Seed: 1, GroundLevel: -1000})
	c := NewCoordinator(store, gpu.NewCPUDevice(4), log.New(io.Discard, "", 0))
	return store, c
}

func loadCube(store *voxel.ChunkStore, r int) {
	for dz := -r; dz <= r; dz++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				store.GetOrGenChunk(voxel.ChunkKey{CX: dx, CY: dy, CZ: dz})
			}
		}
	}
}

func TestMarkChunkDirty_Exact26Neighbors(t *testing.T) {
	store, c := newTestCoordinator(t)
	loadCube(store, 1)
	store.GetOrGenChunk(voxel.ChunkKey{CX: 5})

	c.MarkChunkDirty(voxel.ChunkKey{})
	if got := c.Stats().DirtyChunks; got != 27 {
		t.Fatalf("dirty chunks = %d, want the chunk plus its 26 neighbors", got)
	}

	// Unloaded neighbors of an edge chunk are skipped.
	c.MarkChunkDirty(voxel.ChunkKey{CX: 5})
	if got := c.Stats().DirtyChunks; got != 28 {
		t.Fatalf("dirty chunks = %d, want 28 after marking an isolated chunk", got)
	}
}

func TestMarkVoxelDirty_MarginAware(t *testing.T) {
	store, c := newTestCoordinator(t)
	loadCube(store, 1)

	// Interior edit: only the owning chunk.
	store.SetBlock(16, 16, 16, voxel.Stone)
	if got := c.Stats().DirtyChunks; got != 1 {
		t.Fatalf("interior edit dirtied %d chunks, want 1", got)
	}

	// Corner edit within the seam margin of three boundaries: the
	// owning chunk and the 7 neighbors whose fields sample it.
	store.SetBlock(0, 0, 0, voxel.Stone)
	if got := c.Stats().DirtyChunks; got != 8 {
		t.Fatalf("corner edit left %d dirty chunks, want 8", got)
	}
}

func TestGenerationObserver_SeesRebuilds(t *testing.T) {
	store, c := newTestCoordinator(t)
	var events []GenerationEvent
	c.SetGenerationObserver(func(ev GenerationEvent) { events = append(events, ev) })

	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(1)

	if len(events) == 0 {
		t.Fatalf("no generation events observed")
	}
	ev := events[0]
	if ev.Key != (voxel.ChunkKey{}) || ev.Level != lod.High {
		t.Fatalf("event %+v, want high level for chunk (0,0,0)", ev)
	}
	if ev.Err != nil || ev.Malformed {
		t.Fatalf("rebuild reported failure: %+v", ev)
	}
	if ev.Vertices == 0 || ev.Triangles == 0 {
		t.Fatalf("sphere rebuild produced empty mesh stats: %+v", ev)
	}
}

func TestGenerationObserver_UniformChunkEmitsEmptyStats(t *testing.T) {
	_, c := newTestCoordinator(t)
	var events []GenerationEvent
	c.SetGenerationObserver(func(ev GenerationEvent) { events = append(events, ev) })

	// All-air chunk: the rebuild succeeds but extracts no surface.
	c.EnsureChunk(voxel.ChunkKey{})
	c.UpdateDirtyChunks(1)

	if len(events) != 1 {
		t.Fatalf("got %d generation events want 1", len(events))
	}
	ev := events[0]
	if ev.Err != nil || ev.Malformed {
		t.Fatalf("uniform chunk rebuild reported failure: %+v", ev)
	}
	if ev.Vertices != 0 || ev.Triangles != 0 {
		t.Fatalf("uniform chunk reported mesh stats: %+v", ev)
	}
	if c.ChunkState(voxel.ChunkKey{}) != StateClean {
		t.Fatalf("uniform chunk not clean after rebuild")
	}
}

func TestUpdateDirtyChunks_Budget(t *testing.T) {
	store, c := newTestCoordinator(t)
	loadCube(store, 1)
	c.MarkChunkDirty(voxel.ChunkKey{})

	if n := c.UpdateDirtyChunks(2); n != 2 {
		t.Fatalf("processed %d chunks, want budget of 2", n)
	}
	if got := c.Stats().DirtyChunks; got != 25 {
		t.Fatalf("dirty chunks = %d after budgeted update, want 25", got)
	}
	if n := c.UpdateDirtyChunks(0); n != 0 {
		t.Fatalf("zero budget processed %d chunks", n)
	}
}

func TestUpdate_BuildsMeshAndServesLOD(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)

	if got := c.Stats().DirtyChunks; got != 1 {
		t.Fatalf("sphere fill dirtied %d chunks, want 1", got)
	}
	if n := c.UpdateDirtyChunks(10); n != 1 {
		t.Fatalf("processed %d chunks, want 1", n)
	}

	// Mid-distance camera selects the high mesh tier.
	camera := r3.Vec{X: 516, Y: 16, Z: 16}
	vis := c.GetVisibleChunks(camera, 5000)
	if len(vis) != 1 {
		t.Fatalf("got %d visible chunks, want 1", len(vis))
	}
	d := vis[0]
	if d.Level != lod.High || d.Mesh == nil || d.Mesh.TriangleCount() == 0 {
		t.Fatalf("mid distance: level %v mesh %v, want high tier with triangles", d.Level, d.Mesh)
	}

	// A far camera wants a lower tier that is not built yet: it is
	// served the nearest existing mesh and the tier is queued.
	far := r3.Vec{X: 3016, Y: 16, Z: 16}
	d = c.GetVisibleChunks(far, 5000)[0]
	if d.Level != lod.High || d.Mesh == nil {
		t.Fatalf("missing tier not served from nearest existing: %v", d.Level)
	}
	if c.Stats().DirtyChunks != 1 {
		t.Fatalf("requesting a missing tier did not queue a rebuild")
	}
	c.UpdateDirtyChunks(10)
	d = c.GetVisibleChunks(far, 5000)[0]
	if d.Level != lod.Low || d.Mesh == nil {
		t.Fatalf("after rebuild: level %v, want low tier", d.Level)
	}
}

func TestSetLODThresholds_ChangesSelection(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)
	camera := r3.Vec{X: 516, Y: 16, Z: 16}

	d := c.GetVisibleChunks(camera, 5000)[0]
	if d.Level != lod.High {
		t.Fatalf("default thresholds: level %v, want high tier", d.Level)
	}

	// Raising the voxel cutoff pulls raw voxel rendering out to this
	// camera range.
	c.SetLODThresholds([]float64{0.05, 0.02, 0.01, 0.005})
	d = c.GetVisibleChunks(camera, 5000)[0]
	if d.Level != lod.Voxel || d.Mesh != nil {
		t.Fatalf("raised thresholds: level %v mesh %v, want voxel rendering", d.Level, d.Mesh)
	}

	// A wrong-length slice leaves the thresholds untouched.
	c.SetLODThresholds([]float64{0.5})
	if d = c.GetVisibleChunks(camera, 5000)[0]; d.Level != lod.Voxel {
		t.Fatalf("wrong-length thresholds were applied: level %v", d.Level)
	}
}

func TestSetMaxDistance_AppliesToRebuiltFields(t *testing.T) {
	store, c := newTestCoordinator(t)
	c.SetMaxDistance(4)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)

	f := c.FieldAt(r3.Vec{X: 16, Y: 16, Z: 16})
	if f == nil {
		t.Fatalf("no field cached after rebuild")
	}
	if f.MaxDist != 4 {
		t.Fatalf("field max distance %v, want 4", f.MaxDist)
	}
}

func TestGetVisibleChunks_NearChunkRendersVoxels(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)

	d := c.GetVisibleChunks(r3.Vec{X: 40, Y: 16, Z: 16}, 5000)[0]
	if d.Level != lod.Voxel || d.Mesh != nil {
		t.Fatalf("near chunk: level %v mesh %v, want voxel rendering", d.Level, d.Mesh)
	}
}

func TestGetVisibleChunks_ModeOverrides(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)
	camera := r3.Vec{X: 516, Y: 16, Z: 16}

	c.SetRenderMode(ModeVoxel)
	d := c.GetVisibleChunks(camera, 5000)[0]
	if d.Mode != ModeVoxel || d.Mesh != nil {
		t.Fatalf("voxel override ignored: %+v", d)
	}

	c.SetRenderMode(ModeDebug)
	d = c.GetVisibleChunks(camera, 5000)[0]
	if d.Mode != ModeDebug || !d.VoxelOverlay || d.Mesh == nil {
		t.Fatalf("debug mode should carry mesh plus overlay flag: %+v", d)
	}

	c.SetRenderMode(ModeSmooth)
	d = c.GetVisibleChunks(camera, 5000)[0]
	if d.Mode != ModeSmooth || d.VoxelOverlay {
		t.Fatalf("smooth mode restore failed: %+v", d)
	}
}

func TestGetVisibleChunks_ViewDistanceCull(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)

	if vis := c.GetVisibleChunks(r3.Vec{X: 500, Y: 16, Z: 16}, 100); len(vis) != 0 {
		t.Fatalf("chunk outside view distance still emitted: %d", len(vis))
	}
}

// flakyDevice fails queue submission on demand.
type flakyDevice struct {
	inner gpu.Device
	fail  bool
}

func (d *flakyDevice) NewEncoder() *gpu.Encoder { return d.inner.NewEncoder() }

func (d *flakyDevice) Submit(enc *gpu.Encoder) error {
	if d.fail {
		return errors.New("device lost")
	}
	return d.inner.Submit(enc)
}

func (d *flakyDevice) Readback(ctx context.Context, buf *gpu.Buffer) (any, error) {
	return d.inner.Readback(ctx, buf)
}

func TestUpdate_FailureKeepsLastMeshAndRetries(t *testing.T) {
	store := voxel.NewChunkStore(voxel.WorldGen{Seed: 1, GroundLevel: -1000})
	dev := &flakyDevice{inner: gpu.NewCPUDevice(4)}
	c := NewCoordinator(store, dev, log.New(io.Discard, "", 0))
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)

	camera := r3.Vec{X: 516, Y: 16, Z: 16}
	before := c.GetVisibleChunks(camera, 5000)[0]
	if before.Mesh == nil {
		t.Fatalf("initial generation produced no mesh")
	}

	dev.fail = true
	store.SetBlock(16, 16, 16, voxel.Air)
	if n := c.UpdateDirtyChunks(10); n != 1 {
		t.Fatalf("failing update processed %d chunks, want 1", n)
	}
	key := voxel.ChunkKey{}
	if c.ChunkState(key) != StateDirty {
		t.Fatalf("failed chunk not kept dirty for retry")
	}
	if c.Stats().Failures == 0 {
		t.Fatalf("failure not counted")
	}
	after := c.GetVisibleChunks(camera, 5000)[0]
	if after.Mesh != before.Mesh {
		t.Fatalf("failed regeneration replaced the last good mesh")
	}

	dev.fail = false
	c.UpdateDirtyChunks(10)
	if c.ChunkState(key) != StateClean {
		t.Fatalf("recovered chunk not clean")
	}
	recovered := c.GetVisibleChunks(camera, 5000)[0]
	if recovered.Mesh == before.Mesh {
		t.Fatalf("recovery did not rebuild the mesh")
	}
}

func TestMalformedChunkRendersVoxels(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)
	key := voxel.ChunkKey{}

	c.mu.Lock()
	c.entries[key].malformed = true
	c.mu.Unlock()

	d := c.GetVisibleChunks(r3.Vec{X: 516, Y: 16, Z: 16}, 5000)[0]
	if d.Level != lod.Voxel || d.Mesh != nil {
		t.Fatalf("malformed chunk still served a mesh: %+v", d)
	}
	if c.FieldAt(r3.Vec{X: 16, Y: 16, Z: 16}) != nil {
		t.Fatalf("malformed chunk still served a field")
	}
}

func TestGenerateChunkLods(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	key := voxel.ChunkKey{}

	if err := c.GenerateChunkLods(key); err != nil {
		t.Fatalf("GenerateChunkLods: %v", err)
	}
	c.mu.Lock()
	e := c.entries[key]
	for _, l := range lod.SmoothLevels {
		if !e.hasMesh[l] {
			t.Fatalf("level %v not generated", l)
		}
	}
	c.mu.Unlock()

	if err := c.GenerateChunkLods(voxel.ChunkKey{CX: 9, CY: 9, CZ: 9}); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("unloaded chunk: got %v want ErrResourceUnavailable", err)
	}
}

func TestUnloadChunk_ReleasesCaches(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)
	key := voxel.ChunkKey{}

	mesh := c.GetVisibleChunks(r3.Vec{X: 516, Y: 16, Z: 16}, 5000)[0].Mesh
	field := c.FieldAt(r3.Vec{X: 16, Y: 16, Z: 16})
	if mesh == nil || field == nil {
		t.Fatalf("expected cached mesh and field before unload")
	}

	c.UnloadChunk(key)
	if store.IsChunkLoaded(key) {
		t.Fatalf("voxel chunk still loaded")
	}
	if mesh.Positions != nil {
		t.Fatalf("mesh buffers not released on unload")
	}
	if field.Dist.Refs() != 0 {
		t.Fatalf("field buffers still referenced after unload")
	}
	if len(c.GetVisibleChunks(r3.Vec{X: 16, Y: 16, Z: 16}, 5000)) != 0 {
		t.Fatalf("unloaded chunk still visible")
	}
}

func TestCoordinatorFeedsCollider(t *testing.T) {
	store, c := newTestCoordinator(t)
	store.FillSphere(16, 16, 16, 8, voxel.Stone)
	c.UpdateDirtyChunks(10)

	col := collide.New(c, store)
	pen, ok := col.CollideSphere(r3.Vec{X: 16, Y: 25, Z: 16}, 1.5)
	if !ok {
		t.Fatalf("sphere resting on terrain sphere reported no contact")
	}
	if pen.Y <= 0 {
		t.Fatalf("penetration %+v should push up", pen)
	}

	hit, ok := col.CastRay(r3.Vec{X: 16, Y: 30, Z: 16}, r3.Vec{Y: -1}, 50)
	if !ok {
		t.Fatalf("downward ray missed the terrain sphere")
	}
	if hit.Distance < 4 || hit.Distance > 7 {
		t.Fatalf("hit distance %v, want about 5.5", hit.Distance)
	}
}
