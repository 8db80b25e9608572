// Package dual keeps the voxel grid and the smooth-surface meshes in
// sync. The voxel store stays authoritative; distance fields and meshes
// are caches that a dirty-chunk queue rebuilds under a per-update
// budget. Rendering falls back to raw voxels whenever a chunk has no
// usable mesh, so terrain is never invisible and collision is never
// skipped.
package dual

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/mathx"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/lod"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/sdf"
)

// RenderMode selects what GetVisibleChunks emits.
type RenderMode int

const (
	// ModeSmooth picks a mesh LOD per chunk, falling back to voxels.
	ModeSmooth RenderMode = iota
	// ModeVoxel forces raw voxel rendering everywhere.
	ModeVoxel
	// ModeDebug emits the smooth mesh but flags the chunk for overlay
	// rendering of the underlying voxel grid.
	ModeDebug
)

func (m RenderMode) String() string {
	switch m {
	case ModeSmooth:
		return "smooth"
	case ModeVoxel:
		return "voxel"
	case ModeDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// ChunkState is the regeneration state of one chunk's caches.
type ChunkState int

const (
	StateClean ChunkState = iota
	StateDirty
	StateGenerating
)

// ErrResourceUnavailable reports an operation on a chunk that is not
// resident in the voxel store.
var ErrResourceUnavailable = errors.New("dual: chunk not loaded")

// GenerationFailure wraps a pipeline error for one chunk and level. The
// chunk stays dirty and is retried on a later update.
type GenerationFailure struct {
	Key   voxel.ChunkKey
	Level lod.Level
	Err   error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("dual: generation failed for chunk %+v level %v: %v", e.Key, e.Level, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// ChunkRenderData is one chunk's contribution to a frame.
type ChunkRenderData struct {
	Key   voxel.ChunkKey
	Mode  RenderMode
	Level lod.Level
	// Mesh is set for smooth levels; nil means the chunk renders as
	// voxels (Level == lod.Voxel) or has no surface at all.
	Mesh *extract.Mesh
	// VoxelOverlay asks the client to draw the raw grid on top of the
	// mesh. Only set in debug mode.
	VoxelOverlay bool
}

// GenerationEvent describes one completed, failed or malformed level
// rebuild, for the generation log.
type GenerationEvent struct {
	Key       voxel.ChunkKey
	Level     lod.Level
	Duration  time.Duration
	Vertices  int
	Triangles int
	Malformed bool
	Err       error
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	DirtyChunks     int
	MeshedChunks    int
	Generations     uint64
	Failures        uint64
	MalformedFields uint64
}

type entry struct {
	state     ChunkState
	fields    map[lod.Level]*sdf.Field
	meshes    map[lod.Level]*extract.Mesh
	hasMesh   map[lod.Level]bool // level generated; mesh may be nil (no surface)
	wanted    map[lod.Level]bool
	malformed bool
	failures  int
}

func newEntry() *entry {
	return &entry{
		state:   StateDirty,
		fields:  map[lod.Level]*sdf.Field{},
		meshes:  map[lod.Level]*extract.Mesh{},
		hasMesh: map[lod.Level]bool{},
		wanted:  map[lod.Level]bool{lod.High: true},
	}
}

// Coordinator owns the dual representation for one voxel store.
type Coordinator struct {
	mu      sync.Mutex
	store   *voxel.ChunkStore
	gen     *sdf.Generator
	sel     *lod.Selector
	log     *log.Logger
	mode    RenderMode
	lodBias float64
	maxDist float32
	entries map[voxel.ChunkKey]*entry
	stats   Stats
	onGen   func(GenerationEvent)
}

// NewCoordinator wires itself into the store's block-change hook so
// every voxel edit dirties exactly the chunks whose fields sample it.
func NewCoordinator(store *voxel.ChunkStore, dev gpu.Device, logger *log.Logger) *Coordinator {
	c := &Coordinator{
		store:   store,
		gen:     sdf.NewGenerator(dev),
		sel:     lod.NewSelector(),
		log:     logger,
		entries: map[voxel.ChunkKey]*entry{},
	}
	store.OnSetBlock = c.MarkVoxelDirty
	return c
}

func (c *Coordinator) SetRenderMode(m RenderMode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
}

// SetGenerationObserver installs a per-generation callback. It runs
// with the coordinator lock held; keep it cheap.
func (c *Coordinator) SetGenerationObserver(fn func(GenerationEvent)) {
	c.mu.Lock()
	c.onGen = fn
	c.mu.Unlock()
}

func (c *Coordinator) SetLODBias(bias float64) {
	c.mu.Lock()
	c.lodBias = bias
	c.mu.Unlock()
}

// SetLODThresholds replaces the selector's screen-error thresholds.
// Anything but four values (one per smooth tier) is ignored; tuning
// validation rejects such configs before they get here.
func (c *Coordinator) SetLODThresholds(thresholds []float64) {
	if len(thresholds) != len(c.sel.Thresholds) {
		return
	}
	c.mu.Lock()
	copy(c.sel.Thresholds[:], thresholds)
	c.mu.Unlock()
}

// SetMaxDistance sets the clamp distance (in voxels) for fields built
// by later rebuilds. Zero or negative keeps the field default.
func (c *Coordinator) SetMaxDistance(d float64) {
	c.mu.Lock()
	c.maxDist = float32(d)
	c.mu.Unlock()
}

// MarkVoxelDirty dirties every loaded chunk whose field region samples
// the voxel: the owning chunk always, plus any neighbor the edit sits
// within the seam margin of. Interior edits touch exactly one chunk.
func (c *Coordinator) MarkVoxelDirty(x, y, z int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cx := range axisChunks(x) {
		for _, cy := range axisChunks(y) {
			for _, cz := range axisChunks(z) {
				c.markDirtyLocked(voxel.ChunkKey{CX: cx, CY: cy, CZ: cz})
			}
		}
	}
}

// axisChunks lists the chunk coordinates along one axis whose field
// margin covers the voxel coordinate.
func axisChunks(v int) []int {
	ck := mathx.FloorDiv(v, voxel.ChunkSize)
	local := mathx.Mod(v, voxel.ChunkSize)
	out := []int{ck}
	if local < sdf.Margin {
		out = append(out, ck-1)
	}
	if local >= voxel.ChunkSize-sdf.Margin {
		out = append(out, ck+1)
	}
	return out
}

// MarkChunkDirty dirties a chunk and all 26 neighbors. Whole-chunk
// events (load, bulk edit, regeneration) invalidate neighbor fields
// unconditionally because their seam margins reach into the chunk.
func (c *Coordinator) MarkChunkDirty(k voxel.ChunkKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				c.markDirtyLocked(voxel.ChunkKey{CX: k.CX + dx, CY: k.CY + dy, CZ: k.CZ + dz})
			}
		}
	}
}

func (c *Coordinator) markDirtyLocked(k voxel.ChunkKey) {
	if !c.store.IsChunkLoaded(k) {
		return
	}
	e, ok := c.entries[k]
	if !ok {
		c.entries[k] = newEntry()
		return
	}
	e.state = StateDirty
}

// UpdateDirtyChunks regenerates up to maxUpdates dirty chunks in
// deterministic key order and returns how many it processed. A failing
// chunk stays dirty for retry and never blocks the rest of the queue.
func (c *Coordinator) UpdateDirtyChunks(maxUpdates int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.dirtyKeysLocked()
	if maxUpdates >= 0 && len(keys) > maxUpdates {
		keys = keys[:maxUpdates]
	}

	for _, k := range keys {
		e := c.entries[k]
		if !c.store.IsChunkLoaded(k) {
			c.dropEntryLocked(k)
			continue
		}
		e.state = StateGenerating
		ok := true
		for _, level := range lod.SmoothLevels {
			if !e.wanted[level] {
				continue
			}
			if err := c.generateLevelLocked(k, e, level); err != nil {
				ok = false
				break
			}
		}
		if ok {
			e.state = StateClean
			e.failures = 0
		} else {
			e.state = StateDirty
		}
	}
	return len(keys)
}

func (c *Coordinator) dirtyKeysLocked() []voxel.ChunkKey {
	keys := make([]voxel.ChunkKey, 0, len(c.entries))
	for k, e := range c.entries {
		if e.state == StateDirty {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// generateLevelLocked rebuilds one chunk's field and mesh at one level.
// On pipeline failure the previous field and mesh stay installed. A
// malformed field clears the regeneration but flags the chunk so it
// renders as voxels until a later rebuild produces clean data.
func (c *Coordinator) generateLevelLocked(k voxel.ChunkKey, e *entry, level lod.Level) error {
	p := level.Params()
	region := sdf.RegionForChunk(k.CX, k.CY, k.CZ, voxel.ChunkSize)
	field := sdf.NewField(region, p.ResolutionFactor, c.maxDist)
	start := time.Now()

	if err := c.gen.Generate(c.store, field, region, p.SmoothIterations); err != nil {
		field.Release()
		e.failures++
		c.stats.Failures++
		fail := &GenerationFailure{Key: k, Level: level, Err: err}
		if c.log != nil {
			c.log.Printf("chunk %+v level %v: %v (attempt %d)", k, level, err, e.failures)
		}
		c.emitLocked(GenerationEvent{Key: k, Level: level, Duration: time.Since(start), Err: fail})
		return fail
	}

	mesh, err := extract.Extract(field, extract.Params{
		SmoothIterations:   p.SmoothIterations,
		NormalSmoothFactor: 0.5,
		SimplifyThreshold:  p.SimplifyThreshold,
	})
	if errors.Is(err, extract.ErrMalformedField) {
		field.Release()
		e.malformed = true
		c.stats.MalformedFields++
		if c.log != nil {
			c.log.Printf("chunk %+v level %v: malformed field, rendering voxels", k, level)
		}
		c.emitLocked(GenerationEvent{Key: k, Level: level, Duration: time.Since(start), Malformed: true})
		return nil
	}
	if err != nil {
		field.Release()
		e.failures++
		c.stats.Failures++
		fail := &GenerationFailure{Key: k, Level: level, Err: err}
		c.emitLocked(GenerationEvent{Key: k, Level: level, Duration: time.Since(start), Err: fail})
		return fail
	}

	if old := e.fields[level]; old != nil {
		old.Release()
	}
	e.fields[level] = field
	if old := e.meshes[level]; old != nil {
		old.Release()
	}
	e.meshes[level] = mesh
	e.hasMesh[level] = true
	e.malformed = false
	c.stats.Generations++
	ev := GenerationEvent{Key: k, Level: level, Duration: time.Since(start)}
	if mesh != nil {
		// A uniform chunk extracts no surface; the rebuild still counts.
		ev.Vertices = mesh.VertexCount()
		ev.Triangles = mesh.TriangleCount()
	}
	c.emitLocked(ev)
	return nil
}

func (c *Coordinator) emitLocked(ev GenerationEvent) {
	if c.onGen != nil {
		c.onGen(ev)
	}
}

// GenerateChunkLods synchronously builds every smooth level for one
// chunk, for bake tools and pre-warming around spawn.
func (c *Coordinator) GenerateChunkLods(k voxel.ChunkKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.IsChunkLoaded(k) {
		return ErrResourceUnavailable
	}
	e, ok := c.entries[k]
	if !ok {
		e = newEntry()
		c.entries[k] = e
	}
	for _, level := range lod.SmoothLevels {
		e.wanted[level] = true
		if err := c.generateLevelLocked(k, e, level); err != nil {
			e.state = StateDirty
			return err
		}
	}
	e.state = StateClean
	return nil
}

// GetVisibleChunks emits render data for every loaded chunk within
// viewDistance of the camera. In smooth mode each chunk carries the
// mesh for its selected LOD; a missing level falls back to the nearest
// generated one and is queued for rebuild, and a chunk with no mesh at
// all renders as voxels.
func (c *Coordinator) GetVisibleChunks(camera r3.Vec, viewDistance float64) []ChunkRenderData {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ChunkRenderData
	for _, k := range c.store.LoadedChunkKeys() {
		b := chunkBounds(k)
		center := r3.Scale(0.5, r3.Add(b.Min, b.Max))
		if r3.Norm(r3.Sub(camera, center)) > viewDistance {
			continue
		}

		switch c.mode {
		case ModeVoxel:
			out = append(out, ChunkRenderData{Key: k, Mode: ModeVoxel, Level: lod.Voxel})
			continue
		case ModeDebug:
			d := c.smoothDataLocked(k, b, camera)
			d.Mode = ModeDebug
			d.VoxelOverlay = true
			out = append(out, d)
			continue
		}
		out = append(out, c.smoothDataLocked(k, b, camera))
	}
	return out
}

func (c *Coordinator) smoothDataLocked(k voxel.ChunkKey, b lod.Bounds, camera r3.Vec) ChunkRenderData {
	level := c.sel.Select(b, camera, c.lodBias)
	if level == lod.Voxel {
		return ChunkRenderData{Key: k, Mode: ModeSmooth, Level: lod.Voxel}
	}

	e, ok := c.entries[k]
	if !ok || e.malformed {
		return ChunkRenderData{Key: k, Mode: ModeSmooth, Level: lod.Voxel}
	}
	if !e.hasMesh[level] {
		// Queue the level we actually want and serve the closest one
		// already generated in the meantime.
		if !e.wanted[level] {
			e.wanted[level] = true
			if e.state == StateClean {
				e.state = StateDirty
			}
		}
		if got, found := nearestLevel(e, level); found {
			return ChunkRenderData{Key: k, Mode: ModeSmooth, Level: got, Mesh: e.meshes[got]}
		}
		return ChunkRenderData{Key: k, Mode: ModeSmooth, Level: lod.Voxel}
	}
	return ChunkRenderData{Key: k, Mode: ModeSmooth, Level: level, Mesh: e.meshes[level]}
}

func nearestLevel(e *entry, want lod.Level) (lod.Level, bool) {
	best := lod.Voxel
	bestDiff := int(^uint(0) >> 1)
	for _, l := range lod.SmoothLevels {
		if !e.hasMesh[l] {
			continue
		}
		diff := mathx.AbsInt(int(l) - int(want))
		// Ties prefer the higher-fidelity level.
		if diff < bestDiff || (diff == bestDiff && l < best) {
			best = l
			bestDiff = diff
		}
	}
	return best, best != lod.Voxel
}

func chunkBounds(k voxel.ChunkKey) lod.Bounds {
	min := r3.Vec{
		X: float64(k.CX * voxel.ChunkSize),
		Y: float64(k.CY * voxel.ChunkSize),
		Z: float64(k.CZ * voxel.ChunkSize),
	}
	return lod.Bounds{
		Min: min,
		Max: r3.Add(min, r3.Vec{X: voxel.ChunkSize, Y: voxel.ChunkSize, Z: voxel.ChunkSize}),
	}
}

// FieldAt returns the highest-fidelity cached field whose region covers
// the world position, nil when none is cached. Satisfies the collision
// layer's field source.
func (c *Coordinator) FieldAt(p r3.Vec) *sdf.Field {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := voxel.KeyForVoxel(fastFloor(p.X), fastFloor(p.Y), fastFloor(p.Z))
	e, ok := c.entries[k]
	if !ok || e.malformed {
		return nil
	}
	for _, l := range lod.SmoothLevels {
		if f := e.fields[l]; f != nil {
			return f
		}
	}
	return nil
}

func fastFloor(v float64) int {
	i := int(v)
	if v < 0 && float64(i) != v {
		i--
	}
	return i
}

// EnsureChunk loads (generating if needed) a chunk and queues its
// caches for building.
func (c *Coordinator) EnsureChunk(k voxel.ChunkKey) {
	c.store.GetOrGenChunk(k)
	c.mu.Lock()
	c.markDirtyLocked(k)
	c.mu.Unlock()
}

// UnloadChunk drops the chunk's caches and releases their buffers,
// then unloads the voxel data itself.
func (c *Coordinator) UnloadChunk(k voxel.ChunkKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropEntryLocked(k)
	c.store.UnloadChunk(k)
}

func (c *Coordinator) dropEntryLocked(k voxel.ChunkKey) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	for _, f := range e.fields {
		if f != nil {
			f.Release()
		}
	}
	for _, m := range e.meshes {
		if m != nil {
			m.Release()
		}
	}
	delete(c.entries, k)
}

// MeshForLevel returns the cached mesh for one chunk and level. Nil
// means the level has not been generated or the chunk has no surface.
func (c *Coordinator) MeshForLevel(k voxel.ChunkKey, level lod.Level) *extract.Mesh {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.meshes[level]
	}
	return nil
}

// ChunkState reports a chunk's regeneration state.
func (c *Coordinator) ChunkState(k voxel.ChunkKey) ChunkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[k]; ok {
		return e.state
	}
	return StateClean
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	for _, e := range c.entries {
		if e.state == StateDirty {
			s.DirtyChunks++
		}
		for _, has := range e.hasMesh {
			if has {
				s.MeshedChunks++
				break
			}
		}
	}
	return s
}
