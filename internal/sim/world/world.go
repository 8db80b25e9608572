// Package world runs the authoritative terrain loop: one goroutine
// owns the voxel store and the surface coordinator, and all mutation
// flows through channels drained once per tick. Sessions are observer
// clients with a camera; each tick they receive the render set for
// their viewpoint.
package world

import (
	"log"
	"sync/atomic"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
	"github.com/noahsabaj/earth-engine-sub003/internal/protocol"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/tuning"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/collide"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
)

// JoinRequest asks the loop to create a session. Out receives marshaled
// frames; slow consumers drop frames rather than stall the tick.
type JoinRequest struct {
	Name       string
	RenderMode string
	Out        chan []byte
	Resp       chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type EditEnvelope struct {
	SessionID string
	Edit      protocol.EditMsg
}

type CameraEnvelope struct {
	SessionID string
	Camera    protocol.CameraMsg
}

type session struct {
	id     string
	name   string
	out    chan []byte
	camera r3.Vec
	mode   dual.RenderMode
}

// SurfaceObserver receives one entry per tick for the generation log.
type SurfaceObserver interface {
	ObserveTick(tick uint64, stats dual.Stats, sessions int)
}

type World struct {
	cfg  tuning.Tuning
	log  *log.Logger
	tick atomic.Uint64

	store *voxel.ChunkStore
	coord *dual.Coordinator
	col   *collide.Collider

	join    chan JoinRequest
	leave   chan string
	edits   chan EditEnvelope
	cameras chan CameraEnvelope
	stop    chan struct{}

	sessions map[string]*session
	observer SurfaceObserver

	snapID    string
	snapEvery uint64
	snapCh    chan<- snapshot.SnapshotV1

	// Encoded-mesh memo, reset whenever it grows past its bound so a
	// mesh shared by many sessions is compressed once per rebuild.
	meshCache map[*extract.Mesh]string
}

func New(cfg tuning.Tuning, dev gpu.Device, logger *log.Logger) *World {
	store := voxel.NewChunkStore(voxel.WorldGen{
		Seed:          cfg.World.Seed,
		BoundaryR:     cfg.World.BoundaryR,
		GroundLevel:   cfg.World.GroundLevel,
		HillAmplitude: cfg.World.HillAmplitude,
		HillPeriod:    cfg.World.HillPeriod,
		DirtDepth:     cfg.World.DirtDepth,
		OrePermille:   cfg.World.OrePermille,
	})
	coord := dual.NewCoordinator(store, dev, logger)
	coord.SetLODBias(cfg.Surface.LODBias)
	coord.SetLODThresholds(cfg.Surface.LODThresholds)
	coord.SetMaxDistance(cfg.Surface.MaxDistance)

	col := collide.New(coord, store)
	col.Epsilon = cfg.Collision.Epsilon
	col.MaxSteps = cfg.Collision.MaxSteps

	return &World{
		cfg:       cfg,
		log:       logger,
		store:     store,
		coord:     coord,
		col:       col,
		join:      make(chan JoinRequest, 16),
		leave:     make(chan string, 16),
		edits:     make(chan EditEnvelope, 256),
		cameras:   make(chan CameraEnvelope, 256),
		stop:      make(chan struct{}),
		sessions:  map[string]*session{},
		meshCache: map[*extract.Mesh]string{},
	}
}

func (w *World) Join() chan<- JoinRequest       { return w.join }
func (w *World) Leave() chan<- string           { return w.leave }
func (w *World) Edits() chan<- EditEnvelope     { return w.edits }
func (w *World) Cameras() chan<- CameraEnvelope { return w.cameras }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Collider exposes the hybrid query surface for tools and tests. Safe
// only from the loop goroutine or before Run starts.
func (w *World) Collider() *collide.Collider { return w.col }

// Coordinator exposes the dual-representation layer the same way.
func (w *World) Coordinator() *dual.Coordinator { return w.coord }

// SetSurfaceObserver installs the per-tick stats sink. Call before Run.
func (w *World) SetSurfaceObserver(o SurfaceObserver) { w.observer = o }

// SetSnapshotSink makes the loop capture a world snapshot every
// everyTicks ticks and send it to ch without blocking; a full channel
// skips the snapshot. Call before Run.
func (w *World) SetSnapshotSink(worldID string, everyTicks uint64, ch chan<- snapshot.SnapshotV1) {
	w.snapID = worldID
	w.snapEvery = everyTicks
	w.snapCh = ch
}

// Store exposes the voxel grid for snapshot restore and tools. Safe
// only from the loop goroutine or before Run starts.
func (w *World) Store() *voxel.ChunkStore { return w.store }

func (w *World) handleJoin(req JoinRequest) {
	id := uuid.NewString()
	s := &session{
		id:   id,
		name: req.Name,
		out:  req.Out,
		mode: parseRenderMode(req.RenderMode),
	}
	w.sessions[id] = s
	w.ensureAround(s.camera)

	req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       id,
		WorldParams: protocol.WorldParams{
			TickRateHz:    w.cfg.TickRateHz,
			ChunkSize:     voxel.ChunkSize,
			Seed:          w.cfg.World.Seed,
			ViewDistance:  w.cfg.ViewDistance,
			LODThresholds: w.cfg.Surface.LODThresholds,
		},
		RenderMode: s.mode.String(),
	}}
}

func (w *World) handleCamera(env CameraEnvelope) {
	s, ok := w.sessions[env.SessionID]
	if !ok {
		return
	}
	s.camera = r3.Vec{X: env.Camera.Pos[0], Y: env.Camera.Pos[1], Z: env.Camera.Pos[2]}
	w.ensureAround(s.camera)
}

// ensureAround keeps the 3x3x3 chunk neighborhood of a camera resident
// so edits and collision near the viewpoint always have voxel data.
func (w *World) ensureAround(p r3.Vec) {
	ck := voxel.KeyForVoxel(int(p.X), int(p.Y), int(p.Z))
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				w.coord.EnsureChunk(voxel.ChunkKey{CX: ck.CX + dx, CY: ck.CY + dy, CZ: ck.CZ + dz})
			}
		}
	}
}

func (w *World) handleEdit(env EditEnvelope) {
	s := w.sessions[env.SessionID]
	e := env.Edit

	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          e.EditID,
		ServerTick:      w.tick.Load(),
	}
	switch {
	case e.Block >= uint16(voxel.PaletteSize):
		ack.Code = protocol.ErrBadRequest
		ack.Message = "unknown block id"
	case !w.store.InBounds(e.Pos[0], e.Pos[1], e.Pos[2]):
		ack.Code = protocol.ErrInvalidTarget
		ack.Message = "position outside world boundary"
	default:
		w.store.SetBlock(e.Pos[0], e.Pos[1], e.Pos[2], e.Block)
		ack.Accepted = true
	}
	if s != nil {
		w.send(s, ack)
	}
}

func parseRenderMode(s string) dual.RenderMode {
	switch s {
	case "voxel":
		return dual.ModeVoxel
	case "debug":
		return dual.ModeDebug
	default:
		return dual.ModeSmooth
	}
}
