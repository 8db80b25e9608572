package world

import (
	"encoding/json"

	"github.com/noahsabaj/earth-engine-sub003/internal/protocol"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/encoding"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/dual"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/lod"
)

const meshCacheLimit = 1024

func (w *World) broadcastFrames(tick uint64) {
	if len(w.sessions) == 0 {
		return
	}
	stats := w.coord.Stats()
	fs := &protocol.FrameStats{
		DirtyChunks:     stats.DirtyChunks,
		MeshedChunks:    stats.MeshedChunks,
		Generations:     stats.Generations,
		Failures:        stats.Failures,
		MalformedFields: stats.MalformedFields,
	}

	for _, s := range w.sessions {
		frame := w.buildFrame(tick, s)
		frame.Stats = fs
		w.send(s, frame)
	}
}

func (w *World) buildFrame(tick uint64, s *session) protocol.FrameMsg {
	vis := w.coord.GetVisibleChunks(s.camera, w.cfg.ViewDistance)

	frame := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Camera:          [3]float64{s.camera.X, s.camera.Y, s.camera.Z},
		Chunks:          make([]protocol.ChunkFrame, 0, len(vis)),
	}
	for _, d := range vis {
		frame.Chunks = append(frame.Chunks, w.chunkFrame(s, d))
	}
	return frame
}

func (w *World) chunkFrame(s *session, d dual.ChunkRenderData) protocol.ChunkFrame {
	cf := protocol.ChunkFrame{
		Pos:  [3]int{d.Key.CX, d.Key.CY, d.Key.CZ},
		Mode: d.Mode.String(),
	}

	// Session preference narrows what the coordinator selected: a
	// voxel-mode session gets grid data for every chunk, a debug
	// session gets the overlay flag on top of the smooth stream.
	level := d.Level
	switch s.mode {
	case dual.ModeVoxel:
		level = lod.Voxel
		cf.Mode = dual.ModeVoxel.String()
	case dual.ModeDebug:
		cf.Overlay = true
		cf.Mode = dual.ModeDebug.String()
	default:
		cf.Overlay = d.VoxelOverlay
	}
	cf.Level = level.String()

	if level == lod.Voxel {
		cf.Voxels = w.voxelPayload(d.Key)
		return cf
	}
	if d.Mesh != nil {
		cf.Mesh = w.encodedMesh(d)
	}
	return cf
}

func (w *World) voxelPayload(k voxel.ChunkKey) *protocol.VoxelPayload {
	ch, ok := w.store.Chunks[k]
	if !ok {
		return nil
	}
	return &protocol.VoxelPayload{
		Encoding: "RLE",
		Data:     encoding.EncodeRLE(ch.Blocks),
	}
}

func (w *World) encodedMesh(d dual.ChunkRenderData) string {
	if enc, ok := w.meshCache[d.Mesh]; ok {
		return enc
	}
	enc, err := encoding.EncodeMesh(d.Mesh)
	if err != nil {
		if w.log != nil {
			w.log.Printf("mesh encode for chunk %+v: %v", d.Key, err)
		}
		return ""
	}
	if len(w.meshCache) >= meshCacheLimit {
		w.meshCache = map[*extract.Mesh]string{}
	}
	w.meshCache[d.Mesh] = enc
	return enc
}

func (w *World) send(s *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.out <- b:
	default:
		// Slow consumer: drop rather than stall the tick.
	}
}
