// Package extract turns distance fields into render-ready surface
// meshes: triangulation, vertex smoothing, normal recomputation and
// best-effort simplification.
package extract

import (
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaterialWeight is one blended material contribution at a vertex.
type MaterialWeight struct {
	Material uint16
	Weight   float32
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min, Max r3.Vec
}

func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Mesh is one extracted surface. Meshes are reference counted the same
// way device buffers are: the coordinator releases its reference when a
// regeneration replaces the mesh, while a renderer holding a reference
// keeps drawing the old geometry until it finishes.
type Mesh struct {
	Positions []r3.Vec
	Normals   []r3.Vec
	Materials [][4]MaterialWeight
	Indices   []uint32
	Bounds    Bounds

	refs int32
}

// NewMesh returns an empty mesh holding one reference. Decoders fill
// it and call RecomputeBounds.
func NewMesh() *Mesh { return &Mesh{refs: 1} }

func (m *Mesh) Retain() *Mesh {
	atomic.AddInt32(&m.refs, 1)
	return m
}

func (m *Mesh) Release() {
	if atomic.AddInt32(&m.refs, -1) == 0 {
		m.Positions = nil
		m.Normals = nil
		m.Materials = nil
		m.Indices = nil
	}
}

// Refs reports the current reference count. Test hook.
func (m *Mesh) Refs() int32 { return atomic.LoadInt32(&m.refs) }

func (m *Mesh) VertexCount() int   { return len(m.Positions) }
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// RecomputeBounds refreshes Bounds from the current vertex set.
func (m *Mesh) RecomputeBounds() { m.computeBounds() }

func (m *Mesh) computeBounds() {
	if len(m.Positions) == 0 {
		m.Bounds = Bounds{}
		return
	}
	b := Bounds{Min: m.Positions[0], Max: m.Positions[0]}
	for _, p := range m.Positions[1:] {
		if p.X < b.Min.X {
			b.Min.X = p.X
		}
		if p.Y < b.Min.Y {
			b.Min.Y = p.Y
		}
		if p.Z < b.Min.Z {
			b.Min.Z = p.Z
		}
		if p.X > b.Max.X {
			b.Max.X = p.X
		}
		if p.Y > b.Max.Y {
			b.Max.Y = p.Y
		}
		if p.Z > b.Max.Z {
			b.Max.Z = p.Z
		}
	}
	m.Bounds = b
}
