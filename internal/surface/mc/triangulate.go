package mc

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/sdf"
)

// MaxTrianglesPerCell bounds the output of a single cell; together with
// the three owned edges per cell it makes preallocation possible.
const MaxTrianglesPerCell = 5

type Vertex struct {
	Position r3.Vec
	Material uint16
}

// Triangulate walks the (dim-1)^3 cells spanned by the field's sample
// lattice and emits the iso-surface at the given threshold. Cells whose
// corners all share a sign emit nothing. Each lattice edge is owned by
// a single canonical identity (min lattice point + axis), so vertices
// on shared edges dedupe across the cells that touch them; for an N^3
// field vertex_count <= 3*(N-1)^3 and index_count = 3*triangle_count.
func Triangulate(f *sdf.Field, threshold float32) ([]Vertex, []uint32) {
	dim := f.Dim
	cells := dim - 1
	if cells <= 0 {
		return nil, nil
	}

	dist := f.Dist.F32()
	mats := f.Mat.U16()
	at := func(x, y, z int) int { return x + y*dim + z*dim*dim }

	// Rough preallocation: most cells are empty, surface cells cluster
	// around the iso-surface shell.
	est := cells * cells * 4
	verts := make([]Vertex, 0, est)
	indices := make([]uint32, 0, est*3)
	edgeVert := make(map[int]uint32, est)

	var d [8]float32
	for z := 0; z < cells; z++ {
		for y := 0; y < cells; y++ {
			for x := 0; x < cells; x++ {
				mask := 0
				for c := 0; c < 8; c++ {
					o := cornerOffset[c]
					d[c] = dist[at(x+o[0], y+o[1], z+o[2])]
					if d[c] < threshold {
						mask |= 1 << uint(c)
					}
				}
				if mask == 0 || mask == 255 {
					continue
				}

				for _, e := range triTable[mask] {
					key := edgeKey(x, y, z, int(e), dim)
					idx, ok := edgeVert[key]
					if !ok {
						idx = uint32(len(verts))
						verts = append(verts, makeVertex(f, mats, x, y, z, int(e), d, threshold))
						edgeVert[key] = idx
					}
					indices = append(indices, idx)
				}
			}
		}
	}
	return verts, indices
}

// edgeKey is the canonical identity of a lattice edge: its minimal
// lattice point plus the axis it runs along. Both cells sharing the
// edge compute the same key.
func edgeKey(x, y, z, e, dim int) int {
	a := cornerOffset[cubeEdge[e][0]]
	b := cornerOffset[cubeEdge[e][1]]

	ox, oy, oz := x+a[0], y+a[1], z+a[2]
	if b[0] < a[0] {
		ox = x + b[0]
	}
	if b[1] < a[1] {
		oy = y + b[1]
	}
	if b[2] < a[2] {
		oz = z + b[2]
	}

	axis := 2
	if a[0] != b[0] {
		axis = 0
	} else if a[1] != b[1] {
		axis = 1
	}
	return ((oz*dim+oy)*dim+ox)*3 + axis
}

// makeVertex interpolates the threshold crossing along edge e of cell
// (x,y,z). The vertex material comes from the solid side of the edge.
func makeVertex(f *sdf.Field, mats []uint16, x, y, z, e int, d [8]float32, threshold float32) Vertex {
	c0, c1 := cubeEdge[e][0], cubeEdge[e][1]
	a := cornerOffset[c0]
	b := cornerOffset[c1]

	da, db := d[c0], d[c1]
	t := float64(0.5)
	if da != db {
		t = float64((threshold - da) / (db - da))
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	pa := f.CellCenter(x+a[0], y+a[1], z+a[2])
	pb := f.CellCenter(x+b[0], y+b[1], z+b[2])
	pos := r3.Add(pa, r3.Scale(t, r3.Sub(pb, pa)))

	sx, sy, sz := x+a[0], y+a[1], z+a[2]
	if db < da {
		sx, sy, sz = x+b[0], y+b[1], z+b[2]
	}
	dim := f.Dim
	return Vertex{Position: pos, Material: mats[sx+sy*dim+sz*dim*dim]}
}
