package extract

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/mc"
	"github.com/noahsabaj/earth-engine-sub003/internal/surface/sdf"
)

// ErrMalformedField marks a field whose distance channel holds NaN or
// infinite values. The caller skips the mesh instead of propagating
// corrupt geometry.
var ErrMalformedField = errors.New("extract: malformed distance field")

type Params struct {
	Threshold          float32
	SmoothIterations   int
	NormalSmoothFactor float64
	SimplifyThreshold  float64
}

// Extract runs the full mesh pipeline over a field. Returns (nil, nil)
// when the field has no sign change anywhere. The result is a pure
// function of the field contents and params: extracting twice from an
// unchanged field yields identical meshes.
func Extract(f *sdf.Field, p Params) (*Mesh, error) {
	if f.Malformed() {
		return nil, ErrMalformedField
	}
	if !f.HasSurface() {
		return nil, nil
	}

	verts, indices := mc.Triangulate(f, p.Threshold)
	if len(indices) == 0 {
		return nil, nil
	}

	m := NewMesh()
	m.Positions = make([]r3.Vec, len(verts))
	mats := make([]uint16, len(verts))
	for i, v := range verts {
		m.Positions[i] = v.Position
		mats[i] = v.Material
	}
	m.Indices = indices

	adj := buildAdjacency(len(verts), indices)

	if p.SmoothIterations > 0 {
		laplacianSmooth(m.Positions, adj, p.SmoothIterations, float64(f.CellSize))
	}

	m.Normals = computeNormals(m.Positions, indices)
	if p.NormalSmoothFactor > 0 {
		smoothNormals(m.Normals, adj, p.NormalSmoothFactor)
	}

	m.Materials = blendMaterials(mats, adj)

	if p.SimplifyThreshold > 0 {
		simplify(m, adj, p.SimplifyThreshold*float64(f.CellSize))
	}

	m.computeBounds()
	return m, nil
}

// buildAdjacency collects edge neighbors per vertex, deduplicated,
// in deterministic sorted order.
func buildAdjacency(n int, indices []uint32) [][]uint32 {
	adj := make([][]uint32, n)
	add := func(a, b uint32) {
		adj[a] = append(adj[a], b)
	}
	for i := 0; i < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		add(a, b)
		add(b, a)
		add(b, c)
		add(c, b)
		add(c, a)
		add(a, c)
	}
	for v := range adj {
		s := adj[v]
		sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
		out := s[:0]
		for i, x := range s {
			if i == 0 || x != s[i-1] {
				out = append(out, x)
			}
		}
		adj[v] = out
	}
	return adj
}

// laplacianSmooth moves each vertex toward the average of its edge
// neighbors. Total drift from the triangulated position is clamped to
// one grid cell so the mesh cannot wander off the iso-surface.
func laplacianSmooth(pos []r3.Vec, adj [][]uint32, iterations int, maxDrift float64) {
	orig := make([]r3.Vec, len(pos))
	copy(orig, pos)
	next := make([]r3.Vec, len(pos))

	for it := 0; it < iterations; it++ {
		for v := range pos {
			if len(adj[v]) == 0 {
				next[v] = pos[v]
				continue
			}
			var avg r3.Vec
			for _, n := range adj[v] {
				avg = r3.Add(avg, pos[n])
			}
			avg = r3.Scale(1/float64(len(adj[v])), avg)
			// Half-step toward the neighbor average.
			cand := r3.Add(pos[v], r3.Scale(0.5, r3.Sub(avg, pos[v])))

			drift := r3.Sub(cand, orig[v])
			if l := r3.Norm(drift); l > maxDrift {
				cand = r3.Add(orig[v], r3.Scale(maxDrift/l, drift))
			}
			next[v] = cand
		}
		copy(pos, next)
	}
}

// computeNormals accumulates unnormalized triangle cross products per
// vertex; the cross product length is twice the triangle area, which
// gives the area weighting for free.
func computeNormals(pos []r3.Vec, indices []uint32) []r3.Vec {
	normals := make([]r3.Vec, len(pos))
	for i := 0; i < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		n := r3.Cross(r3.Sub(pos[b], pos[a]), r3.Sub(pos[c], pos[a]))
		normals[a] = r3.Add(normals[a], n)
		normals[b] = r3.Add(normals[b], n)
		normals[c] = r3.Add(normals[c], n)
	}
	for i, n := range normals {
		if l := r3.Norm(n); l > 0 {
			normals[i] = r3.Scale(1/l, n)
		}
	}
	return normals
}

func smoothNormals(normals []r3.Vec, adj [][]uint32, factor float64) {
	if factor > 1 {
		factor = 1
	}
	out := make([]r3.Vec, len(normals))
	for v := range normals {
		if len(adj[v]) == 0 {
			out[v] = normals[v]
			continue
		}
		var avg r3.Vec
		for _, n := range adj[v] {
			avg = r3.Add(avg, normals[n])
		}
		avg = r3.Scale(1/float64(len(adj[v])), avg)
		blended := r3.Add(r3.Scale(1-factor, normals[v]), r3.Scale(factor, avg))
		if l := r3.Norm(blended); l > 0 {
			blended = r3.Scale(1/l, blended)
		}
		out[v] = blended
	}
	copy(normals, out)
}

// blendMaterials assigns each vertex up to four (material, weight)
// pairs from its own material and its neighborhood, weights normalized,
// ordered by weight then material id for determinism.
func blendMaterials(mats []uint16, adj [][]uint32) [][4]MaterialWeight {
	out := make([][4]MaterialWeight, len(mats))
	for v := range mats {
		counts := map[uint16]float32{mats[v]: 2} // own material counts double
		for _, n := range adj[v] {
			counts[mats[n]]++
		}
		type mw struct {
			m uint16
			w float32
		}
		list := make([]mw, 0, len(counts))
		var total float32
		for m, w := range counts {
			list = append(list, mw{m, w})
			total += w
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].w != list[j].w {
				return list[i].w > list[j].w
			}
			return list[i].m < list[j].m
		})
		if len(list) > 4 {
			list = list[:4]
		}
		var kept float32
		for _, e := range list {
			kept += e.w
		}
		for i, e := range list {
			out[v][i] = MaterialWeight{Material: e.m, Weight: e.w / kept}
		}
	}
	return out
}
