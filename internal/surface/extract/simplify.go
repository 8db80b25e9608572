package extract

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// simplify collapses edges shorter than minEdge. Best effort: an edge
// is collapsed only when its endpoints share exactly two common
// neighbors, the manifold condition that guarantees the collapse cannot
// open a topological hole. One pass in deterministic index order; the
// exact output geometry is not a compatibility surface.
func simplify(m *Mesh, adj [][]uint32, minEdge float64) {
	if minEdge <= 0 || len(m.Indices) == 0 {
		return
	}

	remap := make([]uint32, len(m.Positions))
	for i := range remap {
		remap[i] = uint32(i)
	}
	resolve := func(v uint32) uint32 {
		for remap[v] != v {
			v = remap[v]
		}
		return v
	}

	collapsed := make([]bool, len(m.Positions))
	for i := 0; i < len(m.Indices); i += 3 {
		for k := 0; k < 3; k++ {
			a := resolve(m.Indices[i+k])
			b := resolve(m.Indices[i+(k+1)%3])
			if a == b || collapsed[a] || collapsed[b] {
				continue
			}
			if r3.Norm(r3.Sub(m.Positions[a], m.Positions[b])) >= minEdge {
				continue
			}
			if commonNeighbors(adj, a, b, resolve) != 2 {
				continue
			}
			// Collapse b into a at the edge midpoint.
			m.Positions[a] = r3.Scale(0.5, r3.Add(m.Positions[a], m.Positions[b]))
			remap[b] = a
			collapsed[a] = true
			collapsed[b] = true
		}
	}

	// Rebuild the index list, dropping triangles that degenerated.
	out := m.Indices[:0]
	for i := 0; i < len(m.Indices); i += 3 {
		a := resolve(m.Indices[i])
		b := resolve(m.Indices[i+1])
		c := resolve(m.Indices[i+2])
		if a == b || b == c || a == c {
			continue
		}
		out = append(out, a, b, c)
	}
	m.Indices = out

	compact(m)
}

func commonNeighbors(adj [][]uint32, a, b uint32, resolve func(uint32) uint32) int {
	seen := map[uint32]bool{}
	for _, n := range adj[a] {
		seen[resolve(n)] = true
	}
	count := 0
	for _, n := range adj[b] {
		rn := resolve(n)
		if rn != a && rn != b && seen[rn] {
			count++
			seen[rn] = false
		}
	}
	return count
}

// compact drops vertices no triangle references and renumbers indices.
func compact(m *Mesh) {
	used := make([]bool, len(m.Positions))
	for _, i := range m.Indices {
		used[i] = true
	}
	newIdx := make([]uint32, len(m.Positions))
	n := uint32(0)
	for v := range m.Positions {
		if !used[v] {
			continue
		}
		newIdx[v] = n
		m.Positions[n] = m.Positions[v]
		if m.Normals != nil {
			m.Normals[n] = m.Normals[v]
		}
		if m.Materials != nil {
			m.Materials[n] = m.Materials[v]
		}
		n++
	}
	m.Positions = m.Positions[:n]
	if m.Normals != nil {
		m.Normals = m.Normals[:n]
	}
	if m.Materials != nil {
		m.Materials = m.Materials[:n]
	}
	for i, v := range m.Indices {
		m.Indices[i] = newIdx[v]
	}
}
