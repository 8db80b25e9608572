// Package mc extracts iso-surfaces from signed distance fields with
// marching cubes: per cell, the 8 corner signs select one of 256 cases
// from a fixed triangulation table; vertices are interpolated on
// sign-changing edges and deduplicated through canonical edge identity.
package mc

// Corner numbering: 0-3 on the z=0 face counter-clockwise, 4-7 above
// them on the z=1 face.
var cornerOffset = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// The 12 cube edges as corner pairs.
var cubeEdge = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// Cube faces as corner cycles.
var cubeFace = [6][4]int{
	{0, 1, 2, 3}, // z = 0
	{4, 5, 6, 7}, // z = 1
	{0, 1, 5, 4}, // y = 0
	{2, 3, 7, 6}, // y = 1
	{0, 3, 7, 4}, // x = 0
	{1, 2, 6, 5}, // x = 1
}

// triTable[case] is a flat list of cube-edge ids, three per triangle,
// wound so the triangle normal points out of the solid (toward positive
// distance). edgeTable[case] is the bitmask of active edges.
//
// The tables are immutable process-wide constants; they are derived
// once at program start from the corner/edge incidence above, with the
// ambiguous two-diagonal face case always resolved by keeping the
// inside corners separated. Both cells sharing a face see the same
// corner signs and therefore the same resolution, which is what makes
// meshes watertight across cells.
var (
	triTable  [256][]uint8
	edgeTable [256]uint16
)

func init() {
	buildTables()
}

// edgeBetween maps an unordered corner pair to its cube edge id.
func edgeBetween(a, b int) int {
	for e, c := range cubeEdge {
		if (c[0] == a && c[1] == b) || (c[0] == b && c[1] == a) {
			return e
		}
	}
	return -1
}

func buildTables() {
	for mask := 0; mask < 256; mask++ {
		inside := func(c int) bool { return mask&(1<<uint(c)) != 0 }

		for e, c := range cubeEdge {
			if inside(c[0]) != inside(c[1]) {
				edgeTable[mask] |= 1 << uint(e)
			}
		}
		if edgeTable[mask] == 0 {
			continue
		}

		// Pair active edges on each face into surface segments. Every
		// active cube edge lies on exactly two faces and receives one
		// partner per face, so segments chain into closed cycles.
		partners := make([][]int, 12)
		addSeg := func(a, b int) {
			partners[a] = append(partners[a], b)
			partners[b] = append(partners[b], a)
		}
		for _, face := range cubeFace {
			var in []int
			for _, c := range face {
				if inside(c) {
					in = append(in, c)
				}
			}
			switch len(in) {
			case 0, 4:
				// No crossing on this face.
			case 2:
				a, b := in[0], in[1]
				if adjacentOnFace(face, a, b) {
					// Two crossing edges, pair them directly.
					var act []int
					for i := 0; i < 4; i++ {
						c0, c1 := face[i], face[(i+1)%4]
						if inside(c0) != inside(c1) {
							act = append(act, edgeBetween(c0, c1))
						}
					}
					addSeg(act[0], act[1])
				} else {
					// Ambiguous diagonal case: keep the two inside
					// corners separated.
					for _, c := range in {
						e0, e1 := incidentFaceEdges(face, c)
						addSeg(e0, e1)
					}
				}
			default:
				// One odd corner (inside or outside) owns both
				// crossing edges.
				odd := in[0]
				if len(in) == 3 {
					for _, c := range face {
						if !inside(c) {
							odd = c
						}
					}
				}
				e0, e1 := incidentFaceEdges(face, odd)
				addSeg(e0, e1)
			}
		}

		// Walk the segment graph into closed polygons and fan each one.
		visited := [12]bool{}
		var row []uint8
		for start := 0; start < 12; start++ {
			if visited[start] || len(partners[start]) == 0 {
				continue
			}
			cycle := walkCycle(start, partners, &visited)
			if len(cycle) < 3 {
				continue
			}
			orientCycle(cycle, mask)
			for i := 1; i+1 < len(cycle); i++ {
				row = append(row, uint8(cycle[0]), uint8(cycle[i]), uint8(cycle[i+1]))
			}
		}
		triTable[mask] = row
	}
}

func adjacentOnFace(face [4]int, a, b int) bool {
	for i := 0; i < 4; i++ {
		c0, c1 := face[i], face[(i+1)%4]
		if (c0 == a && c1 == b) || (c0 == b && c1 == a) {
			return true
		}
	}
	return false
}

// incidentFaceEdges returns the two face edges touching corner c, as
// cube edge ids.
func incidentFaceEdges(face [4]int, c int) (int, int) {
	var out []int
	for i := 0; i < 4; i++ {
		c0, c1 := face[i], face[(i+1)%4]
		if c0 == c || c1 == c {
			out = append(out, edgeBetween(c0, c1))
		}
	}
	return out[0], out[1]
}

func walkCycle(start int, partners [][]int, visited *[12]bool) []int {
	cycle := []int{start}
	visited[start] = true
	prev := -1
	cur := start
	for {
		next := -1
		for _, p := range partners[cur] {
			if p != prev {
				next = p
				break
			}
		}
		if next == -1 || next == start {
			return cycle
		}
		// Degenerate double edge back to an already-walked vertex.
		if visited[next] {
			return cycle
		}
		cycle = append(cycle, next)
		visited[next] = true
		prev, cur = cur, next
	}
}

// orientCycle reverses the polygon in place if its normal points into
// the solid. Edge midpoints stand in for the interpolated vertices; the
// outward reference direction runs from the inside-corner centroid to
// the outside-corner centroid.
func orientCycle(cycle []int, mask int) {
	mid := func(e int) [3]float64 {
		a := cornerOffset[cubeEdge[e][0]]
		b := cornerOffset[cubeEdge[e][1]]
		return [3]float64{
			(float64(a[0]) + float64(b[0])) / 2,
			(float64(a[1]) + float64(b[1])) / 2,
			(float64(a[2]) + float64(b[2])) / 2,
		}
	}

	// Newell's method.
	var nx, ny, nz float64
	for i := range cycle {
		p := mid(cycle[i])
		q := mid(cycle[(i+1)%len(cycle)])
		nx += (p[1] - q[1]) * (p[2] + q[2])
		ny += (p[2] - q[2]) * (p[0] + q[0])
		nz += (p[0] - q[0]) * (p[1] + q[1])
	}

	// Local outward reference: from the nearest inside corner toward
	// the cycle centroid. A global inside/outside centroid degenerates
	// on point-symmetric masks (e.g. two opposite corners inside).
	var pc [3]float64
	for _, e := range cycle {
		p := mid(e)
		pc[0] += p[0]
		pc[1] += p[1]
		pc[2] += p[2]
	}
	pc[0] /= float64(len(cycle))
	pc[1] /= float64(len(cycle))
	pc[2] /= float64(len(cycle))

	best := -1
	bestD := 0.0
	for c := 0; c < 8; c++ {
		if mask&(1<<uint(c)) == 0 {
			continue
		}
		o := cornerOffset[c]
		dx := pc[0] - float64(o[0])
		dy := pc[1] - float64(o[1])
		dz := pc[2] - float64(o[2])
		d := dx*dx + dy*dy + dz*dz
		if best == -1 || d < bestD {
			best, bestD = c, d
		}
	}
	var dx, dy, dz float64
	if best >= 0 {
		o := cornerOffset[best]
		dx = pc[0] - float64(o[0])
		dy = pc[1] - float64(o[1])
		dz = pc[2] - float64(o[2])
	}

	if nx*dx+ny*dy+nz*dz < 0 {
		for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
			cycle[i], cycle[j] = cycle[j], cycle[i]
		}
	}
}
