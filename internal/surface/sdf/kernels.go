package sdf

import (
	"github.com/chewxy/math32"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
)

// Kernel ids for the four generation passes. A GPU backend would map
// these to compute shader entry points; the CPU device runs the Go
// implementations below.
const (
	KernelSeed     = "sdf.seed"
	KernelJump     = "sdf.jump"
	KernelResolve  = "sdf.resolve"
	KernelGradient = "sdf.gradient"
	KernelSmooth   = "sdf.smooth"
)

// Packed voxel sample layout in the vox buffer.
const (
	voxMaterialMask uint32 = 0xffff
	voxSolid        uint32 = 1 << 16
	voxLoaded       uint32 = 1 << 17
)

// noSeed marks a cell that has not adopted any surface seed yet.
const noSeed = ^uint32(0)

type seedUniforms struct {
	Dim       int
	ResFactor int
}

type jumpUniforms struct {
	Dim  int
	Step int
}

type resolveUniforms struct {
	Dim      int
	CellSize float32
	MaxDist  float32
}

type gradientUniforms struct {
	Dim      int
	CellSize float32
}

type smoothUniforms struct {
	Dim      int
	CellSize float32
}

func init() {
	gpu.RegisterKernel(KernelSeed, seedKernel)
	gpu.RegisterKernel(KernelJump, jumpKernel)
	gpu.RegisterKernel(KernelResolve, resolveKernel)
	gpu.RegisterKernel(KernelGradient, gradientKernel)
	gpu.RegisterKernel(KernelSmooth, smoothKernel)
}

func decode(i, dim int) (x, y, z int) {
	x = i % dim
	y = (i / dim) % dim
	z = i / (dim * dim)
	return
}

var faceOffsets = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// seedKernel marks surface cells: a loaded cell whose enclosing voxel
// differs in solidity from a loaded face neighbor seeds distance zero.
// Neighbors outside the field or unloaded never produce a seed, so
// unavailable data cannot inject a spurious near-zero distance.
// Bindings: [vox, seedOut, matOut].
func seedKernel(i int, u any, b []*gpu.Buffer) {
	un := u.(seedUniforms)
	dim := un.Dim
	step := un.ResFactor // voxel-sized stride in cells

	vox := b[0].U32()
	seedOut := b[1].U32()
	matOut := b[2].U16()

	seedOut[i] = noSeed
	matOut[i] = 0

	v := vox[i]
	if v&voxLoaded == 0 {
		return
	}
	solid := v&voxSolid != 0
	x, y, z := decode(i, dim)

	// Material of the surface this seed represents: the solid side.
	// Among several differing neighbors the lowest material id wins,
	// keeping the pass deterministic regardless of scan order.
	bestMat := uint32(noSeed)
	if solid {
		bestMat = v & voxMaterialMask
	}

	found := false
	for _, off := range faceOffsets {
		nx, ny, nz := x+off[0]*step, y+off[1]*step, z+off[2]*step
		if nx < 0 || ny < 0 || nz < 0 || nx >= dim || ny >= dim || nz >= dim {
			continue
		}
		nv := vox[nx+ny*dim+nz*dim*dim]
		if nv&voxLoaded == 0 {
			continue
		}
		if (nv&voxSolid != 0) == solid {
			continue
		}
		found = true
		if !solid {
			if m := nv & voxMaterialMask; m < bestMat {
				bestMat = m
			}
		}
	}
	if found {
		seedOut[i] = uint32(i)
		matOut[i] = uint16(bestMat)
	}
}

func dist2(ax, ay, az, bx, by, bz int) int {
	dx, dy, dz := ax-bx, ay-by, az-bz
	return dx*dx + dy*dy + dz*dz
}

// jumpKernel is one jump-flooding pass at a fixed step. Each cell
// examines the 26 offsets at ±step and adopts a neighbor's seed when it
// is strictly nearer; an exact distance tie goes to the lower material
// id. Reads the previous pass's buffers, writes fresh ones, so the pass
// is order-independent under parallel execution.
// Bindings: [seedIn, matIn, seedOut, matOut].
func jumpKernel(i int, u any, b []*gpu.Buffer) {
	un := u.(jumpUniforms)
	dim := un.Dim
	s := un.Step

	seedIn := b[0].U32()
	matIn := b[1].U16()
	seedOut := b[2].U32()
	matOut := b[3].U16()

	x, y, z := decode(i, dim)

	best := seedIn[i]
	bestMat := matIn[i]
	bestD2 := int(^uint(0) >> 1)
	if best != noSeed {
		sx, sy, sz := decode(int(best), dim)
		bestD2 = dist2(x, y, z, sx, sy, sz)
	}

	for dz := -s; dz <= s; dz += s {
		for dy := -s; dy <= s; dy += s {
			for dx := -s; dx <= s; dx += s {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				nx, ny, nz := x+dx, y+dy, z+dz
				if nx < 0 || ny < 0 || nz < 0 || nx >= dim || ny >= dim || nz >= dim {
					continue
				}
				j := nx + ny*dim + nz*dim*dim
				cand := seedIn[j]
				if cand == noSeed {
					continue
				}
				sx, sy, sz := decode(int(cand), dim)
				d2 := dist2(x, y, z, sx, sy, sz)
				if d2 < bestD2 || (d2 == bestD2 && matIn[j] < bestMat) {
					best = cand
					bestMat = matIn[j]
					bestD2 = d2
				}
			}
		}
	}

	seedOut[i] = best
	matOut[i] = bestMat
}

// resolveKernel converts jump-flood state into signed distance and
// material channels. Sign comes from the cell's own voxel solidity;
// unloaded cells read as far outside. Cells that never saw a seed hold
// the sentinel magnitude.
// Bindings: [seedIn, matIn, vox, dist, mat].
func resolveKernel(i int, u any, b []*gpu.Buffer) {
	un := u.(resolveUniforms)
	dim := un.Dim

	seedIn := b[0].U32()
	matIn := b[1].U16()
	vox := b[2].U32()
	dist := b[3].F32()
	mat := b[4].U16()

	v := vox[i]
	inside := v&voxLoaded != 0 && v&voxSolid != 0

	// Seed cells sit in the voxel layer touching the surface, so the
	// surface itself is half a voxel from their centers. The half-voxel
	// bias keeps the magnitude strictly positive and puts the zero
	// crossing on the boundary face between solid and air.
	d := un.MaxDist
	if s := seedIn[i]; s != noSeed {
		x, y, z := decode(i, dim)
		sx, sy, sz := decode(int(s), dim)
		d = math32.Sqrt(float32(dist2(x, y, z, sx, sy, sz)))*un.CellSize + 0.5
		if d > un.MaxDist {
			d = un.MaxDist
		}
	}
	if inside {
		d = -d
		mat[i] = uint16(v & voxMaterialMask)
	} else {
		mat[i] = matIn[i]
	}
	dist[i] = d
}

// gradientKernel stores the central-difference gradient magnitude as an
// edge-sharpness signal. Bindings: [dist, grad].
func gradientKernel(i int, u any, b []*gpu.Buffer) {
	un := u.(gradientUniforms)
	dim := un.Dim

	dist := b[0].F32()
	grad := b[1].F32()

	x, y, z := decode(i, dim)
	at := func(cx, cy, cz int) float32 {
		if cx < 0 {
			cx = 0
		} else if cx >= dim {
			cx = dim - 1
		}
		if cy < 0 {
			cy = 0
		} else if cy >= dim {
			cy = dim - 1
		}
		if cz < 0 {
			cz = 0
		} else if cz >= dim {
			cz = dim - 1
		}
		return dist[cx+cy*dim+cz*dim*dim]
	}

	inv := 1 / (2 * un.CellSize)
	gx := (at(x+1, y, z) - at(x-1, y, z)) * inv
	gy := (at(x, y+1, z) - at(x, y-1, z)) * inv
	gz := (at(x, y, z+1) - at(x, y, z-1)) * inv
	grad[i] = math32.Sqrt(gx*gx + gy*gy + gz*gz)
}

// smoothKernel is one 3x3x3 box-blur pass over the distance channel.
// Materials are untouched. If the blur would flip a cell's sign the
// result is clamped to a small value of the original sign, keeping the
// zero-crossing within one cell of where triangulation expects it.
// Bindings: [distIn, distOut].
func smoothKernel(i int, u any, b []*gpu.Buffer) {
	un := u.(smoothUniforms)
	dim := un.Dim

	in := b[0].F32()
	out := b[1].F32()

	x, y, z := decode(i, dim)
	var sum float32
	var n int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				cx, cy, cz := x+dx, y+dy, z+dz
				if cx < 0 || cy < 0 || cz < 0 || cx >= dim || cy >= dim || cz >= dim {
					continue
				}
				sum += in[cx+cy*dim+cz*dim*dim]
				n++
			}
		}
	}
	v := sum / float32(n)
	if orig := in[i]; (v < 0) != (orig < 0) && orig != 0 {
		v = math32.Copysign(un.CellSize*0.25, orig)
	}
	out[i] = v
}
