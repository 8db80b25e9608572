// Package sdf builds signed distance fields from voxel data.
//
// A field covers one chunk plus a margin of neighboring voxels so that
// surfaces extracted from adjacent chunks meet without seams. Distance
// is in world units (one voxel edge = 1.0), negative inside solid
// matter. Fields are pure caches: fully regenerated on any relevant
// voxel change, dropped when the owning chunk unloads.
package sdf

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
)

const (
	// Margin is the voxel apron sampled on each side of a chunk.
	Margin = 2

	// DefaultMaxDistance is the sentinel distance for cells with no
	// reachable surface, in world units.
	DefaultMaxDistance float32 = 8.0
)

// Sample is one cell of the field.
type Sample struct {
	Distance    float32
	Material    uint16
	GradientMag float32
}

// Region is an axis-aligned cube of world voxels.
type Region struct {
	MinX, MinY, MinZ int
	Size             int // voxels per axis
}

// Field is the distance-field grid for one region. Storage lives in
// ref-counted device buffers so compute passes and render readers share
// it safely.
type Field struct {
	Region    Region
	ResFactor int     // cells per voxel edge
	Dim       int     // cells per axis
	CellSize  float32 // world units per cell
	MaxDist   float32

	Vox  *gpu.Buffer // []uint32 packed voxel samples, one per cell
	Dist *gpu.Buffer // []float32 signed distance
	Mat  *gpu.Buffer // []uint16 material id
	Grad *gpu.Buffer // []float32 gradient magnitude

	// Ping-pong state for jump flooding.
	seedA, seedB *gpu.Buffer // []uint32 nearest-seed cell index
	matA, matB   *gpu.Buffer // []uint16 nearest-seed material
}

func NewField(region Region, resFactor int, maxDist float32) *Field {
	if resFactor < 1 {
		resFactor = 1
	}
	if maxDist <= 0 {
		maxDist = DefaultMaxDistance
	}
	dim := region.Size * resFactor
	n := dim * dim * dim
	return &Field{
		Region:    region,
		ResFactor: resFactor,
		Dim:       dim,
		CellSize:  1.0 / float32(resFactor),
		MaxDist:   maxDist,
		Vox:       gpu.NewBuffer("sdf.vox", make([]uint32, n)),
		Dist:      gpu.NewBuffer("sdf.dist", make([]float32, n)),
		Mat:       gpu.NewBuffer("sdf.mat", make([]uint16, n)),
		Grad:      gpu.NewBuffer("sdf.grad", make([]float32, n)),
		seedA:     gpu.NewBuffer("sdf.seedA", make([]uint32, n)),
		seedB:     gpu.NewBuffer("sdf.seedB", make([]uint32, n)),
		matA:      gpu.NewBuffer("sdf.matA", make([]uint16, n)),
		matB:      gpu.NewBuffer("sdf.matB", make([]uint16, n)),
	}
}

func (f *Field) Len() int { return f.Dim * f.Dim * f.Dim }

func (f *Field) Index(x, y, z int) int {
	return x + y*f.Dim + z*f.Dim*f.Dim
}

func (f *Field) coords(i int) (x, y, z int) {
	x = i % f.Dim
	y = (i / f.Dim) % f.Dim
	z = i / (f.Dim * f.Dim)
	return
}

// Origin is the world position of the min corner of cell (0,0,0).
func (f *Field) Origin() r3.Vec {
	return r3.Vec{X: float64(f.Region.MinX), Y: float64(f.Region.MinY), Z: float64(f.Region.MinZ)}
}

// CellCenter is the world position of the center of a cell.
func (f *Field) CellCenter(x, y, z int) r3.Vec {
	o := f.Origin()
	cs := float64(f.CellSize)
	return r3.Vec{
		X: o.X + (float64(x)+0.5)*cs,
		Y: o.Y + (float64(y)+0.5)*cs,
		Z: o.Z + (float64(z)+0.5)*cs,
	}
}

func (f *Field) SampleAt(x, y, z int) Sample {
	i := f.Index(x, y, z)
	return Sample{
		Distance:    f.Dist.F32()[i],
		Material:    f.Mat.U16()[i],
		GradientMag: f.Grad.F32()[i],
	}
}

// DistanceAt trilinearly interpolates the signed distance at a world
// position. ok is false when p falls outside the field.
func (f *Field) DistanceAt(p r3.Vec) (float32, bool) {
	o := f.Origin()
	cs := float64(f.CellSize)
	// Sample space: cell centers are at integer lattice points.
	gx := (p.X-o.X)/cs - 0.5
	gy := (p.Y-o.Y)/cs - 0.5
	gz := (p.Z-o.Z)/cs - 0.5

	x0 := int(math32.Floor(float32(gx)))
	y0 := int(math32.Floor(float32(gy)))
	z0 := int(math32.Floor(float32(gz)))
	if x0 < 0 || y0 < 0 || z0 < 0 || x0+1 >= f.Dim || y0+1 >= f.Dim || z0+1 >= f.Dim {
		return 0, false
	}
	fx := float32(gx) - float32(x0)
	fy := float32(gy) - float32(y0)
	fz := float32(gz) - float32(z0)

	d := f.Dist.F32()
	at := func(x, y, z int) float32 { return d[f.Index(x, y, z)] }
	lerp := func(a, b, t float32) float32 { return a + (b-a)*t }

	c00 := lerp(at(x0, y0, z0), at(x0+1, y0, z0), fx)
	c10 := lerp(at(x0, y0+1, z0), at(x0+1, y0+1, z0), fx)
	c01 := lerp(at(x0, y0, z0+1), at(x0+1, y0, z0+1), fx)
	c11 := lerp(at(x0, y0+1, z0+1), at(x0+1, y0+1, z0+1), fx)
	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz), true
}

// MaterialAt returns the material of the cell enclosing p.
func (f *Field) MaterialAt(p r3.Vec) uint16 {
	o := f.Origin()
	cs := float64(f.CellSize)
	x := int((p.X - o.X) / cs)
	y := int((p.Y - o.Y) / cs)
	z := int((p.Z - o.Z) / cs)
	if x < 0 || y < 0 || z < 0 || x >= f.Dim || y >= f.Dim || z >= f.Dim {
		return 0
	}
	return f.Mat.U16()[f.Index(x, y, z)]
}

// GradientAt is a fresh finite-difference gradient of the interpolated
// distance, for contact normals. Falls back to zero outside the field.
func (f *Field) GradientAt(p r3.Vec) r3.Vec {
	h := float64(f.CellSize) * 0.5
	dx0, ok0 := f.DistanceAt(r3.Vec{X: p.X - h, Y: p.Y, Z: p.Z})
	dx1, ok1 := f.DistanceAt(r3.Vec{X: p.X + h, Y: p.Y, Z: p.Z})
	dy0, ok2 := f.DistanceAt(r3.Vec{X: p.X, Y: p.Y - h, Z: p.Z})
	dy1, ok3 := f.DistanceAt(r3.Vec{X: p.X, Y: p.Y + h, Z: p.Z})
	dz0, ok4 := f.DistanceAt(r3.Vec{X: p.X, Y: p.Y, Z: p.Z - h})
	dz1, ok5 := f.DistanceAt(r3.Vec{X: p.X, Y: p.Y, Z: p.Z + h})
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5) {
		return r3.Vec{}
	}
	return r3.Vec{
		X: float64(dx1-dx0) / (2 * h),
		Y: float64(dy1-dy0) / (2 * h),
		Z: float64(dz1-dz0) / (2 * h),
	}
}

// Malformed reports whether the distance channel holds NaN or infinite
// values. Extraction treats a malformed field as "no surface".
func (f *Field) Malformed() bool {
	for _, d := range f.Dist.F32() {
		if math32.IsNaN(d) || math32.IsInf(d, 0) {
			return true
		}
	}
	return false
}

// HasSurface reports whether any cell sits within one cell of the
// iso-surface. False means extraction can skip the field entirely.
func (f *Field) HasSurface() bool {
	neg := false
	pos := false
	for _, d := range f.Dist.F32() {
		if d < 0 {
			neg = true
		} else {
			pos = true
		}
		if neg && pos {
			return true
		}
	}
	return false
}

// Release drops one reference on every buffer the field owns.
func (f *Field) Release() {
	for _, b := range []*gpu.Buffer{f.Vox, f.Dist, f.Mat, f.Grad, f.seedA, f.seedB, f.matA, f.matB} {
		b.Release()
	}
}
