// Package collide answers sphere and ray queries against the hybrid
// terrain representation: the signed distance field when one is cached
// for the region, the raw voxel grid otherwise. Collision is never
// silently skipped; the voxel fallback is always available.
package collide

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/sdf"
)

// FieldSource yields the cached distance field covering a world
// position, nil when none is cached.
type FieldSource interface {
	FieldAt(p r3.Vec) *sdf.Field
}

// VoxelWorld is the raw-grid fallback surface.
type VoxelWorld interface {
	GetBlock(x, y, z int) uint16
	Solid(b uint16) bool
}

// Hit is a ray intersection.
type Hit struct {
	Position r3.Vec
	Normal   r3.Vec
	Distance float64
	Material uint16
}

type Collider struct {
	Fields FieldSource
	Voxels VoxelWorld

	// Epsilon is the sphere-tracing hit tolerance; MaxSteps caps the
	// march so malformed fields cannot loop forever.
	Epsilon  float64
	MaxSteps int
}

func New(fields FieldSource, voxels VoxelWorld) *Collider {
	return &Collider{
		Fields:   fields,
		Voxels:   voxels,
		Epsilon:  0.01,
		MaxSteps: 128,
	}
}

// CollideSphere reports the penetration vector pushing the sphere out
// of the terrain, or ok=false when there is no contact.
func (c *Collider) CollideSphere(center r3.Vec, radius float64) (r3.Vec, bool) {
	if f := c.Fields.FieldAt(center); f != nil {
		if d, ok := f.DistanceAt(center); ok {
			if float64(d) >= radius {
				return r3.Vec{}, false
			}
			// Contact normal from a fresh finite-difference gradient,
			// not the coarse cached gradient channel.
			g := f.GradientAt(center)
			if n := r3.Norm(g); n > 0 {
				return r3.Scale((radius-float64(d))/n, g), true
			}
			// Degenerate gradient: push straight up.
			return r3.Vec{Y: radius - float64(d)}, true
		}
	}
	return c.collideSphereVoxels(center, radius)
}

// collideSphereVoxels tests the sphere against every solid voxel AABB
// overlapping its bounds and returns the deepest contact.
func (c *Collider) collideSphereVoxels(center r3.Vec, radius float64) (r3.Vec, bool) {
	minX := int(math.Floor(center.X - radius))
	minY := int(math.Floor(center.Y - radius))
	minZ := int(math.Floor(center.Z - radius))
	maxX := int(math.Floor(center.X + radius))
	maxY := int(math.Floor(center.Y + radius))
	maxZ := int(math.Floor(center.Z + radius))

	var best r3.Vec
	bestDepth := 0.0
	for z := minZ; z <= maxZ; z++ {
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				if !c.Voxels.Solid(c.Voxels.GetBlock(x, y, z)) {
					continue
				}
				// Closest point on the unit voxel cube to the center.
				cp := r3.Vec{
					X: clamp(center.X, float64(x), float64(x+1)),
					Y: clamp(center.Y, float64(y), float64(y+1)),
					Z: clamp(center.Z, float64(z), float64(z+1)),
				}
				delta := r3.Sub(center, cp)
				dist := r3.Norm(delta)
				if dist >= radius {
					continue
				}
				var n r3.Vec
				if dist > 0 {
					n = r3.Scale(1/dist, delta)
				} else {
					// Center inside the voxel: push out the nearest face.
					n = nearestFaceNormal(center, x, y, z)
				}
				if depth := radius - dist; depth > bestDepth {
					bestDepth = depth
					best = r3.Scale(depth, n)
				}
			}
		}
	}
	if bestDepth == 0 {
		return r3.Vec{}, false
	}
	return best, true
}

// CastRay marches from origin along dir. Against a cached field it
// sphere-traces, stepping by the sampled distance; outside any field it
// falls back to a voxel grid walk. Terminates after MaxSteps no matter
// what the field contains.
func (c *Collider) CastRay(origin, dir r3.Vec, maxDistance float64) (Hit, bool) {
	if n := r3.Norm(dir); n == 0 {
		return Hit{}, false
	} else {
		dir = r3.Scale(1/n, dir)
	}

	t := 0.0
	for step := 0; step < c.MaxSteps; step++ {
		if t > maxDistance {
			return Hit{}, false
		}
		p := r3.Add(origin, r3.Scale(t, dir))
		f := c.Fields.FieldAt(p)
		if f == nil {
			return c.castRayVoxels(origin, dir, t, maxDistance)
		}
		d, ok := f.DistanceAt(p)
		if !ok {
			return c.castRayVoxels(origin, dir, t, maxDistance)
		}
		if math.Abs(float64(d)) < c.Epsilon {
			g := f.GradientAt(p)
			if n := r3.Norm(g); n > 0 {
				g = r3.Scale(1/n, g)
			}
			return Hit{Position: p, Normal: g, Distance: t, Material: f.MaterialAt(p)}, true
		}
		advance := float64(d)
		if math.IsNaN(advance) || advance < c.Epsilon {
			advance = c.Epsilon
		}
		t += advance
	}
	return Hit{}, false
}

// castRayVoxels is an Amanatides-Woo grid walk from distance t0 along
// the ray, hitting the first solid voxel face.
func (c *Collider) castRayVoxels(origin, dir r3.Vec, t0, maxDistance float64) (Hit, bool) {
	p := r3.Add(origin, r3.Scale(t0, dir))
	x := int(math.Floor(p.X))
	y := int(math.Floor(p.Y))
	z := int(math.Floor(p.Z))

	stepX, tMaxX, tDeltaX := gridAxis(p.X, dir.X, x)
	stepY, tMaxY, tDeltaY := gridAxis(p.Y, dir.Y, y)
	stepZ, tMaxZ, tDeltaZ := gridAxis(p.Z, dir.Z, z)

	t := t0
	var normal r3.Vec
	for step := 0; step < 4*c.MaxSteps; step++ {
		if b := c.Voxels.GetBlock(x, y, z); c.Voxels.Solid(b) && step > 0 {
			return Hit{
				Position: r3.Add(origin, r3.Scale(t, dir)),
				Normal:   normal,
				Distance: t,
				Material: b,
			}, true
		}
		switch {
		case tMaxX <= tMaxY && tMaxX <= tMaxZ:
			x += stepX
			t = t0 + tMaxX
			tMaxX += tDeltaX
			normal = r3.Vec{X: float64(-stepX)}
		case tMaxY <= tMaxZ:
			y += stepY
			t = t0 + tMaxY
			tMaxY += tDeltaY
			normal = r3.Vec{Y: float64(-stepY)}
		default:
			z += stepZ
			t = t0 + tMaxZ
			tMaxZ += tDeltaZ
			normal = r3.Vec{Z: float64(-stepZ)}
		}
		if t > maxDistance {
			return Hit{}, false
		}
	}
	return Hit{}, false
}

func gridAxis(pos, dir float64, cell int) (step int, tMax, tDelta float64) {
	if dir > 0 {
		return 1, (float64(cell+1) - pos) / dir, 1 / dir
	}
	if dir < 0 {
		return -1, (pos - float64(cell)) / -dir, 1 / -dir
	}
	return 0, math.Inf(1), math.Inf(1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nearestFaceNormal(p r3.Vec, x, y, z int) r3.Vec {
	dx0 := p.X - float64(x)
	dx1 := float64(x+1) - p.X
	dy0 := p.Y - float64(y)
	dy1 := float64(y+1) - p.Y
	dz0 := p.Z - float64(z)
	dz1 := float64(z+1) - p.Z

	minD := dx0
	n := r3.Vec{X: -1}
	for _, c := range []struct {
		d float64
		n r3.Vec
	}{
		{dx1, r3.Vec{X: 1}},
		{dy0, r3.Vec{Y: -1}},
		{dy1, r3.Vec{Y: 1}},
		{dz0, r3.Vec{Z: -1}},
		{dz1, r3.Vec{Z: 1}},
	} {
		if c.d < minD {
			minD = c.d
			n = c.n
		}
	}
	return n
}
