package sdf

import (
	"fmt"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/mathx"
)

// VoxelSource is the narrow view of the voxel world the generator
// consumes. Peek must not force chunk generation: data that is not
// resident reads as unavailable and the field treats it as far outside.
type VoxelSource interface {
	Peek(x, y, z int) (uint16, bool)
	Solid(b uint16) bool
}

// Generator runs the four-pass distance-field pipeline on a compute
// device: seed, jump-flood propagation, gradient, smoothing.
type Generator struct {
	dev gpu.Device
}

func NewGenerator(dev gpu.Device) *Generator {
	return &Generator{dev: dev}
}

// Generate rebuilds target in place from src. region must match the
// region the field was allocated for; fields are never patched
// incrementally. smoothPasses is the LOD's box-blur count.
func (g *Generator) Generate(src VoxelSource, target *Field, region Region, smoothPasses int) error {
	if region != target.Region {
		return fmt.Errorf("sdf: region %+v does not match field region %+v", region, target.Region)
	}

	g.upload(src, target)

	dim := target.Dim
	n := target.Len()
	enc := g.dev.NewEncoder()

	if err := enc.Dispatch(KernelSeed,
		seedUniforms{Dim: dim, ResFactor: target.ResFactor},
		[]*gpu.Buffer{target.Vox, target.seedA, target.matA}, n); err != nil {
		return err
	}

	// Jump flooding: steps are decreasing powers of two from dim/2
	// down to 1, converging in O(log n) passes. Each pass ping-pongs
	// between the two seed/material buffer pairs.
	seedIn, matIn := target.seedA, target.matA
	seedOut, matOut := target.seedB, target.matB
	step := 1
	for step*2 <= dim/2 {
		step *= 2
	}
	for ; step >= 1; step /= 2 {
		if err := enc.Dispatch(KernelJump,
			jumpUniforms{Dim: dim, Step: step},
			[]*gpu.Buffer{seedIn, matIn, seedOut, matOut}, n); err != nil {
			return err
		}
		seedIn, seedOut = seedOut, seedIn
		matIn, matOut = matOut, matIn
	}

	if err := enc.Dispatch(KernelResolve,
		resolveUniforms{Dim: dim, CellSize: target.CellSize, MaxDist: target.MaxDist},
		[]*gpu.Buffer{seedIn, matIn, target.Vox, target.Dist, target.Mat}, n); err != nil {
		return err
	}

	if err := enc.Dispatch(KernelGradient,
		gradientUniforms{Dim: dim, CellSize: target.CellSize},
		[]*gpu.Buffer{target.Dist, target.Grad}, n); err != nil {
		return err
	}

	var scratch *gpu.Buffer
	distIn := target.Dist
	if smoothPasses > 0 {
		scratch = gpu.NewBuffer("sdf.smooth", make([]float32, n))
		distOut := scratch
		for p := 0; p < smoothPasses; p++ {
			if err := enc.Dispatch(KernelSmooth,
				smoothUniforms{Dim: dim, CellSize: target.CellSize},
				[]*gpu.Buffer{distIn, distOut}, n); err != nil {
				return err
			}
			distIn, distOut = distOut, distIn
		}
	}

	if err := g.dev.Submit(enc); err != nil {
		return err
	}

	// Odd smoothing counts leave the result in the scratch buffer.
	if scratch != nil {
		if distIn != target.Dist {
			target.Dist, scratch = scratch, target.Dist
		}
		scratch.Release()
	}
	return nil
}

// upload samples the voxel source into the field's voxel buffer, one
// packed sample per cell. This is the host→device transfer of the
// pipeline; every later pass reads buffers only.
func (g *Generator) upload(src VoxelSource, target *Field) {
	vox := target.Vox.U32()
	res := target.ResFactor
	for i := range vox {
		x, y, z := target.coords(i)
		wx := target.Region.MinX + mathx.FloorDiv(x, res)
		wy := target.Region.MinY + mathx.FloorDiv(y, res)
		wz := target.Region.MinZ + mathx.FloorDiv(z, res)

		b, loaded := src.Peek(wx, wy, wz)
		v := uint32(b)
		if loaded {
			v |= voxLoaded
			if src.Solid(b) {
				v |= voxSolid
			}
		}
		vox[i] = v
	}
}

// RegionForChunk is the voxel region a chunk's field covers: the chunk
// extent plus the seam margin on every side.
func RegionForChunk(cx, cy, cz, chunkSize int) Region {
	return Region{
		MinX: cx*chunkSize - Margin,
		MinY: cy*chunkSize - Margin,
		MinZ: cz*chunkSize - Margin,
		Size: chunkSize + 2*Margin,
	}
}
