package voxel

import "github.com/noahsabaj/earth-engine-sub003/internal/sim/mathx"

// surfaceHeight is deterministic hash-noise terrain: a coarse lattice of
// hashed heights with bilinear interpolation between lattice points.
func (s *ChunkStore) surfaceHeight(wx, wz int) int {
	period := s.Gen.HillPeriod
	gx := mathx.FloorDiv(wx, period)
	gz := mathx.FloorDiv(wz, period)
	fx := mathx.Mod(wx, period)
	fz := mathx.Mod(wz, period)

	corner := func(cx, cz int) int {
		h := mathx.Hash2(s.Gen.Seed, cx, cz)
		if s.Gen.HillAmplitude <= 0 {
			return 0
		}
		return int(h%uint64(2*s.Gen.HillAmplitude+1)) - s.Gen.HillAmplitude
	}

	h00 := corner(gx, gz)
	h10 := corner(gx+1, gz)
	h01 := corner(gx, gz+1)
	h11 := corner(gx+1, gz+1)

	// Bilinear blend in fixed point to stay deterministic across platforms.
	top := h00*(period-fx) + h10*fx
	bot := h01*(period-fx) + h11*fx
	return s.Gen.GroundLevel + (top*(period-fz)+bot*fz)/(period*period)
}

func (s *ChunkStore) GenerateChunk(ch *Chunk) {
	for z := 0; z < ChunkSize; z++ {
		for x := 0; x < ChunkSize; x++ {
			wx := ch.CX*ChunkSize + x
			wz := ch.CZ*ChunkSize + z
			h := s.surfaceHeight(wx, wz)

			for y := 0; y < ChunkSize; y++ {
				wy := ch.CY*ChunkSize + y

				b := Air
				switch {
				case wy > h:
					b = Air
				case wy == h:
					b = Grass
				case wy > h-s.Gen.DirtDepth:
					b = Dirt
				default:
					b = Stone
					if s.Gen.OrePermille > 0 &&
						mathx.Hash3(s.Gen.Seed+7, wx, wy, wz)%1000 < uint64(mathx.ClampInt(s.Gen.OrePermille, 0, 1000)) {
						b = IronOre
					} else if mathx.Hash3(s.Gen.Seed+13, wx, wy, wz)%1000 < 30 {
						b = Gravel
					}
				}
				ch.Blocks[ch.index(x, y, z)] = b
			}
		}
	}
}

// FillSphere stamps a solid sphere of the given material into the store.
// Used by tests and the offline bake tool.
func (s *ChunkStore) FillSphere(cx, cy, cz, radius int, b uint16) {
	r2 := radius * radius
	for z := cz - radius; z <= cz+radius; z++ {
		for y := cy - radius; y <= cy+radius; y++ {
			for x := cx - radius; x <= cx+radius; x++ {
				dx, dy, dz := x-cx, y-cy, z-cz
				if dx*dx+dy*dy+dz*dz <= r2 {
					s.SetBlock(x, y, z, b)
				}
			}
		}
	}
}
