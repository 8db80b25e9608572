package voxel

import (
	"sort"

	"github.com/noahsabaj/earth-engine-sub003/internal/sim/mathx"
)

func (s *ChunkStore) InBounds(x, y, z int) bool {
	if s.Gen.BoundaryR <= 0 {
		return true
	}
	r := s.Gen.BoundaryR * ChunkSize
	return x >= -r && x < r && y >= -r && y < r && z >= -r && z < r
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.Chunks))
	for k := range s.Chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func KeyForVoxel(x, y, z int) ChunkKey {
	return ChunkKey{
		CX: mathx.FloorDiv(x, ChunkSize),
		CY: mathx.FloorDiv(y, ChunkSize),
		CZ: mathx.FloorDiv(z, ChunkSize),
	}
}

func (s *ChunkStore) IsChunkLoaded(k ChunkKey) bool {
	_, ok := s.Chunks[k]
	return ok
}

// GetBlock generates the owning chunk on demand.
func (s *ChunkStore) GetBlock(x, y, z int) uint16 {
	if !s.InBounds(x, y, z) {
		return Air
	}
	ch := s.GetOrGenChunk(KeyForVoxel(x, y, z))
	return ch.Get(mathx.Mod(x, ChunkSize), mathx.Mod(y, ChunkSize), mathx.Mod(z, ChunkSize))
}

// Peek reads a block only if the owning chunk is already loaded.
// The distance-field generator uses this so that unloaded data reads as
// unavailable instead of forcing generation of the whole neighborhood.
func (s *ChunkStore) Peek(x, y, z int) (uint16, bool) {
	if !s.InBounds(x, y, z) {
		return Air, false
	}
	ch, ok := s.Chunks[KeyForVoxel(x, y, z)]
	if !ok {
		return Air, false
	}
	return ch.Get(mathx.Mod(x, ChunkSize), mathx.Mod(y, ChunkSize), mathx.Mod(z, ChunkSize)), true
}

func (s *ChunkStore) SetBlock(x, y, z int, b uint16) {
	if !s.InBounds(x, y, z) {
		return
	}
	ch := s.GetOrGenChunk(KeyForVoxel(x, y, z))
	if ch.Set(mathx.Mod(x, ChunkSize), mathx.Mod(y, ChunkSize), mathx.Mod(z, ChunkSize), b) {
		if s.OnSetBlock != nil {
			s.OnSetBlock(x, y, z)
		}
	}
}

func (s *ChunkStore) Solid(b uint16) bool {
	return b != Air
}

func (s *ChunkStore) GetOrGenChunk(k ChunkKey) *Chunk {
	if ch, ok := s.Chunks[k]; ok {
		return ch
	}
	ch := &Chunk{
		CX:     k.CX,
		CY:     k.CY,
		CZ:     k.CZ,
		Blocks: make([]uint16, ChunkSize*ChunkSize*ChunkSize),
	}
	s.GenerateChunk(ch)
	ch.dirty = true
	_ = ch.Digest()
	s.Chunks[k] = ch
	return ch
}

func (s *ChunkStore) UnloadChunk(k ChunkKey) {
	delete(s.Chunks, k)
}
