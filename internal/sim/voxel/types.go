package voxel

import (
	"crypto/sha256"
	"encoding/binary"
)

// ChunkSize is the edge length of a cubical chunk in voxels.
const ChunkSize = 32

type ChunkKey struct {
	CX int
	CY int
	CZ int
}

type Chunk struct {
	CX, CY, CZ int
	Blocks     []uint16 // len = ChunkSize^3

	dirty bool
	hash  [32]byte
}

func (c *Chunk) index(x, y, z int) int {
	return x + y*ChunkSize + z*ChunkSize*ChunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[c.index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) bool {
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return false
	}
	c.Blocks[i] = b
	c.dirty = true
	return true
}

// SetBlocks replaces the chunk contents wholesale, for snapshot
// restore. Returns false on a length mismatch.
func (c *Chunk) SetBlocks(blocks []uint16) bool {
	if len(blocks) != len(c.Blocks) {
		return false
	}
	copy(c.Blocks, blocks)
	c.dirty = true
	return true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Block palette ids used by the default worldgen. The store only cares
// about Air for solidity; everything else is a material id carried
// through the distance field into the surface mesh.
const (
	Air uint16 = iota
	Dirt
	Grass
	Sand
	Stone
	Gravel
	IronOre

	// PaletteSize bounds valid block ids for edit validation.
	PaletteSize
)

type WorldGen struct {
	Seed      int64
	BoundaryR int // chunks per axis from origin, 0 = unbounded

	GroundLevel   int // world y of the base terrain surface
	HillAmplitude int
	HillPeriod    int
	DirtDepth     int
	OrePermille   int
}

type ChunkStore struct {
	Gen    WorldGen
	Chunks map[ChunkKey]*Chunk

	// OnSetBlock fires after a block actually changed. The smooth-terrain
	// coordinator hooks this to mark chunks dirty.
	OnSetBlock func(x, y, z int)
}

func NewChunkStore(gen WorldGen) *ChunkStore {
	if gen.HillPeriod <= 0 {
		gen.HillPeriod = 48
	}
	if gen.DirtDepth <= 0 {
		gen.DirtDepth = 3
	}
	return &ChunkStore{
		Gen:    gen,
		Chunks: map[ChunkKey]*Chunk{},
	}
}
