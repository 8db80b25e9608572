package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
)

// Voxel payloads travel as base64(uvarint pairs), each pair a palette
// id followed by its run length. Chunk grids are dominated by long air
// and stone runs, so this is what near-camera frame chunks and
// snapshot chunk bodies ship.

// EncodeRLE run-length encodes one chunk's palette ids.
func EncodeRLE(ids []uint16) string {
	buf := make([]byte, 0, 256)
	for i := 0; i < len(ids); {
		id := ids[i]
		j := i + 1
		for j < len(ids) && ids[j] == id {
			j++
		}
		buf = binary.AppendUvarint(buf, uint64(id))
		buf = binary.AppendUvarint(buf, uint64(j-i))
		i = j
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeRLE inverts EncodeRLE. Payloads cross the wire, so every way a
// payload can be short, truncated or out of palette range is an error,
// never a partial grid.
func DecodeRLE(s string) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("rle: %w", err)
	}
	out := make([]uint16, 0, voxel.ChunkSize*voxel.ChunkSize*voxel.ChunkSize)
	for i := 0; i < len(raw); {
		id, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("rle: truncated palette id at offset %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("rle: truncated run length at offset %d", i)
		}
		i += n
		if id > 0xFFFF {
			return nil, fmt.Errorf("rle: palette id %d out of range", id)
		}
		for ; run > 0; run-- {
			out = append(out, uint16(id))
		}
	}
	return out, nil
}
