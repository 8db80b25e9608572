package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
)

// Mesh payloads travel as base64(zstd(little-endian records)). Layout:
// vertex and index counts as uvarints, then positions (3xf32 each),
// normals (3xf32), materials (4 pairs of u16 id + f32 weight) and u32
// indices.

var (
	meshEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	meshDec, _ = zstd.NewReader(nil)
)

func EncodeMesh(m *extract.Mesh) (string, error) {
	if m == nil {
		return "", nil
	}
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(m.Positions)))
	buf.Write(tmp[:n])
	n = binary.PutUvarint(tmp[:], uint64(len(m.Indices)))
	buf.Write(tmp[:n])

	putVec := func(v r3.Vec) {
		putF32(&buf, float32(v.X))
		putF32(&buf, float32(v.Y))
		putF32(&buf, float32(v.Z))
	}
	for _, p := range m.Positions {
		putVec(p)
	}
	for _, nv := range m.Normals {
		putVec(nv)
	}
	for _, mw := range m.Materials {
		for _, e := range mw {
			putU16(&buf, e.Material)
			putF32(&buf, e.Weight)
		}
	}
	for _, i := range m.Indices {
		putU32(&buf, i)
	}

	return base64.StdEncoding.EncodeToString(meshEnc.EncodeAll(buf.Bytes(), nil)), nil
}

// DecodeMesh rebuilds a mesh from its wire form. The result starts with
// one reference, like a freshly extracted mesh.
func DecodeMesh(b64 string) (*extract.Mesh, error) {
	if b64 == "" {
		return nil, nil
	}
	comp, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	raw, err := meshDec.DecodeAll(comp, nil)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(raw)
	nv, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	ni, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if nv > uint64(len(raw)) || ni > uint64(len(raw)) {
		return nil, fmt.Errorf("mesh payload counts exceed payload size")
	}

	m := extract.NewMesh()
	m.Positions = make([]r3.Vec, nv)
	m.Normals = make([]r3.Vec, nv)
	m.Materials = make([][4]extract.MaterialWeight, nv)
	m.Indices = make([]uint32, ni)

	getVec := func() (r3.Vec, error) {
		x, err := getF32(r)
		if err != nil {
			return r3.Vec{}, err
		}
		y, err := getF32(r)
		if err != nil {
			return r3.Vec{}, err
		}
		z, err := getF32(r)
		if err != nil {
			return r3.Vec{}, err
		}
		return r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}, nil
	}
	for i := range m.Positions {
		if m.Positions[i], err = getVec(); err != nil {
			return nil, err
		}
	}
	for i := range m.Normals {
		if m.Normals[i], err = getVec(); err != nil {
			return nil, err
		}
	}
	for i := range m.Materials {
		for k := 0; k < 4; k++ {
			id, err := getU16(r)
			if err != nil {
				return nil, err
			}
			w, err := getF32(r)
			if err != nil {
				return nil, err
			}
			m.Materials[i][k] = extract.MaterialWeight{Material: id, Weight: w}
		}
	}
	for i := range m.Indices {
		v, err := getU32(r)
		if err != nil {
			return nil, err
		}
		if uint64(v) >= nv {
			return nil, fmt.Errorf("mesh index %d out of range", v)
		}
		m.Indices[i] = v
	}
	m.RecomputeBounds()
	return m, nil
}

func putF32(buf *bytes.Buffer, v float32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	buf.Write(b[:])
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func getF32(r *bytes.Reader) (float32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:])), nil
}

func getU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
