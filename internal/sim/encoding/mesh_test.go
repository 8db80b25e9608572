package encoding

import (
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/noahsabaj/earth-engine-sub003/internal/surface/extract"
)

func testMesh() *extract.Mesh {
	m := extract.NewMesh()
	m.Positions = []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}}
	m.Normals = []r3.Vec{{Z: 1}, {Z: 1}, {Z: 1}}
	m.Materials = [][4]extract.MaterialWeight{
		{{Material: 3, Weight: 1}},
		{{Material: 3, Weight: 0.5}, {Material: 4, Weight: 0.5}},
		{{Material: 4, Weight: 1}},
	}
	m.Indices = []uint32{0, 1, 2}
	m.RecomputeBounds()
	return m
}

func TestMesh_RoundTrip(t *testing.T) {
	in := testMesh()
	enc, err := EncodeMesh(in)
	if err != nil {
		t.Fatalf("EncodeMesh: %v", err)
	}
	out, err := DecodeMesh(enc)
	if err != nil {
		t.Fatalf("DecodeMesh: %v", err)
	}
	if out.VertexCount() != in.VertexCount() || len(out.Indices) != len(in.Indices) {
		t.Fatalf("size mismatch: %d/%d verts, %d/%d indices",
			out.VertexCount(), in.VertexCount(), len(out.Indices), len(in.Indices))
	}
	for i := range in.Positions {
		if out.Positions[i] != in.Positions[i] {
			t.Fatalf("position %d: got %v want %v", i, out.Positions[i], in.Positions[i])
		}
		if out.Materials[i] != in.Materials[i] {
			t.Fatalf("materials %d: got %v want %v", i, out.Materials[i], in.Materials[i])
		}
	}
	if out.Bounds != in.Bounds {
		t.Fatalf("bounds: got %+v want %+v", out.Bounds, in.Bounds)
	}
}

func TestMesh_NilEncodesEmpty(t *testing.T) {
	enc, err := EncodeMesh(nil)
	if err != nil || enc != "" {
		t.Fatalf("nil mesh: got %q, %v", enc, err)
	}
	m, err := DecodeMesh("")
	if err != nil || m != nil {
		t.Fatalf("empty payload: got %v, %v", m, err)
	}
}

func TestMesh_RejectsCorruptPayload(t *testing.T) {
	if _, err := DecodeMesh("not base64!!"); err == nil {
		t.Fatalf("bad base64 accepted")
	}
	if _, err := DecodeMesh("AAAA"); err == nil {
		t.Fatalf("bad zstd frame accepted")
	}
}

func TestMesh_RejectsOutOfRangeIndex(t *testing.T) {
	in := testMesh()
	in.Indices[2] = 99
	enc, err := EncodeMesh(in)
	if err != nil {
		t.Fatalf("EncodeMesh: %v", err)
	}
	if _, err := DecodeMesh(enc); err == nil {
		t.Fatalf("out-of-range index accepted")
	}
}
