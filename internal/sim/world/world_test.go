package world

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"github.com/noahsabaj/earth-engine-sub003/internal/gpu"
	"github.com/noahsabaj/earth-engine-sub003/internal/persistence/snapshot"
	"github.com/noahsabaj/earth-engine-sub003/internal/protocol"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/encoding"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/tuning"
	"github.com/noahsabaj/earth-engine-sub003/internal/sim/voxel"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	cfg := tuning.Default()
	cfg.World.GroundLevel = -1000 // empty terrain; tests place their own blocks
	cfg.World.BoundaryR = 2
	cfg.Surface.MaxChunkUpdates = 2
	return New(cfg, gpu.NewCPUDevice(4), log.New(io.Discard, "", 0))
}

func joinSession(t *testing.T, w *World, mode string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "viewer", RenderMode: mode, Out: out, Resp: resp}}, nil, nil, nil)

	r := <-resp
	if r.Welcome.Type != protocol.TypeWelcome || r.Welcome.SessionID == "" {
		t.Fatalf("bad welcome: %+v", r.Welcome)
	}
	return r.Welcome.SessionID, out
}

func drain(t *testing.T, out chan []byte) (acks []protocol.AckMsg, frames []protocol.FrameMsg) {
	t.Helper()
	for {
		select {
		case b := <-out:
			base, err := protocol.DecodeBase(b)
			if err != nil {
				t.Fatalf("decode base: %v", err)
			}
			switch base.Type {
			case protocol.TypeAck:
				var a protocol.AckMsg
				if err := json.Unmarshal(b, &a); err != nil {
					t.Fatalf("decode ack: %v", err)
				}
				acks = append(acks, a)
			case protocol.TypeFrame:
				var f protocol.FrameMsg
				if err := json.Unmarshal(b, &f); err != nil {
					t.Fatalf("decode frame: %v", err)
				}
				frames = append(frames, f)
			}
		default:
			return acks, frames
		}
	}
}

func TestJoin_WelcomeCarriesWorldParams(t *testing.T) {
	w := newTestWorld(t)
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "viewer", Out: out, Resp: resp}}, nil, nil, nil)

	welcome := (<-resp).Welcome
	if welcome.WorldParams.ChunkSize != voxel.ChunkSize {
		t.Fatalf("chunk size %d want %d", welcome.WorldParams.ChunkSize, voxel.ChunkSize)
	}
	if len(welcome.WorldParams.LODThresholds) != 4 {
		t.Fatalf("lod thresholds missing: %v", welcome.WorldParams.LODThresholds)
	}
	if welcome.RenderMode != "smooth" {
		t.Fatalf("default render mode %q want smooth", welcome.RenderMode)
	}
}

func TestEdit_AppliedAndAcked(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "")
	drain(t, out)

	w.StepOnce(nil, nil, []EditEnvelope{{
		SessionID: sid,
		Edit:      protocol.EditMsg{Type: protocol.TypeEdit, EditID: "e1", Pos: [3]int{5, 5, 5}, Block: voxel.Stone},
	}}, nil)

	acks, _ := drain(t, out)
	if len(acks) != 1 || !acks[0].Accepted || acks[0].AckFor != "e1" {
		t.Fatalf("bad ack: %+v", acks)
	}
	if b := w.store.GetBlock(5, 5, 5); b != voxel.Stone {
		t.Fatalf("block not applied: %d", b)
	}
}

func TestEdit_Rejections(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "")
	drain(t, out)

	w.StepOnce(nil, nil, []EditEnvelope{
		{SessionID: sid, Edit: protocol.EditMsg{EditID: "bad-block", Pos: [3]int{1, 1, 1}, Block: uint16(voxel.PaletteSize)}},
		{SessionID: sid, Edit: protocol.EditMsg{EditID: "oob", Pos: [3]int{1000, 0, 0}, Block: voxel.Stone}},
	}, nil)

	acks, _ := drain(t, out)
	if len(acks) != 2 {
		t.Fatalf("got %d acks want 2", len(acks))
	}
	for _, a := range acks {
		switch a.AckFor {
		case "bad-block":
			if a.Accepted || a.Code != protocol.ErrBadRequest {
				t.Fatalf("bad block id ack: %+v", a)
			}
		case "oob":
			if a.Accepted || a.Code != protocol.ErrInvalidTarget {
				t.Fatalf("out of bounds ack: %+v", a)
			}
		default:
			t.Fatalf("unexpected ack %+v", a)
		}
	}
	if w.store.GetBlock(1, 1, 1) != voxel.Air {
		t.Fatalf("rejected edit was applied")
	}
}

func TestFrames_NearChunksCarryRLEVoxels(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "")
	drain(t, out)

	w.StepOnce(nil, nil, []EditEnvelope{{
		SessionID: sid,
		Edit:      protocol.EditMsg{EditID: "e1", Pos: [3]int{5, 5, 5}, Block: voxel.Stone},
	}}, nil)

	_, frames := drain(t, out)
	if len(frames) == 0 {
		t.Fatalf("no frame broadcast")
	}
	f := frames[len(frames)-1]
	var found bool
	for _, cf := range f.Chunks {
		if cf.Pos != [3]int{0, 0, 0} {
			continue
		}
		found = true
		// Camera sits inside this chunk, so it renders as voxels.
		if cf.Level != "voxel" || cf.Voxels == nil || cf.Voxels.Encoding != "RLE" {
			t.Fatalf("near chunk frame: %+v", cf)
		}
		blocks, err := encoding.DecodeRLE(cf.Voxels.Data)
		if err != nil {
			t.Fatalf("DecodeRLE: %v", err)
		}
		if len(blocks) != voxel.ChunkSize*voxel.ChunkSize*voxel.ChunkSize {
			t.Fatalf("voxel payload has %d blocks", len(blocks))
		}
		if blocks[5+5*voxel.ChunkSize+5*voxel.ChunkSize*voxel.ChunkSize] != voxel.Stone {
			t.Fatalf("edit missing from voxel payload")
		}
	}
	if !found {
		t.Fatalf("camera chunk not in frame")
	}
}

func TestFrames_VoxelModeSessionNeverGetsMeshes(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "voxel")
	drain(t, out)

	w.StepOnce(nil, nil, []EditEnvelope{{
		SessionID: sid,
		Edit:      protocol.EditMsg{EditID: "e1", Pos: [3]int{5, 5, 5}, Block: voxel.Stone},
	}}, nil)
	w.StepOnce(nil, nil, nil, nil)

	_, frames := drain(t, out)
	for _, f := range frames {
		for _, cf := range f.Chunks {
			if cf.Mesh != "" {
				t.Fatalf("voxel-mode session received mesh payload: %+v", cf)
			}
			if cf.Mode != "voxel" {
				t.Fatalf("voxel-mode session got mode %q", cf.Mode)
			}
		}
	}
}

func TestCamera_MovesViewpoint(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "")
	drain(t, out)

	w.StepOnce(nil, nil, nil, []CameraEnvelope{{
		SessionID: sid,
		Camera:    protocol.CameraMsg{Pos: [3]float64{40, 5, 5}},
	}})

	_, frames := drain(t, out)
	if len(frames) == 0 {
		t.Fatalf("no frame broadcast")
	}
	f := frames[len(frames)-1]
	if f.Camera != [3]float64{40, 5, 5} {
		t.Fatalf("frame camera %v", f.Camera)
	}
	if !w.store.IsChunkLoaded(voxel.ChunkKey{CX: 2}) {
		t.Fatalf("chunk neighborhood around new camera not resident")
	}
}

func TestSnapshotSink_EmitsOnCadence(t *testing.T) {
	w := newTestWorld(t)
	ch := make(chan snapshot.SnapshotV1, 4)
	w.SetSnapshotSink("w1", 2, ch)
	// The join itself is tick 1, off cadence.
	sid, out := joinSession(t, w, "")
	drain(t, out)
	if len(ch) != 0 {
		t.Fatalf("snapshot emitted off cadence at tick 1")
	}

	// Tick 2 hits the cadence; its snapshot includes this tick's edit.
	w.StepOnce(nil, nil, []EditEnvelope{{
		SessionID: sid,
		Edit:      protocol.EditMsg{EditID: "e1", Pos: [3]int{5, 5, 5}, Block: voxel.Stone},
	}}, nil)
	select {
	case snap := <-ch:
		if snap.Header.Tick != 2 || snap.Header.WorldID != "w1" {
			t.Fatalf("snapshot header %+v", snap.Header)
		}
		if len(snap.Chunks) == 0 {
			t.Fatalf("snapshot carries no chunks")
		}
	default:
		t.Fatalf("no snapshot at tick 2")
	}

	w.StepOnce(nil, nil, nil, nil)
	if len(ch) != 0 {
		t.Fatalf("snapshot emitted off cadence at tick 3")
	}
	w.StepOnce(nil, nil, nil, nil)
	select {
	case snap := <-ch:
		if snap.Header.Tick != 4 {
			t.Fatalf("snapshot tick %d want 4", snap.Header.Tick)
		}
	default:
		t.Fatalf("no snapshot at tick 4")
	}
}

func TestLeave_DropsSession(t *testing.T) {
	w := newTestWorld(t)
	sid, out := joinSession(t, w, "")
	drain(t, out)

	w.StepOnce(nil, []string{sid}, nil, nil)
	drain(t, out)
	w.StepOnce(nil, nil, nil, nil)

	if _, frames := drain(t, out); len(frames) != 0 {
		t.Fatalf("left session still receives frames")
	}
}
