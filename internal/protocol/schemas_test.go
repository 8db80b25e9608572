package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	frameSchema := compile("frame.schema.json")
	editSchema := compile("edit.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"surface-1",
	  "client_name":"viewer1",
	  "capabilities":{"mesh_stream":true,"rle_voxels":true,"max_queue":8},
	  "render_mode":"smooth"
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"surface-1",
	  "session_id":"8f7b2b0e-6d1c-4a41-9d8a-0f3f6a2d9a01",
	  "world_params":{
	    "tick_rate_hz":10,
	    "chunk_size":32,
	    "seed":1337,
	    "view_distance":512,
	    "lod_thresholds":[0.1,0.05,0.02,0.01]
	  },
	  "render_mode":"smooth"
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var frame any
	_ = json.Unmarshal([]byte(`{
	  "type":"FRAME",
	  "protocol_version":"surface-1",
	  "tick":42,
	  "camera":[16.0,40.0,16.0],
	  "chunks":[
	    {"pos":[0,0,0],"mode":"smooth","level":"high","mesh":"AAECAw=="},
	    {"pos":[1,0,0],"mode":"smooth","level":"voxel","voxels":{"encoding":"RLE","data":"AA=="}},
	    {"pos":[0,1,0],"mode":"debug","level":"medium","mesh":"AAECAw==","overlay":true}
	  ],
	  "stats":{"dirty_chunks":1,"meshed_chunks":3,"generations":12,"failures":0,"malformed_fields":0}
	}`), &frame)
	validate(frameSchema, frame)

	var edit any
	_ = json.Unmarshal([]byte(`{
	  "type":"EDIT",
	  "protocol_version":"surface-1",
	  "edit_id":"e1",
	  "pos":[4,18,9],
	  "block":3
	}`), &edit)
	validate(editSchema, edit)
}

func TestSchemas_RejectBadSamples(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "edit.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var tooBig any
	_ = json.Unmarshal([]byte(`{
	  "type":"EDIT",
	  "protocol_version":"surface-1",
	  "pos":[0,0,0],
	  "block":70000
	}`), &tooBig)
	if err := s.Validate(tooBig); err == nil {
		t.Fatalf("block id above palette range accepted")
	}

	var shortPos any
	_ = json.Unmarshal([]byte(`{
	  "type":"EDIT",
	  "protocol_version":"surface-1",
	  "pos":[0,0],
	  "block":1
	}`), &shortPos)
	if err := s.Validate(shortPos); err == nil {
		t.Fatalf("two-component position accepted")
	}
}
