package protocol

// FRAME (server -> client): the per-tick render set for one session's
// camera. Each chunk carries either a mesh payload or RLE voxel data,
// never both empty while visible.
type FrameMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Camera          [3]float64   `json:"camera"`
	Chunks          []ChunkFrame `json:"chunks"`
	Stats           *FrameStats  `json:"stats,omitempty"`
}

type ChunkFrame struct {
	Pos   [3]int `json:"pos"` // chunk coordinates
	Mode  string `json:"mode"`
	Level string `json:"level"`
	// Mesh is base64(zstd) vertex data for smooth levels.
	Mesh string `json:"mesh,omitempty"`
	// Voxels is the RLE block payload for voxel-mode chunks.
	Voxels *VoxelPayload `json:"voxels,omitempty"`
	// Overlay asks the client to draw the raw grid over the mesh.
	Overlay bool `json:"overlay,omitempty"`
}

type VoxelPayload struct {
	Encoding string `json:"encoding"` // "RLE"
	Data     string `json:"data"`
}

type FrameStats struct {
	DirtyChunks     int    `json:"dirty_chunks"`
	MeshedChunks    int    `json:"meshed_chunks"`
	Generations     uint64 `json:"generations"`
	Failures        uint64 `json:"failures"`
	MalformedFields uint64 `json:"malformed_fields"`
}
