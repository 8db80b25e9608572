package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	RenderMode      string            `json:"render_mode,omitempty"` // "smooth", "voxel", "debug"
}

type HelloCapabilities struct {
	MeshStream bool `json:"mesh_stream,omitempty"`
	RLEVoxels  bool `json:"rle_voxels,omitempty"`
	MaxQueue   int  `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
	RenderMode      string      `json:"render_mode"`
}

type WorldParams struct {
	TickRateHz    int       `json:"tick_rate_hz"`
	ChunkSize     int       `json:"chunk_size"`
	Seed          int64     `json:"seed"`
	ViewDistance  float64   `json:"view_distance"`
	LODThresholds []float64 `json:"lod_thresholds"`
}

// CAMERA (client -> server): moves the session's viewpoint that frame
// culling and LOD selection run against.
type CameraMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
	LODBias         float64    `json:"lod_bias,omitempty"`
}

// EDIT (client -> server): one voxel write.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EditID          string `json:"edit_id,omitempty"`
	Pos             [3]int `json:"pos"`
	Block           uint16 `json:"block"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
