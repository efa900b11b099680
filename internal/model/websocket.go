package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// Pipeline stages reported over the progress socket
type Stage string

const (
	StageStarted   Stage = "started"
	StageGenerated Stage = "generated"
	StageUploaded  Stage = "uploaded"
	StageDelivered Stage = "delivered"
	StageFailed    Stage = "failed"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage reports one stage transition of one artifact pipeline
type WSProgressMessage struct {
	Type      string       `json:"type"`
	RequestID string       `json:"requestId"`
	Artifact  ArtifactKind `json:"artifact"`
	Stage     Stage        `json:"stage"`
	Detail    string       `json:"detail,omitempty"`
}

// WSCompleteMessage carries the aggregate response once both pipelines settled
type WSCompleteMessage struct {
	Type      string      `json:"type"`
	RequestID string      `json:"requestId"`
	Result    interface{} `json:"result"`
}
