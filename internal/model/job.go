package model

import "time"

// Task types handled by the background worker
const (
	TaskTypeBlobCleanup = "blob:cleanup"
)

// CleanupTaskPayload is the payload of a delayed blob deletion task
type CleanupTaskPayload struct {
	BlobURL     string       `json:"blobUrl"`
	RequestID   string       `json:"requestId,omitempty"`
	Artifact    ArtifactKind `json:"artifact,omitempty"`
	ScheduledAt time.Time    `json:"scheduledAt"`
}
