package model

import "strings"

// GenerationRequest is the body of POST /api/generate-and-send-all.
// It is immutable once the handler has validated it. Only presence and enum
// membership are checked; anything one upstream rejects fails that artifact alone.
type GenerationRequest struct {
	MusicPrompt   string          `json:"music_prompt"`
	MusicLengthMs int             `json:"music_length_ms"`
	Lyrics        string          `json:"lyrics,omitempty"`
	ImageURL      string          `json:"image_url" validate:"required"`
	ImagePrompt   string          `json:"image_prompt" validate:"required"`
	ImageSize     ImageSize       `json:"image_size" validate:"omitempty,oneof=1024x1024 1536x1024 1024x1536"`
	Deliver       DeliveryMode    `json:"deliver" validate:"omitempty,oneof=whatsapp link both"`
	Message       string          `json:"message,omitempty" validate:"max=500"`
	BgColor       BackgroundColor `json:"bg_color,omitempty" validate:"omitempty,oneof=pink black blue red"`
}

// LyricLines splits lyrics on newlines and drops blank lines.
func (r *GenerationRequest) LyricLines() []string {
	if r.Lyrics == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(r.Lyrics, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// MusicOnlyRequest is the body of POST /api/generate-and-send.
type MusicOnlyRequest struct {
	Prompt        string `json:"prompt"`
	MusicLengthMs int    `json:"music_length_ms"`
	Lyrics        string `json:"lyrics,omitempty"`
}

// ImageOnlyRequest is the body of POST /api/generate-and-send-image.
type ImageOnlyRequest struct {
	ImageURL string    `json:"image_url" validate:"required"`
	Prompt   string    `json:"prompt" validate:"required"`
	Size     ImageSize `json:"size" validate:"omitempty,oneof=1024x1024 1536x1024 1024x1536"`
}

// ArtifactReport is the per-artifact section of the aggregate response.
// Delivery fields are omitted when the messaging sink is inactive.
type ArtifactReport struct {
	Success   bool   `json:"success"`
	FileName  string `json:"fileName,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GenerationResponse is the aggregate response of the orchestrator.
type GenerationResponse struct {
	Success   bool           `json:"success"`
	Music     ArtifactReport `json:"music"`
	Image     ArtifactReport `json:"image"`
	ResultURL string         `json:"result_url,omitempty"`

	// ResultError is set when the link sink was requested but the record
	// could not be persisted.
	ResultError string `json:"result_error,omitempty"`
}

// SingleDeliveryResponse is returned by the single-artifact endpoints.
type SingleDeliveryResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	Error     string `json:"error,omitempty"`
}

// UsageResponse describes an endpoint in answer to a GET request.
type UsageResponse struct {
	Status   string            `json:"status"`
	Endpoint string            `json:"endpoint"`
	Body     map[string]string `json:"body"`
	Auth     string            `json:"auth"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
}
