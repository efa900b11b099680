package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/config"
)

// MusicGenerator defines the interface for music generation operations
type MusicGenerator interface {
	Compose(ctx context.Context, req *ComposeRequest) (AudioPayload, error)
}

// ElevenLabsClient implements MusicGenerator for the ElevenLabs music API
type ElevenLabsClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	outputFormat string
	log          zerolog.Logger
}

// ComposeRequest represents the request for music composition. Either
// Prompt/MusicLengthMs or CompositionPlan is set.
type ComposeRequest struct {
	Prompt          string           `json:"prompt,omitempty"`
	MusicLengthMs   int              `json:"music_length_ms,omitempty"`
	CompositionPlan *CompositionPlan `json:"composition_plan,omitempty"`
}

// CompositionPlan is a structured song description used when lyrics are given
type CompositionPlan struct {
	PositiveGlobalStyles []string             `json:"positive_global_styles"`
	NegativeGlobalStyles []string             `json:"negative_global_styles"`
	Sections             []CompositionSection `json:"sections"`
}

// CompositionSection is one section of a composition plan
type CompositionSection struct {
	SectionName         string   `json:"section_name"`
	PositiveLocalStyles []string `json:"positive_local_styles"`
	NegativeLocalStyles []string `json:"negative_local_styles"`
	DurationMs          int      `json:"duration_ms"`
	Lines               []string `json:"lines"`
}

// NewComposeRequest builds a prompt request, or a sung single-verse
// composition plan when lyric lines are present.
func NewComposeRequest(prompt string, lengthMs int, lyricLines []string) *ComposeRequest {
	if len(lyricLines) == 0 {
		return &ComposeRequest{Prompt: prompt, MusicLengthMs: lengthMs}
	}
	return &ComposeRequest{
		CompositionPlan: &CompositionPlan{
			PositiveGlobalStyles: []string{prompt, "vocals", "singing", "male vocalist"},
			NegativeGlobalStyles: []string{"instrumental"},
			Sections: []CompositionSection{{
				SectionName:         "verse",
				PositiveLocalStyles: []string{"vocals", "singing"},
				NegativeLocalStyles: []string{"instrumental"},
				DurationMs:          lengthMs,
				Lines:               lyricLines,
			}},
		},
	}
}

// NewElevenLabsClient creates a new ElevenLabs API client
func NewElevenLabsClient(cfg *config.ElevenLabsConfig, log zerolog.Logger) *ElevenLabsClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &ElevenLabsClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		outputFormat: cfg.OutputFormat,
		log:          log.With().Str("component", "elevenlabs").Logger(),
	}
}

// Compose generates a track. A response with a known length is read into an
// AudioBuffer; a chunked response is handed back as an AudioStream.
func (c *ElevenLabsClient) Compose(ctx context.Context, req *ComposeRequest) (AudioPayload, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("elevenlabs: %w", ErrNotConfigured)
	}

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/v1/music"
	if c.outputFormat != "" {
		endpoint += "?output_format=" + url.QueryEscape(c.outputFormat)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	c.log.Debug().Msgf("[ElevenLabs] → %s %s (plan: %t)", httpReq.Method, endpoint, req.CompositionPlan != nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn().Err(err).Msgf("[ElevenLabs] ✗ %s %s: request failed", httpReq.Method, endpoint)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := newAPIError("elevenlabs", resp)
		c.log.Warn().Int("status", resp.StatusCode).Str("body", apiErr.Body).Msg("[ElevenLabs] ← error")
		return nil, apiErr
	}

	c.log.Debug().Int("status", resp.StatusCode).Int64("contentLength", resp.ContentLength).Msg("[ElevenLabs] ←")

	if resp.ContentLength < 0 {
		return &AudioStream{ReadCloser: resp.Body}, nil
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return AudioBuffer(data), nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ElevenLabsClient) IsConfigured() bool {
	return c.apiKey != ""
}
