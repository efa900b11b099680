package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/config"
)

// ImageEditor defines the interface for source-image edit operations
type ImageEditor interface {
	FetchSource(ctx context.Context, imageURL string) ([]byte, error)
	Edit(ctx context.Context, source []byte, prompt, size string) ([]byte, error)
}

// OpenAIImageClient handles communication with the OpenAI image edit API
type OpenAIImageClient struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	maxSourceBytes int64
	log            zerolog.Logger
}

// imageEditResponse represents the response from /images/edits
type imageEditResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIImageClient creates a new OpenAI image client
func NewOpenAIImageClient(cfg *config.OpenAIConfig, log zerolog.Logger) *OpenAIImageClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIImageClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          model,
		maxSourceBytes: cfg.MaxSourceBytes,
		log:            log.With().Str("component", "openai").Logger(),
	}
}

// FetchSource downloads the source image. Bodies over the configured limit fail.
func (c *OpenAIImageClient) FetchSource(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError("source image", resp)
	}

	data, err := readAllWithLimit(resp.Body, c.maxSourceBytes)
	if err != nil {
		var tooLarge ResponseTooLargeError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("source image: %w", tooLarge)
		}
		return nil, fmt.Errorf("failed to read source image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("source image is empty")
	}
	return data, nil
}

// Edit sends the source image and prompt to /images/edits and returns the
// decoded PNG bytes.
func (c *OpenAIImageClient) Edit(ctx context.Context, source []byte, prompt, size string) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("openai: %w", ErrNotConfigured)
	}

	body, contentType, err := c.editForm(source, prompt, size)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	endpoint := c.baseURL + "/images/edits"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("size", size).Int("sourceBytes", len(source)).Msgf("[OpenAI] → POST %s", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("[OpenAI] ✗ request failed")
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError("openai", resp)
		c.log.Warn().Int("status", resp.StatusCode).Str("body", apiErr.Body).Msg("[OpenAI] ← error")
		return nil, apiErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var editResp imageEditResponse
	if err := json.Unmarshal(respBody, &editResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if editResp.Error != nil && editResp.Error.Message != "" {
		return nil, fmt.Errorf("openai: %s", editResp.Error.Message)
	}
	if len(editResp.Data) == 0 || editResp.Data[0].B64JSON == "" {
		return nil, errors.New("openai: no image in response")
	}

	img, err := base64.StdEncoding.DecodeString(editResp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	c.log.Debug().Int("bytes", len(img)).Msg("[OpenAI] ←")
	return img, nil
}

func (c *OpenAIImageClient) editForm(source []byte, prompt, size string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="source.png"`)
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(source); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"model", c.model},
		{"prompt", prompt},
		{"n", "1"},
		{"size", size},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIImageClient) IsConfigured() bool {
	return c.apiKey != ""
}
