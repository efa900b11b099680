package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/config"
)

// DeliveryGateway defines the interface for posting a file to the group chat
type DeliveryGateway interface {
	SendFile(ctx context.Context, fileURL, fileName, caption string) (string, error)
}

// GreenAPIClient posts files to a WhatsApp group through Green API
type GreenAPIClient struct {
	httpClient *http.Client
	baseURL    string
	instanceID string
	token      string
	chatID     string
	log        zerolog.Logger
}

type sendFileByURLRequest struct {
	ChatID   string `json:"chatId"`
	URLFile  string `json:"urlFile"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption,omitempty"`
}

type sendFileByURLResponse struct {
	IDMessage string `json:"idMessage"`
}

// NewGreenAPIClient creates a new Green API client. Without an explicit base
// URL the host is derived from the first four characters of the instance id.
func NewGreenAPIClient(cfg *config.GreenAPIConfig, log zerolog.Logger) *GreenAPIClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" && len(cfg.InstanceID) >= 4 {
		baseURL = fmt.Sprintf("https://%s.api.greenapi.com", cfg.InstanceID[:4])
	}
	return &GreenAPIClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    baseURL,
		instanceID: cfg.InstanceID,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		log:        log.With().Str("component", "greenapi").Logger(),
	}
}

// SendFile posts fileURL to the configured chat and returns the message id.
func (c *GreenAPIClient) SendFile(ctx context.Context, fileURL, fileName, caption string) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("greenapi: %w", ErrNotConfigured)
	}

	bodyBytes, err := json.Marshal(sendFileByURLRequest{
		ChatID:   c.chatID,
		URLFile:  fileURL,
		FileName: fileName,
		Caption:  caption,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// the token is part of the path; only the instance is logged
	endpoint := fmt.Sprintf("%s/waInstance%s/sendFileByUrl/%s", c.baseURL, c.instanceID, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("instance", c.instanceID).Str("fileName", fileName).Msg("[GreenAPI] → sendFileByUrl")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", redactToken(err, c.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError("greenapi", resp)
		c.log.Warn().Int("status", resp.StatusCode).Str("body", apiErr.Body).Msg("[GreenAPI] ← error")
		return "", apiErr
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var sendResp sendFileByURLResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.log.Debug().Str("idMessage", sendResp.IDMessage).Msg("[GreenAPI] ←")
	return sendResp.IDMessage, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GreenAPIClient) IsConfigured() bool {
	return c.baseURL != "" && c.instanceID != "" && c.token != "" && c.chatID != ""
}

// redactToken strips the API token from transport errors, which embed the URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "***"))
}
