package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/innovotech/mediadrop/internal/config"
)

// UnkeyVerifier verifies API keys against the Unkey keys.verifyKey endpoint
type UnkeyVerifier struct {
	httpClient *http.Client
	baseURL    string
	rootKey    string
	apiID      string
}

type verifyKeyRequest struct {
	Key   string `json:"key"`
	APIID string `json:"apiId,omitempty"`
}

type verifyKeyResponse struct {
	Data struct {
		Valid    bool   `json:"valid"`
		Code     string `json:"code"`
		KeyID    string `json:"keyId"`
		Identity *struct {
			ExternalID string `json:"externalId"`
		} `json:"identity,omitempty"`
	} `json:"data"`
}

// NewUnkeyVerifier creates a new Unkey key verifier
func NewUnkeyVerifier(cfg *config.UnkeyConfig) (*UnkeyVerifier, error) {
	if cfg.RootKey == "" {
		return nil, fmt.Errorf("unkey root key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.unkey.com"
	}
	return &UnkeyVerifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		rootKey:    cfg.RootKey,
		apiID:      cfg.APIID,
	}, nil
}

// Verify checks key with Unkey. Transport and non-2xx answers are verifier
// failures; a well-formed answer with valid=false is an InvalidCredentialError.
func (v *UnkeyVerifier) Verify(ctx context.Context, key string) (*Principal, error) {
	bodyBytes, err := json.Marshal(verifyKeyRequest{Key: key, APIID: v.apiID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v2/keys.verifyKey", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.rootKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unkey API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var verifyResp verifyKeyResponse
	if err := json.Unmarshal(respBody, &verifyResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !verifyResp.Data.Valid {
		return nil, invalid(verifyResp.Data.Code, "invalid or expired API key")
	}

	subject := verifyResp.Data.KeyID
	if verifyResp.Data.Identity != nil && verifyResp.Data.Identity.ExternalID != "" {
		subject = verifyResp.Data.Identity.ExternalID
	}
	return &Principal{Subject: subject, Method: "unkey"}, nil
}
