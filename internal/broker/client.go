// Package broker mints ephemeral realtime credentials from the
// upstream sessions endpoint. The relay calls it on behalf of web
// clients; the connection manager uses it directly as its credential
// source.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/realtime"
	"github.com/voicelink/voicelink/internal/session"
	"github.com/voicelink/voicelink/pkg/logger"
)

// Client creates realtime sessions against the upstream API
type Client struct {
	sessionsURL string
	apiKey      string
	model       string
	httpClient  *http.Client
	logger      *logger.Logger
}

// NewClient creates a broker client from the upstream configuration
func NewClient(cfg config.OpenAIConfig, model string, log *logger.Logger) *Client {
	return &Client{
		sessionsURL: cfg.SessionsURL,
		apiKey:      cfg.APIKey,
		model:       model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
		},
		logger: log.Named("broker"),
	}
}

// sessionRequest is the sessions endpoint request body. The full
// configuration payload rides along so the minted session starts with
// the right voice and turn detection; it is re-sent over the event
// channel once connected, which the endpoint treats as idempotent.
type sessionRequest struct {
	Model string `json:"model"`
	*session.ConfigPayload
}

// sessionResponse is the subset of the sessions endpoint response the
// caller needs.
type sessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// CreateSession mints an ephemeral credential for one connection
// attempt using the client's default model. Non-2xx responses become
// *realtime.CredentialError so the caller can classify rate limiting.
func (c *Client) CreateSession(ctx context.Context, payload *session.ConfigPayload) (*realtime.Credential, error) {
	return c.CreateSessionForModel(ctx, c.model, payload)
}

// CreateSessionForModel mints a credential for a specific model, used
// by the relay's variant table.
func (c *Client) CreateSessionForModel(ctx context.Context, model string, payload *session.ConfigPayload) (*realtime.Credential, error) {
	body, err := json.Marshal(sessionRequest{Model: model, ConfigPayload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Session creation refused",
			logger.Int("status", resp.StatusCode))
		return nil, &realtime.CredentialError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var sr sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if sr.ClientSecret.Value == "" {
		return nil, fmt.Errorf("session response missing client secret")
	}

	c.logger.Info("Session created",
		logger.String("session_id", sr.ID),
		logger.String("model", sr.Model))

	return &realtime.Credential{
		Token:     sr.ClientSecret.Value,
		SessionID: sr.ID,
		Model:     sr.Model,
		ExpiresAt: time.Unix(sr.ClientSecret.ExpiresAt, 0),
	}, nil
}
