package outline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Vafelkin/outline-tg-bot/src/logging"
	"github.com/Vafelkin/outline-tg-bot/src/models"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every call to the management API
const DefaultTimeout = 10 * time.Second

// maxErrorBody limits how much of an error response is kept
const maxErrorBody = 4096

// Config holds Outline client configuration
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	InsecureTLS bool // Outline ships with a self-signed certificate
}

// Client talks to the Outline management API
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new Outline API client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- self-signed Outline certificate
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logging.NewLogger("outline"),
	}
}

// ListKeys returns every key known to the server
func (c *Client) ListKeys(ctx context.Context) ([]models.RemoteKey, error) {
	var list accessKeyList
	if err := c.do(ctx, http.MethodGet, "/access-keys", nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list access keys: %w", err)
	}

	keys := make([]models.RemoteKey, 0, len(list.AccessKeys))
	reachable := true
	for _, k := range list.AccessKeys {
		rk := k.toModel()
		if k.DataLimit == nil {
			// Listings may leave the limit out; the key itself carries it
			reachable = c.fillTrafficCap(ctx, &rk, reachable)
		}
		keys = append(keys, rk)
	}
	return keys, nil
}

// fillTrafficCap reads the limit of rk from its own endpoint. A key that
// cannot be read is marked CapUnknown. Once the server stops answering the
// remaining keys are marked without further requests.
func (c *Client) fillTrafficCap(ctx context.Context, rk *models.RemoteKey, reachable bool) bool {
	if !reachable {
		rk.CapUnknown = true
		return false
	}
	detail, err := c.GetKey(ctx, rk.ID)
	if err != nil {
		c.logger.Warn().Err(err).Str("key_id", rk.ID).Msg("failed to read traffic cap")
		rk.CapUnknown = true
		return !errors.Is(err, ErrUpstreamUnavailable)
	}
	rk.TrafficCap = detail.TrafficCap
	return true
}

// GetKey returns a single key
func (c *Client) GetKey(ctx context.Context, keyID string) (*models.RemoteKey, error) {
	var k accessKey
	if err := c.do(ctx, http.MethodGet, keyPath(keyID), nil, &k); err != nil {
		return nil, fmt.Errorf("failed to get access key %s: %w", keyID, err)
	}
	rk := k.toModel()
	return &rk, nil
}

// CreateKey provisions a new key. The name is advisory.
func (c *Client) CreateKey(ctx context.Context, name string) (*models.RemoteKey, error) {
	var body interface{}
	if name != "" {
		body = nameRequest{Name: name}
	}

	var k accessKey
	if err := c.do(ctx, http.MethodPost, "/access-keys", body, &k); err != nil {
		return nil, fmt.Errorf("failed to create access key: %w", err)
	}

	// Older servers ignore the name on creation
	if name != "" && k.Name != name {
		if err := c.RenameKey(ctx, k.ID, name); err != nil {
			c.logger.Warn().Err(err).Str("key_id", k.ID).Msg("created key but could not apply name")
		} else {
			k.Name = name
		}
	}

	rk := k.toModel()
	return &rk, nil
}

// DeleteKey removes a key. A key that is already gone counts as deleted.
func (c *Client) DeleteKey(ctx context.Context, keyID string) error {
	err := c.do(ctx, http.MethodDelete, keyPath(keyID), nil, nil)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("failed to delete access key %s: %w", keyID, err)
	}
	return nil
}

// RenameKey changes the display name of a key
func (c *Client) RenameKey(ctx context.Context, keyID, name string) error {
	if err := c.do(ctx, http.MethodPut, keyPath(keyID)+"/name", nameRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("failed to rename access key %s: %w", keyID, err)
	}
	return nil
}

// SetTrafficCap sets the data limit of a key. Zero removes the limit.
// The change is not verified here, see VerifyTrafficCap.
func (c *Client) SetTrafficCap(ctx context.Context, keyID string, bytes int64) error {
	if bytes < 0 {
		return fmt.Errorf("negative traffic cap %d", bytes)
	}

	var err error
	if bytes == 0 {
		err = c.do(ctx, http.MethodDelete, keyPath(keyID)+"/data-limit", nil, nil)
	} else {
		err = c.do(ctx, http.MethodPut, keyPath(keyID)+"/data-limit", limitRequest{Limit: dataLimit{Bytes: bytes}}, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to set data limit of key %s: %w", keyID, err)
	}
	return nil
}

// VerifyTrafficCap re-reads the key and compares its effective cap.
// It returns a *VerificationError on mismatch or when the re-read fails.
func (c *Client) VerifyTrafficCap(ctx context.Context, keyID string, expected int64) error {
	k, err := c.GetKey(ctx, keyID)
	if err != nil {
		return &VerificationError{KeyID: keyID, Expected: expected, Cause: err}
	}
	if k.TrafficCap != expected {
		return &VerificationError{KeyID: keyID, Expected: expected, Actual: k.TrafficCap}
	}
	return nil
}

// GetUsage returns the transferred bytes of a key, trying the aggregate
// report, the legacy metrics report and finally the key itself.
// Missing data yields 0. An error is returned only when every source failed
// to reach the server.
func (c *Client) GetUsage(ctx context.Context, keyID string) (int64, error) {
	unreachable := 0

	for _, path := range []string{"/metrics/transfer", "/metrics"} {
		var m transferMetrics
		err := c.do(ctx, http.MethodGet, path, nil, &m)
		if err != nil {
			if errors.Is(err, ErrUpstreamUnavailable) {
				unreachable++
			}
			c.logger.Debug().Err(err).Str("path", path).Str("key_id", keyID).Msg("usage source failed")
			continue
		}
		if v, ok := m.BytesTransferredByUserID[keyID]; ok {
			return v, nil
		}
	}

	k, err := c.GetKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			unreachable++
		}
		c.logger.Debug().Err(err).Str("key_id", keyID).Msg("inline usage read failed")
	} else if k.UsageBytes != nil {
		return *k.UsageBytes, nil
	}

	if unreachable == 3 {
		return 0, fmt.Errorf("failed to read usage of key %s: %w", keyID, ErrUpstreamUnavailable)
	}
	return 0, nil
}

// ServerInfo returns the server description
func (c *Client) ServerInfo(ctx context.Context) (*models.ServerInfo, error) {
	var s serverInfo
	if err := c.do(ctx, http.MethodGet, "/server", nil, &s); err != nil {
		return nil, fmt.Errorf("failed to get server info: %w", err)
	}
	info := s.ServerInfo
	if s.AccessKeyDataLimit != nil {
		info.DefaultDataLimitBytes = s.AccessKeyDataLimit.Bytes
	}
	return &info, nil
}

// RenameServer changes the server display name
func (c *Client) RenameServer(ctx context.Context, name string) error {
	if err := c.do(ctx, http.MethodPut, "/name", nameRequest{Name: name}, nil); err != nil {
		return fmt.Errorf("failed to rename server: %w", err)
	}
	return nil
}

// ClearDefaultDataLimit removes the server-wide per-key data limit
func (c *Client) ClearDefaultDataLimit(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/server/access-key-data-limit", nil, nil); err != nil {
		return fmt.Errorf("failed to clear default data limit: %w", err)
	}
	return nil
}

func keyPath(keyID string) string {
	return "/access-keys/" + url.PathEscape(keyID)
}

// do performs a JSON request and decodes the response into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("outline request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return ErrKeyNotFound
		}
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUpstreamUnavailable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
