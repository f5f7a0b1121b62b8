// Package client is a small HTTP client for the mcpgate management API,
// used by the CLI and by embedding applications.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running mcpgate daemon.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey authenticates management calls.
	APIKey  string
	Timeout time.Duration
	// Insecure skips TLS verification; development only.
	Insecure bool
}

// New creates a management API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	transport := &http.Transport{}
	if config.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

// Health checks server liveness; no API key required.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var out []Service
	if err := c.doJSON(ctx, http.MethodGet, "/api/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateService(ctx context.Context, svc Service) (*Service, error) {
	var out Service
	if err := c.doJSON(ctx, http.MethodPost, "/api/services", svc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetService(ctx context.Context, id string) (*Service, error) {
	var out Service
	if err := c.doJSON(ctx, http.MethodGet, "/api/services/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateService(ctx context.Context, svc Service) (*Service, error) {
	var out Service
	if err := c.doJSON(ctx, http.MethodPut, "/api/services/"+url.PathEscape(svc.ID), svc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteService(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/services/"+url.PathEscape(id), nil, nil)
}

func (c *Client) StartService(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/services/"+url.PathEscape(id)+"/start", nil, nil)
}

func (c *Client) StopService(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/services/"+url.PathEscape(id)+"/stop", nil, nil)
}

func (c *Client) RestartService(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/services/"+url.PathEscape(id)+"/restart", nil, nil)
}

// Logs fetches up to limit recent output lines for a service.
func (c *Client) Logs(ctx context.Context, id string, limit int) ([]LogEntry, error) {
	path := "/api/services/" + url.PathEscape(id) + "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Lines []LogEntry `json:"lines"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

func (c *Client) ListKeys(ctx context.Context) ([]APIKey, error) {
	var out []APIKey
	if err := c.doJSON(ctx, http.MethodGet, "/api/keys", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateKey(ctx context.Context, name string) (*CreatedKey, error) {
	var out CreatedKey
	body := map[string]string{"name": name}
	if err := c.doJSON(ctx, http.MethodPost, "/api/keys", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RevokeKey(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/keys/"+url.PathEscape(id), nil, nil)
}

// Call forwards one raw JSON-RPC request body to a service proxy path and
// returns the raw response body.
func (c *Client) Call(ctx context.Context, proxyPath string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+proxyPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 && len(data) == 0 {
		return nil, fmt.Errorf("proxy call failed: status %d", resp.StatusCode)
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
