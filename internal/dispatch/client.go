package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"beacon/internal/proto"
)

// Error is a structured dispatch failure reported by the broker.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dispatch failed: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("dispatch failed: %s", e.Code)
}

// Client calls the broker's command-dispatch API over HTTP. It is what the
// user-facing API and the fulfillment service embed to reach devices.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithToken attaches a bearer token (issued by the external auth service) to
// every request.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient substitutes the HTTP client, e.g. to change the timeout.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a dispatch client for a broker at baseURL
// (e.g. "http://localhost:8080").
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Execute invokes one command on a connected device and returns its answer.
// Dispatch failures come back as *Error with the broker's error code.
func (c *Client) Execute(ctx context.Context, deviceID proto.DeviceID, command string, params any) (*ExecuteResponse, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		rawParams = encoded
	}

	request := ExecuteRequest{
		DeviceID: deviceID,
		Command:  command,
		Params:   rawParams,
	}

	var response ExecuteResponse
	if err := c.post(ctx, "/api/v1/execute", request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Status fetches the broker status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.get(ctx, "/api/v1/broker/status", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Health fetches the broker health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var response HealthResponse
	if err := c.get(ctx, "/api/v1/health", &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		return &Error{Code: errResp.Error, Message: errResp.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
