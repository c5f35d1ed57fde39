package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// APIClient talks to a running ibgate daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// IsReachable checks that the daemon answers at all.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func (c *APIClient) post(path string, out any) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("API error: status %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetStatus fetches the combined supervisor status.
func (c *APIClient) GetStatus() (any, error) {
	var out any
	if err := c.get("/gateway/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetLogs fetches the last tail lines of container output.
func (c *APIClient) GetLogs(tail int) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	if err := c.get(fmt.Sprintf("/gateway/logs?tail=%d", tail), &out); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// Reconnect triggers a manual session reconnect.
func (c *APIClient) Reconnect() error {
	return c.post("/connection/reconnect", nil)
}

// RestartContainer restarts the gateway container.
func (c *APIClient) RestartContainer() error {
	return c.post("/gateway/restart", nil)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
