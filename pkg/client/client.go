// Package client is a typed HTTP client for the ibgate daemon API,
// for programs that drive the gateway remotely.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running ibgate daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 15 * time.Second,
	}
}

// New creates an ibgate API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8000"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, er.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches the combined container, session and monitor status.
func (c *Client) Status(ctx context.Context) (GatewayStatus, error) {
	var out GatewayStatus
	err := c.do(ctx, http.MethodGet, "/gateway/status", nil, &out)
	return out, err
}

// Logs fetches the last tail lines of gateway container output.
func (c *Client) Logs(ctx context.Context, tail int) ([]string, error) {
	var out LogsResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/gateway/logs?tail=%d", tail), nil, &out)
	return out.Lines, err
}

// RestartContainer restarts the gateway container.
func (c *Client) RestartContainer(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/gateway/restart", nil, nil)
}

// Reconnect forces a session recovery episode.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/connection/reconnect", nil, nil)
}

// Accounts lists managed account ids.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var out AccountsResponse
	err := c.do(ctx, http.MethodGet, "/accounts", nil, &out)
	return out.Accounts, err
}

// AccountSummary fetches account summary lines. tags may be empty.
func (c *Client) AccountSummary(ctx context.Context, tags string) ([]AccountValue, error) {
	path := "/account/summary"
	if tags != "" {
		path += "?tags=" + url.QueryEscape(tags)
	}
	var out []AccountValue
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Positions fetches all open positions.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var out []Position
	err := c.do(ctx, http.MethodGet, "/positions", nil, &out)
	return out, err
}

// PlaceOrder transmits an order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderStatus, error) {
	var out OrderStatus
	err := c.do(ctx, http.MethodPost, "/orders", req, &out)
	return out, err
}

// CancelOrder cancels a working order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/orders/%d", orderID), nil, nil)
}

// OpenOrders lists working orders.
func (c *Client) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var out []OpenOrder
	err := c.do(ctx, http.MethodGet, "/orders", nil, &out)
	return out, err
}

// Snapshot fetches a one-shot market data snapshot.
func (c *Client) Snapshot(ctx context.Context, contract Contract) (Tick, error) {
	var out Tick
	err := c.do(ctx, http.MethodPost, "/marketdata/snapshot", contract, &out)
	return out, err
}

// HistoricalBars fetches completed bars for a contract.
func (c *Client) HistoricalBars(ctx context.Context, req HistoricalRequest) ([]Bar, error) {
	var out []Bar
	err := c.do(ctx, http.MethodPost, "/marketdata/history", req, &out)
	return out, err
}

// History fetches recent supervisor events, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	var out []HistoryEvent
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/history?limit=%d", limit), nil, &out)
	return out, err
}
