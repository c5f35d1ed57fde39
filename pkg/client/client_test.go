package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/gateway/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(GatewayStatus{
			SessionState: "connected",
			Endpoint:     "127.0.0.1:8888",
		})
	})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, "connected", st.SessionState)
	require.Equal(t, "127.0.0.1:8888", st.Endpoint)
}

func TestLogs(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/gateway/logs", r.URL.Path)
		require.Equal(t, "25", r.URL.Query().Get("tail"))
		_ = json.NewEncoder(w).Encode(LogsResponse{Lines: []string{"a", "b"}})
	})

	lines, err := c.Logs(context.Background(), 25)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, lines)
}

func TestPlaceOrder(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/orders", r.URL.Path)
		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "BUY", req.Action)
		require.Equal(t, "AAPL", req.Contract.Symbol)
		_ = json.NewEncoder(w).Encode(OrderStatus{OrderID: 9, Status: "Submitted"})
	})

	st, err := c.PlaceOrder(context.Background(), OrderRequest{
		Contract: Contract{Symbol: "AAPL", SecType: "STK"},
		Action:   "BUY",
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), st.OrderID)
	require.Equal(t, "Submitted", st.Status)
}

func TestErrorResponse(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "gateway session not ready"})
	})

	_, err := c.Status(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "gateway session not ready")
}

func TestErrorWithoutBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Reconnect(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	require.Equal(t, "http://127.0.0.1:8000", c.baseURL)
	require.NotNil(t, c.client)
}
