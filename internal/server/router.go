// Package server exposes the supervisor and trading operations over
// HTTP. Handlers are thin: parse, call the service, write JSON.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ibgate/internal/container"
	"ibgate/internal/gateway"
	"ibgate/internal/history"
	"ibgate/internal/ibc"
	"ibgate/internal/metrics"
	"ibgate/internal/runtime"
	"ibgate/internal/supervisor"
	"ibgate/internal/twsapi"
)

// HistoryStore is the read side of the event history.
type HistoryStore interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// Router provides the HTTP surface of the gateway supervisor.
// Endpoints:
//
//	GET  {basePath}/gateway/status
//	GET  {basePath}/gateway/logs        query: tail=N
//	POST {basePath}/gateway/restart
//	POST {basePath}/gateway/command    body: {"command":"RESTART"}
//	GET  {basePath}/connection/status
//	POST {basePath}/connection/reconnect
//	GET  {basePath}/accounts
//	GET  {basePath}/account/summary     query: tags=...
//	GET  {basePath}/positions
//	GET  {basePath}/orders
//	POST {basePath}/orders
//	DELETE {basePath}/orders/:id
//	POST {basePath}/contracts/details
//	GET  {basePath}/contracts/:symbol/chains
//	POST {basePath}/contracts/:symbol/options-by-delta
//	POST {basePath}/marketdata/history
//	POST {basePath}/marketdata/snapshot
//	GET  {basePath}/scanner/params
//	POST {basePath}/scanner/run
//	GET  {basePath}/history             query: limit=N
//	GET  {basePath}/ws/status
//	GET  /metrics
//	GET  /healthz
type Router struct {
	sup        *supervisor.Supervisor
	containers *container.Manager
	svc        *gateway.Service
	store      HistoryStore
	commander  *ibc.Commander
	basePath   string
}

func NewRouter(sup *supervisor.Supervisor, containers *container.Manager, svc *gateway.Service, store HistoryStore, basePath string) *Router {
	return &Router{
		sup:        sup,
		containers: containers,
		svc:        svc,
		store:      store,
		basePath:   sanitizeBase(basePath),
	}
}

// WithCommander enables the controller command endpoint.
func (r *Router) WithCommander(c *ibc.Commander) *Router {
	r.commander = c
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID())

	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.GET("/healthz", r.handleHealthz)

	group := g.Group(r.basePath)
	group.GET("/gateway/status", r.handleGatewayStatus)
	group.GET("/gateway/logs", r.handleGatewayLogs)
	group.POST("/gateway/restart", r.handleGatewayRestart)
	group.POST("/gateway/command", r.handleGatewayCommand)
	group.GET("/connection/status", r.handleConnectionStatus)
	group.POST("/connection/reconnect", r.handleReconnect)
	group.GET("/accounts", r.handleAccounts)
	group.GET("/account/summary", r.handleAccountSummary)
	group.GET("/positions", r.handlePositions)
	group.GET("/orders", r.handleOpenOrders)
	group.POST("/orders", r.handlePlaceOrder)
	group.DELETE("/orders/:id", r.handleCancelOrder)
	group.POST("/contracts/details", r.handleContractDetails)
	group.GET("/contracts/:symbol/chains", r.handleOptionChains)
	group.POST("/contracts/:symbol/options-by-delta", r.handleOptionsByDelta)
	group.POST("/marketdata/history", r.handleHistoricalBars)
	group.POST("/marketdata/snapshot", r.handleSnapshot)
	group.GET("/scanner/params", r.handleScannerParams)
	group.POST("/scanner/run", r.handleScan)
	group.GET("/history", r.handleHistory)
	group.GET("/ws/status", r.handleStatusWS)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleGatewayStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleGatewayLogs(c *gin.Context) {
	tail := 100
	if s := c.Query("tail"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "tail must be a positive integer"})
			return
		}
		tail = n
	}
	lines, err := r.containers.Logs(c.Request.Context(), tail)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"lines": lines})
}

func (r *Router) handleGatewayRestart(c *gin.Context) {
	if err := r.containers.Restart(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleGatewayCommand forwards a command to the controller inside the
// container, e.g. RESTART to cycle the gateway without touching the
// container itself.
func (r *Router) handleGatewayCommand(c *gin.Context) {
	if r.commander == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "controller command channel is not enabled"})
		return
	}
	var req struct {
		Command string `json:"command"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command is required"})
		return
	}
	switch req.Command {
	case ibc.CommandRestart, ibc.CommandStop, ibc.CommandEnableAPI:
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown command " + req.Command})
		return
	}
	reply, err := r.commander.Send(c.Request.Context(), req.Command)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"reply": reply})
}

func (r *Router) handleConnectionStatus(c *gin.Context) {
	st := r.sup.Status(c.Request.Context())
	writeJSON(c, http.StatusOK, gin.H{
		"state":       st.SessionState,
		"endpoint":    st.Endpoint,
		"alert":       st.Alert,
		"alert_since": st.AlertSince,
		"monitor":     st.Monitor,
		"last_sample": st.LastSample,
	})
}

func (r *Router) handleReconnect(c *gin.Context) {
	if err := r.sup.Reconnect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleAccounts(c *gin.Context) {
	accounts, err := r.svc.Accounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"accounts": accounts})
}

func (r *Router) handleAccountSummary(c *gin.Context) {
	values, err := r.svc.AccountSummary(c.Request.Context(), c.Query("tags"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, values)
}

func (r *Router) handlePositions(c *gin.Context) {
	positions, err := r.svc.Positions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, positions)
}

func (r *Router) handleOpenOrders(c *gin.Context) {
	orders, err := r.svc.OpenOrders(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orders)
}

func (r *Router) handlePlaceOrder(c *gin.Context) {
	var req gateway.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	st, err := r.svc.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "order id must be an integer"})
		return
	}
	if err := r.svc.CancelOrder(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleContractDetails(c *gin.Context) {
	var contract twsapi.Contract
	if err := c.ShouldBindJSON(&contract); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	details, err := r.svc.ContractDetails(c.Request.Context(), contract)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, details)
}

func (r *Router) handleOptionChains(c *gin.Context) {
	chains, err := r.svc.OptionChains(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, chains)
}

func (r *Router) handleOptionsByDelta(c *gin.Context) {
	var f gateway.ChainFilter
	if err := c.ShouldBindJSON(&f); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	opts, err := r.svc.OptionsByDelta(c.Request.Context(), c.Param("symbol"), f)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, opts)
}

func (r *Router) handleHistoricalBars(c *gin.Context) {
	var hr twsapi.HistoricalRequest
	if err := c.ShouldBindJSON(&hr); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	bars, err := r.svc.HistoricalBars(c.Request.Context(), hr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, bars)
}

func (r *Router) handleSnapshot(c *gin.Context) {
	var contract twsapi.Contract
	if err := c.ShouldBindJSON(&contract); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	tick, err := r.svc.Snapshot(c.Request.Context(), contract)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tick)
}

func (r *Router) handleScannerParams(c *gin.Context) {
	xml, err := r.svc.ScannerParameters(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(xml))
}

func (r *Router) handleScan(c *gin.Context) {
	var sub twsapi.ScannerSubscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rows, err := r.svc.Scan(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rows)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.store == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.store.Recent(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

// writeError maps the supervisor's error taxonomy onto status codes.
// Not-ready conditions are retryable and answer 503; unknown container
// names answer 404; a daemon outage answers 502.
func writeError(c *gin.Context, err error) {
	var notReady *supervisor.NotReadyError
	switch {
	case errors.As(err, &notReady):
		c.Header("Retry-After", "5")
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case runtime.IsNotFound(err):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case runtime.IsUnavailable(err):
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}
