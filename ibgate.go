package ibgate

import (
	"context"
	"log/slog"

	icfg "ibgate/internal/config"
	"ibgate/internal/container"
	"ibgate/internal/gateway"
	"ibgate/internal/health"
	"ibgate/internal/history"
	"ibgate/internal/runtime"
	"ibgate/internal/server"
	"ibgate/internal/session"
	"ibgate/internal/supervisor"
	"ibgate/internal/twsapi"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = icfg.Config

type Status = supervisor.Status

type SessionState = session.State

type Contract = twsapi.Contract

type Order = twsapi.Order

type Position = twsapi.Position

type Bar = twsapi.Bar

type HistoryEvent = history.Event

type HistorySink = history.Sink

// LoadConfig reads the TOML configuration with environment overrides.
func LoadConfig(path string) (*Config, error) { return icfg.Load(path) }

// Gateway is a thin facade over the supervisor and trading services for
// embedding the gateway in another process.
type Gateway struct {
	mgr *container.Manager
	sup *supervisor.Supervisor
	svc *gateway.Service
	rt  *runtime.DockerRuntime
}

// New wires a gateway from configuration. The caller owns startup
// ordering: EnsureRunning, then EnsureConnected.
func New(ctx context.Context, cfg *Config, log *slog.Logger, sinks ...HistorySink) (*Gateway, error) {
	rt, err := runtime.NewDocker(ctx)
	if err != nil {
		return nil, err
	}
	mgr := container.NewManager(rt, runtime.Spec{
		Name:  cfg.Gateway.ContainerName,
		Image: cfg.Gateway.Image,
		Env:   cfg.Gateway.ContainerEnv(),
		Ports: cfg.Gateway.ContainerPorts(),
	}, cfg.Gateway.StopGrace)

	client := twsapi.New(log)
	sess := session.New(client, session.Endpoint{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.APIPort,
		ClientID: cfg.Gateway.ClientID,
	})
	sup := supervisor.New(sess, mgr, history.NewRecorder(sinks...), supervisor.Config{
		ConnectTimeout:    cfg.Recovery.ConnectTimeout,
		WaitTimeout:       cfg.Recovery.WaitTimeout,
		ReconnectAttempts: cfg.Recovery.ReconnectAttempts,
		BackoffBase:       cfg.Recovery.BackoffBase,
		BackoffCap:        cfg.Recovery.BackoffCap,
		RestartAttempts:   cfg.Recovery.RestartAttempts,
	})
	return &Gateway{
		mgr: mgr,
		sup: sup,
		svc: gateway.New(sup, log),
		rt:  rt,
	}, nil
}

// EnsureRunning brings the gateway container up.
func (g *Gateway) EnsureRunning(ctx context.Context) error {
	_, err := g.mgr.EnsureRunning(ctx)
	return err
}

// EnsureConnected connects the API session, retrying until ctx expires.
func (g *Gateway) EnsureConnected(ctx context.Context) error {
	return g.sup.EnsureConnected(ctx)
}

// NewMonitor builds the health monitor for this gateway. Run it in its
// own goroutine; cancel its context to stop it.
func (g *Gateway) NewMonitor(cfg health.Config, cal health.Calendar) *health.Monitor {
	if cal == nil {
		cal = health.AlwaysOpen{}
	}
	return health.NewMonitor(g.sup, cal, cfg)
}

// Handler returns the HTTP API for mounting in a server.
func (g *Gateway) Handler(basePath string, store server.HistoryStore) *server.Router {
	return server.NewRouter(g.sup, g.mgr, g.svc, store, basePath)
}

// Status reports container, session and monitor state.
func (g *Gateway) Status(ctx context.Context) Status { return g.sup.Status(ctx) }

// Reconnect forces a recovery episode, or joins the one in flight.
func (g *Gateway) Reconnect(ctx context.Context) error { return g.sup.Reconnect(ctx) }

// RestartContainer restarts the gateway container.
func (g *Gateway) RestartContainer(ctx context.Context) error { return g.mgr.Restart(ctx) }

// Logs returns the last tail lines of container output.
func (g *Gateway) Logs(ctx context.Context, tail int) ([]string, error) {
	return g.mgr.Logs(ctx, tail)
}

// Trading exposes the trading operations service.
func (g *Gateway) Trading() *gateway.Service { return g.svc }

// Close disconnects the session and releases the Docker client. The
// container keeps running unless StopContainer was called first.
func (g *Gateway) Close() error {
	g.sup.Disconnect()
	return g.rt.Close()
}

// StopContainer stops and removes the gateway container.
func (g *Gateway) StopContainer(ctx context.Context) error { return g.mgr.Stop(ctx) }

// DefaultHealthConfig mirrors the serve command's monitor settings.
func DefaultHealthConfig(cfg *Config) health.Config {
	return health.Config{
		Interval:           cfg.Health.Interval,
		StalenessThreshold: cfg.Health.StalenessThreshold,
		Debounce:           cfg.Health.Debounce,
		AlertRetryInterval: cfg.Health.AlertRetryInterval,
	}
}
