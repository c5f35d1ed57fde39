package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"ibgate/internal/config"
	"ibgate/internal/container"
	"ibgate/internal/gateway"
	"ibgate/internal/health"
	"ibgate/internal/history"
	"ibgate/internal/ibc"
	"ibgate/internal/logger"
	"ibgate/internal/metrics"
	"ibgate/internal/runtime"
	"ibgate/internal/server"
	"ibgate/internal/session"
	"ibgate/internal/supervisor"
	"ibgate/internal/twsapi"
)

func newServeCmd() *cobra.Command {
	var f ServeFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway container, supervisor and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVar(&f.EnvFile, "env-file", "", "path to dotenv file with gateway credentials")
	return cmd
}

func runServe(f ServeFlags) error {
	if f.EnvFile != "" {
		if err := godotenv.Load(f.EnvFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		// default .env is optional
		_ = godotenv.Load()
	}

	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.Gateway.Username == "" || cfg.Gateway.Password == "" {
		return fmt.Errorf("gateway credentials missing: set IBGATE_GATEWAY_USERNAME and IBGATE_GATEWAY_PASSWORD")
	}

	log, closeLog := logger.Setup(cfg.Log)
	defer func() { _ = closeLog() }()
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.NewDocker(ctx)
	if err != nil {
		return fmt.Errorf("docker: %w", err)
	}
	defer func() { _ = rt.Close() }()

	mgr := container.NewManager(rt, runtime.Spec{
		Name:  cfg.Gateway.ContainerName,
		Image: cfg.Gateway.Image,
		Env:   cfg.Gateway.ContainerEnv(),
		Ports: cfg.Gateway.ContainerPorts(),
	}, cfg.Gateway.StopGrace)

	var sinks []history.Sink
	var store *history.SQLSink
	if cfg.History.DSN != "" {
		store, err = history.NewSQLSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, store)
	}
	recorder := history.NewRecorder(sinks...)
	defer recorder.Close()

	client := twsapi.New(log)
	sess := session.New(client, session.Endpoint{
		Host:     cfg.Gateway.Host,
		Port:     cfg.Gateway.APIPort,
		ClientID: cfg.Gateway.ClientID,
	})
	sup := supervisor.New(sess, mgr, recorder, supervisor.Config{
		ConnectTimeout:    cfg.Recovery.ConnectTimeout,
		WaitTimeout:       cfg.Recovery.WaitTimeout,
		ReconnectAttempts: cfg.Recovery.ReconnectAttempts,
		BackoffBase:       cfg.Recovery.BackoffBase,
		BackoffCap:        cfg.Recovery.BackoffCap,
		RestartAttempts:   cfg.Recovery.RestartAttempts,
	})

	var cal health.Calendar = health.AlwaysOpen{}
	if cfg.Health.MarketHoursOnly {
		hours, err := health.NYSEHours()
		if err != nil {
			return fmt.Errorf("market calendar: %w", err)
		}
		cal = hours
	}
	mon := health.NewMonitor(sup, cal, health.Config{
		Interval:           cfg.Health.Interval,
		StalenessThreshold: cfg.Health.StalenessThreshold,
		Debounce:           cfg.Health.Debounce,
		AlertRetryInterval: cfg.Health.AlertRetryInterval,
	})

	log.Info("bringing up gateway container",
		"name", cfg.Gateway.ContainerName,
		"image", cfg.Gateway.Image,
		"trading_mode", cfg.Gateway.TradingMode)
	if _, err := mgr.EnsureRunning(ctx); err != nil {
		return fmt.Errorf("container: %w", err)
	}
	if err := sup.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("gateway session: %w", err)
	}

	monCtx, stopMon := context.WithCancel(context.Background())
	go mon.Run(monCtx)

	svc := gateway.New(sup, log)
	var hs server.HistoryStore
	if store != nil {
		hs = store
	}
	router := server.NewRouter(sup, mgr, svc, hs, cfg.Server.BasePath).
		WithCommander(ibc.New(cfg.Gateway.Host, cfg.Gateway.IBCPort))
	srv := server.NewServer(cfg.Server.Listen, router)
	log.Info("api listening", "addr", cfg.Server.Listen)

	<-ctx.Done()
	log.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil && err != http.ErrServerClosed {
		log.Warn("http shutdown", "error", err)
	}
	stopMon()
	<-mon.Done()
	sup.Disconnect()
	// the container keeps running across supervisor restarts so the
	// gateway does not have to re-authenticate
	log.Info("shutdown complete", "container", cfg.Gateway.ContainerName)
	return nil
}
