// Package config loads the TOML configuration file and environment
// overrides for the gateway service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ibgate/internal/logger"
)

// Server configures the HTTP API.
type Server struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// Gateway describes the supervised container and its API endpoint.
// Username and Password come from the environment (IBGATE_GATEWAY_USERNAME
// / IBGATE_GATEWAY_PASSWORD, or a dotenv file), never from the TOML file.
type Gateway struct {
	Image         string        `mapstructure:"image"`
	ContainerName string        `mapstructure:"container_name"`
	Host          string        `mapstructure:"host"`
	APIPort       int           `mapstructure:"api_port"`
	VNCPort       int           `mapstructure:"vnc_port"`
	IBCPort       int           `mapstructure:"ibc_port"`
	TradingMode   string        `mapstructure:"trading_mode"` // paper or live
	ClientID      int           `mapstructure:"client_id"`
	Username      string        `mapstructure:"-"`
	Password      string        `mapstructure:"-"`
	StopGrace     time.Duration `mapstructure:"stop_grace"`
}

// Health configures the monitor loop.
type Health struct {
	Interval           time.Duration `mapstructure:"interval"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	Debounce           int           `mapstructure:"debounce"`
	AlertRetryInterval time.Duration `mapstructure:"alert_retry_interval"`
	MarketHoursOnly    bool          `mapstructure:"market_hours_only"`
}

// Recovery configures the supervisor's escalation ladder.
type Recovery struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	WaitTimeout       time.Duration `mapstructure:"wait_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	RestartAttempts   int           `mapstructure:"restart_attempts"`
}

// History configures the event history sink.
type History struct {
	DSN string `mapstructure:"dsn"` // sqlite path or postgres:// URL; empty disables
}

// Config is the top-level file structure.
type Config struct {
	Server   Server        `mapstructure:"server"`
	Gateway  Gateway       `mapstructure:"gateway"`
	Health   Health        `mapstructure:"health"`
	Recovery Recovery      `mapstructure:"recovery"`
	History  History       `mapstructure:"history"`
	Log      logger.Config `mapstructure:"log"`
}

// Load reads TOML from path (optional) with IBGATE_* environment
// overrides and spec defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ibgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.Gateway.Username = v.GetString("gateway.username")
	c.Gateway.Password = v.GetString("gateway.password")
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Gateway.TradingMode != "paper" && c.Gateway.TradingMode != "live" {
		return fmt.Errorf("gateway.trading_mode must be paper or live, got %q", c.Gateway.TradingMode)
	}
	if c.Health.Debounce < 1 {
		return fmt.Errorf("health.debounce must be >= 1, got %d", c.Health.Debounce)
	}
	if c.Recovery.ReconnectAttempts < 1 {
		return fmt.Errorf("recovery.reconnect_attempts must be >= 1, got %d", c.Recovery.ReconnectAttempts)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8000")
	v.SetDefault("server.base_path", "")

	v.SetDefault("gateway.image", "ghcr.io/extrange/ibkr:stable")
	v.SetDefault("gateway.container_name", "ibkr-gateway")
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.api_port", 8888)
	v.SetDefault("gateway.vnc_port", 6080)
	v.SetDefault("gateway.ibc_port", 7462)
	v.SetDefault("gateway.trading_mode", "paper")
	v.SetDefault("gateway.client_id", 1)
	v.SetDefault("gateway.stop_grace", "30s")

	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.staleness_threshold", "60s")
	v.SetDefault("health.debounce", 2)
	v.SetDefault("health.alert_retry_interval", "5m")
	v.SetDefault("health.market_hours_only", false)

	v.SetDefault("recovery.connect_timeout", "20s")
	v.SetDefault("recovery.wait_timeout", "5s")
	v.SetDefault("recovery.reconnect_attempts", 3)
	v.SetDefault("recovery.backoff_base", "1s")
	v.SetDefault("recovery.backoff_cap", "30s")
	v.SetDefault("recovery.restart_attempts", 2)

	v.SetDefault("history.dsn", "")
	v.SetDefault("log.level", "info")
}

// ContainerEnv renders the environment for the gateway container: IBC
// settings plus credentials and trading mode.
func (g Gateway) ContainerEnv() []string {
	return []string{
		"USERNAME=" + g.Username,
		"PASSWORD=" + g.Password,
		"TWOFA_TIMEOUT_ACTION=restart",
		"GATEWAY_OR_TWS=gateway",
		"IBC_TradingMode=" + g.TradingMode,
		"IBC_ReadOnlyApi=no",
		"IBC_ReloginAfterSecondFactorAuthenticationTimeout=yes",
		"IBC_AutoRestartTime=08:35 AM",
		fmt.Sprintf("IBC_CommandServerPort=%d", g.IBCPort),
		"IBC_ControlFrom=127.0.0.1",
		"IBC_BindAddress=127.0.0.1",
		"IBC_AcceptIncomingConnectionAction=accept",
		"IBC_AcceptNonBrokerageAccountWarning=yes",
	}
}

// ContainerPorts maps container ports to identical host ports.
func (g Gateway) ContainerPorts() map[int]int {
	return map[int]int{
		g.APIPort: g.APIPort,
		g.VNCPort: g.VNCPort,
		g.IBCPort: g.IBCPort,
	}
}
