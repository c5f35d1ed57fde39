package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ibgate/internal/config"
	"ibgate/internal/container"
	"ibgate/internal/runtime"
)

func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API base URL (default http://127.0.0.1:8000)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "API request timeout")
}

func dialDaemon(f ClientFlags) (*APIClient, error) {
	c := NewAPIClient(f.APIUrl, f.APITimeout)
	if !c.IsReachable() {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'ibgate serve'", c.baseURL)
	}
	return c, nil
}

func newStatusCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show container, session and monitor status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon(f)
			if err != nil {
				return err
			}
			st, err := c.GetStatus()
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newLogsCmd() *cobra.Command {
	var f LogsFlags
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent gateway container logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon(f.ClientFlags)
			if err != nil {
				return err
			}
			lines, err := c.GetLogs(f.Tail)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}
	addClientFlags(cmd, &f.ClientFlags)
	cmd.Flags().IntVar(&f.Tail, "tail", 100, "number of log lines")
	return cmd
}

func newReconnectCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Force a session reconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon(f)
			if err != nil {
				return err
			}
			if err := c.Reconnect(); err != nil {
				return err
			}
			fmt.Println("reconnected")
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

func newRestartCmd() *cobra.Command {
	var f ClientFlags
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the gateway container",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon(f)
			if err != nil {
				return err
			}
			if err := c.RestartContainer(); err != nil {
				return err
			}
			fmt.Println("restarted")
			return nil
		},
	}
	addClientFlags(cmd, &f)
	return cmd
}

// stop talks to Docker directly: the daemon deliberately leaves the
// container running on shutdown, so tearing it down is an explicit,
// local operation.
func newStopCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop and remove the gateway container",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := runtime.NewDocker(ctx)
			if err != nil {
				return fmt.Errorf("docker: %w", err)
			}
			defer func() { _ = rt.Close() }()
			mgr := container.NewManager(rt, runtime.Spec{
				Name:  cfg.Gateway.ContainerName,
				Image: cfg.Gateway.Image,
			}, cfg.Gateway.StopGrace)
			if err := mgr.Stop(ctx); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", cfg.Gateway.ContainerName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	return cmd
}
