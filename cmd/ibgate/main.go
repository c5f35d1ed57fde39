package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "ibgate",
		Short:         "Trading gateway supervisor",
		Long:          "ibgate runs the IBKR gateway container, supervises its API session and exposes trading operations over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newReconnectCmd(),
		newRestartCmd(),
		newStopCmd(),
	)
	return root
}
