package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "mindsync",
		Short:         "Real-time collaboration for mind maps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace|debug|info|warn|error")

	root.AddCommand(newServeCmd(&logLevel))
	root.AddCommand(newWatchCmd(&logLevel))
	return root
}
