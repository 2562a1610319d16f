package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "perch",
		Short: "perch — agent runtime orchestrator",
		Long:  "Drives ACP coding agents over HTTP, installs their binaries, and multiplexes PTY sessions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		serveCmd(),
		attachCmd(),
		agentsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
