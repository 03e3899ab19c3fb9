package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"memquery-agent/internal/agent/version"
	"memquery-agent/internal/config"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			info := version.Get(cfg, nil)
			fmt.Fprintf(cmd.OutOrStdout(), "memquery-agent %s (node %s, serve mode %s)\n", info.AgentVersion, info.NodeID, info.ServeMode)
			return nil
		},
	}
}
