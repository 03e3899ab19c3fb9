package main

import (
	"github.com/spf13/cobra"

	"memquery-agent/internal/agent"
	"memquery-agent/internal/config"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent and answer queries over the configured transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := agent.BuildLogger(cfg)
			a, err := agent.New(cfg, logger)
			if err != nil {
				logger.Error("agent initialization failed", "error", err)
				return err
			}

			if err := a.Run(cmd.Context()); err != nil {
				logger.Error("agent runtime failed", "error", err)
				return err
			}
			return nil
		},
	}
}
