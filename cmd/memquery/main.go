package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "memquery",
		Short:        "Report allocatable memory, free swap, and free huge pages on a Linux host",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newQueryCommand(),
		newServeCommand(),
		newVersionCommand(),
	)
	return cmd
}
