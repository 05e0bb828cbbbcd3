package main

import (
	"os"

	"github.com/princinho/racebackend/logger"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "racebackend",
		Short:        "Race checkpoint proof and results server",
		SilenceUsage: true,
	}
	serveCmd := newServeCommand()
	root.AddCommand(serveCmd, newMigrateCommand())
	root.RunE = serveCmd.RunE

	if err := root.Execute(); err != nil {
		logger.Default().WithError(err).Error("command failed")
		os.Exit(1)
	}
}
