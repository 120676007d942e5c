package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mailcore",
		Short:         "Mail sync core with a stdio tool server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newSyncCommand(&configPath),
		newFoldersCommand(&configPath),
		newAuthCommand(&configPath),
	)
	return root
}
