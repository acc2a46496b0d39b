// Command libraryctl performs maintenance tasks against the library database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Library service administration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (defaults to CONFIG_PATH, then services/library/config.yaml)")

	root.AddCommand(
		newMigrateCmd(&configPath),
		newCreateAdminCmd(&configPath),
		newOverdueCmd(&configPath),
		newSeedCmd(&configPath),
		newEventsCmd(&configPath),
	)
	return root
}
