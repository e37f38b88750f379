// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/serenorg/seren-replicator/cmd/flags"
)

// Version is the engine's version, set at build time via -ldflags.
var Version = "development"

func init() {
	viper.SetEnvPrefix("SEREN_REPLICATOR")
	viper.AutomaticEnv()

	flags.PersistentFlags(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "seren-replicator",
	Short:        "Replicate an in-scope slice of a source database into PostgreSQL",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command, registering every subcommand first.
func Execute() error {
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(verifyCmd())

	return rootCmd.Execute()
}
