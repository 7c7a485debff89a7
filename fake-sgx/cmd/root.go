// Package cmd implements the commands for the fake-sgx executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	cmdCommon "github.com/ahawad/asylo/fake-sgx/cmd/common"
	"github.com/ahawad/asylo/fake-sgx/cmd/identity"
	"github.com/ahawad/asylo/fake-sgx/cmd/key"
	"github.com/ahawad/asylo/fake-sgx/cmd/report"
	"github.com/ahawad/asylo/fake-sgx/cmd/seal"
)

var rootCmd = &cobra.Command{
	Use:   "fake-sgx",
	Short: "Software emulated SGX hardware",
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := cmdCommon.DumpMetrics(os.Stderr); err != nil {
			cmdCommon.Logger().Error("failed to dump metrics", "err", err)
		}
	},
}

// RootCommand returns the root (top level) cobra.Command.
func RootCommand() *cobra.Command {
	return rootCmd
}

// Execute spawns the main entry point after handling the config file
// and command line arguments.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(cmdCommon.InitConfig)

	rootCmd.PersistentFlags().AddFlagSet(cmdCommon.RootFlags)

	// Register all of the sub-commands.
	for _, v := range []func(*cobra.Command){
		identity.Register,
		key.Register,
		report.Register,
		seal.Register,
	} {
		v(rootCmd)
	}
}
