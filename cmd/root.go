package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gokernel",
	Short: "A Jupyter kernel for shell cells with magics",
	Long: `gokernel speaks the Jupyter messaging protocol over ZeroMQ, runs cells through a
configurable interpreter and expands line and cell magics before evaluation.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
