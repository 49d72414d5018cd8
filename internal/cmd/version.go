package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shepherd version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("shepherd %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
