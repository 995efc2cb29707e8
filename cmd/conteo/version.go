package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags
var (
	buildVersion = "0.4.0"
	buildCommit  = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the conteo version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conteo %s (%s)\n", buildVersion, buildCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
