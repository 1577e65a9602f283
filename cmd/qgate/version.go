package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"qgate/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version, commit and build date",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
		fmt.Printf("Engine (cache key): %s\n", version.EngineVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
