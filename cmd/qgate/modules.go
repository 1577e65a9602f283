package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"qgate/internal/modules"
	"qgate/internal/output"
)

var (
	modulesForce  bool
	modulesFormat string
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage declared module partitions (MODULES.toml)",
}

var modulesInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example MODULES.toml",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := modules.DeclarationFile
		if len(args) > 0 {
			path = args[0]
		}
		if err := modules.WriteManifest(path, modules.ExampleManifest(), modulesForce); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote example module declarations to %s\n", path)
	},
}

var modulesShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the module rules a declared partition would use",
	Long: `Print the ordered module rules read from a declarations file (default:
MODULES.toml at the repository root). The first rule matching a file owns it.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		format, err := output.ParseFormat(modulesFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		file := ""
		if len(args) > 0 {
			file = args[0]
		}
		rules, err := modules.LoadDeclarations(mustGetRepoRoot(), file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid declarations: %v\n", err)
			os.Exit(2)
		}
		if format == output.FormatHuman {
			for i, r := range rules {
				fmt.Printf("%2d. %-20s %s\n", i+1, r.Name, strings.Join(r.Paths, ", "))
			}
			return
		}
		if err := writeReport(os.Stdout, rules, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	modulesInitCmd.Flags().BoolVar(&modulesForce, "force", false, "Overwrite an existing file")
	modulesShowCmd.Flags().StringVar(&modulesFormat, "format", "human", "Output format (human, json, yaml)")
	modulesCmd.AddCommand(modulesInitCmd, modulesShowCmd)
	rootCmd.AddCommand(modulesCmd)
}
