package main

import (
	"github.com/spf13/cobra"

	"qgate/internal/version"
)

var (
	// verbosity counts -v flags: 0 keeps logging.level, 1 info, 2+ debug
	verbosity int
	quiet     bool
	repoFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "qgate",
	Short: "qgate - code quality admission gate",
	Long: `qgate decides whether a change may be merged by comparing the quality of a
base and a head revision. A change is admitted only if overall quality does not
regress, no module falls below the policy floor and every hard constraint holds.
Rejections come with a ranked witness of the files most worth fixing.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("qgate version {{.Version}}\n")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all log output")
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository root (default: current directory)")
}
