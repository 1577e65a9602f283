package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"qgate/internal/errors"
	"qgate/internal/policy"
	"qgate/internal/stratify"
)

var guardMaxLevel int

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Check stratification level transitions",
}

var guardCheckCmd = &cobra.Command{
	Use:   "check <current> <target>",
	Short: "Report whether analysis may move from one level to another",
	Long: `Check whether self-analysis may move from the current stratification level
to the target level. Only a move to the next level up is allowed, and never past
the maximum level. Exit code 2 marks a refused transition.

Examples:
  qgate guard check 0 1
  qgate guard check 1 2 --max-level 2`,
	Args: cobra.ExactArgs(2),
	Run:  runGuardCheck,
}

func init() {
	guardCheckCmd.Flags().IntVar(&guardMaxLevel, "max-level", policy.Default().MaxStratificationLevel, "Highest permitted level")
	guardCmd.AddCommand(guardCheckCmd)
	rootCmd.AddCommand(guardCmd)
}

func runGuardCheck(cmd *cobra.Command, args []string) {
	current, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid current level %q\n", args[0])
		os.Exit(2)
	}
	target, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid target level %q\n", args[1])
		os.Exit(2)
	}

	if err := stratify.NewGuard(guardMaxLevel).CheckTransition(current, target); err != nil {
		fmt.Fprintf(os.Stderr, "Refused: %v\n", err)
		os.Exit(errors.Classify(false, err).ExitCode())
	}
	fmt.Printf("Allowed: level %d -> %d\n", current, target)
}
