package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"qgate/internal/config"
	"qgate/internal/output"
	"qgate/internal/policy"
)

var (
	policyForce  bool
	policyFormat string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Create, validate and inspect admission policies",
}

var policyInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default policy as TOML",
	Long: `Write the built-in default policy to a TOML file (default: policy.toml)
as a starting point for a repository policy.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPolicyInit,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a policy file",
	Long: `Validate a policy file (JSON, YAML or TOML) and print its digest. Without a
path the configured policy is validated. Exit code 2 marks an invalid policy.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runPolicyValidate,
}

var policyShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "Print the effective policy after defaults are applied",
	Args:  cobra.MaximumNArgs(1),
	Run:   runPolicyShow,
}

func init() {
	policyInitCmd.Flags().BoolVar(&policyForce, "force", false, "Overwrite an existing file")
	policyShowCmd.Flags().StringVar(&policyFormat, "format", "json", "Output format (json, yaml)")
	policyCmd.AddCommand(policyInitCmd, policyValidateCmd, policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyInit(cmd *cobra.Command, args []string) {
	path := "policy.toml"
	if len(args) > 0 {
		path = args[0]
	}
	if err := writeDefaultPolicy(path, policyForce); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote default policy to %s\n", path)
}

// writeDefaultPolicy encodes the default policy spec as TOML.
func writeDefaultPolicy(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create policy file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(policy.DefaultSpec()); err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	return nil
}

// policyFromArgs loads the policy named by args, else the configured one.
func policyFromArgs(args []string) (*policy.Policy, error) {
	root := mustGetRepoRoot()
	if len(args) > 0 {
		return config.LoadPolicy(args[0])
	}
	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, err
	}
	return loadPolicy(root, cfg, "")
}

func runPolicyValidate(cmd *cobra.Command, args []string) {
	pol, err := policyFromArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		os.Exit(2)
	}
	fmt.Printf("Policy is valid (digest %s)\n", pol.Digest())
}

func runPolicyShow(cmd *cobra.Command, args []string) {
	format, err := output.ParseFormat(policyFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	pol, err := policyFromArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		os.Exit(2)
	}
	if err := writeReport(os.Stdout, pol, format); err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
}
