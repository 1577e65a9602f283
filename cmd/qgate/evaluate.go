package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"qgate/internal/backends/git"
	"qgate/internal/config"
	"qgate/internal/engine"
	"qgate/internal/errors"
	"qgate/internal/incremental"
	"qgate/internal/output"
	"qgate/internal/policy"
	"qgate/internal/signals"
	"qgate/internal/stratify"
)

// evaluateOptions are the evaluate command flags.
type evaluateOptions struct {
	base   string
	head   string
	policy string
	format string
	self   bool
	meta   bool
	asOf   string
}

var evalOpts evaluateOptions

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Decide whether the head revision may be admitted",
	Long: `Evaluate compares the quality of a base and a head revision under the policy
and prints the admission decision.

Exit codes:
  0  admitted
  1  rejected (the report lists the violations and a witness)
  2  misconfigured (invalid policy or configuration, unsafe self-analysis)
  3  incomplete (provider failures, too many degraded files, cancelled)

Examples:
  qgate evaluate --base origin/main
  qgate evaluate --base v1.4.0 --head HEAD --policy policy.toml
  qgate evaluate --base HEAD~1 --format human
  qgate evaluate --base HEAD~1 --self --meta`,
	Run: runEvaluate,
}

func init() {
	evaluateCmd.Flags().StringVar(&evalOpts.base, "base", "", "Base revision (required)")
	evaluateCmd.Flags().StringVar(&evalOpts.head, "head", "HEAD", "Head revision")
	evaluateCmd.Flags().StringVar(&evalOpts.policy, "policy", "", "Policy file (default: policy.path from config, else built-in policy)")
	evaluateCmd.Flags().StringVar(&evalOpts.format, "format", "json", "Output format (json, yaml, human)")
	evaluateCmd.Flags().BoolVar(&evalOpts.self, "self", false, "Analyse the engine's own source at stratification level 1")
	evaluateCmd.Flags().BoolVar(&evalOpts.meta, "meta", false, "After a level-1 run, re-check the decision from a cold cache at level 2")
	evaluateCmd.Flags().StringVar(&evalOpts.asOf, "as-of", "", "Judge exemption expiry at this time (RFC 3339 or YYYY-MM-DD)")
	_ = evaluateCmd.MarkFlagRequired("base")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) {
	ctx, cancel := newContext()
	code := evaluate(ctx, mustGetRepoRoot(), evalOpts, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// evaluate runs one admission check and returns the process exit code.
func evaluate(ctx context.Context, root string, opts evaluateOptions, stdout, stderr io.Writer) int {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return reportError(stdout, stderr, output.FormatHuman, errors.New(errors.ConfigurationError, err.Error(), nil))
	}
	asOf, err := parseAsOf(opts.asOf)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}

	sess, err := openSession(root, stderr)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}
	defer sess.Close()
	defer sess.writeMetrics()

	pol, err := loadPolicy(root, sess.cfg, opts.policy)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}

	repo, err := git.Open(ctx, root, git.DefaultQueryTimeout, sess.logger)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}
	base, err := resolveRevision(ctx, repo, opts.base)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}
	head, err := resolveRevision(ctx, repo, opts.head)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}

	provider, err := newProvider(root, sess.cfg, repo)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}

	eng := engine.New(engine.Options{
		Root:     root,
		Repo:     repo,
		Provider: provider,
		Cache:    sess.cache(),
		Analysis: analysisConfig(sess.cfg),
		MaxLevel: pol.MaxStratificationLevel,
		Logger:   sess.logger,
		Metrics:  sess.metrics,
	})

	req := engine.Request{BaseRev: base, HeadRev: head, Policy: pol, AsOf: asOf}
	if opts.self || opts.meta {
		req.Level = 1
	}
	rep, err := eng.Evaluate(ctx, req)
	if err != nil {
		return reportError(stdout, stderr, format, err)
	}

	if opts.meta {
		meta, err := eng.MetaCheck(ctx, req, rep)
		if err != nil {
			return reportError(stdout, stderr, format, err)
		}
		rep.Meta = meta
		if !meta.Reproduced {
			if werr := writeReport(stdout, rep, format); werr != nil {
				fmt.Fprintf(stderr, "Error formatting output: %v\n", werr)
			}
			return reportError(nil, stderr, output.FormatHuman, errors.New(errors.AnalysisUnreliable,
				"the level-1 decision did not reproduce from a cold cache", nil))
		}
	}

	if err := writeReport(stdout, rep, format); err != nil {
		fmt.Fprintf(stderr, "Error formatting output: %v\n", err)
		return errors.OutcomeIncomplete.ExitCode()
	}
	return errors.Classify(rep.Decision.Passed, nil).ExitCode()
}

// resolveRevision pins rev to a commit hash. A revision git cannot resolve
// is a usage error, not a provider failure.
func resolveRevision(ctx context.Context, repo *git.Repository, rev string) (string, error) {
	hash, err := repo.ResolveRevision(ctx, rev)
	if err != nil && ctx.Err() == nil && errors.IsCode(err, errors.ProviderError) {
		return "", errors.New(errors.ConfigurationError, fmt.Sprintf("unknown revision %q", rev), err)
	}
	return hash, err
}

// loadPolicy resolves the policy path (flag, then config) against root.
func loadPolicy(root string, cfg *config.Config, flagPath string) (*policy.Policy, error) {
	path := flagPath
	if path == "" {
		path = cfg.Policy.Path
	}
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return config.LoadPolicy(path)
}

// newProvider builds the reference metric provider, loading the coverage
// profile when one is configured.
func newProvider(root string, cfg *config.Config, history signals.History) (*signals.Provider, error) {
	opts := signals.OptionsFromConfig(cfg.Signals)
	if p := cfg.Signals.CoverageProfile; p != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		mod, err := stratify.ModulePath(root)
		if err != nil {
			return nil, errors.New(errors.ConfigurationError, "cannot read target go.mod", err)
		}
		profile, err := signals.LoadCoverageProfile(p, mod)
		if err != nil {
			return nil, errors.New(errors.ConfigurationError, fmt.Sprintf("cannot load coverage profile %s", p), err)
		}
		opts.Coverage = profile
	}
	return signals.New(opts, history), nil
}

func analysisConfig(cfg *config.Config) incremental.Config {
	return incremental.Config{
		Workers:              cfg.Analysis.Workers,
		IncrementalThreshold: cfg.Analysis.IncrementalThreshold,
		ProviderTimeout:      time.Duration(cfg.Analysis.ProviderTimeoutMs) * time.Millisecond,
	}
}

// parseAsOf accepts RFC 3339 timestamps and plain dates (UTC midnight).
// Empty means now.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, errors.Newf(errors.ConfigurationError, "invalid --as-of %q: want RFC 3339 or YYYY-MM-DD", s)
}

// errorResponse is the machine-readable form of a failed evaluation.
type errorResponse struct {
	Outcome errors.Outcome    `json:"outcome"`
	Error   *errors.GateError `json:"error"`
}

// reportError prints err and returns the exit code of its outcome. Machine
// formats also get the error on stdout so CI can parse a single stream.
func reportError(stdout, stderr io.Writer, format output.Format, err error) int {
	outcome := errors.Classify(false, err)

	var gerr *errors.GateError
	if !stderrors.As(err, &gerr) {
		gerr = errors.New(errors.InternalError, err.Error(), err)
	}

	if stdout != nil && format != output.FormatHuman {
		resp := errorResponse{Outcome: outcome, Error: gerr}
		if werr := writeReport(stdout, resp, format); werr != nil {
			fmt.Fprintf(stderr, "Error formatting output: %v\n", werr)
		}
	}
	fmt.Fprint(stderr, formatErrorHuman(outcome, gerr, err))
	return outcome.ExitCode()
}
