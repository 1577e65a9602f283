package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"qgate/internal/output"
	"qgate/internal/signals"
	"qgate/internal/storage"
	"qgate/internal/version"
)

var cacheFormat string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the persistent metric cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show persistent cache size per metric set and engine version",
	Run:   runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached metric vector",
	Run:   runCacheClear,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries written by other metric sets or engine versions",
	Long: `Prune removes cache entries whose metric set version or engine version
differs from the current ones. Such entries can never be hit again.`,
	Run: runCachePrune,
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", "human", "Output format (json, yaml, human)")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

// mustOpenStore opens the configured metric store or exits.
func mustOpenStore() (*session, *storage.MetricStore) {
	sess, err := openSession(mustGetRepoRoot(), os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	store, err := storage.OpenMetricStore(sess.cfg.CacheDir(sess.root), sess.logger)
	if err != nil {
		sess.Close()
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	sess.store = store
	return sess, store
}

func runCacheStats(cmd *cobra.Command, args []string) {
	format, err := output.ParseFormat(cacheFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	sess, store := mustOpenStore()
	defer sess.Close()

	stats, err := store.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading cache stats: %v\n", err)
		os.Exit(1)
	}

	if format != output.FormatHuman {
		if err := writeReport(os.Stdout, stats, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
			os.Exit(1)
		}
		return
	}
	fmt.Print(formatStoreStatsHuman(stats))
}

func runCacheClear(cmd *cobra.Command, args []string) {
	sess, store := mustOpenStore()
	defer sess.Close()

	if err := store.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Error clearing cache: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Cache cleared")
}

func runCachePrune(cmd *cobra.Command, args []string) {
	sess, store := mustOpenStore()
	defer sess.Close()

	msv := signals.New(signals.OptionsFromConfig(sess.cfg.Signals), nil).MetricSetVersion()
	n, err := store.DeleteStale(msv, version.EngineVersion())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error pruning cache: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d stale entries (keeping %s / %s)\n", n, msv, version.EngineVersion())
}

// formatStoreStatsHuman formats persistent cache statistics
func formatStoreStatsHuman(stats *storage.StoreStats) string {
	s := fmt.Sprintf("Cache: %s\n", stats.Path)
	s += fmt.Sprintf("  Entries: %d (%s compressed)\n", stats.Entries, humanize.IBytes(uint64(stats.ValueBytes)))
	for _, v := range stats.Versions {
		s += fmt.Sprintf("  %s @ %s: %d\n", v.MetricSetVersion, v.EngineVersion, v.Entries)
	}
	return s
}
