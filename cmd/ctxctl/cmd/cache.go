package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TaleirOfDeynai/nai-context-userscript-sub000/pkg/ctxasm"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage a server's token cache",
	Long: `Inspect and maintain the persistent token cache of a ctxasm server. The
server must be running with codec.cache_dir set.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove cached encodings",
	Example: `  # Drop everything
  ctxctl cache purge

  # Drop the encodings of one vocabulary
  ctxctl cache purge --prefix cl100k_base:`,
	Args: cobra.NoArgs,
	RunE: runCachePurge,
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim space in the cache's value log",
	Args:  cobra.NoArgs,
	RunE:  runCacheGC,
}

// Flags for cache commands
var (
	purgePrefix  string
	discardRatio float64
)

func init() {
	cachePurgeCmd.Flags().StringVar(&purgePrefix, "prefix", "", "Only remove keys with this prefix")
	cacheGCCmd.Flags().Float64Var(&discardRatio, "discard-ratio", 0, "Rewrite value log files with at least this share of stale data (default: server setting)")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
	cacheCmd.AddCommand(cacheGCCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	stats, err := newClient().CacheStats(cmd.Context())
	if err != nil {
		return cacheError("get cache stats", err)
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		return PrintJSON(w, stats)
	}

	fmt.Fprintln(w, "Token Cache Statistics")
	fmt.Fprintln(w, "──────────────────────")
	fmt.Fprintf(w, "Server:    %s\n", serverURL)
	fmt.Fprintf(w, "Encoding:  %s\n", stats.Encoding)
	fmt.Fprintf(w, "Records:   %d\n", stats.Records)
	fmt.Fprintf(w, "Storage:   %s\n", formatBytes(stats.StorageSizeBytes))
	return nil
}

func runCachePurge(cmd *cobra.Command, args []string) error {
	n, err := newClient().PurgeCache(cmd.Context(), purgePrefix)
	if err != nil {
		return cacheError("purge cache", err)
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		return PrintJSON(w, map[string]int{"purged": n})
	}
	fmt.Fprintf(w, "Purged %d cached encodings\n", n)
	return nil
}

func runCacheGC(cmd *cobra.Command, args []string) error {
	if err := newClient().CollectCache(cmd.Context(), discardRatio); err != nil {
		return cacheError("collect cache garbage", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Value log garbage collection finished")
	return nil
}

func cacheError(op string, err error) error {
	if ctxasm.IsNotSupportedError(err) {
		return fmt.Errorf("failed to %s: the server at %s has no token cache or does not support this", op, serverURL)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
