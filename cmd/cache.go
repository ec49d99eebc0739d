package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/hashcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Fingerprint cache management commands",
	Long: `Commands for managing the local fingerprint cache.

The cache stores one fingerprint per file, algorithm and hash size. Entries
are reused by 'run --cache' while the file's size and modification time are
unchanged.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fingerprint cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached fingerprints",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheCmd.PersistentFlags().String("cache-path", "", "Fingerprint cache location (default from config)")
	cacheCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}

// CacheClearResult is the JSON output of 'cache clear'.
type CacheClearResult struct {
	Path    string `json:"path"`
	Removed int    `json:"removed"`
}

// openCache opens the configured cache. It returns nil without error when the
// cache file does not exist yet.
func openCache(cmd *cobra.Command) (*hashcache.Cache, string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, "", err
	}
	path := cfg.Cache.Path
	if path == "" {
		return nil, "", errors.New("no cache path configured: set --cache-path or DEDUP_CACHE_PATH")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, path, nil
	}
	c, err := hashcache.Open(path)
	if err != nil {
		return nil, path, fmt.Errorf("opening fingerprint cache: %w", err)
	}
	return c, path, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	c, path, err := openCache(cmd)
	if err != nil {
		return err
	}
	stats := hashcache.Stats{Path: path}
	if c != nil {
		defer c.Close()
		if stats, err = c.Stats(); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(stats)
	}
	fmt.Printf("Cache:   %s\n", stats.Path)
	if c == nil {
		fmt.Println("The cache has not been created yet.")
		return nil
	}
	fmt.Printf("Entries: %d\n", stats.Entries)
	fmt.Printf("Size:    %d bytes\n", stats.Bytes)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	c, path, err := openCache(cmd)
	if err != nil {
		return err
	}
	result := CacheClearResult{Path: path}
	if c != nil {
		defer c.Close()
		result.Path = c.Path()
		if result.Removed, err = c.Clear(); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(result)
	}
	fmt.Printf("Removed %d cached fingerprints from %s\n", result.Removed, result.Path)
	return nil
}
