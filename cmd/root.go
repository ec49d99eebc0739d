package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/logger"
)

var (
	configFile string
	verbose    bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "photo-dedup",
	Short: "Find and remove near-duplicate images",
	Long: `Photo Dedup hashes every image in a directory with a perceptual hash,
groups images whose fingerprints are within a Hamming-distance threshold,
keeps one image per group and writes the result to an output directory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML profile overriding environment settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (default from LOG_FORMAT)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func initLogging() {
	opts := logger.FromEnv()
	if verbose {
		opts.Level = "debug"
	}
	if logFormat != "" {
		opts.Format = logFormat
	}
	logger.Init(opts)
}
