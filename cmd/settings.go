package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// addFingerprintFlags registers the hashing flags shared by run, hash and compare.
func addFingerprintFlags(cmd *cobra.Command) {
	cmd.Flags().String("algorithm", constants.DefaultAlgorithm, "Perceptual hash: dhash or phash")
	cmd.Flags().Int("hash-size", constants.DefaultHashSize, "Hash grid side; fingerprints have hash-size² bits")
}

// loadConfig layers defaults, environment, the --config profile and explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	if configFile != "" {
		if err := config.LoadFile(cfg, configFile); err != nil {
			return nil, err
		}
	}
	applyFlags(cmd, cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if changed(cmd, "algorithm") {
		cfg.Fingerprint.Algorithm = mustGetString(cmd, "algorithm")
	}
	if changed(cmd, "hash-size") {
		cfg.Fingerprint.HashSize = mustGetInt(cmd, "hash-size")
	}
	if changed(cmd, "threshold") {
		cfg.Fingerprint.Threshold = mustGetInt(cmd, "threshold")
	}
	if changed(cmd, "index") {
		cfg.Fingerprint.Index = mustGetString(cmd, "index")
	}
	if changed(cmd, "workers") {
		cfg.Processing.Workers = mustGetInt(cmd, "workers")
	}
	if changed(cmd, "retry-limit") {
		cfg.Processing.RetryLimit = mustGetInt(cmd, "retry-limit")
	}
	if changed(cmd, "mem-cache") {
		cfg.Processing.MemoryCache = mustGetBool(cmd, "mem-cache")
	}
	if changed(cmd, "extensions") {
		cfg.Input.Extensions = config.SplitExtensions(mustGetString(cmd, "extensions"))
	}
	if changed(cmd, "recursive") {
		cfg.Input.Recursive = mustGetBool(cmd, "recursive")
	}
	if changed(cmd, "by-folder") {
		cfg.Input.ByFolder = mustGetBool(cmd, "by-folder")
	}
	if changed(cmd, "duplicates-dir") {
		cfg.Output.DuplicatesDir = mustGetString(cmd, "duplicates-dir")
	}
	if changed(cmd, "policy") {
		cfg.Output.Policy = mustGetString(cmd, "policy")
	}
	if changed(cmd, "move") {
		cfg.Output.Move = mustGetBool(cmd, "move")
	}
	switch {
	case changed(cmd, "preserve-structure") && mustGetBool(cmd, "preserve-structure"):
		cfg.Output.Layout = "preserve-structure"
	case changed(cmd, "own-folder") && mustGetBool(cmd, "own-folder"):
		cfg.Output.Layout = "own-folder"
	}
	if changed(cmd, "cache-path") {
		cfg.Cache.Path = mustGetString(cmd, "cache-path")
		cfg.Cache.Enabled = true
	}
	if changed(cmd, "cache") {
		cfg.Cache.Enabled = mustGetBool(cmd, "cache")
	}
}
