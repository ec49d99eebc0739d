package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/walker"
)

var hashCmd = &cobra.Command{
	Use:   "hash <path>...",
	Short: "Print perceptual fingerprints of images",
	Long: `Compute and print the perceptual fingerprint of each image.
Directories are expanded to the images they contain.

Examples:
  # Fingerprint a single image
  photo-dedup hash photo.jpg

  # Fingerprint a directory with pHash and 256-bit fingerprints
  photo-dedup hash ./photos --algorithm phash --hash-size 16

  # Output as JSON
  photo-dedup hash --json ./photos`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)

	addFingerprintFlags(hashCmd)
	hashCmd.Flags().Bool("json", false, "Output as JSON")
	hashCmd.Flags().Bool("recursive", false, "Descend into subdirectories of directory arguments")
	hashCmd.Flags().String("extensions", "", "Image extensions to include from directories (default from config)")
	hashCmd.Flags().Int("concurrency", 0, "Number of parallel workers (default from config)")
}

func runHash(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := mustGetInt(cmd, "concurrency")

	cfg, err := fingerprintSettings(cmd)
	if err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = cfg.Processing.Workers
	}
	alg := fingerprint.Algorithm(cfg.Fingerprint.Algorithm)

	paths, err := expandPaths(args, walker.Options{Extensions: cfg.Input.Extensions, Recursive: cfg.Input.Recursive})
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		if jsonOutput {
			return outputJSON(fingerprint.ImageInfoBatch{Images: []fingerprint.ImageInfo{}, Count: 0})
		}
		fmt.Println("No images found.")
		return nil
	}

	bar := newHashProgressBar(len(paths), "Computing hashes", "images", jsonOutput || len(paths) == 1)
	results, errs := hashConcurrently(paths, alg, cfg.Fingerprint.HashSize, concurrency, bar)
	if bar != nil {
		fmt.Println()
	}

	if jsonOutput {
		return outputJSON(fingerprint.ImageInfoBatch{Images: results, Count: len(results)})
	}
	if len(results) == 1 && len(errs) == 0 {
		printImageInfo(results[0])
		return nil
	}
	printImageTable(results)
	if len(errs) > 0 {
		fmt.Printf("\nErrors: %d\n", len(errs))
		for _, e := range errs {
			fmt.Printf("  - %v\n", e)
		}
	}
	return nil
}

// expandPaths keeps file arguments as given and replaces directories with their images.
func expandPaths(args []string, opts walker.Options) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		for path, err := range walker.Walk(arg, opts) {
			if err != nil {
				return nil, err
			}
			out = append(out, path)
		}
	}
	return out, nil
}

// hashFile reads one image and computes its fingerprint.
func hashFile(path string, alg fingerprint.Algorithm, hashSize int) (fingerprint.ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint.ImageInfo{}, err
	}
	img, format, err := fingerprint.Decode(bytes.NewReader(data))
	if err != nil {
		return fingerprint.ImageInfo{}, fmt.Errorf("%s: %w", path, err)
	}
	fp, err := fingerprint.ComputeWith(img, alg, hashSize)
	if err != nil {
		return fingerprint.ImageInfo{}, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	b := img.Bounds()
	return fingerprint.ImageInfo{
		Path:        abs,
		Format:      format,
		Size:        int64(len(data)),
		Width:       b.Dx(),
		Height:      b.Dy(),
		Algorithm:   alg,
		HashSize:    hashSize,
		Fingerprint: fp.Hex(),
		Bits:        fp,
		ComputedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// hashConcurrently fingerprints paths with a bounded number of workers.
// Results keep the order of paths; failed images are left out.
func hashConcurrently(paths []string, alg fingerprint.Algorithm, hashSize, concurrency int, bar *progressbar.ProgressBar) ([]fingerprint.ImageInfo, []error) {
	results := make([]fingerprint.ImageInfo, len(paths))
	var errs []error
	var mu sync.Mutex
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range paths {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			info, err := hashFile(path, alg, hashSize)
			mu.Lock()
			if err != nil {
				errs = append(errs, err)
			} else {
				results[idx] = info
			}
			mu.Unlock()

			if bar != nil {
				_ = bar.Add(1)
			}
		}(i, paths[i])
	}
	wg.Wait()

	valid := make([]fingerprint.ImageInfo, 0, len(results))
	for i := range results {
		if results[i].Path != "" {
			valid = append(valid, results[i])
		}
	}
	return valid, errs
}

func printImageInfo(info fingerprint.ImageInfo) {
	fmt.Printf("Image: %s\n", info.Path)
	fmt.Println("────────────────────────────────────────")
	fmt.Printf("  Format:         %s\n", info.Format)
	fmt.Printf("  Size:           %d bytes\n", info.Size)
	fmt.Printf("  Dimensions:     %d x %d\n", info.Width, info.Height)
	fmt.Printf("  Algorithm:      %s (%d bits)\n", info.Algorithm, info.Bits.Bits())
	fmt.Printf("  Fingerprint:    %s\n", info.Fingerprint)
}

func printImageTable(results []fingerprint.ImageInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IMAGE\tDIMENSIONS\tSIZE\tFINGERPRINT")
	fmt.Fprintln(w, "-----\t----------\t----\t-----------")
	for i := range results {
		info := &results[i]
		fmt.Fprintf(w, "%s\t%dx%d\t%d\t%s\n", info.Path, info.Width, info.Height, info.Size, info.Fingerprint)
	}
	w.Flush()
	fmt.Printf("\nTotal: %d images\n", len(results))
}

// fingerprintSettings loads the hashing settings for commands that only fingerprint.
func fingerprintSettings(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
