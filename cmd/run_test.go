package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

func pngBytes(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 90, 80))
	for by := 0; by < 8; by++ {
		for bx := 0; bx < 9; bx++ {
			v := uint8(rng.Intn(256))
			for y := by * 10; y < by*10+10; y++ {
				for x := bx * 10; x < bx*10+10; x++ {
					img.SetGray(x, y, color.Gray{Y: v})
				}
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeImage(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func names(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return out
}

func testConfig(out string) *config.Config {
	cfg := config.Default()
	cfg.Processing.Workers = 2
	cfg.Fingerprint.Threshold = 5
	cfg.Output.Dir = out
	return cfg
}

func TestDedupFlat(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a, b := pngBytes(t, 1), pngBytes(t, 2)
	writeImage(t, filepath.Join(in, "a.png"), a)
	writeImage(t, filepath.Join(in, "a_copy.png"), a)
	writeImage(t, filepath.Join(in, "b.png"), b)
	writeImage(t, filepath.Join(in, "notes.txt"), []byte("skip"))

	report, err := dedup(context.Background(), testConfig(out), in, runSettings{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.GroupCount)
	assert.Equal(t, 1, report.Removed)
	assert.NotEmpty(t, report.RunID)
	assert.ElementsMatch(t, []string{"a.png", "b.png"}, names(t, out))
}

func TestDedupByFolder(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a := pngBytes(t, 1)
	writeImage(t, filepath.Join(in, "one", "a.png"), a)
	writeImage(t, filepath.Join(in, "one", "a2.png"), a)
	writeImage(t, filepath.Join(in, "two", "a.png"), a)
	writeImage(t, filepath.Join(in, "loose.png"), a)

	cfg := testConfig(out)
	cfg.Input.ByFolder = true
	cfg.Output.Layout = "own-folder"

	report, err := dedup(context.Background(), cfg, in, runSettings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, report.Batches)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Removed)
	assert.ElementsMatch(t, []string{"one/a.png", "two/a.png"}, names(t, out))
}

func TestDedupByFolderFlatNoCollisions(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "one", "a.png"), pngBytes(t, 1))
	writeImage(t, filepath.Join(in, "two", "a.png"), pngBytes(t, 2))

	cfg := testConfig(out)
	cfg.Input.ByFolder = true

	_, err := dedup(context.Background(), cfg, in, runSettings{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.png", "a_1.png"}, names(t, out))
}

func TestDedupByFolderWithoutSubfolders(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	a := pngBytes(t, 1)
	writeImage(t, filepath.Join(in, "a.png"), a)
	writeImage(t, filepath.Join(in, "a2.png"), a)

	cfg := testConfig(out)
	cfg.Input.ByFolder = true

	report, err := dedup(context.Background(), cfg, in, runSettings{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Removed)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "no subfolders")
	assert.Equal(t, []string{"a.png"}, names(t, out))
}

func TestDedupDryRunWritesNothing(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "a.png"), pngBytes(t, 1))

	report, err := dedup(context.Background(), testConfig(out), in, runSettings{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	require.Len(t, report.Placements, 1)
	assert.Empty(t, names(t, out))
}

func TestDedupCanceled(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(in, "one", "a.png"), pngBytes(t, 1))

	cfg := testConfig(out)
	cfg.Input.ByFolder = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := dedup(ctx, cfg, in, runSettings{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Canceled)
	assert.Empty(t, names(t, out))
}

func TestDedupRejectsFileInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.png")
	writeImage(t, file, pngBytes(t, 1))

	_, err := dedup(context.Background(), testConfig(t.TempDir()), file, runSettings{})
	var cfgErr *config.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestApplyFlags(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	addFingerprintFlags(c)
	c.Flags().Int("threshold", config.ThresholdAuto, "")
	c.Flags().Bool("own-folder", false, "")
	c.Flags().Bool("preserve-structure", false, "")
	c.Flags().String("extensions", "", "")
	c.Flags().String("cache-path", "", "")
	require.NoError(t, c.Flags().Parse([]string{
		"--hash-size", "16", "--threshold", "30", "--own-folder",
		"--extensions", "JPG,.png", "--cache-path", "/tmp/fp.db",
	}))

	cfg := config.Default()
	cfg.Fingerprint.Algorithm = "phash"
	applyFlags(c, cfg)

	assert.Equal(t, 16, cfg.Fingerprint.HashSize)
	assert.Equal(t, 30, cfg.Fingerprint.Threshold)
	assert.Equal(t, "phash", cfg.Fingerprint.Algorithm, "unset flags keep the configured value")
	assert.Equal(t, "own-folder", cfg.Output.Layout)
	assert.Equal(t, []string{"jpg", "png"}, cfg.Input.Extensions)
	assert.Equal(t, "/tmp/fp.db", cfg.Cache.Path)
	assert.True(t, cfg.Cache.Enabled)
}

func TestCompareImages(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	writeImage(t, a, pngBytes(t, 1))
	writeImage(t, b, pngBytes(t, 1))

	ia, err := hashFile(a, fingerprint.DHash, 8)
	require.NoError(t, err)
	ib, err := hashFile(b, fingerprint.DHash, 8)
	require.NoError(t, err)
	assert.Equal(t, "png", ia.Format)
	assert.Equal(t, 90, ia.Width)

	got := compareImages(ia, ib, 0)
	assert.Equal(t, 0, got.Distance)
	assert.Equal(t, 64, got.Bits)
	assert.True(t, got.Duplicate)
	assert.InDelta(t, 1.0, got.Similarity, 1e-9)
}

func TestHashConcurrentlySkipsFailures(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	bad := filepath.Join(dir, "bad.png")
	writeImage(t, good, pngBytes(t, 3))
	writeImage(t, bad, []byte("not an image"))

	results, errs := hashConcurrently([]string{good, bad}, fingerprint.PHash, 8, 2, nil)
	require.Len(t, results, 1)
	assert.Equal(t, good, results[0].Path)
	assert.Len(t, errs, 1)
}
