package fingerprint

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"sort"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MinHashSize is the smallest hash size that yields a meaningful gradient.
const MinHashSize = 2

var (
	// ErrDecode is returned when image data cannot be decoded.
	ErrDecode = errors.New("failed to decode image")
	// ErrEmptyImage is returned for images with zero width or height.
	ErrEmptyImage = errors.New("image has degenerate dimensions")
	// ErrInvalidHashSize is returned when hashSize is below MinHashSize.
	ErrInvalidHashSize = errors.New("invalid hash size")
	// ErrUnknownAlgorithm is returned for an unsupported Algorithm value.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

// Algorithm selects the perceptual hash family.
type Algorithm string

const (
	// DHash compares horizontally adjacent pixels of a (N+1)xN thumbnail.
	DHash Algorithm = "dhash"
	// PHash thresholds low DCT frequencies of a 4Nx4N thumbnail against their median.
	PHash Algorithm = "phash"
)

// ParseAlgorithm converts a name into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case DHash, PHash:
		return Algorithm(s), nil
	case "":
		return DHash, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// Decode decodes an image in any registered format.
// Errors wrap ErrDecode.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

// Compute computes the default difference hash of an image.
func Compute(img image.Image, hashSize int) (Fingerprint, error) {
	return ComputeWith(img, DHash, hashSize)
}

// ComputeWith computes a fingerprint of hashSize*hashSize bits using the given algorithm.
func ComputeWith(img image.Image, alg Algorithm, hashSize int) (Fingerprint, error) {
	if hashSize < MinHashSize {
		return Fingerprint{}, fmt.Errorf("%w: %d", ErrInvalidHashSize, hashSize)
	}
	if img == nil {
		return Fingerprint{}, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Fingerprint{}, fmt.Errorf("%w: %dx%d", ErrEmptyImage, b.Dx(), b.Dy())
	}

	switch alg {
	case DHash, "":
		return computeDHash(img, hashSize), nil
	case PHash:
		return computePHash(img, hashSize), nil
	default:
		return Fingerprint{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}

// ComputeBytes decodes imageData and computes its fingerprint.
func ComputeBytes(imageData []byte, alg Algorithm, hashSize int) (Fingerprint, error) {
	img, _, err := Decode(bytes.NewReader(imageData))
	if err != nil {
		return Fingerprint{}, err
	}
	return ComputeWith(img, alg, hashSize)
}

// computeDHash computes an n*n bit difference hash.
func computeDHash(img image.Image, n int) Fingerprint {
	// n+1 columns give n differences per row
	gray := toGrayscale(resizeImage(img, n+1, n))

	fp := newFingerprint(n * n)
	bit := 0
	for y := range n {
		for x := range n {
			if gray[x][y] > gray[x+1][y] {
				fp.set(bit)
			}
			bit++
		}
	}
	return fp
}

// computePHash computes an n*n bit perceptual hash using DCT.
func computePHash(img image.Image, n int) Fingerprint {
	size := 4 * n
	gray := toGrayscale(resizeImage(img, size, size))
	dct := computeDCT(gray, n)

	// Low frequencies, DC included.
	lowFreq := make([]float64, 0, n*n)
	for u := range n {
		for v := range n {
			lowFreq = append(lowFreq, dct[u][v])
		}
	}
	median := computeMedian(lowFreq)

	fp := newFingerprint(n * n)
	for i, c := range lowFreq {
		if c > median {
			fp.set(i)
		}
	}
	return fp
}

// resizeImage scales an image to the specified dimensions.
func resizeImage(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255) indexed [x][y].
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			off := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b := img.Pix[off], img.Pix[off+1], img.Pix[off+2]
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
		}
	}

	return gray
}

// computeDCT computes the top-left keep x keep block of the 2D DCT-II of a square grayscale image.
// The transform is separable: rows first, then columns.
func computeDCT(gray [][]float64, keep int) [][]float64 {
	size := len(gray)
	if keep > size {
		keep = size
	}

	cosTable := make([][]float64, keep)
	for u := range keep {
		cosTable[u] = make([]float64, size)
		for x := range size {
			cosTable[u][x] = math.Cos(math.Pi * float64(u) * (2*float64(x) + 1) / (2 * float64(size)))
		}
	}

	// partial[u][y] = sum_x gray[x][y] * cos(u, x)
	partial := make([][]float64, keep)
	for u := range keep {
		partial[u] = make([]float64, size)
		for y := range size {
			var sum float64
			for x := range size {
				sum += gray[x][y] * cosTable[u][x]
			}
			partial[u][y] = sum
		}
	}

	dct := make([][]float64, keep)
	for u := range keep {
		dct[u] = make([]float64, keep)
		for v := range keep {
			var sum float64
			for y := range size {
				sum += partial[u][y] * cosTable[v][y]
			}
			dct[u][v] = sum
		}
	}

	return dct
}

// computeMedian returns the median value from a slice.
func computeMedian(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
