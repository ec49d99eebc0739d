// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Fingerprint constants
const (
	// DefaultHashSize is the side length of the hash grid; fingerprints have HashSize² bits
	DefaultHashSize = 8

	// DefaultAlgorithm is the perceptual hash used when none is configured
	DefaultAlgorithm = "dhash"
)

// Similarity constants
const (
	// DefaultThreshold64 is the default max Hamming distance for 64-bit fingerprints.
	// Other widths scale it by bits/64.
	DefaultThreshold64 = 10

	// DefaultIndex is the similarity index strategy
	DefaultIndex = "exact"

	// DefaultPolicy is the keep policy applied to each duplicate group
	DefaultPolicy = "first"
)

// Processing constants
const (
	// DefaultRetryLimit is the total number of attempts for transient I/O failures
	DefaultRetryLimit = 3

	// RetryInitialBackoff is the delay before the second attempt, in milliseconds
	RetryInitialBackoff = 100

	// RetryMaxBackoff caps the exponential backoff, in milliseconds
	RetryMaxBackoff = 2000

	// RetryBackoffMultiplier grows the delay between attempts
	RetryBackoffMultiplier = 2.0
)

// Input constants
const (
	// DefaultExtensions are the image extensions picked up from the input root
	DefaultExtensions = "jpg jpeg png webp"
)

// Output constants
const (
	// DefaultLayout places kept images directly in the output root
	DefaultLayout = "flat"

	// DirPerm and FilePerm are used when creating output directories and files
	DirPerm  = 0o755
	FilePerm = 0o644
)

// Cache constants
const (
	// CacheFileName is the default fingerprint cache location under the user cache dir
	CacheFileName = "photo-dedup/fingerprints.db"

	// CacheBucket holds fingerprint entries
	CacheBucket = "fingerprints"
)

// DefaultThreshold returns the default threshold for a hash size.
func DefaultThreshold(hashSize int) int {
	bits := hashSize * hashSize
	t := DefaultThreshold64 * bits / 64
	if t < 1 {
		t = 1
	}
	if t >= bits {
		t = bits - 1
	}
	return t
}
