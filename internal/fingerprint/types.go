package fingerprint

// ImageInfo describes one image and its computed fingerprint
type ImageInfo struct {
	// Identification
	Path   string `json:"path"`
	Format string `json:"format,omitempty"`
	Size   int64  `json:"size"`

	// Dimensions
	Width  int `json:"width"`
	Height int `json:"height"`

	// Perceptual hash (computed)
	Algorithm   Algorithm `json:"algorithm"`
	HashSize    int       `json:"hash_size"`
	Fingerprint string    `json:"fingerprint"`

	// For internal use (comparison)
	Bits Fingerprint `json:"-"`

	// Timestamp
	ComputedAt string `json:"computed_at"`
}

// ImageInfoBatch represents multiple images for batch output
type ImageInfoBatch struct {
	Images []ImageInfo `json:"images"`
	Count  int         `json:"count"`
}
