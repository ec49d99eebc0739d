package pipeline

import (
	"time"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Status is the hashing outcome of a record.
type Status int

const (
	StatusPending Status = iota
	StatusHashed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusHashed:
		return "hashed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is one ingested image. IDs are dense and follow enumeration order.
// A record is written only by the worker that hashes it.
type Record struct {
	ID          int
	Path        string
	Fingerprint fingerprint.Fingerprint
	Status      Status
	Err         error
	Attempts    int

	Size    int64
	ModTime time.Time
	Format  string
	Width   int
	Height  int
	Cached  bool

	// data holds the file bytes in memory-cache mode until placement.
	data []byte
}

// Pixels returns Width*Height.
func (r *Record) Pixels() int64 {
	return int64(r.Width) * int64(r.Height)
}
