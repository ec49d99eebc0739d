// Package hashcache persists computed fingerprints in a bbolt database so that
// repeated runs over the same tree skip decoding unchanged files.
package hashcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("fingerprint cache is closed")

// Key identifies a fingerprint computation. Size and ModTime detect stale entries.
type Key struct {
	Path      string
	Size      int64
	ModTime   time.Time
	Algorithm string
	HashSize  int
}

func (k Key) dbKey() []byte {
	return []byte(k.Path + "\x00" + k.Algorithm + "\x00" + strconv.Itoa(k.HashSize))
}

// Entry is a cached fingerprint with the image metadata gathered alongside it.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Bits        int       `json:"bits"`
	Format      string    `json:"format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Stats describes the cache contents and this session's hit rate.
type Stats struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
}

// Cache is a bbolt-backed fingerprint store, safe for concurrent use.
type Cache struct {
	db     *bbolt.DB
	path   string
	bucket []byte
	closed atomic.Bool
	hits   atomic.Int64
	misses atomic.Int64
}

// Open opens or creates the cache file at path.
func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New("cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPerm); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint cache %s: %w", path, err)
	}
	return &Cache{db: db, path: path, bucket: []byte(constants.CacheBucket)}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

// Get returns the entry for key. Entries whose size or modification time differ
// from the key are treated as misses.
func (c *Cache) Get(_ context.Context, key Key) (Entry, bool, error) {
	if c.closed.Load() {
		return Entry{}, false, ErrClosed
	}

	var data []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key.dbKey()); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading fingerprint cache: %w", err)
	}
	if data == nil {
		c.misses.Add(1)
		return Entry{}, false, nil
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.misses.Add(1)
		return Entry{}, false, nil
	}
	if e.Size != key.Size || !e.ModTime.Equal(key.ModTime) {
		c.misses.Add(1)
		return Entry{}, false, nil
	}
	c.hits.Add(1)
	return e, true, nil
}

// Put stores e under key. Concurrent calls are coalesced into shared transactions.
func (c *Cache) Put(_ context.Context, key Key, e Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e.Size = key.Size
	e.ModTime = key.ModTime
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	return c.db.Batch(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(c.bucket)
		if err != nil {
			return err
		}
		return b.Put(key.dbKey(), data)
	})
}

// Stats counts entries and reports the file size and session hit counters.
func (c *Cache) Stats() (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}
	s := Stats{Path: c.path, Hits: c.hits.Load(), Misses: c.misses.Load()}
	err := c.db.View(func(tx *bbolt.Tx) error {
		s.Bytes = tx.Size()
		if b := tx.Bucket(c.bucket); b != nil {
			s.Entries = b.Stats().KeyN
		}
		return nil
	})
	return s, err
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return tx.DeleteBucket(c.bucket)
	})
	if err != nil {
		return 0, fmt.Errorf("clearing fingerprint cache: %w", err)
	}
	return n, nil
}
