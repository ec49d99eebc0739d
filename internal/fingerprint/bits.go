package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// ErrInvalidHex is returned by ParseHex for malformed input.
var ErrInvalidHex = errors.New("invalid fingerprint hex")

// Fingerprint is an immutable fixed-width bit vector.
// Bit i (row-major order) is stored most-significant-first in words[i/64].
type Fingerprint struct {
	bits  int
	words []uint64
}

func newFingerprint(n int) Fingerprint {
	return Fingerprint{bits: n, words: make([]uint64, (n+63)/64)}
}

// set is only used while a fingerprint is being built.
func (f Fingerprint) set(i int) {
	f.words[i/64] |= 1 << (63 - uint(i%64))
}

// FromUint64 wraps a 64-bit hash value.
func FromUint64(v uint64) Fingerprint {
	return Fingerprint{bits: 64, words: []uint64{v}}
}

// FromWords builds a fingerprint of n bits from packed words. Bits beyond n are cleared.
func FromWords(n int, words []uint64) (Fingerprint, error) {
	if n <= 0 || len(words) != (n+63)/64 {
		return Fingerprint{}, fmt.Errorf("need %d words for %d bits, got %d", (n+63)/64, n, len(words))
	}
	fp := newFingerprint(n)
	copy(fp.words, words)
	if rem := n % 64; rem != 0 {
		fp.words[len(fp.words)-1] &= ^uint64(0) << (64 - uint(rem))
	}
	return fp, nil
}

// Bits returns the width in bits.
func (f Fingerprint) Bits() int { return f.bits }

// Bit reports whether bit i is set.
func (f Fingerprint) Bit(i int) bool {
	return f.words[i/64]&(1<<(63-uint(i%64))) != 0
}

// Uint64 returns the first word. Only meaningful for 64-bit fingerprints.
func (f Fingerprint) Uint64() uint64 {
	if len(f.words) == 0 {
		return 0
	}
	return f.words[0]
}

// Equal reports whether both fingerprints have the same width and bits.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.bits != other.bits {
		return false
	}
	for i := range f.words {
		if f.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// Hex returns the fingerprint as a lowercase hex string of ceil(bits/4) characters.
func (f Fingerprint) Hex() string {
	var sb strings.Builder
	for _, w := range f.words {
		fmt.Fprintf(&sb, "%016x", w)
	}
	return sb.String()[:(f.bits+3)/4]
}

func (f Fingerprint) String() string { return f.Hex() }

// ParseHex parses a string produced by Hex for a fingerprint of n bits.
func ParseHex(s string, n int) (Fingerprint, error) {
	if n <= 0 || len(s) != (n+3)/4 {
		return Fingerprint{}, fmt.Errorf("%w: %d chars for %d bits", ErrInvalidHex, len(s), n)
	}
	padded := s + strings.Repeat("0", ((n+63)/64)*16-len(s))
	raw, err := hex.DecodeString(padded)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	words := make([]uint64, len(raw)/8)
	for i := range words {
		for _, b := range raw[i*8 : i*8+8] {
			words[i] = words[i]<<8 | uint64(b)
		}
	}
	return FromWords(n, words)
}

// HammingDistance counts differing bits. Widths must match; a mismatch is a programming error and panics.
func HammingDistance(a, b Fingerprint) int {
	if a.bits != b.bits {
		panic(fmt.Sprintf("fingerprint width mismatch: %d vs %d", a.bits, b.bits))
	}
	distance := 0
	for i := range a.words {
		distance += bits.OnesCount64(a.words[i] ^ b.words[i])
	}
	return distance
}

// Similar returns true if two fingerprints are within the given threshold.
func Similar(a, b Fingerprint, threshold int) bool {
	return HammingDistance(a, b) <= threshold
}
