package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/readstore/model"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Length returns a read length in [minLen, maxLen].
func (r *RNG) Length(minLen, maxLen int) int {
	if maxLen <= minLen {
		return minLen
	}
	return minLen + r.Intn(maxLen-minLen+1)
}

var alphabet = [4]byte{'A', 'C', 'G', 'T'}

// Bases returns n random bases from ACGT.
func (r *RNG) Bases(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.rand.Intn(len(alphabet))]
	}
	return b
}

// Qualities returns n quality values in the '0'-offset text convention,
// each in [0, 40].
func (r *RNG) Qualities(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := make([]byte, n)
	for i := range q {
		q[i] = '0' + byte(r.rand.Intn(41))
	}
	return q
}

// Read returns a random read of the given length.
func (r *RNG) Read(n int) (seq, qlt []byte) {
	return r.Bases(n), r.Qualities(n)
}

// Fragment returns a fragment with a numeric UID, random payloads of the
// given length and a clear range covering the middle of the read.
func (r *RNG) Fragment(uid uint64, length int) *model.Fragment {
	seq, qlt := r.Read(length)
	trim := uint32(length / 10)
	return &model.Fragment{
		UID:      model.UID(uid),
		Length:   uint32(length),
		Clear:    model.Range{Begin: trim, End: uint32(length) - trim},
		Sequence: seq,
		Quality:  qlt,
	}
}

// Fragments returns n fragments with UIDs firstUID, firstUID+1, ... and
// lengths in [minLen, maxLen].
func (r *RNG) Fragments(n int, firstUID uint64, minLen, maxLen int) []*model.Fragment {
	out := make([]*model.Fragment, n)
	for i := range out {
		out[i] = r.Fragment(firstUID+uint64(i), r.Length(minLen, maxLen))
	}
	return out
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
// s=1.0 gives standard Zipf, s=1.5 gives heavy-tail (80/20 rule).
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	// Compute normalization constant (harmonic number with exponent s)
	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	// Sample from uniform and use inverse transform
	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// Assignment returns a partition assignment for fragments 1..n, indexed by
// IID. A skipRate share of fragments is left unassigned (0); the rest go to
// partitions 1..maxPart with a Zipfian skew s.
func (r *RNG) Assignment(n, maxPart int, skipRate, s float64) []int {
	a := make([]int, n+1)
	r.mu.Lock()
	defer r.mu.Unlock()
	for iid := 1; iid <= n; iid++ {
		if r.rand.Float64() < skipRate {
			continue
		}
		a[iid] = r.zipfLocked(maxPart, s) + 1
	}
	return a
}
