package pool

import (
	"sync"

	"github.com/glaslos/tlsh"
)

// Fingerprint identifies a distinct failure by its panic location, the
// hash of (file, line, col) the fuzzer loop computes via
// sensor.PanicFingerprint.
type Fingerprint uint64

// Failure is what the fuzzer loop hands the failure pool after catching a
// panic or a false property result.
type Failure struct {
	Fingerprint Fingerprint
	Display     string
}

type failureBucket[V any] struct {
	id         ID
	complexity float64
	display    string
	tlshDigest *tlsh.TLSH
	// similarCount tracks later failures that shared this bucket's
	// fingerprint but lost on complexity, an observability field the
	// spec itself does not require (see SPEC_FULL.md §5.1).
	similarCount int
}

// FailurePool keeps at most one input per distinct panic fingerprint, the
// smallest-complexity one winning, enriched with TLSH-based near-duplicate
// merging so two fingerprints that are really the same bug shifted by a
// line number collapse into one bucket instead of two (SPEC_FULL.md §5.1).
type FailurePool[V any] struct {
	mu      sync.Mutex
	cfg     FailureConfig
	inputs  *slabStore[V]
	buckets map[Fingerprint]*failureBucket[V]
}

// FailureConfig controls the failure pool's TLSH near-duplicate merging,
// mirroring fuzzconfig.FailureConfig.
type FailureConfig struct {
	EnableTLSH    bool
	TLSHMinBytes  int
	TLSHThreshold int
}

// DefaultFailureConfig mirrors fuzzconfig.DefaultConfig's failure section.
func DefaultFailureConfig() FailureConfig {
	return FailureConfig{EnableTLSH: true, TLSHMinBytes: 50, TLSHThreshold: tlshDistanceThreshold}
}

// slabStore is a tiny indirection so FailurePool doesn't need to import
// the generic slab package just to hold a flat id counter.
type slabStore[V any] struct {
	next   int
	values map[int]V
}

func newSlabStore[V any]() *slabStore[V] {
	return &slabStore[V]{values: make(map[int]V)}
}

func (s *slabStore[V]) insert(v V) ID {
	id := ID{Index: s.next}
	s.values[s.next] = v
	s.next++
	return id
}

func (s *slabStore[V]) get(id ID) (V, bool) {
	v, ok := s.values[id.Index]
	return v, ok
}

func (s *slabStore[V]) remove(id ID) { delete(s.values, id.Index) }

// NewFailurePool creates an empty FailurePool governed by cfg.
func NewFailurePool[V any](cfg FailureConfig) *FailurePool[V] {
	if cfg.TLSHMinBytes <= 0 {
		cfg.TLSHMinBytes = 50
	}
	if cfg.TLSHThreshold <= 0 {
		cfg.TLSHThreshold = tlshDistanceThreshold
	}
	return &FailurePool[V]{
		cfg:     cfg,
		inputs:  newSlabStore[V](),
		buckets: make(map[Fingerprint]*failureBucket[V]),
	}
}

// tlshDistanceThreshold is DefaultFailureConfig's near-duplicate bound,
// grounded on the teacher's DefaultTLSHConfig().SimilarityThreshold.
const tlshDistanceThreshold = 100

// Observe records a failing input if it is the first, or the smallest
// complexity, activator of its fingerprint. serializedBytes is used only
// to compute the TLSH near-duplicate signal; it may be nil, or shorter
// than cfg.TLSHMinBytes, in which case no digest is computed.
func (fp *FailurePool[V]) Observe(value V, complexity float64, f Failure, serializedBytes []byte) Delta[V] {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	var digest *tlsh.TLSH
	if fp.cfg.EnableTLSH && len(serializedBytes) >= fp.cfg.TLSHMinBytes {
		if h, err := tlsh.HashBytes(serializedBytes); err == nil {
			digest = h
		}
	}

	bucket, exists := fp.buckets[f.Fingerprint]
	if !exists && digest != nil {
		// The literal panic fingerprint is new, but it may still be the
		// same underlying bug as an existing bucket's, shifted by a
		// changed line number or a cosmetically different message. Alias
		// this fingerprint onto whichever existing bucket is within
		// cfg.TLSHThreshold, so it merges instead of opening a second
		// bucket for the same failure.
		for _, b := range fp.buckets {
			if b.tlshDigest == nil {
				continue
			}
			if digest.Diff(b.tlshDigest) < fp.cfg.TLSHThreshold {
				bucket = b
				exists = true
				fp.buckets[f.Fingerprint] = b
				break
			}
		}
	}
	if !exists {
		id := fp.inputs.insert(value)
		fp.buckets[f.Fingerprint] = &failureBucket[V]{
			id:         id,
			complexity: complexity,
			display:    f.Display,
			tlshDigest: digest,
		}
		return Delta[V]{Added: &Entry[V]{ID: id, Value: value, Complexity: complexity}}
	}

	if complexity >= bucket.complexity {
		bucket.similarCount++
		return Delta[V]{}
	}

	old, _ := fp.inputs.get(bucket.id)
	fp.inputs.remove(bucket.id)
	newID := fp.inputs.insert(value)
	removed := []Entry[V]{{ID: bucket.id, Value: old, Complexity: bucket.complexity}}
	bucket.id = newID
	bucket.complexity = complexity
	bucket.display = f.Display
	bucket.tlshDigest = digest

	return Delta[V]{
		Added:   &Entry[V]{ID: newID, Value: value, Complexity: complexity},
		Removed: removed,
	}
}

// NearDuplicateCount reports how many later failures hit fingerprint but
// lost on complexity, i.e. the bucket's SimilarFailure count.
func (fp *FailurePool[V]) NearDuplicateCount(f Fingerprint) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	b, ok := fp.buckets[f]
	if !ok {
		return 0
	}
	return b.similarCount
}

// TLSHDistance compares two byte slices' TLSH digests, returning the
// distance and whether both were large enough to hash.
func TLSHDistance(a, b []byte) (int, bool) {
	if len(a) < 50 || len(b) < 50 {
		return 0, false
	}
	ha, err := tlsh.HashBytes(a)
	if err != nil {
		return 0, false
	}
	hb, err := tlsh.HashBytes(b)
	if err != nil {
		return 0, false
	}
	return ha.Diff(hb), true
}

// Len returns the number of distinct failure buckets recorded. Aliased
// fingerprints (TLSH near-duplicates merged into an existing bucket) count
// once.
func (fp *FailurePool[V]) Len() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	seen := make(map[*failureBucket[V]]struct{}, len(fp.buckets))
	for _, b := range fp.buckets {
		seen[b] = struct{}{}
	}
	return len(seen)
}

// Get returns the value recorded for a fingerprint.
func (fp *FailurePool[V]) Get(f Fingerprint) (V, bool) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	b, ok := fp.buckets[f]
	if !ok {
		var zero V
		return zero, false
	}
	return fp.inputs.get(b.id)
}

// FailureSnapshot is one bucket's entry in a FailurePoolSnapshot.
type FailureSnapshot struct {
	Fingerprint  uint64  `json:"fingerprint"`
	Complexity   float64 `json:"complexity"`
	Display      string  `json:"display"`
	SimilarCount int     `json:"similarCount"`
}

// FailurePoolSnapshot is the JSON-serialisable point-in-time view of a
// failure pool that World.WriteSnapshot persists per spec.md §6.
type FailurePoolSnapshot struct {
	Failures []FailureSnapshot `json:"failures"`
}

// Snapshot captures one entry per recorded fingerprint; a bucket that
// TLSH aliasing shares between fingerprints appears once per fingerprint.
func (fp *FailurePool[V]) Snapshot() FailurePoolSnapshot {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	snap := FailurePoolSnapshot{Failures: make([]FailureSnapshot, 0, len(fp.buckets))}
	for f, b := range fp.buckets {
		snap.Failures = append(snap.Failures, FailureSnapshot{
			Fingerprint:  uint64(f),
			Complexity:   b.complexity,
			Display:      b.display,
			SimilarCount: b.similarCount,
		})
	}
	return snap
}
