package pool

import (
	"bytes"
	"testing"
)

func TestFailurePoolFirstObservationAdmitted(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	delta := fp.Observe("A", 10, Failure{Fingerprint: 1, Display: "panic at line 1"}, nil)
	if delta.Added == nil || delta.Added.Value != "A" {
		t.Fatal("first failure for a fingerprint must be admitted")
	}
	if fp.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", fp.Len())
	}
}

func TestFailurePoolSmallestComplexityWins(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	fp.Observe("A", 10, Failure{Fingerprint: 1}, nil)

	delta := fp.Observe("B", 3, Failure{Fingerprint: 1}, nil)
	if delta.Added == nil || delta.Added.Value != "B" {
		t.Fatal("a strictly smaller witness of the same fingerprint should replace the current one")
	}
	if len(delta.Removed) != 1 || delta.Removed[0].Value != "A" {
		t.Fatalf("expected A evicted, got %v", delta.Removed)
	}
	if v, ok := fp.Get(1); !ok || v != "B" {
		t.Fatalf("Get(1) = (%q, %v), want (\"B\", true)", v, ok)
	}
}

func TestFailurePoolEqualOrLargerDoesNotReplace(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	fp.Observe("A", 10, Failure{Fingerprint: 1}, nil)

	delta := fp.Observe("B", 10, Failure{Fingerprint: 1}, nil)
	if delta.Added != nil {
		t.Fatal("a witness no smaller than the current owner should not be admitted")
	}
	if fp.NearDuplicateCount(1) != 1 {
		t.Fatalf("NearDuplicateCount(1) = %d, want 1", fp.NearDuplicateCount(1))
	}
}

func TestFailurePoolDistinctFingerprintsCoexist(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	fp.Observe("A", 10, Failure{Fingerprint: 1}, nil)
	fp.Observe("B", 10, Failure{Fingerprint: 2}, nil)
	if fp.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fp.Len())
	}
}

func TestFailurePoolUnknownFingerprintGetFails(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	if _, ok := fp.Get(99); ok {
		t.Fatal("Get on an unrecorded fingerprint should report false")
	}
}

func TestTLSHDistanceRequiresMinimumLength(t *testing.T) {
	short := bytes.Repeat([]byte{'a'}, 10)
	if _, ok := TLSHDistance(short, short); ok {
		t.Fatal("TLSHDistance should report not-ok for inputs shorter than the TLSH minimum")
	}
}

func TestFailurePoolMergesNearDuplicateFingerprintsByTLSH(t *testing.T) {
	fp := NewFailurePool[string](DefaultFailureConfig())
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 3)

	fp.Observe("A", 10, Failure{Fingerprint: 1, Display: "panic at line 10"}, payload)
	if fp.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after first observation", fp.Len())
	}

	// A byte-identical payload under a different fingerprint (as if a
	// refactor shifted the panic's line number) must alias onto the
	// existing bucket rather than opening a second one.
	delta := fp.Observe("A", 10, Failure{Fingerprint: 2, Display: "panic at line 11"}, payload)
	if fp.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after a near-duplicate fingerprint", fp.Len())
	}
	if delta.Added != nil {
		t.Fatal("an equal-complexity near-duplicate should not be admitted as a new entry")
	}
	if fp.NearDuplicateCount(2) != 1 {
		t.Fatalf("NearDuplicateCount(2) = %d, want 1", fp.NearDuplicateCount(2))
	}
}

func TestTLSHDistanceIdenticalInputsAreZero(t *testing.T) {
	long := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 3)
	d, ok := TLSHDistance(long, long)
	if !ok {
		t.Fatal("TLSHDistance should succeed for inputs at or above the TLSH minimum length")
	}
	if d != 0 {
		t.Fatalf("TLSHDistance(x, x) = %d, want 0", d)
	}
}
