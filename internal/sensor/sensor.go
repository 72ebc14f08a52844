// Package sensor implements the coverage-guided fuzzer's process-wide
// instrumentation sink: the callbacks compiler-inserted guards call into,
// and the distillation of those callbacks into ordered feature.Feature
// values the pool can score.
//
// A Sensor is an ordinary value created by New; the package keeps no
// global instance and does not enforce that only one exists. A run creates
// one and shares it between the instrumented target and the fuzzer loop.
// It records a richer feature set (edges, comparisons, indirect calls,
// switches, GEPs) than the teacher's AFL-style flat byte bitmap.
package sensor

import (
	"math/bits"
	"sort"
	"sync"

	"github.com/corefuzz/corefuzz/pkg/feature"
)

// maxGuards is the global ceiling on distinct edge guards a single process
// may register, matching the spec's 2^21 bound.
const maxGuards = 1 << 21

// Sensor holds the recording flag, the edge-counter table, and the
// accumulated comparison/indirect feature set for the execution currently
// being recorded. A single Sensor is meant to be shared process-wide with
// exactly one legitimate mutator: the fuzzer's own thread.
type Sensor struct {
	mu sync.Mutex

	nextGuard uint32
	edges     map[uint32]uint16 // guard id -> wrapping 16-bit counter
	aux       map[feature.Feature]struct{}

	recording bool
}

// New creates an unstarted Sensor.
func New() *Sensor {
	return &Sensor{
		edges: make(map[uint32]uint16),
		aux:   make(map[feature.Feature]struct{}),
	}
}

// InitRange is called once per instrumented translation unit; it assigns
// each guard in a contiguous range a unique non-zero id. Guard ids issued
// this way never change for the process's lifetime.
func (s *Sensor) InitRange(count int) (start uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextGuard == 0 {
		s.nextGuard = 1 // reserve 0 as "no guard"
	}
	if uint64(s.nextGuard)+uint64(count) > maxGuards {
		panic("sensor: guard id ceiling exceeded")
	}
	start = s.nextGuard
	s.nextGuard += uint32(count)
	return start, nil
}

// StartRecording enables callback processing. While not recording, every
// callback below is an O(1) no-op.
func (s *Sensor) StartRecording() {
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()
}

// StopRecording disables callback processing.
func (s *Sensor) StopRecording() {
	s.mu.Lock()
	s.recording = false
	s.mu.Unlock()
}

// IsRecording reports whether callbacks are currently being processed.
func (s *Sensor) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// PCGuard is the edge callback: it increments (wrapping, 16-bit) the
// counter for the given guard id.
func (s *Sensor) PCGuard(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.edges[id]++
}

// cmp inserts a comparison feature for the given pc and operands.
func (s *Sensor) cmp(pc uint32, a, b uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.aux[feature.Comparison(pc, a, b)] = struct{}{}
}

// Cmp1 records an 8-bit comparison.
func (s *Sensor) Cmp1(pc uint32, a, b uint8) { s.cmp(pc, uint64(a), uint64(b)) }

// Cmp2 records a 16-bit comparison.
func (s *Sensor) Cmp2(pc uint32, a, b uint16) { s.cmp(pc, uint64(a), uint64(b)) }

// Cmp4 records a 32-bit comparison.
func (s *Sensor) Cmp4(pc uint32, a, b uint32) { s.cmp(pc, uint64(a), uint64(b)) }

// Cmp8 records a 64-bit comparison.
func (s *Sensor) Cmp8(pc uint32, a, b uint64) { s.cmp(pc, a, b) }

// Cmp1Const, Cmp2Const, Cmp4Const, Cmp8Const record a comparison against a
// compile-time constant; they share the same semantics as their non-const
// counterparts (the split exists in the source ABI purely so the compiler
// can fold constant-operand comparisons cheaply).
func (s *Sensor) Cmp1Const(pc uint32, a, b uint8)  { s.Cmp1(pc, a, b) }
func (s *Sensor) Cmp2Const(pc uint32, a, b uint16) { s.Cmp2(pc, a, b) }
func (s *Sensor) Cmp4Const(pc uint32, a, b uint32) { s.Cmp4(pc, a, b) }
func (s *Sensor) Cmp8Const(pc uint32, a, b uint64) { s.Cmp8(pc, a, b) }

// PCIndir records an indirect-call pair.
func (s *Sensor) PCIndir(callerPC, calleePC uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	s.aux[feature.Indir(callerPC, calleePC)] = struct{}{}
}

// Switch synthesises one comparison-like feature per case by folding val
// against each case constant. The exact synthesised value is
// implementation-defined (the source's own "fold over case constants"
// logic carries a self-admitted "not sure this is correct" comment); the
// only contract is that distinct (val, cases) tuples tend to produce
// distinct features and equal tuples produce equal features, which this
// achieves by hashing val against each case through the ordinary
// comparison feature constructor.
func (s *Sensor) Switch(pc uint32, val uint64, cases []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}
	for i, c := range cases {
		// Fold the case index into the pc so that the same val/case pair
		// appearing at different positions in the case list still yields
		// distinct locations, matching distinct switch arms.
		armPC := pc ^ uint32(i)*2654435761
		s.aux[feature.Comparison(armPC, val, c)] = struct{}{}
	}
}

// GEP delegates to the comparison callback with the second operand fixed
// at 0, per the spec's GEP/division folding rule.
func (s *Sensor) GEP(pc uint32, index uint64) {
	s.cmp(pc, index, 0)
}

// Div delegates to the comparison callback with the second operand fixed
// at 0.
func (s *Sensor) Div(pc uint32, value uint64) {
	s.cmp(pc, value, 0)
}

// Observation is a single (location, value) pair read off the edge table
// by RawEdgeObservations.
type Observation struct {
	LocationIndex uint32
	CounterValue  uint16
}

// GetObservations yields every recorded feature from the current
// execution — edges folded through feature.Edge plus the accumulated
// comparison/indirect feature set — in a single pass ordered by feature
// value ascending, the order downstream pool merge logic depends on.
func (s *Sensor) GetObservations() []feature.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]feature.Feature, 0, len(s.edges)+len(s.aux))
	for id, count := range s.edges {
		if count == 0 {
			continue
		}
		out = append(out, feature.Edge(id, count))
	}
	for f := range s.aux {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return feature.Less(out[i], out[j]) })
	return out
}

// RawEdgeObservations exposes the (location, counter) pairs directly, for
// callers (e.g. tests) that want to inspect raw edge hits rather than
// their folded feature form.
func (s *Sensor) RawEdgeObservations() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Observation, 0, len(s.edges))
	for id, count := range s.edges {
		out = append(out, Observation{LocationIndex: id, CounterValue: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocationIndex < out[j].LocationIndex })
	return out
}

// Clear resets the edge counter map and the auxiliary feature set. It does
// not reset the guard enumeration: guard ids are permanent for the
// process's lifetime.
func (s *Sensor) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = make(map[uint32]uint16)
	s.aux = make(map[feature.Feature]struct{})
}

// GuardCount returns the number of guard ids issued so far, for
// diagnostics.
func (s *Sensor) GuardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextGuard == 0 {
		return 0
	}
	return int(s.nextGuard) - 1
}

// PanicFingerprint hashes a panic's (file, line, col) location into the
// 64-bit fingerprint the failure pool indexes by.
func PanicFingerprint(file string, line, col int) uint64 {
	h := uint64(1469598103934665603) // FNV offset basis
	mix := func(b byte) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	for i := 0; i < len(file); i++ {
		mix(file[i])
	}
	mix(byte(line))
	mix(byte(line >> 8))
	mix(byte(col))
	return h ^ bits.RotateLeft64(uint64(line)<<32|uint64(uint32(col)), 17)
}
