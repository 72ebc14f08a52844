// Package pool implements the fuzzer's scored, rank-weighted input pool:
// the admission/eviction policy that decides which inputs are interesting
// enough to keep, and the Fenwick-backed weighted sampler that biases
// random selection toward high-value inputs.
//
// The design mirrors the teacher's coverage package in spirit — a global
// map of observed behaviour feeding a scheduler that reweights entries as
// new coverage arrives (see internal/coverage/feedback.go's
// InputScheduler) — but replaces its round-robin placeholder with the
// spec's full least-complex-activator bookkeeping, backed by the
// slab/Fenwick primitives instead of a plain map.
package pool

import (
	"fmt"
	"math/rand"

	"github.com/corefuzz/corefuzz/internal/slab"
	"github.com/corefuzz/corefuzz/pkg/feature"
)

// ID identifies a live pool entry; stable across the entry's lifetime.
type ID = slab.Key

// IDString renders an ID as the stable "<index>-<gen>" text used for
// corpus/snapshot bookkeeping.
func IDString(id ID) string { return fmt.Sprintf("%d-%d", id.Index, id.Gen) }

// Entry describes one side of a CorpusDelta: an input's pool identity,
// its value, and its complexity.
type Entry[V any] struct {
	ID         ID
	Value      V
	Complexity float64
}

// Delta describes what a single Observe call changed: the newly admitted
// entry (nil if the input was not interesting) and every entry evicted as
// a side effect.
type Delta[V any] struct {
	Added   *Entry[V]
	Removed []Entry[V]
}

// Empty reports whether the delta carries no changes at all.
func (d Delta[V]) Empty() bool { return d.Added == nil && len(d.Removed) == 0 }

// Stats summarises the pool's current state.
type Stats struct {
	Size          int
	AvgComplexity float64
	TotalScore    float64
	FeatureCount  int
	CoverageRatio float64
}

type inputRecord[V any] struct {
	value       V
	complexity  float64
	allFeatures []feature.Feature
	leastFor    map[feature.Feature]struct{}
	score       float64
	timesChosen int
}

type featureRecord struct {
	activators map[ID]struct{}
	leastID    ID
	leastCplx  float64
	score      float64
}

// Config selects the pool's score-model variant and sampling knobs.
type Config struct {
	// GroupWeighted adopts the group-size-weighted scoring table from
	// §4.D instead of the plain 1/activator_count rule. Both flavours
	// coexist in the source this spec distils from; corefuzz defaults
	// to the plain rule (see DESIGN.md) and this flag opts into the
	// other.
	GroupWeighted bool

	// Rand supplies randomness for weighted sampling; defaults to a
	// package-seeded rand.Rand if nil.
	Rand *rand.Rand
}

// Pool is the scored input pool of §4.D.
type Pool[V any] struct {
	cfg Config
	rng *rand.Rand

	inputs   *slab.Slab[*inputRecord[V]]
	features map[feature.Feature]*featureRecord
	groupSz  map[feature.Feature]int // group id -> distinct-feature count

	order   []ID // dense Fenwick-position -> ID
	posOf   map[ID]int
	fenwick *slab.Fenwick

	favored    *ID
	maxCplx    float64
	hasMaxCplx bool

	totalGuards int
}

// New creates an empty Pool.
func New[V any](cfg Config) *Pool[V] {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Pool[V]{
		cfg:      cfg,
		rng:      rng,
		inputs:   slab.New[*inputRecord[V]](),
		features: make(map[feature.Feature]*featureRecord),
		groupSz:  make(map[feature.Feature]int),
		posOf:    make(map[ID]int),
		fenwick:  slab.NewFenwick(nil),
	}
}

// SetTotalGuards records the sensor's edge-guard ceiling, used only to
// compute Stats().CoverageRatio.
func (p *Pool[V]) SetTotalGuards(n int) { p.totalGuards = n }

func groupWeight(n int) float64 {
	w := 1.0 + 0.1*float64(n-1)
	if w > 2.0 {
		w = 2.0
	}
	return w
}

func (p *Pool[V]) featureScore(f feature.Feature, activatorCount int) float64 {
	if activatorCount <= 0 {
		return 0
	}
	base := f.Tag().Score() / float64(activatorCount)
	if !p.cfg.GroupWeighted {
		return base
	}
	n := p.groupSz[f.Group()]
	if n <= 0 {
		n = 1
	}
	return f.Tag().Score() * groupWeight(n) / (float64(n) * float64(activatorCount))
}

// Observe is the admission entry point: given a candidate value, its
// complexity, and the features it activated, decide whether it is
// interesting and, if so, admit it and evict anything it subsumes.
func (p *Pool[V]) Observe(value V, complexity float64, observations []feature.Feature) Delta[V] {
	if p.hasMaxCplx && complexity > p.maxCplx {
		return Delta[V]{}
	}

	interesting := false
	for _, f := range observations {
		fr, ok := p.features[f]
		if !ok || complexity < fr.leastCplx {
			interesting = true
			break
		}
	}
	if !interesting {
		return Delta[V]{}
	}

	newRec := &inputRecord[V]{
		value:       value,
		complexity:  complexity,
		allFeatures: append([]feature.Feature(nil), observations...),
		leastFor:    make(map[feature.Feature]struct{}),
		timesChosen: 1,
	}
	newID := p.inputs.Insert(newRec)

	evictQueue := make([]ID, 0, 4)
	queued := map[ID]struct{}{}
	enqueueEvict := func(id ID) {
		if _, already := queued[id]; already {
			return
		}
		queued[id] = struct{}{}
		evictQueue = append(evictQueue, id)
	}

	changed := map[feature.Feature]struct{}{}

	for _, f := range observations {
		changed[f] = struct{}{}
		fr, ok := p.features[f]
		if !ok {
			fr = &featureRecord{
				activators: map[ID]struct{}{newID: {}},
				leastID:    newID,
				leastCplx:  complexity,
			}
			p.features[f] = fr
			p.groupSz[f.Group()]++
			newRec.leastFor[f] = struct{}{}
			continue
		}

		if _, already := fr.activators[newID]; !already {
			fr.activators[newID] = struct{}{}
			// rescoreLocked only propagates the change in a feature's score,
			// so a new activator starts from the feature's current share.
			newRec.score += fr.score
		}

		if complexity <= fr.leastCplx {
			if fr.leastID != newID {
				if oldOwner, ok := p.inputs.Get(fr.leastID); ok {
					delete(oldOwner.leastFor, f)
					if len(oldOwner.leastFor) == 0 {
						enqueueEvict(fr.leastID)
					}
				}
				fr.leastID = newID
			}
			fr.leastCplx = complexity
			newRec.leastFor[f] = struct{}{}
		}
	}

	removed := make([]Entry[V], 0, len(evictQueue))
	for _, id := range evictQueue {
		if id == newID {
			continue
		}
		rec, ok := p.inputs.Get(id)
		if !ok {
			continue
		}
		for _, f := range rec.allFeatures {
			changed[f] = struct{}{}
		}
		removed = append(removed, Entry[V]{ID: id, Value: rec.value, Complexity: rec.complexity})
		p.evictLocked(id, rec)
	}

	p.rescoreLocked(changed)
	p.rebuildFenwickLocked()

	return Delta[V]{
		Added:   &Entry[V]{ID: newID, Value: value, Complexity: complexity},
		Removed: removed,
	}
}

// evictLocked removes id from every feature it activates, deleting any
// feature record whose activator count hits zero, and finally drops the
// input from the slab. Scores are NOT recomputed here; the caller batches
// rescoring across every feature touched by the whole admission.
func (p *Pool[V]) evictLocked(id ID, rec *inputRecord[V]) {
	for _, f := range rec.allFeatures {
		fr, ok := p.features[f]
		if !ok {
			continue
		}
		delete(fr.activators, id)
		if len(fr.activators) == 0 {
			delete(p.features, f)
			p.groupSz[f.Group()]--
			if p.groupSz[f.Group()] <= 0 {
				delete(p.groupSz, f.Group())
			}
			continue
		}
		if fr.leastID == id {
			// The evicted input held this feature at the lowest complexity;
			// hand ownership to the least-complex surviving activator.
			first := true
			var bestID ID
			var best float64
			for a := range fr.activators {
				ar, ok := p.inputs.Get(a)
				if !ok {
					continue
				}
				if first || ar.complexity < best {
					bestID, best, first = a, ar.complexity, false
				}
			}
			if !first {
				fr.leastID = bestID
				fr.leastCplx = best
				if ar, ok := p.inputs.Get(bestID); ok {
					ar.leastFor[f] = struct{}{}
				}
			}
		}
	}
	p.inputs.Remove(id)
}

// rescoreLocked recomputes feature_score for every feature in changed and
// propagates the delta to each of its current activators' running score.
func (p *Pool[V]) rescoreLocked(changed map[feature.Feature]struct{}) {
	for f := range changed {
		fr, ok := p.features[f]
		if !ok {
			continue
		}
		newScore := p.featureScore(f, len(fr.activators))
		delta := newScore - fr.score
		fr.score = newScore
		if delta == 0 {
			continue
		}
		for activator := range fr.activators {
			if rec, ok := p.inputs.Get(activator); ok {
				rec.score += delta
			}
		}
	}
}

// rebuildFenwickLocked rebuilds the sampling tree from score/times_chosen
// over every live input, per §4.D step 6.
func (p *Pool[V]) rebuildFenwickLocked() {
	keys := p.inputs.Keys()
	p.order = keys
	p.posOf = make(map[ID]int, len(keys))
	weights := make([]float64, len(keys))
	for i, id := range keys {
		p.posOf[id] = i
		rec := p.inputs.MustGet(id)
		weights[i] = rec.score / float64(maxInt(rec.timesChosen, 1))
	}
	p.fenwick.Rebuild(weights)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RandomIndex draws a weighted-random live input, incrementing its
// times-chosen counter and decaying its sampling weight accordingly. When
// a favoured input is installed (minification mode), it is returned with
// probability ~1/4, or always when no other input remains.
func (p *Pool[V]) RandomIndex() (ID, V, bool) {
	var zero V
	if p.inputs.Len() == 0 {
		return ID{}, zero, false
	}

	if p.favored != nil {
		if p.inputs.Len() == 1 || p.rng.Intn(4) == 0 {
			id := *p.favored
			if rec, ok := p.inputs.Get(id); ok {
				return id, rec.value, true
			}
		}
	}

	total := p.fenwick.Total()
	if total <= 0 {
		// All live inputs are dead-ended; fall back to uniform choice.
		n := len(p.order)
		id := p.order[p.rng.Intn(n)]
		rec, ok := p.inputs.Get(id)
		if !ok {
			return ID{}, zero, false
		}
		p.bumpChosenLocked(id, rec)
		return id, rec.value, true
	}

	u := p.rng.Float64() * total
	pos, ok := p.fenwick.FirstIndexPastPrefixSum(u)
	if !ok {
		pos = len(p.order) - 1
	}
	id := p.order[pos]
	rec, ok := p.inputs.Get(id)
	if !ok {
		return ID{}, zero, false
	}
	p.bumpChosenLocked(id, rec)
	return id, rec.value, true
}

func (p *Pool[V]) bumpChosenLocked(id ID, rec *inputRecord[V]) {
	rec.timesChosen++
	if pos, ok := p.posOf[id]; ok {
		p.fenwick.Update(pos, rec.score/float64(rec.timesChosen))
	}
}

// MarkDeadEnd zeroes an input's score so it stops being sampled, without
// removing it from the pool.
func (p *Pool[V]) MarkDeadEnd(id ID) {
	rec, ok := p.inputs.Get(id)
	if !ok {
		return
	}
	rec.score = 0
	if pos, ok := p.posOf[id]; ok {
		p.fenwick.Update(pos, 0)
	}
}

// Get returns the value stored at id.
func (p *Pool[V]) Get(id ID) (V, bool) {
	rec, ok := p.inputs.Get(id)
	var zero V
	if !ok {
		return zero, false
	}
	return rec.value, true
}

// Len returns the number of live entries.
func (p *Pool[V]) Len() int { return p.inputs.Len() }

// TotalScore returns the Fenwick total, the sum over live entries of
// score/times_chosen, which CompositePool uses to weight dispatch between
// sub-pools.
func (p *Pool[V]) TotalScore() float64 { return p.fenwick.Total() }

// Stats reports the pool's current size/score/coverage summary.
func (p *Pool[V]) Stats() Stats {
	s := Stats{Size: p.inputs.Len(), FeatureCount: len(p.features)}
	if s.Size == 0 {
		return s
	}
	totalCplx := 0.0
	p.inputs.Each(func(_ slab.Key, rec *inputRecord[V]) bool {
		totalCplx += rec.complexity
		s.TotalScore += rec.score
		return true
	})
	s.AvgComplexity = totalCplx / float64(s.Size)
	if p.totalGuards > 0 {
		edgeGroups := 0
		for f := range p.features {
			if f.Tag() == feature.TagEdge {
				edgeGroups++
			}
		}
		s.CoverageRatio = float64(edgeGroups) / float64(p.totalGuards)
	}
	return s
}

// Reduce evicts the least-scoring input repeatedly until the pool's size
// is at most target. Used by minify-corpus mode.
func (p *Pool[V]) Reduce(target int) []Entry[V] {
	var removed []Entry[V]
	for p.inputs.Len() > target {
		worstID, worstScore, found := ID{}, 0.0, false
		p.inputs.Each(func(id slab.Key, rec *inputRecord[V]) bool {
			if !found || rec.score < worstScore {
				worstID, worstScore, found = id, rec.score, true
			}
			return true
		})
		if !found {
			break
		}
		rec := p.inputs.MustGet(worstID)
		changed := map[feature.Feature]struct{}{}
		for _, f := range rec.allFeatures {
			changed[f] = struct{}{}
		}
		removed = append(removed, Entry[V]{ID: worstID, Value: rec.value, Complexity: rec.complexity})
		p.evictLocked(worstID, rec)
		p.rescoreLocked(changed)
	}
	p.rebuildFenwickLocked()
	return removed
}

// SetFavored installs a favoured single-artifact input for minification
// mode: random_index will return it with elevated probability, and the
// admission ceiling shrinks just below its complexity so any further
// admission is a strictly smaller witness.
func (p *Pool[V]) SetFavored(id ID) {
	rec, ok := p.inputs.Get(id)
	if !ok {
		return
	}
	p.favored = &id
	p.maxCplx = rec.complexity * 0.999
	p.hasMaxCplx = true
}

// MaxComplexity reports the current admission ceiling, if one is set.
func (p *Pool[V]) MaxComplexity() (float64, bool) { return p.maxCplx, p.hasMaxCplx }

// FeatureSnapshot is one feature's entry in a Snapshot: the feature's
// current activator-weighted score and which input currently holds it at
// the lowest complexity.
type FeatureSnapshot struct {
	Feature         uint64  `json:"feature"`
	BestInput       string  `json:"bestInput"`
	LeastComplexity float64 `json:"leastComplexity"`
	Score           float64 `json:"score"`
}

// InputSnapshot is one live input's entry in a Snapshot.
type InputSnapshot struct {
	ID          string   `json:"id"`
	Complexity  float64  `json:"complexity"`
	Score       float64  `json:"score"`
	TimesChosen int      `json:"timesChosen"`
	Features    []uint64 `json:"features"`
}

// Snapshot is the JSON-serialisable point-in-time view of a pool that
// World.WriteSnapshot persists per spec.md §6: the live feature set, the
// best (least-complex) activator of each, and a per-input ranking.
type Snapshot struct {
	Features []FeatureSnapshot `json:"features"`
	Inputs   []InputSnapshot   `json:"inputs"`
}

// Snapshot captures the pool's current feature map and input ranking.
func (p *Pool[V]) Snapshot() Snapshot {
	snap := Snapshot{
		Features: make([]FeatureSnapshot, 0, len(p.features)),
		Inputs:   make([]InputSnapshot, 0, p.inputs.Len()),
	}
	for f, fr := range p.features {
		snap.Features = append(snap.Features, FeatureSnapshot{
			Feature:         uint64(f),
			BestInput:       IDString(fr.leastID),
			LeastComplexity: fr.leastCplx,
			Score:           fr.score,
		})
	}
	p.inputs.Each(func(id slab.Key, rec *inputRecord[V]) bool {
		featIDs := make([]uint64, len(rec.allFeatures))
		for i, f := range rec.allFeatures {
			featIDs[i] = uint64(f)
		}
		snap.Inputs = append(snap.Inputs, InputSnapshot{
			ID:          IDString(id),
			Complexity:  rec.complexity,
			Score:       rec.score,
			TimesChosen: rec.timesChosen,
			Features:    featIDs,
		})
		return true
	})
	return snap
}
