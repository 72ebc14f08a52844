package pool

import (
	"math/rand"

	"github.com/corefuzz/corefuzz/internal/slab"
)

// CounterObservation is one raw (location, counter value) pair as read off
// the sensor's edge table, before bucketing. The maximise pool consumes
// these instead of bucketed features: it cares about the exact counter
// value, which the feature payload's log-bucket erases.
type CounterObservation struct {
	Location uint32
	Value    uint16
}

type maxInputRecord[V any] struct {
	value       V
	complexity  float64
	bestFor     map[uint32]struct{}
	score       float64
	timesChosen int
}

// MaximisePool keeps, per counter location, the input that drives that
// counter to its highest value seen so far (ties broken by smaller
// complexity). An input's score is the number of counters it currently
// holds the record for; an input holding no records is evicted. Sampling
// is Fenwick-weighted by score/times_chosen, like the main pool.
type MaximisePool[V any] struct {
	rng *rand.Rand

	inputs        *slab.Slab[*maxInputRecord[V]]
	highestCounts map[uint32]uint16
	complexities  map[uint32]float64
	bestFor       map[uint32]ID

	order   []ID
	posOf   map[ID]int
	fenwick *slab.Fenwick
}

// NewMaximisePool creates an empty MaximisePool.
func NewMaximisePool[V any](rng *rand.Rand) *MaximisePool[V] {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &MaximisePool[V]{
		rng:           rng,
		inputs:        slab.New[*maxInputRecord[V]](),
		highestCounts: make(map[uint32]uint16),
		complexities:  make(map[uint32]float64),
		bestFor:       make(map[uint32]ID),
		posOf:         make(map[ID]int),
		fenwick:       slab.NewFenwick(nil),
	}
}

// Observe admits value if it sets a new record for at least one counter:
// a strictly higher value, or an equal value at strictly lower complexity.
// The previous record holder for each beaten counter loses that counter
// from its set and is evicted once its set is empty.
func (p *MaximisePool[V]) Observe(value V, complexity float64, observations []CounterObservation) Delta[V] {
	records := make([]CounterObservation, 0, 4)
	for _, o := range observations {
		best, seen := p.highestCounts[o.Location]
		switch {
		case !seen || o.Value > best:
			records = append(records, o)
		case o.Value == best && complexity < p.complexities[o.Location]:
			records = append(records, o)
		}
	}
	if len(records) == 0 {
		return Delta[V]{}
	}

	newRec := &maxInputRecord[V]{
		value:       value,
		complexity:  complexity,
		bestFor:     make(map[uint32]struct{}, len(records)),
		score:       float64(len(records)),
		timesChosen: 1,
	}
	newID := p.inputs.Insert(newRec)

	var evict []ID
	for _, r := range records {
		newRec.bestFor[r.Location] = struct{}{}
		p.highestCounts[r.Location] = r.Value
		p.complexities[r.Location] = complexity

		if prevID, ok := p.bestFor[r.Location]; ok {
			if prev, live := p.inputs.Get(prevID); live {
				delete(prev.bestFor, r.Location)
				prev.score = float64(len(prev.bestFor))
				if len(prev.bestFor) == 0 {
					evict = append(evict, prevID)
				}
			}
		}
		p.bestFor[r.Location] = newID
	}

	removed := make([]Entry[V], 0, len(evict))
	for _, id := range evict {
		rec, ok := p.inputs.Get(id)
		if !ok {
			continue
		}
		removed = append(removed, Entry[V]{ID: id, Value: rec.value, Complexity: rec.complexity})
		p.inputs.Remove(id)
	}

	p.rebuild()

	return Delta[V]{
		Added:   &Entry[V]{ID: newID, Value: value, Complexity: complexity},
		Removed: removed,
	}
}

func (p *MaximisePool[V]) rebuild() {
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

// RandomIndex draws a weighted-random record holder, decaying its
// sampling weight by the times-chosen counter exactly as Pool does.
func (p *MaximisePool[V]) RandomIndex() (ID, V, bool) {
	var zero V
	if p.inputs.Len() == 0 {
		return ID{}, zero, false
	}
	total := p.fenwick.Total()
	var id ID
	if total <= 0 {
		id = p.order[p.rng.Intn(len(p.order))]
	} else {
		u := p.rng.Float64() * total
		pos, ok := p.fenwick.FirstIndexPastPrefixSum(u)
		if !ok {
			pos = len(p.order) - 1
		}
		id = p.order[pos]
	}
	rec, ok := p.inputs.Get(id)
	if !ok {
		return ID{}, zero, false
	}
	rec.timesChosen++
	if pos, ok := p.posOf[id]; ok {
		p.fenwick.Update(pos, rec.score/float64(rec.timesChosen))
	}
	return id, rec.value, true
}

// Get returns the value stored at id.
func (p *MaximisePool[V]) Get(id ID) (V, bool) {
	rec, ok := p.inputs.Get(id)
	var zero V
	if !ok {
		return zero, false
	}
	return rec.value, true
}

// Len returns the number of live record holders.
func (p *MaximisePool[V]) Len() int { return p.inputs.Len() }

// TotalScore returns the Fenwick total, the weight this pool carries when
// an admitter splits sampling between it and the feature-novelty pools.
func (p *MaximisePool[V]) TotalScore() float64 { return p.fenwick.Total() }

// TotalCounts sums the highest value recorded per counter, the headline
// number this pool's snapshot reports.
func (p *MaximisePool[V]) TotalCounts() uint64 {
	var sum uint64
	for _, v := range p.highestCounts {
		sum += uint64(v)
	}
	return sum
}

// MaximiseSnapshot is the JSON-serialisable point-in-time view of a
// MaximisePool that World.WriteSnapshot persists.
type MaximiseSnapshot struct {
	TotalCounts uint64          `json:"totalCounts"`
	Counters    []CounterRecord `json:"counters"`
	Inputs      []InputSnapshot `json:"inputs"`
}

// CounterRecord is one counter's entry in a MaximiseSnapshot.
type CounterRecord struct {
	Location   uint32  `json:"location"`
	Highest    uint16  `json:"highest"`
	BestInput  string  `json:"bestInput"`
	Complexity float64 `json:"complexity"`
}

// Snapshot captures every counter record and input currently held.
func (p *MaximisePool[V]) Snapshot() MaximiseSnapshot {
	snap := MaximiseSnapshot{
		TotalCounts: p.TotalCounts(),
		Counters:    make([]CounterRecord, 0, len(p.highestCounts)),
		Inputs:      make([]InputSnapshot, 0, p.inputs.Len()),
	}
	for loc, v := range p.highestCounts {
		snap.Counters = append(snap.Counters, CounterRecord{
			Location:   loc,
			Highest:    v,
			BestInput:  IDString(p.bestFor[loc]),
			Complexity: p.complexities[loc],
		})
	}
	p.inputs.Each(func(id slab.Key, rec *maxInputRecord[V]) bool {
		locs := make([]uint64, 0, len(rec.bestFor))
		for loc := range rec.bestFor {
			locs = append(locs, uint64(loc))
		}
		snap.Inputs = append(snap.Inputs, InputSnapshot{
			ID:          IDString(id),
			Complexity:  rec.complexity,
			Score:       rec.score,
			TimesChosen: rec.timesChosen,
			Features:    locs,
		})
		return true
	})
	return snap
}
