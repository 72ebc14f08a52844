package pool

import "math/rand"

// NamedDelta stamps a Delta with the sub-pool name it came from, so the
// world can route added/removed files into distinct subdirectories.
type NamedDelta[V any] struct {
	PoolName string
	Delta    Delta[V]
}

// Scorer is the minimal surface CompositePool needs from a wrapped pool:
// total score (for the weighted dispatch of random_index) and size.
type Scorer interface {
	TotalScore() float64
	Len() int
}

// Sub is the pool surface CompositePool dispatches to. V is the input
// value type shared by both wrapped pools.
type Sub[V any] interface {
	Scorer
	RandomIndex() (ID, V, bool)
}

// CompositePool combines two named pools with a weight ratio (w1, w2) for
// sampling: random_index picks pool 1 with
// probability (w1*s1)/(w1*s1+w2*s2) where si is pool i's total score.
type CompositePool[V any] struct {
	name1, name2 string
	w1, w2       float64
	pool1, pool2 Sub[V]
	rng          *rand.Rand
}

// NewCompositePool builds an AND-combinator over two named, weighted
// pools.
func NewCompositePool[V any](name1 string, pool1 Sub[V], w1 float64, name2 string, pool2 Sub[V], w2 float64, rng *rand.Rand) *CompositePool[V] {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &CompositePool[V]{
		name1: name1, pool1: pool1, w1: w1,
		name2: name2, pool2: pool2, w2: w2,
		rng: rng,
	}
}

// Dispatch concatenates the corpus deltas that the caller obtained by
// running each wrapped pool's Observe, stamping each with its sub-pool
// name and dropping empty ones.
func Dispatch[V any](name1 string, d1 Delta[V], name2 string, d2 Delta[V]) []NamedDelta[V] {
	out := make([]NamedDelta[V], 0, 2)
	if !d1.Empty() {
		out = append(out, NamedDelta[V]{PoolName: name1, Delta: d1})
	}
	if !d2.Empty() {
		out = append(out, NamedDelta[V]{PoolName: name2, Delta: d2})
	}
	return out
}

// TotalScore returns the weighted score w1*s1 + w2*s2, so a composite can
// itself be weighed against further pools by an outer dispatcher.
func (c *CompositePool[V]) TotalScore() float64 {
	return c.w1*c.pool1.TotalScore() + c.w2*c.pool2.TotalScore()
}

// Len returns the combined size of both sub-pools.
func (c *CompositePool[V]) Len() int { return c.pool1.Len() + c.pool2.Len() }

// RandomIndex picks pool 1 with probability (w1*s1)/(w1*s1+w2*s2), else
// pool 2, and delegates.
func (c *CompositePool[V]) RandomIndex() (string, ID, V, bool) {
	s1 := c.w1 * c.pool1.TotalScore()
	s2 := c.w2 * c.pool2.TotalScore()
	total := s1 + s2

	pickFirst := true
	if total > 0 {
		pickFirst = c.rng.Float64()*total < s1
	} else {
		pickFirst = c.pool1.Len() > 0
	}

	if pickFirst && c.pool1.Len() > 0 {
		id, v, ok := c.pool1.RandomIndex()
		return c.name1, id, v, ok
	}
	if c.pool2.Len() > 0 {
		id, v, ok := c.pool2.RandomIndex()
		return c.name2, id, v, ok
	}
	var zero V
	return "", ID{}, zero, false
}
