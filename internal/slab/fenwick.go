package slab

// Fenwick is a binary-indexed tree over non-negative f64 weights supporting
// O(log n) prefix-sum queries, O(log n) point updates, and O(log n)
// weighted sampling via a binary search over prefix sums.
type Fenwick struct {
	tree  []float64 // 1-indexed internally
	raw   []float64 // the underlying weight at each 0-indexed position
	total float64
}

// NewFenwick builds a Fenwick tree over the given weights, which must all
// be non-negative.
func NewFenwick(weights []float64) *Fenwick {
	n := len(weights)
	f := &Fenwick{
		tree: make([]float64, n+1),
		raw:  make([]float64, n),
	}
	for i, w := range weights {
		f.add(i, w)
	}
	return f
}

// Len returns the number of tracked positions.
func (f *Fenwick) Len() int { return len(f.raw) }

// Total returns the sum of all weights.
func (f *Fenwick) Total() float64 { return f.total }

// At returns the current weight at position i.
func (f *Fenwick) At(i int) float64 {
	if i < 0 || i >= len(f.raw) {
		return 0
	}
	return f.raw[i]
}

// add applies delta to position i (0-indexed) in O(log n).
func (f *Fenwick) add(i int, delta float64) {
	if delta == 0 {
		return
	}
	f.raw[i] += delta
	f.total += delta
	for idx := i + 1; idx < len(f.tree); idx += idx & (-idx) {
		f.tree[idx] += delta
	}
}

// Update sets position i's weight to weight, in O(log n).
func (f *Fenwick) Update(i int, weight float64) {
	if i < 0 || i >= len(f.raw) {
		return
	}
	f.add(i, weight-f.raw[i])
}

// PrefixSum returns the sum of weights at positions [0, i], inclusive.
func (f *Fenwick) PrefixSum(i int) float64 {
	if i < 0 {
		return 0
	}
	if i >= len(f.raw) {
		i = len(f.raw) - 1
	}
	sum := 0.0
	for idx := i + 1; idx > 0; idx -= idx & (-idx) {
		sum += f.tree[idx]
	}
	return sum
}

// FirstIndexPastPrefixSum returns the smallest index i whose prefix sum
// (inclusive of i) strictly exceeds x. Used for weighted sampling: draw
// u uniformly from [0, Total()) and call FirstIndexPastPrefixSum(u).
// Returns (0, false) if the tree is empty or x is at/past the total.
func (f *Fenwick) FirstIndexPastPrefixSum(x float64) (int, bool) {
	n := len(f.raw)
	if n == 0 || x >= f.total {
		return 0, false
	}
	if x < 0 {
		x = 0
	}

	pos := 0
	remaining := x
	logSize := 1
	for logSize<<1 <= n {
		logSize <<= 1
	}
	for step := logSize; step > 0; step >>= 1 {
		next := pos + step
		if next <= n && f.tree[next] <= remaining {
			pos = next
			remaining -= f.tree[next]
		}
	}
	// pos is the largest index (1-indexed) with prefix_sum(pos) <= x;
	// the answer is the next live 0-indexed slot.
	if pos >= n {
		return n - 1, true
	}
	return pos, true
}

// Append grows the tree by one position with the given initial weight and
// returns its 0-indexed position. Rebuilds the tree (the pool's admission
// procedure already calls Rebuild after a batch of structural changes, so
// this path is used only for the rare single-entry growth).
func (f *Fenwick) Append(weight float64) int {
	weights := make([]float64, len(f.raw)+1)
	copy(weights, f.raw)
	weights[len(weights)-1] = weight
	f.Rebuild(weights)
	return len(f.raw) - 1
}

// Rebuild replaces all weights and rebuilds the tree from scratch in
// O(n). Used by the pool after a batch of admissions/evictions that
// change many scores at once, since incremental rebuilding per-change can
// be more expensive than one bulk rebuild per observe() call.
func (f *Fenwick) Rebuild(weights []float64) {
	n := len(weights)
	f.tree = make([]float64, n+1)
	f.raw = make([]float64, n)
	f.total = 0
	copy(f.raw, weights)
	for i, w := range weights {
		f.total += w
		for idx := i + 1; idx < len(f.tree); idx += idx & (-idx) {
			f.tree[idx] += w
		}
	}
}
