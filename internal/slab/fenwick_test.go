package slab

import "testing"

func TestFenwickPrefixSum(t *testing.T) {
	f := NewFenwick([]float64{1, 2, 3, 4, 5})
	if got := f.Total(); got != 15 {
		t.Fatalf("Total() = %v, want 15", got)
	}
	if got := f.PrefixSum(0); got != 1 {
		t.Errorf("PrefixSum(0) = %v, want 1", got)
	}
	if got := f.PrefixSum(2); got != 6 {
		t.Errorf("PrefixSum(2) = %v, want 6", got)
	}
	if got := f.PrefixSum(4); got != 15 {
		t.Errorf("PrefixSum(4) = %v, want 15", got)
	}
}

func TestFenwickUpdate(t *testing.T) {
	f := NewFenwick([]float64{1, 1, 1})
	f.Update(1, 10)
	if got := f.At(1); got != 10 {
		t.Fatalf("At(1) after Update = %v, want 10", got)
	}
	if got := f.Total(); got != 12 {
		t.Fatalf("Total() after Update = %v, want 12", got)
	}
}

func TestFenwickFirstIndexPastPrefixSum(t *testing.T) {
	// Weights 10, 20, 30 -> cumulative 10, 30, 60.
	f := NewFenwick([]float64{10, 20, 30})

	cases := []struct {
		x    float64
		want int
	}{
		{0, 0},
		{9, 0},
		{10, 1},
		{29, 1},
		{30, 2},
		{59, 2},
	}
	for _, c := range cases {
		idx, ok := f.FirstIndexPastPrefixSum(c.x)
		if !ok {
			t.Fatalf("FirstIndexPastPrefixSum(%v) reported not-ok", c.x)
		}
		if idx != c.want {
			t.Errorf("FirstIndexPastPrefixSum(%v) = %d, want %d", c.x, idx, c.want)
		}
	}

	if _, ok := f.FirstIndexPastPrefixSum(60); ok {
		t.Error("FirstIndexPastPrefixSum(total) should report not-ok")
	}
}

func TestFenwickEmptyTree(t *testing.T) {
	f := NewFenwick(nil)
	if f.Total() != 0 || f.Len() != 0 {
		t.Fatal("empty Fenwick tree should have zero total and length")
	}
	if _, ok := f.FirstIndexPastPrefixSum(0); ok {
		t.Error("FirstIndexPastPrefixSum on an empty tree should report not-ok")
	}
}

func TestFenwickAppend(t *testing.T) {
	f := NewFenwick([]float64{1, 2})
	idx := f.Append(3)
	if idx != 2 {
		t.Fatalf("Append returned index %d, want 2", idx)
	}
	if f.Total() != 6 {
		t.Fatalf("Total() after Append = %v, want 6", f.Total())
	}
	if f.PrefixSum(2) != 6 {
		t.Fatalf("PrefixSum(2) after Append = %v, want 6", f.PrefixSum(2))
	}
}

func TestFenwickRebuild(t *testing.T) {
	f := NewFenwick([]float64{1, 1, 1})
	f.Rebuild([]float64{5, 5})
	if f.Len() != 2 {
		t.Fatalf("Len() after Rebuild = %d, want 2", f.Len())
	}
	if f.Total() != 10 {
		t.Fatalf("Total() after Rebuild = %v, want 10", f.Total())
	}
}
