package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corefuzz/corefuzz/internal/corpusfs"
	"github.com/corefuzz/corefuzz/internal/fuzzcore"
	"github.com/corefuzz/corefuzz/internal/mutation"
	"github.com/corefuzz/corefuzz/internal/pool"
	"github.com/corefuzz/corefuzz/internal/sensor"
	"github.com/corefuzz/corefuzz/internal/serialize"
	"github.com/corefuzz/corefuzz/pkg/feature"
)

func TestInstrumentedTargetPanicsOnPlantedBug(t *testing.T) {
	sen := sensor.New()
	target := instrumentedTarget(sen)

	panicked, _, _ := runUnderSensor(sen, target, []byte("xxxxxxxx"))
	if panicked {
		t.Fatal("a benign input should not fail the target")
	}
	panicked, _, _ = runUnderSensor(sen, target, []byte("xxBUGxx"))
	if !panicked {
		t.Fatal("an input containing the planted needle should fail the target")
	}
}

func TestInstrumentedTargetRewardsNeedlePrefixProgress(t *testing.T) {
	sen := sensor.New()
	target := instrumentedTarget(sen)

	_, obsCold, edgesCold := runUnderSensor(sen, target, []byte("xxxxxxxx"))
	_, obsWarm, edgesWarm := runUnderSensor(sen, target, []byte("BUxxxxxx"))
	if len(obsWarm) <= len(obsCold) {
		t.Fatalf("matching a needle prefix should surface extra features: cold %d, warm %d", len(obsCold), len(obsWarm))
	}
	if len(edgesWarm) <= len(edgesCold) {
		t.Fatalf("matching a needle prefix should hit extra edge guards: cold %d, warm %d", len(edgesCold), len(edgesWarm))
	}
}

func TestCompositeAdmitterFallsBackToMaxPool(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	empty1 := pool.New[[]byte](pool.Config{Rand: rng})
	empty2 := pool.New[[]byte](pool.Config{Rand: rng})
	composite := pool.NewCompositePool[[]byte]("main", empty1, 1, "grouped", empty2, 1, rng)

	maxPool := pool.NewMaximisePool[[]byte](rng)
	maxPool.Observe([]byte("hot"), 3, []pool.CounterObservation{{Location: 1, Value: 7}})

	a := compositeAdmitter{c: composite, max: maxPool, rng: rng}
	id, v, ok := a.RandomIndex()
	if !ok {
		t.Fatal("the admitter should fall back to the maximise pool when the composite is empty")
	}
	if string(v) != "hot" {
		t.Fatalf("RandomIndex value = %q, want \"hot\"", v)
	}
	pick, isPick := id.(compositePick)
	if !isPick || pick.poolName != "max" {
		t.Fatalf("RandomIndex id = %#v, want a compositePick from pool \"max\"", id)
	}
}

// A scaled-down runFuzz: the same sensor/pools/admitter/world wiring with
// a tiny iteration budget, asserting the pipeline seeds, runs, persists
// corpus entries, and leaves a queryable snapshot behind.
func TestFuzzPipelineSmoke(t *testing.T) {
	root := t.TempDir()
	world, err := corpusfs.NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer world.Close()

	sen := sensor.New()
	target := instrumentedTarget(sen)
	rng := rand.New(rand.NewSource(1))

	mainPool := pool.New[[]byte](pool.Config{Rand: rng})
	groupedPool := pool.New[[]byte](pool.Config{GroupWeighted: true, Rand: rng})
	compositePool := pool.NewCompositePool[[]byte]("main", mainPool, 1, "grouped", groupedPool, 1, rng)
	maximisePool := pool.NewMaximisePool[[]byte](rng)
	byteMutator := &mutation.Bytes{}
	serializer := serialize.Raw{}

	admit := func(value []byte, observations []feature.Feature, edges []sensor.Observation) bool {
		complexity := byteMutator.Complexity(value)
		d1 := mainPool.Observe(value, complexity, observations)
		d2 := groupedPool.Observe(value, complexity, observations)
		counterObs := make([]pool.CounterObservation, len(edges))
		for i, e := range edges {
			counterObs[i] = pool.CounterObservation{Location: e.LocationIndex, Value: e.CounterValue}
		}
		d3 := maximisePool.Observe(value, complexity, counterObs)

		deltas := pool.Dispatch("main", d1, "grouped", d2)
		if !d3.Empty() {
			deltas = append(deltas, pool.NamedDelta[[]byte]{PoolName: "max", Delta: d3})
		}
		for _, nd := range deltas {
			if nd.Delta.Added != nil {
				data, _ := serializer.Marshal(nd.Delta.Added.Value)
				name := corpusfs.HashHex(data) + "." + serializer.Extension()
				if err := world.WriteCorpusEntry(nd.PoolName, name, data); err != nil {
					t.Errorf("WriteCorpusEntry failed: %v", err)
				}
			}
		}
		return d1.Added != nil || d2.Added != nil || d3.Added != nil
	}

	// Seed like runFuzz does: benign values run once under the sensor.
	for _, v := range [][]byte{[]byte("seed-one"), []byte("seed-two!"), []byte("BUxxxxxx")} {
		panicked, obs, edges := runUnderSensor(sen, target, v)
		if panicked {
			t.Fatalf("seed %q unexpectedly failed the target", v)
		}
		admit(v, obs, edges)
	}
	if mainPool.Len() == 0 {
		t.Fatal("seeding should have admitted at least one input to the main pool")
	}

	loop := fuzzcore.New[[]byte](fuzzcore.Config{
		Workers:     1,
		CaseTimeout: time.Second,
		MaxIters:    50,
	}, sen, byteMutator, target, compositeAdmitter{c: compositePool, max: maximisePool, rng: rng}, rng)

	seed := func() []byte { return []byte("seed-one") }
	mutate := func(base, donor []byte, haveDonor bool) ([]byte, mutation.UnmutateToken) {
		if haveDonor {
			return byteMutator.MutateSpliced(rng, base, donor)
		}
		return byteMutator.Mutate(rng, base)
	}
	if err := loop.Run(t.Context(), seed, mutate, admit); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if loop.Iterations() != 50 {
		t.Fatalf("Iterations() = %d, want 50", loop.Iterations())
	}

	entries, err := os.ReadDir(filepath.Join(root, "corpus_out", "main"))
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected corpus_out/main to hold at least one entry, got %v / %v", entries, err)
	}

	if err := world.WriteSnapshot("main", mainPool.Snapshot()); err != nil {
		t.Fatalf("WriteSnapshot returned error: %v", err)
	}
	result, err := corpusfs.SnapshotField(root, "main", "inputs.#")
	if err != nil {
		t.Fatalf("SnapshotField returned error: %v", err)
	}
	if int(result.Int()) != mainPool.Len() {
		t.Fatalf("snapshot inputs.# = %d, want pool size %d", result.Int(), mainPool.Len())
	}
}
