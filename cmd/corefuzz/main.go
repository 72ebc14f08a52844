// corefuzz - a coverage-guided, structure-aware evolutionary fuzzer.

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corefuzz/corefuzz/internal/corpusfs"
	"github.com/corefuzz/corefuzz/internal/fuzzconfig"
	"github.com/corefuzz/corefuzz/internal/fuzzcore"
	"github.com/corefuzz/corefuzz/internal/logging"
	"github.com/corefuzz/corefuzz/internal/mutation"
	"github.com/corefuzz/corefuzz/internal/pool"
	"github.com/corefuzz/corefuzz/internal/sensor"
	"github.com/corefuzz/corefuzz/internal/serialize"
	"github.com/corefuzz/corefuzz/internal/web"
	"github.com/corefuzz/corefuzz/pkg/feature"
)

// compositePick is the Admitter id a compositeAdmitter hands back: which
// named sub-pool RandomIndex drew from, and that sub-pool's own id.
type compositePick struct {
	poolName string
	id       pool.ID
}

// compositeAdmitter boxes a *pool.CompositePool into fuzzcore.Admitter,
// since CompositePool.RandomIndex returns its concrete (name, ID) pair
// rather than fuzzcore's any-typed id. When a counter-maximising pool is
// attached, it competes for the draw by score ratio before the composite
// is consulted, the same weighting rule the composite applies internally.
type compositeAdmitter struct {
	c   *pool.CompositePool[[]byte]
	max *pool.MaximisePool[[]byte]
	rng *rand.Rand
}

func (a compositeAdmitter) RandomIndex() (any, []byte, bool) {
	if a.max != nil && a.rng != nil {
		sm := a.max.TotalScore()
		if total := sm + a.c.TotalScore(); total > 0 && a.rng.Float64()*total < sm {
			if id, v, ok := a.max.RandomIndex(); ok {
				return compositePick{poolName: "max", id: id}, v, true
			}
		}
	}
	name, id, v, ok := a.c.RandomIndex()
	if !ok {
		if a.max != nil {
			if id, v, ok := a.max.RandomIndex(); ok {
				return compositePick{poolName: "max", id: id}, v, true
			}
		}
		return nil, nil, false
	}
	return compositePick{poolName: name, id: id}, v, true
}

// Process exit codes, per spec.md §4.G.
const (
	exitSuccess    = 0
	exitCrashed    = 1
	exitTestFailed = 2
	exitUnknown    = 3
)

// instrumentedTarget builds the built-in demonstration target for
// `corefuzz fuzz`: it panics once the input contains the literal bytes
// "BUG". The closure reports into sen by hand the way compiler-inserted
// guards would — an edge guard per matched needle prefix, a comparison
// callback per byte examined — so the pool gets a real hill-climbing
// signal (each matched prefix byte is new coverage, each comparison's
// Hamming bucket shrinks as a byte gets closer) instead of an empty
// observation stream. An embedder replaces this with its own
// fuzzcore.Property wired to generated instrumentation.
func instrumentedTarget(sen *sensor.Sensor) fuzzcore.Property[[]byte] {
	needle := []byte("BUG")
	start, _ := sen.InitRange(len(needle) + 1)
	return func(ctx context.Context, value []byte) error {
		sen.PCGuard(start)
		for i := 0; i+len(needle) <= len(value); i++ {
			k := 0
			for k < len(needle) {
				sen.Cmp1(uint32(0x1000+k), value[i+k], needle[k])
				if value[i+k] != needle[k] {
					break
				}
				k++
				sen.PCGuard(start + uint32(k))
			}
			if k == len(needle) {
				panic("reached the planted crash condition")
			}
		}
		return nil
	}
}

// runUnderSensor executes property once with sen recording, converting a
// panic into a bool rather than letting it unwind, and returns the
// feature observations the run produced. Used for corpus seeding and by
// the minify-input/minify-corpus subcommands, which drive the target
// directly rather than through the full fuzzcore.Loop.
func runUnderSensor(sen *sensor.Sensor, property fuzzcore.Property[[]byte], value []byte) (panicked bool, observations []feature.Feature, edges []sensor.Observation) {
	sen.StartRecording()
	defer func() {
		sen.StopRecording()
		observations = sen.GetObservations()
		edges = sen.RawEdgeObservations()
		sen.Clear()
		if r := recover(); r != nil {
			panicked = true
		}
	}()
	_ = property(context.Background(), value)
	return
}

var (
	version = "0.1.0-dev"

	configFile string
	corpusDir  string
	workers    int
	maxIters   int64
	maxDur     time.Duration
	maxCplx    float64
	verbose    bool
	webMode    bool
	webAddr    string

	corpusInFlag  string
	corpusOutFlag string
	artifactsFlag string
	statsFlag     string
	stopOnFirst   bool
	detectInfLoop bool

	inputFile  string
	inCorpus   string
	corpusSize int

	readStatsDir string
	readPool     string
	readField    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corefuzz",
		Short: "corefuzz - coverage-guided, structure-aware evolutionary fuzzer",
		Long: `corefuzz mutates a growing pool of structured inputs against an
instrumented target, keeping anything that reaches new coverage or
shrinks an existing discovery, and records failures by panic location.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corefuzz version %s\n", version)
		},
	}

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "run the fuzzer against the built-in byte target",
		Run:   runFuzz,
	}
	fuzzCmd.Flags().StringVar(&corpusDir, "corpus-dir", "./corpus", "run directory for corpus_in/corpus_out/artifacts (overridden per-part by --corpus-in/--corpus-out/--artifacts/--stats)")
	fuzzCmd.Flags().StringVar(&corpusInFlag, "corpus-in", "", "seed corpus directory (default: <corpus-dir>/corpus_in)")
	fuzzCmd.Flags().StringVar(&corpusOutFlag, "corpus-out", "", "pool corpus output directory (default: <corpus-dir>/corpus_out)")
	fuzzCmd.Flags().StringVar(&artifactsFlag, "artifacts", "", "failing-artifact directory (default: <corpus-dir>/artifacts)")
	fuzzCmd.Flags().StringVar(&statsFlag, "stats", "", "stats.csv/snapshot directory (default: <corpus-dir>)")
	fuzzCmd.Flags().IntVarP(&workers, "workers", "w", 4, "size of the worker pool that runs cases (the loop runs one case at a time)")
	fuzzCmd.Flags().Int64Var(&maxIters, "max-iterations", 0, "stop after this many iterations (0 = unbounded)")
	fuzzCmd.Flags().DurationVar(&maxDur, "max-duration", 0, "stop after this much wall-clock time (0 = unbounded)")
	fuzzCmd.Flags().Float64Var(&maxCplx, "max-cplx", 0, "reject mutated candidates above this complexity (0 = unbounded)")
	fuzzCmd.Flags().BoolVar(&stopOnFirst, "stop-on-first-failure", false, "exit on the first test failure instead of routing it into the failure pool")
	fuzzCmd.Flags().BoolVar(&detectInfLoop, "detect-infinite-loop", false, "bound each case to a 1s alarm instead of the normal case timeout")
	fuzzCmd.Flags().BoolVar(&webMode, "web", false, "also serve a live dashboard")
	fuzzCmd.Flags().StringVar(&webAddr, "web-addr", "127.0.0.1:8787", "address for --web")
	rootCmd.AddCommand(fuzzCmd)

	minifyInputCmd := &cobra.Command{
		Use:   "minify-input",
		Short: "shrink a single failing input to a smaller reproducer",
		Run:   runMinifyInput,
	}
	minifyInputCmd.Flags().StringVar(&inputFile, "input-file", "", "path to the failing input")
	_ = minifyInputCmd.MarkFlagRequired("input-file")
	rootCmd.AddCommand(minifyInputCmd)

	minifyCorpusCmd := &cobra.Command{
		Use:   "minify-corpus",
		Short: "reduce a corpus directory to a target number of entries",
		Run:   runMinifyCorpus,
	}
	minifyCorpusCmd.Flags().StringVar(&inCorpus, "in-corpus", "", "corpus directory to reduce")
	minifyCorpusCmd.Flags().IntVar(&corpusSize, "corpus-size", 100, "target entry count")
	_ = minifyCorpusCmd.MarkFlagRequired("in-corpus")
	rootCmd.AddCommand(minifyCorpusCmd)

	readCmd := &cobra.Command{
		Use:   "read",
		Short: "inspect a corpus/artifact file or query a pool snapshot field",
		Run:   runRead,
	}
	readCmd.Flags().StringVar(&inputFile, "input-file", "", "path to the file to inspect")
	readCmd.Flags().StringVar(&readStatsDir, "stats", ".", "snapshot directory for --pool/--field queries")
	readCmd.Flags().StringVar(&readPool, "pool", "", "pool snapshot to query (requires --field)")
	readCmd.Flags().StringVar(&readField, "field", "", "gjson path into the pool snapshot, e.g. inputs.#, features.0.bestInput")
	rootCmd.AddCommand(readCmd)

	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  corefuzz " + version + " - coverage-guided structure-aware fuzzing")
	fmt.Println()
}

func loadConfig() *fuzzconfig.Config {
	if configFile == "" {
		return fuzzconfig.DefaultConfig()
	}
	cfg, err := fuzzconfig.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runFuzz(cmd *cobra.Command, args []string) {
	printBanner()
	cfg := loadConfig()
	if corpusDir != "" {
		cfg.Run.CorpusDir = corpusDir
	}
	if workers > 0 {
		cfg.Run.Workers = workers
	}
	if maxIters > 0 {
		cfg.Run.MaxIters = maxIters
	}
	if maxDur > 0 {
		cfg.Run.MaxDuration = maxDur
	}
	if maxCplx > 0 {
		cfg.Run.MaxCplx = maxCplx
	}
	if cmd.Flags().Changed("stop-on-first-failure") {
		cfg.Run.StopOnFirstFailure = stopOnFirst
	}
	if cmd.Flags().Changed("detect-infinite-loop") {
		cfg.Run.DetectInfiniteLoop = detectInfLoop
	}

	world, err := corpusfs.NewFilesystemWorldWithLayout(corpusfs.Layout{
		Root:      cfg.Run.CorpusDir,
		CorpusIn:  corpusInFlag,
		CorpusOut: corpusOutFlag,
		Artifacts: artifactsFlag,
		StatsDir:  statsFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
		os.Exit(exitUnknown)
	}
	defer world.Close()

	sen := sensor.New()
	target := instrumentedTarget(sen)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Two named sub-pools combined into an AND-combinator (spec.md §4.F):
	// "main" uses the configured scoring model (plain 1/activator_count by
	// default), "grouped" always uses the group-size-weighted table (a
	// group being the features that share a tag and location). Dispatching every observation to both, rather than picking
	// one scoring model up front, is what actually exercises CompositePool
	// in a real run instead of leaving it as a test-only component.
	mainPool := pool.New[[]byte](pool.Config{GroupWeighted: cfg.Pool.GroupWeighted, Rand: rng})
	groupedPool := pool.New[[]byte](pool.Config{GroupWeighted: true, Rand: rng})
	mainPool.SetTotalGuards(sen.GuardCount())
	groupedPool.SetTotalGuards(sen.GuardCount())
	compositePool := pool.NewCompositePool[[]byte]("main", mainPool, 1, "grouped", groupedPool, 1, rng)

	// A third flavour alongside the feature-novelty pair: the "max" pool
	// keeps whichever input drives each edge counter to its highest raw
	// value, so hot loops keep getting pushed harder even once their
	// bucketed features stop being novel.
	maximisePool := pool.NewMaximisePool[[]byte](rng)

	failurePool := pool.NewFailurePool[[]byte](pool.FailureConfig{
		EnableTLSH:    cfg.Failure.EnableTLSH,
		TLSHMinBytes:  cfg.Failure.TLSHMinBytes,
		TLSHThreshold: cfg.Failure.TLSHThreshold,
	})
	byteMutator := &mutation.Bytes{}
	serializer := serialize.Raw{}

	// filenameOf remembers which on-disk "<hash>.<ext>" name each
	// sub-pool's id was written under, so a later eviction can find the
	// right file to remove without recomputing anything.
	filenameOf := map[string]string{}
	filenameKey := func(poolName string, id pool.ID) string {
		return poolName + "/" + pool.IDString(id)
	}

	var reporter *logging.Reporter
	if !cfg.Output.QuietMode {
		reporter = logging.NewReporter(10)
		go func() {
			if err := reporter.Run(); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "  [!] terminal UI: %v\n", err)
			}
		}()
	}

	var dashboard *web.Server
	if webMode || cfg.Output.EnableWeb {
		addr := webAddr
		if addr == "" {
			addr = cfg.Output.WebAddr
		}
		dashboard = web.NewServer()
		go func() {
			fmt.Printf("  [*] dashboard listening on http://%s\n", addr)
			if err := dashboard.Listen(addr); err != nil && verbose {
				fmt.Fprintf(os.Stderr, "  [!] web dashboard: %v\n", err)
			}
		}()
	}

	admitter := compositeAdmitter{c: compositePool, max: maximisePool, rng: rng}

	loop := fuzzcore.New[[]byte](fuzzcore.Config{
		Workers:            cfg.Run.Workers,
		CaseTimeout:        cfg.Run.CaseTimeout,
		MaxIters:           cfg.Run.MaxIters,
		MaxDuration:        cfg.Run.MaxDuration,
		MaxCplx:            cfg.Run.MaxCplx,
		StopOnFirstFailure: cfg.Run.StopOnFirstFailure,
		DetectInfiniteLoop: cfg.Run.DetectInfiniteLoop,
	}, sen, byteMutator, target, admitter, rng)

	statsPeriod := cfg.Output.StatsPeriod
	if statsPeriod <= 0 {
		statsPeriod = time.Second
	}
	var lastPersist time.Time
	persistStats := func(st fuzzcore.Stats) {
		_ = world.AppendStats(corpusfs.StatsRow{
			Timestamp:     time.Now(),
			Iterations:    st.Iterations,
			ExecsPerSec:   st.ExecsPerSec,
			CorpusSize:    mainPool.Len() + groupedPool.Len() + maximisePool.Len(),
			FailureCount:  failurePool.Len(),
			CoverageRatio: mainPool.Stats().CoverageRatio,
		})
		_ = world.WriteSnapshot("main", mainPool.Snapshot())
		_ = world.WriteSnapshot("grouped", groupedPool.Snapshot())
		_ = world.WriteSnapshot("max", maximisePool.Snapshot())
		_ = world.WriteSnapshot("failures", failurePool.Snapshot())
	}

	loop.OnStats(func(st fuzzcore.Stats) {
		if reporter != nil {
			reporter.Push(logging.Stats{
				Phase:       logging.Phase(st.Phase),
				Iterations:  st.Iterations,
				ExecsPerSec: st.ExecsPerSec,
				CorpusSize:  mainPool.Len() + groupedPool.Len() + maximisePool.Len(),
			})
		}
		if dashboard != nil {
			dashboard.SetStats(web.Stats{
				Phase:       st.Phase.String(),
				StartTime:   st.Start,
				Iterations:  st.Iterations,
				ExecsPerSec: st.ExecsPerSec,
				CorpusSize:  mainPool.Len() + groupedPool.Len() + maximisePool.Len(),
			})
		}
		if time.Since(lastPersist) >= statsPeriod {
			lastPersist = time.Now()
			persistStats(st)
		}
	})
	loop.OnFailure(func(fingerprint uint64, display string, value []byte) {
		data, _ := serializer.Marshal(value)
		delta := failurePool.Observe(value, byteMutator.Complexity(value), pool.Failure{Fingerprint: pool.Fingerprint(fingerprint), Display: display}, data)
		if delta.Added != nil {
			filename := corpusfs.HashHex(data) + "." + serializer.Extension()
			_, _ = world.WriteArtifact(filename, display, data)
			if reporter != nil {
				reporter.Event("new failure: " + display)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n  [*] shutting down gracefully...")
		cancel()
	}()

	mutate := func(base, donor []byte, haveDonor bool) ([]byte, mutation.UnmutateToken) {
		if haveDonor {
			if splicer, ok := any(byteMutator).(mutation.Splicer[[]byte]); ok {
				return splicer.MutateSpliced(rng, base, donor)
			}
		}
		return byteMutator.Mutate(rng, base)
	}

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
				entryData, _ := serializer.Marshal(nd.Delta.Added.Value)
				entryFilename := corpusfs.HashHex(entryData) + "." + serializer.Extension()
				_ = world.WriteCorpusEntry(nd.PoolName, entryFilename, entryData)
				filenameOf[filenameKey(nd.PoolName, nd.Delta.Added.ID)] = entryFilename
				if dashboard != nil {
					dashboard.Broadcast(web.CorpusEvent{PoolName: nd.PoolName, Kind: "added", EntryID: entryFilename, Complexity: nd.Delta.Added.Complexity})
				}
			}
			for _, rm := range nd.Delta.Removed {
				key := filenameKey(nd.PoolName, rm.ID)
				if rmName, ok := filenameOf[key]; ok {
					_ = world.RemoveCorpusEntry(nd.PoolName, rmName)
					delete(filenameOf, key)
				}
			}
		}

		// Keep each sub-pool under the configured ceiling by evicting its
		// least-scoring entries, cleaning up their on-disk files to match.
		if cfg.Pool.MaxPoolSize > 0 {
			for _, pr := range []struct {
				name string
				p    *pool.Pool[[]byte]
			}{{"main", mainPool}, {"grouped", groupedPool}} {
				if pr.p.Len() <= cfg.Pool.MaxPoolSize {
					continue
				}
				for _, rm := range pr.p.Reduce(cfg.Pool.MaxPoolSize) {
					key := filenameKey(pr.name, rm.ID)
					if rmName, ok := filenameOf[key]; ok {
						_ = world.RemoveCorpusEntry(pr.name, rmName)
						delete(filenameOf, key)
					}
				}
			}
		}
		return d1.Added != nil || d2.Added != nil || d3.Added != nil
	}

	// Seed the pools from corpus_in before the main loop: deserialize every
	// file, skip anything invalid or over the complexity cap with a warning,
	// and run each once under the sensor so its admission rests on real
	// observations. Few or no seeds get topped up with arbitrary inputs.
	const minSeeds = 100
	rawSeeds, err := world.ReadCorpus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
		os.Exit(exitUnknown)
	}
	seedValues := make([][]byte, 0, len(rawSeeds))
	for _, raw := range rawSeeds {
		v, err := serializer.Unmarshal(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [!] skipping invalid corpus entry: %v\n", err)
			continue
		}
		if cfg.Run.MaxCplx > 0 && byteMutator.Complexity(v) > cfg.Run.MaxCplx {
			fmt.Fprintf(os.Stderr, "  [!] skipping corpus entry over --max-cplx (%.0f)\n", byteMutator.Complexity(v))
			continue
		}
		seedValues = append(seedValues, v)
	}
	for len(seedValues) < minSeeds {
		seedValues = append(seedValues, byteMutator.Arbitrary(rng, 16))
	}
	for _, v := range seedValues {
		panicked, obs, edges := runUnderSensor(sen, target, v)
		if panicked {
			continue
		}
		admit(v, obs, edges)
	}

	seed := func() []byte {
		if len(seedValues) > 0 {
			return seedValues[0]
		}
		return byteMutator.Arbitrary(rng, 16)
	}

	runErr := loop.Run(ctx, seed, mutate, admit)

	// Flush final stats/snapshots even if the last tick fell inside the
	// throttling window, so a short run still leaves an up-to-date record.
	persistStats(fuzzcore.Stats{Iterations: loop.Iterations()})

	if reporter != nil {
		reporter.Stop()
	}
	if dashboard != nil {
		_ = dashboard.Shutdown()
	}
	fmt.Printf("\n  [*] stopped after %d iterations, %d corpus entries, %d failures\n",
		loop.Iterations(), mainPool.Len()+groupedPool.Len()+maximisePool.Len(), failurePool.Len())

	switch {
	case errors.Is(runErr, fuzzcore.ErrTestFailed):
		fmt.Println("  [*] stopped on first test failure (--stop-on-first-failure); see artifacts/")
		os.Exit(exitTestFailed)
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "  [!] %v\n", runErr)
		os.Exit(exitUnknown)
	}
	os.Exit(exitSuccess)
}

// runMinifyInput implements spec.md §4.D's "Minification mode
// (single-artifact)": the loaded input is admitted to a fresh Pool and
// installed as its favoured entry, which shrinks the pool's admission
// ceiling just below the favoured complexity (Pool.SetFavored); any
// further mutation that still reaches the planted crash and is strictly
// smaller replaces it. Iterating this converges on a smaller reproducer.
func runMinifyInput(cmd *cobra.Command, args []string) {
	printBanner()
	cfg := loadConfig()
	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
		os.Exit(exitUnknown)
	}
	fmt.Printf("  [*] loaded %d bytes from %s\n", len(data), inputFile)

	sen := sensor.New()
	target := instrumentedTarget(sen)
	byteMutator := &mutation.Bytes{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	panicked, observations, _ := runUnderSensor(sen, target, data)
	if !panicked {
		fmt.Println("  [!] input does not currently fail the target; nothing to minify")
		os.Exit(exitUnknown)
	}

	shrinkPool := pool.New[[]byte](pool.Config{Rand: rng})
	delta := shrinkPool.Observe(data, byteMutator.Complexity(data), observations)
	if delta.Added == nil {
		fmt.Println("  [!] unexpected: initial failing input was not admitted to an empty pool")
		os.Exit(exitUnknown)
	}
	favored := delta.Added.ID
	if cfg.Pool.FavoredEnabled {
		shrinkPool.SetFavored(favored)
	}

	const attempts = 2000
	for i := 0; i < attempts; i++ {
		_, value, ok := shrinkPool.RandomIndex()
		if !ok {
			break
		}
		candidate, _ := byteMutator.Mutate(rng, append([]byte(nil), value...))
		if ceiling, has := shrinkPool.MaxComplexity(); has && byteMutator.Complexity(candidate) > ceiling {
			continue
		}
		panicked, obs, _ := runUnderSensor(sen, target, candidate)
		if !panicked {
			continue
		}
		d := shrinkPool.Observe(candidate, byteMutator.Complexity(candidate), obs)
		if d.Added != nil {
			favored = d.Added.ID
			if cfg.Pool.FavoredEnabled {
				shrinkPool.SetFavored(favored)
			}
		}
	}

	best, _ := shrinkPool.Get(favored)
	fmt.Printf("  [*] minified %d bytes -> %d bytes over %d attempts\n", len(data), len(best), attempts)

	// Minification artifacts carry their complexity in the filename so a
	// directory listing sorts smallest-first: "<cplx*100>--<hash>.<ext>".
	serializer := serialize.Raw{}
	bestData, _ := serializer.Marshal(best)
	outName := fmt.Sprintf("%.0f--%s.%s", byteMutator.Complexity(best)*100, corpusfs.HashHex(bestData), serializer.Extension())
	outPath := filepath.Join(filepath.Dir(inputFile), outName)
	if err := os.WriteFile(outPath, bestData, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "  [!] write %s: %v\n", outPath, err)
		os.Exit(exitUnknown)
	}
	fmt.Printf("  [*] wrote minimized reproducer to %s\n", outPath)
}

// runMinifyCorpus implements spec.md §4.D's "Reduction to a target
// size": every corpus file is re-run once under the sensor to rebuild
// real coverage-feature admission state, then Pool.Reduce evicts the
// least-scoring entries until the target size is reached, and those
// files are deleted from disk to match.
func runMinifyCorpus(cmd *cobra.Command, args []string) {
	printBanner()
	entries, err := os.ReadDir(inCorpus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
		os.Exit(exitUnknown)
	}
	fmt.Printf("  [*] %s has %d entries, target %d\n", inCorpus, len(entries), corpusSize)
	if len(entries) <= corpusSize {
		fmt.Println("  [*] already at or below target size, nothing to do")
		return
	}

	sen := sensor.New()
	target := instrumentedTarget(sen)
	byteMutator := &mutation.Bytes{}
	reducePool := pool.New[[]byte](pool.Config{})
	nameOf := map[pool.ID]string{}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(inCorpus, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [!] skipping %s: %v\n", e.Name(), err)
			continue
		}
		_, observations, _ := runUnderSensor(sen, target, data)
		delta := reducePool.Observe(data, byteMutator.Complexity(data), observations)
		if delta.Added != nil {
			nameOf[delta.Added.ID] = e.Name()
		}
	}

	removed := reducePool.Reduce(corpusSize)
	for _, rm := range removed {
		if name, ok := nameOf[rm.ID]; ok {
			_ = os.Remove(filepath.Join(inCorpus, name))
		}
	}

	fmt.Printf("  [*] reduced corpus to %d live entries (removed %d files)\n", reducePool.Len(), len(removed))
}

func runRead(cmd *cobra.Command, args []string) {
	if readPool != "" && readField != "" {
		result, err := corpusfs.SnapshotField(readStatsDir, readPool, readField)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
			os.Exit(1)
		}
		fmt.Println(result.String())
		return
	}
	if inputFile == "" {
		fmt.Fprintln(os.Stderr, "  [!] need --input-file, or --pool with --field")
		os.Exit(1)
	}
	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "  [!] %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d bytes\n%x\n", inputFile, len(data), data)
}
