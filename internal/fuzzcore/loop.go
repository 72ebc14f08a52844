// Package fuzzcore implements the fuzzer's main loop: a state machine
// that cycles Pool selection, mutation, instrumented execution, and
// admission, guarded against panics and timeouts by an ants worker pool
// (adapted from the teacher's internal/requester worker pool) and
// responsive to OS signals the way the teacher's cmd/fluxfuzzer entry
// point is.
package fuzzcore

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/corefuzz/corefuzz/internal/mutation"
	"github.com/corefuzz/corefuzz/internal/sensor"
	"github.com/corefuzz/corefuzz/pkg/feature"
)

// ErrTestFailed is returned by Run when Config.StopOnFirstFailure is set
// and a property failure (panic or non-nil error) is caught, per
// spec.md §7 error kind 3 and the exit-code table in §4.G.
var ErrTestFailed = errors.New("fuzzcore: stopped after first test failure")

// infiniteLoopTimeout is the spec's SIGALRM-equivalent bound (§4.G step
// 5) used in place of Config.CaseTimeout when DetectInfiniteLoop is set.
const infiniteLoopTimeout = time.Second

// Phase is the fuzzer loop's state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadingCorpus
	PhaseRunning
	PhaseRecording
	PhaseAnalysing
	PhaseStopped
	PhaseCrashed
	PhaseTestFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseReadingCorpus:
		return "reading_corpus"
	case PhaseRunning:
		return "running"
	case PhaseRecording:
		return "recording"
	case PhaseAnalysing:
		return "analysing"
	case PhaseStopped:
		return "stopped"
	case PhaseCrashed:
		return "crashed"
	case PhaseTestFailed:
		return "test_failed"
	default:
		return "unknown"
	}
}

// Property is the fuzz target: the function under test, invoked once per
// iteration with a candidate value. A non-nil error or a panic both
// count as a failure.
type Property[V any] func(ctx context.Context, value V) error

// Admitter is the minimal surface fuzzcore needs from an input pool in
// order to pick a base (and, for crossover, a donor) input each iteration
// instead of only ever hill-climbing off the single value the last
// iteration admitted. The command wiring provides a thin boxing adapter
// over its *pool.CompositePool (and MaximisePool), since their own
// RandomIndex methods return a concrete slab.Key id rather than any.
type Admitter[V any] interface {
	RandomIndex() (id any, value V, ok bool)
}

// Stats is a point-in-time summary the loop reports on each tick.
type Stats struct {
	Phase       Phase
	Iterations  int64
	ExecsPerSec float64
	Start       time.Time
}

// Config controls the loop's concurrency and timing.
type Config struct {
	Workers     int
	CaseTimeout time.Duration
	MaxIters    int64         // 0 = unbounded
	MaxDuration time.Duration // 0 = unbounded

	// MaxCplx rejects a mutated candidate before execution if its
	// complexity exceeds this bound (spec.md §4.G step 4). 0 = unbounded.
	MaxCplx float64
	// StopOnFirstFailure makes Run return ErrTestFailed (phase
	// PhaseTestFailed) on the first caught failure instead of continuing.
	StopOnFirstFailure bool
	// DetectInfiniteLoop shortens the effective per-case timeout to
	// infiniteLoopTimeout, overriding CaseTimeout.
	DetectInfiniteLoop bool
}

// Loop drives one fuzzing run over values of type V.
type Loop[V any] struct {
	cfg      Config
	sensor   *sensor.Sensor
	mutator  mutation.Mutator[V]
	property Property[V]
	admitter Admitter[V]
	rng      *rand.Rand

	phase      atomic.Int32
	iterations atomic.Int64

	onStats   func(Stats)
	onFailure func(fingerprint uint64, display string, value V)
	onCorpus  func(added bool)

	mu      sync.Mutex
	started time.Time
}

// New builds a Loop. sensor must be the same Sensor instance the
// instrumented target's callbacks report into. admitter may be nil, in
// which case Run falls back to pure hill-climbing off its seed; rng
// drives the loop's own base/donor sampling decisions and may be nil iff
// admitter is nil.
func New[V any](cfg Config, sen *sensor.Sensor, mutator mutation.Mutator[V], property Property[V], admitter Admitter[V], rng *rand.Rand) *Loop[V] {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CaseTimeout <= 0 {
		cfg.CaseTimeout = 2 * time.Second
	}
	if cfg.DetectInfiniteLoop {
		cfg.CaseTimeout = infiniteLoopTimeout
	}
	l := &Loop[V]{cfg: cfg, sensor: sen, mutator: mutator, property: property, admitter: admitter, rng: rng}
	l.phase.Store(int32(PhaseIdle))
	return l
}

// OnStats registers a callback invoked whenever the loop refreshes its
// stats snapshot (the logging/web packages wire their reporters here).
func (l *Loop[V]) OnStats(fn func(Stats)) { l.onStats = fn }

// OnFailure registers a callback invoked when a property fails or
// panics.
func (l *Loop[V]) OnFailure(fn func(fingerprint uint64, display string, value V)) { l.onFailure = fn }

// OnCorpus registers a callback invoked after every admission attempt.
func (l *Loop[V]) OnCorpus(fn func(added bool)) { l.onCorpus = fn }

// Phase returns the loop's current state.
func (l *Loop[V]) Phase() Phase { return Phase(l.phase.Load()) }

// Iterations returns the number of property executions run so far.
func (l *Loop[V]) Iterations() int64 { return l.iterations.Load() }

// caseResult is what one ants-pooled execution reports back.
type caseResult struct {
	err      error
	panicked bool
	panicVal any
	file     string
	line     int
}

// Run drives the fuzzer loop against the given pool until ctx is
// cancelled, MaxIters/MaxDuration is reached, or a fatal signal (the
// caller's responsibility to translate into ctx cancellation) arrives.
// seed supplies the first candidate; mutate is handed a base value and,
// per spec.md §4.G step 3, a second "donor" value (with haveDonor false
// when the loop has no Admitter or chose not to sample one this
// iteration) so a Splicer-capable mutator can graft structure across
// inputs instead of only ever perturbing one in isolation; admit reports
// whether the mutated candidate was interesting enough to keep. admit
// receives both the bucketed feature stream and the raw (location,
// counter) edge pairs, since a counter-maximising pool needs the exact
// values the feature payload's log-bucket erases.
func (l *Loop[V]) Run(ctx context.Context, seed func() V, mutate func(base, donor V, haveDonor bool) (V, mutation.UnmutateToken), admit func(value V, observations []feature.Feature, edges []sensor.Observation) bool) error {
	pool, err := ants.NewPool(l.cfg.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return fmt.Errorf("fuzzcore: create worker pool: %w", err)
	}
	defer pool.Release()

	l.mu.Lock()
	l.started = time.Now()
	l.mu.Unlock()
	l.setPhase(PhaseReadingCorpus)

	current := seed()
	l.setPhase(PhaseRunning)

	deadline := time.Time{}
	if l.cfg.MaxDuration > 0 {
		deadline = l.started.Add(l.cfg.MaxDuration)
	}

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			l.setPhase(PhaseStopped)
			return nil
		default:
		}

		if l.cfg.MaxIters > 0 && l.iterations.Load() >= l.cfg.MaxIters {
			l.setPhase(PhaseStopped)
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			l.setPhase(PhaseStopped)
			return nil
		}

		base := current
		if l.admitter != nil {
			if _, v, ok := l.admitter.RandomIndex(); ok {
				base = v
			}
		}
		donor := base
		haveDonor := false
		if l.admitter != nil && l.rng != nil && l.rng.Float64() < 0.25 {
			if _, v, ok := l.admitter.RandomIndex(); ok {
				donor = v
				haveDonor = true
			}
		}

		candidate, token := mutate(base, donor, haveDonor)

		if l.cfg.MaxCplx > 0 && l.mutator.Complexity(candidate) > l.cfg.MaxCplx {
			current = l.mutator.Unmutate(candidate, token)
			continue
		}

		caseCtx, cancel := context.WithTimeout(ctx, l.cfg.CaseTimeout)
		resultCh := make(chan caseResult, 1)

		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			resultCh <- l.runOne(caseCtx, candidate)
		})
		if submitErr != nil {
			cancel()
			continue
		}

		var res caseResult
		select {
		case res = <-resultCh:
		case <-caseCtx.Done():
			res = caseResult{err: caseCtx.Err()}
		}
		cancel()

		l.iterations.Add(1)
		l.setPhase(PhaseRecording)

		observations := l.sensor.GetObservations()
		rawEdges := l.sensor.RawEdgeObservations()
		l.sensor.Clear()

		if res.panicked || res.err != nil {
			l.setPhase(PhaseAnalysing)
			display := failureDisplay(res)
			// A panic fingerprints by its real call site so distinct
			// panic locations land in distinct failure buckets (spec.md
			// §4.E). A plain error return has no source location of its
			// own; the error text stands in for one so distinct error
			// messages don't collapse into a single bucket either.
			file, line := res.file, res.line
			if !res.panicked {
				file = display
			}
			fp := sensor.PanicFingerprint(file, line, 0)
			if l.onFailure != nil {
				l.onFailure(fp, display, candidate)
			}
			if l.cfg.StopOnFirstFailure {
				l.setPhase(PhaseTestFailed)
				return ErrTestFailed
			}
			// Roll the mutator back so the next iteration resumes from
			// the last known-good shape instead of compounding off a
			// value that just crashed the target.
			current = l.mutator.Unmutate(candidate, token)
			l.setPhase(PhaseRunning)
			l.reportStats()
			continue
		}

		kept := admit(candidate, observations, rawEdges)
		if l.onCorpus != nil {
			l.onCorpus(kept)
		}
		if kept {
			current = candidate
		} else {
			current = l.mutator.Unmutate(candidate, token)
		}

		l.setPhase(PhaseRunning)
		l.reportStats()
	}
}

// runOne executes the property once, converting a panic into a
// caseResult rather than letting it unwind past the worker goroutine.
func (l *Loop[V]) runOne(ctx context.Context, value V) (res caseResult) {
	defer func() {
		if r := recover(); r != nil {
			res.panicked = true
			res.panicVal = r
			res.file, res.line = panicSite()
		}
	}()
	l.sensor.StartRecording()
	defer l.sensor.StopRecording()
	err := l.property(ctx, value)
	return caseResult{err: err}
}

// panicSite walks the current goroutine's stack, still fully intact at
// this point in a recover()'s deferred func, and returns the file:line of
// whatever called panic() — the frame immediately following
// runtime.gopanic. Distinct panic call sites must yield distinct results
// so sensor.PanicFingerprint doesn't collapse unrelated crashes into one
// failure-pool bucket.
func panicSite() (string, int) {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(0, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	sawGopanic := false
	for {
		frame, more := frames.Next()
		if sawGopanic {
			return frame.File, frame.Line
		}
		if frame.Function == "runtime.gopanic" {
			sawGopanic = true
		}
		if !more {
			break
		}
	}
	return "unknown", 0
}

func failureDisplay(res caseResult) string {
	if res.panicked {
		return fmt.Sprintf("panic: %v", res.panicVal)
	}
	if res.err != nil {
		return res.err.Error()
	}
	return "unknown failure"
}

func (l *Loop[V]) setPhase(p Phase) { l.phase.Store(int32(p)) }

func (l *Loop[V]) reportStats() {
	if l.onStats == nil {
		return
	}
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()

	elapsed := time.Since(started).Seconds()
	iters := l.iterations.Load()
	eps := 0.0
	if elapsed > 0 {
		eps = float64(iters) / elapsed
	}
	l.onStats(Stats{
		Phase:       l.Phase(),
		Iterations:  iters,
		ExecsPerSec: eps,
		Start:       started,
	})
}
