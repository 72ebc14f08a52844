// Package corpusfs implements the fuzzer's external World contract: the
// filesystem layout under a run directory (corpus_in/, corpus_out/,
// artifacts/), the running stats CSV, and JSON pool snapshots queryable
// via gjson for tooling that wants to pick fields out of a snapshot
// without pulling in the full decode path.
package corpusfs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// World is the fuzzer loop's external contract for everything that
// touches the filesystem: reading the seed corpus, writing new corpus
// entries and crashing artifacts, and appending to the stats log.
//
// filename arguments are expected to already be in the spec's
// "<hash>.<ext>" shape (see HashHex); World itself is agnostic to how
// that name was derived, so it stays generic over whatever Serializer
// the caller is using.
type World interface {
	ReadCorpus() ([][]byte, error)
	WriteCorpusEntry(poolName string, filename string, data []byte) error
	RemoveCorpusEntry(poolName string, filename string) error
	WriteArtifact(filename string, display string, data []byte) (path string, err error)
	AppendStats(row StatsRow) error
	WriteSnapshot(poolName string, snapshot any) error
}

// HashHex computes the lowercase-hex FNV-1a hash of data that names a
// corpus/artifact file under the World contract: corpus_out/<pool>/
// <hash>.<ext> and artifacts/<hash>.<ext> per spec.md §6. Sharing the
// FNV-1a construction with sensor.PanicFingerprint keeps the fuzzer's two
// hashing call sites in the same idiom rather than pulling in a second
// hash package for one more 64-bit digest.
func HashHex(data []byte) string {
	h := uint64(1469598103934665603)
	for _, b := range data {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return strconv.FormatUint(h, 16)
}

// StatsRow is one line of the run's stats CSV, mirroring the fields an
// operator watches live: executions per second, pool sizes, coverage.
type StatsRow struct {
	Timestamp     time.Time
	Iterations    int64
	ExecsPerSec   float64
	CorpusSize    int
	FailureCount  int
	CoverageRatio float64
}

// FilesystemWorld is the on-disk World implementation: a run directory
// with corpus_in/, corpus_out/<pool>/, artifacts/, and stats.csv,
// adapted from the teacher's config-driven directory layout in
// internal/config/config.go.
type FilesystemWorld struct {
	mu sync.Mutex

	root      string
	corpusIn  string
	corpusOut string
	artifacts string
	statsDir  string

	statsFile  *os.File
	statsWrite *csv.Writer
}

// Layout lets a caller (the CLI's --corpus-in/--corpus-out/--artifacts/
// --stats flags) point each part of the on-disk contract somewhere other
// than the default root-relative subdirectory.
type Layout struct {
	Root      string
	CorpusIn  string
	CorpusOut string
	Artifacts string
	StatsDir  string
}

func (l Layout) resolve() (corpusIn, corpusOut, artifacts, statsDir string) {
	corpusIn, corpusOut, artifacts, statsDir = l.CorpusIn, l.CorpusOut, l.Artifacts, l.StatsDir
	if corpusIn == "" {
		corpusIn = filepath.Join(l.Root, "corpus_in")
	}
	if corpusOut == "" {
		corpusOut = filepath.Join(l.Root, "corpus_out")
	}
	if artifacts == "" {
		artifacts = filepath.Join(l.Root, "artifacts")
	}
	if statsDir == "" {
		statsDir = l.Root
	}
	return
}

// NewFilesystemWorld creates (if missing) the run directory tree rooted
// at root and opens stats.csv for appending.
func NewFilesystemWorld(root string) (*FilesystemWorld, error) {
	return NewFilesystemWorldWithLayout(Layout{Root: root})
}

// NewFilesystemWorldWithLayout is NewFilesystemWorld generalised to let
// each of corpus_in/corpus_out/artifacts/stats live at an
// independently-chosen path, as the CLI's --corpus-in/--corpus-out/
// --artifacts/--stats flags require.
func NewFilesystemWorldWithLayout(layout Layout) (*FilesystemWorld, error) {
	corpusIn, corpusOut, artifacts, statsDir := layout.resolve()

	for _, d := range []string{corpusIn, corpusOut, artifacts, statsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("corpusfs: create %s: %w", d, err)
		}
	}

	statsPath := filepath.Join(statsDir, "stats.csv")
	needsHeader := true
	if fi, err := os.Stat(statsPath); err == nil && fi.Size() > 0 {
		needsHeader = false
	}
	f, err := os.OpenFile(statsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("corpusfs: open stats.csv: %w", err)
	}
	w := csv.NewWriter(f)
	if needsHeader {
		_ = w.Write([]string{"timestamp", "iterations", "execs_per_sec", "corpus_size", "failure_count", "coverage_ratio"})
		w.Flush()
	}

	return &FilesystemWorld{
		root:       layout.Root,
		corpusIn:   corpusIn,
		corpusOut:  corpusOut,
		artifacts:  artifacts,
		statsDir:   statsDir,
		statsFile:  f,
		statsWrite: w,
	}, nil
}

// ReadCorpus loads every file under corpus_in/ as a seed input.
func (w *FilesystemWorld) ReadCorpus() ([][]byte, error) {
	dir := w.corpusIn
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpusfs: read corpus_in: %w", err)
	}
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("corpusfs: read %s: %w", e.Name(), err)
		}
		out = append(out, data)
	}
	return out, nil
}

// WriteCorpusEntry writes data to corpus_out/<poolName>/<filename>,
// creating the pool subdirectory if needed. filename is the caller's
// "<hash>.<ext>" name, per spec.md §6.
func (w *FilesystemWorld) WriteCorpusEntry(poolName, filename string, data []byte) error {
	dir := filepath.Join(w.corpusOut, poolName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("corpusfs: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("corpusfs: write %s: %w", path, err)
	}
	return nil
}

// RemoveCorpusEntry deletes corpus_out/<poolName>/<filename> if present; a
// missing file is not an error since eviction and on-disk cleanup can
// race harmlessly.
func (w *FilesystemWorld) RemoveCorpusEntry(poolName, filename string) error {
	path := filepath.Join(w.corpusOut, poolName, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("corpusfs: remove %s: %w", path, err)
	}
	return nil
}

// WriteArtifact writes a crashing input to artifacts/<filename>, and
// returns the path so the caller can report it to the operator. filename
// is the caller's "<hash>.<ext>" name (or, for minification,
// "<cplx>--<hash>.<ext>"), per spec.md §6.
func (w *FilesystemWorld) WriteArtifact(filename string, display string, data []byte) (string, error) {
	path := filepath.Join(w.artifacts, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("corpusfs: write artifact %s: %w", path, err)
	}
	descPath := path + ".txt"
	_ = os.WriteFile(descPath, []byte(display), 0o644)
	return path, nil
}

// AppendStats writes one row to stats.csv and flushes it, so a
// concurrently-tailing dashboard sees it immediately.
func (w *FilesystemWorld) AppendStats(row StatsRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.statsWrite.Write([]string{
		row.Timestamp.Format(time.RFC3339),
		strconv.FormatInt(row.Iterations, 10),
		strconv.FormatFloat(row.ExecsPerSec, 'f', 2, 64),
		strconv.Itoa(row.CorpusSize),
		strconv.Itoa(row.FailureCount),
		strconv.FormatFloat(row.CoverageRatio, 'f', 4, 64),
	})
	if err != nil {
		return fmt.Errorf("corpusfs: write stats row: %w", err)
	}
	w.statsWrite.Flush()
	return w.statsWrite.Error()
}

// WriteSnapshot marshals snapshot as JSON to <poolName>.snapshot.json in
// the stats directory (which defaults to root),
// queryable later via gjson without a full decode (see SnapshotField).
func (w *FilesystemWorld) WriteSnapshot(poolName string, snapshot any) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("corpusfs: marshal snapshot: %w", err)
	}
	path := filepath.Join(w.statsDir, poolName+".snapshot.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("corpusfs: write snapshot %s: %w", path, err)
	}
	return nil
}

// Close flushes and closes the stats file.
func (w *FilesystemWorld) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statsWrite.Flush()
	return w.statsFile.Close()
}

// SnapshotField reads a single field out of a pool's on-disk JSON
// snapshot by gjson path, without decoding the whole document — used by
// the CLI's `read` subcommand to answer one-off questions about a run.
func SnapshotField(root, poolName, path string) (gjson.Result, error) {
	data, err := os.ReadFile(filepath.Join(root, poolName+".snapshot.json"))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("corpusfs: read snapshot: %w", err)
	}
	return gjson.GetBytes(data, path), nil
}
