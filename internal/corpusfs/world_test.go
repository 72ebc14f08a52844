package corpusfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewFilesystemWorldCreatesLayout(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer w.Close()

	for _, d := range []string{"corpus_in", "corpus_out", "artifacts"} {
		if fi, err := os.Stat(filepath.Join(root, d)); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "stats.csv")); err != nil {
		t.Fatal("expected stats.csv to exist")
	}
}

func TestReadCorpusReadsSeedFiles(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(root, "corpus_in", "seed1"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	seeds, err := w.ReadCorpus()
	if err != nil {
		t.Fatalf("ReadCorpus returned error: %v", err)
	}
	if len(seeds) != 1 || string(seeds[0]) != "hello" {
		t.Fatalf("ReadCorpus = %v, want [\"hello\"]", seeds)
	}
}

func TestWriteAndRemoveCorpusEntry(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer w.Close()

	if err := w.WriteCorpusEntry("seeds", "abc", []byte("data")); err != nil {
		t.Fatalf("WriteCorpusEntry returned error: %v", err)
	}
	path := filepath.Join(root, "corpus_out", "seeds", "abc")
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "data" {
		t.Fatalf("expected corpus entry at %s to contain \"data\", got %v / %v", path, data, err)
	}

	if err := w.RemoveCorpusEntry("seeds", "abc"); err != nil {
		t.Fatalf("RemoveCorpusEntry returned error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected corpus entry to be removed")
	}

	if err := w.RemoveCorpusEntry("seeds", "does-not-exist"); err != nil {
		t.Fatalf("RemoveCorpusEntry on a missing file should not error, got %v", err)
	}
}

func TestWriteArtifactWritesDataAndDescription(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer w.Close()

	path, err := w.WriteArtifact(HashHex([]byte("crash payload"))+".bin", "panic: boom", []byte("crash payload"))
	if err != nil {
		t.Fatalf("WriteArtifact returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "crash payload" {
		t.Fatalf("artifact contents = %v / %v, want \"crash payload\"", data, err)
	}
	desc, err := os.ReadFile(path + ".txt")
	if err != nil || string(desc) != "panic: boom" {
		t.Fatalf("artifact description = %v / %v, want \"panic: boom\"", desc, err)
	}
}

func TestAppendStatsWritesHeaderOnceAndRows(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}

	row := StatsRow{
		Timestamp:     time.Unix(0, 0).UTC(),
		Iterations:    100,
		ExecsPerSec:   42.5,
		CorpusSize:    3,
		FailureCount:  1,
		CoverageRatio: 0.5,
	}
	if err := w.AppendStats(row); err != nil {
		t.Fatalf("AppendStats returned error: %v", err)
	}
	w.Close()

	data, err := os.ReadFile(filepath.Join(root, "stats.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := splitLines(string(data))
	if len(lines) != 2 {
		t.Fatalf("stats.csv has %d lines, want 2 (header + one row)", len(lines))
	}
	if lines[0] != "timestamp,iterations,execs_per_sec,corpus_size,failure_count,coverage_ratio" {
		t.Fatalf("unexpected header: %q", lines[0])
	}

	// Reopening an existing stats.csv should not duplicate the header.
	w2, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatal(err)
	}
	defer w2.Close()
	if err := w2.AppendStats(row); err != nil {
		t.Fatal(err)
	}
	w2.Close()
	data2, _ := os.ReadFile(filepath.Join(root, "stats.csv"))
	lines2 := splitLines(string(data2))
	if len(lines2) != 3 {
		t.Fatalf("stats.csv has %d lines after reopen, want 3", len(lines2))
	}
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestNewFilesystemWorldWithLayoutHonorsIndependentPaths(t *testing.T) {
	root := t.TempDir()
	corpusIn := filepath.Join(t.TempDir(), "seeds-in")
	corpusOut := filepath.Join(t.TempDir(), "seeds-out")
	artifacts := filepath.Join(t.TempDir(), "crashes")
	statsDir := filepath.Join(t.TempDir(), "stats-home")

	w, err := NewFilesystemWorldWithLayout(Layout{
		Root:      root,
		CorpusIn:  corpusIn,
		CorpusOut: corpusOut,
		Artifacts: artifacts,
		StatsDir:  statsDir,
	})
	if err != nil {
		t.Fatalf("NewFilesystemWorldWithLayout returned error: %v", err)
	}
	defer w.Close()

	for _, d := range []string{corpusIn, corpusOut, artifacts, statsDir} {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist", d)
		}
	}
	// None of the overridden paths should leak a root-relative default.
	for _, d := range []string{"corpus_in", "corpus_out", "artifacts"} {
		if _, err := os.Stat(filepath.Join(root, d)); !os.IsNotExist(err) {
			t.Fatalf("expected %s to NOT be created under root when overridden", d)
		}
	}
	if _, err := os.Stat(filepath.Join(statsDir, "stats.csv")); err != nil {
		t.Fatal("expected stats.csv under the overridden StatsDir")
	}
	if _, err := os.Stat(filepath.Join(root, "stats.csv")); !os.IsNotExist(err) {
		t.Fatal("expected stats.csv to NOT be created under root when StatsDir is overridden")
	}

	if err := os.WriteFile(filepath.Join(corpusIn, "seed1"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	seeds, err := w.ReadCorpus()
	if err != nil {
		t.Fatalf("ReadCorpus returned error: %v", err)
	}
	if len(seeds) != 1 || string(seeds[0]) != "hi" {
		t.Fatalf("ReadCorpus = %v, want [\"hi\"]", seeds)
	}

	if err := w.WriteCorpusEntry("seeds", "abc", []byte("data")); err != nil {
		t.Fatalf("WriteCorpusEntry returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(corpusOut, "seeds", "abc")); err != nil {
		t.Fatal("expected corpus entry under the overridden CorpusOut")
	}

	if _, err := w.WriteArtifact("1.bin", "panic: x", []byte("crash")); err != nil {
		t.Fatalf("WriteArtifact returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(artifacts, "1.bin")); err != nil {
		t.Fatal("expected artifact under the overridden Artifacts dir")
	}
}

func TestWriteSnapshotAndSnapshotField(t *testing.T) {
	root := t.TempDir()
	w, err := NewFilesystemWorld(root)
	if err != nil {
		t.Fatalf("NewFilesystemWorld returned error: %v", err)
	}
	defer w.Close()

	snapshot := map[string]any{"size": 7, "name": "seeds"}
	if err := w.WriteSnapshot("seeds", snapshot); err != nil {
		t.Fatalf("WriteSnapshot returned error: %v", err)
	}

	result, err := SnapshotField(root, "seeds", "size")
	if err != nil {
		t.Fatalf("SnapshotField returned error: %v", err)
	}
	if result.Int() != 7 {
		t.Fatalf("SnapshotField(\"size\") = %v, want 7", result.Int())
	}
}
