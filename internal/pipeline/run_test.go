package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mathew-j-davis/shuttle/internal/config"
	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/throttle"
	"github.com/mathew-j-davis/shuttle/internal/tracker"
)

func TestDailySnapshotSumsAllBuckets(t *testing.T) {
	got := dailySnapshot(tracker.Totals{
		CompletedFiles: 2, CompletedBytes: 200,
		FailedFiles: 1, FailedBytes: 50,
		SuspectFiles: 1, SuspectBytes: 30,
		PendingFiles: 3, PendingBytes: 300,
	})
	want := throttle.DailySnapshot{Files: 7, Bytes: 580}
	if got != want {
		t.Errorf("dailySnapshot() = %+v, want %+v", got, want)
	}
}

func TestRunSnapshotCarriesCounters(t *testing.T) {
	got := runSnapshot(5, 500, 2, 200)
	want := throttle.RunSnapshot{Files: 5, Bytes: 500, PendingFiles: 2, PendingBytes: 200}
	if got != want {
		t.Errorf("runSnapshot() = %+v, want %+v", got, want)
	}
}

func TestStatsRecordThrottleAndFailure(t *testing.T) {
	st := newStats()
	st.recordThrottle("DailyFileCap")
	st.recordThrottle("DailyFileCap")
	st.recordFailure("/source/bad.txt", "hash mismatch")

	if st.throttleRejections["DailyFileCap"] != 2 {
		t.Errorf("expected 2 DailyFileCap rejections, got %d", st.throttleRejections["DailyFileCap"])
	}
	if st.failed != 1 {
		t.Errorf("expected 1 failure, got %d", st.failed)
	}
	if len(st.topFailures) != 1 || st.topFailures[0].Path != "/source/bad.txt" {
		t.Errorf("unexpected topFailures: %+v", st.topFailures)
	}
}

func TestStatsRecordFailureCapsTopFailures(t *testing.T) {
	st := newStats()
	for i := 0; i < 30; i++ {
		st.recordFailure("/source/file.txt", "boom")
	}
	if st.failed != 30 {
		t.Errorf("expected 30 total failures tracked, got %d", st.failed)
	}
	if len(st.topFailures) != 20 {
		t.Errorf("expected topFailures capped at 20, got %d", len(st.topFailures))
	}
}

func TestCopyToQuarantinePreservesContent(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source", "a.txt")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	dst := filepath.Join(dir, "quarantine", "sub", "a.txt")
	o := &Orchestrator{}
	if err := o.copyToQuarantine(context.Background(), src, dst, int64(len("payload"))); err != nil {
		t.Fatalf("copyToQuarantine failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("copied content = %q, want %q", got, "payload")
	}
}

func TestDrainAndCleanupRemovesLeftoverQuarantineEntries(t *testing.T) {
	dir := t.TempDir()
	quarantine := filepath.Join(dir, "quarantine")
	leftover := filepath.Join(quarantine, "stuck.txt")
	if err := os.MkdirAll(quarantine, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(leftover, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	o := &Orchestrator{
		cfg: &config.Config{
			Paths:    config.PathsConfig{QuarantinePath: quarantine, SourcePath: filepath.Join(dir, "source")},
			Settings: config.SettingsConfig{DeleteSourceFilesAfterCopying: false},
		},
		logger: logging.New(logging.LevelError),
	}
	o.drainAndCleanup()

	entries, err := os.ReadDir(quarantine)
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected quarantine directory empty after cleanup, got %v", entries)
	}
}

func TestPruneEmptyDirsRemovesOnlyEmptyDirectories(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "a", "empty")
	nonEmpty := filepath.Join(dir, "b")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.MkdirAll(nonEmpty, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nonEmpty, "keep.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	pruneEmptyDirs(dir, logging.New(logging.LevelError))

	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Errorf("expected empty dir %s to be removed", empty)
	}
	if _, err := os.Stat(nonEmpty); err != nil {
		t.Errorf("expected non-empty dir %s to survive, got err %v", nonEmpty, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a")); !os.IsNotExist(err) {
		t.Errorf("expected now-empty parent dir 'a' to be removed, got err %v", err)
	}
}

func TestErrStringHandlesNil(t *testing.T) {
	if got := errString(nil); got != "" {
		t.Errorf("errString(nil) = %q, want empty string", got)
	}
}
