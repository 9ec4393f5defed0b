package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.HasPassed("101.23.45") {
		t.Error("expected empty ledger to report no passing version")
	}
}

func TestRecorderRecordsAndReaderSeesIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	rec, err := LoadRecorder(path)
	if err != nil {
		t.Fatalf("LoadRecorder failed: %v", err)
	}
	if err := rec.Record("101.23.45", Pass, "eicar detected as expected", now); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	reader, err := Load(path)
	if err != nil {
		t.Fatalf("Load after record failed: %v", err)
	}
	if !reader.HasPassed("101.23.45") {
		t.Error("expected recorded version to show as passed")
	}
	if reader.HasPassed("999.0.0") {
		t.Error("expected untested version to show as not passed")
	}
}

func TestHasPassedUsesMostRecentEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	rec, err := LoadRecorder(path)
	if err != nil {
		t.Fatalf("LoadRecorder failed: %v", err)
	}
	if err := rec.Record("101.23.45", Pass, "", now); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := rec.Record("101.23.45", Fail, "regression in later retest", now.Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if rec.HasPassed("101.23.45") {
		t.Error("expected most recent (failing) entry to take precedence")
	}
}
