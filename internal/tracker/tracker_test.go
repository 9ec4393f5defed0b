package tracker

import (
	"testing"
	"time"
)

func TestTrackerBeginCompleteTotals(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	tr, err := Load(dir, now, nil)
	if err != nil {
		t.Fatalf("failed to load tracker: %v", err)
	}

	id, err := tr.Begin("/source/a.txt", 100)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	totals := tr.Totals()
	if totals.PendingFiles != 1 || totals.PendingBytes != 100 {
		t.Fatalf("expected 1 pending file of 100 bytes, got %+v", totals)
	}

	if err := tr.Complete(id, Completed, ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	totals = tr.Totals()
	if totals.PendingFiles != 0 {
		t.Errorf("expected 0 pending after complete, got %d", totals.PendingFiles)
	}
	if totals.CompletedFiles != 1 || totals.CompletedBytes != 100 {
		t.Errorf("expected 1 completed file of 100 bytes, got %+v", totals)
	}
}

func TestTrackerCompleteRejectsPendingOutcome(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	tr, err := Load(dir, now, nil)
	if err != nil {
		t.Fatalf("failed to load tracker: %v", err)
	}
	id, err := tr.Begin("/source/b.txt", 10)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tr.Complete(id, Pending, ""); err == nil {
		t.Error("expected error completing with Pending outcome")
	}
}

func TestTrackerPersistsAcrossLoad(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	tr, err := Load(dir, now, nil)
	if err != nil {
		t.Fatalf("failed to load tracker: %v", err)
	}
	if _, err := tr.Begin("/source/c.txt", 50); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	tr2, err := Load(dir, now, nil)
	if err != nil {
		t.Fatalf("failed to reload tracker: %v", err)
	}
	totals := tr2.Totals()
	if totals.PendingFiles != 1 || totals.PendingBytes != 50 {
		t.Fatalf("expected reloaded tracker to show 1 pending file of 50 bytes, got %+v", totals)
	}
}

func TestTrackerRolloverCarriesPending(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 7, 31, 23, 59, 0, 0, time.Local)
	day2 := time.Date(2026, 8, 1, 0, 5, 0, 0, time.Local)

	tr, err := Load(dir, day1, nil)
	if err != nil {
		t.Fatalf("failed to load tracker: %v", err)
	}

	pendingID, err := tr.Begin("/source/unfinished.txt", 20)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	completeID, err := tr.Begin("/source/done.txt", 30)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := tr.Complete(completeID, Completed, ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := tr.RolloverIfNewDay(day2); err != nil {
		t.Fatalf("rollover failed: %v", err)
	}

	totals := tr.Totals()
	if totals.PendingFiles != 1 || totals.PendingBytes != 20 {
		t.Fatalf("expected 1 carried-forward pending file of 20 bytes, got %+v", totals)
	}
	if totals.CompletedFiles != 0 {
		t.Errorf("expected completed record to stay behind in the old day's file, got %d", totals.CompletedFiles)
	}

	if err := tr.Complete(pendingID, Failed, "still resolvable after rollover"); err != nil {
		t.Fatalf("complete after rollover failed: %v", err)
	}
}

func TestTrackerRolloverNoopSameDay(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.Local)

	tr, err := Load(dir, now, nil)
	if err != nil {
		t.Fatalf("failed to load tracker: %v", err)
	}
	if _, err := tr.Begin("/source/d.txt", 5); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	if err := tr.RolloverIfNewDay(now.Add(time.Hour)); err != nil {
		t.Fatalf("rollover failed: %v", err)
	}

	totals := tr.Totals()
	if totals.PendingFiles != 1 {
		t.Errorf("expected rollover within the same day to be a no-op, got %+v", totals)
	}
}
