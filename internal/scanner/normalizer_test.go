package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizerAllCleanYieldsClean(t *testing.T) {
	n := &Normalizer{
		Scanners: []Scanner{
			&fakeScanner{name: "a", results: []Result{{Verdict: Clean}}},
			&fakeScanner{name: "b", results: []Result{{Verdict: Clean}}},
		},
	}

	outcome := n.Scan(context.Background(), "/f", 10)
	if outcome.Verdict != Clean {
		t.Errorf("expected Clean, got %s", outcome.Verdict)
	}
}

func TestNormalizerAnySuspectYieldsSuspect(t *testing.T) {
	n := &Normalizer{
		Scanners: []Scanner{
			&fakeScanner{name: "a", results: []Result{{Verdict: Clean}}},
			&fakeScanner{name: "b", results: []Result{{Verdict: Suspect}}},
		},
	}

	outcome := n.Scan(context.Background(), "/f", 10)
	if outcome.Verdict != Suspect {
		t.Errorf("expected Suspect, got %s", outcome.Verdict)
	}
}

func TestNormalizerDefenderHandledWhenFileGone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("setup remove failed: %v", err)
	}

	n := &Normalizer{
		Scanners:               []Scanner{&fakeScanner{name: "defender", results: []Result{{Verdict: Suspect}}}},
		DefenderHandlesSuspect: true,
	}

	outcome := n.Scan(context.Background(), path, 10)
	if outcome.Verdict != Suspect {
		t.Errorf("expected Suspect, got %s", outcome.Verdict)
	}
	if !outcome.DefenderHandled {
		t.Error("expected DefenderHandled to be true when file no longer exists")
	}
}

func TestNormalizerNotDefenderHandledWhenFileStillPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup write failed: %v", err)
	}

	n := &Normalizer{
		Scanners:               []Scanner{&fakeScanner{name: "defender", results: []Result{{Verdict: Suspect}}}},
		DefenderHandlesSuspect: true,
	}

	outcome := n.Scan(context.Background(), path, 10)
	if outcome.DefenderHandled {
		t.Error("expected DefenderHandled to stay false while the file still exists")
	}
}
