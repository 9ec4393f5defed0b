package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mathew-j-davis/shuttle/internal/config"
	"github.com/mathew-j-davis/shuttle/internal/disposition"
	"github.com/mathew-j-davis/shuttle/internal/gate"
	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/notifier"
	"github.com/mathew-j-davis/shuttle/internal/scanner"
	"github.com/mathew-j-davis/shuttle/internal/throttle"
	"github.com/mathew-j-davis/shuttle/internal/tracker"
)

// fakeScanner is a test double for scanner.Scanner whose verdict is
// scripted per call, letting a test drive a file through any verdict
// (including repeated Timeout, to exercise retry exhaustion) without an
// external scanner binary.
type fakeScanner struct {
	name     string
	verdicts []scanner.Verdict
	calls    int
}

func (f *fakeScanner) Name() string { return f.name }

func (f *fakeScanner) Scan(_ context.Context, _ string, _ int64) scanner.Result {
	v := f.verdicts[f.calls]
	if f.calls < len(f.verdicts)-1 {
		f.calls++
	}
	return scanner.Result{Verdict: v}
}

// fixedFreeSpaceReader reports the same free-space value for every
// directory it is asked about.
type fixedFreeSpaceReader struct {
	freeMB int64
}

func (r fixedFreeSpaceReader) FreeMB(string) (int64, error) {
	return r.freeMB, nil
}

// alwaysOpenProbe reports every file as held open elsewhere; unused in
// these tests but kept alongside neverOpenProbe for symmetry with the
// gate package's own probe tests.
type alwaysOpenProbe struct{}

func (alwaysOpenProbe) IsOpenElsewhere(context.Context, string) (bool, error) { return true, nil }

type neverOpenProbe struct{}

func (neverOpenProbe) IsOpenElsewhere(context.Context, string) (bool, error) { return false, nil }

// passthroughEncryptor stands in for disposition.Encryptor so a
// hazard-archiving scenario can run without a real GPG key.
type passthroughEncryptor struct{}

func (passthroughEncryptor) Encrypt(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// testHarness bundles the directories and Orchestrator for one
// end-to-end Run() scenario. Fields miriroring New()'s assembly are set
// directly since this test file lives in package pipeline.
type testHarness struct {
	cfg *config.Config
	o   *Orchestrator
}

type harnessOpts struct {
	scanners      []scanner.Scanner
	budget        throttle.Budget
	freeSpaceMB   int64
	probe         gate.OpenProbe
	skipGate      bool
	seedDaily     int // number of Completed records to seed before Run
	hazardEnabled bool
}

func newTestHarness(t *testing.T, opts harnessOpts) *testHarness {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			SourcePath:       filepath.Join(root, "source"),
			DestinationPath:  filepath.Join(root, "dest"),
			QuarantinePath:   filepath.Join(root, "quarantine"),
			TrackerDirectory: filepath.Join(root, "tracker"),
		},
		Settings: config.SettingsConfig{
			MaxScanThreads:     2,
			SkipStabilityCheck: opts.skipGate,
		},
	}
	for _, dir := range []string{cfg.Paths.SourcePath, cfg.Paths.DestinationPath, cfg.Paths.QuarantinePath, cfg.Paths.TrackerDirectory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("setup mkdir %s: %v", dir, err)
		}
	}

	logger := logging.New(logging.LevelCritical) // keep test output quiet

	probe := opts.probe
	if probe == nil {
		probe = neverOpenProbe{}
	}
	g := gate.New(5*time.Second, opts.skipGate, probe, logger.WithComponent("gate"))

	dirs := map[throttle.Dir]string{
		throttle.DirDestination: cfg.Paths.DestinationPath,
		throttle.DirQuarantine:  cfg.Paths.QuarantinePath,
	}
	reader := fixedFreeSpaceReader{freeMB: opts.freeSpaceMB}
	if opts.freeSpaceMB == 0 {
		reader.freeMB = 1 << 20 // plenty of room unless a test says otherwise
	}
	sampler := throttle.NewSampler(reader, dirs, time.Hour, logger.WithComponent("throttle"))
	sampler.Start(context.Background())

	controller := throttle.NewController(opts.budget, sampler, false, logger.WithComponent("throttle"))

	trk, err := tracker.Load(cfg.Paths.TrackerDirectory, time.Now(), logger.WithComponent("tracker"))
	if err != nil {
		t.Fatalf("tracker.Load: %v", err)
	}
	for i := 0; i < opts.seedDaily; i++ {
		id, err := trk.Begin(filepath.Join(cfg.Paths.SourcePath, "seed"), 1)
		if err != nil {
			t.Fatalf("seed Begin: %v", err)
		}
		if err := trk.Complete(id, tracker.Completed, ""); err != nil {
			t.Fatalf("seed Complete: %v", err)
		}
	}

	normalizer := &scanner.Normalizer{
		Scanners: opts.scanners,
		Policy:   scanner.TimeoutPolicy{RetryCount: 0},
		Logger:   logger.WithComponent("scanner"),
	}

	var hazardDir string
	var encryptor disposition.Encryptor
	if opts.hazardEnabled {
		hazardDir = filepath.Join(root, "hazard")
		if err := os.MkdirAll(hazardDir, 0o700); err != nil {
			t.Fatalf("setup hazard dir: %v", err)
		}
		encryptor = passthroughEncryptor{}
	}
	disposer := disposition.New(nil, logger.WithComponent("disposition"), false, hazardDir, encryptor)

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger,
		clock:           time.Now,
		gate:            g,
		sampler:         sampler,
		controller:      controller,
		tracker:         trk,
		normalizer:      normalizer,
		disposer:        disposer,
		notifier:        notifier.New(nil, notifier.Config{}),
		circuit:         scanner.NewCircuitBreaker(3, time.Minute, 1),
		scannerVersions: make(map[string]string),
	}

	t.Cleanup(sampler.Stop)

	return &testHarness{cfg: cfg, o: o}
}

func (h *testHarness) writeSourceFile(t *testing.T, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(h.cfg.Paths.SourcePath, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write source file %s: %v", name, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

// S3: the free-space budget is already exhausted, so the very first
// candidate is rejected and admission latches closed for the run.
func TestRunStopsAdmissionWhenFreeSpaceExhausted(t *testing.T) {
	h := newTestHarness(t, harnessOpts{
		scanners:    []scanner.Scanner{&fakeScanner{name: "clean", verdicts: []scanner.Verdict{scanner.Clean}}},
		skipGate:    true,
		freeSpaceMB: 1, // far below any sane minimum
		budget: throttle.Budget{
			MinFreeMB: map[throttle.Dir]int64{
				throttle.DirDestination: 1000,
				throttle.DirQuarantine:  1000,
			},
		},
	})
	h.writeSourceFile(t, "a.txt", "hello world", time.Minute)

	summary, _ := h.o.Run(context.Background())

	if summary.FilesDelivered != 0 {
		t.Errorf("expected no files delivered, got %d", summary.FilesDelivered)
	}
	if len(summary.ThrottleRejections) == 0 {
		t.Error("expected a throttle rejection to be recorded")
	}
}

// S4: the daily file cap has already been reached by prior runs, so a
// new candidate this run is rejected before it ever reaches quarantine.
func TestRunStopsAdmissionWhenDailyCapReached(t *testing.T) {
	h := newTestHarness(t, harnessOpts{
		scanners:  []scanner.Scanner{&fakeScanner{name: "clean", verdicts: []scanner.Verdict{scanner.Clean}}},
		skipGate:  true,
		seedDaily: 1,
		budget:    throttle.Budget{DayMaxFiles: 1},
	})
	h.writeSourceFile(t, "a.txt", "hello world", time.Minute)

	summary, _ := h.o.Run(context.Background())

	if summary.FilesDelivered != 0 {
		t.Errorf("expected no files delivered once the daily cap is already met, got %d", summary.FilesDelivered)
	}
	if len(summary.ThrottleRejections) == 0 {
		t.Error("expected a throttle rejection to be recorded")
	}
}

// S5: a scanner that exhausts its retries and times out must itself
// trigger graceful shutdown, independent of the circuit breaker's
// consecutive-failure threshold.
func TestRunShutsDownAfterScanTimeout(t *testing.T) {
	h := newTestHarness(t, harnessOpts{
		scanners: []scanner.Scanner{&fakeScanner{name: "defender", verdicts: []scanner.Verdict{scanner.Timeout}}},
		skipGate: true,
	})
	h.writeSourceFile(t, "a.txt", "times out", time.Minute)
	h.writeSourceFile(t, "b.txt", "also present", time.Minute)

	summary, exitCode := h.o.Run(context.Background())

	if summary.FilesDelivered != 0 {
		t.Errorf("expected no files delivered after a scan timeout, got %d", summary.FilesDelivered)
	}
	if summary.FilesFailed == 0 {
		t.Error("expected the timed-out file to be recorded as failed")
	}
	if exitCode != ExitPartial {
		t.Errorf("expected ExitPartial after a timeout-triggered shutdown, got %d", exitCode)
	}
}

// S6: with two scanners disagreeing, Suspect must win over Clean.
func TestRunCombinesMultipleScannersSuspectWins(t *testing.T) {
	h := newTestHarness(t, harnessOpts{
		scanners: []scanner.Scanner{
			&fakeScanner{name: "defender", verdicts: []scanner.Verdict{scanner.Clean}},
			&fakeScanner{name: "clamav", verdicts: []scanner.Verdict{scanner.Suspect}},
		},
		skipGate:      true,
		hazardEnabled: true,
	})
	h.writeSourceFile(t, "a.txt", "eicar-like content", time.Minute)

	summary, _ := h.o.Run(context.Background())

	if summary.FilesSuspect != 1 {
		t.Errorf("expected the combined verdict to be suspect, got suspect=%d delivered=%d failed=%d",
			summary.FilesSuspect, summary.FilesDelivered, summary.FilesFailed)
	}
}

// S7: a file whose mtime is younger than the stability window must be
// skipped outright, never quarantined or scanned.
func TestRunSkipsUnstableFiles(t *testing.T) {
	h := newTestHarness(t, harnessOpts{
		scanners: []scanner.Scanner{&fakeScanner{name: "clean", verdicts: []scanner.Verdict{scanner.Clean}}},
		skipGate: false,
	})
	h.writeSourceFile(t, "fresh.txt", "still being written", 0)

	summary, _ := h.o.Run(context.Background())

	if summary.FilesAttempted != 0 {
		t.Errorf("expected the unstable file to never be attempted, got %d", summary.FilesAttempted)
	}
	if summary.FilesDelivered != 0 {
		t.Errorf("expected no files delivered, got %d", summary.FilesDelivered)
	}
}
