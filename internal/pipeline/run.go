package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mathew-j-davis/shuttle/internal/disposition"
	"github.com/mathew-j-davis/shuttle/internal/gate"
	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/notifier"
	"github.com/mathew-j-davis/shuttle/internal/scanner"
	"github.com/mathew-j-davis/shuttle/internal/throttle"
	"github.com/mathew-j-davis/shuttle/internal/tracker"
)

// workItem is one file admitted into quarantine, carrying everything a
// scan-and-dispose worker needs.
type workItem struct {
	recordID       string
	sourcePath     string
	quarantinePath string
	relPath        string
	size           int64
}

// stats accumulates run-wide counters under a single mutex, mirroring
// the teacher's pipeline stats shape (one lock protecting a plain
// struct, read out at report time rather than threaded through
// channels).
type stats struct {
	mu sync.Mutex

	attempted int64
	processed int64
	delivered int64
	failed    int64
	suspect   int64
	bytes     int64

	throttleRejections map[string]int64
	topFailures        []notifier.FailureDetail
}

func newStats() *stats {
	return &stats{throttleRejections: make(map[string]int64)}
}

// recordProcessed marks one more item as finished (regardless of
// outcome) and returns the running total, for the status_log heartbeat.
func (s *stats) recordProcessed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	return s.processed
}

// snapshot returns a point-in-time copy of the delivered/suspect/failed
// counters for heartbeat logging.
func (s *stats) snapshot() (delivered, suspect, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.suspect, s.failed
}

func (s *stats) recordThrottle(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttleRejections[reason]++
}

func (s *stats) recordFailure(path, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	const maxTopFailures = 20
	if len(s.topFailures) < maxTopFailures {
		s.topFailures = append(s.topFailures, notifier.FailureDetail{Path: path, Reason: reason})
	}
}

// Run executes the one-shot pipeline: preflight is already complete by
// the time Run is called (see New); this covers enumerate-and-enqueue,
// concurrent scan-and-dispose, drain-and-cleanup, and report, in strict
// order. ctx cancellation (SIGINT/SIGTERM upstream) stops enumeration at
// the next file; scans already running share ctx, so their scanner
// processes are killed as well.
func (o *Orchestrator) Run(ctx context.Context) (notifier.Summary, int) {
	start := o.clock()
	st := newStats()

	runFiles := int64(0)
	runBytes := int64(0)
	pendingFiles := int64(0)
	pendingBytes := int64(0)
	var runMu sync.Mutex

	var shutdown atomic.Bool
	exitReason := "completed"

	items := make(chan workItem, o.cfg.Settings.MaxScanThreads*2)

	var workerWG sync.WaitGroup
	for i := 0; i < o.cfg.Settings.MaxScanThreads; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for item := range items {
				o.processItem(ctx, item, st, &shutdown)
				runMu.Lock()
				pendingFiles--
				pendingBytes -= item.size
				runMu.Unlock()
				o.logHeartbeat(st)
			}
		}()
	}

	walkErr := filepath.WalkDir(o.cfg.Paths.SourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			o.logger.Warning("enumeration error for %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if shutdown.Load() {
			return filepath.SkipAll
		}

		if o.fileFilter != nil && !o.fileFilter.Filter(path) {
			o.logger.Debug("skipping %s: excluded by include/exclude filter", path)
			return nil
		}

		decision, err := o.gate.IsEligible(ctx, path)
		if err != nil {
			o.logger.Warning("eligibility check failed for %s: %v", path, err)
			return nil
		}
		if decision != gate.Eligible {
			o.logger.Debug("skipping %s: %s", path, decision)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			o.logger.Warning("stat failed for %s: %v", path, err)
			return nil
		}
		size := info.Size()

		daily := o.tracker.Totals()
		runMu.Lock()
		snapshot := runSnapshot(runFiles, runBytes, pendingFiles, pendingBytes)
		runMu.Unlock()

		admitted, reason := o.controller.Admit(size, dailySnapshot(daily), snapshot)
		if !admitted {
			st.recordThrottle(string(reason))
			o.logger.Warning("throttle stopped admission at %s: %s", path, reason)
			exitReason = fmt.Sprintf("throttled: %s", reason)
			return filepath.SkipAll
		}

		relPath, err := filepath.Rel(o.cfg.Paths.SourcePath, path)
		if err != nil {
			relPath = filepath.Base(path)
		}
		quarantinePath := filepath.Join(o.cfg.Paths.QuarantinePath, relPath)

		if err := o.copyToQuarantine(ctx, path, quarantinePath, size); err != nil {
			o.logger.Error("failed to quarantine %s: %v", path, err)
			st.recordFailure(path, err.Error())
			return nil
		}

		recordID, err := o.tracker.Begin(path, size)
		if err != nil {
			o.logger.Error("tracker failed to begin record for %s: %v", path, err)
			st.recordFailure(path, err.Error())
			return nil
		}

		runMu.Lock()
		runFiles++
		runBytes += size
		pendingFiles++
		pendingBytes += size
		runMu.Unlock()

		st.mu.Lock()
		st.attempted++
		st.bytes += size
		st.mu.Unlock()

		items <- workItem{
			recordID:       recordID,
			sourcePath:     path,
			quarantinePath: quarantinePath,
			relPath:        relPath,
			size:           size,
		}
		return nil
	})
	close(items)

	workerWG.Wait()

	if shutdown.Load() {
		exitReason = "scan shutdown: timeout or repeated scan failures"
	}

	interrupted := errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded)
	if interrupted {
		exitReason = "interrupted by signal"
	}

	o.drainAndCleanup()

	summary := notifier.Summary{
		RunStart:            start,
		RunEnd:              o.clock(),
		FilesAttempted:      st.attempted,
		FilesDelivered:      st.delivered,
		FilesFailed:         st.failed,
		FilesSuspect:        st.suspect,
		BytesMoved:          st.bytes,
		ThrottleRejections:  st.throttleRejections,
		ScannerVersions:     o.scannerVersions,
		TopFailures:         st.topFailures,
		ExitReason:          exitReason,
		CopyBufferReuseRate: o.disposer.BufferReuseRate(),
	}

	if err := o.notifier.NotifySummary(ctx, summary); err != nil {
		o.logger.Warning("failed to send summary notification: %v", err)
	}

	exitCode := ExitSuccess
	switch {
	case interrupted:
		exitCode = ExitInterrupted
	case st.failed > 0:
		exitCode = ExitPartial
	}

	return summary, exitCode
}

// outcomeHasTimeout reports whether any individual scanner in outcome
// exhausted its retries and timed out. Combine folds Timeout into the
// combined ScanFailed verdict (see verdict.go), so this is the only
// place that per-scanner result survives past normalization.
func outcomeHasTimeout(outcome scanner.Outcome) bool {
	for _, r := range outcome.Results {
		if r.Verdict == scanner.Timeout {
			return true
		}
	}
	return false
}

// processItem scans and disposes of one quarantined file, completing
// its tracker record regardless of outcome. A scanner that exhausts
// its retries and times out trips an immediate graceful shutdown on
// its own, independent of the circuit breaker: that single event is
// the documented trigger, not merely one data point toward the
// breaker's consecutive-failure threshold.
func (o *Orchestrator) processItem(ctx context.Context, item workItem, st *stats, shutdown *atomic.Bool) {
	var outcome scanner.Outcome
	circuitErr := o.circuit.Execute(func() error {
		outcome = o.normalizer.Scan(ctx, item.quarantinePath, item.size)
		if outcome.Verdict == scanner.ScanFailed {
			return fmt.Errorf("scan outcome %s", outcome.Verdict)
		}
		return nil
	})

	if outcomeHasTimeout(outcome) {
		if shutdown.CompareAndSwap(false, true) {
			o.logger.Error("scan of %s exhausted its retries and timed out; initiating graceful shutdown", item.sourcePath)
		}
		_ = o.tracker.Complete(item.recordID, tracker.Failed, "scan timed out after exhausting retries")
		st.recordFailure(item.sourcePath, "scan timeout")
		return
	}

	if errors.Is(circuitErr, scanner.ErrCircuitOpen) {
		if shutdown.CompareAndSwap(false, true) {
			o.logger.Error("repeated scan failures tripped the circuit breaker; initiating graceful shutdown")
		}
		_ = o.tracker.Complete(item.recordID, tracker.Failed, "circuit breaker open: scanner unavailable")
		st.recordFailure(item.sourcePath, "circuit breaker open")
		return
	}

	switch outcome.Verdict {
	case scanner.Clean:
		destPath := filepath.Join(o.cfg.Paths.DestinationPath, item.relPath)
		dispOutcome, err := o.disposer.DisposeClean(item.sourcePath, item.quarantinePath, destPath)
		if err != nil || dispOutcome != disposition.DeliveredClean {
			_ = o.tracker.Complete(item.recordID, tracker.Failed, errString(err))
			st.recordFailure(item.sourcePath, errString(err))
			return
		}
		_ = o.tracker.Complete(item.recordID, tracker.Completed, "")
		st.mu.Lock()
		st.delivered++
		st.mu.Unlock()

	case scanner.Suspect:
		dispOutcome, archivePath, archiveHash, err := o.disposer.DisposeSuspect(item.sourcePath, item.quarantinePath, outcome.DefenderHandled)
		if err != nil {
			_ = o.tracker.Complete(item.recordID, tracker.Failed, errString(err))
			st.recordFailure(item.sourcePath, errString(err))
			return
		}
		if dispOutcome == disposition.ArchivedSuspect {
			if err := o.notifier.NotifyHazard(ctx, item.sourcePath, archivePath, archiveHash); err != nil {
				o.logger.Warning("failed to send hazard notification for %s: %v", item.sourcePath, err)
			}
		}
		_ = o.tracker.Complete(item.recordID, tracker.Suspect, string(dispOutcome))
		st.mu.Lock()
		st.suspect++
		st.mu.Unlock()

	default: // ScanFailed, NotFound, Timeout
		reason := string(outcome.Verdict)
		_ = o.tracker.Complete(item.recordID, tracker.Failed, reason)
		st.recordFailure(item.sourcePath, reason)
	}
}

// copyToQuarantine copies a source file into the quarantine directory,
// creating any intermediate directories needed to preserve its
// relative path. When a byte-rate throttle is configured, it blocks
// until enough tokens are available before starting the copy so a run
// of large files cannot saturate disk I/O.
func (o *Orchestrator) copyToQuarantine(ctx context.Context, src, dst string, size int64) error {
	if o.copyLimiter != nil {
		if err := o.copyLimiter.WaitForBytes(ctx, size); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create quarantine directory: %w", err)
	}

	in, err := os.Open(src) //nolint:gosec // src is gate-validated before this call
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create quarantine copy %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s to quarantine: %w", src, err)
	}
	return out.Sync()
}

// logHeartbeat writes a periodic progress line at Verbose level every
// status_log_interval processed files, regardless of outcome. A zero
// interval (the default is 50) disables the heartbeat entirely.
func (o *Orchestrator) logHeartbeat(st *stats) {
	interval := o.cfg.Settings.StatusLogInterval
	if interval <= 0 {
		return
	}
	n := st.recordProcessed()
	if n%int64(interval) != 0 {
		return
	}
	delivered, suspect, failed := st.snapshot()
	o.logger.Verbose("progress: %d files processed (%d delivered, %d suspect, %d failed)", n, delivered, suspect, failed)
}

// drainAndCleanup removes the now-empty quarantine tree and, when
// configured to delete sources after copying, prunes source
// directories left empty by the run.
func (o *Orchestrator) drainAndCleanup() {
	entries, err := os.ReadDir(o.cfg.Paths.QuarantinePath)
	if err != nil {
		o.logger.Warning("cleanup: failed to read quarantine directory: %v", err)
		return
	}
	for _, e := range entries {
		full := filepath.Join(o.cfg.Paths.QuarantinePath, e.Name())
		if err := os.RemoveAll(full); err != nil {
			o.logger.Warning("cleanup: failed to remove leftover quarantine entry %s: %v", full, err)
		}
	}

	if !o.cfg.Settings.DeleteSourceFilesAfterCopying {
		return
	}
	pruneEmptyDirs(o.cfg.Paths.SourcePath, o.logger)
}

func pruneEmptyDirs(root string, logger *logging.Logger) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			if err := os.Remove(dir); err == nil {
				logger.Debug("removed empty source directory %s", dir)
			}
		}
	}
}

func runSnapshot(files, bytes, pendingFiles, pendingBytes int64) throttle.RunSnapshot {
	return throttle.RunSnapshot{
		Files:        files,
		Bytes:        bytes,
		PendingFiles: pendingFiles,
		PendingBytes: pendingBytes,
	}
}

func dailySnapshot(t tracker.Totals) throttle.DailySnapshot {
	return throttle.DailySnapshot{
		Files: t.CompletedFiles + t.FailedFiles + t.SuspectFiles + t.PendingFiles,
		Bytes: t.CompletedBytes + t.FailedBytes + t.SuspectBytes + t.PendingBytes,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
