// Package pipeline wires every other package into the single one-shot
// run the CLI executes: preflight checks, enumeration under throttle
// and gate control, concurrent scan-and-dispose, cleanup, and a final
// summary report.
package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mathew-j-davis/shuttle/internal/config"
	"github.com/mathew-j-davis/shuttle/internal/disposition"
	"github.com/mathew-j-davis/shuttle/internal/gate"
	"github.com/mathew-j-davis/shuttle/internal/ledger"
	"github.com/mathew-j-davis/shuttle/internal/lockfile"
	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/notifier"
	"github.com/mathew-j-davis/shuttle/internal/scanner"
	"github.com/mathew-j-davis/shuttle/internal/throttle"
	"github.com/mathew-j-davis/shuttle/internal/tracker"
)

// Exit codes returned by Run, matching the CLI's process exit status.
const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitPartial     = 2
	ExitInterrupted = 3
)

// Orchestrator runs the five-phase transfer pipeline once over a
// source directory.
type Orchestrator struct {
	cfg    *config.Config
	logger *logging.Logger
	clock  func() time.Time

	lock *lockfile.Lock

	gate        *gate.Gate
	fileFilter  *scanner.FileFilter
	sampler     *throttle.Sampler
	controller  *throttle.Controller
	tracker     *tracker.Tracker
	normalizer  *scanner.Normalizer
	disposer    *disposition.Handler
	ledger      ledger.Ledger
	notifier    *notifier.Notifier
	circuit     *scanner.CircuitBreaker
	copyLimiter *scanner.CopyRateLimiter

	scannerVersions map[string]string
}

// New assembles an Orchestrator from fully-resolved configuration,
// running every preflight check along the way: settings validation,
// single-instance lock acquisition, scanner binary presence, and the
// defender-version ledger gate. A non-nil error here is always fatal
// (ExitConfigError) and the caller must not call Run.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}

	lock, err := lockfile.Acquire(cfg.Paths.LockFile)
	if err != nil {
		return nil, fmt.Errorf("acquire single-instance lock: %w", err)
	}

	o := &Orchestrator{
		cfg:             cfg,
		logger:          logger,
		clock:           time.Now,
		lock:            lock,
		scannerVersions: make(map[string]string),
	}

	if err := o.preflightScanners(ctx); err != nil {
		_ = lock.Release()
		return nil, err
	}

	o.gate = gate.New(
		time.Duration(cfg.Settings.StabilityWindowSeconds)*time.Second,
		cfg.Settings.SkipStabilityCheck,
		gate.DefaultProbe(),
		logger.WithComponent("gate"),
	)

	fileFilter, err := scanner.NewFilterFromConfig(&scanner.FilterConfig{
		IncludePatterns: splitPatterns(cfg.Scanning.IncludePatterns),
		ExcludePatterns: splitPatterns(cfg.Scanning.ExcludePatterns),
	})
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("compile include/exclude patterns: %w", err)
	}
	o.fileFilter = fileFilter

	dirs := map[throttle.Dir]string{
		throttle.DirDestination: cfg.Paths.DestinationPath,
		throttle.DirQuarantine:  cfg.Paths.QuarantinePath,
	}
	hazardEnabled := cfg.Paths.HazardArchivePath != ""
	if hazardEnabled {
		dirs[throttle.DirHazard] = cfg.Paths.HazardArchivePath
	}

	minFree := map[throttle.Dir]int64{}
	if cfg.Settings.ThrottleFreeSpaceMB > 0 {
		for dir := range dirs {
			minFree[dir] = cfg.Settings.ThrottleFreeSpaceMB
		}
	}

	o.sampler = throttle.NewSampler(throttle.StatfsReader{}, dirs, 5*time.Second, logger.WithComponent("throttle"))
	o.sampler.Start(ctx)

	budget := throttle.Budget{
		RunMaxFiles: cfg.Settings.ThrottleMaxFileCountPerRun,
		RunMaxBytes: cfg.Settings.ThrottleMaxFileVolumePerRunMB * 1024 * 1024,
		DayMaxFiles: cfg.Settings.ThrottleMaxFileCountPerDay,
		DayMaxBytes: cfg.Settings.ThrottleMaxFileVolumePerDayMB * 1024 * 1024,
		MinFreeMB:   minFree,
	}
	o.controller = throttle.NewController(budget, o.sampler, hazardEnabled, logger.WithComponent("throttle"))

	trk, err := tracker.Load(cfg.Paths.TrackerDirectory, o.clock(), logger.WithComponent("tracker"))
	if err != nil {
		_ = lock.Release()
		o.sampler.Stop()
		return nil, fmt.Errorf("load daily tracker: %w", err)
	}
	o.tracker = trk

	pool := scanner.NewCopyBufferPool()

	var encryptor disposition.Encryptor
	if hazardEnabled {
		encryptor, err = disposition.NewGPGEncryptor(cfg.Paths.HazardEncryptionKeyPath)
		if err != nil {
			_ = lock.Release()
			o.sampler.Stop()
			return nil, fmt.Errorf("load hazard encryption key: %w", err)
		}
	}
	o.disposer = disposition.New(pool, logger.WithComponent("disposition"), cfg.Settings.DeleteSourceFilesAfterCopying, cfg.Paths.HazardArchivePath, encryptor)

	ldgr, err := ledger.Load(cfg.Paths.LedgerFilePath)
	if err != nil {
		_ = lock.Release()
		o.sampler.Stop()
		return nil, fmt.Errorf("load defender-version ledger: %w", err)
	}
	o.ledger = ldgr

	if err := o.checkLedgerGate(); err != nil {
		_ = lock.Release()
		o.sampler.Stop()
		return nil, err
	}

	var scanners []scanner.Scanner
	if cfg.Scanning.OnDemandDefender {
		scanners = append(scanners, scanner.DefenderScanner{Command: cfg.Scanning.DefenderCommand})
	}
	if cfg.Scanning.OnDemandClamAV {
		scanners = append(scanners, scanner.ClamAVScanner{Command: cfg.Scanning.ClamAVCommand})
	}
	o.normalizer = &scanner.Normalizer{
		Scanners: scanners,
		Policy: scanner.TimeoutPolicy{
			Base:       time.Duration(cfg.Scanning.MalwareScanTimeoutSeconds) * time.Second,
			PerByte:    time.Duration(cfg.Scanning.MalwareScanTimeoutMsPerByte * float64(time.Millisecond)),
			RetryCount: cfg.Scanning.MalwareScanRetryCount,
			RetryWait:  time.Duration(cfg.Scanning.MalwareScanRetryWaitSeconds) * time.Second,
		},
		Logger:                 logger.WithComponent("scanner"),
		DefenderHandlesSuspect: cfg.Settings.DefenderHandlesSuspectFiles,
	}

	o.circuit = scanner.NewCircuitBreaker(3, 30*time.Second, 1)

	if cfg.Settings.ThrottleRateMBPerSec > 0 {
		o.copyLimiter = scanner.NewCopyRateLimiter(cfg.Settings.ThrottleRateMBPerSec*1024*1024, 64*1024)
	}

	var sender notifier.Sender
	if cfg.Notifications.Notify {
		sender = notifier.SMTPSender{
			Server:   cfg.Notifications.SMTPServer,
			Port:     cfg.Notifications.SMTPPort,
			Username: cfg.Notifications.Username,
			Password: cfg.Notifications.Password,
			From:     cfg.Notifications.SenderEmail,
			UseTLS:   cfg.Notifications.UseTLS,
		}
	}
	o.notifier = notifier.New(sender, notifier.Config{
		Enabled:          cfg.Notifications.Notify,
		RecipientSummary: cfg.Notifications.RecipientEmailSummary,
		RecipientError:   cfg.Notifications.RecipientEmailError,
		RecipientHazard:  cfg.Notifications.RecipientEmailHazard,
	})

	return o, nil
}

// preflightScanners verifies every enabled scanner's binary is on PATH
// and records its version for the summary report.
func (o *Orchestrator) preflightScanners(ctx context.Context) error {
	if !o.cfg.Scanning.OnDemandDefender && !o.cfg.Scanning.OnDemandClamAV {
		return fmt.Errorf("no scanner enabled")
	}

	if o.cfg.Scanning.OnDemandDefender {
		d := scanner.DefenderScanner{Command: o.cfg.Scanning.DefenderCommand}
		command := d.Command
		if command == "" {
			command = "mdatp"
		}
		if _, err := exec.LookPath(command); err != nil {
			return fmt.Errorf("defender scanner enabled but %s not found on PATH: %w", command, err)
		}
		version, err := d.Version(ctx)
		if err != nil {
			return fmt.Errorf("query defender version: %w", err)
		}
		o.scannerVersions["defender"] = version
	}

	if o.cfg.Scanning.OnDemandClamAV {
		command := o.cfg.Scanning.ClamAVCommand
		if command == "" {
			command = "clamscan"
		}
		if _, err := exec.LookPath(command); err != nil {
			return fmt.Errorf("clamav scanner enabled but %s not found on PATH: %w", command, err)
		}
	}

	return nil
}

// checkLedgerGate enforces the preflight rule that a defender version
// which has not passed the compatibility suite blocks the run, unless
// the operator has explicitly opted out with skip_ledger_check.
func (o *Orchestrator) checkLedgerGate() error {
	if o.cfg.Scanning.SkipLedgerCheck {
		o.logger.Warning("ledger version check skipped (skip_ledger_check is set)")
		return nil
	}
	version, ok := o.scannerVersions["defender"]
	if !ok {
		return nil
	}
	if !o.ledger.HasPassed(version) {
		return fmt.Errorf("defender version %s has not passed the compatibility ledger check", version)
	}
	return nil
}

// splitPatterns splits a comma-separated list of regex patterns into
// its individual entries, trimming whitespace and dropping empty ones
// so that an unset or trailing-comma config value yields no patterns
// rather than an empty-string pattern that matches everything.
func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Close releases resources acquired by New that Run does not otherwise
// release: the single-instance lock and the free-space sampler.
func (o *Orchestrator) Close() {
	o.sampler.Stop()
	if o.copyLimiter != nil {
		o.copyLimiter.Close()
	}
	if err := o.lock.Release(); err != nil {
		o.logger.Warning("failed to release lock file: %v", err)
	}
}
