// Package cmd contains the shuttle CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mathew-j-davis/shuttle/internal/config"
	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/notifier"
	"github.com/mathew-j-davis/shuttle/internal/pipeline"
)

var settingsPathFlag string

// flags mirrors config.Config's shape so applyFlagOverrides can
// tell, via cmd.Flags().Changed, which ones the operator actually set
// on the command line and therefore should override the settings file.
var flags struct {
	sourcePath              string
	destinationPath         string
	quarantinePath          string
	hazardArchivePath       string
	hazardEncryptionKeyPath string
	lockFile                string
	ledgerFilePath          string
	trackerDirectory        string

	deleteSourceFilesAfterCopying bool
	maxScanThreads                int
	skipStabilityCheck            bool
	defenderHandlesSuspectFiles   bool

	throttle                      bool
	throttleFreeSpaceMB           int64
	throttleMaxFileCountPerRun    int64
	throttleMaxFileVolumePerRunMB int64
	throttleMaxFileCountPerDay    int64
	throttleMaxFileVolumePerDayMB int64

	onDemandDefender bool
	onDemandClamAV   bool

	malwareScanTimeoutSeconds   int
	malwareScanTimeoutMsPerByte float64
	malwareScanRetryWaitSeconds int
	malwareScanRetryCount       int

	logPath  string
	logLevel string

	notify                   bool
	notifyRecipientEmail     string
	notifyRecipientError     string
	notifyRecipientSummary   string
	notifyRecipientHazard    string
	notifySenderEmail        string
	notifySMTPServer         string
	notifySMTPPort           int
	notifyUsername           string
	notifyPassword           string
	notifyUseTLS             bool
}

// rootCmd is the one-shot transfer run: shuttle has no subcommands of
// its own consequence other than "version".
var rootCmd = &cobra.Command{
	Use:   "shuttle",
	Short: "One-shot malware-scanning file transfer pipeline",
	Long: `shuttle moves files from a source directory to a destination
directory through a quarantine stage, scanning each file for malware
before delivering it, archiving or deferring anything suspect, and
exiting once the batch is complete.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runShuttle,
}

// Execute runs the root command and translates its outcome into the
// process exit code.
func Execute() {
	err := rootCmd.Execute()
	code := pipeline.ExitSuccess
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		code = exitCodeFor(err)
	}
	os.Exit(code)
}

// exitRunError carries the exit code a failed run should produce,
// distinguishing a fatal preflight failure from a partial run.
type exitRunError struct {
	code int
	err  error
}

func (e *exitRunError) Error() string { return e.err.Error() }
func (e *exitRunError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var re *exitRunError
	if errors.As(err, &re) {
		return re.code
	}
	return pipeline.ExitConfigError
}

func runShuttle(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(settingsPathFlag)
	if err != nil {
		return &exitRunError{code: pipeline.ExitConfigError, err: fmt.Errorf("load configuration: %w", err)}
	}
	applyFlagOverrides(cmd, loaded)

	logger := buildLogger(loaded)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := pipeline.New(ctx, loaded, logger)
	if err != nil {
		return &exitRunError{code: pipeline.ExitConfigError, err: fmt.Errorf("preflight failed: %w", err)}
	}
	defer orch.Close()

	summary, exitCode := orch.Run(ctx)

	if err := writeHumanSummary(summary); err != nil {
		logger.Warning("failed to write run summary: %v", err)
	}

	if exitCode != pipeline.ExitSuccess {
		return &exitRunError{code: exitCode, err: fmt.Errorf("run finished with exit reason: %s", summary.ExitReason)}
	}
	return nil
}

func writeHumanSummary(summary notifier.Summary) error {
	return notifier.FormatHuman(os.Stdout, summary)
}

func buildLogger(cfg *config.Config) *logging.Logger {
	level := logging.LevelInfo
	switch cfg.Logging.LogLevel {
	case "DEBUG":
		level = logging.LevelDebug
	case "WARNING":
		level = logging.LevelWarning
	case "ERROR":
		level = logging.LevelError
	case "CRITICAL":
		level = logging.LevelCritical
	}
	if cfg.Logging.Quiet {
		level = logging.LevelCritical
	} else if cfg.Logging.Debug {
		level = logging.LevelDebug
	} else if cfg.Logging.Verbose {
		level = logging.LevelVerbose
	}

	logger := logging.New(level)
	logger.SetColored(!cfg.Logging.NoColor)

	if cfg.Logging.LogPath != "" {
		f, err := os.OpenFile(cfg.Logging.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // operator-specified log path
		if err == nil {
			logger.SetOutput(f)
			logger.SetErrorOutput(f)
		}
	}

	return logger
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPathFlag, "settings-path", "", "alternate settings file (default: /etc/shuttle/shuttle.ini)")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.sourcePath, "source-path", "", "source directory (required)")
	pf.StringVar(&flags.destinationPath, "destination-path", "", "destination directory (required)")
	pf.StringVar(&flags.quarantinePath, "quarantine-path", "", "quarantine staging directory (required)")
	pf.StringVar(&flags.hazardArchivePath, "hazard-archive-path", "", "hazard archive directory")
	pf.StringVar(&flags.hazardEncryptionKeyPath, "hazard-encryption-key-path", "", "armored GPG public key for hazard archiving")
	pf.StringVar(&flags.logPath, "log-path", "", "log output file (default: stdout/stderr)")
	pf.StringVar(&flags.logLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR, or CRITICAL")
	pf.StringVar(&flags.lockFile, "lock-file", "", "single-instance lock file (default /tmp/shuttle.lock)")
	pf.StringVar(&flags.ledgerFilePath, "ledger-file-path", "", "defender-version compatibility ledger file")
	pf.StringVar(&flags.trackerDirectory, "tracker-directory", "", "daily processing tracker directory")
	pf.BoolVar(&flags.deleteSourceFilesAfterCopying, "delete-source-files-after-copying", false, "remove source files once delivered or archived")
	pf.IntVar(&flags.maxScanThreads, "max-scan-threads", 0, "concurrent scan-and-dispose workers")
	pf.BoolVar(&flags.onDemandDefender, "on-demand-defender", false, "scan with Microsoft Defender (mdatp)")
	pf.BoolVar(&flags.onDemandClamAV, "on-demand-clam-av", false, "scan with ClamAV (clamscan)")
	pf.BoolVar(&flags.defenderHandlesSuspectFiles, "defender-handles-suspect-files", false, "defender quarantines suspect files itself")
	pf.BoolVar(&flags.throttle, "throttle", false, "enable admission throttling")
	pf.Int64Var(&flags.throttleFreeSpaceMB, "throttle-free-space-mb", 0, "minimum free space in MB on watched directories (0 disables)")
	pf.Int64Var(&flags.throttleMaxFileCountPerRun, "throttle-max-file-count-per-run", 0, "max files admitted per run (0 disables)")
	pf.Int64Var(&flags.throttleMaxFileVolumePerRunMB, "throttle-max-file-volume-per-run-mb", 0, "max bytes admitted per run, in MB (0 disables)")
	pf.Int64Var(&flags.throttleMaxFileCountPerDay, "throttle-max-file-count-per-day", 0, "max files admitted per local day (0 disables)")
	pf.Int64Var(&flags.throttleMaxFileVolumePerDayMB, "throttle-max-file-volume-per-day-mb", 0, "max bytes admitted per local day, in MB (0 disables)")
	pf.IntVar(&flags.malwareScanTimeoutSeconds, "malware-scan-timeout-seconds", 0, "base scan timeout in seconds (0 disables)")
	pf.Float64Var(&flags.malwareScanTimeoutMsPerByte, "malware-scan-timeout-ms-per-byte", 0, "additional per-byte scan timeout in milliseconds")
	pf.IntVar(&flags.malwareScanRetryWaitSeconds, "malware-scan-retry-wait-seconds", 0, "wait between scan retries, in seconds")
	pf.IntVar(&flags.malwareScanRetryCount, "malware-scan-retry-count", 0, "scan retries on timeout")
	pf.BoolVar(&flags.skipStabilityCheck, "skip-stability-check", false, "disable file-stability check (testing only)")
	pf.BoolVar(&flags.notify, "notify", false, "enable email notifications")
	pf.StringVar(&flags.notifyRecipientEmail, "notify-recipient-email", "", "default notification recipient")
	pf.StringVar(&flags.notifyRecipientError, "notify-recipient-email-error", "", "error notification recipient")
	pf.StringVar(&flags.notifyRecipientSummary, "notify-recipient-email-summary", "", "summary notification recipient")
	pf.StringVar(&flags.notifyRecipientHazard, "notify-recipient-email-hazard", "", "hazard notification recipient")
	pf.StringVar(&flags.notifySenderEmail, "notify-sender-email", "", "notification sender address")
	pf.StringVar(&flags.notifySMTPServer, "notify-smtp-server", "", "SMTP server hostname")
	pf.IntVar(&flags.notifySMTPPort, "notify-smtp-port", 0, "SMTP server port")
	pf.StringVar(&flags.notifyUsername, "notify-username", "", "SMTP username")
	pf.StringVar(&flags.notifyPassword, "notify-password", "", "SMTP password")
	pf.BoolVar(&flags.notifyUseTLS, "notify-use-tls", false, "use implicit TLS for SMTP delivery")
}

// applyFlagOverrides layers explicitly-set command-line flags on top
// of the settings-file-derived configuration, per the precedence rule
// in the spec: flags override file, file overrides built-in defaults.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("source-path") {
		cfg.Paths.SourcePath = flags.sourcePath
	}
	if changed("destination-path") {
		cfg.Paths.DestinationPath = flags.destinationPath
	}
	if changed("quarantine-path") {
		cfg.Paths.QuarantinePath = flags.quarantinePath
	}
	if changed("hazard-archive-path") {
		cfg.Paths.HazardArchivePath = flags.hazardArchivePath
	}
	if changed("hazard-encryption-key-path") {
		cfg.Paths.HazardEncryptionKeyPath = flags.hazardEncryptionKeyPath
	}
	if changed("lock-file") {
		cfg.Paths.LockFile = flags.lockFile
	}
	if changed("ledger-file-path") {
		cfg.Paths.LedgerFilePath = flags.ledgerFilePath
	}
	if changed("tracker-directory") {
		cfg.Paths.TrackerDirectory = flags.trackerDirectory
	}
	if changed("delete-source-files-after-copying") {
		cfg.Settings.DeleteSourceFilesAfterCopying = flags.deleteSourceFilesAfterCopying
	}
	if changed("max-scan-threads") {
		cfg.Settings.MaxScanThreads = flags.maxScanThreads
	}
	if changed("on-demand-defender") {
		cfg.Scanning.OnDemandDefender = flags.onDemandDefender
	}
	if changed("on-demand-clam-av") {
		cfg.Scanning.OnDemandClamAV = flags.onDemandClamAV
	}
	if changed("defender-handles-suspect-files") {
		cfg.Settings.DefenderHandlesSuspectFiles = flags.defenderHandlesSuspectFiles
	}
	if changed("throttle") {
		cfg.Settings.Throttle = flags.throttle
	}
	if changed("throttle-free-space-mb") {
		cfg.Settings.ThrottleFreeSpaceMB = flags.throttleFreeSpaceMB
	}
	if changed("throttle-max-file-count-per-run") {
		cfg.Settings.ThrottleMaxFileCountPerRun = flags.throttleMaxFileCountPerRun
	}
	if changed("throttle-max-file-volume-per-run-mb") {
		cfg.Settings.ThrottleMaxFileVolumePerRunMB = flags.throttleMaxFileVolumePerRunMB
	}
	if changed("throttle-max-file-count-per-day") {
		cfg.Settings.ThrottleMaxFileCountPerDay = flags.throttleMaxFileCountPerDay
	}
	if changed("throttle-max-file-volume-per-day-mb") {
		cfg.Settings.ThrottleMaxFileVolumePerDayMB = flags.throttleMaxFileVolumePerDayMB
	}
	if changed("malware-scan-timeout-seconds") {
		cfg.Scanning.MalwareScanTimeoutSeconds = flags.malwareScanTimeoutSeconds
	}
	if changed("malware-scan-timeout-ms-per-byte") {
		cfg.Scanning.MalwareScanTimeoutMsPerByte = flags.malwareScanTimeoutMsPerByte
	}
	if changed("malware-scan-retry-wait-seconds") {
		cfg.Scanning.MalwareScanRetryWaitSeconds = flags.malwareScanRetryWaitSeconds
	}
	if changed("malware-scan-retry-count") {
		cfg.Scanning.MalwareScanRetryCount = flags.malwareScanRetryCount
	}
	if changed("skip-stability-check") {
		cfg.Settings.SkipStabilityCheck = flags.skipStabilityCheck
	}
	if changed("log-path") {
		cfg.Logging.LogPath = flags.logPath
	}
	if changed("log-level") {
		cfg.Logging.LogLevel = flags.logLevel
	}
	if changed("notify") {
		cfg.Notifications.Notify = flags.notify
	}
	if changed("notify-recipient-email") {
		cfg.Notifications.RecipientEmail = flags.notifyRecipientEmail
	}
	if changed("notify-recipient-email-error") {
		cfg.Notifications.RecipientEmailError = flags.notifyRecipientError
	}
	if changed("notify-recipient-email-summary") {
		cfg.Notifications.RecipientEmailSummary = flags.notifyRecipientSummary
	}
	if changed("notify-recipient-email-hazard") {
		cfg.Notifications.RecipientEmailHazard = flags.notifyRecipientHazard
	}
	if changed("notify-sender-email") {
		cfg.Notifications.SenderEmail = flags.notifySenderEmail
	}
	if changed("notify-smtp-server") {
		cfg.Notifications.SMTPServer = flags.notifySMTPServer
	}
	if changed("notify-smtp-port") {
		cfg.Notifications.SMTPPort = flags.notifySMTPPort
	}
	if changed("notify-username") {
		cfg.Notifications.Username = flags.notifyUsername
	}
	if changed("notify-password") {
		cfg.Notifications.Password = flags.notifyPassword
	}
	if changed("notify-use-tls") {
		cfg.Notifications.UseTLS = flags.notifyUseTLS
	}

	// Unqualified --notify-recipient-email is shorthand for all three
	// specific recipients when they are not independently set.
	if changed("notify-recipient-email") {
		if cfg.Notifications.RecipientEmailError == "" {
			cfg.Notifications.RecipientEmailError = flags.notifyRecipientEmail
		}
		if cfg.Notifications.RecipientEmailSummary == "" {
			cfg.Notifications.RecipientEmailSummary = flags.notifyRecipientEmail
		}
		if cfg.Notifications.RecipientEmailHazard == "" {
			cfg.Notifications.RecipientEmailHazard = flags.notifyRecipientEmail
		}
	}
}
