package cmd

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/mathew-j-davis/shuttle/internal/config"
	"github.com/mathew-j-davis/shuttle/internal/pipeline"
)

func TestApplyFlagOverridesOnlyTouchesChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	pf := cmd.Flags()
	pf.StringVar(&flags.sourcePath, "source-path", "", "")
	pf.StringVar(&flags.destinationPath, "destination-path", "", "")
	pf.IntVar(&flags.maxScanThreads, "max-scan-threads", 0, "")

	if err := pf.Set("source-path", "/data/in"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	flags.sourcePath = "/data/in"

	cfg := &config.Config{}
	cfg.Paths.DestinationPath = "/data/out" // pre-existing value must survive

	applyFlagOverrides(cmd, cfg)

	if cfg.Paths.SourcePath != "/data/in" {
		t.Errorf("expected source-path override applied, got %q", cfg.Paths.SourcePath)
	}
	if cfg.Paths.DestinationPath != "/data/out" {
		t.Errorf("expected destination-path left untouched, got %q", cfg.Paths.DestinationPath)
	}
	if cfg.Settings.MaxScanThreads != 0 {
		t.Errorf("expected max-scan-threads left untouched, got %d", cfg.Settings.MaxScanThreads)
	}
}

func TestApplyFlagOverridesNotifyRecipientShorthand(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	pf := cmd.Flags()
	pf.StringVar(&flags.notifyRecipientEmail, "notify-recipient-email", "", "")
	pf.StringVar(&flags.notifyRecipientError, "notify-recipient-email-error", "", "")

	if err := pf.Set("notify-recipient-email", "ops@example.com"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}
	flags.notifyRecipientEmail = "ops@example.com"

	cfg := &config.Config{}
	applyFlagOverrides(cmd, cfg)

	if cfg.Notifications.RecipientEmailSummary != "ops@example.com" {
		t.Errorf("expected summary recipient shorthand applied, got %q", cfg.Notifications.RecipientEmailSummary)
	}
	if cfg.Notifications.RecipientEmailHazard != "ops@example.com" {
		t.Errorf("expected hazard recipient shorthand applied, got %q", cfg.Notifications.RecipientEmailHazard)
	}
}

func TestExitCodeForWrappedRunError(t *testing.T) {
	err := &exitRunError{code: pipeline.ExitPartial, err: errors.New("some files failed")}
	if got := exitCodeFor(err); got != pipeline.ExitPartial {
		t.Errorf("exitCodeFor() = %d, want %d", got, pipeline.ExitPartial)
	}
}

func TestExitCodeForUnrecognizedErrorDefaultsToConfigError(t *testing.T) {
	if got := exitCodeFor(errors.New("boom")); got != pipeline.ExitConfigError {
		t.Errorf("exitCodeFor() = %d, want %d", got, pipeline.ExitConfigError)
	}
}
