package gate

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// Decision is the outcome of an eligibility check on a source file.
type Decision string

// Possible eligibility decisions.
const (
	Eligible       Decision = "eligible"
	SkipUnstable   Decision = "skip_unstable"
	SkipOpen       Decision = "skip_open"
	SkipUnsafeName Decision = "skip_unsafe_name"
	SkipError      Decision = "skip_error"
)

// Gate decides whether a source file may be admitted to quarantine.
type Gate struct {
	// StabilityWindow is the minimum age of mtime before a file is
	// considered stable. Zero or negative means the 5-second default;
	// use SkipStabilityCheck to turn the check off.
	StabilityWindow time.Duration

	// SkipStabilityCheck disables the stability check outright. This is
	// a testing mode and must be logged loudly by the caller at startup.
	SkipStabilityCheck bool

	// Probe answers whether a file is held open by another process.
	Probe OpenProbe

	Clock func() time.Time

	Logger *logging.Logger
}

// New creates a Gate with sane defaults; any nil field is filled in.
func New(stabilityWindow time.Duration, skipStabilityCheck bool, probe OpenProbe, logger *logging.Logger) *Gate {
	if probe == nil {
		probe = DefaultProbe()
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Gate{
		StabilityWindow:    stabilityWindow,
		SkipStabilityCheck: skipStabilityCheck,
		Probe:              probe,
		Clock:              time.Now,
		Logger:             logger,
	}
}

// IsEligible implements the is_eligible contract from the spec: name
// safety, mtime stability, and not-open-elsewhere, in that order (name
// safety is cheapest and catches hostile input before any syscall).
func (g *Gate) IsEligible(ctx context.Context, path string) (Decision, error) {
	name := filepath.Base(path)
	if !IsSafeName(name, NameSafetyOptions{}) {
		return SkipUnsafeName, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return SkipError, err
	}

	if g.SkipStabilityCheck {
		g.Logger.Warning("stability check disabled for %s (testing mode)", path)
	} else {
		now := time.Now()
		if g.Clock != nil {
			now = g.Clock()
		}
		window := g.StabilityWindow
		if window <= 0 {
			window = 5 * time.Second
		}
		if now.Sub(info.ModTime()) < window {
			return SkipUnstable, nil
		}
	}

	probe := g.Probe
	if probe == nil {
		probe = DefaultProbe()
	}
	open, err := probe.IsOpenElsewhere(ctx, path)
	if err != nil {
		g.Logger.Warning("open-file probe failed for %s: %v (skipping, not admitting)", path, err)
		return SkipError, err
	}
	if open {
		return SkipOpen, nil
	}

	return Eligible, nil
}
