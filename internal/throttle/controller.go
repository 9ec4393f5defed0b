package throttle

import (
	"sync/atomic"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// Controller implements the admission decision rule from the spec: a
// candidate is admitted only if every configured cap, evaluated with the
// candidate's size folded in, still holds.
//
// Once a candidate is rejected, the controller latches into a stopped
// state: per the spec's admission-monotonicity invariant, no further
// items may be admitted in the same run, preserving FIFO fairness over
// continuing to skip past the rejected item.
type Controller struct {
	budget  Budget
	sampler *Sampler
	logger  *logging.Logger

	hazardEnabled bool
	stopped       atomic.Bool
	stopReason    atomic.Value // Reason
}

// NewController creates a throttle controller over budget, reading free
// space from sampler. hazardEnabled indicates whether the hazard
// directory participates in free-space checks.
func NewController(budget Budget, sampler *Sampler, hazardEnabled bool, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Controller{
		budget:        budget,
		sampler:       sampler,
		hazardEnabled: hazardEnabled,
		logger:        logger,
	}
}

// Stopped reports whether the controller has already rejected a
// candidate in this run, per the monotonicity invariant.
func (c *Controller) Stopped() (bool, Reason) {
	if !c.stopped.Load() {
		return false, ReasonNone
	}
	r, _ := c.stopReason.Load().(Reason)
	return true, r
}

// Admit evaluates the candidate against the budget and the current daily
// and run snapshots. It returns true (admitted) only if every clause
// passes; once it returns false, every subsequent call also returns
// false with the original reason, regardless of arguments.
func (c *Controller) Admit(candidateSize int64, daily DailySnapshot, run RunSnapshot) (bool, Reason) {
	if stopped, reason := c.Stopped(); stopped {
		return false, reason
	}

	if reason := c.checkFreeSpace(candidateSize, run); reason != ReasonNone {
		c.latch(reason)
		return false, reason
	}

	if c.budget.DayMaxFiles > 0 && daily.Files+run.PendingFiles+1 > c.budget.DayMaxFiles {
		c.latch(ReasonDailyFileCap)
		return false, ReasonDailyFileCap
	}
	if c.budget.DayMaxBytes > 0 && daily.Bytes+run.PendingBytes+candidateSize > c.budget.DayMaxBytes {
		c.latch(ReasonDailyByteCap)
		return false, ReasonDailyByteCap
	}
	if c.budget.RunMaxFiles > 0 && run.Files+run.PendingFiles+1 > c.budget.RunMaxFiles {
		c.latch(ReasonRunFileCap)
		return false, ReasonRunFileCap
	}
	if c.budget.RunMaxBytes > 0 && run.Bytes+run.PendingBytes+candidateSize > c.budget.RunMaxBytes {
		c.latch(ReasonRunByteCap)
		return false, ReasonRunByteCap
	}

	return true, ReasonNone
}

func (c *Controller) checkFreeSpace(candidateSize int64, run RunSnapshot) Reason {
	if c.sampler == nil || c.budget.MinFreeMB == nil {
		return ReasonNone
	}

	dirs := []Dir{DirDestination, DirQuarantine}
	if c.hazardEnabled {
		dirs = append(dirs, DirHazard)
	}

	candidateMB := candidateSize / bytesPerMB
	pendingMB := run.PendingBytes / bytesPerMB

	for _, dir := range dirs {
		minFree, configured := c.budget.MinFreeMB[dir]
		if !configured || minFree <= 0 {
			continue
		}
		freeMB, ok := c.sampler.FreeMB(dir)
		if !ok {
			continue // no sample yet; do not block admission on a cold cache
		}
		if freeMB-(pendingMB+candidateMB) < minFree {
			return reasonForDir(dir)
		}
	}
	return ReasonNone
}

func (c *Controller) latch(reason Reason) {
	if c.stopped.CompareAndSwap(false, true) {
		c.stopReason.Store(reason)
		c.logger.Warning("throttle controller stopping admission: %s", reason)
	}
}
