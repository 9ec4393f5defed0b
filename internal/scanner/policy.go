package scanner

import (
	"context"
	"time"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// TimeoutPolicy computes a per-file scan timeout and governs retries on
// timeout. Base and PerByte may independently be zero to disable that
// component of the timeout.
type TimeoutPolicy struct {
	Base       time.Duration
	PerByte    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// Timeout returns the timeout for a file of the given size.
func (p TimeoutPolicy) Timeout(size int64) time.Duration {
	return p.Base + time.Duration(size)*p.PerByte
}

// Scanner runs one malware scanner against a quarantined file.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, path string, size int64) Result
}

// RunWithRetry invokes scanner under policy's timeout, retrying on
// Timeout up to RetryCount additional times with RetryWait between
// attempts. Exhausting retries returns a Timeout result; the caller
// (the orchestrator) is responsible for treating repeated timeouts as a
// signal to begin graceful shutdown.
func RunWithRetry(ctx context.Context, s Scanner, path string, size int64, policy TimeoutPolicy, logger *logging.Logger) Result {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}

	attempts := policy.RetryCount + 1
	var last Result

	for attempt := 0; attempt < attempts; attempt++ {
		timeout := policy.Timeout(size)
		scanCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			scanCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		last = s.Scan(scanCtx, path, size)
		if cancel != nil {
			cancel()
		}

		if last.Verdict != Timeout {
			return last
		}

		if attempt < attempts-1 {
			logger.Warning("scanner %s timed out on %s (attempt %d/%d), retrying", s.Name(), path, attempt+1, attempts)
			if policy.RetryWait > 0 {
				select {
				case <-ctx.Done():
					return last
				case <-time.After(policy.RetryWait):
				}
			}
		}
	}

	logger.Error("scanner %s exhausted retries on %s: treating as Timeout", s.Name(), path)
	return last
}
