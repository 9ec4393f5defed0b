package scanner

import (
	"context"
	"os"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// Normalizer runs every enabled scanner against a quarantined file and
// combines their results into a single verdict, applying the
// defender-handles-suspect-files special case.
type Normalizer struct {
	Scanners []Scanner
	Policy   TimeoutPolicy
	Logger   *logging.Logger

	// DefenderHandlesSuspect indicates the platform scanner is
	// configured to quarantine suspect files itself; a post-scan
	// existence check distinguishes "already handled" from a normal
	// suspect finding.
	DefenderHandlesSuspect bool
}

// Outcome is the result of normalizing one file's scan across all
// enabled scanners.
type Outcome struct {
	Verdict         Verdict
	Results         []Result
	DefenderHandled bool
}

// Scan runs every configured scanner against path (a size-byte file)
// and returns the combined outcome.
func (n *Normalizer) Scan(ctx context.Context, path string, size int64) Outcome {
	logger := n.Logger
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}

	results := make([]Result, 0, len(n.Scanners))
	for _, s := range n.Scanners {
		res := RunWithRetry(ctx, s, path, size, n.Policy, logger)
		logger.Debug("scanner %s verdict for %s: %s", s.Name(), path, res.Verdict)
		results = append(results, res)
	}

	verdict := Combine(results)

	outcome := Outcome{Verdict: verdict, Results: results}

	if verdict == Suspect && n.DefenderHandlesSuspect {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			outcome.DefenderHandled = true
			logger.Info("quarantined file %s no longer exists after scan: defender handled it directly", path)
		}
	}

	return outcome
}
