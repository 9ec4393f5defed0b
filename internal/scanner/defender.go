package scanner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// DefenderScanner wraps the platform malware scanner (Microsoft
// Defender for Endpoint's mdatp CLI). The verdict is derived from the
// process's output text rather than its exit code, since mdatp often
// exits 0 even when a threat is found.
type DefenderScanner struct {
	// Command is the mdatp executable, normally just "mdatp".
	Command string
}

var defenderThreatsDetected = regexp.MustCompile(`(\d+)\s+threat\(s\)\s+detected\s*$`)

// Name implements Scanner.
func (d DefenderScanner) Name() string { return "defender" }

// Scan implements Scanner by running `mdatp scan custom --path <file>`
// and parsing its output per the ordered rules: a threat-found phrase
// wins first, then a trailing "N threat(s) detected" count, then a
// missing-path indication, with anything else treated as ScanFailed.
func (d DefenderScanner) Scan(ctx context.Context, path string, _ int64) Result {
	cmd := exec.CommandContext(ctx, d.command(), "scan", "custom", "--path", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return parseDefenderOutput(out.String(), err, ctx.Err())
}

// parseDefenderOutput applies the ordered matching rules to mdatp's
// output, independent of actually running the process, so the parsing
// logic is directly testable.
func parseDefenderOutput(output string, runErr, ctxErr error) Result {
	if ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return Result{Verdict: Timeout, Output: output, Err: ctxErr}
	}

	if strings.Contains(output, "Threat(s) found") || strings.Contains(output, "Threat found:") {
		return Result{Verdict: Suspect, Output: output}
	}

	if m := defenderThreatsDetected.FindStringSubmatch(strings.TrimRight(output, "\n")); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil && n == 0 {
			return Result{Verdict: Clean, Output: output}
		}
	}

	if pathDoesNotExist(output) {
		return Result{Verdict: NotFound, Output: output}
	}

	return Result{Verdict: ScanFailed, Output: output, Err: runErr}
}

// Version runs `mdatp version` and parses the "Product version: "
// line, for the defender-version ledger check at preflight.
func (d DefenderScanner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, d.command(), "version")
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", err
	}

	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "Product version: "); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "", errors.New("mdatp version: no 'Product version: ' line found in output")
}

func (d DefenderScanner) command() string {
	if d.Command == "" {
		return "mdatp"
	}
	return d.Command
}

func pathDoesNotExist(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such file") || strings.Contains(lower, "path does not exist") || strings.Contains(lower, "cannot find the path")
}
