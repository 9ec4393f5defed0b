package scanner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strconv"
)

// ClamAVScanner wraps the clamscan CLI. Unlike mdatp, clamscan's exit
// code is meaningful (0 = clean, 1 = infected, 2 = error), but the
// summary line is still parsed to get a reliable infected-file count
// rather than trusting the exit code alone.
type ClamAVScanner struct {
	// Command is the clamscan executable, normally just "clamscan".
	Command string
}

var clamInfectedFiles = regexp.MustCompile(`Infected files:\s*(\d+)`)

// Name implements Scanner.
func (c ClamAVScanner) Name() string { return "clamav" }

// Scan implements Scanner by running `clamscan --no-summary=false <file>` and parsing its
// "Infected files: N" summary line.
func (c ClamAVScanner) Scan(ctx context.Context, path string, _ int64) Result {
	cmd := exec.CommandContext(ctx, c.command(), "--no-summary=false", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return parseClamAVOutput(out.String(), err, ctx.Err())
}

// parseClamAVOutput applies clamscan's summary-line parsing independent
// of actually running the process, so the parsing logic is directly
// testable.
func parseClamAVOutput(output string, runErr, ctxErr error) Result {
	if ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return Result{Verdict: Timeout, Output: output, Err: ctxErr}
	}

	if pathDoesNotExist(output) {
		return Result{Verdict: NotFound, Output: output}
	}

	if m := clamInfectedFiles.FindStringSubmatch(output); m != nil {
		n, convErr := strconv.Atoi(m[1])
		if convErr == nil {
			if n > 0 {
				return Result{Verdict: Suspect, Output: output}
			}
			return Result{Verdict: Clean, Output: output}
		}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && exitErr.ExitCode() == 1 {
		// Exit 1 with no parseable summary still means "infected".
		return Result{Verdict: Suspect, Output: output}
	}

	return Result{Verdict: ScanFailed, Output: output, Err: runErr}
}

func (c ClamAVScanner) command() string {
	if c.Command == "" {
		return "clamscan"
	}
	return c.Command
}
