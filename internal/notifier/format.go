package notifier

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
)

// FormatHuman writes a colorized human-readable rendering of the
// summary, grouping throttle rejections and listing top failures, the
// same shape the teacher uses for its vulnerability-scan report.
func FormatHuman(w io.Writer, s Summary) error {
	bold := color.New(color.Bold)
	red := color.New(color.FgRed, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintf(w, "=== shuttle run summary ===\n")
	_, _ = fmt.Fprintf(w, "started:  %s\n", s.RunStart.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "finished: %s (%s)\n", s.RunEnd.Format("2006-01-02 15:04:05"), s.Duration())
	_, _ = fmt.Fprintf(w, "exit reason: %s\n\n", s.ExitReason)

	_, _ = fmt.Fprintf(w, "attempted: %d\n", s.FilesAttempted)
	_, _ = green.Fprintf(w, "delivered: %d (%d bytes)\n", s.FilesDelivered, s.BytesMoved)
	if s.FilesSuspect > 0 {
		_, _ = yellow.Fprintf(w, "suspect:   %d\n", s.FilesSuspect)
	}
	if s.FilesFailed > 0 {
		_, _ = red.Fprintf(w, "failed:    %d\n", s.FilesFailed)
	}

	if len(s.ThrottleRejections) > 0 {
		_, _ = fmt.Fprintln(w, "\nthrottle rejections:")
		for _, reason := range sortedKeys(s.ThrottleRejections) {
			_, _ = fmt.Fprintf(w, "  %-20s %d\n", reason, s.ThrottleRejections[reason])
		}
	}

	if len(s.ScannerVersions) > 0 {
		_, _ = fmt.Fprintln(w, "\nscanner versions:")
		for _, name := range sortedKeysString(s.ScannerVersions) {
			_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, s.ScannerVersions[name])
		}
	}

	if len(s.TopFailures) > 0 {
		_, _ = bold.Fprintln(w, "\ntop failures:")
		for _, f := range s.TopFailures {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Reason)
		}
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

// FormatJSON writes the summary as indented JSON.
func FormatJSON(w io.Writer, s Summary) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}
	return nil
}

// FormatFailuresCSV writes the top-failures list as CSV, for pipeline
// integration with spreadsheet-based review workflows.
func FormatFailuresCSV(w io.Writer, s Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "reason"}); err != nil {
		return fmt.Errorf("csv write error: %w", err)
	}
	for _, f := range s.TopFailures {
		if err := cw.Write([]string{f.Path, f.Reason}); err != nil {
			return fmt.Errorf("csv write error: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csv writer error: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysString(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
