package scanner

import (
	"context"
	"testing"
)

func TestParseClamAVOutput(t *testing.T) {
	cases := []struct {
		name   string
		output string
		want   Verdict
	}{
		{"clean summary", "----------- SCAN SUMMARY -----------\nInfected files: 0\n", Clean},
		{"infected summary", "----------- SCAN SUMMARY -----------\nInfected files: 1\n", Suspect},
		{"path missing", "ERROR: Can't access file path does not exist\n", NotFound},
		{"unrecognized output", "garbage\n", ScanFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseClamAVOutput(tc.output, nil, nil)
			if got.Verdict != tc.want {
				t.Errorf("parseClamAVOutput(%q) = %s, want %s", tc.output, got.Verdict, tc.want)
			}
		})
	}
}

func TestParseClamAVOutputTimeout(t *testing.T) {
	got := parseClamAVOutput("", nil, context.DeadlineExceeded)
	if got.Verdict != Timeout {
		t.Errorf("expected Timeout verdict, got %s", got.Verdict)
	}
}

func TestClamAVScannerName(t *testing.T) {
	c := ClamAVScanner{}
	if c.Name() != "clamav" {
		t.Errorf("expected name 'clamav', got %s", c.Name())
	}
}
