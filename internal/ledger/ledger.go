// Package ledger records which scanner versions have passed the
// defender-test compatibility suite. The transfer pipeline only reads
// the ledger; only the defender-test tool writes to it.
package ledger

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/natefinch/atomic"
)

// schemaVersion guards against silently misreading an incompatible
// on-disk format.
const schemaVersion = 1

// TestResult is the outcome of a defender-test run against one scanner
// version.
type TestResult string

// Possible test results.
const (
	Pass TestResult = "pass"
	Fail TestResult = "fail"
)

// Entry is one tested scanner version.
type Entry struct {
	Version     string     `yaml:"version"`
	TestTime    time.Time  `yaml:"test_time"`
	TestResult  TestResult `yaml:"test_result"`
	TestDetails string     `yaml:"test_details,omitempty"`
}

type document struct {
	SchemaVersion int     `yaml:"schema_version"`
	Entries       []Entry `yaml:"entries"`
}

// Ledger is the read-mostly interface the pipeline's preflight check
// consults: has this scanner version passed the compatibility suite?
type Ledger interface {
	HasPassed(version string) bool
	Entries() []Entry
}

// Reader is a read-only Ledger loaded once at preflight.
type Reader struct {
	entries []Entry
}

// Load reads a ledger file. A missing file yields an empty ledger
// (nothing has passed yet), matching the fail-closed default for the
// version-check preflight gate.
func Load(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Reader{}, nil
		}
		return nil, fmt.Errorf("read ledger file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ledger file %s: %w", path, err)
	}
	if doc.SchemaVersion != 0 && doc.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("ledger file %s has unsupported schema_version %d (expected %d)", path, doc.SchemaVersion, schemaVersion)
	}

	return &Reader{entries: doc.Entries}, nil
}

// HasPassed implements Ledger: true iff the most recent entry for
// version recorded a pass.
func (r *Reader) HasPassed(version string) bool {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Version == version {
			return r.entries[i].TestResult == Pass
		}
	}
	return false
}

// Entries implements Ledger.
func (r *Reader) Entries() []Entry {
	return r.entries
}

// Recorder is the read-write ledger variant used only by the
// defender-test tool to append new test results.
type Recorder struct {
	path    string
	entries []Entry
}

// LoadRecorder opens path for read-write access. A missing file yields
// an empty ledger; the file is written on the first Record.
func LoadRecorder(path string) (*Recorder, error) {
	reader, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{path: path, entries: reader.entries}, nil
}

// Record appends a new test result for version and persists the ledger
// crash-safely (temp write, fsync, rename).
func (r *Recorder) Record(version string, result TestResult, details string, now time.Time) error {
	r.entries = append(r.entries, Entry{
		Version:     version,
		TestTime:    now,
		TestResult:  result,
		TestDetails: details,
	})

	doc := document{SchemaVersion: schemaVersion, Entries: r.entries}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal ledger document: %w", err)
	}

	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write ledger file %s: %w", r.path, err)
	}
	return nil
}

// Entries implements Ledger.
func (r *Recorder) Entries() []Entry {
	return r.entries
}

// HasPassed implements Ledger.
func (r *Recorder) HasPassed(version string) bool {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Version == version {
			return r.entries[i].TestResult == Pass
		}
	}
	return false
}
