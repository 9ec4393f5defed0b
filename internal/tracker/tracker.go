// Package tracker implements the Daily Processing Tracker: a durable,
// append-mostly record of every file's progress for the current local
// day, surviving process restarts and crashes.
package tracker

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/natefinch/atomic"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// schemaVersion is bumped whenever the on-disk record format changes in
// a way that is not backward compatible. Unknown versions are rejected
// loudly rather than guessed at.
const schemaVersion = 1

// Outcome is the terminal state of a file record.
type Outcome string

// Terminal outcomes a record may resolve to from Pending.
const (
	Pending   Outcome = "pending"
	Completed Outcome = "completed"
	Failed    Outcome = "failed"
	Suspect   Outcome = "suspect"
)

// Record is one file's progress through the pipeline for the day.
type Record struct {
	ID        string    `yaml:"id"`
	Path      string    `yaml:"path"`
	Size      int64     `yaml:"size"`
	Outcome   Outcome   `yaml:"outcome"`
	Details   string    `yaml:"details,omitempty"`
	BeginTime time.Time `yaml:"begin_time"`
	EndTime   time.Time `yaml:"end_time,omitempty"`
}

// Totals is a consistent snapshot of per-day counts and byte totals by
// outcome bucket.
type Totals struct {
	PendingFiles   int64
	PendingBytes   int64
	CompletedFiles int64
	CompletedBytes int64
	FailedFiles    int64
	FailedBytes    int64
	SuspectFiles   int64
	SuspectBytes   int64
}

// document is the on-disk shape persisted as YAML.
type document struct {
	SchemaVersion int      `yaml:"schema_version"`
	Date          string   `yaml:"date"` // YYYY-MM-DD, local
	Records       []Record `yaml:"records"`
}

// Tracker is the daily processing tracker. A single mutex serializes
// all mutations and persistence; it is the only place pending counts
// live, per the spec's ownership rule.
type Tracker struct {
	mu sync.Mutex

	dir    string
	date   string
	path   string
	logger *logging.Logger

	records map[string]*Record
	nextID  int64
}

// Load opens today's tracker file in dir; a missing file yields an empty
// tracker whose file is written on the first persist. now determines
// the local date used for the file name and rollover comparisons.
func Load(dir string, now time.Time, logger *logging.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	t := &Tracker{
		dir:     dir,
		date:    dateString(now),
		records: make(map[string]*Record),
		logger:  logger,
	}
	t.path = t.filePath(t.date)

	if err := t.loadFile(t.path); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) filePath(date string) string {
	return filepath.Join(t.dir, fmt.Sprintf("shuttle-tracker-%s.yaml", date))
}

// loadFile reads an existing tracker file if present, recomputing
// nextID from the highest existing record ID. A missing file is not an
// error: a fresh tracker starts empty.
func (t *Tracker) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read tracker file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse tracker file %s: %w", path, err)
	}
	if doc.SchemaVersion != 0 && doc.SchemaVersion != schemaVersion {
		return fmt.Errorf("tracker file %s has unsupported schema_version %d (expected %d)", path, doc.SchemaVersion, schemaVersion)
	}

	var maxID int64
	for i := range doc.Records {
		rec := doc.Records[i]
		t.records[rec.ID] = &doc.Records[i]
		var n int64
		if _, err := fmt.Sscanf(rec.ID, "%d", &n); err == nil && n > maxID {
			maxID = n
		}
	}
	t.nextID = maxID
	return nil
}

// Begin records a new pending entry and persists it. It returns the
// record's ID for use with Complete.
func (t *Tracker) Begin(path string, size int64) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := fmt.Sprintf("%d", t.nextID)
	t.records[id] = &Record{
		ID:        id,
		Path:      path,
		Size:      size,
		Outcome:   Pending,
		BeginTime: time.Now(),
	}

	if err := t.persistLocked(); err != nil {
		return "", fmt.Errorf("begin %s: %w", path, err)
	}
	return id, nil
}

// Complete moves a record from pending to a terminal outcome and
// persists. A persistence failure is returned to the caller (fatal per
// the spec), but the in-memory record is updated regardless so the
// run's best-effort accounting survives even if the disk write failed.
func (t *Tracker) Complete(id string, outcome Outcome, details string) error {
	if outcome == Pending {
		return fmt.Errorf("complete %s: outcome must be terminal, got %s", id, outcome)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("complete: unknown record id %s", id)
	}
	rec.Outcome = outcome
	rec.Details = details
	rec.EndTime = time.Now()

	if err := t.persistLocked(); err != nil {
		t.logger.Error("tracker persistence failed for record %s (%s): %v; recorded in memory only", id, rec.Path, err)
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

// Totals returns a consistent snapshot of the day's counts.
func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalsLocked()
}

func (t *Tracker) totalsLocked() Totals {
	var tot Totals
	for _, rec := range t.records {
		switch rec.Outcome {
		case Pending:
			tot.PendingFiles++
			tot.PendingBytes += rec.Size
		case Completed:
			tot.CompletedFiles++
			tot.CompletedBytes += rec.Size
		case Failed:
			tot.FailedFiles++
			tot.FailedBytes += rec.Size
		case Suspect:
			tot.SuspectFiles++
			tot.SuspectBytes += rec.Size
		}
	}
	return tot
}

// RolloverIfNewDay finalizes the current file under its date if now
// falls on a later local date, then starts a fresh file for the new
// date. Any records still Pending carry forward into the new file,
// since they represent real unfinished work, not the prior day's
// completed accounting.
func (t *Tracker) RolloverIfNewDay(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := dateString(now)
	if today == t.date {
		return nil
	}

	if err := t.persistLocked(); err != nil {
		return fmt.Errorf("rollover: finalize %s: %w", t.date, err)
	}

	carried := make(map[string]*Record)
	for id, rec := range t.records {
		if rec.Outcome == Pending {
			carried[id] = rec
		}
	}

	t.logger.Info("tracker rollover: %s -> %s, carrying forward %d pending record(s)", t.date, today, len(carried))

	t.date = today
	t.path = t.filePath(today)
	t.records = carried

	return t.persistLocked()
}

// persistLocked writes the current state to disk via a crash-safe
// temp-write-fsync-rename, matching the atomic write pattern the
// teacher's dependency set already carries (natefinch/atomic, present
// in the retrieval pack's kopia go.mod). Caller must hold t.mu.
func (t *Tracker) persistLocked() error {
	doc := document{
		SchemaVersion: schemaVersion,
		Date:          t.date,
	}
	for _, rec := range t.records {
		doc.Records = append(doc.Records, *rec)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal tracker document: %w", err)
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create tracker directory %s: %w", t.dir, err)
	}

	if err := atomic.WriteFile(t.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write tracker file %s: %w", t.path, err)
	}
	return nil
}

func dateString(now time.Time) string {
	return now.Local().Format("2006-01-02")
}
