package scanner

import (
	"path/filepath"
	"regexp"
	"strings"
)

// FilterCondition represents a condition in a file filter.
type FilterCondition struct {
	Test  func(path string) bool
	Allow bool
}

// FileFilter decides whether a candidate path is eligible for
// enumeration at all, ahead of the gate's stability/safety checks and
// the throttle controller's admission decision. An operator uses it to
// keep the pipeline from ever quarantining file types it has no
// business touching (temp files, database dumps left in the source
// tree, and so on).
type FileFilter struct {
	conditions []*FilterCondition
}

// NewFileFilter creates an empty FileFilter. An empty filter admits
// nothing: callers build it up with Allow/Deny, or go through
// NewFilterFromConfig for the admit-everything-unless-excluded default.
func NewFileFilter() *FileFilter {
	return &FileFilter{
		conditions: make([]*FilterCondition, 0),
	}
}

// AddCondition adds a filter condition.
func (f *FileFilter) AddCondition(cond *FilterCondition) {
	f.conditions = append(f.conditions, cond)
}

// Add adds a condition with the given test and allow flag.
func (f *FileFilter) Add(test func(path string) bool, allow bool) {
	f.AddCondition(&FilterCondition{
		Test:  test,
		Allow: allow,
	})
}

// Allow adds an allow condition.
func (f *FileFilter) Allow(test func(path string) bool) {
	f.Add(test, true)
}

// Deny adds a deny condition.
func (f *FileFilter) Deny(test func(path string) bool) {
	f.Add(test, false)
}

// Filter returns true if path should be admitted (not filtered out).
func (f *FileFilter) Filter(path string) bool {
	allowed := false

	for _, cond := range f.conditions {
		if cond.Allow && allowed {
			continue // only a single allow condition needs to match
		}

		matched := cond.Test(path)
		if matched {
			if cond.Allow {
				allowed = true
			} else {
				return false // any disallowed condition takes precedence
			}
		}
	}

	return allowed
}

// FilterAny always returns true.
func FilterAny(path string) bool {
	return true
}

// FilterFilename creates a filter that matches a specific filename.
func FilterFilename(filename string) func(string) bool {
	return func(path string) bool {
		return filepath.Base(path) == filename
	}
}

// FilterPattern creates a filter from a regex pattern.
func FilterPattern(pattern string) (func(string) bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(path string) bool {
		return re.MatchString(path)
	}, nil
}

// FilterExtension creates a filter for a specific file extension.
func FilterExtension(ext string) func(string) bool {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ext = strings.ToLower(ext)
	return func(path string) bool {
		return strings.ToLower(filepath.Ext(path)) == ext
	}
}

// FilterExtensions creates a filter for multiple file extensions.
func FilterExtensions(exts ...string) func(string) bool {
	extMap := make(map[string]bool)
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extMap[strings.ToLower(ext)] = true
	}
	return func(path string) bool {
		return extMap[strings.ToLower(filepath.Ext(path))]
	}
}

// AllFilesFilter creates a filter that admits every path.
func AllFilesFilter() *FileFilter {
	f := NewFileFilter()
	f.Allow(FilterAny)
	return f
}

// FilterConfig describes operator-supplied include/exclude rules for
// source enumeration.
type FilterConfig struct {
	IncludeFiles    []string // specific filenames to include
	IncludePatterns []string // regex patterns to include
	ExcludeFiles    []string // specific filenames to exclude
	ExcludePatterns []string // regex patterns to exclude
	IncludeAll      bool     // include everything not explicitly excluded
}

// NewFilterFromConfig builds a FileFilter from cfg. With no include
// rules configured (the common case), every path is admitted unless an
// exclude rule matches; IncludeFiles/IncludePatterns narrow that down
// to an explicit allowlist when set.
func NewFilterFromConfig(cfg *FilterConfig) (*FileFilter, error) {
	f := NewFileFilter()

	if cfg.IncludeAll || (len(cfg.IncludeFiles) == 0 && len(cfg.IncludePatterns) == 0) {
		f.Allow(FilterAny)
	} else {
		for _, filename := range cfg.IncludeFiles {
			f.Allow(FilterFilename(filename))
		}
		for _, pattern := range cfg.IncludePatterns {
			fn, err := FilterPattern(pattern)
			if err != nil {
				return nil, err
			}
			f.Allow(fn)
		}
	}

	for _, filename := range cfg.ExcludeFiles {
		f.Deny(FilterFilename(filename))
	}
	for _, pattern := range cfg.ExcludePatterns {
		fn, err := FilterPattern(pattern)
		if err != nil {
			return nil, err
		}
		f.Deny(fn)
	}

	return f, nil
}
