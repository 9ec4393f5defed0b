package throttle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mathew-j-davis/shuttle/internal/logging"
)

// FreeSpaceReader answers how much free space (in megabytes) is available
// at path.
type FreeSpaceReader interface {
	FreeMB(path string) (int64, error)
}

// StatfsReader reads free space via the statfs(2) syscall.
//
// Grounded the same way the arvados keep_cache reference code in the
// retrieval pack checks free space: a direct unix.Statfs call rather than
// a third-party disk-usage library.
type StatfsReader struct{}

// FreeMB implements FreeSpaceReader.
func (StatfsReader) FreeMB(path string) (int64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize) //nolint:gosec // platform-sized fields
	return int64(freeBytes / bytesPerMB), nil
}

// Sampler periodically refreshes free-space readings for a fixed set of
// directories so each admission decision reads a recent cached value
// instead of issuing a syscall per candidate file.
//
// The ticker/atomic-snapshot/log-on-change shape is adapted from the
// teacher's resource monitor (internal/scanner/resource_monitor.go),
// repurposed here from CPU/memory pressure sampling to disk free-space
// sampling.
type Sampler struct {
	reader   FreeSpaceReader
	interval time.Duration
	logger   *logging.Logger

	dirs  map[Dir]string
	snaps sync.Map // Dir -> int64 (MB)

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSampler creates a Sampler watching the given directories.
func NewSampler(reader FreeSpaceReader, dirs map[Dir]string, interval time.Duration, logger *logging.Logger) *Sampler {
	if reader == nil {
		reader = StatfsReader{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Sampler{
		reader:   reader,
		interval: interval,
		logger:   logger,
		dirs:     dirs,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background sampling loop. It also performs one
// synchronous sample before returning so the first admission decision
// never reads a stale zero value.
func (s *Sampler) Start(ctx context.Context) {
	s.sampleOnce()

	if s.running.Swap(true) {
		return
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the sampling loop.
func (s *Sampler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sampler) sampleOnce() {
	for dir, path := range s.dirs {
		freeMB, err := s.reader.FreeMB(path)
		if err != nil {
			s.logger.Warning("free space probe failed for %s (%s): %v", dir, path, err)
			continue
		}
		prev, loaded := s.snaps.Load(dir)
		s.snaps.Store(dir, freeMB)
		if !loaded || prev.(int64) != freeMB {
			s.logger.Debug("free space for %s: %d MB", dir, freeMB)
		}
	}
}

// FreeMB returns the most recently sampled free-space value for dir, or
// false if no sample has been taken yet.
func (s *Sampler) FreeMB(dir Dir) (int64, bool) {
	v, ok := s.snaps.Load(dir)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}
