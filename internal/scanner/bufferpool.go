// Package scanner runs external malware scanners against quarantined
// files and normalizes their heterogeneous outputs into a common
// Verdict.
package scanner

import (
	"sync"
)

// sizedBufferPool recycles byte buffers of one fixed size, implementing
// the standard sync.Pool allocation-smoothing pattern: most quarantine
// copies reuse an already-allocated buffer instead of paying for a
// fresh make([]byte, n) on every file.
type sizedBufferPool struct {
	pool    sync.Pool
	size    int
	gets    int64
	puts    int64
	news    int64
	statsmu sync.Mutex
}

// newSizedBufferPool creates a pool of byte buffers with the specified size.
func newSizedBufferPool(bufferSize int) *sizedBufferPool {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024 // 64KB default
	}

	bp := &sizedBufferPool{
		size: bufferSize,
	}

	bp.pool = sync.Pool{
		New: func() interface{} {
			bp.statsmu.Lock()
			bp.news++
			bp.statsmu.Unlock()
			return make([]byte, bufferSize)
		},
	}

	return bp
}

// get retrieves a buffer from the pool.
func (bp *sizedBufferPool) get() []byte {
	bp.statsmu.Lock()
	bp.gets++
	bp.statsmu.Unlock()

	buf := bp.pool.Get().([]byte)
	return buf[:bp.size]
}

// put returns a buffer to the pool. Buffers of the wrong capacity are
// discarded rather than stored, since reusing them would hand back the
// wrong size on a later get.
func (bp *sizedBufferPool) put(buf []byte) {
	if cap(buf) == bp.size {
		bp.statsmu.Lock()
		bp.puts++
		bp.statsmu.Unlock()
		bp.pool.Put(buf[:bp.size]) //nolint:staticcheck // intentional reuse
	}
}

// stats returns pool statistics.
func (bp *sizedBufferPool) stats() (gets, puts, news int64) {
	bp.statsmu.Lock()
	defer bp.statsmu.Unlock()
	return bp.gets, bp.puts, bp.news
}

// CopyBufferPool supplies reusable buffers for the disposition handler's
// copy and hash passes, tiered by file size. Shuttle moves whole files
// end to end rather than scanning small WordPress page fragments, so
// its tiers are sized for batch file transfer instead: most office
// documents, images, and small archives land in the medium tier, and
// only genuinely large transfers pay for the large tier's buffer.
type CopyBufferPool struct {
	small  *sizedBufferPool // up to 64KB: config files, small records
	medium *sizedBufferPool // up to 8MB: documents, images, small archives
	large  *sizedBufferPool // over 8MB: bulk exports, media, disk images
}

const (
	smallTierMax  = 64 * 1024
	mediumTierMax = 8 * 1024 * 1024
)

// NewCopyBufferPool creates the three-tier pool used by disposition's
// copy and hash passes.
func NewCopyBufferPool() *CopyBufferPool {
	return &CopyBufferPool{
		small:  newSizedBufferPool(smallTierMax),
		medium: newSizedBufferPool(mediumTierMax),
		large:  newSizedBufferPool(4 * 1024 * 1024),
	}
}

// GetForSize returns a buffer sized for a file of the given length.
func (cp *CopyBufferPool) GetForSize(size int64) []byte {
	switch {
	case size <= smallTierMax:
		return cp.small.get()
	case size <= mediumTierMax:
		return cp.medium.get()
	default:
		return cp.large.get()
	}
}

// Put returns a buffer to the pool matching its exact capacity.
// Buffers of other sizes are discarded.
func (cp *CopyBufferPool) Put(buf []byte) {
	switch cap(buf) {
	case smallTierMax:
		cp.small.put(buf)
	case mediumTierMax:
		cp.medium.put(buf)
	case 4 * 1024 * 1024:
		cp.large.put(buf)
	}
}

// PutForSize returns a buffer to the tier its capacity falls under.
// Large-tier buffers are 4MB, below mediumTierMax, so that capacity is
// matched first.
func (cp *CopyBufferPool) PutForSize(buf []byte) {
	c := cap(buf)
	switch {
	case c == 4*1024*1024:
		cp.large.put(buf)
	case c <= smallTierMax:
		cp.small.put(buf)
	case c <= mediumTierMax:
		cp.medium.put(buf)
	default:
		cp.large.put(buf)
	}
}

// TotalHitRate reports the combined buffer reuse rate across all three
// tiers, surfaced in the run summary as a copy-efficiency indicator.
func (cp *CopyBufferPool) TotalHitRate() float64 {
	sg, _, sn := cp.small.stats()
	mg, _, mn := cp.medium.stats()
	lg, _, ln := cp.large.stats()

	totalGets := sg + mg + lg
	totalNews := sn + mn + ln

	if totalGets == 0 {
		return 0
	}

	reused := totalGets - totalNews
	if reused < 0 {
		reused = 0
	}
	return float64(reused) / float64(totalGets)
}
