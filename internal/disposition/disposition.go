// Package disposition applies a scan verdict to a quarantined file:
// delivering clean files to their destination, or archiving/deferring
// suspect ones.
package disposition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mathew-j-davis/shuttle/internal/logging"
	"github.com/mathew-j-davis/shuttle/internal/scanner"
)

// Outcome is the final disposition of a quarantined file.
type Outcome string

// Possible disposition outcomes.
const (
	DeliveredClean  Outcome = "delivered_clean"
	ArchivedSuspect Outcome = "archived_suspect"
	DefenderHandled Outcome = "defender_handled"
	Failed          Outcome = "failed"
)

// Handler applies disposition outcomes to quarantined files.
type Handler struct {
	Pool   *scanner.CopyBufferPool
	Logger *logging.Logger
	Clock  func() time.Time

	DeleteSourceAfterCopy bool
	HazardArchiveDir      string
	Encryptor             Encryptor
}

// New creates a disposition Handler; nil pool/logger/clock are filled
// with sane defaults.
func New(pool *scanner.CopyBufferPool, logger *logging.Logger, deleteSourceAfterCopy bool, hazardArchiveDir string, encryptor Encryptor) *Handler {
	if pool == nil {
		pool = scanner.NewCopyBufferPool()
	}
	if logger == nil {
		logger = logging.New(logging.LevelInfo)
	}
	return &Handler{
		Pool:                  pool,
		Logger:                logger,
		Clock:                 time.Now,
		DeleteSourceAfterCopy: deleteSourceAfterCopy,
		HazardArchiveDir:      hazardArchiveDir,
		Encryptor:             encryptor,
	}
}

// BufferReuseRate reports the fraction of copy/hash buffer requests
// this handler has served from its pool rather than a fresh
// allocation, for inclusion in the run summary.
func (h *Handler) BufferReuseRate() float64 {
	if h.Pool == nil {
		return 0
	}
	return h.Pool.TotalHitRate()
}

func (h *Handler) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// DisposeClean implements the clean-file path: atomic copy-then-rename
// from the quarantined copy to destination, followed by a source vs.
// destination hash verification before the source may be removed.
func (h *Handler) DisposeClean(sourcePath, quarantinePath, destPath string) (Outcome, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return Failed, fmt.Errorf("create destination directory: %w", err)
	}

	tempPath := destPath + ".copying"
	if err := h.copyFile(quarantinePath, tempPath); err != nil {
		_ = os.Remove(tempPath)
		return Failed, fmt.Errorf("copy %s to destination: %w", sourcePath, err)
	}

	srcInfo, statErr := os.Stat(sourcePath)
	if statErr != nil {
		_ = os.Remove(tempPath)
		return Failed, fmt.Errorf("stat source %s: %w", sourcePath, statErr)
	}

	srcHash, err := h.hashFile(sourcePath)
	if err != nil {
		_ = os.Remove(tempPath)
		return Failed, fmt.Errorf("hash source %s: %w", sourcePath, err)
	}
	destHash, err := h.hashFile(tempPath)
	if err != nil {
		_ = os.Remove(tempPath)
		return Failed, fmt.Errorf("hash destination temp file: %w", err)
	}

	destInfo, statErr := os.Stat(tempPath)
	if statErr != nil || srcInfo.Size() == 0 || destInfo.Size() == 0 || srcHash != destHash {
		_ = os.Remove(tempPath)
		h.Logger.Error("integrity verification failed for %s: source/destination hash mismatch or empty file", sourcePath)
		return Failed, fmt.Errorf("integrity verification failed for %s", sourcePath)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath)
		return Failed, fmt.Errorf("rename into place for %s: %w", sourcePath, err)
	}

	if h.DeleteSourceAfterCopy {
		if err := os.Remove(sourcePath); err != nil {
			h.Logger.Warning("delivered %s but failed to remove source: %v", destPath, err)
		}
	}

	return DeliveredClean, nil
}

// DisposeSuspect implements the suspect-file path. defenderHandled
// means a post-scan check already found the quarantined file gone, so
// neither archiving nor source deletion is this handler's job.
func (h *Handler) DisposeSuspect(sourcePath, quarantinePath string, defenderHandled bool) (Outcome, string, string, error) {
	if defenderHandled {
		return DefenderHandled, "", "", nil
	}

	if h.Encryptor == nil || h.HazardArchiveDir == "" {
		return Failed, "", "", fmt.Errorf("suspect file %s found but hazard archiving is not configured", sourcePath)
	}

	data, err := os.ReadFile(quarantinePath)
	if err != nil {
		return Failed, "", "", fmt.Errorf("read quarantined suspect file %s: %w", sourcePath, err)
	}

	sourceHashBytes := sha256.Sum256(data)
	sourceHash := hex.EncodeToString(sourceHashBytes[:])

	ciphertext, err := h.Encryptor.Encrypt(data)
	if err != nil {
		return Failed, "", "", fmt.Errorf("encrypt suspect file %s: %w", sourcePath, err)
	}

	if err := os.MkdirAll(h.HazardArchiveDir, 0o700); err != nil {
		return Failed, "", "", fmt.Errorf("create hazard archive directory: %w", err)
	}

	timestamp := h.now().Format("20060102150405")
	archiveName := fmt.Sprintf("%s_%s.gpg", timestamp, filepath.Base(sourcePath))
	archivePath := filepath.Join(h.HazardArchiveDir, archiveName)

	if err := os.WriteFile(archivePath, ciphertext, 0o600); err != nil {
		return Failed, "", "", fmt.Errorf("write hazard archive %s: %w", archivePath, err)
	}

	archiveHashBytes := sha256.Sum256(ciphertext)
	archiveHash := hex.EncodeToString(archiveHashBytes[:])

	if err := os.Remove(quarantinePath); err != nil {
		h.Logger.Warning("archived %s but failed to remove quarantined copy: %v", sourcePath, err)
	}
	if h.DeleteSourceAfterCopy {
		if err := os.Remove(sourcePath); err != nil {
			h.Logger.Warning("archived %s but failed to remove source: %v", sourcePath, err)
		}
	}

	h.Logger.Info("archived suspect file %s -> %s (content sha256=%s, archive sha256=%s)", sourcePath, archivePath, sourceHash, archiveHash)

	return ArchivedSuspect, archivePath, archiveHash, nil
}

func (h *Handler) copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() { _ = out.Close() }()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	buf := h.Pool.GetForSize(info.Size())
	defer h.Pool.PutForSize(buf)

	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return out.Sync()
}

func (h *Handler) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for hashing: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	buf := h.Pool.GetForSize(64 * 1024)
	defer h.Pool.PutForSize(buf)

	if _, err := io.CopyBuffer(hasher, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
