// Package persistence implements durable disk I/O: content snapshots,
// atomic writes, divergence detection, and the revision sidecar file.
// Atomic writes are built on github.com/natefinch/atomic for the rename
// step, wrapped with metadata preservation, a best-effort fsync of the
// parent directory, and temp-file cleanup on failure.
package persistence

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/jidohq/sessiond/internal/errs"
)

// DiskSnapshot captures on-disk identity at a point in time.
type DiskSnapshot struct {
	Path         string
	Mtime        time.Time
	Size         int64
	SHA256       string
	CapturedAtMs int64
}

// Snapshot stats and hashes path. A missing file is reported as a
// not_found error (callers that treat ENOENT specially, e.g. divergence
// detection, check for that explicitly rather than calling Snapshot).
func Snapshot(path string) (*DiskSnapshot, *errs.Error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "no such file", err)
		}
		return nil, errs.Wrap(errs.FilesystemError, "failed to stat file", err)
	}

	hash, herr := hashFile(path)
	if herr != nil {
		return nil, herr
	}

	return &DiskSnapshot{
		Path:         path,
		Mtime:        info.ModTime(),
		Size:         info.Size(),
		SHA256:       hash,
		CapturedAtMs: time.Now().UnixMilli(),
	}, nil
}

func hashFile(path string) (string, *errs.Error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.FilesystemError, "failed to open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.FilesystemError, "failed to read file for hashing", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
