package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	natomic "github.com/natefinch/atomic"

	"github.com/jidohq/sessiond/internal/errs"
)

// AtomicWriteOptions governs WriteFile.
type AtomicWriteOptions struct {
	PreserveMetadata bool
}

var uniqueCounter atomic.Uint64

func nextUnique() string {
	return fmt.Sprintf("%d.%d", time.Now().UnixNano(), uniqueCounter.Add(1))
}

// WriteFile implements the seven-step atomic write protocol: ensure parent
// dir, capture existing mode for preservation, write+fsync a temp file,
// best-effort chmod, rename over the target via natefinch/atomic,
// best-effort fsync of the parent directory, and return a fresh snapshot. Any failure after temp creation deletes the temp file.
func WriteFile(path string, data []byte, opts AtomicWriteOptions) (*DiskSnapshot, *errs.Error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.FilesystemError, "failed to ensure parent directory", err).WithDetails(map[string]any{"stage": "mkdir"})
	}

	var existingMode os.FileMode = 0o644
	var haveExisting bool
	if info, err := os.Stat(path); err == nil {
		existingMode = info.Mode()
		haveExisting = true
	}

	tmpPath := fmt.Sprintf("%s.tmp.%s", path, nextUnique())
	if err := writeTempFile(tmpPath, data, existingMode); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if opts.PreserveMetadata && haveExisting {
		_ = os.Chmod(tmpPath, existingMode) // best-effort; uid/gid preservation is platform-specific
	}

	if err := natomic.ReplaceFile(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, errs.Wrap(errs.FilesystemError, "failed to rename temp file into place", err).WithDetails(map[string]any{"stage": "rename"})
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync() // best-effort; some platforms cannot fsync a directory
		d.Close()
	}

	return Snapshot(path)
}

func writeTempFile(tmpPath string, data []byte, mode os.FileMode) *errs.Error {
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_EXCL, mode)
	if err != nil {
		return errs.Wrap(errs.FilesystemError, "failed to create temp file", err).WithDetails(map[string]any{"stage": "create_temp"})
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return errs.Wrap(errs.FilesystemError, "failed to write temp file", err).WithDetails(map[string]any{"stage": "write_temp"})
	}
	if err := f.Sync(); err != nil {
		return errs.Wrap(errs.FilesystemError, "failed to fsync temp file", err).WithDetails(map[string]any{"stage": "fsync_temp"})
	}
	return nil
}
