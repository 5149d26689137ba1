package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DefaultMaxBytes is the log size that triggers a rotation.
	DefaultMaxBytes int64 = 1 << 20

	// sizeCheckInterval is how many writes happen between size checks.
	sizeCheckInterval = 100
)

// RotatingFile is an append-only log file that is moved aside to
// <name>.old<ext> once it grows past maxBytes. Write never fails: logging
// must not take the tracker down with it.
type RotatingFile struct {
	path     string
	maxBytes int64

	mu     sync.Mutex
	f      *os.File
	writes int
}

// NewRotatingFile creates a rotating sink. The file is opened lazily.
func NewRotatingFile(path string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &RotatingFile{path: path, maxBytes: maxBytes}
}

// BackupPath returns where the previous log is kept after rotation.
func (r *RotatingFile) BackupPath() string {
	ext := filepath.Ext(r.path)
	return strings.TrimSuffix(r.path, ext) + ".old" + ext
}

// Write implements io.Writer.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writes%sizeCheckInterval == 0 {
		r.rotateIfNeeded()
	}
	r.writes++

	if r.f == nil {
		if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
			return len(p), nil
		}
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return len(p), nil
		}
		r.f = f
	}
	r.f.Write(p)
	return len(p), nil
}

func (r *RotatingFile) rotateIfNeeded() {
	info, err := os.Stat(r.path)
	if err != nil || info.Size() <= r.maxBytes {
		return
	}
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	backup := r.BackupPath()
	os.Remove(backup)
	os.Rename(r.path, backup)
}

// Close closes the underlying file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
