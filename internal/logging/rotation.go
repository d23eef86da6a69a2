package logging

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig sets the size-based rotation policy for a session's
// debug.log.
type RotationConfig struct {
	// MaxSizeMB is the file size, in megabytes, that triggers rotation.
	// 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep. 0 keeps none.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig matches the logging config file defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.Writer over a log file that renames the file to
// a numbered backup once it grows past the configured size. Safe for
// concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	path       string
	limit      int64 // rotation threshold in bytes, 0 means never
	maxBackups int
	compress   bool

	file *os.File
	size int64
}

// NewRotatingWriter opens (or creates) the log file at path. With a zero
// MaxSizeMB the writer appends forever like a plain file.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	w := &RotatingWriter{
		path:       path,
		limit:      int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
		compress:   config.Compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// open creates the parent directory if needed and opens the log file for
// appending. Caller holds the mutex.
func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when the write would push the file past
// the size limit. A failed rotation is reported on stderr and the write
// proceeds on the current file rather than dropping the entry.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if w.limit > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate closes the current file, shifts the backup chain, and reopens a
// fresh file at the original path. Caller holds the mutex.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	w.shiftBackups()

	backup := w.backupPath(1)
	if err := os.Rename(w.path, backup); err != nil {
		// Keep logging into the old file if the rename failed.
		if openErr := w.open(); openErr != nil {
			return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}
	if w.compress {
		go w.compressFile(backup)
	}
	return w.open()
}

// shiftBackups renumbers existing backups, .1 newest through .N oldest,
// dropping whatever falls off the end.
func (w *RotatingWriter) shiftBackups() {
	if w.maxBackups <= 0 {
		os.Remove(w.backupPath(1))
		os.Remove(w.backupPath(1) + ".gz")
		return
	}

	oldest := w.backupPath(w.maxBackups)
	os.Remove(oldest)
	os.Remove(oldest + ".gz")

	for i := w.maxBackups - 1; i >= 1; i-- {
		from := w.backupPath(i)
		to := w.backupPath(i + 1)
		// A backup exists either gzipped or plain, never both.
		if _, err := os.Stat(from + ".gz"); err == nil {
			os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}
}

func (w *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// compressFile gzips a rotated backup and removes the plain copy. Runs on
// its own goroutine, so failures go to stderr and leave the uncompressed
// backup in place.
func (w *RotatingWriter) compressFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read log file for compression %s: %v\n", path, err)
		return
	}

	gzPath := path + ".gz"
	out, err := os.Create(gzPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create compressed log file %s: %v\n", gzPath, err)
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := gz.Write(data); err != nil {
		os.Remove(gzPath)
		fmt.Fprintf(os.Stderr, "Warning: failed to write compressed log data to %s: %v\n", gzPath, err)
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(gzPath)
		fmt.Fprintf(os.Stderr, "Warning: failed to finalize compressed log file %s: %v\n", gzPath, err)
		return
	}

	os.Remove(path)
}

// Sync flushes buffered data to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close syncs and closes the underlying file. Further writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil
	return nil
}

// CurrentSize reports the size of the active log file in bytes.
func (w *RotatingWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// FilePath returns the path of the active log file.
func (w *RotatingWriter) FilePath() string {
	return w.path
}
