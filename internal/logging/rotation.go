package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for size-based log rotation.
type RotationConfig struct {
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	// 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep. 0 keeps none.
	MaxBackups int
}

// DefaultRotationConfig returns sensible defaults for unattended runs.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter writes to a file and rotates it when it exceeds the
// configured size. Safe for concurrent use.
type RotatingWriter struct {
	mu sync.Mutex

	filePath   string
	maxSizeB   int64
	maxBackups int

	file        *os.File
	currentSize int64
	closed      bool
}

// NewRotatingWriter creates a RotatingWriter for filePath.
func NewRotatingWriter(filePath string, config RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		filePath:   filePath,
		maxSizeB:   int64(config.MaxSizeMB) * 1024 * 1024,
		maxBackups: config.MaxBackups,
	}
	if err := rw.openFile(); err != nil {
		return nil, err
	}
	return rw, nil
}

// openFile opens the log file and records its size. Caller holds the mutex.
func (rw *RotatingWriter) openFile() error {
	if err := os.MkdirAll(filepath.Dir(rw.filePath), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = file
	rw.currentSize = info.Size()
	return nil
}

// Write implements io.Writer, rotating first if the write would exceed the
// size limit.
func (rw *RotatingWriter) Write(p []byte) (n int, err error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.closed {
		return 0, fmt.Errorf("log file is closed")
	}
	if rw.maxSizeB > 0 && rw.currentSize+int64(len(p)) > rw.maxSizeB {
		if err := rw.rotate(); err != nil {
			// Keep writing rather than dropping log data; tell the
			// operator rotation is failing.
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}
	// A failed rotation leaves the file closed; reopen it so the write
	// still lands somewhere instead of failing silently forever.
	if rw.file == nil {
		if err := rw.openFile(); err != nil {
			return 0, err
		}
	}
	n, err = rw.file.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// rotate shifts backups up by one index and reopens a fresh file.
// Caller holds the mutex.
func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	rw.file = nil

	if rw.maxBackups > 0 {
		// shepherd.log.N is the oldest; drop it, shift the rest.
		oldest := fmt.Sprintf("%s.%d", rw.filePath, rw.maxBackups)
		_ = os.Remove(oldest)
		for i := rw.maxBackups - 1; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", rw.filePath, i)
			to := fmt.Sprintf("%s.%d", rw.filePath, i+1)
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, to)
			}
		}
		if err := os.Rename(rw.filePath, rw.filePath+".1"); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rename log file: %w", err)
		}
	} else {
		if err := os.Remove(rw.filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove log file: %w", err)
		}
	}
	return rw.openFile()
}

// Close closes the underlying file. Further writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.closed = true
	if rw.file == nil {
		return nil
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
