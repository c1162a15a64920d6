package logger

import (
	"fmt"
	"os"
	"sync"
)

// rotatingFile is a size-capped log file that shifts old contents into
// numbered backups (path.1 is the newest).
type rotatingFile struct {
	mu          sync.Mutex
	path        string
	maxSizeMB   int
	maxBackups  int
	file        *os.File
	currentSize int64
}

// openFile opens the log file for appending
func (f *rotatingFile) openFile() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	// Get current file size
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}

	f.file = file
	f.currentSize = info.Size()
	return nil
}

func (f *rotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, os.ErrClosed
	}

	n, err := f.file.Write(p)
	f.currentSize += int64(n)
	if err != nil {
		return n, err
	}
	if err := f.rotateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (f *rotatingFile) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.file.Sync()
}

func (f *rotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// rotateIfNeeded checks if rotation is needed and performs it
func (f *rotatingFile) rotateIfNeeded() error {
	if f.maxSizeMB <= 0 {
		return nil
	}

	maxBytes := int64(f.maxSizeMB) * 1024 * 1024
	if f.currentSize < maxBytes {
		return nil
	}

	f.file.Close()

	for i := f.maxBackups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", f.path, i), fmt.Sprintf("%s.%d", f.path, i+1))
	}

	if f.maxBackups > 0 {
		os.Rename(f.path, fmt.Sprintf("%s.1", f.path))
	} else {
		os.Remove(f.path)
	}

	return f.openFile()
}
