package fleet

import (
	"sync"
	"time"
)

// ScanWindow is the extendable deadline until which idle sessions keep
// scanning. After it passes they fall back to slow polling until something
// reopens it.
type ScanWindow struct {
	mu         sync.RWMutex
	until      time.Time
	length     time.Duration
	persistent bool
	now        func() time.Time
}

// NewScanWindow opens a window of length starting now
func NewScanWindow(length time.Duration, persistent bool, now func() time.Time) *ScanWindow {
	if now == nil {
		now = time.Now
	}
	w := &ScanWindow{length: length, persistent: persistent, now: now}
	w.until = now().Add(length)
	return w
}

// Extend pushes the deadline to one window length from now. It never
// shortens a deadline that is already further out.
func (w *ScanWindow) Extend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if next := w.now().Add(w.length); next.After(w.until) {
		w.until = next
	}
}

// Open reports whether sessions should still be scanning
func (w *ScanWindow) Open() bool {
	if w.persistent {
		return true
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.now().Before(w.until)
}

// Until returns the current deadline
func (w *ScanWindow) Until() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.until
}
