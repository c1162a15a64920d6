package stats

import (
	"slices"
	"sync"
	"time"
)

const (
	HistorySize     = 300 // 5 minutes at 1 second intervals
	HistoryInterval = time.Second
)

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Speeds    []int8    `json:"speeds"`
	Connected int       `json:"connected"`
}

// Collector keeps a ring of channel speed samples
type Collector struct {
	mu      sync.RWMutex
	history []DataPoint
	pos     int
	full    bool
	now     func() time.Time
}

func NewCollector() *Collector {
	return &Collector{
		history: make([]DataPoint, HistorySize),
		now:     time.Now,
	}
}

func (c *Collector) Record(speeds []int8, connected int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history[c.pos] = DataPoint{
		Timestamp: c.now(),
		Speeds:    slices.Clone(speeds),
		Connected: connected,
	}

	c.pos = (c.pos + 1) % HistorySize
	if c.pos == 0 {
		c.full = true
	}
}

// History returns the samples oldest first
func (c *Collector) History() []DataPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []DataPoint
	if c.full {
		result = make([]DataPoint, HistorySize)
		copy(result, c.history[c.pos:])
		copy(result[HistorySize-c.pos:], c.history[:c.pos])
	} else {
		result = make([]DataPoint, c.pos)
		copy(result, c.history[:c.pos])
	}
	return result
}

// Latest returns the newest sample
func (c *Collector) Latest() (DataPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.full && c.pos == 0 {
		return DataPoint{}, false
	}

	idx := c.pos - 1
	if idx < 0 {
		idx = HistorySize - 1
	}
	return c.history[idx], true
}

func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = make([]DataPoint, HistorySize)
	c.pos = 0
	c.full = false
}
