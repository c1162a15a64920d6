package fleet

import "sync/atomic"

const (
	MinSpeed = -100
	MaxSpeed = 100
)

// ClampSpeed bounds v to the motor speed range
func ClampSpeed(v int) int8 {
	return int8(max(MinSpeed, min(MaxSpeed, v)))
}

// SpeedTable holds the target speed of every channel. Each channel is an
// independent atomic cell so readers on the per-tick path never wait on a
// writer of another channel.
type SpeedTable struct {
	cells []atomic.Int32
}

// NewSpeedTable creates a table with all channels stopped
func NewSpeedTable(channels int) *SpeedTable {
	return &SpeedTable{cells: make([]atomic.Int32, channels)}
}

// Len returns the number of channels
func (t *SpeedTable) Len() int {
	return len(t.cells)
}

// Set stores a clamped speed. It reports false for an out-of-range channel.
func (t *SpeedTable) Set(channel, speed int) bool {
	if channel < 0 || channel >= len(t.cells) {
		return false
	}
	t.cells[channel].Store(int32(ClampSpeed(speed)))
	return true
}

// Get returns the channel's speed, 0 for an out-of-range channel
func (t *SpeedTable) Get(channel int) int8 {
	if channel < 0 || channel >= len(t.cells) {
		return 0
	}
	return int8(t.cells[channel].Load())
}

// Update applies fn to the channel's current speed atomically and returns
// the old and new values. Concurrent writers of the same channel retry, so
// no update is lost.
func (t *SpeedTable) Update(channel int, fn func(int8) int8) (old, updated int8, ok bool) {
	if channel < 0 || channel >= len(t.cells) {
		return 0, 0, false
	}
	cell := &t.cells[channel]
	for {
		cur := cell.Load()
		next := int32(ClampSpeed(int(fn(int8(cur)))))
		if cell.CompareAndSwap(cur, next) {
			return int8(cur), int8(next), true
		}
	}
}

// Snapshot copies every channel's speed
func (t *SpeedTable) Snapshot() []int8 {
	out := make([]int8, len(t.cells))
	for i := range t.cells {
		out[i] = int8(t.cells[i].Load())
	}
	return out
}
