package fleet

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lego-hub-manager/internal/hub"
)

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in   int
		want int8
	}{
		{0, 0},
		{55, 55},
		{-55, -55},
		{100, 100},
		{101, 100},
		{1000, 100},
		{-100, -100},
		{-101, -100},
		{-1000, -100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampSpeed(tt.in), "ClampSpeed(%d)", tt.in)
	}
}

func TestApplyEdge(t *testing.T) {
	for cur := MinSpeed; cur <= MaxSpeed; cur++ {
		c := int8(cur)
		assert.Equal(t, ClampSpeed(cur+SpeedStep), ApplyEdge(c, hub.ButtonUp), "up from %d", cur)
		assert.Equal(t, ClampSpeed(cur-SpeedStep), ApplyEdge(c, hub.ButtonDown), "down from %d", cur)
		assert.Equal(t, int8(0), ApplyEdge(c, hub.ButtonStop), "stop from %d", cur)
		assert.Equal(t, c, ApplyEdge(c, hub.ButtonReleased), "release from %d", cur)
		assert.Equal(t, c, ApplyEdge(c, hub.ButtonPressed), "press from %d", cur)
	}
}

func TestApplyEdgeSaturates(t *testing.T) {
	speed := int8(0)
	for range 15 {
		speed = ApplyEdge(speed, hub.ButtonUp)
	}
	assert.Equal(t, int8(MaxSpeed), speed)

	speed = int8(95)
	assert.Equal(t, int8(100), ApplyEdge(speed, hub.ButtonUp))

	speed = 0
	for range 15 {
		speed = ApplyEdge(speed, hub.ButtonDown)
	}
	assert.Equal(t, int8(MinSpeed), speed)

	// Extreme inputs stay inside the legal range
	assert.Equal(t, int8(MaxSpeed), ApplyEdge(127, hub.ButtonUp))
	assert.Equal(t, int8(MinSpeed), ApplyEdge(-128, hub.ButtonDown))
}

func TestSpeedTableSetGet(t *testing.T) {
	table := NewSpeedTable(4)
	require.Equal(t, 4, table.Len())

	assert.True(t, table.Set(2, 55))
	assert.Equal(t, int8(55), table.Get(2))

	assert.True(t, table.Set(1, 250))
	assert.Equal(t, int8(100), table.Get(1))

	assert.True(t, table.Set(0, -250))
	assert.Equal(t, int8(-100), table.Get(0))

	assert.False(t, table.Set(4, 10))
	assert.False(t, table.Set(-1, 10))
	assert.Equal(t, int8(0), table.Get(4))
	assert.Equal(t, int8(0), table.Get(-1))

	assert.Equal(t, []int8{-100, 100, 55, 0}, table.Snapshot())
}

func TestSpeedTableUpdate(t *testing.T) {
	table := NewSpeedTable(2)

	old, updated, ok := table.Update(1, func(cur int8) int8 { return cur + 10 })
	require.True(t, ok)
	assert.Equal(t, int8(0), old)
	assert.Equal(t, int8(10), updated)

	_, _, ok = table.Update(5, func(cur int8) int8 { return cur })
	assert.False(t, ok)
}

func TestSpeedTableConcurrentUpdates(t *testing.T) {
	table := NewSpeedTable(1)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Update(0, func(cur int8) int8 { return ApplyEdge(cur, hub.ButtonUp) })
		}()
	}
	wg.Wait()

	// No lost updates, and saturation holds
	assert.Equal(t, int8(MaxSpeed), table.Get(0))

	table.Set(0, 0)
	for range 7 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table.Update(0, func(cur int8) int8 { return ApplyEdge(cur, hub.ButtonUp) })
		}()
	}
	wg.Wait()
	assert.Equal(t, int8(70), table.Get(0))
}
