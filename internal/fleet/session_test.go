package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lego-hub-manager/internal/hub"
)

func TestOperatingRequestsTelemetryPeriodically(t *testing.T) {
	tr := newFakeTransport()
	tr.offer(hubCandidate(1))

	timing := fastTiming()
	timing.TelemetryInterval = 5 * time.Millisecond
	f := startFleet(t, tr, Options{Slots: 1, Channels: 3, Timing: timing})

	waitForState(t, f, addr(1), StateOperating)
	p := tr.peripheral(addr(1))
	initial := p.requestCount(hub.PropertyRSSI)

	require.Eventually(t, func() bool {
		return p.requestCount(hub.PropertyRSSI) >= initial+3
	}, 2*time.Second, time.Millisecond)

	snap := f.Sessions()[0].Snapshot()
	assert.Equal(t, StateOperating, snap.State)
	assert.Empty(t, p.speedLog(), "liveness requests must not drive the motor")
	assert.True(t, f.Registry().Bound(0))
}

func TestFailedMotorWritesAreRetried(t *testing.T) {
	tr := newFakeTransport()
	tr.offer(hubCandidate(1))
	f := startFleet(t, tr, Options{Slots: 1, Channels: 3})

	waitForState(t, f, addr(1), StateOperating)
	p := tr.peripheral(addr(1))
	p.failSpeeds(errors.New("write: not connected"))

	require.NoError(t, f.SetChannelSpeed(0, 50))
	s := f.Sessions()[0]
	require.Eventually(t, func() bool {
		return s.Snapshot().WriteFails >= 3
	}, 2*time.Second, time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, StateOperating, snap.State)
	assert.Equal(t, int8(0), snap.LocalSpeed)

	p.failSpeeds(nil)
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.LocalSpeed == 50 && snap.WriteFails == 0
	}, 2*time.Second, time.Millisecond)
}

func TestShutdownDisconnectsWhenStopFails(t *testing.T) {
	tr := newFakeTransport()
	tr.offer(hubCandidate(1))
	f, err := New(tr, Options{Slots: 1, Channels: 3, Timing: fastTiming(), ScanWindow: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitForState(t, f, addr(1), StateOperating)
	p := tr.peripheral(addr(1))
	p.failSpeeds(errors.New("write: broken pipe"))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fleet did not stop")
	}

	log := p.speedLog()
	require.NotEmpty(t, log)
	assert.Equal(t, int8(0), log[len(log)-1])
	assert.False(t, p.Connected())
	assert.False(t, f.Registry().Bound(0))
}
