// Package fleet coordinates a pool of hub sessions that share one scan
// permit, one device registry and one channel speed table.
package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
)

// Timing holds the pacing of the session loop
type Timing struct {
	Tick              time.Duration // operating/scanning loop pause
	IdlePoll          time.Duration // pause while the scan window is closed
	ScanTimeout       time.Duration // one discovery attempt
	SettleDelay       time.Duration // gap between initialization commands
	TelemetryInterval time.Duration // liveness touch while operating
	ActivityPoll      time.Duration // transport busy probe interval
}

// DefaultTiming mirrors the pacing the hubs are known to tolerate
func DefaultTiming() Timing {
	return Timing{
		Tick:              50 * time.Millisecond,
		IdlePoll:          500 * time.Millisecond,
		ScanTimeout:       2 * time.Second,
		SettleDelay:       100 * time.Millisecond,
		TelemetryInterval: 20 * time.Second,
		ActivityPoll:      10 * time.Millisecond,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Tick <= 0 {
		t.Tick = d.Tick
	}
	if t.IdlePoll <= 0 {
		t.IdlePoll = d.IdlePoll
	}
	if t.ScanTimeout <= 0 {
		t.ScanTimeout = d.ScanTimeout
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = d.SettleDelay
	}
	if t.TelemetryInterval <= 0 {
		t.TelemetryInterval = d.TelemetryInterval
	}
	if t.ActivityPoll <= 0 {
		t.ActivityPoll = d.ActivityPoll
	}
	return t
}

// Options configures a Fleet
type Options struct {
	Slots          int
	Channels       int
	Seeds          []Seed
	Timing         Timing
	ScanWindow     time.Duration
	PersistentScan bool
	Now            func() time.Time
}

// Snapshot is a consistent-enough copy of the fleet for display and publishing
type Snapshot struct {
	Time       time.Time         `json:"time"`
	Slots      []SlotSnapshot    `json:"slots"`
	Speeds     []int8            `json:"speeds"`
	Sessions   []SessionSnapshot `json:"sessions"`
	Connected  int               `json:"connected"`
	Scanning   bool              `json:"scanning"`
	ScanUntil  time.Time         `json:"scan_until"`
	ScanHolder int               `json:"scan_holder"`
}

// Fleet owns the shared state and the session pool
type Fleet struct {
	transport hub.Transport
	registry  *Registry
	speeds    *SpeedTable
	arbiter   *ScanArbiter
	window    *ScanWindow
	timing    Timing
	now       func() time.Time
	sessions  []*Session

	listenersMu sync.RWMutex
	listeners   []func(channel int, speed int8)
}

// New builds a fleet with one session per registry slot
func New(transport hub.Transport, opts Options) (*Fleet, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if opts.Channels > len(hub.Palette) {
		return nil, fmt.Errorf("at most %d channels are supported, got %d", len(hub.Palette), opts.Channels)
	}
	registry, err := NewRegistry(opts.Slots, opts.Channels, opts.Seeds)
	if err != nil {
		return nil, err
	}

	timing := opts.Timing.withDefaults()
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	f := &Fleet{
		transport: transport,
		registry:  registry,
		speeds:    NewSpeedTable(opts.Channels),
		arbiter:   NewScanArbiter(transport, timing.ActivityPoll),
		window:    NewScanWindow(opts.ScanWindow, opts.PersistentScan, now),
		timing:    timing,
		now:       now,
	}
	f.sessions = make([]*Session, opts.Slots)
	for i := range f.sessions {
		f.sessions[i] = newSession(i, f)
	}
	return f, nil
}

// Run starts every session and blocks until ctx is cancelled
func (f *Fleet) Run(ctx context.Context) error {
	logger.Info("[FLEET] starting %d hub tasks on %d channels", len(f.sessions), f.speeds.Len())
	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range f.sessions {
		eg.Go(func() error {
			return s.Run(ctx)
		})
	}
	err := eg.Wait()
	logger.Info("[FLEET] all hub tasks stopped")
	return err
}

// SetChannelSpeed sets a channel's target speed from an external source
func (f *Fleet) SetChannelSpeed(channel, speed int) error {
	if !f.speeds.Set(channel, speed) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	f.speedChanged(channel, f.speeds.Get(channel))
	return nil
}

// ChannelSpeed returns a channel's target speed, 0 when out of range
func (f *Fleet) ChannelSpeed(channel int) int8 {
	return f.speeds.Get(channel)
}

// Channels returns the number of channels
func (f *Fleet) Channels() int {
	return f.speeds.Len()
}

// RequestScan reopens the scan window
func (f *Fleet) RequestScan() {
	f.window.Extend()
	logger.Info("[FLEET] scan requested until %s", f.window.Until().Format(time.TimeOnly))
}

// OnSpeedChange registers a listener for channel speed changes. Listeners run
// on the goroutine that made the change and must not block.
func (f *Fleet) OnSpeedChange(fn func(channel int, speed int8)) {
	f.listenersMu.Lock()
	defer f.listenersMu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *Fleet) speedChanged(channel int, speed int8) {
	f.listenersMu.RLock()
	defer f.listenersMu.RUnlock()
	for _, fn := range f.listeners {
		fn(channel, speed)
	}
}

// Registry exposes the device registry
func (f *Fleet) Registry() *Registry { return f.registry }

// Speeds exposes the channel speed table
func (f *Fleet) Speeds() *SpeedTable { return f.speeds }

// Arbiter exposes the scan arbiter
func (f *Fleet) Arbiter() *ScanArbiter { return f.arbiter }

// Sessions returns the session pool
func (f *Fleet) Sessions() []*Session { return f.sessions }

// Snapshot copies the registry, speeds and session states
func (f *Fleet) Snapshot() Snapshot {
	slots := f.registry.Snapshot()
	return Snapshot{
		Time:   f.now(),
		Slots:  slots,
		Speeds: f.speeds.Snapshot(),
		Sessions: lo.Map(f.sessions, func(s *Session, _ int) SessionSnapshot {
			return s.Snapshot()
		}),
		Connected:  lo.CountBy(slots, func(s SlotSnapshot) bool { return s.Connected }),
		Scanning:   f.window.Open(),
		ScanUntil:  f.window.Until(),
		ScanHolder: f.arbiter.Holder(),
	}
}
