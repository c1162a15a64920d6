package fleet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lego-hub-manager/internal/hub"
)

type fakePeripheral struct {
	addr  hub.Address
	class hub.DeviceClass
	name  string

	connected atomic.Bool

	mu         sync.Mutex
	indicators []hub.Color
	speeds     []int8
	requests   []hub.Property
	subscribed []hub.Property
	speedErr   error
	ports      map[hub.Port]hub.Handler
	props      map[hub.Property]hub.Handler
}

func newFakePeripheral(c hub.Candidate) *fakePeripheral {
	p := &fakePeripheral{
		addr:  c.Address,
		class: c.Class,
		name:  c.Name,
		ports: make(map[hub.Port]hub.Handler),
		props: make(map[hub.Property]hub.Handler),
	}
	p.connected.Store(true)
	return p
}

func (p *fakePeripheral) Address() hub.Address   { return p.addr }
func (p *fakePeripheral) Class() hub.DeviceClass { return p.class }
func (p *fakePeripheral) Name() string           { return p.name }
func (p *fakePeripheral) Connected() bool        { return p.connected.Load() }

func (p *fakePeripheral) SetIndicator(c hub.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indicators = append(p.indicators, c)
	return nil
}

func (p *fakePeripheral) SetMotorSpeed(port hub.Port, speed int8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speeds = append(p.speeds, speed)
	return p.speedErr
}

// failSpeeds makes motor writes fail with err, nil restores them
func (p *fakePeripheral) failSpeeds(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speedErr = err
}

func (p *fakePeripheral) Subscribe(prop hub.Property, fn hub.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed = append(p.subscribed, prop)
	p.props[prop] = fn
	return nil
}

func (p *fakePeripheral) SubscribePort(port hub.Port, fn hub.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ports[port] = fn
	return nil
}

func (p *fakePeripheral) Request(prop hub.Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, prop)
	return nil
}

func (p *fakePeripheral) Disconnect() error {
	p.connected.Store(false)
	return nil
}

func (p *fakePeripheral) speedLog() []int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int8(nil), p.speeds...)
}

func (p *fakePeripheral) requestCount(prop hub.Property) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r == prop {
			n++
		}
	}
	return n
}

func (p *fakePeripheral) indicatorLog() []hub.Color {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hub.Color(nil), p.indicators...)
}

func (p *fakePeripheral) subscriptions() []hub.Property {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hub.Property(nil), p.subscribed...)
}

func (p *fakePeripheral) fireProperty(ev hub.Event) {
	p.mu.Lock()
	fn := p.props[ev.Property]
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *fakePeripheral) firePort(port hub.Port, edge hub.ButtonState) {
	p.mu.Lock()
	fn := p.ports[port]
	p.mu.Unlock()
	if fn != nil {
		fn(hub.Event{Kind: hub.EventPortValue, Port: port, Button: edge})
	}
}

func (p *fakePeripheral) hasPort(port hub.Port) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ports[port] != nil
}

type fakeTransport struct {
	mu          sync.Mutex
	queue       []hub.Candidate
	peripherals map[hub.Address]*fakePeripheral
	connectErr  map[hub.Address]error
	connects    []hub.Address
	dismissed   []hub.Address

	busy      atomic.Bool
	scans     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		peripherals: make(map[hub.Address]*fakePeripheral),
		connectErr:  make(map[hub.Address]error),
	}
}

func (t *fakeTransport) offer(c ...hub.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = append(t.queue, c...)
}

func (t *fakeTransport) failConnect(addr hub.Address, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr[addr] = err
}

func (t *fakeTransport) Busy() bool { return t.busy.Load() }

func (t *fakeTransport) Scan(ctx context.Context, timeout time.Duration) (hub.Candidate, bool, error) {
	t.scans.Add(1)
	n := t.active.Add(1)
	defer t.active.Add(-1)
	for {
		m := t.maxActive.Load()
		if n <= m || t.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	t.mu.Lock()
	if len(t.queue) > 0 {
		c := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		return c, true, nil
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return hub.Candidate{}, false, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	return hub.Candidate{}, false, nil
}

func (t *fakeTransport) Connect(ctx context.Context, c hub.Candidate) (hub.Peripheral, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, c.Address)
	if err := t.connectErr[c.Address]; err != nil {
		return nil, err
	}
	p := newFakePeripheral(c)
	t.peripherals[c.Address] = p
	return p, nil
}

func (t *fakeTransport) Dismiss(c hub.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dismissed = append(t.dismissed, c.Address)
}

func (t *fakeTransport) peripheral(addr hub.Address) *fakePeripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peripherals[addr]
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.connects)
}

func (t *fakeTransport) dismissedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.dismissed)
}

func fastTiming() Timing {
	return Timing{
		Tick:              time.Millisecond,
		IdlePoll:          5 * time.Millisecond,
		ScanTimeout:       5 * time.Millisecond,
		SettleDelay:       time.Millisecond,
		TelemetryInterval: time.Hour,
		ActivityPoll:      time.Millisecond,
	}
}

// startFleet runs a fleet until the test ends
func startFleet(t *testing.T, tr hub.Transport, opts Options) *Fleet {
	t.Helper()
	if opts.Timing == (Timing{}) {
		opts.Timing = fastTiming()
	}
	if opts.ScanWindow == 0 {
		opts.ScanWindow = time.Minute
	}
	f, err := New(tr, opts)
	require.NoError(t, err)
	runFleet(t, f)
	return f
}

// runFleet runs f in the background and stops it when the test ends
func runFleet(t *testing.T, f *Fleet) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("fleet stopped with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("fleet did not stop")
		}
	})
}

func waitForState(t *testing.T, f *Fleet, addr hub.Address, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range f.Sessions() {
			snap := s.Snapshot()
			if snap.Address == addr && snap.State == state {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "%s never reached %s", addr, state)
}
