package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
)

// State is the lifecycle state of a hub session
type State string

const (
	StateIdle              State = "idle"
	StateScanning          State = "scanning"
	StatePendingValidation State = "pending_validation"
	StateInitializing      State = "initializing"
	StateOperating         State = "operating"
	StateDisconnected      State = "disconnected"
)

// SessionSnapshot is a read-only view of one session
type SessionSnapshot struct {
	ID         int         `json:"id"`
	State      State       `json:"state"`
	Slot       int         `json:"slot"`
	Address    hub.Address `json:"address,omitempty"`
	LocalSpeed int8        `json:"local_speed"`
	HasPermit  bool        `json:"has_permit"`
	WriteFails int         `json:"write_fails"`
}

// Session drives one task slot through discovery, connection, setup and
// operation of a single peripheral. Its transitions run on one goroutine;
// only the peripheral's event handlers run elsewhere and they touch shared
// state exclusively through the registry and speed table.
type Session struct {
	id    int
	fleet *Fleet

	mu         sync.RWMutex
	state      State
	permit     *Permit
	candidate  hub.Candidate
	peripheral hub.Peripheral
	slot       int
	bound      bool
	localSpeed int8

	lastTelemetry time.Time
	writeFailures int // consecutive failed motor writes
}

func newSession(id int, f *Fleet) *Session {
	return &Session{
		id:    id,
		fleet: f,
		state: StateIdle,
		slot:  -1,
	}
}

// ID returns the task slot number
func (s *Session) ID() int {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Snapshot returns a copy of the session's observable fields
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{
		ID:         s.id,
		State:      s.state,
		Slot:       s.slot,
		LocalSpeed: s.localSpeed,
		HasPermit:  s.permit != nil,
		WriteFails: s.writeFailures,
	}
	if s.peripheral != nil {
		snap.Address = s.peripheral.Address()
	}
	return snap
}

// Run executes the state machine until ctx is cancelled
func (s *Session) Run(ctx context.Context) error {
	logger.Debug("[FLEET] task %d started", s.id)
	defer s.shutdown()

	for {
		delay := s.step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return nil
		}
	}
}

// step performs one transition and returns how long to pause before the next
func (s *Session) step(ctx context.Context) time.Duration {
	switch s.State() {
	case StateIdle:
		return s.idle()
	case StateScanning:
		return s.scan(ctx)
	case StatePendingValidation:
		return s.validate(ctx)
	case StateInitializing:
		return s.initialize(ctx)
	case StateOperating:
		return s.operate()
	case StateDisconnected:
		return s.disconnected()
	default:
		logger.Error("[FLEET] task %d in unknown state %q, resetting", s.id, s.State())
		s.setState(StateIdle)
		return s.fleet.timing.Tick
	}
}

func (s *Session) idle() time.Duration {
	if !s.fleet.window.Open() {
		return s.fleet.timing.IdlePoll
	}
	s.setState(StateScanning)
	return 0
}

func (s *Session) scan(ctx context.Context) time.Duration {
	f := s.fleet

	if !s.hasPermit() {
		permit, err := f.arbiter.Acquire(ctx, s.id)
		if err != nil {
			return 0
		}
		s.mu.Lock()
		s.permit = permit
		s.mu.Unlock()
		logger.Debug("[FLEET] task %d: scan token acquired", s.id)
	}

	// The window may have closed while this task waited for the token
	if !f.window.Open() {
		s.releasePermit()
		s.setState(StateIdle)
		return f.timing.IdlePoll
	}

	if err := f.arbiter.WaitSettled(ctx); err != nil {
		return 0
	}

	candidate, ok, err := f.transport.Scan(ctx, f.timing.ScanTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		logger.Warn("[FLEET] task %d: scan failed: %v", s.id, err)
		s.releasePermit()
		s.setState(StateIdle)
		return f.timing.Tick
	}
	if !ok {
		s.releasePermit()
		if !f.window.Open() {
			s.setState(StateIdle)
		}
		return f.timing.Tick
	}

	logger.Debug("[FLEET] task %d: found %s (%s) %q", s.id, candidate.Address, candidate.Class, candidate.Name)
	s.mu.Lock()
	s.candidate = candidate
	s.state = StatePendingValidation
	s.mu.Unlock()
	return 0
}

// admit checks a candidate's class and claims its registry slot
func (s *Session) admit(c hub.Candidate) (int, error) {
	reg := s.fleet.registry
	if !c.Class.Accepted() {
		return -1, fmt.Errorf("%w: device class %s", ErrValidationRejected, c.Class)
	}
	idx, ok := reg.IsKnownOrAllocate(c.Address)
	if !ok {
		return -1, ErrRegistryFull
	}
	if reg.Bound(idx) {
		return -1, fmt.Errorf("%w: slot %d", ErrSlotBusy, idx)
	}
	return idx, nil
}

func (s *Session) validate(ctx context.Context) time.Duration {
	f := s.fleet
	s.mu.RLock()
	candidate := s.candidate
	s.mu.RUnlock()

	idx, err := s.admit(candidate)
	if err != nil {
		logger.Info("[FLEET] task %d: rejecting %s: %v", s.id, candidate.Address, err)
		f.transport.Dismiss(candidate)
		s.abort()
		return f.timing.Tick
	}

	if err := f.arbiter.WaitSettled(ctx); err != nil {
		return 0
	}

	peripheral, err := f.transport.Connect(ctx, candidate)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		logger.Warn("[FLEET] task %d: %v: %s (slot %d): %v", s.id, ErrConnectFailed, candidate.Address, idx, err)
		s.abort()
		return f.timing.Tick
	}

	logger.Info("[FLEET] task %d: connected %s %q, keeping scan token", s.id, candidate.Address, peripheral.Name())
	f.window.Extend()

	s.mu.Lock()
	s.peripheral = peripheral
	s.candidate = hub.Candidate{}
	s.state = StateInitializing
	s.mu.Unlock()
	return 0
}

// abort gives up the current candidate and returns to idle
func (s *Session) abort() {
	s.releasePermit()
	s.mu.Lock()
	s.candidate = hub.Candidate{}
	s.state = StateIdle
	s.mu.Unlock()
}

type initStep struct {
	name string
	run  func() error
}

func (s *Session) initSteps(p hub.Peripheral, idx int) []initStep {
	reg := s.fleet.registry
	channelColor := func() error {
		return p.SetIndicator(hub.ChannelColor(reg.Channel(idx)))
	}
	properties := s.propertyHandler(idx, p)

	steps := []initStep{
		{"request details", func() error {
			return errors.Join(
				p.Request(hub.PropertyRSSI),
				p.Request(hub.PropertyFirmwareVersion),
				p.Request(hub.PropertyHardwareVersion),
			)
		}},
		{"indicator off", func() error { return p.SetIndicator(hub.ColorBlack) }},
		{"subscribe button", func() error { return p.Subscribe(hub.PropertyButton, properties) }},
		{"subscribe battery", func() error { return p.Subscribe(hub.PropertyBatteryVoltage, properties) }},
		{"indicator channel", channelColor},
		{"subscribe firmware version", func() error { return p.Subscribe(hub.PropertyFirmwareVersion, properties) }},
		{"subscribe hardware version", func() error { return p.Subscribe(hub.PropertyHardwareVersion, properties) }},
		{"indicator off", func() error { return p.SetIndicator(hub.ColorBlack) }},
	}

	if p.Class() == hub.ClassRemote {
		buttons := s.remoteButtonHandler(idx, p)
		steps = append(steps,
			initStep{"subscribe left buttons", func() error { return p.SubscribePort(hub.PortLeft, buttons) }},
			initStep{"subscribe right buttons", func() error { return p.SubscribePort(hub.PortRight, buttons) }},
		)
	}
	return append(steps, initStep{"indicator channel", channelColor})
}

func (s *Session) initialize(ctx context.Context) time.Duration {
	f := s.fleet
	s.mu.RLock()
	p := s.peripheral
	s.mu.RUnlock()

	idx, ok := f.registry.Find(p.Address())
	if !ok {
		logger.Error("[FLEET] task %d: %s lost its registry slot", s.id, p.Address())
		s.dropPeripheral(p)
		return f.timing.Tick
	}
	if err := f.registry.Bind(idx, p); err != nil {
		logger.Warn("[FLEET] task %d: %v", s.id, err)
		s.dropPeripheral(p)
		return f.timing.Tick
	}

	s.mu.Lock()
	s.slot = idx
	s.bound = true
	s.mu.Unlock()

	logger.Info("[FLEET] task %d: initializing %s in slot %d on channel %d", s.id, p.Address(), idx, f.registry.Channel(idx))

	// No timeout: a peripheral that never settles keeps this task here
	for _, step := range s.initSteps(p, idx) {
		if err := step.run(); err != nil {
			logger.Warn("[FLEET] task %d: init %s: %v", s.id, step.name, err)
		}
		if err := sleepCtx(ctx, f.timing.SettleDelay); err != nil {
			return 0
		}
	}

	s.releasePermit()

	if !p.Connected() {
		s.setState(StateDisconnected)
		return 0
	}

	s.mu.Lock()
	s.localSpeed = 0
	s.lastTelemetry = f.now()
	s.state = StateOperating
	s.mu.Unlock()
	logger.Info("[FLEET] task %d: %s ready", s.id, p.Address())
	return 0
}

// dropPeripheral disconnects a peripheral that never got bound
func (s *Session) dropPeripheral(p hub.Peripheral) {
	if err := p.Disconnect(); err != nil {
		logger.Debug("[FLEET] task %d: disconnect %s: %v", s.id, p.Address(), err)
	}
	s.releasePermit()
	s.mu.Lock()
	s.peripheral = nil
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) operate() time.Duration {
	f := s.fleet
	s.mu.RLock()
	p, idx, local, last := s.peripheral, s.slot, s.localSpeed, s.lastTelemetry
	s.mu.RUnlock()

	if !p.Connected() {
		s.setState(StateDisconnected)
		return 0
	}

	if p.Class() != hub.ClassRemote {
		target := f.speeds.Get(f.registry.Channel(idx))
		if target != local {
			if err := p.SetMotorSpeed(hub.PortA, target); err != nil {
				s.writeFailed(p, target, err)
			} else {
				logger.Debug("[FLEET] task %d: %s speed %d", s.id, p.Address(), target)
				s.mu.Lock()
				if s.writeFailures > 0 {
					logger.Info("[FLEET] task %d: %s accepts writes again after %d failures", s.id, p.Address(), s.writeFailures)
				}
				s.writeFailures = 0
				s.localSpeed = target
				s.mu.Unlock()
			}
		}
	}

	if now := f.now(); now.Sub(last) >= f.timing.TelemetryInterval {
		s.mu.Lock()
		s.lastTelemetry = now
		s.mu.Unlock()
		if err := p.Request(hub.PropertyRSSI); err != nil {
			logger.Debug("[FLEET] task %d: liveness request to %s: %v", s.id, p.Address(), err)
		}
	}
	return f.timing.Tick
}

// writeFailed warns on the first failed write of a run and logs the
// retries at debug level
func (s *Session) writeFailed(p hub.Peripheral, target int8, err error) {
	s.mu.Lock()
	s.writeFailures++
	n := s.writeFailures
	s.mu.Unlock()

	if n == 1 {
		logger.Warn("[FLEET] task %d: set speed %d on %s: %v", s.id, target, p.Address(), err)
		return
	}
	logger.Debug("[FLEET] task %d: set speed %d on %s failed %d times: %v", s.id, target, p.Address(), n, err)
}

func (s *Session) disconnected() time.Duration {
	f := s.fleet
	s.releasePermit()

	s.mu.Lock()
	p, idx, bound := s.peripheral, s.slot, s.bound
	s.peripheral = nil
	s.slot = -1
	s.bound = false
	s.localSpeed = 0
	s.writeFailures = 0
	s.state = StateIdle
	s.mu.Unlock()

	if bound {
		f.registry.Unbind(idx)
	}
	if p != nil {
		logger.Info("[FLEET] task %d: %s disconnected", s.id, p.Address())
	}
	f.window.Extend()
	return 0
}

// shutdown runs when the task's context ends
func (s *Session) shutdown() {
	s.releasePermit()

	s.mu.Lock()
	p, idx, bound := s.peripheral, s.slot, s.bound
	s.peripheral = nil
	s.bound = false
	s.mu.Unlock()

	if p == nil {
		return
	}
	if p.Class() != hub.ClassRemote {
		if err := p.SetMotorSpeed(hub.PortA, 0); err != nil {
			logger.Debug("[FLEET] task %d: stop motor on %s: %v", s.id, p.Address(), err)
		}
	}
	if err := p.Disconnect(); err != nil {
		logger.Debug("[FLEET] task %d: disconnect %s: %v", s.id, p.Address(), err)
	}
	if bound {
		s.fleet.registry.Unbind(idx)
	}
}

// propertyHandler handles hub property updates for the peripheral in slot idx
func (s *Session) propertyHandler(idx int, p hub.Peripheral) hub.Handler {
	reg := s.fleet.registry
	return func(ev hub.Event) {
		switch ev.Property {
		case hub.PropertyButton:
			if ev.Button != hub.ButtonPressed {
				return
			}
			ch := reg.AdvanceChannel(idx)
			logger.Info("[FLEET] %s button: slot %d now on channel %d", p.Address(), idx, ch)
			if err := p.SetIndicator(hub.ChannelColor(ch)); err != nil {
				logger.Warn("[FLEET] %s indicator: %v", p.Address(), err)
			}
		case hub.PropertyBatteryVoltage:
			reg.SetBattery(idx, ev.Value)
		case hub.PropertyFirmwareVersion, hub.PropertyHardwareVersion, hub.PropertyAdvertisingName:
			logger.Info("[FLEET] %s %s: %s", p.Address(), ev.Property, ev.Text)
		case hub.PropertyRSSI:
			logger.Debug("[FLEET] %s rssi %d", p.Address(), ev.Value)
		default:
			logger.Debug("[FLEET] %s %s: %x", p.Address(), ev.Property, ev.Raw)
		}
	}
}

// remoteButtonHandler turns remote button edges into channel speed changes
func (s *Session) remoteButtonHandler(idx int, p hub.Peripheral) hub.Handler {
	f := s.fleet
	return func(ev hub.Event) {
		ch := f.registry.Channel(idx)

		// Dark while held, channel color on release
		color := hub.ColorBlack
		if ev.Button == hub.ButtonReleased {
			color = hub.ChannelColor(ch)
		}
		if err := p.SetIndicator(color); err != nil {
			logger.Debug("[FLEET] %s indicator: %v", p.Address(), err)
		}

		old, updated, ok := f.speeds.Update(ch, func(cur int8) int8 {
			return ApplyEdge(cur, ev.Button)
		})
		if ok && old != updated {
			logger.Info("[FLEET] remote %s: channel %d speed %d -> %d", p.Address(), ch, old, updated)
			f.speedChanged(ch, updated)
		}
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) hasPermit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.permit != nil
}

func (s *Session) releasePermit() {
	s.mu.Lock()
	permit := s.permit
	s.permit = nil
	s.mu.Unlock()
	if permit != nil {
		permit.Release()
		logger.Debug("[FLEET] task %d: scan token released", s.id)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
