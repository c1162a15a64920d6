package lpf2

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
)

// ErrNotConnected is returned for writes after the link dropped
var ErrNotConnected = errors.New("peripheral not connected")

// Link is the subset of a GATT connection a peripheral writes through
type Link interface {
	WriteWithoutResponse(p []byte) (n int, err error)
}

// Peripheral is a connected hub or remote speaking LWP3
type Peripheral struct {
	address hub.Address
	class   hub.DeviceClass
	name    string

	device *bluetooth.Device
	link   Link

	connected atomic.Bool
	ledReady  atomic.Bool
	writeMu   sync.Mutex

	mu           sync.RWMutex
	props        map[hub.Property]hub.Handler
	ports        map[hub.Port]hub.Handler
	onDisconnect func()
}

func newPeripheral(c hub.Candidate, device bluetooth.Device, char bluetooth.DeviceCharacteristic) *Peripheral {
	p := NewPeripheral(c, char)
	p.device = &device
	return p
}

// NewPeripheral builds a peripheral on top of an already connected link
func NewPeripheral(c hub.Candidate, link Link) *Peripheral {
	p := &Peripheral{
		address: c.Address,
		class:   c.Class,
		name:    c.Name,
		link:    link,
		props:   make(map[hub.Property]hub.Handler),
		ports:   make(map[hub.Port]hub.Handler),
	}
	p.connected.Store(true)
	return p
}

func (p *Peripheral) Address() hub.Address   { return p.address }
func (p *Peripheral) Class() hub.DeviceClass { return p.class }
func (p *Peripheral) Name() string           { return p.name }
func (p *Peripheral) Connected() bool        { return p.connected.Load() }

func (p *Peripheral) write(msg []byte) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.link.WriteWithoutResponse(msg); err != nil {
		return fmt.Errorf("write %x: %w", msg, err)
	}
	return nil
}

func (p *Peripheral) ledPort() byte {
	if p.class == hub.ClassRemote {
		return PortRemoteLED
	}
	return PortHubLED
}

// SetIndicator sets the built-in LED color
func (p *Peripheral) SetIndicator(color hub.Color) error {
	port := p.ledPort()
	// The LED port only takes colors after its mode is selected
	if !p.ledReady.Load() {
		if err := p.write(PortInputFormatMessage(port, 0x00, 0, false)); err != nil {
			return err
		}
		p.ledReady.Store(true)
	}
	return p.write(LEDColorMessage(port, color))
}

// SetMotorSpeed drives the motor on port at -100..100
func (p *Peripheral) SetMotorSpeed(port hub.Port, speed int8) error {
	return p.write(MotorSpeedMessage(byte(port), speed))
}

// Subscribe enables updates for a hub property
func (p *Peripheral) Subscribe(prop hub.Property, fn hub.Handler) error {
	p.mu.Lock()
	p.props[prop] = fn
	p.mu.Unlock()
	return p.write(HubPropertyMessage(prop, OpEnableUpdates))
}

// SubscribePort enables value notifications on a port in mode 0
func (p *Peripheral) SubscribePort(port hub.Port, fn hub.Handler) error {
	p.mu.Lock()
	p.ports[port] = fn
	p.mu.Unlock()
	return p.write(PortInputFormatMessage(byte(port), 0x00, 1, true))
}

// Request asks the hub to report a property once
func (p *Peripheral) Request(prop hub.Property) error {
	return p.write(HubPropertyMessage(prop, OpRequestUpdate))
}

// Disconnect closes the link
func (p *Peripheral) Disconnect() error {
	if !p.markDisconnected() {
		return nil
	}
	if p.device == nil {
		return nil
	}
	return p.device.Disconnect()
}

// markDisconnected flips the link state once and reports whether it did
func (p *Peripheral) markDisconnected() bool {
	if !p.connected.CompareAndSwap(true, false) {
		return false
	}
	p.mu.RLock()
	fn := p.onDisconnect
	p.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return true
}

// dispatch decodes a notification and routes it to its subscriber
func (p *Peripheral) dispatch(buf []byte) {
	ev, err := Decode(buf)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMessage) {
			logger.Debug("[BLE] %s: %x", p.address, buf)
		} else {
			logger.Warn("[BLE] %s: %v", p.address, err)
		}
		return
	}

	var fn hub.Handler
	p.mu.RLock()
	switch ev.Kind {
	case hub.EventProperty:
		fn = p.props[ev.Property]
	case hub.EventPortValue:
		fn = p.ports[ev.Port]
	}
	p.mu.RUnlock()

	if fn != nil {
		fn(ev)
	}
}
