// Package lpf2 talks to LEGO Powered Up hubs and remotes over Bluetooth LE
// using the LEGO Wireless Protocol 3.
package lpf2

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
)

const (
	// DismissTTL is how long a rejected device is ignored by scans
	DismissTTL = 10 * time.Second

	stopRetryInterval = 100 * time.Millisecond
	stopGracePeriod   = 2 * time.Second
)

var (
	serviceUUID        = mustUUID(ServiceUUID)
	characteristicUUID = mustUUID(CharacteristicUUID)
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Radio is the part of the tinygo adapter the transport uses
type Radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// Adapter implements hub.Transport on a local Bluetooth adapter
type Adapter struct {
	radio Radio
	bluez *BlueZ

	scanning   atomic.Bool
	connecting atomic.Bool

	mu          sync.RWMutex
	peripherals map[hub.Address]*Peripheral
	dismissed   map[hub.Address]time.Time
	now         func() time.Time

	stopRetry time.Duration
	stopGrace time.Duration
}

// NewAdapter wraps radio. bluez is optional and adds adapter activity and
// link loss information from the system bus.
func NewAdapter(radio Radio, bluez *BlueZ) *Adapter {
	a := &Adapter{
		radio:       radio,
		bluez:       bluez,
		peripherals: make(map[hub.Address]*Peripheral),
		dismissed:   make(map[hub.Address]time.Time),
		now:         time.Now,
		stopRetry:   stopRetryInterval,
		stopGrace:   stopGracePeriod,
	}
	return a
}

// Open enables the radio and installs the disconnect hooks
func (a *Adapter) Open() error {
	if err := a.radio.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	a.radio.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		addr, err := hub.ParseAddress(device.Address.String())
		if err != nil {
			return
		}
		a.linkLost(addr)
	})
	if a.bluez != nil {
		a.bluez.OnLinkLost(a.linkLost)
		if err := a.bluez.Start(); err != nil {
			logger.Warn("[BLE] D-Bus link watch unavailable: %v", err)
		}
	}
	return nil
}

// Close stops the D-Bus watch
func (a *Adapter) Close() {
	if a.bluez != nil {
		a.bluez.Stop()
	}
}

// Busy reports whether a discovery or connection is still in flight
func (a *Adapter) Busy() bool {
	if a.scanning.Load() || a.connecting.Load() {
		return true
	}
	if a.bluez == nil {
		return false
	}
	on, err := a.bluez.Discovering()
	if err != nil {
		logger.Debug("[BLE] discovering probe: %v", err)
		return false
	}
	return on
}

// Scan listens for the first LEGO device for up to timeout
func (a *Adapter) Scan(ctx context.Context, timeout time.Duration) (hub.Candidate, bool, error) {
	a.scanning.Store(true)
	defer a.scanning.Store(false)

	found := make(chan hub.Candidate, 1)
	done := make(chan error, 1)
	go func() {
		done <- a.radio.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			c, ok := a.candidate(result)
			if !ok {
				return
			}
			select {
			case found <- c:
				if err := a.radio.StopScan(); err != nil {
					logger.Debug("[BLE] stop scan: %v", err)
				}
			default:
			}
		})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		// Scan returned before anything was found or stopped
		if err != nil {
			return hub.Candidate{}, false, fmt.Errorf("scan: %w", err)
		}
		select {
		case c := <-found:
			return c, true, nil
		default:
			return hub.Candidate{}, false, nil
		}
	case c := <-found:
		a.finishScan(done, false)
		return c, true, nil
	case <-timer.C:
		a.finishScan(done, true)
		select {
		case c := <-found:
			return c, true, nil
		default:
			return hub.Candidate{}, false, nil
		}
	case <-ctx.Done():
		a.finishScan(done, true)
		return hub.Candidate{}, false, ctx.Err()
	}
}

// finishScan waits for the radio scan to end, repeating the stop request
// until it does. A scan that outlives stopGrace is abandoned so the caller
// can release its scan permit.
func (a *Adapter) finishScan(done <-chan error, stop bool) {
	if stop {
		a.stopScan()
	}

	retry := time.NewTicker(a.stopRetry)
	defer retry.Stop()
	grace := time.NewTimer(a.stopGrace)
	defer grace.Stop()

	for {
		select {
		case <-done:
			return
		case <-retry.C:
			a.stopScan()
		case <-grace.C:
			logger.Warn("[BLE] scan did not stop within %s, abandoning it", a.stopGrace)
			return
		}
	}
}

func (a *Adapter) stopScan() {
	if err := a.radio.StopScan(); err != nil {
		logger.Debug("[BLE] stop scan: %v", err)
	}
}

// candidate filters scan results down to LEGO devices not recently dismissed
func (a *Adapter) candidate(result bluetooth.ScanResult) (hub.Candidate, bool) {
	var data []byte
	lego := false
	for _, m := range result.ManufacturerData() {
		if m.CompanyID == CompanyID {
			data, lego = m.Data, true
			break
		}
	}
	if !lego && !result.HasServiceUUID(serviceUUID) {
		return hub.Candidate{}, false
	}

	addr, err := hub.ParseAddress(result.Address.String())
	if err != nil {
		return hub.Candidate{}, false
	}
	if a.isDismissed(addr) {
		return hub.Candidate{}, false
	}

	c := hub.Candidate{
		Address: addr,
		Class:   ClassFromManufacturerData(data),
		Name:    result.LocalName(),
		RSSI:    int(result.RSSI),
	}
	logger.Debug("[BLE] LEGO device found: addr=%s name=%q class=%s rssi=%d", c.Address, c.Name, c.Class, c.RSSI)
	return c, true
}

// Dismiss hides a rejected device from scans for DismissTTL
func (a *Adapter) Dismiss(c hub.Candidate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dismissed[c.Address] = a.now().Add(DismissTTL)
}

func (a *Adapter) isDismissed(addr hub.Address) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.dismissed[addr]
	if !ok {
		return false
	}
	if a.now().After(until) {
		delete(a.dismissed, addr)
		return false
	}
	return true
}

// Connect opens the link and finds the LWP3 characteristic
func (a *Adapter) Connect(ctx context.Context, c hub.Candidate) (hub.Peripheral, error) {
	a.connecting.Store(true)
	defer a.connecting.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(c.Address.String())

	logger.Info("[BLE] connecting to %s (%s)", c.Address, c.Class)
	device, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("BLE connect failed: %w", err)
	}

	char, err := findCharacteristic(device)
	if err != nil {
		if derr := device.Disconnect(); derr != nil {
			logger.Debug("[BLE] disconnect %s: %v", c.Address, derr)
		}
		return nil, err
	}

	p := newPeripheral(c, device, char)
	p.onDisconnect = func() { a.forget(c.Address, p) }
	if err := char.EnableNotifications(p.dispatch); err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("enable notifications: %w", err)
	}

	a.mu.Lock()
	a.peripherals[c.Address] = p
	a.mu.Unlock()
	return p, nil
}

func findCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("service discovery failed: %w", err)
	}
	for _, service := range services {
		chars, err := service.DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
		if err != nil {
			logger.Debug("[BLE] characteristic discovery: %v", err)
			continue
		}
		if len(chars) > 0 {
			return chars[0], nil
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("LWP3 characteristic not found")
}

func (a *Adapter) linkLost(addr hub.Address) {
	a.mu.RLock()
	p := a.peripherals[addr]
	a.mu.RUnlock()
	if p != nil {
		logger.Info("[BLE] %s disconnected", addr)
		p.markDisconnected()
	}
}

func (a *Adapter) forget(addr hub.Address, p *Peripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peripherals[addr] == p {
		delete(a.peripherals, addr)
	}
}

// Connected returns the number of live peripherals
func (a *Adapter) Connected() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peripherals)
}
