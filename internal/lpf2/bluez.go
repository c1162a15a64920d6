package lpf2

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"lego-hub-manager/internal/hub"
	"lego-hub-manager/internal/logger"
)

const (
	bluezService     = "org.bluez"
	adapterInterface = "org.bluez.Adapter1"
	deviceInterface  = "org.bluez.Device1"
	propertiesSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// BlueZ watches the system bus for adapter activity and device link loss.
// tinygo's connect handler misses some disconnects on Linux, so link loss
// is also taken from Device1 PropertiesChanged signals.
type BlueZ struct {
	mu          sync.RWMutex
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
	onLost      []func(hub.Address)
	signalChan  chan *dbus.Signal
	stopChan    chan struct{}
	running     bool
}

// NewBlueZ connects to the system bus for the given adapter (e.g. "hci0")
func NewBlueZ(adapterID string) (*BlueZ, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("system bus: %w", err)
	}
	if adapterID == "" {
		adapterID = "hci0"
	}
	return &BlueZ{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapterID),
		signalChan:  make(chan *dbus.Signal, 100),
		stopChan:    make(chan struct{}),
	}, nil
}

// Discovering reports whether the adapter is running a discovery
func (b *BlueZ) Discovering() (bool, error) {
	v, err := b.conn.Object(bluezService, b.adapterPath).GetProperty(adapterInterface + ".Discovering")
	if err != nil {
		return false, err
	}
	on, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("discovering has type %T", v.Value())
	}
	return on, nil
}

// DevicePath returns the BlueZ object path of a peripheral
func (b *BlueZ) DevicePath(addr hub.Address) dbus.ObjectPath {
	part := strings.ReplaceAll(strings.ToUpper(addr.String()), ":", "_")
	return dbus.ObjectPath(string(b.adapterPath) + "/dev_" + part)
}

// AddressFromPath extracts the peripheral address from a device object path
func AddressFromPath(path dbus.ObjectPath) (hub.Address, bool) {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return "", false
	}
	part := s[i+len("/dev_"):]
	if j := strings.IndexByte(part, '/'); j >= 0 {
		part = part[:j]
	}
	addr, err := hub.ParseAddress(strings.ReplaceAll(part, "_", ":"))
	if err != nil {
		return "", false
	}
	return addr, true
}

// OnLinkLost registers a callback for devices whose Connected property drops
func (b *BlueZ) OnLinkLost(fn func(hub.Address)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLost = append(b.onLost, fn)
}

// Start subscribes to device property changes
func (b *BlueZ) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	rule := fmt.Sprintf("type='signal',sender='%s',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',arg0='%s'",
		bluezService, deviceInterface)
	if call := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
		return fmt.Errorf("add match: %w", call.Err)
	}
	b.conn.Signal(b.signalChan)
	b.running = true

	go b.processSignals()
	logger.Info("[BLE-DBus] watching %s for link loss", b.adapterPath)
	return nil
}

// Stop ends signal processing and closes the bus connection
func (b *BlueZ) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.conn.RemoveSignal(b.signalChan)
	if err := b.conn.Close(); err != nil {
		logger.Debug("[BLE-DBus] close: %v", err)
	}
}

func (b *BlueZ) processSignals() {
	for {
		select {
		case <-b.stopChan:
			return
		case signal, ok := <-b.signalChan:
			if !ok {
				return
			}
			if addr, lost := linkLost(signal); lost {
				logger.Debug("[BLE-DBus] %s link lost", addr)
				b.mu.RLock()
				callbacks := append([]func(hub.Address){}, b.onLost...)
				b.mu.RUnlock()
				for _, fn := range callbacks {
					fn(addr)
				}
			}
		}
	}
}

// linkLost reports whether signal says a device's Connected property became false
func linkLost(signal *dbus.Signal) (hub.Address, bool) {
	if signal == nil || signal.Name != propertiesSignal || len(signal.Body) < 2 {
		return "", false
	}
	iface, ok := signal.Body[0].(string)
	if !ok || iface != deviceInterface {
		return "", false
	}
	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Connected"]
	if !ok {
		return "", false
	}
	if connected, ok := v.Value().(bool); !ok || connected {
		return "", false
	}
	return AddressFromPath(signal.Path)
}
