package lpf2

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lego-hub-manager/internal/hub"
)

type recordingLink struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (l *recordingLink) WriteWithoutResponse(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.writes = append(l.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (l *recordingLink) all() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

var testAddr = hub.MustParseAddress("90:84:2b:11:22:33")

func TestPeripheralIndicatorSelectsModeOnce(t *testing.T) {
	link := &recordingLink{}
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassRemote}, link)

	require.NoError(t, p.SetIndicator(hub.ColorBlack))
	require.NoError(t, p.SetIndicator(hub.ColorGreen))

	assert.Equal(t, [][]byte{
		PortInputFormatMessage(PortRemoteLED, 0x00, 0, false),
		LEDColorMessage(PortRemoteLED, hub.ColorBlack),
		LEDColorMessage(PortRemoteLED, hub.ColorGreen),
	}, link.all())
}

func TestPeripheralHubUsesHubLED(t *testing.T) {
	link := &recordingLink{}
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassHub}, link)

	require.NoError(t, p.SetIndicator(hub.ColorRed))
	require.NoError(t, p.SetMotorSpeed(hub.PortA, -50))

	writes := link.all()
	require.Len(t, writes, 3)
	assert.Equal(t, LEDColorMessage(PortHubLED, hub.ColorRed), writes[1])
	assert.Equal(t, MotorSpeedMessage(0x00, -50), writes[2])
}

func TestPeripheralDispatch(t *testing.T) {
	link := &recordingLink{}
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassRemote}, link)

	var got []hub.Event
	record := func(ev hub.Event) { got = append(got, ev) }

	require.NoError(t, p.Subscribe(hub.PropertyBatteryVoltage, record))
	require.NoError(t, p.SubscribePort(hub.PortLeft, record))
	assert.Equal(t, [][]byte{
		HubPropertyMessage(hub.PropertyBatteryVoltage, OpEnableUpdates),
		PortInputFormatMessage(0x00, 0x00, 1, true),
	}, link.all())

	p.dispatch([]byte{0x06, 0x00, 0x01, 0x06, 0x06, 0x40})
	p.dispatch([]byte{0x05, 0x00, 0x45, 0x00, 0xFF})
	// Unsubscribed port, unsupported and broken messages are dropped
	p.dispatch([]byte{0x05, 0x00, 0x45, 0x01, 0x01})
	p.dispatch([]byte{0x05, 0x00, 0x82, 0x00, 0x0A})
	p.dispatch([]byte{0x09, 0x00})

	require.Len(t, got, 2)
	assert.Equal(t, 64, got[0].Value)
	assert.Equal(t, hub.ButtonDown, got[1].Button)
}

func TestPeripheralDisconnect(t *testing.T) {
	link := &recordingLink{}
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassHub}, link)

	calls := 0
	p.onDisconnect = func() { calls++ }

	require.True(t, p.Connected())
	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Disconnect())
	assert.False(t, p.Connected())
	assert.Equal(t, 1, calls)

	assert.ErrorIs(t, p.SetMotorSpeed(hub.PortA, 10), ErrNotConnected)
	assert.ErrorIs(t, p.Request(hub.PropertyRSSI), ErrNotConnected)
	assert.Empty(t, link.all())
}

func TestPeripheralWriteError(t *testing.T) {
	link := &recordingLink{err: errors.New("not permitted")}
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassHub}, link)

	err := p.Request(hub.PropertyRSSI)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
}

func TestAdapterDismissExpires(t *testing.T) {
	a := NewAdapter(nil, nil)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.Dismiss(hub.Candidate{Address: testAddr})
	assert.True(t, a.isDismissed(testAddr))

	now = now.Add(DismissTTL + time.Second)
	assert.False(t, a.isDismissed(testAddr))
}

func TestAdapterLinkLost(t *testing.T) {
	a := NewAdapter(nil, nil)
	p := NewPeripheral(hub.Candidate{Address: testAddr, Class: hub.ClassHub}, &recordingLink{})
	p.onDisconnect = func() { a.forget(testAddr, p) }
	a.peripherals[testAddr] = p
	require.Equal(t, 1, a.Connected())

	a.linkLost(hub.MustParseAddress("90:84:2b:00:00:01"))
	assert.True(t, p.Connected())

	a.linkLost(testAddr)
	assert.False(t, p.Connected())
	assert.Zero(t, a.Connected())
	assert.False(t, a.Busy())
}

func TestAddressFromPath(t *testing.T) {
	addr, ok := AddressFromPath("/org/bluez/hci0/dev_90_84_2B_11_22_33")
	require.True(t, ok)
	assert.Equal(t, testAddr, addr)

	addr, ok = AddressFromPath("/org/bluez/hci0/dev_90_84_2B_11_22_33/service000a/char000b")
	require.True(t, ok)
	assert.Equal(t, testAddr, addr)

	_, ok = AddressFromPath("/org/bluez/hci0")
	assert.False(t, ok)
}

func TestLinkLostSignal(t *testing.T) {
	path := dbus.ObjectPath("/org/bluez/hci0/dev_90_84_2B_11_22_33")
	signal := func(iface string, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{Path: path, Name: propertiesSignal, Body: []interface{}{iface, props, []string{}}}
	}

	addr, lost := linkLost(signal(deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}))
	require.True(t, lost)
	assert.Equal(t, testAddr, addr)

	_, lost = linkLost(signal(deviceInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}))
	assert.False(t, lost)

	_, lost = linkLost(signal(deviceInterface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-60))}))
	assert.False(t, lost)

	_, lost = linkLost(signal(adapterInterface, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}))
	assert.False(t, lost)

	_, lost = linkLost(nil)
	assert.False(t, lost)
}
