// Package hub describes the capabilities the fleet core needs from a wireless
// motor hub and the transport that discovers and connects to it.
package hub

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Address is a normalized peripheral MAC address (lower-case, colon separated)
type Address string

// ParseAddress normalizes a MAC address string. Comparison of parsed
// addresses is case-insensitive by construction.
func ParseAddress(s string) (Address, error) {
	mac, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(mac) != 6 {
		return "", fmt.Errorf("invalid address %q: expected 6 bytes, got %d", s, len(mac))
	}
	return Address(strings.ToLower(mac.String())), nil
}

// MustParseAddress is ParseAddress for literals known to be valid
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unassigned
func (a Address) IsZero() bool { return a == "" }

// Equal compares two addresses ignoring case
func (a Address) Equal(b Address) bool { return strings.EqualFold(string(a), string(b)) }

// DeviceClass is the declared type of a peripheral
type DeviceClass string

const (
	ClassUnknown DeviceClass = "unknown"
	ClassHub     DeviceClass = "hub"
	ClassRemote  DeviceClass = "remote"
)

// Accepted reports whether the fleet may connect to this class of device
func (c DeviceClass) Accepted() bool {
	return c == ClassHub || c == ClassRemote
}

// Port is a physical port number on a peripheral
type Port uint8

const (
	PortA Port = 0x00
	PortB Port = 0x01

	// Remote control button banks share numbering with the hub motor ports
	PortLeft  Port = 0x00
	PortRight Port = 0x01
)

// Property is a hub property reference
type Property uint8

const (
	PropertyAdvertisingName Property = 0x01
	PropertyButton          Property = 0x02
	PropertyFirmwareVersion Property = 0x03
	PropertyHardwareVersion Property = 0x04
	PropertyRSSI            Property = 0x05
	PropertyBatteryVoltage  Property = 0x06
)

func (p Property) String() string {
	switch p {
	case PropertyAdvertisingName:
		return "advertising_name"
	case PropertyButton:
		return "button"
	case PropertyFirmwareVersion:
		return "fw_version"
	case PropertyHardwareVersion:
		return "hw_version"
	case PropertyRSSI:
		return "rssi"
	case PropertyBatteryVoltage:
		return "battery_voltage"
	default:
		return fmt.Sprintf("property(0x%02X)", uint8(p))
	}
}

// ButtonState is a decoded button edge
type ButtonState string

const (
	ButtonReleased ButtonState = "released"
	ButtonPressed  ButtonState = "pressed"
	ButtonUp       ButtonState = "up"
	ButtonDown     ButtonState = "down"
	ButtonStop     ButtonState = "stop"
)

// EventKind tells property updates apart from port value updates
type EventKind uint8

const (
	EventProperty EventKind = iota
	EventPortValue
)

// Event is a decoded notification delivered by the transport on its own
// goroutine. Only the fields relevant to the property or port are set.
type Event struct {
	Kind     EventKind
	Property Property
	Port     Port
	Button   ButtonState
	Value    int
	Text     string
	Raw      []byte
}

// Handler receives events for a subscription
type Handler func(Event)

// Candidate is a peer that answered a scan
type Candidate struct {
	Address Address
	Class   DeviceClass
	Name    string
	RSSI    int
}

// Peripheral is a connected hub or remote. Implementations must be safe for
// use from the owning session and from event handlers at the same time.
type Peripheral interface {
	Address() Address
	Class() DeviceClass
	Name() string
	Connected() bool
	SetIndicator(c Color) error
	SetMotorSpeed(port Port, speed int8) error
	Subscribe(prop Property, fn Handler) error
	SubscribePort(port Port, fn Handler) error
	Request(prop Property) error
	Disconnect() error
}

// ActivityProbe reports whether the radio is still busy with a discovery or
// connection it started on its own.
type ActivityProbe interface {
	Busy() bool
}

// Transport discovers and connects peripherals
type Transport interface {
	ActivityProbe
	// Scan waits up to timeout for one connectable peer. ok is false when
	// nothing answered.
	Scan(ctx context.Context, timeout time.Duration) (c Candidate, ok bool, err error)
	Connect(ctx context.Context, c Candidate) (Peripheral, error)
	// Dismiss tells the transport a candidate was rejected
	Dismiss(c Candidate)
}
