package lpf2

import (
	"encoding/binary"
	"errors"
	"fmt"

	"lego-hub-manager/internal/hub"
)

// LEGO Wireless Protocol 3 GATT identifiers
const (
	ServiceUUID        = "00001623-1212-efde-1623-785feabcd123"
	CharacteristicUUID = "00001624-1212-efde-1623-785feabcd123"

	// CompanyID is LEGO's Bluetooth SIG manufacturer id
	CompanyID uint16 = 0x0397
)

// Message types
const (
	MsgHubProperties        byte = 0x01
	MsgHubAttachedIO        byte = 0x04
	MsgGenericError         byte = 0x05
	MsgPortInputFormatSetup byte = 0x41
	MsgPortValueSingle      byte = 0x45
	MsgPortInputFormat      byte = 0x47
	MsgPortOutputCommand    byte = 0x81
	MsgPortOutputFeedback   byte = 0x82
)

// Hub property operations
const (
	OpSet            byte = 0x01
	OpEnableUpdates  byte = 0x02
	OpDisableUpdates byte = 0x03
	OpReset          byte = 0x04
	OpRequestUpdate  byte = 0x05
	OpUpdate         byte = 0x06
)

// System type ids advertised in the manufacturer data
const (
	SystemTypeDuploTrainHub byte = 0x20
	SystemTypeBoostHub      byte = 0x40
	SystemTypeCityHub       byte = 0x41
	SystemTypeRemote        byte = 0x42
	SystemTypeTechnicHub    byte = 0x80
)

// Built-in LED ports
const (
	PortHubLED    byte = 0x32
	PortRemoteLED byte = 0x34
)

// Remote button values reported on the handset ports in mode 0
const (
	remoteReleased byte = 0x00
	remoteUp       byte = 0x01
	remoteStop     byte = 0x7F
	remoteDown     byte = 0xFF
)

const (
	startupAndCompletion byte = 0x11
	writeDirectModeData  byte = 0x51
	headerLen                 = 3
)

var (
	// ErrShortMessage means the notification is smaller than its header claims
	ErrShortMessage = errors.New("short lwp3 message")
	// ErrUnsupportedMessage is returned for message types the manager ignores
	ErrUnsupportedMessage = errors.New("unsupported lwp3 message")
)

// ClassFromManufacturerData maps LEGO advertising data (company id stripped)
// to a device class. Only city hubs and train remotes are accepted.
func ClassFromManufacturerData(data []byte) hub.DeviceClass {
	if len(data) < 2 {
		return hub.ClassUnknown
	}
	switch data[1] {
	case SystemTypeCityHub:
		return hub.ClassHub
	case SystemTypeRemote:
		return hub.ClassRemote
	default:
		return hub.ClassUnknown
	}
}

// frame prepends the common header: length, hub id 0, message type
func frame(msgType byte, payload ...byte) []byte {
	out := make([]byte, 0, headerLen+len(payload))
	out = append(out, byte(headerLen+len(payload)), 0x00, msgType)
	return append(out, payload...)
}

// HubPropertyMessage builds a hub property operation
func HubPropertyMessage(prop hub.Property, op byte) []byte {
	return frame(MsgHubProperties, byte(prop), op)
}

// PortInputFormatMessage subscribes to (or silences) a port mode
func PortInputFormatMessage(port, mode byte, delta uint32, notify bool) []byte {
	payload := make([]byte, 0, 7)
	payload = append(payload, port, mode)
	payload = binary.LittleEndian.AppendUint32(payload, delta)
	if notify {
		payload = append(payload, 0x01)
	} else {
		payload = append(payload, 0x00)
	}
	return frame(MsgPortInputFormatSetup, payload...)
}

// PortOutputMessage writes a mode 0 value directly to a port
func PortOutputMessage(port, value byte) []byte {
	return frame(MsgPortOutputCommand, port, startupAndCompletion, writeDirectModeData, 0x00, value)
}

// MotorSpeedMessage drives a basic motor. Speed is -100..100.
func MotorSpeedMessage(port byte, speed int8) []byte {
	return PortOutputMessage(port, MapSpeed(speed))
}

// LEDColorMessage sets a built-in LED to a palette color
func LEDColorMessage(port byte, color hub.Color) []byte {
	return PortOutputMessage(port, byte(color))
}

// MapSpeed converts -100..100 into the motor power byte. Zero brakes (127),
// forward spans 0..126 and reverse spans 255..128.
func MapSpeed(speed int8) byte {
	s := max(-100, min(100, int(speed)))
	switch {
	case s == 0:
		return 127
	case s > 0:
		return byte(s * 126 / 100)
	default:
		return byte(255 - (-s*127)/100)
	}
}

// Decode turns one notification into an event. Message types that carry
// nothing the manager uses return ErrUnsupportedMessage.
func Decode(buf []byte) (hub.Event, error) {
	if len(buf) < headerLen {
		return hub.Event{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(buf))
	}

	// Lengths of 128 and above use a two byte header
	length, offset := int(buf[0]), 1
	if buf[0]&0x80 != 0 {
		if len(buf) < headerLen+1 {
			return hub.Event{}, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(buf))
		}
		length, offset = int(buf[0]&0x7f)|int(buf[1])<<7, 2
	}
	if length > len(buf) || length < offset+2 {
		return hub.Event{}, fmt.Errorf("%w: header says %d, got %d", ErrShortMessage, length, len(buf))
	}

	msg := buf[offset+1 : length] // skip hub id
	raw := append([]byte(nil), buf[:length]...)
	switch msg[0] {
	case MsgHubProperties:
		return decodeProperty(msg[1:], raw)
	case MsgPortValueSingle:
		return decodePortValue(msg[1:], raw)
	default:
		return hub.Event{Raw: raw}, fmt.Errorf("%w: type 0x%02x", ErrUnsupportedMessage, msg[0])
	}
}

func decodeProperty(body, raw []byte) (hub.Event, error) {
	if len(body) < 2 {
		return hub.Event{}, fmt.Errorf("%w: property body %d bytes", ErrShortMessage, len(body))
	}
	ev := hub.Event{Kind: hub.EventProperty, Property: hub.Property(body[0]), Raw: raw}
	if body[1] != OpUpdate {
		return ev, fmt.Errorf("%w: property op 0x%02x", ErrUnsupportedMessage, body[1])
	}
	payload := body[2:]

	switch ev.Property {
	case hub.PropertyButton:
		if len(payload) < 1 {
			return ev, ErrShortMessage
		}
		ev.Value = int(payload[0])
		ev.Button = hub.ButtonReleased
		if payload[0] == 0x01 {
			ev.Button = hub.ButtonPressed
		}
	case hub.PropertyBatteryVoltage:
		if len(payload) < 1 {
			return ev, ErrShortMessage
		}
		ev.Value = int(payload[0])
	case hub.PropertyRSSI:
		if len(payload) < 1 {
			return ev, ErrShortMessage
		}
		ev.Value = int(int8(payload[0]))
	case hub.PropertyFirmwareVersion, hub.PropertyHardwareVersion:
		if len(payload) < 4 {
			return ev, ErrShortMessage
		}
		v := binary.LittleEndian.Uint32(payload)
		ev.Value = int(v)
		ev.Text = FormatVersion(v)
	case hub.PropertyAdvertisingName:
		ev.Text = string(payload)
	default:
		ev.Value = -1
	}
	return ev, nil
}

func decodePortValue(body, raw []byte) (hub.Event, error) {
	if len(body) < 2 {
		return hub.Event{}, fmt.Errorf("%w: port value body %d bytes", ErrShortMessage, len(body))
	}
	return hub.Event{
		Kind:   hub.EventPortValue,
		Port:   hub.Port(body[0]),
		Value:  int(body[1]),
		Button: RemoteButton(body[1]),
		Raw:    raw,
	}, nil
}

// RemoteButton maps a handset port value onto a button edge
func RemoteButton(v byte) hub.ButtonState {
	switch v {
	case remoteUp:
		return hub.ButtonUp
	case remoteDown:
		return hub.ButtonDown
	case remoteStop:
		return hub.ButtonStop
	default:
		return hub.ButtonReleased
	}
}

// FormatVersion renders the packed major.minor.bugfix.build version number
func FormatVersion(v uint32) string {
	major := (v >> 28) & 0x07
	minor := (v >> 24) & 0x0f
	bugfix := (v >> 16) & 0xff
	build := v & 0xffff
	return fmt.Sprintf("%d.%d.%02x.%04x", major, minor, bugfix, build)
}
