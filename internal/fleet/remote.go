package fleet

import "lego-hub-manager/internal/hub"

// SpeedStep is the change applied by one remote up/down press
const SpeedStep = 10

// ApplyEdge maps a remote button edge onto a channel speed. Up and down move
// by SpeedStep and saturate at the range ends, stop forces zero and any other
// edge leaves the speed unchanged.
func ApplyEdge(current int8, edge hub.ButtonState) int8 {
	switch edge {
	case hub.ButtonUp:
		return ClampSpeed(int(current) + SpeedStep)
	case hub.ButtonDown:
		return ClampSpeed(int(current) - SpeedStep)
	case hub.ButtonStop:
		return 0
	default:
		return current
	}
}
