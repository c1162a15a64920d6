package fleet

import "errors"

var (
	// ErrRegistryFull means the address is unknown and every slot is taken
	ErrRegistryFull = errors.New("device registry full")
	// ErrValidationRejected means the candidate has the wrong device class or may not connect
	ErrValidationRejected = errors.New("device rejected")
	// ErrConnectFailed wraps a transport connect failure
	ErrConnectFailed = errors.New("connect failed")
	// ErrSlotBusy means another session already holds a live handle for the slot
	ErrSlotBusy = errors.New("slot already bound")
	// ErrInvalidChannel is returned by the external command surface
	ErrInvalidChannel = errors.New("invalid channel")
)
