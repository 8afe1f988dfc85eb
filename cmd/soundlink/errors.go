package main

import (
	"errors"

	"github.com/srg/soundlink/internal/device"
)

// Command-level errors
var (
	// ErrNoDevice means discovery finished without a matching device
	ErrNoDevice = errors.New("no matching device found")
)

// FormatUserError turns an error chain into a one-line message for the terminal
func FormatUserError(err error) string {
	var hint string
	switch {
	case errors.Is(err, device.ErrReconnectExhausted):
		return "connection lost and reconnect attempts exhausted; run the command again to reconnect"
	case errors.Is(err, ErrNoDevice):
		hint = "is the sensor powered on and in range? Try --prefix or a longer scan"
	case errors.Is(err, device.ErrUnsupported):
		hint = "turn Bluetooth on, or pass --transport network --hosts <address>"
	case errors.Is(err, device.ErrScanDenied), errors.Is(err, device.ErrPermissionDenied):
		hint = "grant Bluetooth access to this terminal application"
	case errors.Is(err, device.ErrUnreachable):
		hint = "the device did not answer; move closer or check the address"
	case errors.Is(err, device.ErrServiceNotFound), errors.Is(err, device.ErrCharNotFound):
		hint = "the device does not expose the sensor data service; check the radio UUIDs"
	case errors.Is(err, device.ErrNotConnected):
		hint = "connect to a device first"
	default:
		return err.Error()
	}
	return err.Error() + " (" + hint + ")"
}
