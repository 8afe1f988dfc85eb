package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/soundlink/internal/device"
)

// classify maps known go-ble / CoreBluetooth / BlueZ error strings to an ErrorKind.
// Returns "" when the message is not recognized.
func classify(err error) device.ErrorKind {
	if err == nil {
		return ""
	}
	if k := device.KindOf(err); k != "" {
		return k
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return device.Unsupported
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "invalid state"),
		containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "no such device"):
		return device.Unsupported
	case containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "operation not permitted"):
		return device.PermissionDenied
	case containsIgnoreCase(msg, "already connected"):
		return device.AlreadyOpen
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection is not initialized"):
		return device.NotConnected
	default:
		return ""
	}
}

// NormalizeError maps a go-ble error raised while opening a link to a
// *device.ConnectionError. Unrecognized errors become Unreachable.
// Context errors and errors already in the taxonomy are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var cerr *device.ConnectionError
	if errors.As(err, &cerr) {
		return err
	}

	kind := device.Unreachable
	switch classify(err) {
	case device.PermissionDenied:
		kind = device.PermissionDenied
	case device.AlreadyOpen:
		kind = device.AlreadyOpen
	}
	return &device.ConnectionError{Kind: kind, Err: err}
}

// normalizeScanError maps a scan failure to a *device.DiscoveryError
func normalizeScanError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	kind := device.Unsupported
	if classify(err) == device.PermissionDenied {
		kind = device.PermissionDenied
	}
	return &device.DiscoveryError{Kind: kind, Err: err}
}

// normalizeSendError maps a write failure to a *device.SendError
func normalizeSendError(err error) error {
	if err == nil {
		return nil
	}
	kind := device.IOError
	if classify(err) == device.NotConnected {
		kind = device.NotOpen
	}
	return &device.SendError{Kind: kind, Err: err}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
