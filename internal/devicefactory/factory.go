// Package devicefactory picks the transport the connection manager runs on.
package devicefactory

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/soundlink/internal/device"
	goble "github.com/srg/soundlink/internal/device/go-ble"
	"github.com/srg/soundlink/internal/device/wsnet"
)

// Mode selects a transport
type Mode string

const (
	ModeAuto    Mode = "auto"    // radio when a BLE stack is usable, otherwise network
	ModeRadio   Mode = "radio"   // radio only; fails without a BLE stack
	ModeNetwork Mode = "network" // local-network WebSocket only
)

// ParseMode validates a mode name; empty means auto
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeRadio, ModeNetwork:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown transport %q (expected auto, radio or network)", s)
	}
}

// Options carries the per-transport settings
type Options struct {
	Mode    Mode
	Radio   goble.Options
	Network wsnet.Options
}

// RadioFactory creates the radio transport (can be overridden in tests)
var RadioFactory = func(opts goble.Options, logger *logrus.Logger) (device.Transport, error) {
	t, err := goble.NewTransport(opts, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NetworkFactory creates the network transport (can be overridden in tests)
var NetworkFactory = func(opts wsnet.Options, logger *logrus.Logger) (device.Transport, error) {
	return wsnet.NewTransport(opts, logger), nil
}

// NewTransport performs the startup capability check and returns the transport for opts.Mode
func NewTransport(opts Options, logger *logrus.Logger) (device.Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}

	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeRadio:
		return RadioFactory(opts.Radio, logger)
	case ModeNetwork:
		return NetworkFactory(opts.Network, logger)
	}

	t, err := RadioFactory(opts.Radio, logger)
	if err == nil {
		logger.WithField("transport", t.Kind()).Debug("Using radio transport")
		return t, nil
	}

	logger.WithField("error", err).Info("Radio transport unavailable, falling back to local network")
	return NetworkFactory(opts.Network, logger)
}
