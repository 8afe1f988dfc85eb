//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/srg/soundlink/internal/device"
)

func newPlatformAdapter() (Adapter, error) {
	return nil, &device.DiscoveryError{Kind: device.Unsupported, Msg: "no BLE stack for " + runtime.GOOS}
}
