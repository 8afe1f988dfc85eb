package goble

import "github.com/go-ble/ble/linux"

func newPlatformAdapter() (Adapter, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
