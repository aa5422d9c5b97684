//go:build !linux && !(darwin && cgo)

package goble

import (
	"errors"

	"github.com/go-ble/ble"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, errors.New("go-ble: no HCI backend for this platform")
}
