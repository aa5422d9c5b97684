// Package goble implements the native central contract over go-ble/ble.
//
// go-ble exposes a blocking API: a Scan that runs until its context ends and
// a Client whose GATT calls return their result. The stack turns that into the
// callback model of the native package: blocking calls run on a per-peripheral
// operation goroutine and their outcomes are posted back on the bridge queue.
package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Device is the part of ble.Device the stack drives.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error
	Dial(ctx context.Context, addr ble.Addr) (Client, error)
	Stop() error
}

// Client is the part of ble.Client the stack drives.
type Client interface {
	Addr() ble.Addr
	Name() string
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteDescriptor(d *ble.Descriptor, v []byte) error
	ReadRSSI() int
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Advertisement is the part of ble.Advertisement the stack reads.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ble.ServiceData
	Services() []ble.UUID
	OverflowService() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	SolicitedService() []ble.UUID
	RSSI() int
	Addr() ble.Addr
}

// DeviceFactory creates the go-ble device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Device, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleDevice{dev: dev}, nil
}

// bleDevice adapts a ble.Device to Device.
type bleDevice struct {
	dev ble.Device
}

func (d *bleDevice) Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	return d.dev.Scan(ctx, allowDup, func(a ble.Advertisement) { h(a) })
}

func (d *bleDevice) Dial(ctx context.Context, addr ble.Addr) (Client, error) {
	cln, err := d.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return cln, nil
}

func (d *bleDevice) Stop() error {
	return d.dev.Stop()
}

// disconnectNotifier is implemented by clients that report link loss.
type disconnectNotifier interface {
	Disconnected() <-chan struct{}
}
