// Package native is the contract between the central bridge and a platform
// BLE stack. It mirrors the CoreBluetooth central API: a manager that scans
// and connects, peripherals that run GATT procedures, and delegates that
// receive every outcome asynchronously.
//
// A Stack is created bound to a Queue. Every Stack and Peripheral method is
// called on that queue, and implementations must deliver every delegate
// callback through it as well, so the bridge sees a single serial execution
// context for both directions.
package native

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/pkg/uuid"
)

// Queue is the serial execution context owned by the bridge.
type Queue interface {
	// Submit schedules fn and returns immediately. It reports false when the
	// queue has been shut down and fn was discarded.
	Submit(name string, fn func()) bool
	// Do runs fn on the queue and waits for it to finish. Called from the
	// queue itself it runs fn inline.
	Do(name string, fn func()) bool
}

// Options configures a Stack at construction time.
type Options struct {
	ShowPowerAlert bool
	Logger         *logrus.Logger
}

// Factory creates a Stack bound to q.
type Factory func(q Queue, opts Options) (Stack, error)

// ScanOptions are the native scan parameters.
type ScanOptions struct {
	AllowDuplicates   bool
	SolicitedServices []uuid.UUID
}

// ConnectOptions are the native connect parameters.
type ConnectOptions struct {
	NotifyOnConnection    bool
	NotifyOnDisconnection bool
	NotifyOnNotification  bool
	StartDelaySeconds     int
}

// Stack is the central manager.
type Stack interface {
	SetDelegate(d CentralDelegate)
	State() int
	Scan(services []uuid.UUID, opts ScanOptions)
	StopScan()
	Connect(p Peripheral, opts ConnectOptions)
	CancelConnect(p Peripheral)
	RetrievePeripherals(ids []uuid.UUID) []Peripheral
	RetrieveConnectedPeripherals(services []uuid.UUID) []Peripheral
	// Close releases the platform manager. No callbacks follow.
	Close()
}

// Peripheral is a remote device known to the Stack.
type Peripheral interface {
	Identifier() uuid.UUID
	Name() string
	SetDelegate(d PeripheralDelegate)

	DiscoverServices(filter []uuid.UUID)
	DiscoverIncludedServices(filter []uuid.UUID, svc Service)
	DiscoverCharacteristics(filter []uuid.UUID, svc Service)
	DiscoverDescriptors(chr Characteristic)
	Services() []Service

	ReadCharacteristic(chr Characteristic)
	ReadDescriptor(dsc Descriptor)
	WriteCharacteristic(data []byte, chr Characteristic, withResponse bool)
	WriteDescriptor(data []byte, dsc Descriptor)
	SetNotify(enabled bool, chr Characteristic)
	ReadRSSI()
	MaximumWriteValueLength(withResponse bool) int
}

// Service is a discovered GATT service.
type Service interface {
	UUID() uuid.UUID
	IsPrimary() bool
	Characteristics() []Characteristic
	IncludedServices() []Service
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() uuid.UUID
	Properties() uint
	Value() []byte
	Descriptors() []Descriptor
}

// Descriptor is a discovered GATT descriptor.
type Descriptor interface {
	UUID() uuid.UUID
	Value() []byte
}

// ServiceData is one service-data advertisement entry.
type ServiceData struct {
	UUID uuid.UUID
	Data []byte
}

// Advertisement is the raw advertisement payload of a discovery.
type Advertisement struct {
	LocalName        *string
	ManufacturerData []byte
	ServiceData      []ServiceData
	ServiceUUIDs     []uuid.UUID
	OverflowUUIDs    []uuid.UUID
	SolicitedUUIDs   []uuid.UUID
	TxPowerLevel     *int
	Connectable      *bool
}

// CentralDelegate receives manager callbacks.
type CentralDelegate interface {
	DidUpdateState(state int)
	DidDiscoverPeripheral(p Peripheral, adv Advertisement, rssi int)
	DidConnectPeripheral(p Peripheral)
	DidFailToConnectPeripheral(p Peripheral, err error)
	DidDisconnectPeripheral(p Peripheral, err error)
}

// PeripheralDelegate receives per-peripheral callbacks.
type PeripheralDelegate interface {
	DidDiscoverServices(p Peripheral, err error)
	DidDiscoverIncludedServices(p Peripheral, svc Service, err error)
	DidDiscoverCharacteristics(p Peripheral, svc Service, err error)
	DidDiscoverDescriptors(p Peripheral, chr Characteristic, err error)
	DidUpdateValueForCharacteristic(p Peripheral, chr Characteristic, err error)
	DidUpdateValueForDescriptor(p Peripheral, dsc Descriptor, err error)
	DidWriteValueForCharacteristic(p Peripheral, chr Characteristic, err error)
	DidWriteValueForDescriptor(p Peripheral, dsc Descriptor, err error)
	DidUpdateNotificationState(p Peripheral, chr Characteristic, err error)
	DidReadRSSI(p Peripheral, rssi int, err error)
	DidUpdateName(p Peripheral)
	DidModifyServices(p Peripheral, invalidated []Service)
	IsReadyToSendWriteWithoutResponse(p Peripheral)
}

// Error is a platform error carrying its native domain and code.
type Error struct {
	Domain      string
	Code        int
	Description string
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s code %d: %s", e.Domain, e.Code, e.Description)
	}
	return fmt.Sprintf("%s code %d", e.Domain, e.Code)
}
