package central

import "fmt"

// EventKind identifies the concrete type of an Event.
type EventKind int

const (
	EventManagerStateChanged EventKind = iota
	EventPeripheralDiscovered
	EventGetPeripheralsResult
	EventGetPeripheralsWithServicesResult
	EventPeripheralConnected
	EventPeripheralConnectFailed
	EventPeripheralDisconnected
	EventServicesDiscovered
	EventIncludedServicesDiscovered
	EventCharacteristicsDiscovered
	EventCharacteristicValue
	EventDescriptorsDiscovered
	EventDescriptorValue
	EventWriteCharacteristicResult
	EventWriteDescriptorResult
	EventSubscriptionChanged
	EventReadRSSIResult
	EventPeripheralNameChanged
	EventServicesChanged
	EventPeripheralIsReadyToWriteWithoutResponse
	EventGetMaxWriteLenResult
)

var eventKindNames = [...]string{
	"ManagerStateChanged",
	"PeripheralDiscovered",
	"GetPeripheralsResult",
	"GetPeripheralsWithServicesResult",
	"PeripheralConnected",
	"PeripheralConnectFailed",
	"PeripheralDisconnected",
	"ServicesDiscovered",
	"IncludedServicesDiscovered",
	"CharacteristicsDiscovered",
	"CharacteristicValue",
	"DescriptorsDiscovered",
	"DescriptorValue",
	"WriteCharacteristicResult",
	"WriteDescriptorResult",
	"SubscriptionChanged",
	"ReadRSSIResult",
	"PeripheralNameChanged",
	"ServicesChanged",
	"PeripheralIsReadyToWriteWithoutResponse",
	"GetMaxWriteLenResult",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one notification from the manager. The set of implementations is
// closed; switch on the concrete type:
//
//	for ev := range events.All() {
//	    switch ev := ev.(type) {
//	    case central.PeripheralDiscovered:
//	        mgr.Connect(ev.Peripheral)
//	    case central.PeripheralConnected:
//	        ev.Peripheral.DiscoverServices()
//	    }
//	}
//
// Fallible results carry Err; it is nil on success and a *bleerror.Error
// otherwise.
type Event interface {
	Kind() EventKind
	sealed()
}

type ManagerStateChanged struct {
	NewState ManagerState
}

type PeripheralDiscovered struct {
	Peripheral        Peripheral
	AdvertisementData AdvertisementData
	RSSI              int
}

type GetPeripheralsResult struct {
	Peripherals []Peripheral
	Tag         Tag
}

type GetPeripheralsWithServicesResult struct {
	Peripherals []Peripheral
	Tag         Tag
}

type PeripheralConnected struct {
	Peripheral Peripheral
}

type PeripheralConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// PeripheralDisconnected carries a nil Err for a disconnect the caller
// asked for.
type PeripheralDisconnected struct {
	Peripheral Peripheral
	Err        error
}

type ServicesDiscovered struct {
	Peripheral Peripheral
	Services   []Service
	Err        error
}

type IncludedServicesDiscovered struct {
	Peripheral       Peripheral
	Service          Service
	IncludedServices []Service
	Err              error
}

type CharacteristicsDiscovered struct {
	Peripheral      Peripheral
	Service         Service
	Characteristics []Characteristic
	Err             error
}

// CharacteristicValue is both a read result and a notification.
type CharacteristicValue struct {
	Peripheral     Peripheral
	Characteristic Characteristic
	Value          []byte
	Err            error
}

type DescriptorsDiscovered struct {
	Peripheral     Peripheral
	Characteristic Characteristic
	Descriptors    []Descriptor
	Err            error
}

type DescriptorValue struct {
	Peripheral Peripheral
	Descriptor Descriptor
	Value      []byte
	Err        error
}

type WriteCharacteristicResult struct {
	Peripheral     Peripheral
	Characteristic Characteristic
	Err            error
}

type WriteDescriptorResult struct {
	Peripheral Peripheral
	Descriptor Descriptor
	Err        error
}

// SubscriptionChanged reports the outcome of Subscribe or Unsubscribe.
type SubscriptionChanged struct {
	Peripheral     Peripheral
	Characteristic Characteristic
	Err            error
}

type ReadRSSIResult struct {
	Peripheral Peripheral
	RSSI       int
	Err        error
}

type PeripheralNameChanged struct {
	Peripheral Peripheral
	NewName    string
}

// ServicesChanged reports the peripheral's service table changed. Services
// is the remaining table; InvalidatedServices must be rediscovered.
type ServicesChanged struct {
	Peripheral          Peripheral
	Services            []Service
	InvalidatedServices []Service
}

type PeripheralIsReadyToWriteWithoutResponse struct {
	Peripheral Peripheral
}

type GetMaxWriteLenResult struct {
	Peripheral  Peripheral
	MaxWriteLen MaxWriteLen
	Tag         Tag
	Err         error
}

func (ManagerStateChanged) Kind() EventKind                     { return EventManagerStateChanged }
func (PeripheralDiscovered) Kind() EventKind                    { return EventPeripheralDiscovered }
func (GetPeripheralsResult) Kind() EventKind                    { return EventGetPeripheralsResult }
func (GetPeripheralsWithServicesResult) Kind() EventKind        { return EventGetPeripheralsWithServicesResult }
func (PeripheralConnected) Kind() EventKind                     { return EventPeripheralConnected }
func (PeripheralConnectFailed) Kind() EventKind                 { return EventPeripheralConnectFailed }
func (PeripheralDisconnected) Kind() EventKind                  { return EventPeripheralDisconnected }
func (ServicesDiscovered) Kind() EventKind                      { return EventServicesDiscovered }
func (IncludedServicesDiscovered) Kind() EventKind              { return EventIncludedServicesDiscovered }
func (CharacteristicsDiscovered) Kind() EventKind               { return EventCharacteristicsDiscovered }
func (CharacteristicValue) Kind() EventKind                     { return EventCharacteristicValue }
func (DescriptorsDiscovered) Kind() EventKind                   { return EventDescriptorsDiscovered }
func (DescriptorValue) Kind() EventKind                         { return EventDescriptorValue }
func (WriteCharacteristicResult) Kind() EventKind               { return EventWriteCharacteristicResult }
func (WriteDescriptorResult) Kind() EventKind                   { return EventWriteDescriptorResult }
func (SubscriptionChanged) Kind() EventKind                     { return EventSubscriptionChanged }
func (ReadRSSIResult) Kind() EventKind                          { return EventReadRSSIResult }
func (PeripheralNameChanged) Kind() EventKind                   { return EventPeripheralNameChanged }
func (ServicesChanged) Kind() EventKind                         { return EventServicesChanged }
func (GetMaxWriteLenResult) Kind() EventKind                    { return EventGetMaxWriteLenResult }
func (PeripheralIsReadyToWriteWithoutResponse) Kind() EventKind { return EventPeripheralIsReadyToWriteWithoutResponse }

func (ManagerStateChanged) sealed()                     {}
func (PeripheralDiscovered) sealed()                    {}
func (GetPeripheralsResult) sealed()                    {}
func (GetPeripheralsWithServicesResult) sealed()        {}
func (PeripheralConnected) sealed()                     {}
func (PeripheralConnectFailed) sealed()                 {}
func (PeripheralDisconnected) sealed()                  {}
func (ServicesDiscovered) sealed()                      {}
func (IncludedServicesDiscovered) sealed()              {}
func (CharacteristicsDiscovered) sealed()               {}
func (CharacteristicValue) sealed()                     {}
func (DescriptorsDiscovered) sealed()                   {}
func (DescriptorValue) sealed()                         {}
func (WriteCharacteristicResult) sealed()               {}
func (WriteDescriptorResult) sealed()                   {}
func (SubscriptionChanged) sealed()                     {}
func (ReadRSSIResult) sealed()                          {}
func (PeripheralNameChanged) sealed()                   {}
func (ServicesChanged) sealed()                         {}
func (PeripheralIsReadyToWriteWithoutResponse) sealed() {}
func (GetMaxWriteLenResult) sealed()                    {}

// PeripheralOf returns the peripheral an event concerns, if any.
func PeripheralOf(ev Event) (Peripheral, bool) {
	switch ev := ev.(type) {
	case PeripheralDiscovered:
		return ev.Peripheral, true
	case PeripheralConnected:
		return ev.Peripheral, true
	case PeripheralConnectFailed:
		return ev.Peripheral, true
	case PeripheralDisconnected:
		return ev.Peripheral, true
	case ServicesDiscovered:
		return ev.Peripheral, true
	case IncludedServicesDiscovered:
		return ev.Peripheral, true
	case CharacteristicsDiscovered:
		return ev.Peripheral, true
	case CharacteristicValue:
		return ev.Peripheral, true
	case DescriptorsDiscovered:
		return ev.Peripheral, true
	case DescriptorValue:
		return ev.Peripheral, true
	case WriteCharacteristicResult:
		return ev.Peripheral, true
	case WriteDescriptorResult:
		return ev.Peripheral, true
	case SubscriptionChanged:
		return ev.Peripheral, true
	case ReadRSSIResult:
		return ev.Peripheral, true
	case PeripheralNameChanged:
		return ev.Peripheral, true
	case ServicesChanged:
		return ev.Peripheral, true
	case PeripheralIsReadyToWriteWithoutResponse:
		return ev.Peripheral, true
	case GetMaxWriteLenResult:
		return ev.Peripheral, true
	}
	return Peripheral{}, false
}

// ErrOf returns the Err field of a fallible result, nil otherwise.
func ErrOf(ev Event) error {
	switch ev := ev.(type) {
	case PeripheralConnectFailed:
		return ev.Err
	case PeripheralDisconnected:
		return ev.Err
	case ServicesDiscovered:
		return ev.Err
	case IncludedServicesDiscovered:
		return ev.Err
	case CharacteristicsDiscovered:
		return ev.Err
	case CharacteristicValue:
		return ev.Err
	case DescriptorsDiscovered:
		return ev.Err
	case DescriptorValue:
		return ev.Err
	case WriteCharacteristicResult:
		return ev.Err
	case WriteDescriptorResult:
		return ev.Err
	case SubscriptionChanged:
		return ev.Err
	case ReadRSSIResult:
		return ev.Err
	case GetMaxWriteLenResult:
		return ev.Err
	}
	return nil
}
