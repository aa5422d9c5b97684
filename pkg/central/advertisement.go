package central

import (
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ServiceData maps a service UUID to its advertised payload. Keys are unique
// and keep the order in which they were advertised.
type ServiceData struct {
	m *orderedmap.OrderedMap[uuid.UUID, []byte]
}

func newServiceData(entries []native.ServiceData) ServiceData {
	m := orderedmap.New[uuid.UUID, []byte]()
	for _, e := range entries {
		m.Set(e.UUID, cloneBytes(e.Data))
	}
	return ServiceData{m: m}
}

// Get returns the payload for u.
func (sd ServiceData) Get(u uuid.UUID) ([]byte, bool) {
	if sd.m == nil {
		return nil, false
	}
	return sd.m.Get(u)
}

// Len is the number of entries.
func (sd ServiceData) Len() int {
	if sd.m == nil {
		return 0
	}
	return sd.m.Len()
}

// Keys lists the service UUIDs in advertisement order.
func (sd ServiceData) Keys() []uuid.UUID {
	keys := make([]uuid.UUID, 0, sd.Len())
	sd.All()(func(u uuid.UUID, _ []byte) bool {
		keys = append(keys, u)
		return true
	})
	return keys
}

// All iterates the entries in advertisement order.
func (sd ServiceData) All() func(yield func(uuid.UUID, []byte) bool) {
	return func(yield func(uuid.UUID, []byte) bool) {
		if sd.m == nil {
			return
		}
		for pair := sd.m.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// AdvertisementData is a snapshot of one advertisement/scan response.
type AdvertisementData struct {
	localName        *string
	manufacturerData []byte
	serviceData      ServiceData
	serviceUUIDs     []uuid.UUID
	overflowUUIDs    []uuid.UUID
	solicitedUUIDs   []uuid.UUID
	txPowerLevel     *int
	connectable      *bool
}

func newAdvertisementData(adv native.Advertisement) AdvertisementData {
	a := AdvertisementData{
		manufacturerData: cloneBytes(adv.ManufacturerData),
		serviceData:      newServiceData(adv.ServiceData),
		serviceUUIDs:     append([]uuid.UUID(nil), adv.ServiceUUIDs...),
		overflowUUIDs:    append([]uuid.UUID(nil), adv.OverflowUUIDs...),
		solicitedUUIDs:   append([]uuid.UUID(nil), adv.SolicitedUUIDs...),
	}
	if adv.LocalName != nil {
		name := *adv.LocalName
		a.localName = &name
	}
	if adv.TxPowerLevel != nil {
		tx := *adv.TxPowerLevel
		a.txPowerLevel = &tx
	}
	if adv.Connectable != nil {
		c := *adv.Connectable
		a.connectable = &c
	}
	return a
}

// IsConnectable reports the advertised connectable flag; known is false when
// the stack did not report one.
func (a AdvertisementData) IsConnectable() (connectable bool, known bool) {
	if a.connectable == nil {
		return false, false
	}
	return *a.connectable, true
}

func (a AdvertisementData) LocalName() (string, bool) {
	if a.localName == nil {
		return "", false
	}
	return *a.localName, true
}

// ManufacturerData returns the raw manufacturer specific data, company id
// included, or nil.
func (a AdvertisementData) ManufacturerData() []byte { return a.manufacturerData }

func (a AdvertisementData) ServiceData() ServiceData { return a.serviceData }

func (a AdvertisementData) ServiceUUIDs() []uuid.UUID { return a.serviceUUIDs }

func (a AdvertisementData) OverflowServiceUUIDs() []uuid.UUID { return a.overflowUUIDs }

func (a AdvertisementData) SolicitedServiceUUIDs() []uuid.UUID { return a.solicitedUUIDs }

func (a AdvertisementData) TxPowerLevel() (int, bool) {
	if a.txPowerLevel == nil {
		return 0, false
	}
	return *a.txPowerLevel, true
}

// HasService reports whether u is among the advertised or overflow services.
func (a AdvertisementData) HasService(u uuid.UUID) bool {
	for _, s := range a.serviceUUIDs {
		if s == u {
			return true
		}
	}
	for _, s := range a.overflowUUIDs {
		if s == u {
			return true
		}
	}
	return false
}
