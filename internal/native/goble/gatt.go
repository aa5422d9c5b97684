package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// go-ble keeps UUIDs little-endian.

func fromBLE(u ble.UUID) uuid.UUID {
	id, err := uuid.FromSlice(ble.Reverse(u))
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

func toBLE(u uuid.UUID) ble.UUID {
	return ble.UUID(ble.Reverse(u.Shorten()))
}

func toBLEList(in []uuid.UUID) []ble.UUID {
	if len(in) == 0 {
		return nil
	}
	out := make([]ble.UUID, 0, len(in))
	for _, u := range in {
		out = append(out, toBLE(u))
	}
	return out
}

func fromBLEList(in []ble.UUID) []uuid.UUID {
	if len(in) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(in))
	for _, u := range in {
		out = append(out, fromBLE(u))
	}
	return out
}

// The wrappers below are mutated on the bridge queue only.

type service struct {
	svc      *ble.Service
	primary  bool
	included []native.Service
	chars    []native.Characteristic
}

func (s *service) UUID() uuid.UUID                          { return fromBLE(s.svc.UUID) }
func (s *service) IsPrimary() bool                          { return s.primary }
func (s *service) Characteristics() []native.Characteristic { return s.chars }
func (s *service) IncludedServices() []native.Service       { return s.included }

type characteristic struct {
	chr   *ble.Characteristic
	value []byte
	descs []native.Descriptor
}

func (c *characteristic) UUID() uuid.UUID                  { return fromBLE(c.chr.UUID) }
func (c *characteristic) Properties() uint                 { return uint(c.chr.Property) }
func (c *characteristic) Value() []byte                    { return c.value }
func (c *characteristic) Descriptors() []native.Descriptor { return c.descs }
func (c *characteristic) indicateOnly() bool {
	return c.chr.Property&ble.CharIndicate != 0 && c.chr.Property&ble.CharNotify == 0
}

type descriptor struct {
	dsc   *ble.Descriptor
	value []byte
}

func (d *descriptor) UUID() uuid.UUID { return fromBLE(d.dsc.UUID) }
func (d *descriptor) Value() []byte   { return d.value }

// table keeps one wrapper per go-ble object so handles stay stable across
// rediscovery.
type table struct {
	services map[*ble.Service]*service
	chars    map[*ble.Characteristic]*characteristic
	descs    map[*ble.Descriptor]*descriptor
}

func newTable() *table {
	return &table{
		services: make(map[*ble.Service]*service),
		chars:    make(map[*ble.Characteristic]*characteristic),
		descs:    make(map[*ble.Descriptor]*descriptor),
	}
}

func (t *table) service(s *ble.Service, primary bool) *service {
	w, ok := t.services[s]
	if !ok {
		w = &service{svc: s, primary: primary}
		t.services[s] = w
	}
	return w
}

func (t *table) characteristic(c *ble.Characteristic) *characteristic {
	w, ok := t.chars[c]
	if !ok {
		w = &characteristic{chr: c, value: c.Value}
		t.chars[c] = w
	}
	return w
}

func (t *table) descriptor(d *ble.Descriptor) *descriptor {
	w, ok := t.descs[d]
	if !ok {
		w = &descriptor{dsc: d, value: d.Value}
		t.descs[d] = w
	}
	return w
}

func (t *table) wrapServices(in []*ble.Service, primary bool) []native.Service {
	out := make([]native.Service, 0, len(in))
	for _, s := range in {
		out = append(out, t.service(s, primary))
	}
	return out
}

func (t *table) wrapCharacteristics(in []*ble.Characteristic) []native.Characteristic {
	out := make([]native.Characteristic, 0, len(in))
	for _, c := range in {
		out = append(out, t.characteristic(c))
	}
	return out
}

func (t *table) wrapDescriptors(in []*ble.Descriptor) []native.Descriptor {
	out := make([]native.Descriptor, 0, len(in))
	for _, d := range in {
		out = append(out, t.descriptor(d))
	}
	return out
}

func toAdvertisement(a Advertisement) native.Advertisement {
	adv := native.Advertisement{
		ManufacturerData: a.ManufacturerData(),
		ServiceUUIDs:     fromBLEList(a.Services()),
		OverflowUUIDs:    fromBLEList(a.OverflowService()),
		SolicitedUUIDs:   fromBLEList(a.SolicitedService()),
	}
	if name := a.LocalName(); name != "" {
		adv.LocalName = &name
	}
	for _, sd := range a.ServiceData() {
		adv.ServiceData = append(adv.ServiceData, native.ServiceData{UUID: fromBLE(sd.UUID), Data: sd.Data})
	}
	// 127 means the level was not advertised.
	if tx := a.TxPowerLevel(); tx != 127 {
		adv.TxPowerLevel = &tx
	}
	connectable := a.Connectable()
	adv.Connectable = &connectable
	return adv
}

func hasAnyService(adv native.Advertisement, filter []uuid.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, got := range adv.ServiceUUIDs {
			if got == want {
				return true
			}
		}
		for _, got := range adv.OverflowUUIDs {
			if got == want {
				return true
			}
		}
	}
	return false
}
