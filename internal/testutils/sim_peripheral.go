package testutils

import (
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
)

// ATT error codes the simulated peripheral answers with.
const (
	attReadNotPermitted  = 0x02
	attWriteNotPermitted = 0x03
	attRequestNotSupport = 0x06
)

const (
	propRead                 = 0x02
	propWriteWithoutResponse = 0x04
	propWrite                = 0x08
	propNotify               = 0x10
	propIndicate             = 0x20
)

// SimPeripheral is a simulated remote device built by PeripheralBuilder.
// Once attached to a stack its state is owned by the bridge queue.
type SimPeripheral struct {
	stack *SimStack

	id             uuid.UUID
	name           string
	rssi           int
	mtu            int
	adv            AdvertisementConfig
	connectErr     error
	pendingConnect bool

	delegate   native.PeripheralDelegate
	connected  bool
	pending    bool
	services   []*simService
	discovered []native.Service
}

var _ native.Peripheral = (*SimPeripheral)(nil)

func (p *SimPeripheral) Identifier() uuid.UUID                   { return p.id }
func (p *SimPeripheral) Name() string                            { return p.name }
func (p *SimPeripheral) SetDelegate(d native.PeripheralDelegate) { p.delegate = d }
func (p *SimPeripheral) Services() []native.Service              { return p.discovered }

// drop forgets the link and everything discovered over it.
func (p *SimPeripheral) drop() {
	p.connected = false
	p.pending = false
	p.discovered = nil
	for _, svc := range p.services {
		svc.discovered = nil
		svc.discoveredIncludes = nil
		for _, c := range svc.chars {
			c.notifying = false
			c.discoveredDescs = nil
		}
	}
}

func (p *SimPeripheral) advertises(filter []uuid.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, s := range p.adv.Services {
		id := mustUUID(s)
		for _, f := range filter {
			if id == f {
				return true
			}
		}
	}
	return false
}

func (p *SimPeripheral) hasService(filter []uuid.UUID) bool {
	for _, svc := range p.services {
		for _, f := range filter {
			if svc.id == f {
				return true
			}
		}
	}
	return false
}

func (p *SimPeripheral) advertisement() native.Advertisement {
	a := p.adv
	adv := native.Advertisement{
		ManufacturerData: append([]byte(nil), a.ManufacturerData...),
		TxPowerLevel:     a.TxPower,
		Connectable:      a.Connectable,
	}
	if a.LocalName != "" {
		name := a.LocalName
		adv.LocalName = &name
	}
	for _, s := range a.Services {
		adv.ServiceUUIDs = append(adv.ServiceUUIDs, mustUUID(s))
	}
	for s, data := range a.ServiceData {
		adv.ServiceData = append(adv.ServiceData, native.ServiceData{UUID: mustUUID(s), Data: data})
	}
	return adv
}

func (p *SimPeripheral) characteristic(id uuid.UUID) *simCharacteristic {
	for _, svc := range p.services {
		for _, c := range svc.chars {
			if c.id == id {
				return c
			}
		}
	}
	return nil
}

// respond posts a peripheral callback, or a NotConnected error through fail
// when there is no link.
func (p *SimPeripheral) respond(name string, fail func(error), ok func()) {
	s := p.stack
	s.post(name, func() {
		if p.delegate == nil {
			return
		}
		if !p.connected {
			fail(cbError(bleerror.KindNotConnected, "peripheral is not connected"))
			return
		}
		ok()
	})
}

func matches(filter []uuid.UUID, id uuid.UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == id {
			return true
		}
	}
	return false
}

// ----------------------------
// native.Peripheral
// ----------------------------

func (p *SimPeripheral) DiscoverServices(filter []uuid.UUID) {
	p.stack.record("discover-services %s", p.id)
	filter = append([]uuid.UUID(nil), filter...)
	p.respond("services",
		func(err error) { p.delegate.DidDiscoverServices(p, err) },
		func() {
			p.discovered = nil
			for _, svc := range p.services {
				if svc.primary && matches(filter, svc.id) {
					p.discovered = append(p.discovered, svc)
				}
			}
			p.delegate.DidDiscoverServices(p, nil)
		})
}

func (p *SimPeripheral) DiscoverIncludedServices(filter []uuid.UUID, ns native.Service) {
	svc := ns.(*simService)
	p.stack.record("discover-included-services %s", svc.id.ShortString())
	filter = append([]uuid.UUID(nil), filter...)
	p.respond("included-services",
		func(err error) { p.delegate.DidDiscoverIncludedServices(p, svc, err) },
		func() {
			svc.discoveredIncludes = nil
			for _, inc := range svc.includes {
				if matches(filter, inc.id) {
					svc.discoveredIncludes = append(svc.discoveredIncludes, inc)
				}
			}
			p.delegate.DidDiscoverIncludedServices(p, svc, nil)
		})
}

func (p *SimPeripheral) DiscoverCharacteristics(filter []uuid.UUID, ns native.Service) {
	svc := ns.(*simService)
	p.stack.record("discover-characteristics %s", svc.id.ShortString())
	filter = append([]uuid.UUID(nil), filter...)
	p.respond("characteristics",
		func(err error) { p.delegate.DidDiscoverCharacteristics(p, svc, err) },
		func() {
			svc.discovered = nil
			for _, c := range svc.chars {
				if matches(filter, c.id) {
					svc.discovered = append(svc.discovered, c)
				}
			}
			p.delegate.DidDiscoverCharacteristics(p, svc, nil)
		})
}

func (p *SimPeripheral) DiscoverDescriptors(nc native.Characteristic) {
	c := nc.(*simCharacteristic)
	p.stack.record("discover-descriptors %s", c.id.ShortString())
	p.respond("descriptors",
		func(err error) { p.delegate.DidDiscoverDescriptors(p, c, err) },
		func() {
			c.discoveredDescs = make([]native.Descriptor, 0, len(c.descs))
			for _, d := range c.descs {
				c.discoveredDescs = append(c.discoveredDescs, d)
			}
			p.delegate.DidDiscoverDescriptors(p, c, nil)
		})
}

func (p *SimPeripheral) ReadCharacteristic(nc native.Characteristic) {
	c := nc.(*simCharacteristic)
	p.stack.record("read %s", c.id.ShortString())
	p.respond("read",
		func(err error) { p.delegate.DidUpdateValueForCharacteristic(p, c, err) },
		func() {
			if c.props&propRead == 0 {
				p.delegate.DidUpdateValueForCharacteristic(p, c, attError(attReadNotPermitted, "read not permitted"))
				return
			}
			p.delegate.DidUpdateValueForCharacteristic(p, c, nil)
		})
}

func (p *SimPeripheral) ReadDescriptor(nd native.Descriptor) {
	d := nd.(*simDescriptor)
	p.stack.record("read-descriptor %s", d.id.ShortString())
	p.respond("read-descriptor",
		func(err error) { p.delegate.DidUpdateValueForDescriptor(p, d, err) },
		func() { p.delegate.DidUpdateValueForDescriptor(p, d, nil) })
}

func (p *SimPeripheral) WriteCharacteristic(data []byte, nc native.Characteristic, withResponse bool) {
	c := nc.(*simCharacteristic)
	p.stack.record("write %s %x %t", c.id.ShortString(), data, withResponse)
	data = append([]byte(nil), data...)

	if !withResponse {
		p.respond("write-without-response",
			func(error) {},
			func() {
				if c.props&propWriteWithoutResponse != 0 {
					c.value = data
				}
				p.delegate.IsReadyToSendWriteWithoutResponse(p)
			})
		return
	}
	p.respond("write",
		func(err error) { p.delegate.DidWriteValueForCharacteristic(p, c, err) },
		func() {
			if c.props&propWrite == 0 {
				p.delegate.DidWriteValueForCharacteristic(p, c, attError(attWriteNotPermitted, "write not permitted"))
				return
			}
			c.value = data
			p.delegate.DidWriteValueForCharacteristic(p, c, nil)
		})
}

func (p *SimPeripheral) WriteDescriptor(data []byte, nd native.Descriptor) {
	d := nd.(*simDescriptor)
	p.stack.record("write-descriptor %s %x", d.id.ShortString(), data)
	data = append([]byte(nil), data...)
	p.respond("write-descriptor",
		func(err error) { p.delegate.DidWriteValueForDescriptor(p, d, err) },
		func() {
			d.value = data
			p.delegate.DidWriteValueForDescriptor(p, d, nil)
		})
}

func (p *SimPeripheral) SetNotify(enabled bool, nc native.Characteristic) {
	c := nc.(*simCharacteristic)
	p.stack.record("notify %s %t", c.id.ShortString(), enabled)
	p.respond("notify-state",
		func(err error) { p.delegate.DidUpdateNotificationState(p, c, err) },
		func() {
			if c.props&(propNotify|propIndicate) == 0 {
				p.delegate.DidUpdateNotificationState(p, c, attError(attRequestNotSupport, "notifications not supported"))
				return
			}
			c.notifying = enabled
			p.delegate.DidUpdateNotificationState(p, c, nil)
		})
}

func (p *SimPeripheral) ReadRSSI() {
	p.stack.record("read-rssi %s", p.id)
	p.respond("rssi",
		func(err error) { p.delegate.DidReadRSSI(p, 0, err) },
		func() { p.delegate.DidReadRSSI(p, p.rssi, nil) })
}

func (p *SimPeripheral) MaximumWriteValueLength(withResponse bool) int {
	if withResponse {
		return 512
	}
	return p.mtu - 3
}

// ----------------------------
// GATT attributes
// ----------------------------

type simService struct {
	id                 uuid.UUID
	primary            bool
	chars              []*simCharacteristic
	includes           []*simService
	discovered         []native.Characteristic
	discoveredIncludes []native.Service
}

func (s *simService) UUID() uuid.UUID                          { return s.id }
func (s *simService) IsPrimary() bool                          { return s.primary }
func (s *simService) Characteristics() []native.Characteristic { return s.discovered }
func (s *simService) IncludedServices() []native.Service       { return s.discoveredIncludes }

type simCharacteristic struct {
	id              uuid.UUID
	props           uint
	value           []byte
	descs           []*simDescriptor
	discoveredDescs []native.Descriptor
	notifying       bool
}

func (c *simCharacteristic) UUID() uuid.UUID                  { return c.id }
func (c *simCharacteristic) Properties() uint                 { return c.props }
func (c *simCharacteristic) Value() []byte                    { return c.value }
func (c *simCharacteristic) Descriptors() []native.Descriptor { return c.discoveredDescs }

type simDescriptor struct {
	id    uuid.UUID
	value []byte
}

func (d *simDescriptor) UUID() uuid.UUID { return d.id }
func (d *simDescriptor) Value() []byte   { return d.value }
