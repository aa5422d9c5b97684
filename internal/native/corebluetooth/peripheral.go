//go:build darwin && cgo

package corebluetooth

import (
	"github.com/JuulLabs-OSS/cbgo"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// Peripheral wraps a CBPeripheral. Attribute wrappers are cached per
// CoreBluetooth object so handles stay stable across callbacks.
type Peripheral struct {
	cbgo.PeripheralDelegateBase

	s    *Stack
	prph cbgo.Peripheral
	id   uuid.UUID

	// Queue confined.
	delegate  native.PeripheralDelegate
	connected bool
	services  map[cbgo.Service]*service
	chars     map[cbgo.Characteristic]*characteristic
	descs     map[cbgo.Descriptor]*descriptor
}

var _ native.Peripheral = (*Peripheral)(nil)

func newPeripheral(s *Stack, id uuid.UUID, prph cbgo.Peripheral) *Peripheral {
	p := &Peripheral{s: s, prph: prph, id: id}
	p.forget()
	prph.SetDelegate(p)
	return p
}

// forget drops cached attribute wrappers; CoreBluetooth invalidates them
// on disconnect.
func (p *Peripheral) forget() {
	p.services = make(map[cbgo.Service]*service)
	p.chars = make(map[cbgo.Characteristic]*characteristic)
	p.descs = make(map[cbgo.Descriptor]*descriptor)
}

func (p *Peripheral) Identifier() uuid.UUID                   { return p.id }
func (p *Peripheral) Name() string                            { return p.prph.Name() }
func (p *Peripheral) SetDelegate(d native.PeripheralDelegate) { p.delegate = d }
func (p *Peripheral) Services() []native.Service              { return p.wrapServices(p.prph.Services()) }

func (p *Peripheral) DiscoverServices(filter []uuid.UUID) {
	p.prph.DiscoverServices(toCBList(filter))
}

func (p *Peripheral) DiscoverIncludedServices(filter []uuid.UUID, svc native.Service) {
	if s, ok := svc.(*service); ok {
		p.prph.DiscoverIncludedServices(toCBList(filter), s.svc)
	}
}

func (p *Peripheral) DiscoverCharacteristics(filter []uuid.UUID, svc native.Service) {
	if s, ok := svc.(*service); ok {
		p.prph.DiscoverCharacteristics(toCBList(filter), s.svc)
	}
}

func (p *Peripheral) DiscoverDescriptors(chr native.Characteristic) {
	if c, ok := chr.(*characteristic); ok {
		p.prph.DiscoverDescriptors(c.chr)
	}
}

func (p *Peripheral) ReadCharacteristic(chr native.Characteristic) {
	if c, ok := chr.(*characteristic); ok {
		p.prph.ReadCharacteristic(c.chr)
	}
}

func (p *Peripheral) ReadDescriptor(dsc native.Descriptor) {
	if d, ok := dsc.(*descriptor); ok {
		p.prph.ReadDescriptor(d.dsc)
	}
}

func (p *Peripheral) WriteCharacteristic(data []byte, chr native.Characteristic, withResponse bool) {
	if c, ok := chr.(*characteristic); ok {
		p.prph.WriteCharacteristic(data, c.chr, withResponse)
	}
}

func (p *Peripheral) WriteDescriptor(data []byte, dsc native.Descriptor) {
	if d, ok := dsc.(*descriptor); ok {
		p.prph.WriteDescriptor(data, d.dsc)
	}
}

func (p *Peripheral) SetNotify(enabled bool, chr native.Characteristic) {
	if c, ok := chr.(*characteristic); ok {
		p.prph.SetNotify(enabled, c.chr)
	}
}

func (p *Peripheral) ReadRSSI() { p.prph.ReadRSSI() }

func (p *Peripheral) MaximumWriteValueLength(withResponse bool) int {
	return p.prph.MaximumWriteValueLength(withResponse)
}

// ----------------------------
// cbgo.PeripheralDelegate
// ----------------------------

// deliver posts fn with the current delegate, if any.
func (p *Peripheral) deliver(name string, fn func(d native.PeripheralDelegate)) {
	p.s.post(name, func() {
		if p.delegate != nil {
			fn(p.delegate)
		}
	})
}

func (p *Peripheral) DidDiscoverServices(_ cbgo.Peripheral, err error) {
	nerr := nativeError(err)
	p.deliver("cb-services", func(d native.PeripheralDelegate) {
		d.DidDiscoverServices(p, nerr)
	})
}

func (p *Peripheral) DidDiscoverIncludedServices(_ cbgo.Peripheral, svc cbgo.Service, err error) {
	nerr := nativeError(err)
	p.deliver("cb-included-services", func(d native.PeripheralDelegate) {
		d.DidDiscoverIncludedServices(p, p.service(svc), nerr)
	})
}

func (p *Peripheral) DidDiscoverCharacteristics(_ cbgo.Peripheral, svc cbgo.Service, err error) {
	nerr := nativeError(err)
	p.deliver("cb-characteristics", func(d native.PeripheralDelegate) {
		d.DidDiscoverCharacteristics(p, p.service(svc), nerr)
	})
}

func (p *Peripheral) DidDiscoverDescriptors(_ cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	nerr := nativeError(err)
	p.deliver("cb-descriptors", func(d native.PeripheralDelegate) {
		d.DidDiscoverDescriptors(p, p.characteristic(chr), nerr)
	})
}

func (p *Peripheral) DidUpdateValueForCharacteristic(_ cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	nerr := nativeError(err)
	value := cloneBytes(chr.Value())
	p.deliver("cb-value", func(d native.PeripheralDelegate) {
		c := p.characteristic(chr)
		if nerr == nil {
			c.value = value
		}
		d.DidUpdateValueForCharacteristic(p, c, nerr)
	})
}

func (p *Peripheral) DidUpdateValueForDescriptor(_ cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	nerr := nativeError(err)
	value := cloneBytes(dsc.Value())
	p.deliver("cb-descriptor-value", func(d native.PeripheralDelegate) {
		w := p.descriptor(dsc)
		if nerr == nil {
			w.value = value
		}
		d.DidUpdateValueForDescriptor(p, w, nerr)
	})
}

func (p *Peripheral) DidWriteValueForCharacteristic(_ cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	nerr := nativeError(err)
	p.deliver("cb-write", func(d native.PeripheralDelegate) {
		d.DidWriteValueForCharacteristic(p, p.characteristic(chr), nerr)
	})
}

func (p *Peripheral) DidWriteValueForDescriptor(_ cbgo.Peripheral, dsc cbgo.Descriptor, err error) {
	nerr := nativeError(err)
	p.deliver("cb-write-descriptor", func(d native.PeripheralDelegate) {
		d.DidWriteValueForDescriptor(p, p.descriptor(dsc), nerr)
	})
}

func (p *Peripheral) DidUpdateNotificationState(_ cbgo.Peripheral, chr cbgo.Characteristic, err error) {
	nerr := nativeError(err)
	p.deliver("cb-notify-state", func(d native.PeripheralDelegate) {
		d.DidUpdateNotificationState(p, p.characteristic(chr), nerr)
	})
}

func (p *Peripheral) DidReadRSSI(_ cbgo.Peripheral, rssi int, err error) {
	nerr := nativeError(err)
	p.deliver("cb-rssi", func(d native.PeripheralDelegate) {
		d.DidReadRSSI(p, rssi, nerr)
	})
}

func (p *Peripheral) DidUpdateName(_ cbgo.Peripheral) {
	p.deliver("cb-name", func(d native.PeripheralDelegate) {
		d.DidUpdateName(p)
	})
}

func (p *Peripheral) DidModifyServices(_ cbgo.Peripheral, invalidated []cbgo.Service) {
	p.deliver("cb-services-changed", func(d native.PeripheralDelegate) {
		wrapped := p.wrapServices(invalidated)
		for _, svc := range invalidated {
			delete(p.services, svc)
		}
		d.DidModifyServices(p, wrapped)
	})
}

func (p *Peripheral) IsReadyToSendWriteWithoutResponse(_ cbgo.Peripheral) {
	p.deliver("cb-ready", func(d native.PeripheralDelegate) {
		d.IsReadyToSendWriteWithoutResponse(p)
	})
}
