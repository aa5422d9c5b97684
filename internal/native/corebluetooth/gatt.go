//go:build darwin && cgo

package corebluetooth

import (
	"github.com/JuulLabs-OSS/cbgo"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// The wrappers read structure live from CoreBluetooth and cache only values
// delivered by callbacks. All of them are used on the bridge queue.

type service struct {
	p   *Peripheral
	svc cbgo.Service
}

func (s *service) UUID() uuid.UUID                          { return parseUUID(s.svc.UUID().String()) }
func (s *service) IsPrimary() bool                          { return s.svc.IsPrimary() }
func (s *service) Characteristics() []native.Characteristic { return s.p.wrapCharacteristics(s.svc.Characteristics()) }
func (s *service) IncludedServices() []native.Service       { return s.p.wrapServices(s.svc.IncludedServices()) }

type characteristic struct {
	p     *Peripheral
	chr   cbgo.Characteristic
	value []byte
}

func (c *characteristic) UUID() uuid.UUID                  { return parseUUID(c.chr.UUID().String()) }
func (c *characteristic) Properties() uint                 { return uint(c.chr.Properties()) }
func (c *characteristic) Value() []byte                    { return c.value }
func (c *characteristic) Descriptors() []native.Descriptor { return c.p.wrapDescriptors(c.chr.Descriptors()) }

type descriptor struct {
	dsc   cbgo.Descriptor
	value []byte
}

func (d *descriptor) UUID() uuid.UUID { return parseUUID(d.dsc.UUID().String()) }
func (d *descriptor) Value() []byte   { return d.value }

func (p *Peripheral) service(svc cbgo.Service) *service {
	w, ok := p.services[svc]
	if !ok {
		w = &service{p: p, svc: svc}
		p.services[svc] = w
	}
	return w
}

func (p *Peripheral) characteristic(chr cbgo.Characteristic) *characteristic {
	w, ok := p.chars[chr]
	if !ok {
		w = &characteristic{p: p, chr: chr}
		p.chars[chr] = w
	}
	return w
}

func (p *Peripheral) descriptor(dsc cbgo.Descriptor) *descriptor {
	w, ok := p.descs[dsc]
	if !ok {
		w = &descriptor{dsc: dsc}
		p.descs[dsc] = w
	}
	return w
}

func (p *Peripheral) wrapServices(in []cbgo.Service) []native.Service {
	out := make([]native.Service, 0, len(in))
	for _, svc := range in {
		out = append(out, p.service(svc))
	}
	return out
}

func (p *Peripheral) wrapCharacteristics(in []cbgo.Characteristic) []native.Characteristic {
	out := make([]native.Characteristic, 0, len(in))
	for _, chr := range in {
		out = append(out, p.characteristic(chr))
	}
	return out
}

func (p *Peripheral) wrapDescriptors(in []cbgo.Descriptor) []native.Descriptor {
	out := make([]native.Descriptor, 0, len(in))
	for _, dsc := range in {
		out = append(out, p.descriptor(dsc))
	}
	return out
}
