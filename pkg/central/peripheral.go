package central

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// GATT operations. Each one enqueues and returns; the outcome is the result
// event named in its doc. On a handle that is stale or not connected the
// result event carries the rejection instead. A zero Peripheral has no
// manager to report to and is ignored.

// run validates p and attr on the worker, then calls fn with the native
// peripheral, or reject with the reason. attr may be nil.
func (p Peripheral) run(name string, attr attribute, reject func(error), fn func(np native.Peripheral)) {
	b := p.b
	if b == nil {
		return
	}
	b.queue.Submit(name, func() {
		err := b.validate(p)
		if err == nil && attr != nil {
			err = b.owns(p, attr)
		}
		if err != nil {
			b.logger.WithFields(logrus.Fields{
				"op":         name,
				"peripheral": p.id,
				"error":      err,
			}).Warn("Peripheral: operation rejected")
			if reject != nil {
				reject(err)
			}
			return
		}
		b.logger.WithFields(logrus.Fields{
			"op":         name,
			"peripheral": p.id,
		}).Debug("Peripheral: dispatch")
		fn(p.native)
	})
}

func (p Peripheral) emit(ev Event) { p.b.sink.send(ev) }

// DiscoverServices discovers every service. Result: ServicesDiscovered.
func (p Peripheral) DiscoverServices() {
	p.DiscoverServicesWithUUIDs(nil)
}

// DiscoverServicesWithUUIDs discovers the listed services only.
func (p Peripheral) DiscoverServicesWithUUIDs(services []uuid.UUID) {
	services = append([]uuid.UUID(nil), services...)
	p.run("discover-services", nil,
		func(err error) { p.emit(ServicesDiscovered{Peripheral: p, Err: err}) },
		func(n native.Peripheral) { n.DiscoverServices(services) })
}

// DiscoverIncludedServices discovers the services included by svc.
// Result: IncludedServicesDiscovered.
func (p Peripheral) DiscoverIncludedServices(svc Service) {
	p.DiscoverIncludedServicesWithUUIDs(svc, nil)
}

func (p Peripheral) DiscoverIncludedServicesWithUUIDs(svc Service, services []uuid.UUID) {
	services = append([]uuid.UUID(nil), services...)
	p.run("discover-included-services", svc,
		func(err error) { p.emit(IncludedServicesDiscovered{Peripheral: p, Service: svc, Err: err}) },
		func(n native.Peripheral) { n.DiscoverIncludedServices(services, svc.native) })
}

// DiscoverCharacteristics discovers every characteristic of svc.
// Result: CharacteristicsDiscovered.
func (p Peripheral) DiscoverCharacteristics(svc Service) {
	p.DiscoverCharacteristicsWithUUIDs(svc, nil)
}

func (p Peripheral) DiscoverCharacteristicsWithUUIDs(svc Service, characteristics []uuid.UUID) {
	characteristics = append([]uuid.UUID(nil), characteristics...)
	p.run("discover-characteristics", svc,
		func(err error) { p.emit(CharacteristicsDiscovered{Peripheral: p, Service: svc, Err: err}) },
		func(n native.Peripheral) { n.DiscoverCharacteristics(characteristics, svc.native) })
}

// DiscoverDescriptors discovers the descriptors of chr.
// Result: DescriptorsDiscovered.
func (p Peripheral) DiscoverDescriptors(chr Characteristic) {
	p.run("discover-descriptors", chr,
		func(err error) { p.emit(DescriptorsDiscovered{Peripheral: p, Characteristic: chr, Err: err}) },
		func(n native.Peripheral) { n.DiscoverDescriptors(chr.native) })
}

// ReadCharacteristic reads chr. Result: CharacteristicValue.
func (p Peripheral) ReadCharacteristic(chr Characteristic) {
	p.run("read-characteristic", chr,
		func(err error) { p.emit(CharacteristicValue{Peripheral: p, Characteristic: chr, Err: err}) },
		func(n native.Peripheral) { n.ReadCharacteristic(chr.native) })
}

// ReadDescriptor reads dsc. Result: DescriptorValue.
func (p Peripheral) ReadDescriptor(dsc Descriptor) {
	p.run("read-descriptor", dsc,
		func(err error) { p.emit(DescriptorValue{Peripheral: p, Descriptor: dsc, Err: err}) },
		func(n native.Peripheral) { n.ReadDescriptor(dsc.native) })
}

// WriteCharacteristic writes data to chr. WithResponse yields a
// WriteCharacteristicResult; WithoutResponse yields nothing and a rejection is
// only logged. data is copied.
func (p Peripheral) WriteCharacteristic(chr Characteristic, data []byte, kind WriteKind) {
	data = cloneBytes(data)
	var reject func(error)
	if kind == WithResponse {
		reject = func(err error) {
			p.emit(WriteCharacteristicResult{Peripheral: p, Characteristic: chr, Err: err})
		}
	}
	p.run("write-characteristic", chr, reject,
		func(n native.Peripheral) { n.WriteCharacteristic(data, chr.native, kind == WithResponse) })
}

// WriteDescriptor writes data to dsc. Result: WriteDescriptorResult.
func (p Peripheral) WriteDescriptor(dsc Descriptor, data []byte) {
	data = cloneBytes(data)
	p.run("write-descriptor", dsc,
		func(err error) { p.emit(WriteDescriptorResult{Peripheral: p, Descriptor: dsc, Err: err}) },
		func(n native.Peripheral) { n.WriteDescriptor(data, dsc.native) })
}

// Subscribe enables notifications or indications on chr. Result:
// SubscriptionChanged, then a CharacteristicValue per notification.
func (p Peripheral) Subscribe(chr Characteristic) {
	p.setNotify("subscribe", chr, true)
}

// Unsubscribe disables notifications on chr. Result: SubscriptionChanged.
func (p Peripheral) Unsubscribe(chr Characteristic) {
	p.setNotify("unsubscribe", chr, false)
}

func (p Peripheral) setNotify(name string, chr Characteristic, enabled bool) {
	p.run(name, chr,
		func(err error) { p.emit(SubscriptionChanged{Peripheral: p, Characteristic: chr, Err: err}) },
		func(n native.Peripheral) { n.SetNotify(enabled, chr.native) })
}

// ReadRSSI reads the link RSSI. Result: ReadRSSIResult.
func (p Peripheral) ReadRSSI() {
	p.run("read-rssi", nil,
		func(err error) { p.emit(ReadRSSIResult{Peripheral: p, Err: err}) },
		func(n native.Peripheral) { n.ReadRSSI() })
}

// GetMaxWriteLen reports the largest single write for both write kinds.
// Result: GetMaxWriteLenResult.
func (p Peripheral) GetMaxWriteLen() {
	p.GetMaxWriteLenTagged(nil)
}

func (p Peripheral) GetMaxWriteLenTagged(tag Tag) {
	p.run("get-max-write-len", nil,
		func(err error) { p.emit(GetMaxWriteLenResult{Peripheral: p, Tag: tag, Err: err}) },
		func(n native.Peripheral) {
			mwl := MaxWriteLen{
				WithResponse:    n.MaximumWriteValueLength(true),
				WithoutResponse: n.MaximumWriteValueLength(false),
			}
			p.emit(GetMaxWriteLenResult{Peripheral: p, MaxWriteLen: mwl, Tag: tag})
		})
}
