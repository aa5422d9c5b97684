package central

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/eventchan"
)

// sink is the native delegate of a manager and of every peripheral it hands
// out. Each callback becomes exactly one Event. All methods run on the
// dispatcher.
type sink struct {
	b      *bridge
	logger *logrus.Logger
	tx     atomic.Pointer[eventchan.Sender[Event]]
}

var (
	_ native.CentralDelegate    = (*sink)(nil)
	_ native.PeripheralDelegate = (*sink)(nil)
)

func newSink(b *bridge, tx *eventchan.Sender[Event]) *sink {
	s := &sink{b: b, logger: b.logger}
	s.tx.Store(tx)
	return s
}

// send blocks until the receiver takes ev. After detach it is a no-op.
func (s *sink) send(ev Event) {
	tx := s.tx.Load()
	if tx == nil {
		s.logger.WithField("event", ev.Kind()).Debug("Sink: detached, event dropped")
		return
	}
	if !tx.Send(ev) {
		s.logger.WithField("event", ev.Kind()).Debug("Sink: receiver closed, event dropped")
	}
}

// detach drops the event producer. A Send blocked on a slow receiver returns.
func (s *sink) detach() {
	if tx := s.tx.Swap(nil); tx != nil {
		tx.Close()
	}
}

// nativeError maps a native callback error into the bleerror taxonomy.
func nativeError(err error) error {
	if err == nil {
		return nil
	}
	var ne *native.Error
	if errors.As(err, &ne) {
		return bleerror.FromNative(ne.Domain, ne.Code, ne.Description)
	}
	return bleerror.Wrap(err)
}

// ----------------------------
// Central callbacks
// ----------------------------

func (s *sink) DidUpdateState(raw int) {
	state := stateFromNative(raw)
	s.b.enterState(state)
	s.logger.WithField("state", state).Info("Central: manager state changed")
	s.send(ManagerStateChanged{NewState: state})
}

func (s *sink) DidDiscoverPeripheral(p native.Peripheral, adv native.Advertisement, rssi int) {
	p.SetDelegate(s)
	s.send(PeripheralDiscovered{
		Peripheral:        s.b.wrapPeripheral(p),
		AdvertisementData: newAdvertisementData(adv),
		RSSI:              rssi,
	})
}

func (s *sink) DidConnectPeripheral(p native.Peripheral) {
	s.b.links++
	s.b.connected[p.Identifier()] = s.b.links
	s.logger.WithField("peripheral", p.Identifier()).Info("Central: peripheral connected")
	s.send(PeripheralConnected{Peripheral: s.b.wrapPeripheral(p)})
}

func (s *sink) DidFailToConnectPeripheral(p native.Peripheral, err error) {
	s.logger.WithFields(logrus.Fields{
		"peripheral": p.Identifier(),
		"error":      err,
	}).Warn("Central: connection failed")
	s.send(PeripheralConnectFailed{Peripheral: s.b.wrapPeripheral(p), Err: nativeError(err)})
}

func (s *sink) DidDisconnectPeripheral(p native.Peripheral, err error) {
	delete(s.b.connected, p.Identifier())
	s.logger.WithFields(logrus.Fields{
		"peripheral": p.Identifier(),
		"error":      err,
	}).Info("Central: peripheral disconnected")
	s.send(PeripheralDisconnected{Peripheral: s.b.wrapPeripheral(p), Err: nativeError(err)})
}

// ----------------------------
// Peripheral callbacks
// ----------------------------

func (s *sink) DidDiscoverServices(p native.Peripheral, err error) {
	l := s.b.linkOf(p)
	ev := ServicesDiscovered{Peripheral: s.b.wrapPeripheral(p), Err: nativeError(err)}
	if err == nil {
		ev.Services = wrapServices(l, p.Services())
	}
	s.send(ev)
}

func (s *sink) DidDiscoverIncludedServices(p native.Peripheral, svc native.Service, err error) {
	l := s.b.linkOf(p)
	ev := IncludedServicesDiscovered{
		Peripheral: s.b.wrapPeripheral(p),
		Service:    wrapService(l, svc),
		Err:        nativeError(err),
	}
	if err == nil {
		ev.IncludedServices = wrapServices(l, svc.IncludedServices())
	}
	s.send(ev)
}

func (s *sink) DidDiscoverCharacteristics(p native.Peripheral, svc native.Service, err error) {
	l := s.b.linkOf(p)
	ev := CharacteristicsDiscovered{
		Peripheral: s.b.wrapPeripheral(p),
		Service:    wrapService(l, svc),
		Err:        nativeError(err),
	}
	if err == nil {
		ev.Characteristics = wrapCharacteristics(l, svc.Characteristics())
	}
	s.send(ev)
}

func (s *sink) DidDiscoverDescriptors(p native.Peripheral, chr native.Characteristic, err error) {
	l := s.b.linkOf(p)
	ev := DescriptorsDiscovered{
		Peripheral:     s.b.wrapPeripheral(p),
		Characteristic: wrapCharacteristic(l, chr),
		Err:            nativeError(err),
	}
	if err == nil {
		ev.Descriptors = wrapDescriptors(l, chr.Descriptors())
	}
	s.send(ev)
}

func (s *sink) DidUpdateValueForCharacteristic(p native.Peripheral, chr native.Characteristic, err error) {
	l := s.b.linkOf(p)
	ev := CharacteristicValue{
		Peripheral:     s.b.wrapPeripheral(p),
		Characteristic: wrapCharacteristic(l, chr),
		Err:            nativeError(err),
	}
	if err == nil {
		ev.Value = cloneBytes(chr.Value())
	}
	s.send(ev)
}

func (s *sink) DidUpdateValueForDescriptor(p native.Peripheral, dsc native.Descriptor, err error) {
	l := s.b.linkOf(p)
	ev := DescriptorValue{
		Peripheral: s.b.wrapPeripheral(p),
		Descriptor: wrapDescriptor(l, dsc),
		Err:        nativeError(err),
	}
	if err == nil {
		ev.Value = cloneBytes(dsc.Value())
	}
	s.send(ev)
}

func (s *sink) DidWriteValueForCharacteristic(p native.Peripheral, chr native.Characteristic, err error) {
	l := s.b.linkOf(p)
	s.send(WriteCharacteristicResult{
		Peripheral:     s.b.wrapPeripheral(p),
		Characteristic: wrapCharacteristic(l, chr),
		Err:            nativeError(err),
	})
}

func (s *sink) DidWriteValueForDescriptor(p native.Peripheral, dsc native.Descriptor, err error) {
	l := s.b.linkOf(p)
	s.send(WriteDescriptorResult{
		Peripheral: s.b.wrapPeripheral(p),
		Descriptor: wrapDescriptor(l, dsc),
		Err:        nativeError(err),
	})
}

func (s *sink) DidUpdateNotificationState(p native.Peripheral, chr native.Characteristic, err error) {
	l := s.b.linkOf(p)
	s.send(SubscriptionChanged{
		Peripheral:     s.b.wrapPeripheral(p),
		Characteristic: wrapCharacteristic(l, chr),
		Err:            nativeError(err),
	})
}

func (s *sink) DidReadRSSI(p native.Peripheral, rssi int, err error) {
	ev := ReadRSSIResult{Peripheral: s.b.wrapPeripheral(p), Err: nativeError(err)}
	if err == nil {
		ev.RSSI = rssi
	}
	s.send(ev)
}

func (s *sink) DidUpdateName(p native.Peripheral) {
	s.send(PeripheralNameChanged{Peripheral: s.b.wrapPeripheral(p), NewName: p.Name()})
}

func (s *sink) DidModifyServices(p native.Peripheral, invalidated []native.Service) {
	l := s.b.linkOf(p)
	s.send(ServicesChanged{
		Peripheral:          s.b.wrapPeripheral(p),
		Services:            wrapServices(l, p.Services()),
		InvalidatedServices: wrapServices(l, invalidated),
	})
}

func (s *sink) IsReadyToSendWriteWithoutResponse(p native.Peripheral) {
	s.send(PeripheralIsReadyToWriteWithoutResponse{Peripheral: s.b.wrapPeripheral(p)})
}
