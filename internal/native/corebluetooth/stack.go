//go:build darwin && cgo

package corebluetooth

import (
	"sync"
	"sync/atomic"

	"github.com/JuulLabs-OSS/cbgo"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// Stack is a native.Stack over a CBCentralManager.
type Stack struct {
	cbgo.CentralManagerDelegateBase

	q      native.Queue
	logger *logrus.Logger
	cm     cbgo.CentralManager

	// Queue confined.
	delegate    native.CentralDelegate
	peripherals map[uuid.UUID]*Peripheral

	closed    atomic.Bool
	closeOnce sync.Once
}

var _ native.Stack = (*Stack)(nil)

// New is a native.Factory. CoreBluetooth reports the initial state through
// CentralManagerDidUpdateState shortly after creation.
func New(q native.Queue, opts native.Options) (native.Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Stack{
		q:           q,
		logger:      logger,
		peripherals: make(map[uuid.UUID]*Peripheral),
	}
	s.cm = cbgo.NewCentralManager(&cbgo.ManagerOpts{ShowPowerAlert: opts.ShowPowerAlert})
	s.cm.SetDelegate(s)
	return s, nil
}

func (s *Stack) SetDelegate(d native.CentralDelegate) { s.delegate = d }
func (s *Stack) State() int                           { return int(s.cm.State()) }

func (s *Stack) Scan(services []uuid.UUID, opts native.ScanOptions) {
	s.cm.Scan(toCBList(services), &cbgo.CentralManagerScanOpts{
		AllowDuplicates:       opts.AllowDuplicates,
		SolicitedServiceUUIDs: toCBList(opts.SolicitedServices),
	})
}

func (s *Stack) StopScan() { s.cm.StopScan() }

func (s *Stack) Connect(p native.Peripheral, opts native.ConnectOptions) {
	cp, ok := p.(*Peripheral)
	if !ok {
		return
	}
	s.cm.Connect(cp.prph, &cbgo.CentralManagerConnectOpts{
		NotifyOnConnection:    opts.NotifyOnConnection,
		NotifyOnDisconnection: opts.NotifyOnDisconnection,
		NotifyOnNotification:  opts.NotifyOnNotification,
		StartDelay:            opts.StartDelaySeconds,
	})
}

func (s *Stack) CancelConnect(p native.Peripheral) {
	if cp, ok := p.(*Peripheral); ok {
		s.cm.CancelConnect(cp.prph)
	}
}

func (s *Stack) RetrievePeripherals(ids []uuid.UUID) []native.Peripheral {
	return s.wrapPeripherals(s.cm.RetrievePeripheralsWithIdentifiers(toCBList(ids)))
}

func (s *Stack) RetrieveConnectedPeripherals(services []uuid.UUID) []native.Peripheral {
	return s.wrapPeripherals(s.cm.RetrieveConnectedPeripheralsWithServices(toCBList(services)))
}

// Close stops scanning and drops every connection this stack opened.
// CoreBluetooth keeps calling the registered delegates, so callbacks are
// muted rather than unregistered.
func (s *Stack) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.delegate = nil
		s.cm.StopScan()
		for _, p := range s.peripherals {
			if p.connected {
				s.cm.CancelConnect(p.prph)
			}
			p.delegate = nil
		}
	})
}

// post runs fn on the bridge queue unless the stack is closed.
func (s *Stack) post(name string, fn func()) {
	if s.closed.Load() {
		return
	}
	s.q.Submit(name, func() {
		if !s.closed.Load() {
			fn()
		}
	})
}

// peripheral returns the wrapper for prph, registering it on first sight.
// Queue confined.
func (s *Stack) peripheral(prph cbgo.Peripheral) *Peripheral {
	id := parseUUID(prph.Identifier().String())
	if p, ok := s.peripherals[id]; ok {
		return p
	}
	p := newPeripheral(s, id, prph)
	s.peripherals[id] = p
	return p
}

func (s *Stack) wrapPeripherals(in []cbgo.Peripheral) []native.Peripheral {
	out := make([]native.Peripheral, 0, len(in))
	for _, prph := range in {
		out = append(out, s.peripheral(prph))
	}
	return out
}

// ----------------------------
// cbgo.CentralManagerDelegate
// ----------------------------

func (s *Stack) CentralManagerDidUpdateState(cmgr cbgo.CentralManager) {
	state := int(cmgr.State())
	s.logger.WithField("state", state).Debug("corebluetooth: manager state changed")
	s.post("cb-update-state", func() {
		if s.delegate != nil {
			s.delegate.DidUpdateState(state)
		}
	})
}

func (s *Stack) DidDiscoverPeripheral(_ cbgo.CentralManager, prph cbgo.Peripheral, f cbgo.AdvFields, rssi int) {
	adv := toAdvertisement(f)
	s.post("cb-discovered", func() {
		if s.delegate != nil {
			s.delegate.DidDiscoverPeripheral(s.peripheral(prph), adv, rssi)
		}
	})
}

func (s *Stack) DidConnectPeripheral(_ cbgo.CentralManager, prph cbgo.Peripheral) {
	s.post("cb-connected", func() {
		p := s.peripheral(prph)
		p.connected = true
		if s.delegate != nil {
			s.delegate.DidConnectPeripheral(p)
		}
	})
}

func (s *Stack) DidFailToConnectPeripheral(_ cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	nerr := nativeError(err)
	s.post("cb-connect-failed", func() {
		p := s.peripheral(prph)
		p.connected = false
		if s.delegate != nil {
			s.delegate.DidFailToConnectPeripheral(p, nerr)
		}
	})
}

func (s *Stack) DidDisconnectPeripheral(_ cbgo.CentralManager, prph cbgo.Peripheral, err error) {
	nerr := nativeError(err)
	s.post("cb-disconnected", func() {
		p := s.peripheral(prph)
		p.connected = false
		p.forget()
		if s.delegate != nil {
			s.delegate.DidDisconnectPeripheral(p, nerr)
		}
	})
}

// ----------------------------
// conversions
// ----------------------------

func toCB(u uuid.UUID) (cbgo.UUID, bool) {
	cu, err := cbgo.ParseUUID(u.ShortString())
	return cu, err == nil
}

func toCBList(in []uuid.UUID) []cbgo.UUID {
	if len(in) == 0 {
		return nil
	}
	out := make([]cbgo.UUID, 0, len(in))
	for _, u := range in {
		if cu, ok := toCB(u); ok {
			out = append(out, cu)
		}
	}
	return out
}

func fromCBList(in []cbgo.UUID) []uuid.UUID {
	if len(in) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(in))
	for _, u := range in {
		out = append(out, parseUUID(u.String()))
	}
	return out
}

func toAdvertisement(f cbgo.AdvFields) native.Advertisement {
	adv := native.Advertisement{
		ManufacturerData: cloneBytes(f.ManufacturerData),
		ServiceUUIDs:     fromCBList(f.ServiceUUIDs),
	}
	if f.LocalName != "" {
		name := f.LocalName
		adv.LocalName = &name
	}
	if f.TxPowerLevel != nil {
		tx := *f.TxPowerLevel
		adv.TxPowerLevel = &tx
	}
	if f.Connectable != nil {
		c := *f.Connectable
		adv.Connectable = &c
	}
	for _, sd := range f.ServiceData {
		adv.ServiceData = append(adv.ServiceData, native.ServiceData{
			UUID: parseUUID(sd.UUID.String()),
			Data: cloneBytes(sd.Data),
		})
	}
	return adv
}
