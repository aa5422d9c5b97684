package goble

import (
	"context"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	guuid "github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// Manager states, numbered as native.Stack.State reports them.
const (
	stateUnsupported = 2
	statePoweredOff  = 4
	statePoweredOn   = 5
)

// addrNamespace scopes identifiers derived from hardware addresses.
var addrNamespace = guuid.MustParse("6f1c2d7e-52a4-4c8f-9b0e-3d6a1e5b7c90")

// Stack is a native.Stack over a go-ble Device.
type Stack struct {
	q      native.Queue
	logger *logrus.Logger
	dev    Device
	state  int

	// Queue confined.
	delegate    native.CentralDelegate
	peripherals map[uuid.UUID]*Peripheral
	stopScan    context.CancelFunc
	scanID      uint64

	closeOnce sync.Once
}

var _ native.Stack = (*Stack)(nil)

// New is a native.Factory. A device that cannot be opened because the
// adapter is off yields a PoweredOff stack; any other failure yields an
// Unsupported one. Neither is an error: the state is reported to the
// delegate like on any other platform.
func New(q native.Queue, opts native.Options) (native.Stack, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	s := &Stack{
		q:           q,
		logger:      logger,
		state:       statePoweredOn,
		peripherals: make(map[uuid.UUID]*Peripheral),
	}

	dev, err := DeviceFactory()
	switch {
	case err == nil:
		s.dev = dev
	case isPoweredOff(err):
		s.state = statePoweredOff
		logger.WithField("error", err).Warn("go-ble: adapter is powered off")
	default:
		s.state = stateUnsupported
		logger.WithField("error", err).Error("go-ble: failed to open device")
	}
	return s, nil
}

func (s *Stack) SetDelegate(d native.CentralDelegate) {
	s.delegate = d
	if d == nil {
		return
	}
	state := s.state
	s.q.Submit("goble-update-state", func() {
		if s.delegate != nil {
			s.delegate.DidUpdateState(state)
		}
	})
}

func (s *Stack) State() int { return s.state }

// Scan replaces any running scan. go-ble cannot filter by service, so the
// filter is applied here.
func (s *Stack) Scan(services []uuid.UUID, opts native.ScanOptions) {
	if s.dev == nil {
		return
	}
	s.StopScan()

	ctx, cancel := context.WithCancel(context.Background())
	s.stopScan = cancel
	s.scanID++
	id := s.scanID
	filter := append([]uuid.UUID(nil), services...)

	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := s.dev.Scan(ctx, opts.AllowDuplicates, func(a Advertisement) {
			adv := toAdvertisement(a)
			if !hasAnyService(adv, filter) {
				return
			}
			addr := a.Addr()
			rssi := a.RSSI()
			// Do throttles the radio to the consumer.
			s.q.Do("goble-discovered", func() {
				if s.delegate == nil || s.scanID != id || ctx.Err() != nil {
					return
				}
				p := s.peripheral(addr)
				if adv.LocalName != nil {
					p.name = *adv.LocalName
				}
				s.delegate.DidDiscoverPeripheral(p, adv, rssi)
			})
		})
		if err != nil && ctx.Err() == nil {
			s.logger.WithField("error", NormalizeError(err)).Error("go-ble: scan failed")
		}
	})
}

func (s *Stack) StopScan() {
	if s.stopScan != nil {
		s.stopScan()
		s.stopScan = nil
	}
}

func (s *Stack) Connect(p native.Peripheral, opts native.ConnectOptions) {
	gp, ok := p.(*Peripheral)
	if !ok || s.dev == nil {
		return
	}
	gp.connect(opts)
}

func (s *Stack) CancelConnect(p native.Peripheral) {
	if gp, ok := p.(*Peripheral); ok {
		gp.cancel()
	}
}

// RetrievePeripherals returns the peripherals seen by this stack so far.
func (s *Stack) RetrievePeripherals(ids []uuid.UUID) []native.Peripheral {
	var out []native.Peripheral
	for _, id := range ids {
		if p, ok := s.peripherals[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// RetrieveConnectedPeripherals returns connected peripherals with any of
// services among their discovered services.
func (s *Stack) RetrieveConnectedPeripherals(services []uuid.UUID) []native.Peripheral {
	var out []native.Peripheral
	for _, p := range s.peripherals {
		if p.client != nil && p.hasService(services) {
			out = append(out, p)
		}
	}
	return out
}

func (s *Stack) Close() {
	s.closeOnce.Do(func() {
		s.StopScan()
		s.delegate = nil
		for _, p := range s.peripherals {
			p.shutdown()
		}
		if s.dev != nil {
			if err := s.dev.Stop(); err != nil {
				s.logger.WithField("error", err).Debug("go-ble: device stop failed")
			}
		}
	})
}

// peripheral returns the registered peripheral for addr, creating it on
// first sight.
func (s *Stack) peripheral(addr ble.Addr) *Peripheral {
	id := identifierFor(addr.String())
	p, ok := s.peripherals[id]
	if !ok {
		p = newPeripheral(s, id, addr)
		s.peripherals[id] = p
	}
	return p
}

// identifierFor maps an address to a stable identifier. CoreBluetooth
// addresses are already UUIDs; MAC addresses are hashed.
func identifierFor(addr string) uuid.UUID {
	if u, err := uuid.Parse(addr); err == nil {
		return u
	}
	return uuid.UUID(guuid.NewSHA1(addrNamespace, []byte(strings.ToLower(addr))))
}
