package testutils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
)

// Manager states as native stacks number them.
const (
	StateUnknown      = 0
	StateResetting    = 1
	StateUnsupported  = 2
	StateUnauthorized = 3
	StatePoweredOff   = 4
	StatePoweredOn    = 5
)

// SimStack is an in-memory native.Stack. It answers every request
// immediately, posting the callback through the queue like a real backend.
// The test goroutine drives radio-side events with SetState, Notify,
// DropLink and Rename.
//
//	sim := testutils.NewSimStack(hrm)
//	mgr, events, err := central.NewBuilder().WithStack(sim.Factory()).Build()
type SimStack struct {
	createErr error

	// Queue confined once the factory ran.
	q           native.Queue
	state       int
	delegate    native.CentralDelegate
	peripherals []*SimPeripheral
	closed      bool

	mu  sync.Mutex
	log []string
}

var _ native.Stack = (*SimStack)(nil)

// NewSimStack creates a powered-on stack knowing peripherals.
func NewSimStack(peripherals ...*SimPeripheral) *SimStack {
	s := &SimStack{state: StatePoweredOn}
	for _, p := range peripherals {
		p.stack = s
		s.peripherals = append(s.peripherals, p)
	}
	return s
}

// WithInitialState sets the state reported at creation.
func (s *SimStack) WithInitialState(state int) *SimStack {
	s.state = state
	return s
}

// WithCreateError makes the factory fail.
func (s *SimStack) WithCreateError(err error) *SimStack {
	s.createErr = err
	return s
}

// Factory returns a native.Factory that binds this stack to the bridge
// queue.
func (s *SimStack) Factory() native.Factory {
	return func(q native.Queue, _ native.Options) (native.Stack, error) {
		if s.createErr != nil {
			return nil, s.createErr
		}
		s.q = q
		return s, nil
	}
}

// Calls returns the native requests received so far, e.g. "scan",
// "connect <id>", "read 2a37".
func (s *SimStack) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Called reports whether a request with the given prefix was received.
func (s *SimStack) Called(prefix string) bool {
	for _, c := range s.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (s *SimStack) record(format string, args ...any) {
	s.mu.Lock()
	s.log = append(s.log, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// post runs fn on the queue unless the stack was closed in between.
func (s *SimStack) post(name string, fn func()) {
	s.q.Submit("sim-"+name, func() {
		if !s.closed {
			fn()
		}
	})
}

// ----------------------------
// native.Stack
// ----------------------------

func (s *SimStack) SetDelegate(d native.CentralDelegate) {
	s.delegate = d
	if d == nil {
		return
	}
	state := s.state
	s.post("update-state", func() {
		if s.delegate != nil {
			s.delegate.DidUpdateState(state)
		}
	})
}

func (s *SimStack) State() int { return s.state }

// Scan reports every known peripheral advertising any of services, once.
func (s *SimStack) Scan(services []uuid.UUID, opts native.ScanOptions) {
	s.record("scan %d", len(services))
	for _, p := range s.peripherals {
		if !p.advertises(services) {
			continue
		}
		p := p
		adv := p.advertisement()
		s.post("discovered", func() {
			if s.delegate != nil {
				s.delegate.DidDiscoverPeripheral(p, adv, p.rssi)
			}
		})
	}
}

func (s *SimStack) StopScan() { s.record("stop-scan") }

func (s *SimStack) Connect(np native.Peripheral, _ native.ConnectOptions) {
	p := np.(*SimPeripheral)
	s.record("connect %s", p.id)
	switch {
	case p.connectErr != nil:
		err := p.connectErr
		s.post("connect-failed", func() {
			if s.delegate != nil {
				s.delegate.DidFailToConnectPeripheral(p, err)
			}
		})
	case p.pendingConnect:
		p.pending = true
	default:
		s.post("connected", func() {
			p.connected = true
			if s.delegate != nil {
				s.delegate.DidConnectPeripheral(p)
			}
		})
	}
}

func (s *SimStack) CancelConnect(np native.Peripheral) {
	p := np.(*SimPeripheral)
	s.record("cancel-connect %s", p.id)
	switch {
	case p.pending:
		p.pending = false
		s.post("connect-cancelled", func() {
			if s.delegate != nil {
				s.delegate.DidFailToConnectPeripheral(p, cbError(bleerror.KindOperationCancelled, "connection cancelled"))
			}
		})
	case p.connected:
		s.post("disconnected", func() {
			p.drop()
			if s.delegate != nil {
				s.delegate.DidDisconnectPeripheral(p, nil)
			}
		})
	}
}

func (s *SimStack) RetrievePeripherals(ids []uuid.UUID) []native.Peripheral {
	s.record("retrieve %d", len(ids))
	var out []native.Peripheral
	for _, id := range ids {
		for _, p := range s.peripherals {
			if p.id == id {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *SimStack) RetrieveConnectedPeripherals(services []uuid.UUID) []native.Peripheral {
	s.record("retrieve-connected %d", len(services))
	var out []native.Peripheral
	for _, p := range s.peripherals {
		if p.connected && p.hasService(services) {
			out = append(out, p)
		}
	}
	return out
}

func (s *SimStack) Close() {
	s.record("close")
	s.closed = true
	s.delegate = nil
}

// ----------------------------
// Radio-side events
// ----------------------------

// SetState changes the manager state. Leaving PoweredOn drops every link
// without a disconnect callback, as the system does.
func (s *SimStack) SetState(state int) {
	s.post("set-state", func() {
		s.state = state
		if state != StatePoweredOn {
			for _, p := range s.peripherals {
				p.drop()
			}
		}
		if s.delegate != nil {
			s.delegate.DidUpdateState(state)
		}
	})
}

// DropLink disconnects p as if the link was lost.
func (s *SimStack) DropLink(p *SimPeripheral) {
	s.post("link-lost", func() {
		if !p.connected {
			return
		}
		p.drop()
		if s.delegate != nil {
			s.delegate.DidDisconnectPeripheral(p, cbError(bleerror.KindPeripheralDisconnected, "link lost"))
		}
	})
}

// Notify pushes a notification for characteristic chr of p. It is dropped
// unless the characteristic is subscribed.
func (s *SimStack) Notify(p *SimPeripheral, chr string, value []byte) {
	id := mustUUID(chr)
	value = append([]byte(nil), value...)
	s.post("notify", func() {
		c := p.characteristic(id)
		if c == nil || !c.notifying || p.delegate == nil {
			return
		}
		c.value = value
		p.delegate.DidUpdateValueForCharacteristic(p, c, nil)
	})
}

// Rename changes the GAP name of p.
func (s *SimStack) Rename(p *SimPeripheral, name string) {
	s.post("rename", func() {
		p.name = name
		if p.delegate != nil {
			p.delegate.DidUpdateName(p)
		}
	})
}

// cbError builds the native error a CoreBluetooth stack would report.
func cbError(kind bleerror.Kind, msg string) error {
	return &native.Error{Domain: bleerror.DomainCB, Code: cbCode(kind), Description: msg}
}

func cbCode(kind bleerror.Kind) int {
	switch kind {
	case bleerror.KindNotConnected:
		return 3
	case bleerror.KindOperationCancelled:
		return 5
	case bleerror.KindPeripheralDisconnected:
		return 7
	default:
		return 0
	}
}

// attError builds an ATT protocol error with the wire code.
func attError(code int, msg string) error {
	return &native.Error{Domain: bleerror.DomainCBATT, Code: code, Description: msg}
}
