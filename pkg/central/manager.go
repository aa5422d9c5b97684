package central

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/eventchan"
	"github.com/srg/blecentral/pkg/uuid"
)

// stacks holds the native backends compiled into this build, by name.
var (
	stacks       = map[string]native.Factory{}
	defaultStack string
)

func registerStack(name string, f native.Factory, isDefault bool) {
	stacks[name] = f
	if isDefault || defaultStack == "" {
		defaultStack = name
	}
}

// Backends lists the native backend names available in this build.
func Backends() []string {
	names := make([]string, 0, len(stacks))
	for name := range stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultBackend is the backend Build uses when none is chosen.
func DefaultBackend() string { return defaultStack }

// bridge is the state shared by a Manager, its sink and every handle it
// issued.
type bridge struct {
	logger *logrus.Logger
	queue  *dispatcher
	stack  native.Stack
	sink   *sink

	state atomic.Int32 // ManagerState, readable from any goroutine

	// Worker confined.
	epoch     uint64
	links     uint64               // connections established so far
	connected map[uuid.UUID]uint64 // peripheral -> generation of its current link
}

func (b *bridge) currentState() ManagerState {
	return ManagerState(b.state.Load())
}

// enterState updates the bookkeeping for a state transition. Leaving
// PoweredOn drops every connection; falling below PoweredOff also retires
// every handle issued so far.
func (b *bridge) enterState(s ManagerState) {
	if s.InvalidatesPeripherals() {
		b.epoch++
		clear(b.connected)
	} else if s != StatePoweredOn {
		clear(b.connected)
	}
	b.state.Store(int32(s))
}

func (b *bridge) wrapPeripheral(p native.Peripheral) Peripheral {
	return Peripheral{
		id:     p.Identifier(),
		name:   p.Name(),
		native: p,
		epoch:  b.epoch,
		b:      b,
	}
}

// current rejects handles issued before the last invalidation.
func (b *bridge) current(p Peripheral) error {
	if p.b != b || p.native == nil {
		return bleerror.New(bleerror.KindInvalidHandle, "peripheral handle does not belong to this manager")
	}
	if p.epoch != b.epoch {
		return bleerror.New(bleerror.KindInvalidHandle, "peripheral handle invalidated by a manager reset")
	}
	return nil
}

// validate is current plus the connected check GATT operations need.
func (b *bridge) validate(p Peripheral) error {
	if err := b.current(p); err != nil {
		return err
	}
	if _, ok := b.connected[p.id]; !ok {
		return bleerror.New(bleerror.KindNotConnected, "peripheral is not connected")
	}
	return nil
}

func (b *bridge) linkOf(p native.Peripheral) attrLink {
	id := p.Identifier()
	return attrLink{peripheral: id, gen: b.connected[id]}
}

// owns rejects attribute handles discovered on another peripheral or over an
// earlier connection to p. p must already be validated.
func (b *bridge) owns(p Peripheral, a attribute) error {
	if err := a.check(); err != nil {
		return err
	}
	l := a.origin()
	if l.peripheral != p.id {
		return bleerror.New(bleerror.KindInvalidHandle, "attribute handle belongs to peripheral "+l.peripheral.String())
	}
	if l.gen != b.connected[p.id] {
		return bleerror.New(bleerror.KindInvalidHandle, "attribute handle was discovered over an earlier connection")
	}
	return nil
}

// ----------------------------
// Builder
// ----------------------------

// Builder configures a Manager.
//
//	mgr, events, err := central.NewBuilder().
//	    WithLogger(logger).
//	    WithShowPowerAlert(true).
//	    Build()
type Builder struct {
	showPowerAlert bool
	logger         *logrus.Logger
	backend        string
	factory        native.Factory
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithShowPowerAlert asks the system to prompt the user when Bluetooth is
// off at creation time.
func (bb *Builder) WithShowPowerAlert(show bool) *Builder {
	bb.showPowerAlert = show
	return bb
}

func (bb *Builder) WithLogger(logger *logrus.Logger) *Builder {
	bb.logger = logger
	return bb
}

// WithBackend selects a registered backend by name; see Backends.
func (bb *Builder) WithBackend(name string) *Builder {
	bb.backend = name
	return bb
}

// WithStack overrides the native stack, e.g. with a simulated one in tests.
// It takes precedence over WithBackend.
func (bb *Builder) WithStack(f native.Factory) *Builder {
	bb.factory = f
	return bb
}

// Build creates the manager and its event stream. The stream ends after
// Manager.Close.
func (bb *Builder) Build() (*Manager, *eventchan.Receiver[Event], error) {
	logger := bb.logger
	if logger == nil {
		logger = logrus.New()
	}

	factory := bb.factory
	if factory == nil {
		name := bb.backend
		if name == "" {
			name = defaultStack
		}
		f, ok := stacks[name]
		if !ok {
			return nil, nil, fmt.Errorf("central: unknown backend %q (available: %v)", name, Backends())
		}
		factory = f
	}

	tx, rx := eventchan.New[Event]()
	b := &bridge{
		logger:    logger,
		queue:     newDispatcher(logger),
		connected: make(map[uuid.UUID]uint64),
	}
	b.sink = newSink(b, tx)

	var err error
	b.queue.Do("init", func() {
		var stack native.Stack
		stack, err = factory(b.queue, native.Options{
			ShowPowerAlert: bb.showPowerAlert,
			Logger:         logger,
		})
		if err != nil {
			return
		}
		b.stack = stack
		b.state.Store(int32(stateFromNative(stack.State())))
		stack.SetDelegate(b.sink)
	})
	if err != nil {
		b.sink.detach()
		b.queue.shutdown()
		rx.Close()
		return nil, nil, fmt.Errorf("central: create native stack: %w", err)
	}

	logger.WithField("state", b.currentState()).Debug("Central: manager created")
	m := &Manager{b: b}
	m.cleanup = runtime.AddCleanup(m, releaseBridge, b)
	return m, rx, nil
}

// ----------------------------
// Manager
// ----------------------------

// Manager is the central role facade. Every method only enqueues work and
// returns at once; outcomes arrive on the event stream returned by Build.
// Methods are safe for concurrent use. Work submitted from one goroutine runs
// in submission order.
//
// Close releases the manager. A Manager that becomes unreachable without
// Close is released by the garbage collector at some later point.
type Manager struct {
	b         *bridge
	closeOnce sync.Once
	cleanup   runtime.Cleanup
}

// State is the last state reported by the native stack.
func (m *Manager) State() ManagerState {
	return m.b.currentState()
}

// Scan starts discovery. It is ignored unless the manager is PoweredOn.
// Scanning again replaces the previous parameters.
func (m *Manager) Scan(opts ScanOptions) {
	b := m.b
	b.queue.Submit("scan", func() {
		if s := b.currentState(); s != StatePoweredOn {
			b.logger.WithField("state", s).Warn("Central: scan ignored, manager is not powered on")
			return
		}
		b.logger.WithFields(logrus.Fields{
			"services":   opts.Services,
			"duplicates": opts.AllowDuplicates,
		}).Debug("Central: scan started")
		b.stack.Scan(opts.Services, opts.native())
	})
}

// CancelScan stops discovery. Discoveries already in flight may still be
// delivered.
func (m *Manager) CancelScan() {
	b := m.b
	b.queue.Submit("cancel-scan", func() {
		b.stack.StopScan()
		b.logger.Debug("Central: scan stopped")
	})
}

func (m *Manager) Connect(p Peripheral) {
	m.ConnectWithOptions(p, ConnectOptions{})
}

// ConnectWithOptions connects to p. The outcome is PeripheralConnected or
// PeripheralConnectFailed. There is no timeout; use CancelConnect.
func (m *Manager) ConnectWithOptions(p Peripheral, opts ConnectOptions) {
	b := m.b
	b.queue.Submit("connect", func() {
		fail := func(err error) {
			b.logger.WithFields(logrus.Fields{
				"peripheral": p.id,
				"error":      err,
			}).Warn("Central: connect rejected")
			b.sink.send(PeripheralConnectFailed{Peripheral: p, Err: err})
		}
		if s := b.currentState(); s != StatePoweredOn {
			fail(bleerror.New(bleerror.KindConnectionFailed, "manager is "+s.String()+", not powered on"))
			return
		}
		if err := b.current(p); err != nil {
			fail(err)
			return
		}
		b.logger.WithField("peripheral", p.id).Debug("Central: connecting")
		b.stack.Connect(p.native, opts.native())
	})
}

// CancelConnect cancels a pending connection or disconnects p. A
// PeripheralDisconnected with a nil Err follows if p was connected.
func (m *Manager) CancelConnect(p Peripheral) {
	b := m.b
	b.queue.Submit("cancel-connect", func() {
		if err := b.current(p); err != nil {
			b.logger.WithFields(logrus.Fields{
				"peripheral": p.id,
				"error":      err,
			}).Warn("Central: cancel-connect ignored")
			return
		}
		b.stack.CancelConnect(p.native)
	})
}

// GetPeripherals looks up known peripherals by identifier; unknown ones are
// omitted. The result is a GetPeripheralsResult.
func (m *Manager) GetPeripherals(ids []uuid.UUID) {
	m.GetPeripheralsTagged(ids, nil)
}

func (m *Manager) GetPeripheralsTagged(ids []uuid.UUID, tag Tag) {
	b := m.b
	ids = append([]uuid.UUID(nil), ids...)
	b.queue.Submit("get-peripherals", func() {
		var out []Peripheral
		if b.currentState() == StatePoweredOn {
			out = b.retrieved(b.stack.RetrievePeripherals(ids))
		}
		b.sink.send(GetPeripheralsResult{Peripherals: out, Tag: tag})
	})
}

// GetPeripheralsWithServices lists peripherals connected to the system that
// expose any of services. The result is a GetPeripheralsWithServicesResult.
func (m *Manager) GetPeripheralsWithServices(services []uuid.UUID) {
	m.GetPeripheralsWithServicesTagged(services, nil)
}

func (m *Manager) GetPeripheralsWithServicesTagged(services []uuid.UUID, tag Tag) {
	b := m.b
	services = append([]uuid.UUID(nil), services...)
	b.queue.Submit("get-peripherals-with-services", func() {
		var out []Peripheral
		if b.currentState() == StatePoweredOn {
			out = b.retrieved(b.stack.RetrieveConnectedPeripherals(services))
		}
		b.sink.send(GetPeripheralsWithServicesResult{Peripherals: out, Tag: tag})
	})
}

func (b *bridge) retrieved(list []native.Peripheral) []Peripheral {
	out := make([]Peripheral, 0, len(list))
	for _, np := range list {
		np.SetDelegate(b.sink)
		out = append(out, b.wrapPeripheral(np))
	}
	return out
}

// Close stops event delivery, releases the native stack and stops the
// worker. The event stream ends. Close is idempotent; after it every
// operation is a no-op.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.cleanup.Stop()
		b := m.b
		b.sink.detach()
		b.queue.Do("cleanup", b.closeStack)
		b.queue.shutdown()
		b.logger.Debug("Central: manager closed")
	})
}

func (b *bridge) closeStack() {
	b.stack.SetDelegate(nil)
	b.stack.Close()
}

// releaseBridge tears down the bridge of a Manager collected without Close.
// It runs on the runtime's cleanup goroutine and must not block.
func releaseBridge(b *bridge) {
	b.logger.Warn("Central: manager released without Close")
	b.sink.detach()
	b.queue.Submit("cleanup", func() {
		b.closeStack()
		b.queue.shutdown()
	})
}
