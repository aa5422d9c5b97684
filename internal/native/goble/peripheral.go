package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
)

const (
	// opQueueSize bounds the GATT operations waiting for one peripheral.
	opQueueSize = 64

	defaultMTU = 23
	maxMTU     = 517
	attHeader  = 3
)

// Peripheral is a native.Peripheral backed by a go-ble Client. Fields are
// owned by the bridge queue; blocking client calls run on the operation
// goroutine started at connect.
type Peripheral struct {
	s      *Stack
	id     uuid.UUID
	addr   ble.Addr
	name   string
	logger *logrus.Entry

	delegate native.PeripheralDelegate
	gatt     *table
	services []native.Service
	mtu      int

	client      Client
	dialCancel  context.CancelFunc
	ops         chan func()
	opsDone     context.CancelFunc
	userCancel  bool
	subscribed  map[*ble.Characteristic]bool
	connections uint64
}

var _ native.Peripheral = (*Peripheral)(nil)

func newPeripheral(s *Stack, id uuid.UUID, addr ble.Addr) *Peripheral {
	return &Peripheral{
		s:          s,
		id:         id,
		addr:       addr,
		logger:     s.logger.WithField("peripheral", id),
		gatt:       newTable(),
		mtu:        defaultMTU,
		subscribed: make(map[*ble.Characteristic]bool),
	}
}

func (p *Peripheral) Identifier() uuid.UUID                   { return p.id }
func (p *Peripheral) Name() string                            { return p.name }
func (p *Peripheral) SetDelegate(d native.PeripheralDelegate) { p.delegate = d }
func (p *Peripheral) Services() []native.Service              { return p.services }

// post schedules fn on the bridge queue.
func (p *Peripheral) post(name string, fn func()) {
	p.s.q.Submit(name, fn)
}

// ----------------------------
// Connection lifecycle
// ----------------------------

func (p *Peripheral) connect(opts native.ConnectOptions) {
	if p.client != nil || p.dialCancel != nil {
		p.logger.Debug("go-ble: connect ignored, already connected or connecting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.dialCancel = cancel
	p.userCancel = false
	p.connections++
	attempt := p.connections
	delay := time.Duration(opts.StartDelaySeconds) * time.Second

	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
		var (
			cln Client
			err = ctx.Err()
		)
		if err == nil {
			cln, err = p.s.dev.Dial(ctx, p.addr)
		}
		p.post("goble-dial-result", func() {
			if p.connections != attempt {
				if cln != nil {
					_ = cln.CancelConnection()
				}
				return
			}
			p.dialCancel = nil
			cancel()
			if err != nil {
				if p.s.delegate != nil {
					p.s.delegate.DidFailToConnectPeripheral(p, NormalizeError(err))
				}
				return
			}
			p.attach(cln)
		})
	})
}

// attach starts the operation goroutine and the link monitor for cln.
func (p *Peripheral) attach(cln Client) {
	p.client = cln
	p.mtu = defaultMTU
	if name := cln.Name(); name != "" && p.name == "" {
		p.name = name
	}

	ctx, stop := context.WithCancel(context.Background())
	ops := make(chan func(), opQueueSize)
	p.ops = ops
	p.opsDone = stop
	attempt := p.connections

	groutine.Go(ctx, "goble-ops", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case op := <-ops:
				op()
			}
		}
	})

	if dn, ok := cln.(disconnectNotifier); ok {
		groutine.Go(ctx, "goble-link-monitor", func(ctx context.Context) {
			select {
			case <-dn.Disconnected():
				p.post("goble-disconnected", func() {
					if p.connections == attempt {
						p.detach(nil)
					}
				})
			case <-ctx.Done():
			}
		})
	} else {
		p.logger.Debug("go-ble: client does not report disconnection")
	}

	// Negotiate the MTU up front so MaximumWriteValueLength is meaningful.
	p.enqueue(func(cln Client) {
		mtu, err := cln.ExchangeMTU(maxMTU)
		p.post("goble-mtu", func() {
			if err == nil && mtu > 0 && p.client == cln {
				p.mtu = mtu
			}
		})
	})

	if p.s.delegate != nil {
		p.s.delegate.DidConnectPeripheral(p)
	}
}

// detach tears the link state down and reports the disconnect. A nil cause
// with no user request means the link dropped.
func (p *Peripheral) detach(cause error) {
	if p.client == nil {
		return
	}
	p.opsDone()
	p.client = nil
	p.ops = nil
	p.opsDone = nil
	clear(p.subscribed)

	if cause == nil && !p.userCancel {
		cause = bleerror.New(bleerror.KindPeripheralDisconnected, "link lost")
	}
	p.userCancel = false
	if p.s.delegate != nil {
		p.s.delegate.DidDisconnectPeripheral(p, cause)
	}
}

// cancel aborts a pending dial or disconnects.
func (p *Peripheral) cancel() {
	if p.dialCancel != nil {
		p.dialCancel()
		p.dialCancel = nil
		p.connections++
		if p.s.delegate != nil {
			p.s.delegate.DidFailToConnectPeripheral(p, bleerror.New(bleerror.KindOperationCancelled, "connection cancelled"))
		}
		return
	}
	if p.client == nil {
		return
	}
	p.userCancel = true
	cln := p.client
	attempt := p.connections
	groutine.Go(context.Background(), "goble-cancel-connection", func(context.Context) {
		err := cln.CancelConnection()
		p.post("goble-cancelled", func() {
			if p.connections != attempt {
				return
			}
			if err != nil {
				p.logger.WithField("error", err).Warn("go-ble: cancel connection failed")
			}
			p.detach(nil)
		})
	})
}

// shutdown drops the link without reporting it.
func (p *Peripheral) shutdown() {
	if p.dialCancel != nil {
		p.dialCancel()
		p.dialCancel = nil
	}
	p.connections++
	if p.client == nil {
		return
	}
	cln := p.client
	p.opsDone()
	p.client = nil
	p.ops = nil
	groutine.Go(context.Background(), "goble-shutdown", func(context.Context) {
		_ = cln.CancelConnection()
	})
}

func (p *Peripheral) hasService(filter []uuid.UUID) bool {
	for _, want := range filter {
		for _, svc := range p.services {
			if svc.UUID() == want {
				return true
			}
		}
	}
	return false
}

// ----------------------------
// GATT operations
// ----------------------------

// enqueue runs op on the operation goroutine. It reports false when there
// is no link or the queue is full.
func (p *Peripheral) enqueue(op func(cln Client)) bool {
	if p.client == nil {
		return false
	}
	cln := p.client
	select {
	case p.ops <- func() { op(cln) }:
		return true
	default:
		p.logger.Warn("go-ble: operation queue full, operation dropped")
		return false
	}
}

func errNotConnected() error {
	return bleerror.New(bleerror.KindNotConnected, "go-ble: no link")
}

func errBusy() error {
	return bleerror.New(bleerror.KindOther, "go-ble: operation queue full")
}

// rejected picks the error for an operation enqueue refused.
func (p *Peripheral) rejected() error {
	if p.client == nil {
		return errNotConnected()
	}
	return errBusy()
}

func (p *Peripheral) DiscoverServices(filter []uuid.UUID) {
	bf := toBLEList(filter)
	ok := p.enqueue(func(cln Client) {
		svcs, err := cln.DiscoverServices(bf)
		p.post("goble-services", func() {
			if err == nil {
				p.services = p.gatt.wrapServices(svcs, true)
			}
			if p.delegate != nil {
				p.delegate.DidDiscoverServices(p, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidDiscoverServices(p, p.rejected())
	}
}

func (p *Peripheral) DiscoverIncludedServices(filter []uuid.UUID, svc native.Service) {
	ws, _ := svc.(*service)
	if ws == nil {
		return
	}
	bf := toBLEList(filter)
	ok := p.enqueue(func(cln Client) {
		svcs, err := cln.DiscoverIncludedServices(bf, ws.svc)
		p.post("goble-included-services", func() {
			if err == nil {
				ws.included = p.gatt.wrapServices(svcs, false)
			}
			if p.delegate != nil {
				p.delegate.DidDiscoverIncludedServices(p, ws, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidDiscoverIncludedServices(p, ws, p.rejected())
	}
}

func (p *Peripheral) DiscoverCharacteristics(filter []uuid.UUID, svc native.Service) {
	ws, _ := svc.(*service)
	if ws == nil {
		return
	}
	bf := toBLEList(filter)
	ok := p.enqueue(func(cln Client) {
		chars, err := cln.DiscoverCharacteristics(bf, ws.svc)
		p.post("goble-characteristics", func() {
			if err == nil {
				ws.chars = p.gatt.wrapCharacteristics(chars)
			}
			if p.delegate != nil {
				p.delegate.DidDiscoverCharacteristics(p, ws, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidDiscoverCharacteristics(p, ws, p.rejected())
	}
}

func (p *Peripheral) DiscoverDescriptors(chr native.Characteristic) {
	wc, _ := chr.(*characteristic)
	if wc == nil {
		return
	}
	ok := p.enqueue(func(cln Client) {
		descs, err := cln.DiscoverDescriptors(nil, wc.chr)
		p.post("goble-descriptors", func() {
			if err == nil {
				wc.descs = p.gatt.wrapDescriptors(descs)
			}
			if p.delegate != nil {
				p.delegate.DidDiscoverDescriptors(p, wc, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidDiscoverDescriptors(p, wc, p.rejected())
	}
}

func (p *Peripheral) ReadCharacteristic(chr native.Characteristic) {
	wc, _ := chr.(*characteristic)
	if wc == nil {
		return
	}
	ok := p.enqueue(func(cln Client) {
		data, err := cln.ReadCharacteristic(wc.chr)
		p.post("goble-read-characteristic", func() {
			if err == nil {
				wc.value = data
			}
			if p.delegate != nil {
				p.delegate.DidUpdateValueForCharacteristic(p, wc, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidUpdateValueForCharacteristic(p, wc, p.rejected())
	}
}

func (p *Peripheral) ReadDescriptor(dsc native.Descriptor) {
	wd, _ := dsc.(*descriptor)
	if wd == nil {
		return
	}
	ok := p.enqueue(func(cln Client) {
		data, err := cln.ReadDescriptor(wd.dsc)
		p.post("goble-read-descriptor", func() {
			if err == nil {
				wd.value = data
			}
			if p.delegate != nil {
				p.delegate.DidUpdateValueForDescriptor(p, wd, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidUpdateValueForDescriptor(p, wd, p.rejected())
	}
}

func (p *Peripheral) WriteCharacteristic(data []byte, chr native.Characteristic, withResponse bool) {
	wc, _ := chr.(*characteristic)
	if wc == nil {
		return
	}
	ok := p.enqueue(func(cln Client) {
		err := cln.WriteCharacteristic(wc.chr, data, !withResponse)
		p.post("goble-write-characteristic", func() {
			if !withResponse {
				if err != nil {
					p.logger.WithField("error", err).Warn("go-ble: write without response failed")
				}
				return
			}
			if p.delegate != nil {
				p.delegate.DidWriteValueForCharacteristic(p, wc, NormalizeError(err))
			}
		})
	})
	if !ok && withResponse && p.delegate != nil {
		p.delegate.DidWriteValueForCharacteristic(p, wc, p.rejected())
	}
}

func (p *Peripheral) WriteDescriptor(data []byte, dsc native.Descriptor) {
	wd, _ := dsc.(*descriptor)
	if wd == nil {
		return
	}
	ok := p.enqueue(func(cln Client) {
		err := cln.WriteDescriptor(wd.dsc, data)
		p.post("goble-write-descriptor", func() {
			if p.delegate != nil {
				p.delegate.DidWriteValueForDescriptor(p, wd, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidWriteValueForDescriptor(p, wd, p.rejected())
	}
}

func (p *Peripheral) SetNotify(enabled bool, chr native.Characteristic) {
	wc, _ := chr.(*characteristic)
	if wc == nil {
		return
	}
	ind := wc.indicateOnly()
	ok := p.enqueue(func(cln Client) {
		var err error
		if enabled {
			err = cln.Subscribe(wc.chr, ind, func(data []byte) {
				value := append([]byte(nil), data...)
				// Do keeps a fast peripheral from outrunning the consumer.
				p.s.q.Do("goble-notification", func() {
					if p.client != cln || !p.subscribed[wc.chr] {
						return
					}
					wc.value = value
					if p.delegate != nil {
						p.delegate.DidUpdateValueForCharacteristic(p, wc, nil)
					}
				})
			})
		} else {
			err = cln.Unsubscribe(wc.chr, ind)
		}
		p.post("goble-notify-state", func() {
			if err == nil && p.client == cln {
				if enabled {
					p.subscribed[wc.chr] = true
				} else {
					delete(p.subscribed, wc.chr)
				}
			}
			if p.delegate != nil {
				p.delegate.DidUpdateNotificationState(p, wc, NormalizeError(err))
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidUpdateNotificationState(p, wc, p.rejected())
	}
}

func (p *Peripheral) ReadRSSI() {
	ok := p.enqueue(func(cln Client) {
		rssi := cln.ReadRSSI()
		p.post("goble-rssi", func() {
			if p.delegate != nil {
				p.delegate.DidReadRSSI(p, rssi, nil)
			}
		})
	})
	if !ok && p.delegate != nil {
		p.delegate.DidReadRSSI(p, 0, p.rejected())
	}
}

// MaximumWriteValueLength is the negotiated ATT MTU minus the ATT header,
// for both write kinds.
func (p *Peripheral) MaximumWriteValueLength(bool) int {
	return p.mtu - attHeader
}
