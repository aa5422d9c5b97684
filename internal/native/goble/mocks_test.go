package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/stretchr/testify/mock"
)

// ----------------------------
// go-ble mocks
// ----------------------------

type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h func(Advertisement)) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, addr ble.Addr) (Client, error) {
	args := m.Called(ctx, addr)
	cln, _ := args.Get(0).(Client)
	return cln, args.Error(1)
}

func (m *MockDevice) Stop() error {
	args := m.Called()
	return args.Error(0)
}

type MockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func NewMockClient() *MockClient {
	return &MockClient{disconnected: make(chan struct{})}
}

func (m *MockClient) Disconnected() <-chan struct{} { return m.disconnected }

func (m *MockClient) Addr() ble.Addr {
	args := m.Called()
	addr, _ := args.Get(0).(ble.Addr)
	return addr
}

func (m *MockClient) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *MockClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	args := m.Called(filter, s)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	args := m.Called(d, v)
	return args.Error(0)
}

func (m *MockClient) ReadRSSI() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

type fakeAddr string

func (a fakeAddr) String() string { return string(a) }

type fakeAdvertisement struct {
	name     string
	addr     string
	rssi     int
	services []ble.UUID
	svcData  []ble.ServiceData
	mfg      []byte
	tx       int
}

func (a fakeAdvertisement) LocalName() string              { return a.name }
func (a fakeAdvertisement) ManufacturerData() []byte       { return a.mfg }
func (a fakeAdvertisement) ServiceData() []ble.ServiceData { return a.svcData }
func (a fakeAdvertisement) Services() []ble.UUID           { return a.services }
func (a fakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a fakeAdvertisement) TxPowerLevel() int              { return a.tx }
func (a fakeAdvertisement) Connectable() bool              { return true }
func (a fakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a fakeAdvertisement) RSSI() int                      { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr                 { return fakeAddr(a.addr) }

// ----------------------------
// Queue and delegate recorders
// ----------------------------

// testQueue is a serial queue with one worker goroutine.
type testQueue struct {
	units chan func()
	done  chan struct{}
}

func newTestQueue() *testQueue {
	q := &testQueue{units: make(chan func(), 1024), done: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-q.units:
				fn()
			case <-q.done:
				return
			}
		}
	}()
	return q
}

func (q *testQueue) Submit(_ string, fn func()) bool {
	select {
	case <-q.done:
		return false
	case q.units <- fn:
		return true
	}
}

func (q *testQueue) Do(name string, fn func()) bool {
	finished := make(chan struct{})
	if !q.Submit(name, func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-q.done:
		return false
	}
}

func (q *testQueue) close() { close(q.done) }

// call is one recorded delegate callback.
type call struct {
	name string
	p    native.Peripheral
	svc  native.Service
	chr  native.Characteristic
	dsc  native.Descriptor
	adv  native.Advertisement
	rssi int
	err  error
}

// recorder implements both delegates and forwards each callback on a channel.
type recorder struct {
	mu    sync.Mutex
	calls chan call
	state []int
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan call, 256)}
}

func (r *recorder) DidUpdateState(state int) {
	r.mu.Lock()
	r.state = append(r.state, state)
	r.mu.Unlock()
	r.calls <- call{name: "state", rssi: state}
}

func (r *recorder) DidDiscoverPeripheral(p native.Peripheral, adv native.Advertisement, rssi int) {
	r.calls <- call{name: "discovered", p: p, adv: adv, rssi: rssi}
}

func (r *recorder) DidConnectPeripheral(p native.Peripheral) {
	r.calls <- call{name: "connected", p: p}
}

func (r *recorder) DidFailToConnectPeripheral(p native.Peripheral, err error) {
	r.calls <- call{name: "connect-failed", p: p, err: err}
}

func (r *recorder) DidDisconnectPeripheral(p native.Peripheral, err error) {
	r.calls <- call{name: "disconnected", p: p, err: err}
}

func (r *recorder) DidDiscoverServices(p native.Peripheral, err error) {
	r.calls <- call{name: "services", p: p, err: err}
}

func (r *recorder) DidDiscoverIncludedServices(p native.Peripheral, svc native.Service, err error) {
	r.calls <- call{name: "included-services", p: p, svc: svc, err: err}
}

func (r *recorder) DidDiscoverCharacteristics(p native.Peripheral, svc native.Service, err error) {
	r.calls <- call{name: "characteristics", p: p, svc: svc, err: err}
}

func (r *recorder) DidDiscoverDescriptors(p native.Peripheral, chr native.Characteristic, err error) {
	r.calls <- call{name: "descriptors", p: p, chr: chr, err: err}
}

func (r *recorder) DidUpdateValueForCharacteristic(p native.Peripheral, chr native.Characteristic, err error) {
	r.calls <- call{name: "value", p: p, chr: chr, err: err}
}

func (r *recorder) DidUpdateValueForDescriptor(p native.Peripheral, dsc native.Descriptor, err error) {
	r.calls <- call{name: "descriptor-value", p: p, dsc: dsc, err: err}
}

func (r *recorder) DidWriteValueForCharacteristic(p native.Peripheral, chr native.Characteristic, err error) {
	r.calls <- call{name: "write", p: p, chr: chr, err: err}
}

func (r *recorder) DidWriteValueForDescriptor(p native.Peripheral, dsc native.Descriptor, err error) {
	r.calls <- call{name: "write-descriptor", p: p, dsc: dsc, err: err}
}

func (r *recorder) DidUpdateNotificationState(p native.Peripheral, chr native.Characteristic, err error) {
	r.calls <- call{name: "notify-state", p: p, chr: chr, err: err}
}

func (r *recorder) DidReadRSSI(p native.Peripheral, rssi int, err error) {
	r.calls <- call{name: "rssi", p: p, rssi: rssi, err: err}
}

func (r *recorder) DidUpdateName(p native.Peripheral) {
	r.calls <- call{name: "name", p: p}
}

func (r *recorder) DidModifyServices(p native.Peripheral, _ []native.Service) {
	r.calls <- call{name: "services-changed", p: p}
}

func (r *recorder) IsReadyToSendWriteWithoutResponse(p native.Peripheral) {
	r.calls <- call{name: "ready", p: p}
}

// bleUUID converts a short or canonical UUID string to go-ble's form.
func bleUUID(s string) ble.UUID {
	return toBLE(uuid.MustParse(s))
}
