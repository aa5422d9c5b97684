package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	heartRateService = "0000180d-0000-1000-8000-00805f9b34fb"
	heartRateMeasure = "00002a37-0000-1000-8000-00805f9b34fb"
	batteryService   = "0000180f-0000-1000-8000-00805f9b34fb"
	testAddress      = "AA:BB:CC:DD:EE:01"
)

// StackTestSuite drives the go-ble stack through mocked devices and clients.
type StackTestSuite struct {
	suite.Suite

	originalFactory func() (Device, error)
	device          *MockDevice
	q               *testQueue
	rec             *recorder
	stack           *Stack
}

func (s *StackTestSuite) SetupTest() {
	s.originalFactory = DeviceFactory
	s.device = &MockDevice{}
	DeviceFactory = func() (Device, error) { return s.device, nil }

	s.q = newTestQueue()
	s.rec = newRecorder()

	st, err := New(s.q, native.Options{})
	s.Require().NoError(err)
	s.stack = st.(*Stack)
	s.stack.SetDelegate(s.rec)
	s.Require().Equal(statePoweredOn, s.expect("state").rssi)
}

func (s *StackTestSuite) TearDownTest() {
	s.device.On("Stop").Return(nil).Maybe()
	s.q.Do("close", s.stack.Close)
	s.q.close()
	DeviceFactory = s.originalFactory
}

// expect reads the next delegate callback and checks its name.
func (s *StackTestSuite) expect(name string) call {
	s.T().Helper()
	select {
	case c := <-s.rec.calls:
		s.Require().Equal(name, c.name, "unexpected callback order")
		return c
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for callback", name)
		return call{}
	}
}

func (s *StackTestSuite) onQueue(fn func()) {
	s.Require().True(s.q.Do("test", fn))
}

// discover runs a scan that reports one advertisement for testAddress and
// returns the discovered peripheral with the recorder as its delegate.
func (s *StackTestSuite) discover() *Peripheral {
	adv := fakeAdvertisement{
		name:     "HRM",
		addr:     testAddress,
		rssi:     -40,
		services: []ble.UUID{bleUUID(heartRateService)},
		tx:       127,
	}
	s.device.On("Scan", mock.Anything, false, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(func(Advertisement))(adv)
	}).Return(nil).Once()

	s.onQueue(func() { s.stack.Scan(nil, native.ScanOptions{}) })
	c := s.expect("discovered")
	s.onQueue(s.stack.StopScan)
	p := c.p.(*Peripheral)
	s.onQueue(func() { p.SetDelegate(s.rec) })
	return p
}

// connect dials p with a fresh mock client.
func (s *StackTestSuite) connect(p *Peripheral) *MockClient {
	cln := NewMockClient()
	cln.On("Name").Return("").Maybe()
	cln.On("ExchangeMTU", maxMTU).Return(185, nil).Maybe()
	cln.On("CancelConnection").Return(nil).Maybe()
	s.device.On("Dial", mock.Anything, fakeAddr(testAddress)).Return(cln, nil).Once()

	s.onQueue(func() { s.stack.Connect(p, native.ConnectOptions{}) })
	s.expect("connected")
	return cln
}

func (s *StackTestSuite) TestScanReportsAdvertisement() {
	// GOAL: Verify advertisements are converted and filtered by service
	//
	// TEST SCENARIO: Scan for heart-rate peripherals → one matching and one non-matching advertisement → only the match is reported with its fields

	matching := fakeAdvertisement{
		name:     "HRM",
		addr:     testAddress,
		rssi:     -51,
		services: []ble.UUID{bleUUID(heartRateService)},
		svcData:  []ble.ServiceData{{UUID: bleUUID(batteryService), Data: []byte{0x64}}},
		mfg:      []byte{0x4c, 0x00, 0x01},
		tx:       4,
	}
	other := fakeAdvertisement{addr: "AA:BB:CC:DD:EE:02", rssi: -70, tx: 127}

	s.device.On("Scan", mock.Anything, true, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(2).(func(Advertisement))
		h(other)
		h(matching)
	}).Return(nil).Once()

	hr := uuid.MustParse(heartRateService)
	s.onQueue(func() { s.stack.Scan([]uuid.UUID{hr}, native.ScanOptions{AllowDuplicates: true}) })

	c := s.expect("discovered")
	s.Equal(-51, c.rssi)
	s.Require().NotNil(c.adv.LocalName)
	s.Equal("HRM", *c.adv.LocalName)
	s.Equal([]uuid.UUID{hr}, c.adv.ServiceUUIDs)
	s.Require().Len(c.adv.ServiceData, 1)
	s.Equal(uuid.MustParse(batteryService), c.adv.ServiceData[0].UUID)
	s.Equal([]byte{0x64}, c.adv.ServiceData[0].Data)
	s.Require().NotNil(c.adv.TxPowerLevel)
	s.Equal(4, *c.adv.TxPowerLevel)
	s.Equal("HRM", c.p.Name())
	s.Equal(identifierFor(testAddress), c.p.Identifier())
}

func (s *StackTestSuite) TestConnectDiscoverReadSubscribe() {
	// GOAL: Verify the GATT round trip over a mocked client
	//
	// TEST SCENARIO: Connect → discover services → characteristics → read → subscribe → notification → values delivered in order

	p := s.discover()
	cln := s.connect(p)

	hrSvc := &ble.Service{UUID: bleUUID(heartRateService)}
	hrChr := &ble.Characteristic{UUID: bleUUID(heartRateMeasure), Property: ble.CharNotify | ble.CharRead}
	cln.On("DiscoverServices", []ble.UUID(nil)).Return([]*ble.Service{hrSvc}, nil).Once()
	cln.On("DiscoverCharacteristics", []ble.UUID(nil), hrSvc).Return([]*ble.Characteristic{hrChr}, nil).Once()
	cln.On("ReadCharacteristic", hrChr).Return([]byte{0x00, 0x48}, nil).Once()

	var handler ble.NotificationHandler
	cln.On("Subscribe", hrChr, false, mock.Anything).Run(func(args mock.Arguments) {
		handler = args.Get(2).(ble.NotificationHandler)
	}).Return(nil).Once()

	s.onQueue(func() { p.DiscoverServices(nil) })
	s.Require().NoError(s.expect("services").err)
	var services []native.Service
	s.onQueue(func() { services = p.Services() })
	s.Require().Len(services, 1)
	s.Equal(uuid.MustParse(heartRateService), services[0].UUID())
	s.True(services[0].IsPrimary())

	s.onQueue(func() { p.DiscoverCharacteristics(nil, services[0]) })
	s.Require().NoError(s.expect("characteristics").err)
	chars := services[0].Characteristics()
	s.Require().Len(chars, 1)
	s.Equal(uuid.MustParse(heartRateMeasure), chars[0].UUID())
	s.Equal(uint(ble.CharNotify|ble.CharRead), chars[0].Properties())

	s.onQueue(func() { p.ReadCharacteristic(chars[0]) })
	v := s.expect("value")
	s.Require().NoError(v.err)
	s.Equal([]byte{0x00, 0x48}, v.chr.Value())

	s.onQueue(func() { p.SetNotify(true, chars[0]) })
	s.Require().NoError(s.expect("notify-state").err)

	s.Require().NotNil(handler)
	handler([]byte{0x00, 0x49})
	n := s.expect("value")
	s.Same(chars[0], n.chr, "notifications MUST reuse the discovered characteristic handle")
	s.Equal([]byte{0x00, 0x49}, n.chr.Value())

	cln.AssertExpectations(s.T())
}

func (s *StackTestSuite) TestConnectFailureIsNormalized() {
	// GOAL: Verify dial errors reach the delegate as bleerror values
	//
	// TEST SCENARIO: Dial times out → DidFailToConnectPeripheral with KindConnectionTimeout

	p := s.discover()
	s.device.On("Dial", mock.Anything, fakeAddr(testAddress)).
		Return(nil, fmt.Errorf("dial: %w", context.DeadlineExceeded)).Once()

	s.onQueue(func() { s.stack.Connect(p, native.ConnectOptions{}) })
	c := s.expect("connect-failed")
	s.True(errors.Is(c.err, bleerror.ErrConnectionTimeout), "got %v", c.err)
}

func (s *StackTestSuite) TestCancelConnectDisconnectsWithoutError() {
	// GOAL: Verify a requested disconnect is reported with a nil error
	//
	// TEST SCENARIO: Connect → CancelConnect → CancelConnection called → disconnected(nil)

	p := s.discover()
	cln := s.connect(p)

	s.onQueue(func() { s.stack.CancelConnect(p) })
	c := s.expect("disconnected")
	s.NoError(c.err)
	cln.AssertCalled(s.T(), "CancelConnection")
}

func (s *StackTestSuite) TestLinkLossIsReported() {
	// GOAL: Verify an unexpected link loss is reported as PeripheralDisconnected
	//
	// TEST SCENARIO: Connect → client signals Disconnected → disconnected with KindPeripheralDisconnected

	p := s.discover()
	cln := s.connect(p)
	close(cln.disconnected)

	c := s.expect("disconnected")
	s.True(errors.Is(c.err, bleerror.ErrPeripheralDisconnected), "got %v", c.err)
}

func (s *StackTestSuite) TestOperationWithoutLinkIsRejected() {
	// GOAL: Verify GATT operations on an unconnected peripheral fail at once
	//
	// TEST SCENARIO: Discovered but not connected → ReadRSSI → DidReadRSSI with KindNotConnected

	p := s.discover()
	s.onQueue(p.ReadRSSI)
	c := s.expect("rssi")
	s.True(errors.Is(c.err, bleerror.ErrNotConnected), "got %v", c.err)
}

func (s *StackTestSuite) TestMaximumWriteValueLengthFollowsMTU() {
	// GOAL: Verify the negotiated MTU drives the maximum write length
	//
	// TEST SCENARIO: Connect with MTU 185 negotiated → max write length is 182

	p := s.discover()
	s.connect(p)

	s.Eventually(func() bool {
		var n int
		s.q.Do("mtu", func() { n = p.MaximumWriteValueLength(true) })
		return n == 182
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *StackTestSuite) TestRetrievePeripherals() {
	// GOAL: Verify retrieval by identifier returns peripherals seen before
	//
	// TEST SCENARIO: Discover → retrieve known and unknown ids → only the known one is returned

	p := s.discover()
	var got []native.Peripheral
	s.onQueue(func() {
		got = s.stack.RetrievePeripherals([]uuid.UUID{p.Identifier(), uuid.From16(0x1234)})
	})
	s.Require().Len(got, 1)
	s.Same(p, got[0])
}

func TestStackTestSuite(t *testing.T) {
	suite.Run(t, new(StackTestSuite))
}

func TestNewReportsPoweredOff(t *testing.T) {
	original := DeviceFactory
	defer func() { DeviceFactory = original }()
	DeviceFactory = func() (Device, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}

	q := newTestQueue()
	defer q.close()
	rec := newRecorder()

	st, err := New(q, native.Options{})
	require.NoError(t, err)
	assert.Equal(t, statePoweredOff, st.State())

	st.SetDelegate(rec)
	select {
	case c := <-rec.calls:
		assert.Equal(t, "state", c.name)
		assert.Equal(t, statePoweredOff, c.rssi)
	case <-time.After(time.Second):
		t.Fatal("no state callback")
	}
}

func TestUUIDConversion(t *testing.T) {
	tests := []struct {
		name string
		in   uuid.UUID
		want ble.UUID
	}{
		{"16-bit", uuid.From16(0x180d), ble.UUID16(0x180d)},
		{"128-bit", uuid.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6"), ble.MustParse("ebe0ccb0-7a0a-4b0c-8a1a-6ff2997da3a6")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, toBLE(tt.in).Equal(tt.want), "toBLE(%s) = %x", tt.in, []byte(toBLE(tt.in)))
			assert.Equal(t, tt.in, fromBLE(tt.want))
		})
	}
}

func TestIdentifierFor(t *testing.T) {
	t.Run("MAC addresses hash to a stable identifier", func(t *testing.T) {
		a := identifierFor("aa:bb:cc:dd:ee:ff")
		b := identifierFor("AA:BB:CC:DD:EE:FF")
		assert.Equal(t, a, b)
		assert.False(t, a.IsZero())
		assert.NotEqual(t, a, identifierFor("aa:bb:cc:dd:ee:00"))
	})

	t.Run("UUID addresses are used as is", func(t *testing.T) {
		const id = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
		assert.Equal(t, uuid.MustParse(id), identifierFor(id))
	})
}
