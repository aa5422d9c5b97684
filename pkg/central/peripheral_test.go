//go:generate go run github.com/srgg/testify/depend/cmd/dependgen

package central_test

import (
	"testing"

	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// PeripheralTestSuite drives GATT operations against a connected simulated
// heart rate monitor.
type PeripheralTestSuite struct {
	suite.Suite

	hrm *testutils.SimPeripheral
	h   *harness
	p   central.Peripheral
}

func (s *PeripheralTestSuite) SetupTest() {
	s.hrm = heartRateMonitor()
	s.h = newHarness(s.T(), testutils.NewSimStack(s.hrm))
	s.h.poweredOn()
	s.p = s.h.connect(s.h.discover().Peripheral)
}

func (s *PeripheralTestSuite) TestServiceDiscovery() {
	// GOAL: Verify services and characteristics are discovered in profile order
	//
	// TEST SCENARIO: DiscoverServices → 180D, 180F → DiscoverCharacteristics(180D) → 2A37, 2A38 with properties

	s.p.DiscoverServices()
	services := next[central.ServicesDiscovered](s.h)
	s.Require().NoError(services.Err)
	s.Require().Len(services.Services, 2)
	s.Equal(short(heartRateService), services.Services[0].ID())
	s.Equal(short(batteryService), services.Services[1].ID())
	s.True(services.Services[0].IsPrimary())

	s.p.DiscoverCharacteristics(services.Services[0])
	chars := next[central.CharacteristicsDiscovered](s.h)
	s.Require().NoError(chars.Err)
	s.True(chars.Service.Equal(services.Services[0]))
	s.Require().Len(chars.Characteristics, 2)
	s.Equal(short(heartRateMeasure), chars.Characteristics[0].ID())
	s.True(chars.Characteristics[0].Properties().Has(central.PropNotify))
	s.False(chars.Characteristics[0].Properties().Has(central.PropRead))
	s.Equal("read", chars.Characteristics[1].Properties().String())
}

func (s *PeripheralTestSuite) TestFilteredDiscovery() {
	// GOAL: Verify UUID filters narrow discovery
	//
	// TEST SCENARIO: DiscoverServicesWithUUIDs(180F) → only 180F → DiscoverCharacteristicsWithUUIDs(unknown) → empty

	s.p.DiscoverServicesWithUUIDs([]uuid.UUID{short(batteryService)})
	services := next[central.ServicesDiscovered](s.h)
	s.Require().NoError(services.Err)
	s.Require().Len(services.Services, 1)

	s.p.DiscoverCharacteristicsWithUUIDs(services.Services[0], []uuid.UUID{short("2A00")})
	chars := next[central.CharacteristicsDiscovered](s.h)
	s.NoError(chars.Err)
	s.Empty(chars.Characteristics)
}

// @dependsOn TestServiceDiscovery
func (s *PeripheralTestSuite) TestReadCharacteristic() {
	// GOAL: Verify reads return the value or a classified ATT error
	//
	// TEST SCENARIO: Read 2A38 → value 01; read notify-only 2A37 → ATT ReadNotPermitted

	s.Run("readable", func() {
		_, chr := s.h.characteristic(s.p, heartRateService, bodySensorLoc)
		s.p.ReadCharacteristic(chr)

		ev := next[central.CharacteristicValue](s.h)
		s.NoError(ev.Err)
		s.True(ev.Characteristic.Equal(chr))
		s.Equal([]byte{0x01}, ev.Value)
	})

	s.Run("not readable", func() {
		_, chr := s.h.characteristic(s.p, heartRateService, heartRateMeasure)
		s.p.ReadCharacteristic(chr)

		ev := next[central.CharacteristicValue](s.h)
		s.Require().Error(ev.Err)
		be, ok := ev.Err.(*bleerror.Error)
		s.Require().True(ok, "error MUST be a *bleerror.Error")
		s.Equal(bleerror.KindAtt, be.Kind)
		s.Equal(bleerror.AttReadNotPermitted, be.Att)
		s.Nil(ev.Value)
	})
}

// @dependsOn TestServiceDiscovery
func (s *PeripheralTestSuite) TestWriteCharacteristic() {
	// GOAL: Verify both write kinds reach the peripheral
	//
	// TEST SCENARIO: Write with response → WriteCharacteristicResult → read back; write without response → ready event

	_, chr := s.h.characteristic(s.p, batteryService, batteryLevel)

	s.p.WriteCharacteristic(chr, []byte{0x32}, central.WithResponse)
	ev := next[central.WriteCharacteristicResult](s.h)
	s.NoError(ev.Err)
	s.True(ev.Characteristic.Equal(chr))

	s.p.ReadCharacteristic(chr)
	s.Equal([]byte{0x32}, next[central.CharacteristicValue](s.h).Value)

	s.p.WriteCharacteristic(chr, []byte{0x10}, central.WithoutResponse)
	ready := next[central.PeripheralIsReadyToWriteWithoutResponse](s.h)
	s.True(ready.Peripheral.Equal(s.p))
	s.True(s.h.sim.Called("write 2a19 10 false"))
}

func (s *PeripheralTestSuite) TestWriteCopiesData() {
	_, chr := s.h.characteristic(s.p, batteryService, batteryLevel)

	data := []byte{0x07}
	s.p.WriteCharacteristic(chr, data, central.WithResponse)
	data[0] = 0xff
	s.NoError(next[central.WriteCharacteristicResult](s.h).Err)

	s.p.ReadCharacteristic(chr)
	s.Equal([]byte{0x07}, next[central.CharacteristicValue](s.h).Value)
}

// @dependsOn TestServiceDiscovery
func (s *PeripheralTestSuite) TestSubscribe() {
	// GOAL: Verify notifications flow only while subscribed
	//
	// TEST SCENARIO: Subscribe 2A37 → notification delivered → Unsubscribe → notification dropped

	_, chr := s.h.characteristic(s.p, heartRateService, heartRateMeasure)

	s.p.Subscribe(chr)
	s.NoError(next[central.SubscriptionChanged](s.h).Err)

	s.h.sim.Notify(s.hrm, heartRateMeasure, []byte{0x00, 0x50})
	ev := next[central.CharacteristicValue](s.h)
	s.NoError(ev.Err)
	s.Equal([]byte{0x00, 0x50}, ev.Value)

	s.p.Unsubscribe(chr)
	s.NoError(next[central.SubscriptionChanged](s.h).Err)

	s.h.sim.Notify(s.hrm, heartRateMeasure, []byte{0x00, 0x51})
	s.h.flush()
}

func (s *PeripheralTestSuite) TestSubscribeUnsupported() {
	_, chr := s.h.characteristic(s.p, heartRateService, bodySensorLoc)

	s.p.Subscribe(chr)
	ev := next[central.SubscriptionChanged](s.h)
	s.ErrorIs(ev.Err, bleerror.NewAtt(bleerror.AttRequestNotSupported, ""))
}

// @dependsOn TestServiceDiscovery
func (s *PeripheralTestSuite) TestDescriptors() {
	// GOAL: Verify descriptor discovery, read and write
	//
	// TEST SCENARIO: DiscoverDescriptors(2A37) → 2902 → write 0100 → read back 0100

	_, chr := s.h.characteristic(s.p, heartRateService, heartRateMeasure)

	s.p.DiscoverDescriptors(chr)
	descs := next[central.DescriptorsDiscovered](s.h)
	s.Require().NoError(descs.Err)
	s.Require().Len(descs.Descriptors, 1)
	dsc := descs.Descriptors[0]
	s.Equal(short(cccd), dsc.ID())

	s.p.ReadDescriptor(dsc)
	s.Equal([]byte{0x00, 0x00}, next[central.DescriptorValue](s.h).Value)

	s.p.WriteDescriptor(dsc, []byte{0x01, 0x00})
	w := next[central.WriteDescriptorResult](s.h)
	s.NoError(w.Err)
	s.True(w.Descriptor.Equal(dsc))

	s.p.ReadDescriptor(dsc)
	s.Equal([]byte{0x01, 0x00}, next[central.DescriptorValue](s.h).Value)
}

func (s *PeripheralTestSuite) TestReadRSSI() {
	s.p.ReadRSSI()
	ev := next[central.ReadRSSIResult](s.h)
	s.NoError(ev.Err)
	s.Equal(-42, ev.RSSI)
}

func (s *PeripheralTestSuite) TestGetMaxWriteLen() {
	// GOAL: Verify both limits are reported and the tag is echoed
	//
	// TEST SCENARIO: GetMaxWriteLenTagged("mtu") → 512 with response, MTU-3 without

	s.p.GetMaxWriteLenTagged("mtu")
	ev := next[central.GetMaxWriteLenResult](s.h)
	s.NoError(ev.Err)
	s.Equal("mtu", ev.Tag)
	s.Equal(512, ev.MaxWriteLen.For(central.WithResponse))
	s.Equal(182, ev.MaxWriteLen.For(central.WithoutResponse))
}

func (s *PeripheralTestSuite) TestNameChange() {
	s.h.sim.Rename(s.hrm, "HRM-2")
	ev := next[central.PeripheralNameChanged](s.h)
	s.Equal("HRM-2", ev.NewName)
	s.Equal("HRM-2", ev.Peripheral.Name())
}

func (s *PeripheralTestSuite) TestOperationsAfterDisconnect() {
	// GOAL: Verify operations on a disconnected peripheral fail with NotConnected
	//
	// TEST SCENARIO: Discover characteristic → CancelConnect → read, subscribe, RSSI → NotConnected each

	_, chr := s.h.characteristic(s.p, heartRateService, bodySensorLoc)
	s.h.mgr.CancelConnect(s.p)
	next[central.PeripheralDisconnected](s.h)

	s.p.ReadCharacteristic(chr)
	s.ErrorIs(next[central.CharacteristicValue](s.h).Err, bleerror.ErrNotConnected)

	s.p.Subscribe(chr)
	s.ErrorIs(next[central.SubscriptionChanged](s.h).Err, bleerror.ErrNotConnected)

	s.p.ReadRSSI()
	s.ErrorIs(next[central.ReadRSSIResult](s.h).Err, bleerror.ErrNotConnected)

	// Write commands have no result event.
	s.p.WriteCharacteristic(chr, []byte{0x01}, central.WithoutResponse)
	s.h.flush()
	s.False(s.h.sim.Called("write"))
}

func (s *PeripheralTestSuite) TestHandleFromEarlierConnection() {
	// GOAL: Verify attribute handles are retired when their connection ends
	//
	// TEST SCENARIO: Discover 2A38 → disconnect → reconnect → read old handle → InvalidHandle → rediscovered handle reads 01

	_, old := s.h.characteristic(s.p, heartRateService, bodySensorLoc)
	s.h.mgr.CancelConnect(s.p)
	next[central.PeripheralDisconnected](s.h)
	s.h.connect(s.p)

	s.p.ReadCharacteristic(old)
	ev := next[central.CharacteristicValue](s.h)
	s.ErrorIs(ev.Err, bleerror.ErrInvalidHandle)
	s.Nil(ev.Value)
	s.False(s.h.sim.Called("read 2a38"), "a stale handle MUST NOT reach the peripheral")

	s.p.Subscribe(old)
	s.ErrorIs(next[central.SubscriptionChanged](s.h).Err, bleerror.ErrInvalidHandle)

	_, fresh := s.h.characteristic(s.p, heartRateService, bodySensorLoc)
	s.p.ReadCharacteristic(fresh)
	ev = next[central.CharacteristicValue](s.h)
	s.Require().NoError(ev.Err)
	s.Equal([]byte{0x01}, ev.Value)
}

func (s *PeripheralTestSuite) TestZeroHandles() {
	// GOAL: Verify zero-value attribute handles are rejected
	//
	// TEST SCENARIO: ReadCharacteristic(Characteristic{}) → InvalidParameters

	s.p.ReadCharacteristic(central.Characteristic{})
	s.ErrorIs(next[central.CharacteristicValue](s.h).Err, bleerror.ErrInvalidParameters)

	s.p.DiscoverCharacteristics(central.Service{})
	s.ErrorIs(next[central.CharacteristicsDiscovered](s.h).Err, bleerror.ErrInvalidParameters)

	s.NotPanics(func() { central.Peripheral{}.ReadRSSI() })
}

func (s *PeripheralTestSuite) TestPowerCycleDropsConnection() {
	// GOAL: Verify PoweredOff keeps handles but drops connections
	//
	// TEST SCENARIO: Power off → on → RSSI fails NotConnected → reconnect with the same handle

	s.h.sim.SetState(testutils.StatePoweredOff)
	s.Equal(central.StatePoweredOff, next[central.ManagerStateChanged](s.h).NewState)
	s.h.sim.SetState(testutils.StatePoweredOn)
	s.h.poweredOn()

	s.p.ReadRSSI()
	s.ErrorIs(next[central.ReadRSSIResult](s.h).Err, bleerror.ErrNotConnected)

	s.h.connect(s.p)
}

func (s *PeripheralTestSuite) TestResetInvalidatesHandles() {
	// GOAL: Verify a reset retires every handle issued before it
	//
	// TEST SCENARIO: Resetting → PoweredOn → Connect(old) and ReadRSSI(old) → InvalidHandle → fresh discovery works

	s.h.sim.SetState(testutils.StateResetting)
	s.Equal(central.StateResetting, next[central.ManagerStateChanged](s.h).NewState)
	s.h.sim.SetState(testutils.StatePoweredOn)
	s.h.poweredOn()

	s.h.mgr.Connect(s.p)
	failed := next[central.PeripheralConnectFailed](s.h)
	s.ErrorIs(failed.Err, bleerror.ErrInvalidHandle)

	s.p.ReadRSSI()
	s.ErrorIs(next[central.ReadRSSIResult](s.h).Err, bleerror.ErrInvalidHandle)

	fresh := s.h.discover().Peripheral
	s.True(fresh.Equal(s.p), "identity survives the reset")
	s.h.connect(fresh)
}

func TestPeripheralTestSuite(t *testing.T) {
	depend.RunSuite(t, new(PeripheralTestSuite))
}

func TestHandleFromOtherPeripheral(t *testing.T) {
	// GOAL: Verify a peripheral refuses attribute handles discovered on another one
	//
	// TEST SCENARIO: Two connected peripherals → B.ReadCharacteristic(2A38 of A) → InvalidHandle reported for B, nothing read

	a := heartRateMonitor()
	b := testutils.NewPeripheralBuilder().
		WithName("HRM-B").
		WithRSSI(-60).
		WithService(heartRateService).
		WithCharacteristic(bodySensorLoc, "read", []byte{0xaa}).
		Build()
	h := newHarness(t, testutils.NewSimStack(a, b))
	h.poweredOn()

	h.mgr.GetPeripherals([]uuid.UUID{a.Identifier(), b.Identifier()})
	found := next[central.GetPeripheralsResult](h)
	require.Len(t, found.Peripherals, 2)
	pa := h.connect(found.Peripherals[0])
	pb := h.connect(found.Peripherals[1])

	_, chrA := h.characteristic(pa, heartRateService, bodySensorLoc)
	pb.ReadCharacteristic(chrA)

	ev := next[central.CharacteristicValue](h)
	assert.True(t, ev.Peripheral.Equal(pb))
	assert.ErrorIs(t, ev.Err, bleerror.ErrInvalidHandle)
	assert.Nil(t, ev.Value)
	assert.False(t, h.sim.Called("read 2a38"), "the foreign handle MUST NOT reach either peripheral")

	pa.ReadCharacteristic(chrA)
	ev = next[central.CharacteristicValue](h)
	require.NoError(t, ev.Err)
	assert.True(t, ev.Peripheral.Equal(pa))
	assert.Equal(t, []byte{0x01}, ev.Value)
}

// ----------------------------
// Connection edge cases
// ----------------------------

func TestConnectFailure(t *testing.T) {
	p := testutils.NewPeripheralBuilder().
		WithName("Flaky").
		WithService(batteryService).
		WithConnectError(bleerror.New(bleerror.KindConnectionFailed, "refused")).
		Build()
	h := newHarness(t, testutils.NewSimStack(p))
	h.poweredOn()

	target := h.discover().Peripheral
	h.mgr.Connect(target)

	ev := next[central.PeripheralConnectFailed](h)
	assert.True(t, ev.Peripheral.Equal(target))
	assert.ErrorIs(t, ev.Err, bleerror.ErrConnectionFailed)
}

func TestCancelPendingConnect(t *testing.T) {
	// GOAL: Verify cancelling an attempt in progress reports OperationCancelled
	//
	// TEST SCENARIO: Connect to a silent peripheral → CancelConnect → PeripheralConnectFailed(OperationCancelled)

	p := testutils.NewPeripheralBuilder().
		WithName("Sleepy").
		WithService(batteryService).
		WithPendingConnect().
		Build()
	h := newHarness(t, testutils.NewSimStack(p))
	h.poweredOn()

	target := h.discover().Peripheral
	h.mgr.Connect(target)
	h.noEvent()

	h.mgr.CancelConnect(target)
	ev := next[central.PeripheralConnectFailed](h)
	assert.ErrorIs(t, ev.Err, bleerror.ErrOperationCancelled)
}

func TestIncludedServices(t *testing.T) {
	p := testutils.NewPeripheralBuilder().
		WithName("Composite").
		WithService("1812").
		WithIncludedService(batteryService).
		WithCharacteristic(batteryLevel, "read", []byte{0x50}).
		Build()
	h := newHarness(t, testutils.NewSimStack(p))
	h.poweredOn()
	target := h.connect(h.discover().Peripheral)

	target.DiscoverServices()
	services := next[central.ServicesDiscovered](h)
	require.NoError(t, services.Err)
	require.Len(t, services.Services, 1, "secondary services MUST not be listed as primary")

	target.DiscoverIncludedServices(services.Services[0])
	ev := next[central.IncludedServicesDiscovered](h)
	require.NoError(t, ev.Err)
	require.Len(t, ev.IncludedServices, 1)
	assert.Equal(t, short(batteryService), ev.IncludedServices[0].ID())
	assert.False(t, ev.IncludedServices[0].IsPrimary())

	target.DiscoverCharacteristics(ev.IncludedServices[0])
	chars := next[central.CharacteristicsDiscovered](h)
	require.NoError(t, chars.Err)
	require.Len(t, chars.Characteristics, 1)
}

func TestConsumerBackpressure(t *testing.T) {
	// GOAL: Verify a slow consumer loses nothing and sees submission order
	//
	// TEST SCENARIO: Queue many tagged lookups before reading → every result arrives in order

	h := newHarness(t, testutils.NewSimStack(heartRateMonitor()))
	h.poweredOn()

	const n = 50
	for i := range n {
		h.mgr.GetPeripheralsTagged(nil, i)
	}
	for i := range n {
		ev := next[central.GetPeripheralsResult](h)
		require.Equal(t, i, ev.Tag)
	}
}
