package central_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/eventchan"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/stretchr/testify/require"
)

const (
	heartRateService = "180D"
	heartRateMeasure = "2A37"
	bodySensorLoc    = "2A38"
	batteryService   = "180F"
	batteryLevel     = "2A19"
	cccd             = "2902"
)

const eventTimeout = 2 * time.Second

// harness runs a Manager over a SimStack.
type harness struct {
	t      *testing.T
	helper *testutils.TestHelper
	sim    *testutils.SimStack
	mgr    *central.Manager
	events *eventchan.Receiver[central.Event]
}

func newHarness(t *testing.T, sim *testutils.SimStack) *harness {
	t.Helper()
	helper := testutils.NewTestHelper(t)

	mgr, events, err := central.NewBuilder().
		WithLogger(helper.Logger).
		WithStack(sim.Factory()).
		Build()
	require.NoError(t, err)

	t.Cleanup(func() {
		mgr.Close()
		events.Close()
	})
	return &harness{t: t, helper: helper, sim: sim, mgr: mgr, events: events}
}

// heartRateMonitor is the default simulated peripheral.
func heartRateMonitor() *testutils.SimPeripheral {
	return testutils.NewPeripheralBuilder().
		WithName("HRM").
		WithRSSI(-42).
		WithManufacturerData([]byte{0x4c, 0x00}).
		WithService(heartRateService).
		WithCharacteristic(heartRateMeasure, "notify", []byte{0x00, 0x48}).
		WithDescriptor(cccd, []byte{0x00, 0x00}).
		WithCharacteristic(bodySensorLoc, "read", []byte{0x01}).
		WithService(batteryService).
		WithCharacteristic(batteryLevel, "read,write,write-without-response,notify", []byte{0x64}).
		Build()
}

func short(s string) uuid.UUID {
	u, err := uuid.ParseShort(s)
	if err != nil {
		panic(err)
	}
	return u
}

// next receives the next event and requires it to be an E.
func next[E central.Event](h *harness) E {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	ev, err := h.events.RecvContext(ctx)
	require.NoError(h.t, err, "timed out waiting for event")
	typed, ok := ev.(E)
	require.Truef(h.t, ok, "unexpected event %s (%#v)", ev.Kind(), ev)
	return typed
}

// noEvent asserts nothing is delivered for a short while.
func (h *harness) noEvent() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ev, err := h.events.RecvContext(ctx); err == nil {
		h.t.Fatalf("unexpected event %s (%#v)", ev.Kind(), ev)
	}
}

// flush waits until every unit submitted so far has run.
func (h *harness) flush() {
	h.t.Helper()
	h.mgr.GetPeripheralsTagged(nil, "flush")
	ev := next[central.GetPeripheralsResult](h)
	require.Equal(h.t, "flush", ev.Tag)
}

func (h *harness) poweredOn() {
	h.t.Helper()
	ev := next[central.ManagerStateChanged](h)
	require.Equal(h.t, central.StatePoweredOn, ev.NewState)
}

// discover scans and returns the first discovery.
func (h *harness) discover() central.PeripheralDiscovered {
	h.t.Helper()
	h.mgr.Scan(central.ScanOptions{})
	ev := next[central.PeripheralDiscovered](h)
	h.mgr.CancelScan()
	return ev
}

func (h *harness) connect(p central.Peripheral) central.Peripheral {
	h.t.Helper()
	h.mgr.Connect(p)
	ev := next[central.PeripheralConnected](h)
	require.True(h.t, ev.Peripheral.Equal(p))
	return ev.Peripheral
}

// characteristic discovers services and the characteristics of svc and
// returns the one matching chr.
func (h *harness) characteristic(p central.Peripheral, svc, chr string) (central.Service, central.Characteristic) {
	h.t.Helper()
	p.DiscoverServices()
	services := next[central.ServicesDiscovered](h)
	require.NoError(h.t, services.Err)

	for _, s := range services.Services {
		if s.ID() != short(svc) {
			continue
		}
		p.DiscoverCharacteristics(s)
		chars := next[central.CharacteristicsDiscovered](h)
		require.NoError(h.t, chars.Err)
		for _, c := range chars.Characteristics {
			if c.ID() == short(chr) {
				return s, c
			}
		}
	}
	h.t.Fatalf("characteristic %s/%s not found", svc, chr)
	return central.Service{}, central.Characteristic{}
}
