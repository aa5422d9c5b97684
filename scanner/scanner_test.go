package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/uuid"
	"github.com/srg/blecentral/scanner"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite

	helper     *testutils.TestHelper
	sim        *testutils.SimStack
	dev1, dev2 *testutils.SimPeripheral
	dev3       *testutils.SimPeripheral
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())

	suite.dev1 = testutils.NewPeripheralBuilder().
		WithName("Test Device 1").
		WithRSSI(-45).
		WithService("180F").
		WithAdvertisedService("1800").
		WithTxPower(11).
		Build()
	suite.dev2 = testutils.NewPeripheralBuilder().
		WithName("Test Device 2").
		WithRSSI(-67).
		WithService("1801").
		Build()
	// A third device that won't match most test conditions
	suite.dev3 = testutils.NewPeripheralBuilder().
		WithName("Test Device 3").
		WithRSSI(-80).
		WithService("1802").
		Build()
	suite.sim = testutils.NewSimStack(suite.dev1, suite.dev2, suite.dev3)
}

func (suite *ScannerTestSuite) newScanner(sim *testutils.SimStack) *scanner.Scanner {
	mgr, events, err := central.NewBuilder().
		WithLogger(suite.helper.Logger).
		WithStack(sim.Factory()).
		Build()
	suite.Require().NoError(err)
	suite.T().Cleanup(mgr.Close)
	return scanner.NewScanner(mgr, events, suite.helper.Logger)
}

type summary struct {
	Name string `json:"name"`
	RSSI int    `json:"rssi"`
	Seen int    `json:"seen"`
}

func summarize(devices map[string]scanner.Entry) []summary {
	out := []summary{}
	for _, e := range scanner.Sorted(devices) {
		out = append(out, summary{Name: e.Name, RSSI: e.RSSI, Seen: e.Seen})
	}
	return out
}

func (suite *ScannerTestSuite) TestDefaultScanOptions() {
	opts := scanner.DefaultScanOptions()

	suite.NotNil(opts)
	suite.Equal(10*time.Second, opts.Duration)
	suite.False(opts.AllowDuplicates)
	suite.Nil(opts.Services)
	suite.Nil(opts.AllowList)
	suite.Nil(opts.BlockList)
}

func (suite *ScannerTestSuite) TestScannerFiltering() {
	// GOAL: Verify allow/block/service filters decide which devices are reported
	//
	// TEST SCENARIO: Scan three advertisers with each filter → only the admitted devices are returned

	tests := []struct {
		name     string
		opts     scanner.ScanOptions
		expected string
	}{
		{
			name: "includes all devices with no filters",
			expected: `[
				{"name": "Test Device 1", "rssi": -45, "seen": 1},
				{"name": "Test Device 2", "rssi": -67, "seen": 1},
				{"name": "Test Device 3", "rssi": -80, "seen": 1}
			]`,
		},
		{
			name: "excludes device on block list by name",
			opts: scanner.ScanOptions{BlockList: []string{"test device 1"}},
			expected: `[
				{"name": "Test Device 2", "rssi": -67, "seen": 1},
				{"name": "Test Device 3", "rssi": -80, "seen": 1}
			]`,
		},
		{
			name:     "includes device with matching service UUID",
			opts:     scanner.ScanOptions{Services: []uuid.UUID{uuid.From16(0x180F)}},
			expected: `[{"name": "Test Device 1", "rssi": -45, "seen": 1}]`,
		},
		{
			name:     "excludes device without matching service UUID",
			opts:     scanner.ScanOptions{Services: []uuid.UUID{uuid.From16(0x1234)}},
			expected: `[]`,
		},
		{
			name:     "includes device on allow list by ID",
			opts:     scanner.ScanOptions{AllowList: []string{suite.dev2.Identifier().String()}},
			expected: `[{"name": "Test Device 2", "rssi": -67, "seen": 1}]`,
		},
		{
			name:     "block list wins over allow list",
			opts:     scanner.ScanOptions{AllowList: []string{"Test Device 2"}, BlockList: []string{"Test Device 2"}},
			expected: `[]`,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			sim := testutils.NewSimStack(
				testutils.NewPeripheralBuilder().WithName("Test Device 1").WithRSSI(-45).WithService("180F").Build(),
				testutils.NewPeripheralBuilder().WithName("Test Device 2").WithRSSI(-67).WithService("1801").Build(),
				testutils.NewPeripheralBuilder().WithName("Test Device 3").WithRSSI(-80).WithService("1802").Build(),
			)
			s := suite.newScanner(sim)

			opts := tt.opts
			opts.Duration = 100 * time.Millisecond
			devices, err := s.Scan(context.Background(), &opts, nil)

			suite.Require().NoError(err, "Scan should complete without error")
			suite.Require().NotNil(devices, "Devices map should not be nil")

			testutils.NewJSONAsserter(suite.T()).
				WithIgnoreExtraKeys(false).
				Assert(testutils.MustJSON(summarize(devices)), tt.expected)
		})
	}
}

func (suite *ScannerTestSuite) TestScanReportsPhasesAndEvents() {
	// GOAL: Verify progress phases and device events are published
	//
	// TEST SCENARIO: Scan → "Scanning" then "Processing results" → one EventNew per device

	s := suite.newScanner(suite.sim)

	var phases []string
	_, err := s.Scan(context.Background(), &scanner.ScanOptions{Duration: 100 * time.Millisecond},
		func(phase string) { phases = append(phases, phase) })
	suite.Require().NoError(err)
	suite.Equal([]string{"Scanning", "Processing results"}, phases)

	names := map[string]scanner.DeviceEventType{}
	for range 3 {
		select {
		case ev := <-s.Events():
			names[ev.Entry.Name] = ev.Type
		case <-time.After(time.Second):
			suite.FailNow("missing device event")
		}
	}
	suite.Equal(map[string]scanner.DeviceEventType{
		"Test Device 1": scanner.EventNew,
		"Test Device 2": scanner.EventNew,
		"Test Device 3": scanner.EventNew,
	}, names)
}

func (suite *ScannerTestSuite) TestScanResumesAfterPowerCycle() {
	// GOAL: Verify the scan restarts when Bluetooth comes back and repeats become updates
	//
	// TEST SCENARIO: First discovery → power off/on → rediscovery reported as EventUpdated, Seen == 2

	sim := testutils.NewSimStack(suite.dev1)
	s := suite.newScanner(sim)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		devices map[string]scanner.Entry
		err     error
	}
	done := make(chan result, 1)
	go func() {
		devices, err := s.Scan(ctx, &scanner.ScanOptions{}, nil)
		done <- result{devices, err}
	}()

	first := <-s.Events()
	suite.Equal(scanner.EventNew, first.Type)

	sim.SetState(testutils.StatePoweredOff)
	sim.SetState(testutils.StatePoweredOn)

	select {
	case second := <-s.Events():
		suite.Equal(scanner.EventUpdated, second.Type)
		suite.Equal(2, second.Entry.Seen)
		suite.False(second.Entry.LastSeen.Before(first.Entry.LastSeen))
	case <-time.After(2 * time.Second):
		suite.FailNow("scan was not resumed")
	}

	cancel()
	res := <-done
	suite.Require().NoError(res.err)
	suite.Len(res.devices, 1)
	suite.True(suite.helper.Logged(logrus.WarnLevel, "Scan paused, waiting for Bluetooth"))
}

func (suite *ScannerTestSuite) TestScanFailsWhenUnauthorized() {
	sim := testutils.NewSimStack(suite.dev1).WithInitialState(testutils.StateUnauthorized)
	s := suite.newScanner(sim)

	var phases []string
	_, err := s.Scan(context.Background(), &scanner.ScanOptions{Duration: time.Second},
		func(phase string) { phases = append(phases, phase) })

	suite.Require().Error(err)
	suite.Contains(err.Error(), "bluetooth is Unauthorized")
	suite.Equal([]string{"Waiting for Bluetooth"}, phases)
	suite.False(sim.Called("scan "))
}

// TestScannerTestSuite runs the test suite using testify/suite
func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
