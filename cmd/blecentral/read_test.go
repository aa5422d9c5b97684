package main

import (
	"testing"

	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func (s *ReadTestSuite) TestRead_Formats() {
	// GOAL: Verify a characteristic value is printed as hex or quoted text
	//
	// TEST SCENARIO: Connect → discover service and characteristic → read → formatted value

	tests := []struct {
		name     string
		value    []byte
		args     []string
		expected string
	}{
		{
			name:     "hex",
			value:    []byte{0x64},
			expected: "2a19: 64\n",
		},
		{
			name:     "ascii",
			value:    []byte("v1.2\n"),
			args:     []string{"--ascii"},
			expected: "2a19: \"v1.2\\n\"\n",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p := testutils.NewPeripheralBuilder().
				WithName("Battery").
				WithService("180f").
				WithCharacteristic("2a19", "read", tt.value).
				Build()
			sim := s.UseStack(p)

			args := append([]string{"read", p.Identifier().String(), "180f", "2a19"}, tt.args...)
			out, _, err := s.ExecuteCommand(args...)
			s.Require().NoError(err, "read MUST succeed")

			s.Equal(tt.expected, out)
			s.True(sim.Called("read 2a19"), "the value MUST be read from the peripheral")
			s.True(sim.Called("cancel-connect"), "the link MUST be closed on exit")
		})
	}
}

func (s *ReadTestSuite) TestRead_Failures() {
	// GOAL: Verify read failures name what went wrong
	//
	// TEST SCENARIO: Missing attribute or ATT error → read → error with a useful message

	tests := []struct {
		name string
		svc  string
		chr  string
		err  string
		user string
	}{
		{
			name: "service not found",
			svc:  "1800",
			chr:  "2a00",
			err:  "service 1800 not found on",
		},
		{
			name: "characteristic not found",
			svc:  "180d",
			chr:  "2a39",
			err:  "characteristic 2a39 not found in service 180d",
		},
		{
			name: "not readable",
			svc:  "180d",
			chr:  "2a37",
			err:  "failed to read 2a37",
			user: "(the characteristic is not readable)",
		},
		{
			name: "bad characteristic UUID",
			svc:  "180d",
			chr:  "2a3",
			err:  "invalid characteristic UUID",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p := heartRateMonitor()
			s.UseStack(p)

			_, _, err := s.ExecuteCommand("read", p.Identifier().String(), tt.svc, tt.chr)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.err)
			if tt.user != "" {
				s.Contains(FormatUserError(err), tt.user)
			}
		})
	}
}

func (s *ReadTestSuite) TestRead_UnknownPeripheral() {
	// GOAL: Verify an ID that is neither known nor advertising fails after the scan window
	//
	// TEST SCENARIO: Unknown ID → retrieve misses → scan for scan_duration → ErrPeripheralNotFound

	sim := s.UseStack(heartRateMonitor())
	cfg := s.WriteConfig("scan_duration: 100ms\nlog_level: debug\n")

	_, _, err := s.ExecuteCommand("read", "--config", cfg, "00000000-0000-4000-8000-000000000001", "180f", "2a19")
	s.Require().Error(err)
	s.ErrorIs(err, ErrPeripheralNotFound)
	s.True(sim.Called("scan"), "an unknown peripheral MUST be looked for by scanning")
}

func (s *ReadTestSuite) TestRead_InvalidPeripheralID() {
	// GOAL: Verify peripheral IDs must be canonical UUIDs
	//
	// TEST SCENARIO: MAC-style ID → read → invalid peripheral ID error, nothing connected

	sim := s.UseStack(heartRateMonitor())

	_, _, err := s.ExecuteCommand("read", "aa:bb:cc:dd:ee:ff", "180f", "2a19")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid peripheral ID")
	s.False(sim.Called("connect"))
}

func (s *ReadTestSuite) TestRead_ConnectFailure() {
	// GOAL: Verify a refused connection is reported with its cause
	//
	// TEST SCENARIO: Peripheral refuses the link → read → "failed to connect" error

	p := testutils.NewPeripheralBuilder().
		WithName("Locked").
		WithService("180f").
		WithCharacteristic("2a19", "read", []byte{0x64}).
		WithConnectError(ErrConnectionLost).
		Build()
	s.UseStack(p)

	_, _, err := s.ExecuteCommand("read", p.Identifier().String(), "180f", "2a19")
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to connect to "+p.Identifier().String())
}

func (s *ReadTestSuite) TestRSSI() {
	// GOAL: Verify the rssi command prints the live signal strength
	//
	// TEST SCENARIO: Connect → read RSSI → "<name> <rssi> dBm"

	p := heartRateMonitor()
	sim := s.UseStack(p)

	out, _, err := s.ExecuteCommand("rssi", p.Identifier().String())
	s.Require().NoError(err)
	s.Equal("HRM -42 dBm\n", out)
	s.True(sim.Called("read-rssi"))
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}
