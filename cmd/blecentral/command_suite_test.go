package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// commandTimeout bounds every command a test runs.
const commandTimeout = 10 * time.Second

// CommandTestSuite runs commands against a simulated BLE stack.
// All cmd/blecentral test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Helper *testutils.TestHelper
	Sim    *testutils.SimStack

	originalStack   native.Factory
	originalNoColor bool
}

// SetupSuite runs once before all tests in the suite
func (s *CommandTestSuite) SetupSuite() {
	s.originalStack = stackFactory
	s.originalNoColor = color.NoColor
	// Plain output so it can be compared verbatim
	color.NoColor = true
}

// TearDownSuite runs once after all tests in the suite
func (s *CommandTestSuite) TearDownSuite() {
	stackFactory = s.originalStack
	color.NoColor = s.originalNoColor
}

// SetupTest runs before each test in the suite
func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.UseStack()
}

// UseStack points every command at a fresh simulated stack knowing
// peripherals.
func (s *CommandTestSuite) UseStack(peripherals ...*testutils.SimPeripheral) *testutils.SimStack {
	s.Sim = testutils.NewSimStack(peripherals...)
	stackFactory = s.Sim.Factory()
	return s.Sim
}

// ExecuteCommand runs the root command with args and returns what it wrote
// to stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand under ctx.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if stderr.Len() > 0 {
		s.T().Logf("stderr:\n%s", stderr.String())
	}
	return stdout.String(), stderr.String(), err
}

// WriteConfig stores a YAML configuration in a temporary file and returns
// its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "blecentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config file MUST be written")
	return path
}

// NotifyWhileRunning pushes value for chr of p every few milliseconds once
// notifications were enabled, until the returned stop function is called.
func (s *CommandTestSuite) NotifyWhileRunning(p *testutils.SimPeripheral, chr string, value []byte) (stop func()) {
	sim := s.Sim
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if sim.Called("notify ") {
					sim.Notify(p, chr, value)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// heartRateMonitor is the peripheral most command tests talk to.
func heartRateMonitor() *testutils.SimPeripheral {
	return testutils.NewPeripheralBuilder().
		WithName("HRM").
		WithRSSI(-42).
		WithService("180d").
		WithCharacteristic("2a37", "notify", []byte{0x00, 0x48}).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithCharacteristic("2a38", "read", []byte{0x01}).
		WithService("180f").
		WithCharacteristic("2a19", "read,write,write-without-response", []byte{0x64}).
		Build()
}
