package testutils

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a debug-level logger that records entries in memory.
// The log is dumped only when the test fails.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	h := &TestHelper{T: t, Logger: logger, Hook: test.NewLocal(logger)}

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured log:\n%s", h.Logs())
		}
	})
	return h
}

// Logs renders every recorded entry, one per line.
func (h *TestHelper) Logs() string {
	var sb strings.Builder
	for _, e := range h.Hook.AllEntries() {
		line, err := e.String()
		if err != nil {
			continue
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// Logged reports whether an entry at level with msg was recorded.
func (h *TestHelper) Logged(level logrus.Level, msg string) bool {
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}
