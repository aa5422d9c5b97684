package central

import "fmt"

// ManagerState is the power/authorisation state of the central manager,
// ordered as the native stack numbers it.
type ManagerState int

const (
	StateUnknown ManagerState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

var stateNames = [...]string{
	"Unknown",
	"Resetting",
	"Unsupported",
	"Unauthorized",
	"PoweredOff",
	"PoweredOn",
}

// stateFromNative maps a raw native state; out-of-range values become Unknown.
func stateFromNative(v int) ManagerState {
	if v < 0 || v >= len(stateNames) {
		return StateUnknown
	}
	return ManagerState(v)
}

func (s ManagerState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ManagerState(%d)", int(s))
}

// InvalidatesPeripherals reports whether entering s drops every previously
// obtained Peripheral handle.
func (s ManagerState) InvalidatesPeripherals() bool {
	return s < StatePoweredOff
}

// Fatal reports states a session cannot recover from.
func (s ManagerState) Fatal() bool {
	return s == StateUnsupported || s == StateUnauthorized
}
