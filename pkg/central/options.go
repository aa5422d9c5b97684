package central

import (
	"time"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/uuid"
)

// ScanOptions configures Manager.Scan.
type ScanOptions struct {
	// AllowDuplicates reports every advertisement instead of one discovery
	// per peripheral.
	AllowDuplicates bool
	// Services restricts discovery to peripherals advertising any of them.
	// Empty means all peripherals.
	Services []uuid.UUID
	// SolicitedServices additionally matches peripherals soliciting them.
	SolicitedServices []uuid.UUID
}

// ConnectOptions configures Manager.ConnectWithOptions. The Notify* fields
// ask the system to alert the user while the app is suspended; stacks
// without such a facility ignore them.
type ConnectOptions struct {
	NotifyOnConnection    bool
	NotifyOnDisconnection bool
	NotifyOnNotification  bool
	// StartDelay postpones the connection attempt. Whole seconds only.
	StartDelay time.Duration
}

func (o ScanOptions) native() native.ScanOptions {
	return native.ScanOptions{
		AllowDuplicates:   o.AllowDuplicates,
		SolicitedServices: o.SolicitedServices,
	}
}

func (o ConnectOptions) native() native.ConnectOptions {
	return native.ConnectOptions{
		NotifyOnConnection:    o.NotifyOnConnection,
		NotifyOnDisconnection: o.NotifyOnDisconnection,
		NotifyOnNotification:  o.NotifyOnNotification,
		StartDelaySeconds:     int(o.StartDelay / time.Second),
	}
}
