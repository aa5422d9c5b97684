package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/ringchan"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/eventchan"
	"github.com/srg/blecentral/pkg/uuid"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventUpdated {
		return "updated"
	}
	return "new"
}

// Entry is what the scanner knows about one peripheral.
type Entry struct {
	Peripheral    central.Peripheral
	Name          string
	RSSI          int
	Advertisement central.AdvertisementData
	FirstSeen     time.Time
	LastSeen      time.Time
	Seen          int
}

type DeviceEvent struct {
	Type  DeviceEventType
	Entry Entry
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	// Duration bounds the scan; zero scans until the context ends.
	Duration        time.Duration
	AllowDuplicates bool
	Services        []uuid.UUID
	// AllowList and BlockList match a peripheral ID or advertised name,
	// case-insensitively. An empty AllowList admits everything.
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{Duration: 10 * time.Second}
}

// Scanner drives discovery through a central.Manager. It consumes the
// manager's event stream for the duration of Scan, so nothing else may read
// it concurrently.
type Scanner struct {
	mgr     *central.Manager
	stream  *eventchan.Receiver[central.Event]
	devices *hashmap.Map[string, Entry]
	events  *ringchan.Ring[DeviceEvent]
	logger  *logrus.Logger
	now     func() time.Time
}

// NewScanner creates a scanner over mgr and its event stream.
func NewScanner(mgr *central.Manager, stream *eventchan.Receiver[central.Event], logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		mgr:     mgr,
		stream:  stream,
		devices: hashmap.New[string, Entry](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
		now:     time.Now,
	}
}

// Events returns discovery events. Slow readers lose the oldest ones.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Scan runs discovery until opts.Duration elapses or ctx ends and returns
// every admitted peripheral keyed by ID. The scan is restarted when the
// adapter comes back after being powered off.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progress ProgressCallback) (map[string]Entry, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.devices = hashmap.New[string, Entry]()
	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	run := &scanRun{
		opts:     opts,
		progress: progress,
		native:   central.ScanOptions{AllowDuplicates: opts.AllowDuplicates, Services: opts.Services},
	}
	if s.mgr.State() == central.StatePoweredOn {
		s.start(run)
	} else {
		progress("Waiting for Bluetooth")
	}

	err := s.loop(ctx, run)
	s.mgr.CancelScan()
	if err != nil {
		return nil, err
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progress("Processing results")
	return s.Devices(), nil
}

// scanRun is the state of one Scan call.
type scanRun struct {
	opts     *ScanOptions
	progress ProgressCallback
	native   central.ScanOptions
	scanning bool
}

func (s *Scanner) start(run *scanRun) {
	run.progress("Scanning")
	s.mgr.Scan(run.native)
	run.scanning = true
}

func (s *Scanner) loop(ctx context.Context, run *scanRun) error {
	for {
		ev, err := s.stream.RecvContext(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case err != nil:
			return fmt.Errorf("scan aborted: %w", err)
		}

		switch e := ev.(type) {
		case central.ManagerStateChanged:
			switch {
			case e.NewState == central.StatePoweredOn:
				if !run.scanning {
					s.start(run)
				}
			case e.NewState.Fatal():
				return fmt.Errorf("bluetooth is %s", e.NewState)
			default:
				run.scanning = false
				s.logger.WithField("state", e.NewState).Warn("Scan paused, waiting for Bluetooth")
			}
		case central.PeripheralDiscovered:
			s.handleDiscovery(e, run.opts)
		default:
			s.logger.WithField("event", ev.Kind()).Debug("Ignoring event during scan")
		}
	}
}

// handleDiscovery updates existing or adds a new device
func (s *Scanner) handleDiscovery(ev central.PeripheralDiscovered, opts *ScanOptions) {
	id := ev.Peripheral.ID().String()
	now := s.now()

	entry, existing := s.devices.Get(id)
	if !existing {
		if !shouldInclude(ev, opts) {
			return
		}
		entry = Entry{FirstSeen: now}
	}

	entry.Peripheral = ev.Peripheral
	entry.RSSI = ev.RSSI
	entry.Advertisement = ev.AdvertisementData
	entry.LastSeen = now
	entry.Seen++
	entry.Name = displayName(ev)
	s.devices.Set(id, entry)

	event := DeviceEvent{Type: EventUpdated, Entry: entry}
	if !existing {
		s.logger.WithFields(logrus.Fields{
			"device": entry.Name,
			"id":     id,
			"rssi":   entry.RSSI,
		}).Info("Discovered new device")
		event.Type = EventNew
	}
	s.events.Send(event)
}

func displayName(ev central.PeripheralDiscovered) string {
	if name, ok := ev.AdvertisementData.LocalName(); ok && name != "" {
		return name
	}
	return ev.Peripheral.Name()
}

func matchesAny(list []string, ev central.PeripheralDiscovered) bool {
	id := ev.Peripheral.ID().String()
	name := displayName(ev)
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(v, id) || (name != "" && strings.EqualFold(v, name))
	})
}

// shouldInclude applies the allow/block/service filters
func shouldInclude(ev central.PeripheralDiscovered, opts *ScanOptions) bool {
	if matchesAny(opts.BlockList, ev) {
		return false
	}
	if len(opts.AllowList) > 0 && !matchesAny(opts.AllowList, ev) {
		return false
	}
	if len(opts.Services) > 0 {
		return slices.ContainsFunc(opts.Services, ev.AdvertisementData.HasService)
	}
	return true
}

// Devices returns a snapshot of the peripherals discovered so far.
func (s *Scanner) Devices() map[string]Entry {
	out := make(map[string]Entry, s.devices.Len())
	s.devices.Range(func(key string, value Entry) bool {
		out[key] = value
		return true
	})
	return out
}

// Sorted returns entries ordered by descending RSSI, then ID.
func Sorted(devices map[string]Entry) []Entry {
	out := make([]Entry, 0, len(devices))
	for _, e := range devices {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Peripheral.ID().String(), b.Peripheral.ID().String())
	})
	return out
}
