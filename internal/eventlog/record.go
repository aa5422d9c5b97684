// Package eventlog turns central events into printable records and keeps a
// bounded history of them.
package eventlog

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/srg/blecentral/pkg/central"
)

// Record is one event rendered for display.
type Record struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"`
	Peripheral string    `json:"peripheral,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Err        string    `json:"error,omitempty"`
}

func (r Record) String() string {
	var b strings.Builder
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(r.Kind)
	if r.Peripheral != "" {
		b.WriteString(" [" + r.Peripheral + "]")
	}
	if r.Summary != "" {
		b.WriteString(" " + r.Summary)
	}
	if r.Err != "" {
		b.WriteString(" ERROR: " + r.Err)
	}
	return b.String()
}

// FromEvent renders ev.
func FromEvent(ev central.Event, at time.Time) Record {
	rec := Record{Time: at, Kind: ev.Kind().String(), Summary: summarize(ev)}
	if p, ok := central.PeripheralOf(ev); ok {
		rec.Peripheral = p.ID().String()
	}
	if err := central.ErrOf(ev); err != nil {
		rec.Err = err.Error()
	}
	return rec
}

func summarize(ev central.Event) string {
	switch e := ev.(type) {
	case central.ManagerStateChanged:
		return e.NewState.String()
	case central.PeripheralDiscovered:
		s := fmt.Sprintf("rssi=%d", e.RSSI)
		if name, ok := e.AdvertisementData.LocalName(); ok {
			s = fmt.Sprintf("name=%q %s", name, s)
		}
		return s
	case central.GetPeripheralsResult:
		return fmt.Sprintf("count=%d tag=%v", len(e.Peripherals), e.Tag)
	case central.GetPeripheralsWithServicesResult:
		return fmt.Sprintf("count=%d tag=%v", len(e.Peripherals), e.Tag)
	case central.ServicesDiscovered:
		return "services=" + joinIDs(e.Services)
	case central.IncludedServicesDiscovered:
		return fmt.Sprintf("service=%s included=%s", e.Service, joinIDs(e.IncludedServices))
	case central.CharacteristicsDiscovered:
		return fmt.Sprintf("service=%s characteristics=%s", e.Service, joinIDs(e.Characteristics))
	case central.CharacteristicValue:
		return fmt.Sprintf("characteristic=%s value=%s", e.Characteristic, hex.EncodeToString(e.Value))
	case central.DescriptorsDiscovered:
		return fmt.Sprintf("characteristic=%s descriptors=%s", e.Characteristic, joinIDs(e.Descriptors))
	case central.DescriptorValue:
		return fmt.Sprintf("descriptor=%s value=%s", e.Descriptor, hex.EncodeToString(e.Value))
	case central.WriteCharacteristicResult:
		return "characteristic=" + e.Characteristic.String()
	case central.WriteDescriptorResult:
		return "descriptor=" + e.Descriptor.String()
	case central.SubscriptionChanged:
		return "characteristic=" + e.Characteristic.String()
	case central.ReadRSSIResult:
		return fmt.Sprintf("rssi=%d", e.RSSI)
	case central.PeripheralNameChanged:
		return fmt.Sprintf("name=%q", e.NewName)
	case central.ServicesChanged:
		return "invalidated=" + joinIDs(e.InvalidatedServices)
	case central.GetMaxWriteLenResult:
		return fmt.Sprintf("with-response=%d without-response=%d tag=%v",
			e.MaxWriteLen.WithResponse, e.MaxWriteLen.WithoutResponse, e.Tag)
	}
	return ""
}

func joinIDs[T fmt.Stringer](items []T) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
