package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	guuid "github.com/google/uuid"
	"github.com/srg/blecentral/pkg/uuid"
)

// DescriptorConfig describes a simulated descriptor.
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig describes a simulated characteristic.
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g., "read,write,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig describes a simulated service.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Secondary       bool                   `json:"secondary,omitempty"`
	Includes        []string               `json:"includes,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// AdvertisementConfig describes what a simulated peripheral advertises.
type AdvertisementConfig struct {
	LocalName        string            `json:"local_name,omitempty"`
	ManufacturerData []byte            `json:"manufacturer_data,omitempty"`
	ServiceData      map[string][]byte `json:"service_data,omitempty"`
	Services         []string          `json:"services,omitempty"`
	TxPower          *int              `json:"tx_power,omitempty"`
	Connectable      *bool             `json:"connectable,omitempty"`
}

// PeripheralConfig is the complete description of a simulated peripheral.
type PeripheralConfig struct {
	ID            string              `json:"id,omitempty"`
	Name          string              `json:"name,omitempty"`
	RSSI          int                 `json:"rssi,omitempty"`
	MTU           int                 `json:"mtu,omitempty"`
	Advertisement AdvertisementConfig `json:"advertisement"`
	Services      []ServiceConfig     `json:"services"`
}

// PeripheralBuilder builds a SimPeripheral fluently or from JSON.
//
//	p := testutils.NewPeripheralBuilder().
//	    WithName("HRM").
//	    WithService("180D").
//	    WithCharacteristic("2A37", "read,notify", []byte{0x00, 0x48}).
//	    Build()
type PeripheralBuilder struct {
	config         PeripheralConfig
	connectErr     error
	pendingConnect bool
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{config: PeripheralConfig{RSSI: -50}}
}

// FromJSON replaces the configuration with the formatted JSON document.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if config.RSSI == 0 {
		config.RSSI = -50
	}
	b.config = config
	return b
}

func (b *PeripheralBuilder) WithID(id string) *PeripheralBuilder {
	b.config.ID = id
	return b
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.config.Name = name
	b.config.Advertisement.LocalName = name
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.config.RSSI = rssi
	return b
}

func (b *PeripheralBuilder) WithMTU(mtu int) *PeripheralBuilder {
	b.config.MTU = mtu
	return b
}

func (b *PeripheralBuilder) WithManufacturerData(data []byte) *PeripheralBuilder {
	b.config.Advertisement.ManufacturerData = data
	return b
}

func (b *PeripheralBuilder) WithServiceData(svc string, data []byte) *PeripheralBuilder {
	if b.config.Advertisement.ServiceData == nil {
		b.config.Advertisement.ServiceData = make(map[string][]byte)
	}
	b.config.Advertisement.ServiceData[svc] = data
	return b
}

// WithAdvertisedService lists svc in the advertisement without adding it to
// the GATT profile.
func (b *PeripheralBuilder) WithAdvertisedService(svc string) *PeripheralBuilder {
	b.config.Advertisement.Services = append(b.config.Advertisement.Services, svc)
	return b
}

func (b *PeripheralBuilder) WithTxPower(tx int) *PeripheralBuilder {
	b.config.Advertisement.TxPower = &tx
	return b
}

// WithService adds a primary service to the profile and advertises it.
func (b *PeripheralBuilder) WithService(svc string) *PeripheralBuilder {
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: svc})
	b.config.Advertisement.Services = append(b.config.Advertisement.Services, svc)
	return b
}

// WithIncludedService adds a secondary service included by the last one.
func (b *PeripheralBuilder) WithIncludedService(svc string) *PeripheralBuilder {
	last := b.lastService("WithIncludedService")
	last.Includes = append(last.Includes, svc)
	b.config.Services = append(b.config.Services, ServiceConfig{UUID: svc, Secondary: true})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	last := b.lastService("WithCharacteristic")
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	last := b.lastService("WithDescriptor")
	if len(last.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	chr := &last.Characteristics[len(last.Characteristics)-1]
	chr.Descriptors = append(chr.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// WithConnectError makes every connection attempt fail with err.
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithPendingConnect makes connection attempts hang until cancelled.
func (b *PeripheralBuilder) WithPendingConnect() *PeripheralBuilder {
	b.pendingConnect = true
	return b
}

func (b *PeripheralBuilder) Config() PeripheralConfig {
	return b.config
}

func (b *PeripheralBuilder) lastService(caller string) *ServiceConfig {
	if len(b.config.Services) == 0 {
		panic(caller + ": no service added yet, call WithService first")
	}
	return &b.config.Services[len(b.config.Services)-1]
}

// simNamespace scopes identifiers derived from peripheral names.
var simNamespace = guuid.MustParse("0b6f3a52-9c1e-4d7a-8e25-41f0c3d9a6b8")

// Build creates the peripheral. Without an explicit ID one is derived from
// the name, so rebuilding the same configuration yields the same identity.
func (b *PeripheralBuilder) Build() *SimPeripheral {
	cfg := b.config

	id := uuid.UUID(guuid.NewSHA1(simNamespace, []byte(cfg.Name)))
	if cfg.ID != "" {
		id = mustUUID(cfg.ID)
	}

	p := &SimPeripheral{
		id:             id,
		name:           cfg.Name,
		rssi:           cfg.RSSI,
		mtu:            cfg.MTU,
		adv:            cfg.Advertisement,
		connectErr:     b.connectErr,
		pendingConnect: b.pendingConnect,
	}
	if p.mtu == 0 {
		p.mtu = 185
	}

	byUUID := make(map[string]*simService)
	for _, sc := range cfg.Services {
		svc := &simService{id: mustUUID(sc.UUID), primary: !sc.Secondary}
		for _, cc := range sc.Characteristics {
			chr := &simCharacteristic{
				id:    mustUUID(cc.UUID),
				props: ParseProperties(cc.Properties),
				value: append([]byte(nil), cc.Value...),
			}
			for _, dc := range cc.Descriptors {
				chr.descs = append(chr.descs, &simDescriptor{
					id:    mustUUID(dc.UUID),
					value: append([]byte(nil), dc.Value...),
				})
			}
			svc.chars = append(svc.chars, chr)
		}
		p.services = append(p.services, svc)
		byUUID[strings.ToLower(sc.UUID)] = svc
	}
	for i, sc := range cfg.Services {
		for _, inc := range sc.Includes {
			if target, ok := byUUID[strings.ToLower(inc)]; ok {
				p.services[i].includes = append(p.services[i].includes, target)
			}
		}
	}
	return p
}

var propertyNames = map[string]uint{
	"broadcast":              0x01,
	"read":                   0x02,
	"write-without-response": 0x04,
	"write":                  0x08,
	"notify":                 0x10,
	"indicate":               0x20,
}

// ParseProperties converts "read,write,notify" into the property bit set.
// An empty string means read, write and notify.
func ParseProperties(props string) uint {
	if strings.TrimSpace(props) == "" {
		return propertyNames["read"] | propertyNames["write"] | propertyNames["notify"]
	}
	var out uint
	for _, name := range strings.Split(props, ",") {
		bit, ok := propertyNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			panic(fmt.Sprintf("ParseProperties: unknown property %q", name))
		}
		out |= bit
	}
	return out
}

func mustUUID(s string) uuid.UUID {
	u, err := uuid.ParseShort(s)
	if err != nil {
		panic(fmt.Sprintf("testutils: bad UUID %q: %v", s, err))
	}
	return u
}
