package central

import (
	"strings"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/bleerror"
	"github.com/srg/blecentral/pkg/uuid"
)

// Tag is an opaque caller value echoed back in the matching result event.
type Tag = any

// ----------------------------
// Peripheral
// ----------------------------

// Peripheral is a handle to a remote device. Handles are small values: copy
// them freely. Two handles refer to the same device when their IDs are equal;
// use ID as the map key.
//
// A handle stays usable while the device is connected and the manager has not
// dropped below PoweredOff since the handle was issued. Operations on a stale
// handle fail through their result event.
type Peripheral struct {
	id     uuid.UUID
	name   string
	native native.Peripheral
	epoch  uint64
	b      *bridge
}

// ID is the system-assigned identifier of the device. It is not a GATT UUID.
func (p Peripheral) ID() uuid.UUID { return p.id }

// Equal compares identities.
func (p Peripheral) Equal(other Peripheral) bool { return p.id == other.id }

// IsValid reports whether p was issued by a manager.
func (p Peripheral) IsValid() bool { return p.b != nil && p.native != nil }

// Name is the device name known when the handle was issued; may be empty.
func (p Peripheral) Name() string { return p.name }

func (p Peripheral) String() string { return p.id.String() }

// attrLink names the peripheral and the connection an attribute handle was
// discovered on. Handles are only accepted by that peripheral while that
// connection is up.
type attrLink struct {
	peripheral uuid.UUID
	gen        uint64
}

func (l attrLink) origin() attrLink { return l }

// attribute is a Service, Characteristic or Descriptor.
type attribute interface {
	check() error
	origin() attrLink
}

// ----------------------------
// Service
// ----------------------------

// Service is a discovered GATT service. IsPrimary is captured at discovery.
type Service struct {
	attrLink
	id      uuid.UUID
	primary bool
	native  native.Service
}

func (s Service) ID() uuid.UUID            { return s.id }
func (s Service) IsPrimary() bool          { return s.primary }
func (s Service) Equal(other Service) bool { return s.id == other.id }
func (s Service) String() string           { return s.id.ShortString() }

// ----------------------------
// Characteristic
// ----------------------------

// Properties is the characteristic property bit set.
type Properties uint

const (
	PropBroadcast                  Properties = 0x01
	PropRead                       Properties = 0x02
	PropWriteWithoutResponse       Properties = 0x04
	PropWrite                      Properties = 0x08
	PropNotify                     Properties = 0x10
	PropIndicate                   Properties = 0x20
	PropAuthenticatedSignedWrites  Properties = 0x40
	PropExtendedProperties         Properties = 0x80
	PropNotifyEncryptionRequired   Properties = 0x100
	PropIndicateEncryptionRequired Properties = 0x200
)

var propertyNames = []struct {
	p    Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{PropExtendedProperties, "extended-properties"},
	{PropNotifyEncryptionRequired, "notify-encryption-required"},
	{PropIndicateEncryptionRequired, "indicate-encryption-required"},
}

// Has reports whether every bit of flag is set.
func (p Properties) Has(flag Properties) bool { return p&flag == flag }

// Names lists the set properties in bit order.
func (p Properties) Names() []string {
	var out []string
	for _, pn := range propertyNames {
		if p.Has(pn.p) {
			out = append(out, pn.name)
		}
	}
	return out
}

func (p Properties) String() string { return strings.Join(p.Names(), ",") }

// Characteristic is a discovered GATT characteristic. Properties are captured
// at discovery; values arrive through CharacteristicValue events.
type Characteristic struct {
	attrLink
	id         uuid.UUID
	properties Properties
	native     native.Characteristic
}

func (c Characteristic) ID() uuid.UUID                   { return c.id }
func (c Characteristic) Properties() Properties          { return c.properties }
func (c Characteristic) Equal(other Characteristic) bool { return c.id == other.id }
func (c Characteristic) String() string                  { return c.id.ShortString() }

// ----------------------------
// Descriptor
// ----------------------------

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	attrLink
	id     uuid.UUID
	native native.Descriptor
}

func (d Descriptor) ID() uuid.UUID               { return d.id }
func (d Descriptor) Equal(other Descriptor) bool { return d.id == other.id }
func (d Descriptor) String() string              { return d.id.ShortString() }

// ----------------------------
// Write parameters
// ----------------------------

// WriteKind selects between write requests and write commands.
type WriteKind int

const (
	WithResponse    WriteKind = 0
	WithoutResponse WriteKind = 1
)

func (k WriteKind) String() string {
	if k == WithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// MaxWriteLen is the largest single write the link accepts per WriteKind.
type MaxWriteLen struct {
	WithResponse    int
	WithoutResponse int
}

// For returns the limit for kind.
func (m MaxWriteLen) For(kind WriteKind) int {
	if kind == WithoutResponse {
		return m.WithoutResponse
	}
	return m.WithResponse
}

// ----------------------------
// Wrapping
// ----------------------------

func wrapService(l attrLink, s native.Service) Service {
	if s == nil {
		return Service{}
	}
	return Service{attrLink: l, id: s.UUID(), primary: s.IsPrimary(), native: s}
}

func wrapCharacteristic(l attrLink, c native.Characteristic) Characteristic {
	if c == nil {
		return Characteristic{}
	}
	return Characteristic{attrLink: l, id: c.UUID(), properties: Properties(c.Properties()), native: c}
}

func wrapDescriptor(l attrLink, d native.Descriptor) Descriptor {
	if d == nil {
		return Descriptor{}
	}
	return Descriptor{attrLink: l, id: d.UUID(), native: d}
}

func wrapServices(l attrLink, in []native.Service) []Service {
	out := make([]Service, 0, len(in))
	for _, s := range in {
		out = append(out, wrapService(l, s))
	}
	return out
}

func wrapCharacteristics(l attrLink, in []native.Characteristic) []Characteristic {
	out := make([]Characteristic, 0, len(in))
	for _, c := range in {
		out = append(out, wrapCharacteristic(l, c))
	}
	return out
}

func wrapDescriptors(l attrLink, in []native.Descriptor) []Descriptor {
	out := make([]Descriptor, 0, len(in))
	for _, d := range in {
		out = append(out, wrapDescriptor(l, d))
	}
	return out
}

func errZeroHandle(what string) error {
	return bleerror.New(bleerror.KindInvalidParameters, "zero "+what+" handle")
}

func (s Service) check() error {
	if s.native == nil {
		return errZeroHandle("Service")
	}
	return nil
}

func (c Characteristic) check() error {
	if c.native == nil {
		return errZeroHandle("Characteristic")
	}
	return nil
}

func (d Descriptor) check() error {
	if d.native == nil {
		return errZeroHandle("Descriptor")
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
