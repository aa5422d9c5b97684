// Package mibeacon decodes the Xiaomi MiBeacon frames that Mi sensors
// broadcast as service data for UUID 0xfe95.
package mibeacon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ServiceUUID16 is the 16-bit service data UUID MiBeacon frames are sent under.
const ServiceUUID16 = 0xfe95

// Frame control flags, first byte.
type Flags uint8

const (
	FlagEncrypted     Flags = 0x08
	FlagHasMAC        Flags = 0x10
	FlagHasCapability Flags = 0x20
	FlagHasData       Flags = 0x40
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// Product is the device type identifier, bytes 2-3 little-endian.
type Product uint16

var productNames = map[Product]string{
	0x0098: "HHCCJCY01",
	0x01aa: "LYWSDCGQ",
	0x045b: "LYWSD02",
	0x0347: "CGG1",
	0x015d: "HHCCPOT002",
	0x03bc: "GCLS002",
	0x055b: "LYWSD03MMC",
	0x0576: "CGD1",
	0x02df: "JQJCY01YM",
	0x040a: "WX08ZM",
}

func (p Product) String() string {
	if name, ok := productNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Product(0x%04x)", uint16(p))
}

// Known reports whether p is a recognised device type.
func (p Product) Known() bool {
	_, ok := productNames[p]
	return ok
}

// Quantity is what a Reading measures.
type Quantity int

const (
	Temperature Quantity = iota
	Humidity
	Battery
	Moisture
	Conductivity
	Illuminance
	Formaldehyde
	Switch
	Consumable
)

var quantities = [...]struct{ name, unit string }{
	Temperature:  {"temperature", "°C"},
	Humidity:     {"humidity", "%"},
	Battery:      {"battery", "%"},
	Moisture:     {"moisture", "%"},
	Conductivity: {"conductivity", "µS/cm"},
	Illuminance:  {"illuminance", "lx"},
	Formaldehyde: {"formaldehyde", "mg/m³"},
	Switch:       {"switch", ""},
	Consumable:   {"consumable", "%"},
}

func (q Quantity) String() string { return quantities[q].name }
func (q Quantity) Unit() string   { return quantities[q].unit }

// Reading is one decoded sensor value.
type Reading struct {
	Quantity Quantity
	Value    float64
}

func (r Reading) String() string {
	return r.Quantity.String() + "=" + strconv.FormatFloat(r.Value, 'f', -1, 64) + r.Quantity.Unit()
}

// Object is a payload entry the decoder does not understand.
type Object struct {
	Type uint16
	Data []byte
}

// Packet is a parsed frame.
type Packet struct {
	Flags        Flags
	Product      Product
	FrameCounter uint8
	MAC          net.HardwareAddr
	Readings     []Reading
	Unknown      []Object
	// Truncated is set when the payload ended inside an object.
	Truncated bool
}

func (p Packet) String() string {
	parts := make([]string, 0, len(p.Readings))
	for _, r := range p.Readings {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%s (%s): %s", p.MAC, p.Product, strings.Join(parts, " "))
}

var (
	ErrTooShort       = errors.New("mibeacon: frame too short")
	ErrUnknownProduct = errors.New("mibeacon: unrecognized device type")
	// ErrEncrypted is returned with the header fields filled in; the payload
	// needs the device bind key.
	ErrEncrypted = errors.New("mibeacon: payload is encrypted")
)

const (
	minFrameLen = 12
	macOffset   = 5
)

// Parse decodes a frame. On ErrUnknownProduct and ErrEncrypted the returned
// packet still carries the header fields.
func Parse(frame []byte) (Packet, error) {
	if len(frame) < minFrameLen {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrTooShort, len(frame))
	}

	p := Packet{
		Flags:        Flags(frame[0]),
		Product:      Product(binary.LittleEndian.Uint16(frame[2:4])),
		FrameCounter: frame[4],
		MAC:          make(net.HardwareAddr, 6),
	}
	// MAC is sent least significant byte first
	for i := 0; i < 6; i++ {
		p.MAC[i] = frame[macOffset+5-i]
	}

	if !p.Product.Known() {
		return p, fmt.Errorf("%w (%s): 0x%04x", ErrUnknownProduct, p.MAC, uint16(p.Product))
	}
	if !p.Flags.Has(FlagHasData) {
		return p, nil
	}
	if p.Flags.Has(FlagEncrypted) {
		return p, fmt.Errorf("%w (%s)", ErrEncrypted, p.MAC)
	}

	start := macOffset + 6
	if p.Flags.Has(FlagHasCapability) {
		start++
	}
	p.decodeObjects(frame[start:])
	return p, nil
}

func (p *Packet) decodeObjects(payload []byte) {
	for len(payload) > 0 {
		if len(payload) < 3 {
			p.Truncated = true
			return
		}
		typ := binary.LittleEndian.Uint16(payload[0:2])
		n := int(payload[2])
		payload = payload[3:]
		if n > len(payload) {
			p.Truncated = true
			return
		}
		v := payload[:n]
		payload = payload[n:]

		if readings, ok := decodeObject(typ, v); ok {
			p.Readings = append(p.Readings, readings...)
		} else {
			p.Unknown = append(p.Unknown, Object{Type: typ, Data: append([]byte(nil), v...)})
		}
	}
}

func decodeObject(typ uint16, v []byte) ([]Reading, bool) {
	u16 := func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) }
	i16 := func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) }

	switch {
	case typ == 0x1004 && len(v) == 2:
		return []Reading{{Temperature, i16(v) / 10}}, true
	case typ == 0x1006 && len(v) == 2:
		return []Reading{{Humidity, u16(v) / 10}}, true
	case typ == 0x100a && len(v) == 1:
		return []Reading{{Battery, float64(v[0])}}, true
	case typ == 0x1008 && len(v) == 1:
		return []Reading{{Moisture, float64(v[0])}}, true
	case typ == 0x1009 && len(v) == 2:
		return []Reading{{Conductivity, u16(v)}}, true
	case typ == 0x1007 && len(v) == 3:
		return []Reading{{Illuminance, float64(uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16)}}, true
	case typ == 0x100d && len(v) == 4:
		return []Reading{{Temperature, i16(v[0:2]) / 10}, {Humidity, u16(v[2:4]) / 10}}, true
	case typ == 0x1010 && len(v) == 2:
		return []Reading{{Formaldehyde, u16(v) / 100}}, true
	case typ == 0x1012 && len(v) == 1:
		return []Reading{{Switch, float64(v[0])}}, true
	case typ == 0x1013 && len(v) == 1:
		return []Reading{{Consumable, float64(v[0])}}, true
	}
	return nil, false
}
