// Package uuid implements the 128-bit Bluetooth UUID with 16/32-bit short forms
// embedded into the Bluetooth Base UUID.
package uuid

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	guuid "github.com/google/uuid"
)

// Base is the Bluetooth Base UUID 00000000-0000-1000-8000-00805f9b34fb.
var Base = UUID{0, 0, 0, 0, 0, 0, 0x10, 0, 0x80, 0, 0, 0x80, 0x5f, 0x9b, 0x34, 0xfb}

// ErrInvalid is returned (wrapped) for every malformed UUID input.
var ErrInvalid = errors.New("invalid UUID")

// UUID is a canonical 128-bit UUID in big-endian byte order.
type UUID [16]byte

// FromSlice builds a UUID from its 2-, 4- or 16-byte big-endian form.
// Short forms are placed into the Base UUID.
func FromSlice(b []byte) (UUID, error) {
	u := Base
	switch len(b) {
	case 2:
		copy(u[2:4], b)
	case 4:
		copy(u[0:4], b)
	case 16:
		copy(u[:], b)
	default:
		return UUID{}, fmt.Errorf("%w: unsupported length %d", ErrInvalid, len(b))
	}
	return u, nil
}

// From16 returns the UUID of a 16-bit SIG assigned number.
func From16(v uint16) UUID {
	u := Base
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// From32 returns the UUID of a 32-bit SIG assigned number.
func From32(v uint32) UUID {
	u := Base
	u[0] = byte(v >> 24)
	u[1] = byte(v >> 16)
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return u
}

// Shorten returns the shortest form of u: 2 bytes when u is a 16-bit UUID,
// 4 bytes when u is a 32-bit UUID, the full 16 bytes otherwise.
func (u UUID) Shorten() []byte {
	if !u.hasBaseSuffix() {
		return append([]byte(nil), u[:]...)
	}
	if u[0] == 0 && u[1] == 0 {
		return append([]byte(nil), u[2:4]...)
	}
	return append([]byte(nil), u[0:4]...)
}

// Is16Bit reports whether u shortens to two bytes.
func (u UUID) Is16Bit() bool {
	return u.hasBaseSuffix() && u[0] == 0 && u[1] == 0
}

// Is32Bit reports whether u shortens to four bytes.
func (u UUID) Is32Bit() bool {
	return u.hasBaseSuffix() && !u.Is16Bit()
}

func (u UUID) hasBaseSuffix() bool {
	return [12]byte(u[4:]) == [12]byte(Base[4:])
}

// IsZero reports whether u is the nil UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// String formats u as lower-case xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func (u UUID) String() string {
	return guuid.UUID(u).String()
}

// ShortString formats 16/32-bit UUIDs as their hex short form and
// everything else like String.
func (u UUID) ShortString() string {
	if !u.hasBaseSuffix() {
		return u.String()
	}
	return hex.EncodeToString(u.Shorten())
}

// Parse parses the canonical 36-character hyphenated form, case-insensitively.
// The braced, URN and unhyphenated forms are rejected.
func Parse(s string) (UUID, error) {
	if len(s) != 36 {
		return UUID{}, fmt.Errorf("%w: %q has length %d, want 36", ErrInvalid, s, len(s))
	}
	u, err := guuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %q: %v", ErrInvalid, s, err)
	}
	return UUID(u), nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseShort accepts the canonical form, or 4 or 8 hex digits with an
// optional 0x prefix, as typed on command lines ("180F", "0x2a19").
func ParseShort(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 36 {
		return Parse(s)
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(trimmed) == 32 {
		raw, err := hex.DecodeString(trimmed)
		if err != nil {
			return UUID{}, fmt.Errorf("%w: %q contains non-hex characters", ErrInvalid, s)
		}
		return FromSlice(raw)
	}
	if len(trimmed) != 4 && len(trimmed) != 8 {
		return UUID{}, fmt.Errorf("%w: %q is neither a short nor a canonical UUID", ErrInvalid, s)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return UUID{}, fmt.Errorf("%w: %q contains non-hex characters", ErrInvalid, s)
	}
	return FromSlice(raw)
}

// ParseList parses every entry with ParseShort.
func ParseList(ss ...string) ([]UUID, error) {
	out := make([]UUID, 0, len(ss))
	for i, s := range ss {
		u, err := ParseShort(s)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// MarshalText implements encoding.TextMarshaler.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler; short forms are accepted.
func (u *UUID) UnmarshalText(text []byte) error {
	parsed, err := ParseShort(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
