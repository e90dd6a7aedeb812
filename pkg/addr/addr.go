// Package addr provides the typed address and machine-word primitives
// shared by every other coreminer package. Addresses and words are plain
// uint64 wrappers; the type exists so that a function signature makes it
// impossible to accidentally pass a byte count where an address belongs.
package addr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Address is an absolute virtual address inside the debuggee's address
// space, unless a caller explicitly documents it as a link-time offset.
type Address uint64

// Null is the zero address.
const Null Address = 0

// FromUint64 builds an Address from a raw value.
func FromUint64(v uint64) Address { return Address(v) }

// Uint64 returns the address as a raw value.
func (a Address) Uint64() uint64 { return uint64(a) }

// IsNull reports whether a is the null address.
func (a Address) IsNull() bool { return a == Null }

// Add returns a+n. n may be negative; the result wraps per two's complement,
// matching pointer arithmetic in the debuggee.
func (a Address) Add(n int64) Address { return Address(int64(a) + n) }

// Sub returns a-n.
func (a Address) Sub(n int64) Address { return Address(int64(a) - n) }

// Diff returns a-b as a signed offset.
func (a Address) Diff(b Address) int64 { return int64(a) - int64(b) }

// String renders the address as 0x-prefixed lowercase hex, zero-padded to
// 16 digits, so addresses line up in columnar output.
func (a Address) String() string {
	return fmt.Sprintf("0x%016x", uint64(a))
}

// ParseAddress parses a hex string with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	return Address(v), nil
}

// MarshalText implements encoding.TextMarshaler so Address round-trips
// through encoding/json (and thus the line-JSON protocol) as a hex string.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

var _ json.Marshaler = Address(0)
var _ json.Unmarshaler = (*Address)(nil)

// MarshalJSON is implemented explicitly so an Address value serializes as
// a hex string; Address keys in maps go through MarshalText instead.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON mirrors MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
