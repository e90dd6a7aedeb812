package addr

import (
	"encoding/json"
	"fmt"
)

// Word is an unsigned integer exactly as wide as the debuggee's machine
// word. coreminer only targets x86-64 tracees, so a Word is always 64 bits;
// every ptrace PEEKTEXT/PEEKDATA result and POKETEXT/POKEDATA argument is a
// Word.
type Word uint64

// Size is the width of a Word in bytes.
const Size = 8

// Bytes returns the little-endian byte representation of w, matching the
// x86-64 tracee's own byte order.
func (w Word) Bytes() [Size]byte {
	var b [Size]byte
	for i := 0; i < Size; i++ {
		b[i] = byte(w >> (8 * i))
	}
	return b
}

// WordFromBytes reconstructs a Word from up to 8 little-endian bytes,
// zero-extending if fewer than 8 are given.
func WordFromBytes(b []byte) Word {
	var w Word
	for i := 0; i < Size && i < len(b); i++ {
		w |= Word(b[i]) << (8 * i)
	}
	return w
}

// Uint64 returns the word as a raw value.
func (w Word) Uint64() uint64 { return uint64(w) }

func (w Word) String() string {
	return fmt.Sprintf("0x%016x", uint64(w))
}

// MarshalJSON renders the word as a hex string, matching Address.
func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON mirrors MarshalJSON.
func (w *Word) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*w = Word(a)
	return nil
}
