// Package value holds the tagged recursive value carried inside stream
// messages (digest data, for example). A TypedValue is built once per
// inbound message and is immutable afterwards, so it can be shared between
// subscribers without copying.
package value

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind identifies which variant of a TypedValue is populated.
type Kind uint8

const (
	KindUnset Kind = iota
	KindBool
	KindBitstring
	KindVarbit
	KindRecord
	KindTuple
)

func (k Kind) String() string {
	switch k {
	case KindUnset:
		return "unset"
	case KindBool:
		return "bool"
	case KindBitstring:
		return "bitstring"
	case KindVarbit:
		return "varbit"
	case KindRecord:
		return "record"
	case KindTuple:
		return "tuple"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// TypedValue is a closed tagged union. The zero value and a nil pointer are
// both unset.
type TypedValue struct {
	kind    Kind
	b       bool
	bits    []byte
	width   uint32
	members []*TypedValue
}

// Unset returns a value with no variant populated.
func Unset() *TypedValue { return &TypedValue{} }

// Bool returns a boolean value.
func Bool(b bool) *TypedValue { return &TypedValue{kind: KindBool, b: b} }

// Bitstring returns an unsigned big-endian bitstring. The input is copied.
func Bitstring(b []byte) *TypedValue {
	return &TypedValue{kind: KindBitstring, bits: bytes.Clone(nonNil(b))}
}

// Varbit returns a bitstring with an explicit bit width. The input is copied.
func Varbit(b []byte, width uint32) *TypedValue {
	return &TypedValue{kind: KindVarbit, bits: bytes.Clone(nonNil(b)), width: width}
}

// Record returns a positional aggregate matched against struct fields.
func Record(members ...*TypedValue) *TypedValue {
	return &TypedValue{kind: KindRecord, members: cloneMembers(members)}
}

// Tuple returns a positional aggregate matched against arrays and slices.
func Tuple(members ...*TypedValue) *TypedValue {
	return &TypedValue{kind: KindTuple, members: cloneMembers(members)}
}

// Uint returns the shortest unsigned bitstring encoding of v.
func Uint(v uint64) *TypedValue {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	b := bytes.TrimLeft(buf[:], "\x00")
	if len(b) == 0 {
		b = buf[7:]
	}
	return &TypedValue{kind: KindBitstring, bits: bytes.Clone(b)}
}

// Kind reports the populated variant.
func (v *TypedValue) Kind() Kind {
	if v == nil {
		return KindUnset
	}
	return v.kind
}

// IsSet reports whether any variant is populated.
func (v *TypedValue) IsSet() bool { return v.Kind() != KindUnset }

// AsBool returns the boolean payload.
func (v *TypedValue) AsBool() (bool, bool) {
	if v.Kind() != KindBool {
		return false, false
	}
	return v.b, true
}

// Bits returns the bitstring payload. The returned slice must not be modified.
func (v *TypedValue) Bits() ([]byte, bool) {
	if v.Kind() != KindBitstring {
		return nil, false
	}
	return v.bits, true
}

// VarBits returns the varbit payload and its declared width. The returned
// slice must not be modified.
func (v *TypedValue) VarBits() ([]byte, uint32, bool) {
	if v.Kind() != KindVarbit {
		return nil, 0, false
	}
	return v.bits, v.width, true
}

// Members returns the members of a record or tuple. The returned slice must
// not be modified.
func (v *TypedValue) Members() []*TypedValue {
	switch v.Kind() {
	case KindRecord, KindTuple:
		return v.members
	default:
		return nil
	}
}

// Equal reports whether two values carry the same variant and payload.
func (v *TypedValue) Equal(o *TypedValue) bool {
	if v.Kind() != o.Kind() {
		return false
	}
	switch v.Kind() {
	case KindUnset:
		return true
	case KindBool:
		return v.b == o.b
	case KindBitstring:
		return bytes.Equal(v.bits, o.bits)
	case KindVarbit:
		return v.width == o.width && bytes.Equal(v.bits, o.bits)
	default:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if !v.members[i].Equal(o.members[i]) {
				return false
			}
		}
		return true
	}
}

func (v *TypedValue) String() string {
	switch v.Kind() {
	case KindUnset:
		return "unset"
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.b)
	case KindBitstring:
		return "bitstring(0x" + hex.EncodeToString(v.bits) + ")"
	case KindVarbit:
		return fmt.Sprintf("varbit(0x%s/%d)", hex.EncodeToString(v.bits), v.width)
	default:
		parts := make([]string, len(v.members))
		for i, m := range v.members {
			parts[i] = m.String()
		}
		return v.kind.String() + "{" + strings.Join(parts, ", ") + "}"
	}
}

// Canonicalize strips redundant leading 0x00 and 0xFF bytes, keeping at
// least one byte, the shortest form P4Runtime servers accept.
func Canonicalize(b []byte) []byte {
	for i, x := range b {
		if x != 0x00 && x != 0xFF {
			return bytes.Clone(b[i:])
		}
	}
	if len(b) == 0 {
		return []byte{}
	}
	return []byte{b[len(b)-1]}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func cloneMembers(members []*TypedValue) []*TypedValue {
	out := make([]*TypedValue, len(members))
	copy(out, members)
	return out
}
