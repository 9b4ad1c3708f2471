// Package decode turns a value.TypedValue into a Go value by walking the
// value and the target type in lockstep by position.
//
// Record members map onto exported struct fields in declaration order; field
// names are never consulted. Integers are big-endian and right-aligned into
// the target width without sign extension. Decoding is pure: it keeps no
// state between calls and is safe for concurrent use.
package decode

import (
	"bytes"
	"iter"
	"math/big"
	"net/netip"
	"reflect"
	"strconv"

	"github.com/drblury/p4flow/internal/runtime/value"
)

// Unmarshaler is implemented by types that decode themselves.
type Unmarshaler interface {
	UnmarshalTypedValue(v *value.TypedValue) error
}

var (
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
	bigIntType      = reflect.TypeFor[big.Int]()
	addrType        = reflect.TypeFor[netip.Addr]()
)

// Decode decodes v into a new T.
func Decode[T any](v *value.TypedValue) (T, error) {
	var out T
	if err := Into(v, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Into decodes v into the value target points to.
func Into(v *value.TypedValue, target any) error {
	rv := reflect.ValueOf(target)
	if !rv.IsValid() || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrInvalidTarget
	}
	return decodeValue(v, rv.Elem(), "")
}

// Batch decodes every value in arrival order and stops at the first failure.
func Batch[T any](values []*value.TypedValue) ([]T, error) {
	out := make([]T, 0, len(values))
	for i, v := range values {
		rec, err := Decode[T](v)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// All yields every value decoded in arrival order. Failures are yielded as
// *BatchError and iteration continues, so the caller decides whether to skip
// the item or stop.
func All[T any](values []*value.TypedValue) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for i, v := range values {
			rec, err := Decode[T](v)
			if err != nil {
				err = &BatchError{Index: i, Err: err}
			}
			if !yield(rec, err) {
				return
			}
		}
	}
}

func decodeValue(v *value.TypedValue, dst reflect.Value, path string) error {
	t := dst.Type()

	if t.Kind() != reflect.Pointer && dst.CanAddr() && reflect.PointerTo(t).Implements(unmarshalerType) {
		if err := dst.Addr().Interface().(Unmarshaler).UnmarshalTypedValue(v); err != nil {
			return fail(path, t, err)
		}
		return nil
	}

	switch t {
	case bigIntType:
		return decodeBigInt(v, dst, path)
	case addrType:
		return decodeAddr(v, dst, path)
	}

	switch t.Kind() {
	case reflect.Pointer:
		if !v.IsSet() {
			dst.SetZero()
			return nil
		}
		if dst.IsNil() {
			dst.Set(reflect.New(t.Elem()))
		}
		return decodeValue(v, dst.Elem(), path)

	case reflect.Bool:
		b, ok := v.AsBool()
		if !ok {
			return fail(path, t, ErrExpectedBool)
		}
		dst.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		u, ok := rightAligned(v, t.Size())
		if !ok {
			return fail(path, t, intError(t.Size(), true))
		}
		dst.SetInt(reinterpretSigned(u, t.Size()))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, ok := rightAligned(v, t.Size())
		if !ok {
			return fail(path, t, intError(t.Size(), false))
		}
		dst.SetUint(u)

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			bits, ok := v.Bits()
			if !ok {
				return fail(path, t, ErrExpectedBytes)
			}
			dst.SetBytes(bytes.Clone(bits))
			return nil
		}
		return decodeSlice(v, dst, path)

	case reflect.Array:
		return decodeArray(v, dst, path)

	case reflect.Struct:
		return decodeStruct(v, dst, path)

	default:
		return fail(path, t, customf("unsupported target type %v", t))
	}
	return nil
}

// rightAligned interprets a bitstring or varbit as an unsigned big-endian
// integer of size bytes.
func rightAligned(v *value.TypedValue, size uintptr) (uint64, bool) {
	var src []byte
	switch v.Kind() {
	case value.KindBitstring:
		src, _ = v.Bits()
	case value.KindVarbit:
		bits, width, _ := v.VarBits()
		if uint64(width) > 8*uint64(size) {
			return 0, false
		}
		src = bits
	default:
		return 0, false
	}
	if uintptr(len(src)) > size {
		return 0, false
	}

	var u uint64
	for _, b := range src {
		u = u<<8 | uint64(b)
	}
	return u, true
}

func reinterpretSigned(u uint64, size uintptr) int64 {
	switch size {
	case 1:
		return int64(int8(u))
	case 2:
		return int64(int16(u))
	case 4:
		return int64(int32(u))
	default:
		return int64(u)
	}
}

func decodeSlice(v *value.TypedValue, dst reflect.Value, path string) error {
	var members []*value.TypedValue
	switch v.Kind() {
	case value.KindTuple:
		members = v.Members()
	case value.KindBitstring:
		bits, _ := v.Bits()
		members = byteMembers(bits)
	default:
		return fail(path, dst.Type(), ErrExpectedTuple)
	}

	s := reflect.MakeSlice(dst.Type(), len(members), len(members))
	for i, m := range members {
		if err := decodeValue(m, s.Index(i), indexPath(path, i)); err != nil {
			return err
		}
	}
	dst.Set(s)
	return nil
}

func decodeArray(v *value.TypedValue, dst reflect.Value, path string) error {
	t := dst.Type()
	switch v.Kind() {
	case value.KindTuple:
		return decodeElements(v.Members(), dst, path)
	case value.KindBitstring:
		bits, _ := v.Bits()
		if t.Elem().Kind() != reflect.Uint8 {
			return decodeElements(byteMembers(bits), dst, path)
		}
		n := t.Len()
		if len(bits) > n {
			return fail(path, t, customf("bitstring of %d bytes does not fit in %v", len(bits), t))
		}
		dst.SetZero()
		off := n - len(bits)
		for i, b := range bits {
			dst.Index(off + i).SetUint(uint64(b))
		}
		return nil
	default:
		return fail(path, t, ErrExpectedTuple)
	}
}

func decodeElements(members []*value.TypedValue, dst reflect.Value, path string) error {
	n := dst.Len()
	if len(members) < n {
		return fail(path, dst.Type(), customf("invalid length %d, expected an array of length %d", len(members), n))
	}
	for i := 0; i < n; i++ {
		if err := decodeValue(members[i], dst.Index(i), indexPath(path, i)); err != nil {
			return err
		}
	}
	return nil
}

func decodeStruct(v *value.TypedValue, dst reflect.Value, path string) error {
	t := dst.Type()
	if v.Kind() != value.KindRecord {
		return fail(path, t, ErrExpectedStruct)
	}

	fields := positionalFields(t)
	members := v.Members()
	if len(members) < len(fields) {
		return fail(path, t, customf("record has %d members, %v needs %d", len(members), t, len(fields)))
	}
	for i, fi := range fields {
		if err := decodeValue(members[i], dst.Field(fi), path+"."+t.Field(fi).Name); err != nil {
			return err
		}
	}
	return nil
}

// positionalFields lists the exported fields of t that take part in
// positional decoding, in declaration order.
func positionalFields(t reflect.Type) []int {
	fields := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("p4") == "-" {
			continue
		}
		fields = append(fields, i)
	}
	return fields
}

func decodeBigInt(v *value.TypedValue, dst reflect.Value, path string) error {
	var bits []byte
	switch v.Kind() {
	case value.KindBitstring:
		bits, _ = v.Bits()
	case value.KindVarbit:
		bits, _, _ = v.VarBits()
	default:
		return fail(path, dst.Type(), ErrExpectedBytes)
	}
	dst.Addr().Interface().(*big.Int).SetBytes(bits)
	return nil
}

func decodeAddr(v *value.TypedValue, dst reflect.Value, path string) error {
	bits, ok := v.Bits()
	if !ok {
		return fail(path, dst.Type(), ErrExpectedBytes)
	}

	var addr netip.Addr
	switch {
	case len(bits) <= 4:
		var a [4]byte
		copy(a[4-len(bits):], bits)
		addr = netip.AddrFrom4(a)
	case len(bits) <= 16:
		var a [16]byte
		copy(a[16-len(bits):], bits)
		addr = netip.AddrFrom16(a)
	default:
		return fail(path, dst.Type(), customf("bitstring of %d bytes is not an IP address", len(bits)))
	}
	dst.Set(reflect.ValueOf(addr))
	return nil
}

func byteMembers(bits []byte) []*value.TypedValue {
	members := make([]*value.TypedValue, len(bits))
	for i, b := range bits {
		members[i] = value.Bitstring([]byte{b})
	}
	return members
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func fail(path string, t reflect.Type, err error) error {
	return &Error{Path: path, Type: t, Err: err}
}
