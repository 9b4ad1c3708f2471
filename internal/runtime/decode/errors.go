package decode

import (
	sterrors "errors"
	"fmt"
	"reflect"
)

// Shape errors. Every decode failure wraps exactly one of these (or a
// *CustomError) so callers can match with errors.Is / errors.As.
var (
	ErrExpectedBool   = sterrors.New("expected a bool")
	ErrExpectedInt8   = sterrors.New("expected an int8")
	ErrExpectedInt16  = sterrors.New("expected an int16")
	ErrExpectedInt32  = sterrors.New("expected an int32")
	ErrExpectedInt64  = sterrors.New("expected an int64")
	ErrExpectedUint8  = sterrors.New("expected a uint8")
	ErrExpectedUint16 = sterrors.New("expected a uint16")
	ErrExpectedUint32 = sterrors.New("expected a uint32")
	ErrExpectedUint64 = sterrors.New("expected a uint64")
	ErrExpectedBytes  = sterrors.New("expected bytes")
	ErrExpectedTuple  = sterrors.New("expected a tuple")
	ErrExpectedStruct = sterrors.New("expected a struct")

	ErrInvalidTarget = sterrors.New("p4flow: decode target must be a non-nil pointer")
)

// CustomError reports a constraint of the target type that the value did not
// satisfy, such as a fixed-size array receiving too few tuple members.
type CustomError struct {
	Msg string
}

func (e *CustomError) Error() string {
	return "custom error: " + e.Msg
}

func customf(format string, args ...any) error {
	return &CustomError{Msg: fmt.Sprintf(format, args...)}
}

// Error locates a shape error inside the target. Path is empty for the root
// and otherwise uses Go selector syntax, e.g. ".Port" or "[2].Dst".
type Error struct {
	Path string
	Type reflect.Type
	Err  error
}

func (e *Error) Error() string {
	where := e.Path
	if where == "" {
		where = "value"
	}
	return fmt.Sprintf("p4flow: decode %s into %v: %v", where, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BatchError reports which item of a batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("p4flow: decode batch item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func intError(size uintptr, signed bool) error {
	switch {
	case signed && size == 1:
		return ErrExpectedInt8
	case signed && size == 2:
		return ErrExpectedInt16
	case signed && size == 4:
		return ErrExpectedInt32
	case signed:
		return ErrExpectedInt64
	case size == 1:
		return ErrExpectedUint8
	case size == 2:
		return ErrExpectedUint16
	case size == 4:
		return ErrExpectedUint32
	default:
		return ErrExpectedUint64
	}
}
