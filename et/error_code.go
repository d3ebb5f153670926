package et

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed error taxonomy shared with the native engine.
// Numeric values must match the engine's own enumeration.
type ErrorCode int32

const (
	ErrorCodeOK                             ErrorCode = 0
	ErrorCodeInternal                       ErrorCode = 1
	ErrorCodeInvalidState                   ErrorCode = 2
	ErrorCodeEndOfMethod                    ErrorCode = 3
	ErrorCodeNotSupported                   ErrorCode = 16
	ErrorCodeNotImplemented                 ErrorCode = 17
	ErrorCodeInvalidArgument                ErrorCode = 18
	ErrorCodeInvalidType                    ErrorCode = 19
	ErrorCodeOperatorMissing                ErrorCode = 20
	ErrorCodeNotFound                       ErrorCode = 32
	ErrorCodeMemoryAllocationFailed         ErrorCode = 33
	ErrorCodeAccessFailed                   ErrorCode = 34
	ErrorCodeInvalidProgram                 ErrorCode = 35
	ErrorCodeDelegateInvalidCompatibility   ErrorCode = 48
	ErrorCodeDelegateMemoryAllocationFailed ErrorCode = 49
	ErrorCodeDelegateInvalidHandle          ErrorCode = 50
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeOK:                             "Ok",
	ErrorCodeInternal:                       "Internal",
	ErrorCodeInvalidState:                   "InvalidState",
	ErrorCodeEndOfMethod:                    "EndOfMethod",
	ErrorCodeNotSupported:                   "NotSupported",
	ErrorCodeNotImplemented:                 "NotImplemented",
	ErrorCodeInvalidArgument:                "InvalidArgument",
	ErrorCodeInvalidType:                    "InvalidType",
	ErrorCodeOperatorMissing:                "OperatorMissing",
	ErrorCodeNotFound:                       "NotFound",
	ErrorCodeMemoryAllocationFailed:         "MemoryAllocationFailed",
	ErrorCodeAccessFailed:                   "AccessFailed",
	ErrorCodeInvalidProgram:                 "InvalidProgram",
	ErrorCodeDelegateInvalidCompatibility:   "DelegateInvalidCompatibility",
	ErrorCodeDelegateMemoryAllocationFailed: "DelegateMemoryAllocationFailed",
	ErrorCodeDelegateInvalidHandle:          "DelegateInvalidHandle",
}

// String returns the taxonomy name of the code.
func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// Valid reports whether c belongs to the taxonomy.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

// ErrorCodeFromInt converts a raw engine result code into an ErrorCode.
//
// The engine and this package share one enumeration. A code outside of it means
// the two sides disagree about the contract, so it panics instead of guessing.
func ErrorCodeFromInt(code int32) ErrorCode {
	c := ErrorCode(code)
	if !c.Valid() {
		panic(fmt.Sprintf("et: engine returned unrecognized error code %d", code))
	}
	return c
}

// Err converts a code into an error, or nil for ErrorCodeOK.
func (c ErrorCode) Err(op string) error {
	if c == ErrorCodeOK {
		return nil
	}
	return &Error{Code: c, Op: op}
}

// Error is a failure classified by the error taxonomy.
type Error struct {
	Code ErrorCode
	// Op names the operation that failed, for example "load_method".
	Op  string
	Msg string
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	default:
		return e.Code.String()
	}
}

// Is matches any *Error with the same code, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInternal               = &Error{Code: ErrorCodeInternal}
	ErrInvalidState           = &Error{Code: ErrorCodeInvalidState}
	ErrNotSupported           = &Error{Code: ErrorCodeNotSupported}
	ErrNotImplemented         = &Error{Code: ErrorCodeNotImplemented}
	ErrInvalidArgument        = &Error{Code: ErrorCodeInvalidArgument}
	ErrInvalidType            = &Error{Code: ErrorCodeInvalidType}
	ErrNotFound               = &Error{Code: ErrorCodeNotFound}
	ErrMemoryAllocationFailed = &Error{Code: ErrorCodeMemoryAllocationFailed}
)

// CodeOf returns the taxonomy code carried by err.
// Nil maps to ErrorCodeOK and errors outside the taxonomy map to ErrorCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrorCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorCodeInternal
}

func invalidArgument(format string, args ...any) error {
	return &Error{Code: ErrorCodeInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

func invalidType(format string, args ...any) error {
	return &Error{Code: ErrorCodeInvalidType, Msg: fmt.Sprintf(format, args...)}
}

func notSupported(format string, args ...any) error {
	return &Error{Code: ErrorCodeNotSupported, Msg: fmt.Sprintf(format, args...)}
}
