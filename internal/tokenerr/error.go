// Package tokenerr defines the error taxonomy the core uses to communicate
// faults to the token API surface. Every fault the core can raise maps to
// exactly one Code; internal faults additionally carry a source location for
// diagnostics that never crosses the public boundary.
package tokenerr

import (
	"fmt"
	"runtime"
)

// Code is a token API return code. Values are modeled on the PKCS#11
// CKR_* numbering so a host shim can forward them verbatim.
type Code uint32

const (
	OK Code = 0

	// Handle errors
	SessionHandleInvalid Code = 0x000000B3
	ObjectHandleInvalid  Code = 0x00000082

	// State errors
	OperationActive          Code = 0x00000090
	OperationNotInitialized  Code = 0x00000091
	SessionClosed            Code = 0x000000B0
	SessionReadOnly          Code = 0x000000B5
	SessionReadWriteSOExists Code = 0x000000B6
	SessionReadOnlyExists    Code = 0x000000B7

	// Argument errors
	MechanismInvalid     Code = 0x00000070
	MechanismParamInvalid Code = 0x00000071
	AttributeTypeInvalid Code = 0x00000012
	AttributeSensitive   Code = 0x00000011
	BufferTooSmall       Code = 0x00000150
	DataLenRange         Code = 0x00000021
	DataInvalid          Code = 0x00000020
	SignatureLenRange    Code = 0x00000042
	SignatureInvalid     Code = 0x00000040
	OperationTypeInvalid Code = 0x00000073

	// Policy errors
	KeyFunctionNotPermitted Code = 0x00000068
	KeyTypeInconsistent     Code = 0x00000063

	// Upstream errors
	DeviceError   Code = 0x00000030
	DeviceRemoved Code = 0x00000031

	// Internal errors
	FunctionFailed Code = 0x00000006
	GeneralError   Code = 0x00000005
	Unimplemented  Code = 0x00000007
)

var names = map[Code]string{
	OK:                       "ok",
	SessionHandleInvalid:     "session handle invalid",
	ObjectHandleInvalid:      "object handle invalid",
	OperationActive:          "operation active",
	OperationNotInitialized:  "operation not initialized",
	SessionClosed:            "session closed",
	SessionReadOnly:          "session read only",
	SessionReadWriteSOExists: "session read-write SO exists",
	SessionReadOnlyExists:    "session read-only exists",
	MechanismInvalid:         "mechanism invalid",
	MechanismParamInvalid:    "mechanism param invalid",
	AttributeTypeInvalid:     "attribute type invalid",
	AttributeSensitive:       "attribute sensitive",
	BufferTooSmall:           "buffer too small",
	DataLenRange:             "data length range",
	DataInvalid:              "data invalid",
	SignatureLenRange:        "signature length range",
	SignatureInvalid:         "signature invalid",
	OperationTypeInvalid:     "operation type invalid",
	KeyFunctionNotPermitted:  "key function not permitted",
	KeyTypeInconsistent:      "key type inconsistent",
	DeviceError:              "device error",
	DeviceRemoved:            "device removed",
	FunctionFailed:           "function failed",
	GeneralError:             "general error",
	Unimplemented:            "unimplemented",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown error code %#x", uint32(c))
}

// Error is the error type every core fault surfaces as. Op names the
// operation that failed; Cause, when present, is the underlying error
// (an RPC failure, a parse error, ...); File/Line are populated only for
// errors built with Internal, are not part of Error(), and are never
// exposed past the public API surface; nothing in the module logs them.
type Error struct {
	Code  Code
	Op    string
	Cause error
	File  string
	Line  int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error for a non-internal code. Use Internal for the
// FunctionFailed/GeneralError categories, which capture a source location.
func New(code Code, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Cause: cause}
}

// Internal builds an Error for a programmer-bug category fault, capturing
// the caller's source location for diagnostics.
func Internal(code Code, op string, cause error) *Error {
	_, file, line, _ := runtime.Caller(1)
	return &Error{Code: code, Op: op, Cause: cause, File: file, Line: line}
}

// CodeOf extracts the Code from err, defaulting to GeneralError for any
// error that did not originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var te *Error
	if as(err, &te) {
		return te.Code
	}
	return GeneralError
}

func as(err error, target **Error) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
