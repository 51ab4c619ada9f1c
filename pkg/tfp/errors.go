// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a call's response did not arrive in time.
	// The connection stays usable.
	ErrTimeout = errors.New("tfp: response timeout")

	// ErrDisconnected is returned for every outstanding and future call once
	// the underlying connection is lost or closed.
	ErrDisconnected = errors.New("tfp: disconnected")

	// ErrStreamOutOfSync is returned when a chunked stream could not be
	// reassembled. No partial data is returned with it.
	ErrStreamOutOfSync = errors.New("tfp: stream out of sync")

	ErrInvalidParameter     = errors.New("tfp: invalid parameter")
	ErrFunctionNotSupported = errors.New("tfp: function not supported")
	ErrUnknownError         = errors.New("tfp: unknown device error")
)

// DecodeError reports a response whose payload does not match the layout of
// the operation it answers.
type DecodeError struct {
	Function string
	Expected int
	Actual   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("tfp: %s: response payload is %d bytes, expected %d", e.Function, e.Actual, e.Expected)
}

// LayoutError reports request arguments that cannot be coerced to a layout.
type LayoutError struct {
	Field  string
	Reason string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("tfp: field %s: %s", e.Field, e.Reason)
}

// errorForCode maps a response error code to its sentinel.
func errorForCode(code uint8) error {
	switch code {
	case ErrorCodeOK:
		return nil
	case ErrorCodeInvalidParameter:
		return ErrInvalidParameter
	case ErrorCodeNotSupported:
		return ErrFunctionNotSupported
	default:
		return ErrUnknownError
	}
}
