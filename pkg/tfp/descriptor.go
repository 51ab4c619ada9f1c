// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"fmt"
)

// ResponsePolicy says whether a function produces a response packet
type ResponsePolicy int

const (
	// NeverExpected functions are fire-and-forget.
	NeverExpected ResponsePolicy = iota
	// ExpectedIfRequested functions answer only when the caller asks.
	ExpectedIfRequested
	// AlwaysExpected functions always answer.
	AlwaysExpected
)

func (p ResponsePolicy) String() string {
	switch p {
	case NeverExpected:
		return "never"
	case ExpectedIfRequested:
		return "if-requested"
	case AlwaysExpected:
		return "always"
	default:
		return fmt.Sprintf("ResponsePolicy(%d)", int(p))
	}
}

// Descriptor describes one device function: its id, the payload layouts and
// whether a response comes back.
type Descriptor struct {
	Name       string
	FunctionID uint8
	Request    Layout
	Response   Layout
	Policy     ResponsePolicy
}

// Expects reports whether a call with the given flag waits for a response
func (d *Descriptor) Expects(requested bool) bool {
	switch d.Policy {
	case AlwaysExpected:
		return true
	case ExpectedIfRequested:
		return requested
	default:
		return false
	}
}

// Validate checks that both layouts fit in a packet
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("function %d has no name", d.FunctionID)
	}
	if n := d.Request.Size(); n > MaxPayloadSize {
		return fmt.Errorf("%s: request payload %d bytes exceeds %d", d.Name, n, MaxPayloadSize)
	}
	if n := d.Response.Size(); n > MaxPayloadSize {
		return fmt.Errorf("%s: response payload %d bytes exceeds %d", d.Name, n, MaxPayloadSize)
	}
	if d.Policy == NeverExpected && len(d.Response) > 0 {
		return fmt.Errorf("%s: response layout on a function that never answers", d.Name)
	}
	return nil
}

// ValidateTable validates every descriptor and rejects duplicate function ids
func ValidateTable(table []Descriptor) error {
	seen := make(map[uint8]string, len(table))
	for i := range table {
		d := &table[i]
		if err := d.Validate(); err != nil {
			return err
		}
		if other, ok := seen[d.FunctionID]; ok {
			return fmt.Errorf("function id %d used by %s and %s", d.FunctionID, other, d.Name)
		}
		seen[d.FunctionID] = d.Name
	}
	return nil
}

// Shared functions every device answers

// IdentityLayout is the response of get_identity and the body of enumerate callbacks
var IdentityLayout = Layout{
	Str("uid", 8),
	Str("connected_uid", 8),
	C("position"),
	U8s("hardware_version", 3),
	U8s("firmware_version", 3),
	U16("device_identifier"),
}

// GetIdentity is answered by every device
var GetIdentity = Descriptor{
	Name:       "get_identity",
	FunctionID: 255,
	Response:   IdentityLayout,
	Policy:     AlwaysExpected,
}

// Enumerate asks every device to announce itself via callback
var Enumerate = Descriptor{
	Name:       "enumerate",
	FunctionID: FunctionEnumerate,
	Policy:     NeverExpected,
}

var enumerateCallbackLayout = append(append(Layout{}, IdentityLayout...), U8("enumeration_type"))
