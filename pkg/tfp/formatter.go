// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"fmt"
	"strings"
)

// Lookup resolves a function id to its descriptor, or nil if unknown
type Lookup func(functionID uint8) *Descriptor

// FormatPacket formats a packet into a human-readable string.
// Payloads of known functions are decoded field by field.
func FormatPacket(p *Packet, dir Direction, lookup Lookup) string {
	timestamp := p.Timestamp.Format("15:04:05.000")

	var desc *Descriptor
	var layout Layout
	switch {
	case p.FunctionID == CallbackEnumerate && p.IsCallback():
		desc = &Descriptor{Name: "enumerate_callback"}
		layout = enumerateCallbackLayout
	case p.FunctionID == GetIdentity.FunctionID:
		desc = &GetIdentity
		layout = selectLayout(desc, dir)
	case p.FunctionID == Enumerate.FunctionID:
		desc = &Enumerate
	case lookup != nil:
		desc = lookup(p.FunctionID)
		if desc != nil {
			layout = selectLayout(desc, dir)
		}
	}

	name := "UNKNOWN"
	if desc != nil {
		name = strings.ToUpper(desc.Name)
	}

	result := fmt.Sprintf("[%s] %s %s (%d) uid=%s seq=%d len=%d",
		timestamp, dir, name, p.FunctionID, Base58Encode(uint64(p.UID)), p.Sequence, p.Length())
	if p.ResponseExpected {
		result += " R"
	}
	if p.ErrorCode != ErrorCodeOK {
		result += fmt.Sprintf(" error=%v", errorForCode(p.ErrorCode))
	}
	result += "\n"

	if len(p.Payload) == 0 {
		return result
	}

	values, err := layout.Decode(p.Payload)
	if desc == nil || err != nil {
		return result + fmt.Sprintf("  payload: % X\n", p.Payload)
	}
	for i, f := range layout {
		result += fmt.Sprintf("  %s: %v\n", f.Name, values[i])
	}
	return result
}

func selectLayout(desc *Descriptor, dir Direction) Layout {
	if dir == Sent {
		return desc.Request
	}
	return desc.Response
}
