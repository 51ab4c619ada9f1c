// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"fmt"
	"strings"
)

// Base58Alphabet is the digit set of device uids and WiFi credentials
const Base58Alphabet = "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"

// Base58Encode renders a numeric uid
func Base58Encode(value uint64) string {
	if value == 0 {
		return string(Base58Alphabet[0])
	}
	var digits []byte
	for value > 0 {
		digits = append(digits, Base58Alphabet[value%58])
		value /= 58
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// Base58Decode parses a uid string
func Base58Decode(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty base58 string")
	}
	var value uint64
	for _, c := range s {
		digit := strings.IndexRune(Base58Alphabet, c)
		if digit < 0 {
			return 0, fmt.Errorf("invalid base58 character %q in %q", c, s)
		}
		next := value*58 + uint64(digit)
		if next/58 != value {
			return 0, fmt.Errorf("base58 value %q overflows", s)
		}
		value = next
	}
	return value, nil
}

// ParseUID converts a printed uid to the 32 bit value used in packet headers.
// Values wider than 32 bits are folded the way bricks derive their short uid.
func ParseUID(s string) (uint32, error) {
	value, err := Base58Decode(s)
	if err != nil {
		return 0, err
	}
	if value <= 0xFFFFFFFF {
		return uint32(value), nil
	}

	lo := uint32(value & 0xFFFFFFFF)
	hi := uint32(value >> 32)
	uid := lo & 0x00000FFF
	uid |= (lo & 0x0F000000) >> 12
	uid |= (hi & 0x0000003F) << 16
	uid |= (hi & 0x000F0000) << 6
	uid |= (hi & 0x3F000000) << 2
	return uid, nil
}

// Identity is what a device reports about itself
type Identity struct {
	UID              string
	ConnectedUID     string
	Position         byte
	HardwareVersion  [3]uint8
	FirmwareVersion  [3]uint8
	DeviceIdentifier uint16
	EnumerationType  uint8
}

// FirmwareString formats the firmware version as major.minor.revision
func (id Identity) FirmwareString() string {
	v := id.FirmwareVersion
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// HardwareString formats the hardware version as major.minor.revision
func (id Identity) HardwareString() string {
	v := id.HardwareVersion
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// IdentityFromValues builds an Identity from decoded IdentityLayout values
func IdentityFromValues(values []any) Identity {
	id := Identity{
		UID:              values[0].(string),
		ConnectedUID:     values[1].(string),
		Position:         values[2].(byte),
		DeviceIdentifier: values[5].(uint16),
	}
	copy(id.HardwareVersion[:], values[3].([]uint8))
	copy(id.FirmwareVersion[:], values[4].([]uint8))
	if len(values) > 6 {
		id.EnumerationType = values[6].(uint8)
	}
	return id
}

// IdentityValues is the inverse of IdentityFromValues, used by device simulators
func IdentityValues(id Identity) []any {
	return []any{
		id.UID,
		id.ConnectedUID,
		id.Position,
		id.HardwareVersion[:],
		id.FirmwareVersion[:],
		id.DeviceIdentifier,
	}
}

// EnumerateCallbackValues appends the enumeration type to IdentityValues
func EnumerateCallbackValues(id Identity) []any {
	return append(IdentityValues(id), id.EnumerationType)
}

// EnumerateCallbackLayout is the payload of the enumerate callback
func EnumerateCallbackLayout() Layout {
	return enumerateCallbackLayout
}
