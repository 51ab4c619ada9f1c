// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tfp implements the request/response protocol spoken by the charger
// controller and its bricklets.
//
// Every packet starts with an 8 byte little-endian header (uid, total length,
// function id, sequence/options, flags) followed by a fixed-layout payload.
// Requests are correlated with their responses by a 4 bit sequence number;
// sequence 0 is reserved for callbacks such as enumeration announcements.
//
// TCP links carry packets back to back. Serial and WebSocket links wrap each
// packet in a byte-stuffed frame with a CRC-16-CCITT trailer (see FrameDecoder).
package tfp

// Header layout
const (
	HeaderSize     = 8
	MaxPacketSize  = 80
	MaxPayloadSize = MaxPacketSize - HeaderSize
)

// Sequence numbers
const (
	CallbackSequence = 0
	MinSequence      = 1
	MaxSequence      = 15
)

// Well-known addresses and functions
const (
	BroadcastUID      = 0
	FunctionEnumerate = 254
	CallbackEnumerate = 253
	DefaultPort       = 4223
)

// Response error codes (flags byte, bits 6-7)
const (
	ErrorCodeOK               = 0
	ErrorCodeInvalidParameter = 1
	ErrorCodeNotSupported     = 2
	ErrorCodeUnknown          = 3
)

// Enumeration types carried in enumerate callbacks
const (
	EnumerationAvailable    = 0
	EnumerationConnected    = 1
	EnumerationDisconnected = 2
)

// StreamEmptyOffset is reported by a chunked getter whose stream holds no data.
const StreamEmptyOffset = 1<<16 - 1

// Serial framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// MaxFrameSize bounds a stuffed frame: every packet and CRC byte may be escaped.
const MaxFrameSize = 2 + 2*(MaxPacketSize+2)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)
