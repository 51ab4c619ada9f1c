// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Packet represents one request, response or callback on the wire
type Packet struct {
	UID              uint32
	FunctionID       uint8
	Sequence         uint8
	ResponseExpected bool
	ErrorCode        uint8
	Payload          []byte
	Timestamp        time.Time
}

// Length returns the total wire length including the header
func (p *Packet) Length() int {
	return HeaderSize + len(p.Payload)
}

// IsCallback returns true for unsolicited packets (sequence 0)
func (p *Packet) IsCallback() bool {
	return p.Sequence == CallbackSequence
}

// MarshalBinary encodes the header and payload.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(p.Payload), MaxPayloadSize)
	}
	if p.Sequence > MaxSequence {
		return nil, fmt.Errorf("sequence out of range: %d", p.Sequence)
	}

	buf := make([]byte, HeaderSize, p.Length())
	binary.LittleEndian.PutUint32(buf[0:4], p.UID)
	buf[4] = uint8(p.Length())
	buf[5] = p.FunctionID
	buf[6] = p.Sequence << 4
	if p.ResponseExpected {
		buf[6] |= 1 << 3
	}
	buf[7] = (p.ErrorCode & 0x03) << 6
	return append(buf, p.Payload...), nil
}

// ParsePacket decodes a complete packet. The length byte must match len(data).
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	if int(data[4]) != len(data) {
		return nil, fmt.Errorf("length byte %d does not match packet size %d", data[4], len(data))
	}
	if len(data) > MaxPacketSize {
		return nil, fmt.Errorf("packet too long: %d bytes (max %d)", len(data), MaxPacketSize)
	}

	payload := make([]byte, len(data)-HeaderSize)
	copy(payload, data[HeaderSize:])

	return &Packet{
		UID:              binary.LittleEndian.Uint32(data[0:4]),
		FunctionID:       data[5],
		Sequence:         data[6] >> 4,
		ResponseExpected: data[6]&(1<<3) != 0,
		ErrorCode:        data[7] >> 6,
		Payload:          payload,
		Timestamp:        time.Now(),
	}, nil
}
