// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"fmt"
)

// Decoder states
const (
	frameIdle = iota
	frameData
)

// FrameDecoder reassembles packets from a byte-stuffed serial stream.
//
// A frame is START, the stuffed packet bytes followed by a big-endian
// CRC-16-CCITT over the packet, then END. Bytes outside a frame are ignored.
type FrameDecoder struct {
	state      int
	buffer     []byte
	escapeNext bool
	rawBuffer  []byte
}

// NewFrameDecoder creates a decoder in the idle state
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		buffer:    make([]byte, 0, MaxPacketSize+2),
		rawBuffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset returns the decoder to idle and drops any partial frame
func (d *FrameDecoder) Reset() {
	d.state = frameIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the wire bytes accumulated since the last frame start
func (d *FrameDecoder) RawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte feeds one byte to the state machine.
// Returns a packet when a frame completes, nil while a frame is incomplete.
func (d *FrameDecoder) DecodeByte(b byte) (*Packet, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	switch b {
	case StartByte:
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = frameData
		return nil, nil

	case EndByte:
		if d.state != frameData {
			d.Reset()
			return nil, nil
		}
		if d.escapeNext {
			d.Reset()
			return nil, fmt.Errorf("frame ended inside escape sequence")
		}
		return d.finish()

	case EscByte:
		if d.state == frameData {
			d.escapeNext = true
		}
		return nil, nil
	}

	if d.state == frameIdle {
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}

	if len(d.buffer) >= MaxPacketSize+2 {
		d.Reset()
		return nil, fmt.Errorf("frame overflow: exceeds %d bytes", MaxPacketSize+2)
	}
	d.buffer = append(d.buffer, b)
	return nil, nil
}

func (d *FrameDecoder) finish() (*Packet, error) {
	defer d.Reset()

	if len(d.buffer) < HeaderSize+2 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(d.buffer))
	}

	data := d.buffer[:len(d.buffer)-2]
	received := uint16(d.buffer[len(d.buffer)-2])<<8 | uint16(d.buffer[len(d.buffer)-1])
	calculated := CalculateCRC(data)
	if received != calculated {
		return nil, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, received)
	}

	return ParsePacket(data)
}

// EncodeFrame serializes a packet into a stuffed frame
func EncodeFrame(p *Packet) ([]byte, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}

	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffBytes(data)...)
	frame = append(frame, EndByte)
	return frame, nil
}

// stuffBytes escapes the framing bytes
func stuffBytes(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			out = append(out, EscByte, b^EscXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}
