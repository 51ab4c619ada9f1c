// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured packet relative to this host
type Direction uint8

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "TX"
	}
	return "RX"
}

// CaptureRecord is one packet in a capture file
type CaptureRecord struct {
	Time      time.Time `cbor:"1,keyasint"`
	Direction Direction `cbor:"2,keyasint"`
	Packet    []byte    `cbor:"3,keyasint"`
}

// CaptureWriter appends CBOR records to a capture stream
type CaptureWriter struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewCaptureWriter creates a writer; timestamps are stored as RFC 3339 strings
func NewCaptureWriter(w io.Writer) (*CaptureWriter, error) {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}
	return &CaptureWriter{enc: mode.NewEncoder(w)}, nil
}

// Write records one packet
func (w *CaptureWriter) Write(dir Direction, p *Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(CaptureRecord{Time: ts, Direction: dir, Packet: data})
}

// CaptureReader iterates over a capture stream
type CaptureReader struct {
	dec *cbor.Decoder
}

// NewCaptureReader creates a reader over r
func NewCaptureReader(r io.Reader) *CaptureReader {
	return &CaptureReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record and its parsed packet, or io.EOF at the end
func (r *CaptureReader) Next() (CaptureRecord, *Packet, error) {
	var rec CaptureRecord
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, nil, io.EOF
		}
		return rec, nil, fmt.Errorf("failed to decode capture record: %w", err)
	}

	p, err := ParsePacket(rec.Packet)
	if err != nil {
		return rec, nil, err
	}
	p.Timestamp = rec.Time
	return rec, p, nil
}

// capturingConn records every packet that passes through it
type capturingConn struct {
	PacketConn
	w *CaptureWriter
}

// NewCapturingConn tees both directions of conn into w
func NewCapturingConn(conn PacketConn, w *CaptureWriter) PacketConn {
	return &capturingConn{PacketConn: conn, w: w}
}

func (c *capturingConn) ReadPacket() (*Packet, error) {
	p, err := c.PacketConn.ReadPacket()
	if err == nil {
		_ = c.w.Write(Received, p)
	}
	return p, err
}

func (c *capturingConn) WritePacket(p *Packet) error {
	if err := c.PacketConn.WritePacket(p); err != nil {
		return err
	}
	return c.w.Write(Sent, p)
}
