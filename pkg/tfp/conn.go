// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
)

// PacketConn moves whole packets over a byte transport
type PacketConn interface {
	ReadPacket() (*Packet, error)
	WritePacket(p *Packet) error
	Close() error
}

// streamConn carries packets back to back, as on TCP
type streamConn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	wmu    sync.Mutex
}

// NewStreamConn wraps a transport that carries unframed packets
func NewStreamConn(rwc io.ReadWriteCloser) PacketConn {
	return &streamConn{
		rwc:    rwc,
		reader: bufio.NewReaderSize(rwc, 4*MaxPacketSize),
	}
}

// DialStream opens a TCP connection to a brick daemon style endpoint
func DialStream(ctx context.Context, addr string) (PacketConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewStreamConn(conn), nil
}

func (c *streamConn) ReadPacket() (*Packet, error) {
	header := make([]byte, HeaderSize, MaxPacketSize)
	if _, err := io.ReadFull(c.reader, header); err != nil {
		return nil, err
	}

	length := int(header[4])
	if length < HeaderSize || length > MaxPacketSize {
		return nil, fmt.Errorf("invalid packet length %d", length)
	}

	data := header[:length]
	if _, err := io.ReadFull(c.reader, data[HeaderSize:]); err != nil {
		return nil, err
	}
	return ParsePacket(data)
}

func (c *streamConn) WritePacket(p *Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.rwc.Write(data)
	return err
}

func (c *streamConn) Close() error {
	return c.rwc.Close()
}

// framedConn carries byte-stuffed frames, as on serial and WebSocket links
type framedConn struct {
	rwc     io.ReadWriteCloser
	decoder *FrameDecoder
	buf     []byte
	pending []*Packet
	onError func(error)
	wmu     sync.Mutex
}

// FramedOption configures a framed connection
type FramedOption func(*framedConn)

// WithFrameErrorHandler is called for every discarded frame (CRC, overflow)
func WithFrameErrorHandler(fn func(error)) FramedOption {
	return func(c *framedConn) {
		c.onError = fn
	}
}

// NewFramedConn wraps a transport that carries stuffed frames.
// Corrupt frames are dropped; reading continues with the next frame.
func NewFramedConn(rwc io.ReadWriteCloser, opts ...FramedOption) PacketConn {
	c := &framedConn{
		rwc:     rwc,
		decoder: NewFrameDecoder(),
		buf:     make([]byte, 128),
		onError: func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *framedConn) ReadPacket() (*Packet, error) {
	for len(c.pending) == 0 {
		n, err := c.rwc.Read(c.buf)
		for i := 0; i < n; i++ {
			packet, decodeErr := c.decoder.DecodeByte(c.buf[i])
			if decodeErr != nil {
				c.onError(decodeErr)
				continue
			}
			if packet != nil {
				c.pending = append(c.pending, packet)
			}
		}
		if err != nil && len(c.pending) == 0 {
			return nil, err
		}
	}

	packet := c.pending[0]
	c.pending = c.pending[1:]
	return packet, nil
}

func (c *framedConn) WritePacket(p *Packet) error {
	frame, err := EncodeFrame(p)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.rwc.Write(frame)
	return err
}

func (c *framedConn) Close() error {
	return c.rwc.Close()
}

