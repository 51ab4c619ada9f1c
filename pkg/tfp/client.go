// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// DefaultTimeout bounds the wait for a single response
const DefaultTimeout = 2500 * time.Millisecond

// Request is one call of a device function
type Request struct {
	UID      uint32
	Function *Descriptor
	Args     []any

	// ResponseExpected is honored for ExpectedIfRequested functions only.
	ResponseExpected bool
}

type pendingCall struct {
	uid      uint32
	function uint8
	result   chan *Packet
}

type subscription struct {
	ch chan *Packet
}

// Client correlates requests and responses on one packet connection.
//
// Calls from several goroutines may be in flight at once; each owns a
// sequence number until its response arrives or it times out.
type Client struct {
	conn    PacketConn
	log     zerolog.Logger
	timeout time.Duration
	stats   *Statistics

	mu          sync.Mutex
	pending     [MaxSequence + 1]*pendingCall
	nextSeq     uint8
	subscribers map[uint8][]*subscription

	slots     chan struct{}
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-call response timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the client logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithStatistics shares a statistics tracker with the client
func WithStatistics(stats *Statistics) Option {
	return func(c *Client) {
		c.stats = stats
	}
}

// NewClient starts the receive loop on conn. The client owns conn.
func NewClient(conn PacketConn, opts ...Option) *Client {
	c := &Client{
		conn:        conn,
		log:         zerolog.Nop(),
		timeout:     DefaultTimeout,
		stats:       NewStatistics(),
		nextSeq:     MinSequence,
		subscribers: make(map[uint8][]*subscription),
		slots:       make(chan struct{}, MaxSequence),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.receiveLoop()
	return c
}

// Dial connects to addr over TCP and returns a running client
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	conn, err := DialStream(ctx, addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// Statistics returns the client's traffic counters
func (c *Client) Statistics() *Statistics {
	return c.stats
}

// Done is closed when the connection is lost or the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any
func (c *Client) Err() error {
	if !c.closed.Load() {
		return nil
	}
	return c.err
}

// Close shuts down the connection. Outstanding calls fail with ErrDisconnected.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Call sends a request and, when the function answers, waits for and decodes
// its response. Functions that do not answer return an empty result at once.
func (c *Client) Call(ctx context.Context, req Request) ([]any, error) {
	desc := req.Function
	if c.closed.Load() {
		return nil, fmt.Errorf("%s: %w", desc.Name, ErrDisconnected)
	}

	payload, err := desc.Request.Encode(req.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}

	packet := &Packet{
		UID:        req.UID,
		FunctionID: desc.FunctionID,
		Payload:    payload,
	}

	if !desc.Expects(req.ResponseExpected) {
		c.mu.Lock()
		packet.Sequence = c.advanceSequence()
		c.mu.Unlock()
		if err := c.send(packet); err != nil {
			return nil, fmt.Errorf("%s: %w", desc.Name, err)
		}
		return []any{}, nil
	}

	select {
	case c.slots <- struct{}{}:
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", desc.Name, ErrDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slots }()

	call := &pendingCall{
		uid:      req.UID,
		function: desc.FunctionID,
		result:   make(chan *Packet, 1),
	}

	c.mu.Lock()
	seq := c.register(call)
	c.mu.Unlock()

	packet.Sequence = seq
	packet.ResponseExpected = true
	if err := c.send(packet); err != nil {
		c.release(seq, call)
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case response := <-call.result:
		return c.decode(desc, response)

	case <-timer.C:
		c.release(seq, call)
		c.stats.Timeouts.Inc()
		c.log.Warn().
			Str("function", desc.Name).
			Uint8("seq", seq).
			Dur("timeout", c.timeout).
			Msg("response timeout")
		return nil, fmt.Errorf("%s: %w", desc.Name, ErrTimeout)

	case <-c.done:
		return nil, fmt.Errorf("%s: %w", desc.Name, ErrDisconnected)

	case <-ctx.Done():
		c.release(seq, call)
		return nil, ctx.Err()
	}
}

func (c *Client) decode(desc *Descriptor, response *Packet) ([]any, error) {
	if response.ErrorCode != ErrorCodeOK {
		c.stats.ErrorResponses.Inc()
		return nil, fmt.Errorf("%s: %w", desc.Name, errorForCode(response.ErrorCode))
	}

	if len(response.Payload) != desc.Response.Size() {
		c.stats.DecodeErrors.Inc()
		return nil, &DecodeError{
			Function: desc.Name,
			Expected: desc.Response.Size(),
			Actual:   len(response.Payload),
		}
	}

	values, err := desc.Response.Decode(response.Payload)
	if err != nil {
		c.stats.DecodeErrors.Inc()
		return nil, fmt.Errorf("%s: %w", desc.Name, err)
	}
	return values, nil
}

// advanceSequence returns the next sequence number in 1..15. Caller holds mu.
func (c *Client) advanceSequence() uint8 {
	seq := c.nextSeq
	c.nextSeq++
	if c.nextSeq > MaxSequence {
		c.nextSeq = MinSequence
	}
	return seq
}

// register assigns a free sequence number to call. Caller holds mu and a slot,
// so a free sequence number always exists.
func (c *Client) register(call *pendingCall) uint8 {
	for {
		seq := c.advanceSequence()
		if c.pending[seq] == nil {
			c.pending[seq] = call
			return seq
		}
	}
}

// release frees seq if it is still owned by call
func (c *Client) release(seq uint8, call *pendingCall) {
	c.mu.Lock()
	if c.pending[seq] == call {
		c.pending[seq] = nil
	}
	c.mu.Unlock()
}

func (c *Client) send(p *Packet) error {
	if err := c.conn.WritePacket(p); err != nil {
		c.shutdown(err)
		return ErrDisconnected
	}
	c.stats.PacketsSent.Inc()
	c.log.Debug().
		Uint32("uid", p.UID).
		Uint8("function", p.FunctionID).
		Uint8("seq", p.Sequence).
		Int("length", p.Length()).
		Msg("sent")
	return nil
}

func (c *Client) receiveLoop() {
	for {
		p, err := c.conn.ReadPacket()
		if err != nil {
			c.shutdown(err)
			return
		}

		c.stats.PacketsReceived.Inc()
		c.log.Debug().
			Uint32("uid", p.UID).
			Uint8("function", p.FunctionID).
			Uint8("seq", p.Sequence).
			Int("length", p.Length()).
			Msg("received")

		if p.IsCallback() {
			c.dispatch(p)
			continue
		}

		c.mu.Lock()
		call := c.pending[p.Sequence]
		matched := call != nil && call.function == p.FunctionID && call.uid == p.UID
		if matched {
			c.pending[p.Sequence] = nil
		}
		c.mu.Unlock()

		if !matched {
			c.stats.Unmatched.Inc()
			c.log.Warn().
				Uint32("uid", p.UID).
				Uint8("function", p.FunctionID).
				Uint8("seq", p.Sequence).
				Msg("unmatched response")
			continue
		}

		c.stats.Responses.Inc()
		call.result <- p
	}
}

// Subscribe delivers callbacks with the given function id until cancel is
// called or the connection ends. Callbacks are dropped when ch is full.
func (c *Client) Subscribe(functionID uint8, buffer int) (<-chan *Packet, func()) {
	sub := &subscription{ch: make(chan *Packet, buffer)}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	c.subscribers[functionID] = append(c.subscribers[functionID], sub)
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			subs := c.subscribers[functionID]
			for i, s := range subs {
				if s == sub {
					c.subscribers[functionID] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					return
				}
			}
		})
	}
	return sub.ch, cancel
}

func (c *Client) dispatch(p *Packet) {
	c.stats.Callbacks.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscribers[p.FunctionID] {
		select {
		case sub.ch <- p:
		default:
			c.stats.DroppedCallback.Inc()
		}
	}
}

// shutdown fails every outstanding call and closes the connection once
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		if cause != nil && !errors.Is(cause, ErrDisconnected) {
			c.log.Warn().Err(cause).Msg("connection lost")
		}
		c.err = cause
		c.closed.Store(true)

		c.mu.Lock()
		for i := range c.pending {
			c.pending[i] = nil
		}
		for id, subs := range c.subscribers {
			for _, sub := range subs {
				close(sub.ch)
			}
			delete(c.subscribers, id)
		}
		c.mu.Unlock()

		close(c.done)
		_ = c.conn.Close()
	})
}

// Enumerate broadcasts an enumerate request and collects the announcements
// that arrive within window. Disconnect announcements are skipped.
func (c *Client) Enumerate(ctx context.Context, window time.Duration) ([]Identity, error) {
	ch, cancel := c.Subscribe(CallbackEnumerate, 32)
	defer cancel()

	if _, err := c.Call(ctx, Request{UID: BroadcastUID, Function: &Enumerate}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	layout := EnumerateCallbackLayout()
	seen := make(map[string]bool)
	var identities []Identity
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return identities, fmt.Errorf("enumerate: %w", ErrDisconnected)
			}
			values, err := layout.Decode(p.Payload)
			if err != nil {
				c.stats.DecodeErrors.Inc()
				c.log.Warn().Err(err).Msg("malformed enumerate callback")
				continue
			}
			id := IdentityFromValues(values)
			if id.EnumerationType == EnumerationDisconnected || seen[id.UID] {
				continue
			}
			seen[id.UID] = true
			identities = append(identities, id)

		case <-timer.C:
			return identities, nil

		case <-ctx.Done():
			return identities, ctx.Err()
		}
	}
}

// GetIdentity reads the identity of one device
func (c *Client) GetIdentity(ctx context.Context, uid uint32) (Identity, error) {
	values, err := c.Call(ctx, Request{UID: uid, Function: &GetIdentity})
	if err != nil {
		return Identity{}, err
	}
	return IdentityFromValues(values), nil
}
