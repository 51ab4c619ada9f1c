// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

var (
	testGet = Descriptor{
		Name:       "get_value",
		FunctionID: 1,
		Response:   Layout{U16("value")},
		Policy:     AlwaysExpected,
	}
	testSlow = Descriptor{
		Name:       "get_slow",
		FunctionID: 2,
		Response:   Layout{U16("value")},
		Policy:     AlwaysExpected,
	}
	testSet = Descriptor{
		Name:       "set_value",
		FunctionID: 3,
		Request:    Layout{U16("value")},
		Policy:     NeverExpected,
	}
	testReset = Descriptor{
		Name:       "reset_value",
		FunctionID: 4,
		Request:    Layout{U32("password")},
		Policy:     ExpectedIfRequested,
	}
)

// fakeDevice answers packets arriving on the device side of a pipe
type fakeDevice struct {
	conn     PacketConn
	handler  func(p *Packet) []*Packet
	mu       sync.Mutex
	received []*Packet
}

func (d *fakeDevice) run() {
	for {
		p, err := d.conn.ReadPacket()
		if err != nil {
			return
		}
		d.mu.Lock()
		d.received = append(d.received, p)
		d.mu.Unlock()
		for _, reply := range d.handler(p) {
			if err := d.conn.WritePacket(reply); err != nil {
				return
			}
		}
	}
}

func (d *fakeDevice) packets() []*Packet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Packet(nil), d.received...)
}

// waitPackets waits until the device has read at least n packets
func (d *fakeDevice) waitPackets(t *testing.T, n int) []*Packet {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p := d.packets(); len(p) >= n {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device did not receive %d packets", n)
	return nil
}

func reply(req *Packet, payload []byte) *Packet {
	return &Packet{UID: req.UID, FunctionID: req.FunctionID, Sequence: req.Sequence, Payload: payload}
}

// newTestClient connects a client to a fake device over net.Pipe
func newTestClient(t *testing.T, handler func(p *Packet) []*Packet, opts ...Option) (*Client, *fakeDevice) {
	t.Helper()
	host, device := net.Pipe()
	dev := &fakeDevice{conn: NewStreamConn(device), handler: handler}
	go dev.run()

	client := NewClient(NewStreamConn(host), opts...)
	t.Cleanup(func() {
		client.Close()
		dev.conn.Close()
	})
	return client, dev
}

func answerGet(p *Packet) []*Packet {
	if p.FunctionID == testGet.FunctionID {
		return []*Packet{reply(p, []byte{0x34, 0x12})}
	}
	return nil
}

func TestClient_Call(t *testing.T) {
	client, dev := newTestClient(t, answerGet)

	values, err := client.Call(context.Background(), Request{UID: 42, Function: &testGet})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(values) != 1 || values[0].(uint16) != 0x1234 {
		t.Errorf("unexpected values: %v", values)
	}

	sent := dev.packets()
	if len(sent) != 1 {
		t.Fatalf("device saw %d packets, want 1", len(sent))
	}
	if !sent[0].ResponseExpected || sent[0].UID != 42 {
		t.Errorf("request header wrong: %+v", sent[0])
	}
	if sent[0].Sequence < MinSequence || sent[0].Sequence > MaxSequence {
		t.Errorf("sequence %d out of range", sent[0].Sequence)
	}
}

func TestClient_NeverExpectedReturnsImmediately(t *testing.T) {
	client, dev := newTestClient(t, func(p *Packet) []*Packet { return nil }, WithTimeout(time.Hour))

	values, err := client.Call(context.Background(), Request{UID: 1, Function: &testSet, Args: []any{16000}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty result, got %v", values)
	}

	sent := dev.waitPackets(t, 1)
	if len(sent) != 1 || sent[0].ResponseExpected {
		t.Fatalf("expected one packet without response flag, got %+v", sent)
	}
}

func TestClient_ExpectedIfRequested(t *testing.T) {
	client, dev := newTestClient(t, func(p *Packet) []*Packet {
		if p.ResponseExpected {
			return []*Packet{reply(p, nil)}
		}
		return nil
	}, WithTimeout(time.Second))

	args := []any{uint32(0xDC42FA23)}
	if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testReset, Args: args}); err != nil {
		t.Fatalf("unrequested call: %v", err)
	}
	if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testReset, Args: args, ResponseExpected: true}); err != nil {
		t.Fatalf("requested call: %v", err)
	}

	sent := dev.packets()
	if len(sent) != 2 || sent[0].ResponseExpected || !sent[1].ResponseExpected {
		t.Errorf("response flags wrong: %+v", sent)
	}
}

func TestClient_TimeoutDoesNotAffectOtherCalls(t *testing.T) {
	client, _ := newTestClient(t, answerGet, WithTimeout(200*time.Millisecond))

	slowErr := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), Request{UID: 1, Function: &testSlow})
		slowErr <- err
	}()

	for i := 0; i < 3; i++ {
		if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet}); err != nil {
			t.Fatalf("call %d alongside pending call: %v", i, err)
		}
	}

	if err := <-slowErr; !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet}); err != nil {
		t.Errorf("connection unusable after timeout: %v", err)
	}
	if client.Statistics().Timeouts.Load() != 1 {
		t.Errorf("timeouts = %d, want 1", client.Statistics().Timeouts.Load())
	}
}

func TestClient_DisconnectFailsAllPending(t *testing.T) {
	client, dev := newTestClient(t, func(p *Packet) []*Packet {
		return nil
	}, WithTimeout(time.Hour))

	const calls = 3
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			_, err := client.Call(context.Background(), Request{UID: 1, Function: &testSlow})
			errs <- err
		}()
	}

	dev.waitPackets(t, calls)
	dev.conn.Close()

	for i := 0; i < calls; i++ {
		if err := <-errs; !errors.Is(err, ErrDisconnected) {
			t.Errorf("expected ErrDisconnected, got %v", err)
		}
	}

	if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet}); !errors.Is(err, ErrDisconnected) {
		t.Errorf("call after disconnect: expected ErrDisconnected, got %v", err)
	}
	select {
	case <-client.Done():
	default:
		t.Error("Done() not closed after disconnect")
	}
}

func TestClient_ErrorCodes(t *testing.T) {
	tests := []struct {
		code     uint8
		expected error
	}{
		{ErrorCodeInvalidParameter, ErrInvalidParameter},
		{ErrorCodeNotSupported, ErrFunctionNotSupported},
		{ErrorCodeUnknown, ErrUnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.expected.Error(), func(t *testing.T) {
			client, _ := newTestClient(t, func(p *Packet) []*Packet {
				r := reply(p, nil)
				r.ErrorCode = tt.code
				return []*Packet{r}
			})

			_, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet})
			if !errors.Is(err, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestClient_DecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(p *Packet) []*Packet {
		return []*Packet{reply(p, []byte{1, 2, 3})}
	})

	_, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if decodeErr.Expected != 2 || decodeErr.Actual != 3 || decodeErr.Function != "get_value" {
		t.Errorf("unexpected decode error: %+v", decodeErr)
	}
}

func TestClient_IgnoresMismatchedResponses(t *testing.T) {
	client, _ := newTestClient(t, func(p *Packet) []*Packet {
		wrongSeq := reply(p, []byte{0xFF, 0xFF})
		wrongSeq.Sequence = p.Sequence%MaxSequence + 1
		wrongUID := reply(p, []byte{0xFF, 0xFF})
		wrongUID.UID++
		wrongFunction := reply(p, []byte{0xFF, 0xFF})
		wrongFunction.FunctionID++
		return []*Packet{wrongSeq, wrongUID, wrongFunction, reply(p, []byte{0x01, 0x00})}
	})

	values, err := client.Call(context.Background(), Request{UID: 7, Function: &testGet})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if values[0].(uint16) != 1 {
		t.Errorf("matched wrong response: %v", values)
	}
	if got := client.Statistics().Unmatched.Load(); got != 3 {
		t.Errorf("unmatched = %d, want 3", got)
	}
}

func TestClient_SequenceNumbersRotate(t *testing.T) {
	client, dev := newTestClient(t, answerGet)

	for i := 0; i < 20; i++ {
		if _, err := client.Call(context.Background(), Request{UID: 1, Function: &testGet}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	for i, p := range dev.packets() {
		if p.Sequence == CallbackSequence {
			t.Fatalf("packet %d used callback sequence", i)
		}
		want := uint8(i%MaxSequence) + 1
		if p.Sequence != want {
			t.Errorf("packet %d sequence = %d, want %d", i, p.Sequence, want)
		}
	}
}

func TestClient_InvalidArguments(t *testing.T) {
	client, dev := newTestClient(t, answerGet)

	_, err := client.Call(context.Background(), Request{UID: 1, Function: &testSet, Args: []any{70000}})
	var layoutErr *LayoutError
	if !errors.As(err, &layoutErr) {
		t.Fatalf("expected *LayoutError, got %v", err)
	}
	if len(dev.packets()) != 0 {
		t.Error("invalid request must not be sent")
	}
}

func TestClient_Enumerate(t *testing.T) {
	evse := Identity{UID: "Xyz", ConnectedUID: "6Fj", Position: 'a', DeviceIdentifier: 2167}
	master := Identity{UID: "6Fj", ConnectedUID: "0", Position: '0', DeviceIdentifier: 13}
	gone := Identity{UID: "abc", DeviceIdentifier: 2167, EnumerationType: EnumerationDisconnected}

	callback := func(id Identity) *Packet {
		payload, err := enumerateCallbackLayout.Encode(EnumerateCallbackValues(id))
		if err != nil {
			panic(err)
		}
		return &Packet{FunctionID: CallbackEnumerate, Sequence: CallbackSequence, Payload: payload}
	}

	client, dev := newTestClient(t, func(p *Packet) []*Packet {
		if p.FunctionID != FunctionEnumerate {
			return nil
		}
		return []*Packet{callback(evse), callback(master), callback(evse), callback(gone)}
	})

	ids, err := client.Enumerate(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d identities, want 2: %+v", len(ids), ids)
	}
	if ids[0].UID != "Xyz" || ids[0].DeviceIdentifier != 2167 || ids[1].DeviceIdentifier != 13 {
		t.Errorf("unexpected identities: %+v", ids)
	}

	sent := dev.packets()
	if sent[0].UID != BroadcastUID || sent[0].ResponseExpected {
		t.Errorf("enumerate request header wrong: %+v", sent[0])
	}
}

func TestClient_SubscribeCancel(t *testing.T) {
	client, _ := newTestClient(t, answerGet)

	ch, cancel := client.Subscribe(CallbackEnumerate, 1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}
