// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestCapture_WriteRead(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewCaptureWriter(&buf)
	if err != nil {
		t.Fatalf("NewCaptureWriter: %v", err)
	}

	ts := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	request := &Packet{UID: 7, FunctionID: 1, Sequence: 2, ResponseExpected: true, Timestamp: ts}
	response := &Packet{UID: 7, FunctionID: 1, Sequence: 2, Payload: []byte{1, 2}, Timestamp: ts.Add(time.Millisecond)}

	if err := w.Write(Sent, request); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(Received, response); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewCaptureReader(&buf)

	rec, p, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Direction != Sent || !p.ResponseExpected || !p.Timestamp.Equal(ts) {
		t.Errorf("first record mismatch: %+v %+v", rec, p)
	}

	rec, p, err = r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Direction != Received || !bytes.Equal(p.Payload, []byte{1, 2}) {
		t.Errorf("second record mismatch: %+v %+v", rec, p)
	}

	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFormatPacket(t *testing.T) {
	lookup := func(id uint8) *Descriptor {
		if id == testGet.FunctionID {
			return &testGet
		}
		return nil
	}

	p := &Packet{UID: 58, FunctionID: 1, Sequence: 3, Payload: []byte{0x10, 0x00}}
	out := FormatPacket(p, Received, lookup)
	for _, want := range []string{"RX", "GET_VALUE", "uid=21", "seq=3", "value: 16"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	unknown := FormatPacket(&Packet{FunctionID: 99, Sequence: 1, Payload: []byte{0xAB}}, Received, lookup)
	if !strings.Contains(unknown, "UNKNOWN") || !strings.Contains(unknown, "AB") {
		t.Errorf("unknown packet output:\n%s", unknown)
	}
}
