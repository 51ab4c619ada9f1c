// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package evse

import (
	"context"
	"errors"
	"testing"

	"github.com/Thermoquad/provisor/pkg/tfp"
)

// fakeCaller answers calls from canned values, passing them through the
// response layout the way a real response would be.
type fakeCaller struct {
	t         *testing.T
	responses map[uint8]func(args []any) []any
	requests  []tfp.Request
}

func (f *fakeCaller) Call(ctx context.Context, req tfp.Request) ([]any, error) {
	f.requests = append(f.requests, req)

	if _, err := req.Function.Request.Encode(req.Args); err != nil {
		return nil, err
	}
	if !req.Function.Expects(req.ResponseExpected) {
		return []any{}, nil
	}

	respond, ok := f.responses[req.Function.FunctionID]
	if !ok {
		return nil, tfp.ErrTimeout
	}
	payload, err := req.Function.Response.Encode(respond(req.Args))
	if err != nil {
		f.t.Fatalf("%s: canned response does not fit layout: %v", req.Function.Name, err)
	}
	return req.Function.Response.Decode(payload)
}

func TestTable_Valid(t *testing.T) {
	descs := make([]tfp.Descriptor, 0, opCount)
	for op := Op(0); op < opCount; op++ {
		descs = append(descs, *Descriptor(op))
	}
	if err := tfp.ValidateTable(descs); err != nil {
		t.Fatalf("table invalid: %v", err)
	}
}

func TestTable_ResponseSizes(t *testing.T) {
	// Sizes in bytes excluding the 8 byte header.
	tests := []struct {
		op   Op
		size int
	}{
		{OpGetState, 17},
		{OpGetHardwareConfiguration, 2},
		{OpGetLowLevelState, 46},
		{OpGetMaxChargingCurrent, 8},
		{OpGetEnergyMeterValues, 14},
		{OpGetEnergyMeterDetailedValuesLowLevel, 62},
		{OpGetEnergyMeterState, 25},
		{OpGetIndicatorLED, 4},
		{OpSetIndicatorLED, 1},
		{OpGetButtonState, 9},
		{OpGetSPITFPErrorCount, 16},
		{OpGetIdentity, 25},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			if got := Descriptor(tt.op).Response.Size(); got != tt.size {
				t.Errorf("response size = %d, want %d", got, tt.size)
			}
		})
	}
}

func TestTable_Policies(t *testing.T) {
	tests := []struct {
		op     Op
		policy tfp.ResponsePolicy
	}{
		{OpSetMaxChargingCurrent, tfp.ExpectedIfRequested},
		{OpStartCharging, tfp.ExpectedIfRequested},
		{OpStopCharging, tfp.ExpectedIfRequested},
		{OpResetEnergyMeter, tfp.ExpectedIfRequested},
		{OpReset, tfp.NeverExpected},
		{OpResetDCFaultCurrent, tfp.ExpectedIfRequested},
		{OpSetManaged, tfp.ExpectedIfRequested},
		{OpSetIndicatorLED, tfp.AlwaysExpected},
		{OpGetState, tfp.AlwaysExpected},
	}

	for _, tt := range tests {
		if got := Descriptor(tt.op).Policy; got != tt.policy {
			t.Errorf("%s policy = %v, want %v", tt.op, got, tt.policy)
		}
	}
}

func TestLookup(t *testing.T) {
	if d := Lookup(27); d == nil || d.Name != "get_button_state" {
		t.Errorf("Lookup(27) = %+v", d)
	}
	if d := Lookup(200); d != nil {
		t.Errorf("Lookup(200) = %+v, want nil", d)
	}
}

func stateValues(iec, errorState uint8) func([]any) []any {
	return func([]any) []any {
		return []any{iec, 0, 0, 0, 0, 16000, errorState, 0, 1000, 123456}
	}
}

func TestDevice_StateHooks(t *testing.T) {
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{
		1: stateValues(IECStateC, ErrorStateDCFault),
	}}
	dev := NewDevice(caller, 42)

	state, err := dev.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.AllowedChargingCurrent != 16000 || state.Uptime != 123456 {
		t.Errorf("unexpected state: %+v", state)
	}

	letter, err := dev.IECState(context.Background())
	if err != nil || letter != 'C' {
		t.Errorf("IECState() = %c, %v; want C", letter, err)
	}

	hasError, err := dev.HasError(context.Background())
	if err != nil || !hasError {
		t.Errorf("HasError() = %v, %v; want true", hasError, err)
	}

	if caller.requests[0].UID != 42 {
		t.Errorf("request uid = %d, want 42", caller.requests[0].UID)
	}
}

func TestDevice_FrontPanelButton(t *testing.T) {
	gpio := make([]bool, 24)
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{
		3: func([]any) []any {
			return []any{1, 500, make([]uint16, 7), make([]int16, 7), []uint32{0, 0}, gpio, 0}
		},
	}}
	dev := NewDevice(caller, 1)

	pressed, err := dev.FrontPanelButtonPressed(context.Background())
	if err != nil || pressed {
		t.Fatalf("FrontPanelButtonPressed() = %v, %v; want false", pressed, err)
	}

	gpio[FrontPanelButtonGPIO] = true
	pressed, err = dev.FrontPanelButtonPressed(context.Background())
	if err != nil || !pressed {
		t.Errorf("FrontPanelButtonPressed() = %v, %v; want true", pressed, err)
	}
}

func TestDevice_ResetDCFaultRequestsAck(t *testing.T) {
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{
		15: func([]any) []any { return []any{} },
	}}
	dev := NewDevice(caller, 1)

	if err := dev.ResetDCFault(context.Background()); err != nil {
		t.Fatalf("ResetDCFault: %v", err)
	}

	req := caller.requests[0]
	if !req.ResponseExpected {
		t.Error("reset_dc_fault_current must request a response")
	}
	if req.Args[0].(uint32) != DCFaultResetPassword {
		t.Errorf("password = %#x", req.Args[0])
	}
}

func TestDevice_SettersDoNotWait(t *testing.T) {
	// No canned responses: anything waiting for an answer would time out
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{}}
	dev := NewDevice(caller, 1)
	ctx := context.Background()

	if err := dev.SetMaxChargingCurrent(ctx, 16000); err != nil {
		t.Fatalf("SetMaxChargingCurrent: %v", err)
	}
	if err := dev.StartCharging(ctx); err != nil {
		t.Fatalf("StartCharging: %v", err)
	}
	if err := dev.StopCharging(ctx); err != nil {
		t.Fatalf("StopCharging: %v", err)
	}
	if err := dev.ResetEnergyMeter(ctx); err != nil {
		t.Fatalf("ResetEnergyMeter: %v", err)
	}
	for _, req := range caller.requests {
		if req.ResponseExpected {
			t.Errorf("%s requested a response", req.Function.Name)
		}
	}

	// Asking for an acknowledgement makes the call wait for one
	_, err := caller.Call(ctx, tfp.Request{UID: 1, Function: Descriptor(OpStartCharging), ResponseExpected: true})
	if !errors.Is(err, tfp.ErrTimeout) {
		t.Errorf("acknowledged start_charging err = %v, want timeout", err)
	}
}

func TestDevice_EnergyMeterDetailedValues(t *testing.T) {
	position := 0
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{
		11: func([]any) []any {
			chunk := make([]float32, DetailedValuesChunkSize)
			for i := range chunk {
				chunk[i] = float32(position + i)
			}
			offset := position
			position = (position + DetailedValuesChunkSize) % 90
			return []any{uint16(offset), chunk}
		},
	}}
	dev := NewDevice(caller, 1)

	values, err := dev.EnergyMeterDetailedValues(context.Background())
	if err != nil {
		t.Fatalf("EnergyMeterDetailedValues: %v", err)
	}
	if len(values) != DetailedValuesLength {
		t.Fatalf("got %d values, want %d", len(values), DetailedValuesLength)
	}
	if values[84] != 84 {
		t.Errorf("last value = %v, want 84", values[84])
	}
}

func TestDevice_EnergyMeterDetailedValuesEmpty(t *testing.T) {
	caller := &fakeCaller{t: t, responses: map[uint8]func([]any) []any{
		11: func([]any) []any {
			return []any{uint16(tfp.StreamEmptyOffset), make([]float32, DetailedValuesChunkSize)}
		},
	}}
	dev := NewDevice(caller, 1)

	values, err := dev.EnergyMeterDetailedValues(context.Background())
	if err != nil || len(values) != 0 {
		t.Errorf("got %d values, %v; want empty", len(values), err)
	}
	if len(caller.requests) != 1 {
		t.Errorf("issued %d calls, want 1", len(caller.requests))
	}
}

func TestDevice_ErrorsPropagate(t *testing.T) {
	dev := NewDevice(&fakeCaller{t: t}, 1)

	if _, err := dev.HardwareConfiguration(context.Background()); !errors.Is(err, tfp.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestExpectedRatings(t *testing.T) {
	tests := []struct {
		power   string
		jumper  uint8
		current uint16
		ok      bool
	}{
		{"11", Jumper16A, 20000, true},
		{"22", Jumper32A, 32000, true},
		{"7", 0, 0, false},
	}

	for _, tt := range tests {
		jumper, ok := ExpectedJumper(tt.power)
		if jumper != tt.jumper || ok != tt.ok {
			t.Errorf("ExpectedJumper(%s) = %d, %v", tt.power, jumper, ok)
		}
		current, ok := ExpectedOutgoingCurrent(tt.power)
		if current != tt.current || ok != tt.ok {
			t.Errorf("ExpectedOutgoingCurrent(%s) = %d, %v", tt.power, current, ok)
		}
	}
}
