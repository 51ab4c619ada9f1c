// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/provisor/pkg/console"
	"github.com/Thermoquad/provisor/pkg/mgmt"
)

// fakeController follows the bench steps the way a healthy controller would
type fakeController struct {
	iec       byte
	fault     bool
	resets    int
	stuckIEC  byte
	keepFault bool
}

func (f *fakeController) Apply(step Step) {
	if step.IEC != 0 {
		f.iec = step.IEC
	}
	if step.WantError {
		f.fault = true
	}
}

func (f *fakeController) FrontPanelButtonPressed(ctx context.Context) (bool, error) {
	return false, nil
}

func (f *fakeController) IECState(ctx context.Context) (byte, error) {
	if f.stuckIEC != 0 {
		return f.stuckIEC, nil
	}
	return f.iec, nil
}

func (f *fakeController) ResetDCFault(ctx context.Context) error {
	f.resets++
	if !f.keepFault {
		f.fault = false
	}
	return nil
}

func (f *fakeController) HasError(ctx context.Context) (bool, error) {
	return f.fault, nil
}

func TestSimRig_ElectricalTestPasses(t *testing.T) {
	ctl := &fakeController{iec: 'A'}
	r := NewSimRig(nil, ctl, zerolog.Nop())

	require.NoError(t, r.ElectricalTest(context.Background(), ctl))
	assert.Equal(t, 1, ctl.resets)
}

func TestSimRig_ElectricalTestFailures(t *testing.T) {
	ctl := &fakeController{iec: 'A', stuckIEC: 'A'}
	err := NewSimRig(nil, ctl, zerolog.Nop()).ElectricalTest(context.Background(), ctl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connected")

	ctl = &fakeController{iec: 'A', keepFault: true}
	err = NewSimRig(nil, ctl, zerolog.Nop()).ElectricalTest(context.Background(), ctl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovered")
}

func TestSimRig_CredentialsPresentedOneByOne(t *testing.T) {
	tags := []Credential{
		{TagType: 2, TagID: mgmt.TagID{1}},
		{TagType: 2, TagID: mgmt.TagID{2}},
	}
	r := NewSimRig(tags, nil, zerolog.Nop())

	for want := 1; want <= 3; want++ {
		got, err := r.Credentials(context.Background())
		require.NoError(t, err)
		assert.Len(t, got, min(want, 2))
	}
}

func TestSimRig_Records(t *testing.T) {
	r := NewSimRig(nil, nil, zerolog.Nop())
	r.PowerOnErr = errors.New("relay stuck")

	assert.Error(t, r.PowerOn(context.Background(), ProfileCEE))
	assert.False(t, r.Powered())
	require.NoError(t, r.PowerOff(context.Background()))
	r.SetLEDs(Red)
	r.Beep(false)

	assert.Equal(t, []Profile{ProfileCEE}, r.Profiles())
	assert.Equal(t, 1, r.PowerOffs())
	assert.Equal(t, []Color{Red}, r.LastLEDs())
	assert.Equal(t, []bool{false}, r.Beeps())
}

func TestConsoleRig_Credentials(t *testing.T) {
	in := strings.NewReader("04:BA:38:42:EF:6C:80\nnot hex\n01 02 03\n0A0B\n")
	r := NewConsoleRig(console.New(in, io.Discard), zerolog.Nop())
	ctx := context.Background()

	var tags []Credential
	for i := 0; i < 4; i++ {
		var err error
		tags, err = r.Credentials(ctx)
		require.NoError(t, err)
	}
	require.Len(t, tags, 3)
	assert.Equal(t, mgmt.TagID{0x04, 0xBA, 0x38, 0x42, 0xEF, 0x6C, 0x80}, tags[0].TagID)
	assert.Equal(t, mgmt.TagID{1, 2, 3}, tags[1].TagID)
	assert.Equal(t, mgmt.TagID{0x0A, 0x0B}, tags[2].TagID)
}

func TestConsoleRig_ElectricalTest(t *testing.T) {
	ctl := &fakeController{iec: 'A'}
	in := strings.NewReader(strings.Repeat("\n", len(ElectricalSequence)))
	r := NewConsoleRig(console.New(in, io.Discard), zerolog.Nop())

	// The operator confirms each step; the controller here never leaves A.
	err := r.ElectricalTest(context.Background(), ctl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected B")
}

func TestParseTagID(t *testing.T) {
	_, err := ParseTagID("")
	assert.Error(t, err)
	id, err := ParseTagID(" 04-ba ")
	require.NoError(t, err)
	assert.Equal(t, mgmt.TagID{0x04, 0xBA}, id)
}

func TestColorHex(t *testing.T) {
	assert.Equal(t, "#FF7F00", Orange.Hex())
}
