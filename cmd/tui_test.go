// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/provisor/pkg/evse"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{1000, "1 second"},
		{61_000, "1 minute and 1 second"},
		{120_000, "2 minutes"},
		{90_061_000, "1 day, 1 hour, 1 minute, and 1 second"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.ms), "ms=%d", tt.ms)
	}
}

func TestStateName(t *testing.T) {
	assert.Equal(t, "C (charging)", stateName(iecStateNames, evse.IECStateC))
	assert.Equal(t, "unknown (9)", stateName(iecStateNames, 9))
}

func sample(iec, errState uint8, uptime uint32) sampleMsg {
	return sampleMsg{sample: &controllerSample{
		timestamp: time.Now(),
		state:     evse.State{IEC61851State: iec, ErrorState: errState, Uptime: uptime},
	}}
}

func TestModelLogsTransitions(t *testing.T) {
	var m tea.Model = initialModel("tcp localhost:4223", "Xa1", time.Second)

	m, _ = m.Update(sample(evse.IECStateA, evse.ErrorStateOK, 1000))
	m, _ = m.Update(sample(evse.IECStateC, evse.ErrorStateOK, 2000))
	m, _ = m.Update(sample(evse.IECStateC, evse.ErrorStateDCFault, 3000))
	m, _ = m.Update(sample(evse.IECStateC, evse.ErrorStateDCFault, 10))
	m, _ = m.Update(sampleMsg{err: errors.New("timeout")})

	got := m.(model)
	require.Len(t, got.eventLog, 5)
	assert.Contains(t, got.eventLog[0].message, "Connected to EVSE Xa1")
	assert.Contains(t, got.eventLog[1].message, "A (no vehicle) -> C (charging)")
	assert.True(t, got.eventLog[2].isError)
	assert.Contains(t, got.eventLog[2].message, "DC fault")
	assert.Equal(t, "Controller restarted", got.eventLog[3].message)
	assert.Contains(t, got.eventLog[4].message, "POLL FAILED")

	assert.Contains(t, got.View(), "PROVISOR - CONTROLLER MONITOR")
}

func TestModelQuit(t *testing.T) {
	m := initialModel("", "Xa1", time.Second)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, next.(model).quitting)
	assert.NotNil(t, cmd)
}

func TestEventLogIsBounded(t *testing.T) {
	m := initialModel("", "Xa1", time.Second)
	m.maxLogEntries = 3
	for i := 0; i < 10; i++ {
		m.addLogEntry("event", false)
	}
	assert.Len(t, m.eventLog, 3)
}
