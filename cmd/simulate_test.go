// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorOptions(t *testing.T) {
	defer func(v, u string) { simVariant, simUID = v, u }(simVariant, simUID)

	simUID = "Zz9"
	tests := []struct {
		variant    string
		meter      bool
		withMaster bool
	}{
		{"pro", true, false},
		{"Smart", false, false},
		{"basic", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			simVariant = tt.variant
			opts, err := simulatorOptions()
			require.NoError(t, err)
			assert.Equal(t, tt.meter, opts.MeterAvailable)
			assert.Equal(t, tt.withMaster, opts.MasterUID != "")
			assert.Equal(t, "Zz9", opts.UID)
		})
	}

	simVariant = "deluxe"
	_, err := simulatorOptions()
	assert.Error(t, err)
}
