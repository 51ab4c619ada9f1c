// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package evse describes the charge controller bricklet: its function table
// and a typed API over a protocol client.
package evse

import (
	"fmt"

	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Device identifiers reported by get_identity and enumeration
const (
	DeviceIdentifier       = 2167
	MasterDeviceIdentifier = 13
)

// Op enumerates the controller functions this tool uses
type Op int

const (
	OpGetState Op = iota
	OpGetHardwareConfiguration
	OpGetLowLevelState
	OpSetMaxChargingCurrent
	OpGetMaxChargingCurrent
	OpStartCharging
	OpStopCharging
	OpGetEnergyMeterValues
	OpGetEnergyMeterDetailedValuesLowLevel
	OpGetEnergyMeterState
	OpResetEnergyMeter
	OpGetDCFaultCurrentState
	OpResetDCFaultCurrent
	OpSetManaged
	OpGetIndicatorLED
	OpSetIndicatorLED
	OpGetButtonState
	OpGetSPITFPErrorCount
	OpGetChipTemperature
	OpReset
	OpGetIdentity

	opCount
)

// Chunked detailed energy meter values
const (
	DetailedValuesLength    = 85
	DetailedValuesChunkSize = 15
)

var table = [opCount]tfp.Descriptor{
	OpGetState: {
		Name:       "get_state",
		FunctionID: 1,
		Response: tfp.Layout{
			tfp.U8("iec61851_state"),
			tfp.U8("vehicle_state"),
			tfp.U8("contactor_state"),
			tfp.U8("contactor_error"),
			tfp.U8("charge_release"),
			tfp.U16("allowed_charging_current"),
			tfp.U8("error_state"),
			tfp.U8("lock_state"),
			tfp.U32("time_since_state_change"),
			tfp.U32("uptime"),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpGetHardwareConfiguration: {
		Name:       "get_hardware_configuration",
		FunctionID: 2,
		Response:   tfp.Layout{tfp.U8("jumper_configuration"), tfp.B("has_lock_switch")},
		Policy:     tfp.AlwaysExpected,
	},
	OpGetLowLevelState: {
		Name:       "get_low_level_state",
		FunctionID: 3,
		Response: tfp.Layout{
			tfp.U8("led_state"),
			tfp.U16("cp_pwm_duty_cycle"),
			tfp.U16s("adc_values", 7),
			tfp.I16s("voltages", 7),
			tfp.U32s("resistances", 2),
			tfp.Bs("gpio", 24),
			tfp.U32("charging_time"),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpSetMaxChargingCurrent: {
		Name:       "set_max_charging_current",
		FunctionID: 4,
		Request:    tfp.Layout{tfp.U16("max_current")},
		Policy:     tfp.ExpectedIfRequested,
	},
	OpGetMaxChargingCurrent: {
		Name:       "get_max_charging_current",
		FunctionID: 5,
		Response: tfp.Layout{
			tfp.U16("max_current_configured"),
			tfp.U16("max_current_incoming_cable"),
			tfp.U16("max_current_outgoing_cable"),
			tfp.U16("max_current_managed"),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpStartCharging: {
		Name:       "start_charging",
		FunctionID: 6,
		Policy:     tfp.ExpectedIfRequested,
	},
	OpStopCharging: {
		Name:       "stop_charging",
		FunctionID: 7,
		Policy:     tfp.ExpectedIfRequested,
	},
	OpGetEnergyMeterValues: {
		Name:       "get_energy_meter_values",
		FunctionID: 10,
		Response: tfp.Layout{
			tfp.F32("power"),
			tfp.F32("energy_relative"),
			tfp.F32("energy_absolute"),
			tfp.Bs("phases_active", 3),
			tfp.Bs("phases_connected", 3),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpGetEnergyMeterDetailedValuesLowLevel: {
		Name:       "get_energy_meter_detailed_values_low_level",
		FunctionID: 11,
		Response: tfp.Layout{
			tfp.U16("values_chunk_offset"),
			tfp.F32s("values_chunk_data", DetailedValuesChunkSize),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpGetEnergyMeterState: {
		Name:       "get_energy_meter_state",
		FunctionID: 12,
		Response:   tfp.Layout{tfp.B("available"), tfp.U32s("error_count", 6)},
		Policy:     tfp.AlwaysExpected,
	},
	OpResetEnergyMeter: {
		Name:       "reset_energy_meter",
		FunctionID: 13,
		Policy:     tfp.ExpectedIfRequested,
	},
	OpGetDCFaultCurrentState: {
		Name:       "get_dc_fault_current_state",
		FunctionID: 14,
		Response:   tfp.Layout{tfp.U8("dc_fault_current_state")},
		Policy:     tfp.AlwaysExpected,
	},
	OpResetDCFaultCurrent: {
		Name:       "reset_dc_fault_current",
		FunctionID: 15,
		Request:    tfp.Layout{tfp.U32("password")},
		Policy:     tfp.ExpectedIfRequested,
	},
	OpSetManaged: {
		Name:       "set_managed",
		FunctionID: 19,
		Request:    tfp.Layout{tfp.B("managed"), tfp.U32("password")},
		Policy:     tfp.ExpectedIfRequested,
	},
	OpGetIndicatorLED: {
		Name:       "get_indicator_led",
		FunctionID: 23,
		Response:   tfp.Layout{tfp.I16("indication"), tfp.U16("duration")},
		Policy:     tfp.AlwaysExpected,
	},
	OpSetIndicatorLED: {
		Name:       "set_indicator_led",
		FunctionID: 24,
		Request:    tfp.Layout{tfp.I16("indication"), tfp.U16("duration")},
		Response:   tfp.Layout{tfp.U8("status")},
		Policy:     tfp.AlwaysExpected,
	},
	OpGetButtonState: {
		Name:       "get_button_state",
		FunctionID: 27,
		Response: tfp.Layout{
			tfp.U32("button_press_time"),
			tfp.U32("button_release_time"),
			tfp.B("button_pressed"),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpGetSPITFPErrorCount: {
		Name:       "get_spitfp_error_count",
		FunctionID: 234,
		Response: tfp.Layout{
			tfp.U32("error_count_ack_checksum"),
			tfp.U32("error_count_message_checksum"),
			tfp.U32("error_count_frame"),
			tfp.U32("error_count_overflow"),
		},
		Policy: tfp.AlwaysExpected,
	},
	OpGetChipTemperature: {
		Name:       "get_chip_temperature",
		FunctionID: 242,
		Response:   tfp.Layout{tfp.I16("temperature")},
		Policy:     tfp.AlwaysExpected,
	},
	OpReset: {
		Name:       "reset",
		FunctionID: 243,
		Policy:     tfp.NeverExpected,
	},
	OpGetIdentity: tfp.GetIdentity,
}

var byFunction = make(map[uint8]Op, opCount)

func init() {
	if err := tfp.ValidateTable(table[:]); err != nil {
		panic(fmt.Sprintf("evse: invalid function table: %v", err))
	}
	for i := range table {
		byFunction[table[i].FunctionID] = Op(i)
	}
}

// Descriptor returns the static descriptor of op
func Descriptor(op Op) *tfp.Descriptor {
	return &table[op]
}

// Lookup resolves a function id, or returns nil
func Lookup(functionID uint8) *tfp.Descriptor {
	op, ok := byFunction[functionID]
	if !ok {
		return nil
	}
	return &table[op]
}

// OpOf resolves a function id to its operation
func OpOf(functionID uint8) (Op, bool) {
	op, ok := byFunction[functionID]
	return op, ok
}

func (op Op) String() string {
	if op < 0 || op >= opCount {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return table[op].Name
}
