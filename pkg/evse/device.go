// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package evse

import (
	"context"

	"github.com/Thermoquad/provisor/pkg/tfp"
)

// IEC 61851 states reported by get_state
const (
	IECStateA = iota
	IECStateB
	IECStateC
	IECStateD
	IECStateEF
)

// Error states reported by get_state
const (
	ErrorStateOK            = 0
	ErrorStateSwitch        = 2
	ErrorStateDCFault       = 3
	ErrorStateContactor     = 4
	ErrorStateCommunication = 5
)

// Jumper configurations reported by get_hardware_configuration
const (
	Jumper6A           = 0
	Jumper10A          = 1
	Jumper13A          = 2
	Jumper16A          = 3
	Jumper20A          = 4
	Jumper25A          = 5
	Jumper32A          = 6
	JumperSoftware     = 7
	JumperUnconfigured = 8
)

// DCFaultResetPassword unlocks reset_dc_fault_current
const DCFaultResetPassword = 0xDC42FA23

// FrontPanelButtonGPIO is the low-level gpio index wired to the front button
const FrontPanelButtonGPIO = 6

// Caller performs protocol calls; *tfp.Client implements it
type Caller interface {
	Call(ctx context.Context, req tfp.Request) ([]any, error)
}

type State struct {
	IEC61851State          uint8
	VehicleState           uint8
	ContactorState         uint8
	ContactorError         uint8
	ChargeRelease          uint8
	AllowedChargingCurrent uint16
	ErrorState             uint8
	LockState              uint8
	TimeSinceStateChange   uint32
	Uptime                 uint32
}

type HardwareConfiguration struct {
	JumperConfiguration uint8
	HasLockSwitch       bool
}

type LowLevelState struct {
	LEDState       uint8
	CPPWMDutyCycle uint16
	ADCValues      []uint16
	Voltages       []int16
	Resistances    []uint32
	GPIO           []bool
	ChargingTime   uint32
}

type MaxChargingCurrent struct {
	Configured    uint16
	IncomingCable uint16
	OutgoingCable uint16
	Managed       uint16
}

type EnergyMeterValues struct {
	Power           float32
	EnergyRelative  float32
	EnergyAbsolute  float32
	PhasesActive    []bool
	PhasesConnected []bool
}

type EnergyMeterState struct {
	Available  bool
	ErrorCount []uint32
}

type IndicatorLED struct {
	Indication int16
	Duration   uint16
}

type ButtonState struct {
	PressTime   uint32
	ReleaseTime uint32
	Pressed     bool
}

type SPITFPErrorCount struct {
	AckChecksum     uint32
	MessageChecksum uint32
	Frame           uint32
	Overflow        uint32
}

// Device is one charge controller reached through a Caller
type Device struct {
	caller   Caller
	uid      uint32
	detailed *tfp.Stream[float32]
}

// NewDevice binds a device uid to a caller
func NewDevice(caller Caller, uid uint32) *Device {
	d := &Device{caller: caller, uid: uid}
	d.detailed = tfp.NewStream(DetailedValuesLength, DetailedValuesChunkSize, d.detailedValuesChunk)
	return d
}

// UID returns the numeric device uid
func (d *Device) UID() uint32 {
	return d.uid
}

func (d *Device) call(ctx context.Context, op Op, args ...any) ([]any, error) {
	return d.caller.Call(ctx, tfp.Request{UID: d.uid, Function: Descriptor(op), Args: args})
}

// callAcked is used for functions that answer only when asked to
func (d *Device) callAcked(ctx context.Context, op Op, args ...any) error {
	_, err := d.caller.Call(ctx, tfp.Request{UID: d.uid, Function: Descriptor(op), Args: args, ResponseExpected: true})
	return err
}

func (d *Device) State(ctx context.Context) (State, error) {
	v, err := d.call(ctx, OpGetState)
	if err != nil {
		return State{}, err
	}
	return State{
		IEC61851State:          v[0].(uint8),
		VehicleState:           v[1].(uint8),
		ContactorState:         v[2].(uint8),
		ContactorError:         v[3].(uint8),
		ChargeRelease:          v[4].(uint8),
		AllowedChargingCurrent: v[5].(uint16),
		ErrorState:             v[6].(uint8),
		LockState:              v[7].(uint8),
		TimeSinceStateChange:   v[8].(uint32),
		Uptime:                 v[9].(uint32),
	}, nil
}

func (d *Device) HardwareConfiguration(ctx context.Context) (HardwareConfiguration, error) {
	v, err := d.call(ctx, OpGetHardwareConfiguration)
	if err != nil {
		return HardwareConfiguration{}, err
	}
	return HardwareConfiguration{JumperConfiguration: v[0].(uint8), HasLockSwitch: v[1].(bool)}, nil
}

func (d *Device) LowLevelState(ctx context.Context) (LowLevelState, error) {
	v, err := d.call(ctx, OpGetLowLevelState)
	if err != nil {
		return LowLevelState{}, err
	}
	return LowLevelState{
		LEDState:       v[0].(uint8),
		CPPWMDutyCycle: v[1].(uint16),
		ADCValues:      v[2].([]uint16),
		Voltages:       v[3].([]int16),
		Resistances:    v[4].([]uint32),
		GPIO:           v[5].([]bool),
		ChargingTime:   v[6].(uint32),
	}, nil
}

// SetMaxChargingCurrent sets the configured current limit in mA
func (d *Device) SetMaxChargingCurrent(ctx context.Context, current uint16) error {
	_, err := d.call(ctx, OpSetMaxChargingCurrent, current)
	return err
}

func (d *Device) MaxChargingCurrent(ctx context.Context) (MaxChargingCurrent, error) {
	v, err := d.call(ctx, OpGetMaxChargingCurrent)
	if err != nil {
		return MaxChargingCurrent{}, err
	}
	return MaxChargingCurrent{
		Configured:    v[0].(uint16),
		IncomingCable: v[1].(uint16),
		OutgoingCable: v[2].(uint16),
		Managed:       v[3].(uint16),
	}, nil
}

func (d *Device) StartCharging(ctx context.Context) error {
	_, err := d.call(ctx, OpStartCharging)
	return err
}

func (d *Device) StopCharging(ctx context.Context) error {
	_, err := d.call(ctx, OpStopCharging)
	return err
}

func (d *Device) EnergyMeterValues(ctx context.Context) (EnergyMeterValues, error) {
	v, err := d.call(ctx, OpGetEnergyMeterValues)
	if err != nil {
		return EnergyMeterValues{}, err
	}
	return EnergyMeterValues{
		Power:           v[0].(float32),
		EnergyRelative:  v[1].(float32),
		EnergyAbsolute:  v[2].(float32),
		PhasesActive:    v[3].([]bool),
		PhasesConnected: v[4].([]bool),
	}, nil
}

func (d *Device) detailedValuesChunk(ctx context.Context) (uint16, []float32, error) {
	v, err := d.call(ctx, OpGetEnergyMeterDetailedValuesLowLevel)
	if err != nil {
		return 0, nil, err
	}
	return v[0].(uint16), v[1].([]float32), nil
}

// EnergyMeterDetailedValues reads all detailed meter values. The result is
// empty when the meter has not produced any yet.
func (d *Device) EnergyMeterDetailedValues(ctx context.Context) ([]float32, error) {
	return d.detailed.Read(ctx)
}

func (d *Device) EnergyMeterState(ctx context.Context) (EnergyMeterState, error) {
	v, err := d.call(ctx, OpGetEnergyMeterState)
	if err != nil {
		return EnergyMeterState{}, err
	}
	return EnergyMeterState{Available: v[0].(bool), ErrorCount: v[1].([]uint32)}, nil
}

func (d *Device) ResetEnergyMeter(ctx context.Context) error {
	_, err := d.call(ctx, OpResetEnergyMeter)
	return err
}

func (d *Device) DCFaultCurrentState(ctx context.Context) (uint8, error) {
	v, err := d.call(ctx, OpGetDCFaultCurrentState)
	if err != nil {
		return 0, err
	}
	return v[0].(uint8), nil
}

func (d *Device) ResetDCFaultCurrent(ctx context.Context, password uint32) error {
	return d.callAcked(ctx, OpResetDCFaultCurrent, password)
}

func (d *Device) SetManaged(ctx context.Context, managed bool, password uint32) error {
	return d.callAcked(ctx, OpSetManaged, managed, password)
}

func (d *Device) IndicatorLED(ctx context.Context) (IndicatorLED, error) {
	v, err := d.call(ctx, OpGetIndicatorLED)
	if err != nil {
		return IndicatorLED{}, err
	}
	return IndicatorLED{Indication: v[0].(int16), Duration: v[1].(uint16)}, nil
}

// SetIndicatorLED returns the controller's status code for the request
func (d *Device) SetIndicatorLED(ctx context.Context, indication int16, duration uint16) (uint8, error) {
	v, err := d.call(ctx, OpSetIndicatorLED, indication, duration)
	if err != nil {
		return 0, err
	}
	return v[0].(uint8), nil
}

func (d *Device) ButtonState(ctx context.Context) (ButtonState, error) {
	v, err := d.call(ctx, OpGetButtonState)
	if err != nil {
		return ButtonState{}, err
	}
	return ButtonState{PressTime: v[0].(uint32), ReleaseTime: v[1].(uint32), Pressed: v[2].(bool)}, nil
}

func (d *Device) SPITFPErrorCount(ctx context.Context) (SPITFPErrorCount, error) {
	v, err := d.call(ctx, OpGetSPITFPErrorCount)
	if err != nil {
		return SPITFPErrorCount{}, err
	}
	return SPITFPErrorCount{
		AckChecksum:     v[0].(uint32),
		MessageChecksum: v[1].(uint32),
		Frame:           v[2].(uint32),
		Overflow:        v[3].(uint32),
	}, nil
}

// ChipTemperature returns the MCU temperature in °C
func (d *Device) ChipTemperature(ctx context.Context) (int16, error) {
	v, err := d.call(ctx, OpGetChipTemperature)
	if err != nil {
		return 0, err
	}
	return v[0].(int16), nil
}

func (d *Device) Reset(ctx context.Context) error {
	_, err := d.call(ctx, OpReset)
	return err
}

func (d *Device) Identity(ctx context.Context) (tfp.Identity, error) {
	v, err := d.call(ctx, OpGetIdentity)
	if err != nil {
		return tfp.Identity{}, err
	}
	return tfp.IdentityFromValues(v), nil
}

// Electrical test hooks

// FrontPanelButtonPressed reads the front button gpio
func (d *Device) FrontPanelButtonPressed(ctx context.Context) (bool, error) {
	s, err := d.LowLevelState(ctx)
	if err != nil {
		return false, err
	}
	return s.GPIO[FrontPanelButtonGPIO], nil
}

// IECState returns the IEC 61851 state as a letter, 'A' through 'E'
func (d *Device) IECState(ctx context.Context) (byte, error) {
	s, err := d.State(ctx)
	if err != nil {
		return 0, err
	}
	return 'A' + s.IEC61851State, nil
}

// ResetDCFault clears a latched DC fault
func (d *Device) ResetDCFault(ctx context.Context) error {
	return d.ResetDCFaultCurrent(ctx, DCFaultResetPassword)
}

// HasError reports a non-OK error state
func (d *Device) HasError(ctx context.Context) (bool, error) {
	s, err := d.State(ctx)
	if err != nil {
		return false, err
	}
	return s.ErrorState != ErrorStateOK, nil
}

// ExpectedJumper maps a declared power rating in kW to the jumper setting
func ExpectedJumper(powerKW string) (uint8, bool) {
	switch powerKW {
	case "11":
		return Jumper16A, true
	case "22":
		return Jumper32A, true
	}
	return 0, false
}

// ExpectedOutgoingCurrent maps a declared power rating in kW to the type 2
// cable limit in mA
func ExpectedOutgoingCurrent(powerKW string) (uint16, bool) {
	switch powerKW {
	case "11":
		return 20000, true
	case "22":
		return 32000, true
	}
	return 0, false
}
