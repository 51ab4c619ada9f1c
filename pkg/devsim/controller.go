// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package devsim simulates a charger for bench dry runs and tests: the
// charge controller on the protocol bus and the management HTTP service.
package devsim

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/rig"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Options describes the simulated unit
type Options struct {
	UID       string
	ParentUID string
	// MasterUID adds a master brick, as on Basic units
	MasterUID string
	// Extra devices announced on enumeration
	Extra []tfp.Identity

	Jumper          uint8
	LockSwitch      bool
	OutgoingCurrent uint16
	MeterAvailable  bool
	MeterErrors     []uint32
	DetailedValues  []float32
	// The detailed stream starts empty until the first full meter cycle
	DetailedEmpty bool

	// Low-level reads before the front button reads as pressed; negative never
	ButtonPressAfter int

	FirmwareVersion string
	UpdateVersion   string
	LockUpdates     bool

	SamplesPerSecond float64
	Samples          []float64
	SeenTags         []mgmt.SeenTag
}

// DefaultOptions is a healthy 22 kW Pro unit on the current firmware
func DefaultOptions() Options {
	values := make([]float32, evse.DetailedValuesLength)
	for i := range values {
		values[i] = float32(i) * 0.5
	}
	return Options{
		UID:              "Xa1",
		ParentUID:        "6Ew",
		Jumper:           evse.Jumper32A,
		OutgoingCurrent:  32000,
		MeterAvailable:   true,
		MeterErrors:      make([]uint32, 6),
		DetailedValues:   values,
		FirmwareVersion:  "2.0.4",
		SamplesPerSecond: 0.5,
		Samples:          []float64{230.1, 230.4, 229.8},
		SeenTags: []mgmt.SeenTag{
			{TagType: 2, TagID: mgmt.TagID{0x04, 0xBA, 0x38, 0x42, 0xEF, 0x6C, 0x80}, LastSeen: 20},
		},
	}
}

// Controller is the simulated unit
type Controller struct {
	log zerolog.Logger

	mu            sync.Mutex
	opts          Options
	uid           uint32
	iec           uint8
	errorState    uint8
	lowLevelReads int
	streamPos     int
	maxCurrent    uint16
	flashes       int
	factoryResets int
	proxyEnabled  bool
	tagConfig     *mgmt.TagConfig
	calls         map[string]int
}

func NewController(opts Options, log zerolog.Logger) (*Controller, error) {
	uid, err := tfp.ParseUID(opts.UID)
	if err != nil {
		return nil, err
	}
	return &Controller{
		log:        log,
		opts:       opts,
		uid:        uid,
		maxCurrent: opts.OutgoingCurrent,
		calls:      make(map[string]int),
	}, nil
}

// Update changes the unit description while it runs
func (c *Controller) Update(fn func(*Options)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.opts)
}

// Apply moves the simulated vehicle and fault inputs to a bench step
func (c *Controller) Apply(step rig.Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if step.IEC != 0 {
		c.iec = step.IEC - 'A'
	}
	if step.WantError {
		c.errorState = evse.ErrorStateDCFault
	}
}

// Calls returns how often a protocol function was handled
func (c *Controller) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *Controller) Flashes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flashes
}

func (c *Controller) FactoryResets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.factoryResets
}

// ProxyEnabled reports whether the protocol proxy was switched on
func (c *Controller) ProxyEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxyEnabled
}

// TagConfig returns the last credential configuration pushed, or nil
func (c *Controller) TagConfig() *mgmt.TagConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tagConfig
}

func (c *Controller) identities() []tfp.Identity {
	ids := []tfp.Identity{{
		UID:              c.opts.UID,
		ConnectedUID:     c.opts.ParentUID,
		Position:         'a',
		HardwareVersion:  [3]uint8{2, 1, 0},
		FirmwareVersion:  [3]uint8{2, 1, 0},
		DeviceIdentifier: evse.DeviceIdentifier,
	}}
	if c.opts.MasterUID != "" {
		ids = append(ids, tfp.Identity{
			UID:              c.opts.MasterUID,
			ConnectedUID:     "0",
			Position:         '0',
			HardwareVersion:  [3]uint8{3, 0, 0},
			FirmwareVersion:  [3]uint8{2, 5, 0},
			DeviceIdentifier: evse.MasterDeviceIdentifier,
		})
	}
	return append(ids, c.opts.Extra...)
}

func reply(req *tfp.Packet, code uint8, payload []byte) *tfp.Packet {
	return &tfp.Packet{
		UID:              req.UID,
		FunctionID:       req.FunctionID,
		Sequence:         req.Sequence,
		ResponseExpected: req.ResponseExpected,
		ErrorCode:        code,
		Payload:          payload,
	}
}

// Handle answers one request packet
func (c *Controller) Handle(p *tfp.Packet) []*tfp.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.UID == tfp.BroadcastUID && p.FunctionID == tfp.FunctionEnumerate {
		return c.enumerate()
	}
	if p.UID != c.uid {
		return c.handleOther(p)
	}

	op, ok := evse.OpOf(p.FunctionID)
	if !ok {
		if !p.ResponseExpected {
			return nil
		}
		return []*tfp.Packet{reply(p, tfp.ErrorCodeNotSupported, nil)}
	}
	desc := evse.Descriptor(op)
	c.calls[desc.Name]++

	args, err := desc.Request.Decode(p.Payload)
	if err != nil {
		c.log.Warn().Err(err).Str("function", desc.Name).Msg("malformed request")
		if !p.ResponseExpected {
			return nil
		}
		return []*tfp.Packet{reply(p, tfp.ErrorCodeInvalidParameter, nil)}
	}

	values, code := c.respond(op, args)
	if !p.ResponseExpected {
		return nil
	}
	if code != tfp.ErrorCodeOK {
		return []*tfp.Packet{reply(p, code, nil)}
	}
	payload, err := desc.Response.Encode(values)
	if err != nil {
		c.log.Error().Err(err).Str("function", desc.Name).Msg("response does not fit layout")
		return []*tfp.Packet{reply(p, tfp.ErrorCodeUnknown, nil)}
	}
	return []*tfp.Packet{reply(p, tfp.ErrorCodeOK, payload)}
}

func (c *Controller) enumerate() []*tfp.Packet {
	layout := tfp.EnumerateCallbackLayout()
	var out []*tfp.Packet
	for _, id := range c.identities() {
		id.EnumerationType = tfp.EnumerationAvailable
		payload, err := layout.Encode(tfp.EnumerateCallbackValues(id))
		if err != nil {
			c.log.Error().Err(err).Str("uid", id.UID).Msg("enumerate callback")
			continue
		}
		uid, _ := tfp.ParseUID(id.UID)
		out = append(out, &tfp.Packet{
			UID:        uid,
			FunctionID: tfp.CallbackEnumerate,
			Sequence:   tfp.CallbackSequence,
			Payload:    payload,
		})
	}
	return out
}

// handleOther answers get_identity for the other simulated devices
func (c *Controller) handleOther(p *tfp.Packet) []*tfp.Packet {
	for _, id := range c.identities() {
		uid, err := tfp.ParseUID(id.UID)
		if err != nil || uid != p.UID {
			continue
		}
		if !p.ResponseExpected {
			return nil
		}
		if p.FunctionID != tfp.GetIdentity.FunctionID {
			return []*tfp.Packet{reply(p, tfp.ErrorCodeNotSupported, nil)}
		}
		payload, err := tfp.IdentityLayout.Encode(tfp.IdentityValues(id))
		if err != nil {
			return []*tfp.Packet{reply(p, tfp.ErrorCodeUnknown, nil)}
		}
		return []*tfp.Packet{reply(p, tfp.ErrorCodeOK, payload)}
	}
	return nil
}

func (c *Controller) respond(op evse.Op, args []any) ([]any, uint8) {
	switch op {
	case evse.OpGetState:
		return []any{c.iec, 0, 0, 0, 0, c.maxCurrent, c.errorState, 0, 1000, 123456}, tfp.ErrorCodeOK

	case evse.OpGetHardwareConfiguration:
		return []any{c.opts.Jumper, c.opts.LockSwitch}, tfp.ErrorCodeOK

	case evse.OpGetLowLevelState:
		c.lowLevelReads++
		gpio := make([]bool, 24)
		after := c.opts.ButtonPressAfter
		gpio[evse.FrontPanelButtonGPIO] = after >= 0 && c.lowLevelReads > after
		return []any{1, 500, make([]uint16, 7), make([]int16, 7), []uint32{0, 0}, gpio, 0}, tfp.ErrorCodeOK

	case evse.OpSetMaxChargingCurrent:
		c.maxCurrent = args[0].(uint16)
		return nil, tfp.ErrorCodeOK

	case evse.OpGetMaxChargingCurrent:
		return []any{c.maxCurrent, 32000, c.opts.OutgoingCurrent, 32000}, tfp.ErrorCodeOK

	case evse.OpStartCharging, evse.OpStopCharging, evse.OpResetEnergyMeter, evse.OpReset:
		return nil, tfp.ErrorCodeOK

	case evse.OpGetEnergyMeterValues:
		phases := []bool{true, true, true}
		return []any{float32(0), float32(0), float32(12.5), phases, phases}, tfp.ErrorCodeOK

	case evse.OpGetEnergyMeterDetailedValuesLowLevel:
		return c.detailedChunk(), tfp.ErrorCodeOK

	case evse.OpGetEnergyMeterState:
		errs := make([]uint32, 6)
		copy(errs, c.opts.MeterErrors)
		return []any{c.opts.MeterAvailable, errs}, tfp.ErrorCodeOK

	case evse.OpGetDCFaultCurrentState:
		if c.errorState == evse.ErrorStateDCFault {
			return []any{1}, tfp.ErrorCodeOK
		}
		return []any{0}, tfp.ErrorCodeOK

	case evse.OpResetDCFaultCurrent:
		if args[0].(uint32) != evse.DCFaultResetPassword {
			return nil, tfp.ErrorCodeInvalidParameter
		}
		if c.errorState == evse.ErrorStateDCFault {
			c.errorState = evse.ErrorStateOK
		}
		return []any{}, tfp.ErrorCodeOK

	case evse.OpSetManaged:
		return []any{}, tfp.ErrorCodeOK

	case evse.OpGetIndicatorLED:
		return []any{-1, 0}, tfp.ErrorCodeOK

	case evse.OpSetIndicatorLED:
		return []any{0}, tfp.ErrorCodeOK

	case evse.OpGetButtonState:
		return []any{0, 0, false}, tfp.ErrorCodeOK

	case evse.OpGetSPITFPErrorCount:
		return []any{0, 0, 0, 0}, tfp.ErrorCodeOK

	case evse.OpGetChipTemperature:
		return []any{int16(31)}, tfp.ErrorCodeOK

	case evse.OpGetIdentity:
		return tfp.IdentityValues(c.identities()[0]), tfp.ErrorCodeOK
	}
	return nil, tfp.ErrorCodeNotSupported
}

// detailedChunk serves the meter values in fixed chunks, wrapping at the end
func (c *Controller) detailedChunk() []any {
	chunk := make([]float32, evse.DetailedValuesChunkSize)
	if c.opts.DetailedEmpty {
		c.opts.DetailedEmpty = false
		return []any{uint16(tfp.StreamEmptyOffset), chunk}
	}
	offset := c.streamPos
	copy(chunk, c.opts.DetailedValues[min(offset, len(c.opts.DetailedValues)):])
	c.streamPos += evse.DetailedValuesChunkSize
	if c.streamPos >= evse.DetailedValuesLength {
		c.streamPos = 0
	}
	return []any{uint16(offset), chunk}
}
