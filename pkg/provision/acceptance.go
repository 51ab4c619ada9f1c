// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/scancode"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// unit is what the acceptance tests learned about the devices of a unit
type unit struct {
	evseUID   string
	masterUID string
	device    *evse.Device
	variant   scancode.Variant
}

// detectVariant derives the product variant from the enumerated devices and
// the meter presence, and checks it against the scanned one.
func detectVariant(scanned scancode.Variant, hasMaster, hasMeter bool) (scancode.Variant, error) {
	detected := scancode.Smart
	switch {
	case hasMaster:
		detected = scancode.Basic
	case hasMeter:
		detected = scancode.Pro
	}
	if detected == scanned {
		return detected, nil
	}

	switch detected {
	case scancode.Basic:
		return detected, fmt.Errorf("Scanned QR code implies variant %s, but detected was Basic (i.e. an Master Brick was found)", scanned)
	case scancode.Smart:
		return detected, fmt.Errorf("Scanned QR code implies variant %s, but detected was Smart: An ESP32 Brick was found, but no energy meter. Is the meter not connected or the display not lighting up? Is the QR code correct?", scanned)
	default:
		return detected, fmt.Errorf("Scanned QR code implies variant %s, but detected was Pro: An ESP32 Brick and an energy meter was found. Is the QR code correct?", scanned)
	}
}

func (p *Provisioner) runDeviceTests(ctx context.Context, r *run) error {
	variant := r.wallbox.Variant
	power := r.wallbox.Power

	identities, err := r.link.Enumerate(ctx, p.cfg.EnumerateWindow)
	if err != nil {
		return wrap(StageAcceptance, err, "Enumerating devices")
	}

	var master, controller *tfp.Identity
	for i := range identities {
		switch identities[i].DeviceIdentifier {
		case evse.MasterDeviceIdentifier:
			if master == nil {
				master = &identities[i]
			}
		case evse.DeviceIdentifier:
			if controller == nil {
				controller = &identities[i]
			}
		}
	}

	if variant != scancode.Basic && (len(identities) < 1 || len(identities) > 2) {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Unexpected number of devices! Expected 1 or 2 but got %d.", len(identities))
	}
	if controller == nil {
		return fatalf(StageAcceptance, KindValidationMismatch, "No EVSE Bricklet found!")
	}

	uid, err := tfp.ParseUID(controller.UID)
	if err != nil {
		return wrap(StageAcceptance, err, "EVSE uid %q", controller.UID)
	}
	dev := evse.NewDevice(r.link, uid)

	meter, err := dev.EnergyMeterState(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading energy meter state")
	}

	detected, err := detectVariant(variant, master != nil, meter.Available)
	if err != nil {
		return &FatalError{Stage: StageAcceptance, Kind: KindValidationMismatch, Message: err.Error()}
	}

	r.unit = &unit{evseUID: controller.UID, device: dev, variant: detected}
	r.result.Set("evse_uid", controller.UID)
	p.op.Infof("EVSE UID is %s", controller.UID)
	if master != nil {
		r.unit.masterUID = master.UID
		r.result.Set("master_uid", master.UID)
		p.op.Infof("Master UID is %s", master.UID)
	}

	hw, err := dev.HardwareConfiguration(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading hardware configuration")
	}
	if want, ok := evse.ExpectedJumper(power); !ok || hw.JumperConfiguration != want {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Wrong jumper config detected: %d but expected %d as the configured power is %s kW.",
			hw.JumperConfiguration, want, power)
	}
	r.result.Set("jumper_config_checked", true)

	if hw.HasLockSwitch {
		return fatalf(StageAcceptance, KindValidationMismatch, "Wallbox has lock switch. Is the diode missing?")
	}
	r.result.Set("diode_checked", true)

	current, err := dev.MaxChargingCurrent(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading charging current limits")
	}
	if want, ok := evse.ExpectedOutgoingCurrent(power); !ok || current.OutgoingCable != want {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Wrong type 2 cable config detected: Allowed current is %g A but expected %d A, as this is a %s kW box.",
			float64(current.OutgoingCable)/1000, want/1000, power)
	}
	r.result.Set("resistor_checked", true)

	if detected == scancode.Pro {
		if err := p.checkMeter(ctx, r); err != nil {
			return err
		}
	}

	if err := p.waitFrontPanelButton(ctx, dev); err != nil {
		return err
	}
	r.result.Set("front_panel_button_tested", true)

	if detected.HasNetwork() {
		if err := p.checkReferenceTag(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) checkMeter(ctx context.Context, r *run) error {
	live, err := r.mgmt.MeterLive(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading live energy meter samples")
	}
	if !(live.SamplesPerSecond > 0.2 && live.SamplesPerSecond < 2.5) {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Expected between 0.2 and 2.5 energy meter samples per second, but got %g", live.SamplesPerSecond)
	}
	if len(live.Samples) < 2 {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Expected at least 2 samples but got %d", len(live.Samples))
	}

	state, err := r.unit.device.EnergyMeterState(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading energy meter state")
	}
	for _, n := range state.ErrorCount {
		if n != 0 {
			return fatalf(StageAcceptance, KindValidationMismatch,
				"Energy meter error count is %v, expected only zeros!", state.ErrorCount)
		}
	}
	r.result.Set("energy_meter_reachable", true)

	values, err := r.unit.device.EnergyMeterDetailedValues(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading detailed energy meter values")
	}
	detailed := make([]float64, len(values))
	for i, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fatalf(StageAcceptance, KindValidationMismatch,
				"Energy meter detailed value %d is not a number", i)
		}
		detailed[i] = f
	}
	r.result.Set("energy_meter_detailed_values", detailed)
	return nil
}

func (p *Provisioner) waitFrontPanelButton(ctx context.Context, dev *evse.Device) error {
	p.op.Progress("Press the front panel button")
	deadline := p.now().Add(p.cfg.ButtonTimeout)
	for {
		pressed, err := dev.FrontPanelButtonPressed(ctx)
		if err != nil {
			return wrap(StageAcceptance, err, "Reading front panel button")
		}
		if pressed {
			p.op.EndProgress("Front panel button works.")
			return nil
		}
		if !p.now().Before(deadline) {
			p.op.EndProgress("")
			return fatalf(StageAcceptance, KindValidationMismatch,
				"Front panel button was not pressed within %s", p.cfg.ButtonTimeout)
		}
		if err := p.sleep(ctx, p.cfg.ButtonInterval); err != nil {
			return wrap(StageAcceptance, err, "Waiting for front panel button")
		}
	}
}

func (p *Provisioner) checkReferenceTag(ctx context.Context, r *run) error {
	seen, err := r.mgmt.SeenTags(ctx)
	if err != nil {
		return wrap(StageAcceptance, err, "Reading seen NFC tags")
	}
	if len(seen) == 0 {
		return fatalf(StageAcceptance, KindValidationMismatch, "Did not find NFC tag: no tags seen")
	}
	first := seen[0]
	if first.TagType != p.cfg.ReferenceTagType ||
		!first.TagID.Equal(p.cfg.ReferenceTagID) ||
		first.LastSeen > p.cfg.ReferenceTagMaxAge {
		return fatalf(StageAcceptance, KindValidationMismatch,
			"Did not find NFC tag: type %d id %s last seen %d", first.TagType, first.TagID, first.LastSeen)
	}
	return nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
