// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"fmt"
)

// Step is one stage of the electrical test: the bench is put into a
// condition, then the controller's view of it is checked.
type Step struct {
	Name        string
	Instruction string
	IEC         byte // expected IEC 61851 state letter, 0 to skip
	WantError   bool
	ResetFault  bool // clear the DC fault latch after the check
}

// ElectricalSequence is the ordered electrical test
var ElectricalSequence = []Step{
	{Name: "idle", Instruction: "Leave the vehicle simulator disconnected", IEC: 'A'},
	{Name: "connected", Instruction: "Connect the vehicle simulator (state B)", IEC: 'B'},
	{Name: "charging", Instruction: "Switch the vehicle simulator to charging (state C)", IEC: 'C'},
	{Name: "dc fault", Instruction: "Inject the 6 mA DC fault current", WantError: true, ResetFault: true},
	{Name: "recovered", Instruction: "Remove the DC fault and disconnect the vehicle simulator", IEC: 'A'},
}

// Check verifies the controller state for one step
func (s Step) Check(ctx context.Context, probe Probe) error {
	if s.IEC != 0 {
		got, err := probe.IECState(ctx)
		if err != nil {
			return fmt.Errorf("%s: reading IEC state: %w", s.Name, err)
		}
		if got != s.IEC {
			return fmt.Errorf("%s: IEC 61851 state is %c, expected %c", s.Name, got, s.IEC)
		}
	}

	hasError, err := probe.HasError(ctx)
	if err != nil {
		return fmt.Errorf("%s: reading error state: %w", s.Name, err)
	}
	if hasError != s.WantError {
		if s.WantError {
			return fmt.Errorf("%s: controller did not report an error", s.Name)
		}
		return fmt.Errorf("%s: controller reports an error", s.Name)
	}

	if s.ResetFault {
		if err := probe.ResetDCFault(ctx); err != nil {
			return fmt.Errorf("%s: resetting DC fault: %w", s.Name, err)
		}
	}
	return nil
}
