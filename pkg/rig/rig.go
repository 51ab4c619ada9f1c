// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rig abstracts the test bench around the unit under test: the
// switched supply, the status light and buzzer, the bench NFC reader and
// the electrical test sequence.
package rig

import (
	"context"
	"fmt"

	"github.com/Thermoquad/provisor/pkg/mgmt"
)

// Profile selects the supply configuration for power-on
type Profile string

const (
	ProfileBasic Profile = "Basic"
	ProfileSmart Profile = "Smart"
	ProfilePro   Profile = "Pro"
	ProfileCEE   Profile = "CEE"
)

// Color is one segment of the status light
type Color struct {
	R, G, B uint8
}

var (
	Off    = Color{}
	Blue   = Color{0, 0, 255}
	Green  = Color{0, 255, 0}
	Red    = Color{255, 0, 0}
	Orange = Color{255, 127, 0}
)

func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// Credential is a tag seen by the bench reader
type Credential struct {
	TagType uint8
	TagID   mgmt.TagID
}

// Probe is the view of the controller the electrical test needs
type Probe interface {
	FrontPanelButtonPressed(ctx context.Context) (bool, error)
	IECState(ctx context.Context) (byte, error)
	ResetDCFault(ctx context.Context) error
	HasError(ctx context.Context) (bool, error)
}

// Rig is the bench collaborator of a provisioning run
type Rig interface {
	PowerOn(ctx context.Context, profile Profile) error
	// PowerOff must be safe to call on any path, including after a failed
	// PowerOn and with a cancelled context.
	PowerOff(ctx context.Context) error
	// SetLEDs lights the strip; fewer colors than segments repeat the last.
	SetLEDs(colors ...Color)
	Beep(success bool)
	// Credentials returns the tags the bench reader currently sees
	Credentials(ctx context.Context) ([]Credential, error)
	ElectricalTest(ctx context.Context, probe Probe) error
}
