// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Bench applies a test step to a simulated controller
type Bench interface {
	Apply(step Step)
}

// SimRig is an automated bench for dry runs and tests. It presents one more
// of its tags on every Credentials call and records everything it is asked
// to do.
type SimRig struct {
	Tags  []Credential
	Bench Bench
	// Injected failures
	PowerOnErr    error
	ElectricalErr error

	log zerolog.Logger

	mu        sync.Mutex
	presented int
	powered   bool
	profiles  []Profile
	powerOffs int
	leds      [][]Color
	beeps     []bool
}

func NewSimRig(tags []Credential, bench Bench, log zerolog.Logger) *SimRig {
	return &SimRig{Tags: tags, Bench: bench, log: log}
}

func (r *SimRig) PowerOn(ctx context.Context, profile Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, profile)
	if r.PowerOnErr != nil {
		return r.PowerOnErr
	}
	r.powered = true
	r.log.Debug().Str("profile", string(profile)).Msg("sim power on")
	return nil
}

func (r *SimRig) PowerOff(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.powered = false
	r.powerOffs++
	return nil
}

func (r *SimRig) SetLEDs(colors ...Color) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leds = append(r.leds, append([]Color(nil), colors...))
}

func (r *SimRig) Beep(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beeps = append(r.beeps, success)
}

func (r *SimRig) Credentials(ctx context.Context) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presented < len(r.Tags) {
		r.presented++
	}
	return append([]Credential(nil), r.Tags[:r.presented]...), nil
}

func (r *SimRig) ElectricalTest(ctx context.Context, probe Probe) error {
	if r.ElectricalErr != nil {
		return r.ElectricalErr
	}
	for _, step := range ElectricalSequence {
		if r.Bench != nil {
			r.Bench.Apply(step)
		}
		if err := step.Check(ctx, probe); err != nil {
			return err
		}
	}
	return nil
}

// Powered reports whether the unit is currently energized
func (r *SimRig) Powered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powered
}

// Profiles lists the profiles PowerOn was called with
func (r *SimRig) Profiles() []Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Profile(nil), r.profiles...)
}

func (r *SimRig) PowerOffs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powerOffs
}

// LastLEDs returns the most recent strip state
func (r *SimRig) LastLEDs() []Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.leds) == 0 {
		return nil
	}
	return r.leds[len(r.leds)-1]
}

func (r *SimRig) Beeps() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.beeps...)
}
