// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rig

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/provisor/pkg/console"
	"github.com/Thermoquad/provisor/pkg/mgmt"
)

// ConsoleRig is a manually operated bench: every action is an instruction
// to the operator, confirmed with Enter.
type ConsoleRig struct {
	con      *console.Console
	log      zerolog.Logger
	segments int
	tags     []Credential
}

func NewConsoleRig(con *console.Console, log zerolog.Logger) *ConsoleRig {
	return &ConsoleRig{con: con, log: log, segments: 3}
}

func (r *ConsoleRig) confirm(ctx context.Context, instruction string) error {
	_, err := r.con.Prompt(ctx, instruction+", then press Enter", false)
	return err
}

func (r *ConsoleRig) PowerOn(ctx context.Context, profile Profile) error {
	r.log.Info().Str("profile", string(profile)).Msg("power on")
	return r.confirm(ctx, fmt.Sprintf("Switch the bench supply ON with profile %s", profile))
}

func (r *ConsoleRig) PowerOff(ctx context.Context) error {
	r.log.Info().Msg("power off")
	r.con.Warnf("Switch the bench supply OFF now")
	return nil
}

func (r *ConsoleRig) SetLEDs(colors ...Color) {
	if len(colors) == 0 {
		return
	}
	var b strings.Builder
	for i := 0; i < r.segments; i++ {
		c := colors[len(colors)-1]
		if i < len(colors) {
			c = colors[i]
		}
		b.WriteString(lipgloss.NewStyle().Background(lipgloss.Color(c.Hex())).Render("    "))
	}
	r.con.Printf("%s\n", b.String())
}

func (r *ConsoleRig) Beep(success bool) {
	if success {
		r.con.Printf("\a")
		return
	}
	r.con.Printf("\a\a\a")
}

// Credentials asks for one more tag id per call until three are known
func (r *ConsoleRig) Credentials(ctx context.Context) ([]Credential, error) {
	if len(r.tags) >= 3 {
		return r.tags, nil
	}
	line, err := r.con.Prompt(ctx, fmt.Sprintf("Enter the id of tag %d (hex, e.g. 04:BA:38:42:EF:6C:80)", len(r.tags)+1), false)
	if err != nil {
		return nil, err
	}
	id, err := ParseTagID(line)
	if err != nil {
		r.con.Warnf("%v", err)
		return r.tags, nil
	}
	r.tags = append(r.tags, Credential{TagType: 2, TagID: id})
	return r.tags, nil
}

func (r *ConsoleRig) ElectricalTest(ctx context.Context, probe Probe) error {
	for _, step := range ElectricalSequence {
		if err := r.confirm(ctx, step.Instruction); err != nil {
			return err
		}
		if err := step.Check(ctx, probe); err != nil {
			return err
		}
		r.log.Debug().Str("step", step.Name).Msg("electrical step passed")
	}
	return nil
}

// ParseTagID accepts hex with optional ':' or ' ' separators
func ParseTagID(s string) (mgmt.TagID, error) {
	clean := strings.NewReplacer(":", "", " ", "", "-", "").Replace(strings.TrimSpace(s))
	raw, err := hex.DecodeString(clean)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("invalid tag id %q", s)
	}
	return mgmt.TagID(raw), nil
}
