// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/report"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Operator is the person at the bench
type Operator interface {
	Prompt(ctx context.Context, label string, retry bool) (string, error)
	PromptSecret(ctx context.Context, label string, retry bool) (string, error)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Printf(format string, args ...any)
	Progress(format string, args ...any)
	EndProgress(msg string)
}

// Link is a protocol connection to the devices of one unit
type Link interface {
	evse.Caller
	Enumerate(ctx context.Context, window time.Duration) ([]tfp.Identity, error)
	Close() error
}

// Dialer opens links
type Dialer interface {
	Dial(ctx context.Context, addr string) (Link, error)
}

// Management is the controller's HTTP service; *mgmt.Client implements it
type Management interface {
	EventLog(ctx context.Context, timeout time.Duration) (string, error)
	IndexPage(ctx context.Context) (string, error)
	MeterLive(ctx context.Context) (mgmt.MeterLive, error)
	SeenTags(ctx context.Context) ([]mgmt.SeenTag, error)
	FlashFirmware(ctx context.Context, image []byte) (string, error)
	FactoryReset(ctx context.Context, timeout time.Duration) error
	EnableProxy(ctx context.Context, timeout time.Duration) error
	ConfigureTags(ctx context.Context, cfg mgmt.TagConfig) error
}

// Flasher writes firmware to a controller attached to the bench
type Flasher interface {
	Flash(ctx context.Context, uid string, image string) error
}

// Ledger answers whether a controller passed its own test
type Ledger interface {
	Require(ctx context.Context, uid string) error
}

// Store persists the final report
type Store interface {
	Save(identity string, t time.Time, r *report.Result) (string, error)
}

// TCPDialer dials protocol links over TCP
type TCPDialer struct {
	Timeout time.Duration
	Stats   *tfp.Statistics
	Log     zerolog.Logger
}

func (d TCPDialer) Dial(ctx context.Context, addr string) (Link, error) {
	opts := []tfp.Option{tfp.WithLogger(d.Log)}
	if d.Timeout > 0 {
		opts = append(opts, tfp.WithTimeout(d.Timeout))
	}
	if d.Stats != nil {
		opts = append(opts, tfp.WithStatistics(d.Stats))
	}
	client, err := tfp.Dial(ctx, addr, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// CommandFlasher runs an external flasher as "<command...> <uid> <image>"
type CommandFlasher struct {
	Command []string
	Log     zerolog.Logger
}

func (f CommandFlasher) Flash(ctx context.Context, uid string, image string) error {
	if len(f.Command) == 0 {
		return fmt.Errorf("no flasher command configured")
	}
	args := append(append([]string(nil), f.Command[1:]...), uid, image)
	cmd := exec.CommandContext(ctx, f.Command[0], args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	f.Log.Info().Str("uid", uid).Str("image", image).Msg("flashing controller")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", f.Command[0], err, bytes.TrimSpace(out.Bytes()))
	}
	return nil
}
