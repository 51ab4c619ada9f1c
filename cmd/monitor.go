// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal view of a charge controller",
	Long: `Poll the charge controller state, low-level state and energy meter and
show them in a terminal UI together with link statistics and an event log of
state transitions.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&deviceUID, "uid", "", "EVSE Bricklet uid (enumerated if empty)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Polling interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	client, connInfo, err := OpenClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	dev, uid, err := findController(ctx, client)
	if err != nil {
		return err
	}

	p := tea.NewProgram(initialModel(connInfo, uid, monitorInterval), tea.WithAltScreen())
	go pollController(ctx, p, client, dev, monitorInterval)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// pollController feeds samples to the TUI until ctx ends or the link drops
func pollController(ctx context.Context, p *tea.Program, client *tfp.Client, dev *evse.Device, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	meterAvailable := true
	for {
		sample, err := readSample(ctx, dev, meterAvailable)
		if sample != nil {
			sample.stats = client.Statistics().Snapshot()
			meterAvailable = sample.meter != nil
		}
		p.Send(sampleMsg{sample: sample, err: err})

		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			p.Send(connectionLostMsg{err: client.Err()})
			return
		case <-ticker.C:
		}
	}
}

func readSample(ctx context.Context, dev *evse.Device, withMeter bool) (*controllerSample, error) {
	state, err := dev.State(ctx)
	if err != nil {
		return nil, err
	}
	low, err := dev.LowLevelState(ctx)
	if err != nil {
		return nil, err
	}
	sample := &controllerSample{timestamp: time.Now(), state: state, lowLevel: low}

	if withMeter {
		ms, err := dev.EnergyMeterState(ctx)
		if err != nil {
			return nil, err
		}
		if ms.Available {
			values, err := dev.EnergyMeterValues(ctx)
			if err != nil {
				return nil, err
			}
			sample.meter = &values
		}
	}
	return sample, nil
}
