// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var meterCmd = &cobra.Command{
	Use:   "meter",
	Short: "Read the detailed energy meter values once",
	Long: `Read the energy meter state, the summary values and the full detailed
value stream of the charge controller and print them.

The detailed values arrive in chunks; an out-of-sync stream is reported as an
error and can simply be read again.`,
	RunE: runMeter,
}

func init() {
	rootCmd.AddCommand(meterCmd)
	meterCmd.Flags().StringVar(&deviceUID, "uid", "", "EVSE Bricklet uid (enumerated if empty)")
}

func runMeter(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, connInfo, err := OpenClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	dev, uid, err := findController(ctx, client)
	if err != nil {
		return err
	}

	fmt.Printf("Provisor - Energy Meter\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("EVSE: %s\n\n", uid)

	state, err := dev.EnergyMeterState(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Available: %v\n", state.Available)
	fmt.Printf("Error counts: %v\n", state.ErrorCount)
	if !state.Available {
		return nil
	}

	values, err := dev.EnergyMeterValues(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Power: %.1f W\n", values.Power)
	fmt.Printf("Energy: %.3f kWh (absolute %.3f kWh)\n", values.EnergyRelative, values.EnergyAbsolute)
	fmt.Printf("Phases active: %v connected: %v\n\n", values.PhasesActive, values.PhasesConnected)

	detailed, err := dev.EnergyMeterDetailedValues(ctx)
	if err != nil {
		return err
	}
	if len(detailed) == 0 {
		fmt.Printf("Detailed values not available yet\n")
		return nil
	}
	for i, v := range detailed {
		fmt.Printf("%3d: %12.3f\n", i, v)
	}
	return nil
}
