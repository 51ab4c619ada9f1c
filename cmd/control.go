// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/evse"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Send commands to a charge controller",
	Long: `Control a charge controller directly, for bench diagnosis and rework.

The controller is found by enumeration unless --uid is given. Every command
reads the state back afterwards so the effect is visible.`,
}

var controlCurrentCmd = &cobra.Command{
	Use:   "current <mA>",
	Short: "Set the configured charging current",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		ma, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid current %q: %w", args[0], err)
		}
		return dev.SetMaxChargingCurrent(ctx, uint16(ma))
	}),
}

var controlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start charging",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		return dev.StartCharging(ctx)
	}),
}

var controlStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop charging",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		return dev.StopCharging(ctx)
	}),
}

var ledDuration time.Duration

var controlLEDCmd = &cobra.Command{
	Use:   "led <indication>",
	Short: "Override the indicator LED (-1 returns control to the controller)",
	Args:  cobra.ExactArgs(1),
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		indication, err := strconv.ParseInt(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid indication %q: %w", args[0], err)
		}
		status, err := dev.SetIndicatorLED(ctx, int16(indication), uint16(ledDuration.Milliseconds()))
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("controller refused indication %d (status %d)", indication, status)
		}
		return nil
	}),
}

var controlResetFaultCmd = &cobra.Command{
	Use:   "reset-dc-fault",
	Short: "Clear a latched DC fault",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		return dev.ResetDCFault(ctx)
	}),
}

var controlResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the controller",
	Args:  cobra.NoArgs,
	RunE: withController(func(ctx context.Context, dev *evse.Device, args []string) error {
		return dev.Reset(ctx)
	}),
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.PersistentFlags().StringVar(&deviceUID, "uid", "", "EVSE Bricklet uid (enumerated if empty)")
	controlLEDCmd.Flags().DurationVar(&ledDuration, "duration", 10*time.Second, "How long the override lasts")

	controlCmd.AddCommand(controlCurrentCmd, controlStartCmd, controlStopCmd,
		controlLEDCmd, controlResetFaultCmd, controlResetCmd)
}

// withController opens the link, runs fn and prints the resulting state
func withController(fn func(ctx context.Context, dev *evse.Device, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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
		logger.Info().Str("connection", connInfo).Str("uid", uid).Str("command", cmd.Name()).Msg("control")

		if err := fn(ctx, dev, args); err != nil {
			return err
		}
		if cmd.Name() == "reset" {
			fmt.Printf("Reset requested\n")
			return nil
		}

		state, err := dev.State(ctx)
		if err != nil {
			return err
		}
		current, err := dev.MaxChargingCurrent(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("IEC 61851 state: %s\n", stateName(iecStateNames, state.IEC61851State))
		fmt.Printf("Error state: %s\n", stateName(errorStateNames, state.ErrorState))
		fmt.Printf("Allowed current: %.1f A (configured %.1f A)\n",
			float64(state.AllowedChargingCurrent)/1000, float64(current.Configured)/1000)
		return nil
	}
}
