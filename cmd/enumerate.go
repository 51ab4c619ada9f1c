// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

var (
	enumerateWindow time.Duration
	deviceUID       string
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List the devices reachable on a link",
	Long: `Broadcast an enumerate request and print every device that announces
itself within the collection window.

Examples:
  # Devices behind a charger's protocol proxy
  provisor enumerate --host warp2-YqB:4223

  # Devices on the local bench
  provisor enumerate --host localhost:4223 --window 2s

Exit codes:
  0 - At least one device found
  1 - No devices or connection error`,
	RunE: runEnumerate,
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
	enumerateCmd.Flags().DurationVar(&enumerateWindow, "window", time.Second, "How long to collect announcements")
}

func deviceName(id uint16) string {
	switch id {
	case evse.DeviceIdentifier:
		return "EVSE Bricklet 2.0"
	case evse.MasterDeviceIdentifier:
		return "Master Brick"
	default:
		return fmt.Sprintf("device %d", id)
	}
}

func runEnumerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, connInfo, err := OpenClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Provisor - Device Enumeration\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Window: %s\n\n", enumerateWindow)

	ids, err := client.Enumerate(ctx, enumerateWindow)
	if err != nil {
		return err
	}

	for _, id := range ids {
		fmt.Printf("Device found:\n")
		fmt.Printf("  UID: %s (connected to %s, position %c)\n", id.UID, id.ConnectedUID, id.Position)
		fmt.Printf("  Type: %s\n", deviceName(id.DeviceIdentifier))
		fmt.Printf("  Hardware: %s\n", id.HardwareString())
		fmt.Printf("  Firmware: %s\n", id.FirmwareString())
	}

	fmt.Printf("\n--- Enumeration summary ---\n")
	fmt.Printf("Devices found: %d\n", len(ids))
	if len(ids) == 0 {
		fmt.Printf("No devices discovered. Check connection and device power.\n")
		os.Exit(1)
	}
	return nil
}

// findController resolves the charge controller on the link, either from the
// --uid flag or by enumeration.
func findController(ctx context.Context, client *tfp.Client) (*evse.Device, string, error) {
	if deviceUID != "" {
		uid, err := tfp.ParseUID(deviceUID)
		if err != nil {
			return nil, "", err
		}
		return evse.NewDevice(client, uid), deviceUID, nil
	}

	ids, err := client.Enumerate(ctx, station.Workflow.EnumerateWindow)
	if err != nil {
		return nil, "", err
	}
	for _, id := range ids {
		if id.DeviceIdentifier != evse.DeviceIdentifier {
			continue
		}
		uid, err := tfp.ParseUID(id.UID)
		if err != nil {
			return nil, "", err
		}
		return evse.NewDevice(client, uid), id.UID, nil
	}
	return nil, "", fmt.Errorf("no EVSE Bricklet found on the link")
}
