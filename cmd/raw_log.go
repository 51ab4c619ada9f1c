// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/evse"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

var (
	capturePath   string
	replayPath    string
	rawEnumerate  bool
	rawShowErrors bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display protocol packets as they arrive.

Each packet is shown with timestamp, direction, function and decoded payload
for the known charge controller functions.

With --capture the traffic is also written to a CBOR capture file, which
--replay prints again later without a link.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&capturePath, "capture", "", "Write received packets to a CBOR capture file")
	rawLogCmd.Flags().StringVar(&replayPath, "replay", "", "Print a capture file instead of opening a link")
	rawLogCmd.Flags().BoolVar(&rawEnumerate, "enumerate", false, "Send an enumerate request after connecting")
	rawLogCmd.Flags().BoolVar(&rawShowErrors, "show-frame-errors", false, "Print dropped frames")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if replayPath != "" {
		return replayCapture(replayPath)
	}

	stats := tfp.NewStatistics()
	conn, connInfo, err := OpenLink(cmd.Context(), stats, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if capturePath != "" {
		f, err := os.Create(capturePath)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		w, err := tfp.NewCaptureWriter(f)
		if err != nil {
			return err
		}
		conn = tfp.NewCapturingConn(conn, w)
	}

	fmt.Printf("Provisor - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if capturePath != "" {
		fmt.Printf("Capture: %s\n", capturePath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawEnumerate {
		req := &tfp.Packet{UID: tfp.BroadcastUID, FunctionID: tfp.FunctionEnumerate, Sequence: tfp.MinSequence, Timestamp: time.Now()}
		if err := conn.WritePacket(req); err != nil {
			return err
		}
		fmt.Print(tfp.FormatPacket(req, tfp.Sent, evse.Lookup))
	}

	frameErrors := stats.FrameErrors.Load()
	for {
		packet, err := conn.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				logger.Info().Msg("connection closed")
				return nil
			}
			return err
		}
		if n := stats.FrameErrors.Load(); rawShowErrors && n != frameErrors {
			fmt.Printf("[ERROR] %d corrupt frame(s) dropped\n", n-frameErrors)
			frameErrors = n
		}
		fmt.Print(tfp.FormatPacket(packet, tfp.Received, evse.Lookup))
	}
}

func replayCapture(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := tfp.NewCaptureReader(f)
	for {
		rec, packet, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Print(tfp.FormatPacket(packet, rec.Direction, evse.Lookup))
	}
}
