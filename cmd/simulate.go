// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/devsim"
)

var (
	simListen          string
	simHTTP            string
	simVariant         string
	simUID             string
	simFirmware        string
	simUpdateFirmware  string
	simLockUpdates     bool
	simButtonPressWait int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated charger for bench dry runs",
	Long: `Serve a simulated charge controller on the protocol port and the charger
management service over HTTP.

Point the protocol tools at --listen and the management client at --http to
exercise the provisioning workflow without hardware.

Examples:
  provisor simulate --variant pro
  provisor simulate --variant basic --listen :4224
  provisor simulate --firmware 2.0.3 --update-firmware 2.0.4`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", ":4223", "Protocol listen address")
	simulateCmd.Flags().StringVar(&simHTTP, "http", ":8080", "Management service listen address")
	simulateCmd.Flags().StringVar(&simVariant, "variant", "pro", "Simulated variant (basic, smart, pro)")
	simulateCmd.Flags().StringVar(&simUID, "uid", "", "EVSE Bricklet uid")
	simulateCmd.Flags().StringVar(&simFirmware, "firmware", "", "Running charger firmware version")
	simulateCmd.Flags().StringVar(&simUpdateFirmware, "update-firmware", "", "Version reported after a firmware upload")
	simulateCmd.Flags().BoolVar(&simLockUpdates, "lock-updates", false, "Refuse firmware uploads with 423 Locked")
	simulateCmd.Flags().IntVar(&simButtonPressWait, "button-after", 3, "Reads before the front button reads as pressed (-1 never)")
}

// simulatorOptions builds the unit description from the simulate flags
func simulatorOptions() (devsim.Options, error) {
	opts := devsim.DefaultOptions()
	switch strings.ToLower(simVariant) {
	case "pro":
	case "smart":
		opts.MeterAvailable = false
	case "basic":
		opts.MeterAvailable = false
		opts.MasterUID = "6Ew"
	default:
		return opts, fmt.Errorf("unknown variant %q (use basic, smart or pro)", simVariant)
	}
	if simUID != "" {
		opts.UID = simUID
	}
	if simFirmware != "" {
		opts.FirmwareVersion = simFirmware
	}
	opts.UpdateVersion = simUpdateFirmware
	opts.LockUpdates = simLockUpdates
	opts.ButtonPressAfter = simButtonPressWait
	return opts, nil
}

// simulator is a running simulated charger
type simulator struct {
	ctrl     *devsim.Controller
	protocol net.Listener
	http     net.Listener
	done     chan error
}

func startSimulator(ctx context.Context, opts devsim.Options, protocolAddr, httpAddr string, log zerolog.Logger) (*simulator, error) {
	ctrl, err := devsim.NewController(opts, log)
	if err != nil {
		return nil, err
	}

	pl, err := net.Listen("tcp", protocolAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", protocolAddr, err)
	}
	hl, err := net.Listen("tcp", httpAddr)
	if err != nil {
		pl.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	srv := &http.Server{
		Handler:           ctrl.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s := &simulator{ctrl: ctrl, protocol: pl, http: hl, done: make(chan error, 2)}

	go func() {
		err := ctrl.Serve(ctx, pl)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.done <- err
	}()
	go func() {
		err := srv.Serve(hl)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("management service shutdown")
		}
	})
	return s, nil
}

// HTTPURL is the base URL of the management service
func (s *simulator) HTTPURL() string {
	return "http://" + s.http.Addr().String()
}

// ProtocolAddr is the address of the protocol listener
func (s *simulator) ProtocolAddr() string {
	return s.protocol.Addr().String()
}

// Wait blocks until both servers stopped
func (s *simulator) Wait() error {
	return errors.Join(<-s.done, <-s.done)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	opts, err := simulatorOptions()
	if err != nil {
		return err
	}

	log := logger.With().Str("component", "devsim").Logger()
	sim, err := startSimulator(cmd.Context(), opts, simListen, simHTTP, log)
	if err != nil {
		return err
	}

	fmt.Printf("Provisor - Simulated Charger\n")
	fmt.Printf("Variant: %s, EVSE %s, firmware %s\n", simVariant, opts.UID, opts.FirmwareVersion)
	fmt.Printf("Protocol: %s\n", sim.ProtocolAddr())
	fmt.Printf("Management: %s\n", sim.HTTPURL())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	err = sim.Wait()
	logger.Info().Int("flashes", sim.ctrl.Flashes()).Int("factory_resets", sim.ctrl.FactoryResets()).Msg("simulator stopped")
	return err
}
