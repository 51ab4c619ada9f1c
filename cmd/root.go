// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// TCP connection flag
	hostAddr string

	configPath string
	logLevel   string
	logFormat  string

	logger  zerolog.Logger
	station StationConfig
)

var rootCmd = &cobra.Command{
	Use:   "provisor",
	Short: "Charger factory provisioning and protocol tools",
	Long: `Provisor - stage 2 provisioning for WARP2 chargers and tools for the
charge controller protocol.

Connection modes for the protocol tools:
  TCP:       --host localhost:4223
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the PROVISOR_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Station settings (firmware images, ledger, report directory, reference tag,
retry budgets) are read from the TOML file given with --config.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&hostAddr, "host", "", "TCP address of a protocol proxy or bench (host:port)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Station configuration file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}

	station = DefaultStationConfig()
	if configPath != "" {
		station, err = LoadStationConfig(configPath)
		if err != nil {
			return err
		}
		logger.Debug().Str("path", configPath).Msg("station configuration loaded")
	}
	return nil
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	var l zerolog.Logger
	switch format {
	case "console":
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	case "json":
		l = zerolog.New(os.Stderr)
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid --log-format %q (use console or json)", format)
	}
	return l.Level(lvl).With().Timestamp().Logger(), nil
}

// Execute runs the root command
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
