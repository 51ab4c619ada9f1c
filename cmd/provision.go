// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/provisor/pkg/console"
	"github.com/Thermoquad/provisor/pkg/devsim"
	"github.com/Thermoquad/provisor/pkg/ledger"
	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/provision"
	"github.com/Thermoquad/provisor/pkg/report"
	"github.com/Thermoquad/provisor/pkg/rig"
)

var (
	provisionDryRun bool
	provisionLoop   bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run the stage 2 provisioning workflow",
	Long: `Provision one charger: scan its labels, power it on, enroll the test tags,
check the firmware and hardware, configure the credentials, run the
electrical test and store the signed report.

With --dry-run the charger and the bench are simulated in process, so the
workflow can be walked through without hardware. The simulated unit is a Pro
with EVSE uid Xa1; its wallbox code is WIFI:S:warp2-<uid>;...`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().BoolVar(&provisionDryRun, "dry-run", false, "Simulate the charger and the bench")
	provisionCmd.Flags().BoolVar(&provisionLoop, "loop", false, "Start the next unit after each run")
}

// errUnitsFailed ends a --loop session in which at least one unit failed
var errUnitsFailed = errors.New("one or more units failed provisioning")

func runProvision(cmd *cobra.Command, args []string) error {
	return provisionUnits(cmd.Context(), console.Stdio())
}

// provisionUnits builds the workflow on con and runs it once, or until the
// operator stops a --loop session
func provisionUnits(ctx context.Context, con *console.Console) error {
	firmware, err := provision.ResolveFirmware(station.FirmwareImage)
	if err != nil {
		return err
	}
	cfg := station.Workflow
	cfg.Firmware = firmware

	store, err := newReportStore()
	if err != nil {
		return err
	}

	deps := provision.Deps{
		Operator: con,
		Rig:      rig.NewConsoleRig(con, logger.With().Str("component", "rig").Logger()),
		Dialer: provision.TCPDialer{
			Timeout: station.CallTimeout,
			Log:     logger.With().Str("component", "tfp").Logger(),
		},
		Management: func(host string) provision.Management {
			return mgmt.New(host, mgmt.WithLogger(logger.With().Str("component", "mgmt").Logger()))
		},
		Flasher: provision.CommandFlasher{Command: station.Flasher, Log: logger},
		Ledger:  ledger.New(station.LedgerCSV, ledger.GitPull{Dir: station.LedgerRepo}, logger),
		Store:   store,
		Log:     logger.With().Str("component", "provision").Logger(),
	}

	if provisionDryRun {
		stop, err := simulateBench(ctx, &cfg, &deps)
		if err != nil {
			return err
		}
		defer stop()
		con.Infof("Dry run against a simulated charger")
	}

	return runUnits(ctx, con, provision.New(cfg, deps), provisionLoop)
}

// workflow is one provisioning run; *provision.Provisioner implements it
type workflow interface {
	Run(ctx context.Context) (*report.Result, error)
}

// runUnits returns nil only when every unit passed. A cancelled run is an
// error; cancelling at the next-unit prompt ends a clean session.
func runUnits(ctx context.Context, con *console.Console, p workflow, loop bool) error {
	failed := false
	for {
		result, err := p.Run(ctx)
		switch {
		case err == nil:
			con.Success(fmt.Sprintf("Provisioning of %s done", result.String("uid")))
		case provision.KindOf(err) == provision.KindCancelled || errors.Is(err, context.Canceled):
			con.Failure("Provisioning cancelled")
			return err
		default:
			con.Failure(err.Error())
			if !loop {
				return err
			}
			failed = true
		}
		if !loop {
			return nil
		}
		if _, err := con.Prompt(ctx, "Press enter for the next unit", false); err != nil {
			if failed {
				return errUnitsFailed
			}
			return nil
		}
	}
}

func newReportStore() (*report.Store, error) {
	opts := []report.StoreOption{report.WithLogger(logger.With().Str("component", "report").Logger())}
	if station.SigningKey != "" {
		key, err := report.LoadSigningKey(station.SigningKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, report.WithSigningKey(key))
	}
	return report.NewStore(station.ReportDir, opts...), nil
}

// simulateBench replaces the bench, the unit and the ledger with in-process
// simulations
func simulateBench(ctx context.Context, cfg *provision.Config, deps *provision.Deps) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	log := logger.With().Str("component", "devsim").Logger()

	opts := devsim.DefaultOptions()
	opts.ButtonPressAfter = 3
	sim, err := startSimulator(ctx, opts, "127.0.0.1:0", "127.0.0.1:0", log)
	if err != nil {
		cancel()
		return nil, err
	}

	dir, err := os.MkdirTemp("", "provisor-dry-run")
	if err != nil {
		cancel()
		return nil, err
	}
	ledgerPath := filepath.Join(dir, "test_reports.csv")
	if err := os.WriteFile(ledgerPath, []byte(opts.UID+",passed\n"), 0o644); err != nil {
		cancel()
		return nil, err
	}

	tags := make([]rig.Credential, cfg.RequiredTags)
	for i := range tags {
		tags[i] = rig.Credential{TagType: 2, TagID: mgmt.TagID{0x04, 0x10, 0x20, 0x30, 0x40, 0x50, byte(i)}}
	}

	cfg.BenchAddr = sim.ProtocolAddr()
	deps.Rig = rig.NewSimRig(tags, sim.ctrl, log)
	deps.Dialer = redirectDialer{addr: sim.ProtocolAddr(), dialer: deps.Dialer, log: log}
	deps.Management = func(host string) provision.Management {
		log.Debug().Str("host", host).Str("url", sim.HTTPURL()).Msg("management redirected")
		return mgmt.New(sim.HTTPURL(), mgmt.WithLogger(log))
	}
	deps.Ledger = ledger.New(ledgerPath, nil, log)

	return func() {
		cancel()
		if err := sim.Wait(); err != nil {
			log.Warn().Err(err).Msg("simulator stopped")
		}
		os.RemoveAll(dir)
	}, nil
}

// redirectDialer sends every dial to one address
type redirectDialer struct {
	addr   string
	dialer provision.Dialer
	log    zerolog.Logger
}

func (d redirectDialer) Dial(ctx context.Context, addr string) (provision.Link, error) {
	d.log.Debug().Str("requested", addr).Str("addr", d.addr).Msg("dial redirected")
	return d.dialer.Dial(ctx, d.addr)
}
