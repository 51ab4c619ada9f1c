// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package provision runs the stage 2 provisioning of a charger: identity
// capture, firmware reconciliation, credential enrollment and the acceptance
// tests, ending in a persisted report.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/provisor/pkg/ledger"
	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/report"
	"github.com/Thermoquad/provisor/pkg/rig"
	"github.com/Thermoquad/provisor/pkg/scancode"
)

// Provisioner runs provisioning workflows
type Provisioner struct {
	cfg     Config
	op      Operator
	rig     rig.Rig
	dialer  Dialer
	mgmt    func(host string) Management
	flasher Flasher
	ledger  Ledger
	store   Store
	log     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps are the collaborators of a Provisioner
type Deps struct {
	Operator   Operator
	Rig        rig.Rig
	Dialer     Dialer
	Management func(host string) Management
	Flasher    Flasher
	Ledger     Ledger
	Store      Store
	Log        zerolog.Logger
}

// Option configures a Provisioner
type Option func(*Provisioner)

// WithClock replaces the time source and the sleep function
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Provisioner) {
		p.now = now
		p.sleep = sleep
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Provisioner {
	p := &Provisioner{
		cfg:     cfg,
		op:      deps.Operator,
		rig:     deps.Rig,
		dialer:  deps.Dialer,
		mgmt:    deps.Management,
		flasher: deps.Flasher,
		ledger:  deps.Ledger,
		store:   deps.Store,
		log:     deps.Log,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run is the state of one workflow execution
type run struct {
	result  *report.Result
	docket  scancode.Docket
	wallbox scancode.Wallbox
	network scancode.Network
	tags    []rig.Credential
	ssid    string
	mgmt    Management
	link    Link
	unit    *unit
}

// Run executes the workflow once. The unit is powered off on every path and
// the bench signals success or failure.
func (p *Provisioner) Run(ctx context.Context) (result *report.Result, err error) {
	p.rig.SetLEDs(rig.Blue)

	r := &run{result: report.NewResult()}
	defer func() {
		if r.link != nil {
			r.link.Close()
		}
		offErr := p.rig.PowerOff(context.WithoutCancel(ctx))
		if offErr != nil {
			p.log.Error().Err(offErr).Msg("power off failed")
			if err == nil {
				err = wrap(StagePowerOff, offErr, "Failed to power off the unit")
			}
		}
		if err != nil {
			p.rig.SetLEDs(rig.Red)
			p.rig.Beep(false)
			result = nil
			return
		}
		p.rig.SetLEDs(rig.Green)
		p.rig.Beep(true)
	}()

	start := p.now()
	r.result.Set("start", report.Timestamp(start))
	r.result.Set("run_id", report.NewRunID())
	p.log.Info().Str("run_id", r.result.String("run_id")).Msg("provisioning started")

	stages := []func(context.Context, *run) error{
		p.captureIdentity,
		p.captureNetwork,
		p.powerOn,
		p.enrollCredentials,
		p.connect,
		p.acceptanceTests,
		p.configureCredentials,
		p.lookupTestRecord,
		p.electricalTests,
		p.finalize,
	}
	for _, stage := range stages {
		if err := stage(ctx, r); err != nil {
			return nil, err
		}
	}
	return r.result, nil
}

// Stage 1

func (p *Provisioner) scan(ctx context.Context, stage Stage, label string, secret bool, parse func(string) error) error {
	retry := false
	for {
		var code string
		var err error
		if secret {
			code, err = p.op.PromptSecret(ctx, label, retry)
		} else {
			code, err = p.op.Prompt(ctx, label, retry)
		}
		if err != nil {
			return wrap(stage, err, "reading scan code")
		}
		if err := parse(code); err == nil {
			return nil
		}
		retry = true
	}
}

func (p *Provisioner) captureIdentity(ctx context.Context, r *run) error {
	err := p.scan(ctx, StageIdentity, "Scan the docket QR code", false, func(code string) (err error) {
		r.docket, err = scancode.ParseDocket(code)
		return err
	})
	if err != nil {
		return err
	}

	d := r.docket
	p.op.Printf("Docket QR code data:\n")
	p.op.Printf("    WARP Charger %s\n", d.Variant)
	p.op.Printf("    %s kW\n", d.Power)
	p.op.Printf("    %1.1f m\n", d.CableMetres())
	p.op.Printf("    CEE: %s\n", yesNo(d.HasCEE))
	p.op.Printf("    HW Version: %s\n", d.HWVersion)
	p.op.Printf("    Serial: %s\n", d.Serial)
	p.op.Printf("    Build month: %s\n", d.Built)
	p.op.Printf("    Order: %s\n", d.Order)
	p.op.Printf("    Item: %s\n", d.Item)
	p.op.Printf("    Supply Cable Extension: %d\n", d.SupplyCableExtension)

	r.result.Set("order", d.Order)
	r.result.Set("order_item", d.Item)
	r.result.Set("supply_cable_extension", d.SupplyCableExtension)
	r.result.Set("docket_qr_code", d.Raw)

	err = p.scan(ctx, StageIdentity, "Scan the wallbox QR code", false, func(code string) (err error) {
		r.wallbox, err = scancode.ParseWallbox(code)
		return err
	})
	if err != nil {
		return err
	}

	if fields := scancode.Mismatches(r.docket, r.wallbox); len(fields) > 0 {
		return fatalf(StageIdentity, KindValidationMismatch, "Docket and wallbox QR code do not match: %v", fields)
	}

	w := r.wallbox
	p.op.Printf("Wallbox QR code data:\n")
	p.op.Printf("    WARP Charger %s\n", w.Variant)
	p.op.Printf("    %s kW\n", w.Power)
	p.op.Printf("    %1.1f m\n", w.CableMetres())
	p.op.Printf("    HW Version: %s\n", w.HWVersion)
	p.op.Printf("    Serial: %s\n", w.Serial)
	p.op.Printf("    Build month: %s\n", w.Built)

	r.result.Set("serial", w.Serial)
	r.result.Set("qr_code", w.Raw)
	return nil
}

// Stage 2

func (p *Provisioner) captureNetwork(ctx context.Context, r *run) error {
	if !r.wallbox.Variant.HasNetwork() {
		return nil
	}
	return p.scan(ctx, StageNetworkIdentity, "Scan the ESP Brick QR code", true, func(code string) (err error) {
		r.network, err = scancode.ParseNetwork(code)
		return err
	})
}

// Stage 3

func (p *Provisioner) powerOn(ctx context.Context, r *run) error {
	profile := rig.Profile(r.wallbox.Variant.String())
	if r.docket.NeedsCEEProfile() {
		profile = rig.ProfileCEE
	}
	if err := p.rig.PowerOn(ctx, profile); err != nil {
		return wrap(StagePowerOn, err, "Failed to power on with profile %s", profile)
	}

	if r.wallbox.Variant.HasNetwork() {
		p.op.Printf("ESP Brick QR code data:\n")
		p.op.Printf("    Hardware type: %s\n", r.network.HardwareType)
		p.op.Printf("    UID: %s\n", r.network.UID)
	}
	return nil
}

// Stage 5

// poll calls fn up to attempts times, starting an attempt at most once per
// interval. It reports whether an attempt succeeded.
func (p *Provisioner) poll(ctx context.Context, label string, attempts int, fn func(ctx context.Context) error) (bool, error) {
	p.op.Progress("%s", label)
	dots := ""
	for i := 0; i < attempts; i++ {
		start := p.now()
		err := fn(ctx)
		if err == nil {
			p.op.EndProgress(label + dots + " Connected.")
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		p.log.Debug().Err(err).Int("attempt", i+1).Msg(label)

		if wait := p.cfg.PollInterval - p.now().Sub(start); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return false, err
			}
		}
		dots += "."
		p.op.Progress("%s%s", label, dots)
	}
	p.op.EndProgress(label + dots)
	return false, nil
}

func (p *Provisioner) connect(ctx context.Context, r *run) error {
	if !r.wallbox.Variant.HasNetwork() {
		return nil
	}
	r.ssid = r.network.SSID()
	r.result.Set("uid", r.network.UID)
	r.mgmt = p.mgmt(r.ssid)

	var eventLog string
	ok, err := p.poll(ctx, "Connecting via ethernet to "+r.ssid, p.cfg.ConnectAttempts, func(ctx context.Context) (err error) {
		eventLog, err = r.mgmt.EventLog(ctx, p.cfg.PollTimeout)
		return err
	})
	if err != nil {
		return wrap(StageConnectivity, err, "Connecting to %s", r.ssid)
	}
	if !ok {
		return fatalf(StageConnectivity, KindTransientNetwork, "Failed to connect via ethernet! Is the router's DHCP cache full?")
	}

	return p.checkVersion(ctx, r, eventLog)
}

// Stage 6

func (p *Provisioner) checkVersion(ctx context.Context, r *run, eventLog string) error {
	running, err := RunningVersion(eventLog)
	if err != nil {
		return fatalf(StageFirmware, KindValidationMismatch, "Failed to find version number in event log! %s", eventLog)
	}
	latest := p.cfg.Firmware.Version

	switch running.Compare(latest) {
	case 1:
		return fatalf(StageFirmware, KindValidationMismatch,
			"Flashed firmware %s is not released yet! Latest released is %s", running, latest)
	case -1:
		p.op.Infof("Flashed firmware %s is outdated! Flashing %s...", running, latest)
		return p.updateFirmware(ctx, r)
	default:
		p.op.Infof("Flashed firmware is up-to-date.")
		return nil
	}
}

func (p *Provisioner) updateFirmware(ctx context.Context, r *run) error {
	image, err := os.ReadFile(p.cfg.Firmware.Path)
	if err != nil {
		return wrap(StageFirmware, err, "Failed to read firmware image")
	}

	locked := fatalf(StageFirmware, KindHardwareLocked, "Wallbox blocked firmware update. Is the EVSE working correctly?")
	for i := 0; i < p.cfg.UploadAttempts; i++ {
		reply, err := r.mgmt.FlashFirmware(ctx, image)
		if err == nil {
			p.op.Infof("%s", reply)
			break
		}

		var statusErr *mgmt.StatusError
		if errors.As(err, &statusErr) {
			if errors.Is(err, mgmt.ErrLocked) {
				locked.Err = err
				return locked
			}
			return &FatalError{Stage: StageFirmware, Kind: KindInternal, Message: statusErr.Body, Err: err}
		}
		if ctx.Err() != nil {
			return wrap(StageFirmware, ctx.Err(), "Firmware upload cancelled")
		}

		p.log.Warn().Err(err).Int("attempt", i+1).Msg("firmware upload failed")
		if i == p.cfg.UploadAttempts-1 {
			if mgmt.IsConnectionReset(err) {
				locked.Err = err
				return locked
			}
			return &FatalError{Stage: StageFirmware, Kind: KindTransientNetwork, Message: "Can't flash firmware!", Err: err}
		}
		p.op.Warnf("Failed to flash firmware. Retrying...")
		if err := p.sleep(ctx, p.cfg.UploadBackoff); err != nil {
			return wrap(StageFirmware, err, "Firmware upload cancelled")
		}
	}

	if err := p.sleep(ctx, p.cfg.PostUploadDelay); err != nil {
		return wrap(StageFirmware, err, "Firmware update cancelled")
	}

	p.op.Infof("Triggering factory reset")
	ok, err := p.poll(ctx, "Connecting via ethernet to "+r.ssid, p.cfg.ReconnectAttempts, func(ctx context.Context) error {
		return r.mgmt.FactoryReset(ctx, p.cfg.PollTimeout)
	})
	if err != nil {
		return wrap(StageFirmware, err, "Factory reset cancelled")
	}
	if !ok {
		return fatalf(StageFirmware, KindTransientNetwork, "Failed to connect via ethernet!")
	}

	p.op.Infof("Factory reset triggered.. Waiting %s", p.cfg.PostResetDelay)
	if err := p.sleep(ctx, p.cfg.PostResetDelay); err != nil {
		return wrap(StageFirmware, err, "Factory reset cancelled")
	}
	return nil
}

// Stage 7

func (p *Provisioner) acceptanceTests(ctx context.Context, r *run) error {
	addr := p.cfg.BenchAddr
	if r.wallbox.Variant.HasNetwork() {
		r.result.Set("firmware", p.cfg.Firmware.Name)

		ok, err := p.poll(ctx, "Connecting via ethernet to "+r.ssid, p.cfg.ReconnectAttempts, func(ctx context.Context) error {
			return r.mgmt.EnableProxy(ctx, p.cfg.PollTimeout)
		})
		if err != nil {
			return wrap(StageAcceptance, err, "Enabling protocol proxy")
		}
		if !ok {
			return fatalf(StageAcceptance, KindTransientNetwork, "Failed to connect via ethernet!")
		}
		addr = net.JoinHostPort(r.ssid, strconv.Itoa(p.cfg.ProxyPort))
	} else {
		r.result.Set("uid", nil)
	}

	link, err := p.dialer.Dial(ctx, addr)
	if err != nil {
		if r.wallbox.Variant.HasNetwork() {
			return &FatalError{Stage: StageAcceptance, Kind: KindDisconnected,
				Message: "Failed to connect to ESP proxy. Is the router's DHCP cache full?", Err: err}
		}
		return &FatalError{Stage: StageAcceptance, Kind: KindDisconnected, Message: "Failed to connect to " + addr, Err: err}
	}
	r.link = link

	return p.runDeviceTests(ctx, r)
}

// Stage 8

func (p *Provisioner) configureCredentials(ctx context.Context, r *run) error {
	if !r.wallbox.Variant.HasNetwork() {
		return p.flashController(ctx, r)
	}

	p.op.Infof("Configuring tags")
	cfg := mgmt.TagConfig{AuthorizedTags: make([]mgmt.AuthorizedTag, 0, len(r.tags))}
	for i, tag := range r.tags {
		cfg.AuthorizedTags = append(cfg.AuthorizedTags, mgmt.AuthorizedTag{
			TagName: fmt.Sprintf("Tag %d", i+1),
			TagType: tag.TagType,
			TagID:   tag.TagID,
		})
	}
	if err := r.mgmt.ConfigureTags(ctx, cfg); err != nil {
		return wrap(StageCredentials, err, "Failed to configure NFC tags!")
	}
	r.result.Set("nfc_tags_configured", true)
	return nil
}

func (p *Provisioner) flashController(ctx context.Context, r *run) error {
	image, err := filepath.EvalSymlinks(p.cfg.EVSEFirmware)
	if err != nil {
		return wrap(StageCredentials, err, "Failed to resolve EVSE firmware image")
	}
	p.op.Infof("Flashing EVSE")
	if err := p.flasher.Flash(ctx, r.unit.evseUID, image); err != nil {
		return wrap(StageCredentials, err, "Failed to flash EVSE firmware")
	}
	r.result.Set("evse_firmware", filepath.Base(image))
	return nil
}

// Stage 9

func (p *Provisioner) lookupTestRecord(ctx context.Context, r *run) error {
	p.op.Infof("Checking if EVSE was tested...")
	err := p.ledger.Require(ctx, r.unit.evseUID)
	if errors.Is(err, ledger.ErrNotFound) {
		return &FatalError{Stage: StageLedger, Kind: KindValidationMismatch,
			Message: fmt.Sprintf("Still no test report found for EVSE %s.", r.unit.evseUID), Err: err}
	}
	if err != nil {
		return wrap(StageLedger, err, "Failed to check test reports")
	}
	p.op.Infof("EVSE test report found")
	r.result.Set("evse_test_report_found", true)
	return nil
}

// Stage 10

func (p *Provisioner) electricalTests(ctx context.Context, r *run) error {
	if !r.wallbox.Variant.HasNetwork() {
		r.ssid = "warp2-" + r.unit.evseUID
	}

	if r.wallbox.Variant.HasNetwork() && p.cfg.BrowserCheck {
		page, err := r.mgmt.IndexPage(ctx)
		if err != nil {
			return wrap(StageElectrical, err, "Failed to open the web interface")
		}
		if !containsFold(page, "Ladecontroller") {
			return fatalf(StageElectrical, KindValidationMismatch, "Web interface does not offer the Ladecontroller view")
		}
	}

	p.op.Infof("Performing the electrical tests")
	if err := p.rig.ElectricalTest(ctx, r.unit.device); err != nil {
		kind := classify(err)
		if kind == KindInternal {
			kind = KindValidationMismatch
		}
		return &FatalError{Stage: StageElectrical, Kind: kind, Message: "Electrical tests failed", Err: err}
	}
	p.op.Infof("Electrical tests passed")
	r.result.Set("electrical_tests_passed", true)
	return nil
}

// Stage 11

func (p *Provisioner) finalize(ctx context.Context, r *run) error {
	end := p.now()
	r.result.Set("end", report.Timestamp(end))
	path, err := p.store.Save(r.ssid, end, r.result)
	if err != nil {
		return wrap(StageFinalize, err, "Failed to write report")
	}
	p.log.Info().Str("path", path).Msg("provisioning finished")
	p.op.Infof("Done!")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
