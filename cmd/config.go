// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Thermoquad/provisor/pkg/provision"
	"github.com/Thermoquad/provisor/pkg/rig"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// StationConfig is everything a provisioning station needs besides the unit
type StationConfig struct {
	Workflow provision.Config

	// Symlink or path to the released charger firmware image
	FirmwareImage string
	// External command flashing controllers on Basic units
	Flasher []string

	LedgerCSV  string
	LedgerRepo string

	ReportDir  string
	SigningKey string

	CallTimeout time.Duration
}

// DefaultStationConfig returns the settings used without a config file
func DefaultStationConfig() StationConfig {
	return StationConfig{
		Workflow:      provision.DefaultConfig(),
		FirmwareImage: "firmwares/warp2_charger_firmware_latest.bin",
		Flasher:       []string{"./flash-evse"},
		LedgerCSV:     "wallbox-test-reports/evse_v2_test_reports.csv",
		LedgerRepo:    "wallbox-test-reports",
		ReportDir:     "reports",
		CallTimeout:   tfp.DefaultTimeout,
	}
}

type fileConfig struct {
	Firmware struct {
		Image     string   `toml:"image"`
		EVSEImage string   `toml:"evse_image"`
		Flasher   []string `toml:"flasher"`
	} `toml:"firmware"`

	Ledger struct {
		CSV  string `toml:"csv"`
		Repo string `toml:"repo"`
	} `toml:"ledger"`

	Reports struct {
		Dir        string `toml:"dir"`
		SigningKey string `toml:"signing_key"`
	} `toml:"reports"`

	Bench struct {
		Addr      string `toml:"addr"`
		ProxyPort int    `toml:"proxy_port"`
	} `toml:"bench"`

	ReferenceTag struct {
		Type   int    `toml:"type"`
		ID     string `toml:"id"`
		MaxAge int64  `toml:"max_age"`
	} `toml:"reference_tag"`

	Workflow struct {
		RequiredTags      int    `toml:"required_tags"`
		ConnectAttempts   int    `toml:"connect_attempts"`
		ReconnectAttempts int    `toml:"reconnect_attempts"`
		PollInterval      string `toml:"poll_interval"`
		PollTimeout       string `toml:"poll_timeout"`
		UploadAttempts    int    `toml:"upload_attempts"`
		UploadBackoff     string `toml:"upload_backoff"`
		PostUploadDelay   string `toml:"post_upload_delay"`
		PostResetDelay    string `toml:"post_reset_delay"`
		CallTimeout       string `toml:"call_timeout"`
		EnumerateWindow   string `toml:"enumerate_window"`
		ButtonTimeout     string `toml:"button_timeout"`
		BrowserCheck      bool   `toml:"browser_check"`
	} `toml:"workflow"`
}

// LoadStationConfig reads a TOML station file over the defaults
func LoadStationConfig(path string) (StationConfig, error) {
	cfg := DefaultStationConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return StationConfig{}, fmt.Errorf("load station config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return StationConfig{}, fmt.Errorf("load station config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("firmware", "image") {
		cfg.FirmwareImage = strings.TrimSpace(raw.Firmware.Image)
	}
	if meta.IsDefined("firmware", "evse_image") {
		cfg.Workflow.EVSEFirmware = strings.TrimSpace(raw.Firmware.EVSEImage)
	}
	if meta.IsDefined("firmware", "flasher") {
		cfg.Flasher = raw.Firmware.Flasher
	}

	if meta.IsDefined("ledger", "csv") {
		cfg.LedgerCSV = strings.TrimSpace(raw.Ledger.CSV)
	}
	if meta.IsDefined("ledger", "repo") {
		cfg.LedgerRepo = strings.TrimSpace(raw.Ledger.Repo)
	}

	if meta.IsDefined("reports", "dir") {
		cfg.ReportDir = strings.TrimSpace(raw.Reports.Dir)
	}
	if meta.IsDefined("reports", "signing_key") {
		cfg.SigningKey = strings.TrimSpace(raw.Reports.SigningKey)
	}

	if meta.IsDefined("bench", "addr") {
		cfg.Workflow.BenchAddr = strings.TrimSpace(raw.Bench.Addr)
	}
	if meta.IsDefined("bench", "proxy_port") {
		cfg.Workflow.ProxyPort = raw.Bench.ProxyPort
	}

	if meta.IsDefined("reference_tag", "type") {
		if raw.ReferenceTag.Type < 0 || raw.ReferenceTag.Type > 255 {
			return StationConfig{}, fmt.Errorf("parse reference_tag.type: %d out of range", raw.ReferenceTag.Type)
		}
		cfg.Workflow.ReferenceTagType = uint8(raw.ReferenceTag.Type)
	}
	if meta.IsDefined("reference_tag", "id") {
		id, err := rig.ParseTagID(raw.ReferenceTag.ID)
		if err != nil {
			return StationConfig{}, fmt.Errorf("parse reference_tag.id: %w", err)
		}
		cfg.Workflow.ReferenceTagID = id
	}
	if meta.IsDefined("reference_tag", "max_age") {
		cfg.Workflow.ReferenceTagMaxAge = raw.ReferenceTag.MaxAge
	}

	w := raw.Workflow
	if meta.IsDefined("workflow", "required_tags") {
		cfg.Workflow.RequiredTags = w.RequiredTags
	}
	if meta.IsDefined("workflow", "connect_attempts") {
		cfg.Workflow.ConnectAttempts = w.ConnectAttempts
	}
	if meta.IsDefined("workflow", "reconnect_attempts") {
		cfg.Workflow.ReconnectAttempts = w.ReconnectAttempts
	}
	if meta.IsDefined("workflow", "upload_attempts") {
		cfg.Workflow.UploadAttempts = w.UploadAttempts
	}
	if meta.IsDefined("workflow", "browser_check") {
		cfg.Workflow.BrowserCheck = w.BrowserCheck
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"poll_interval", w.PollInterval, &cfg.Workflow.PollInterval},
		{"poll_timeout", w.PollTimeout, &cfg.Workflow.PollTimeout},
		{"upload_backoff", w.UploadBackoff, &cfg.Workflow.UploadBackoff},
		{"post_upload_delay", w.PostUploadDelay, &cfg.Workflow.PostUploadDelay},
		{"post_reset_delay", w.PostResetDelay, &cfg.Workflow.PostResetDelay},
		{"call_timeout", w.CallTimeout, &cfg.CallTimeout},
		{"enumerate_window", w.EnumerateWindow, &cfg.Workflow.EnumerateWindow},
		{"button_timeout", w.ButtonTimeout, &cfg.Workflow.ButtonTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined("workflow", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return StationConfig{}, fmt.Errorf("parse workflow.%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if cfg.Workflow.RequiredTags < 1 {
		return StationConfig{}, fmt.Errorf("workflow.required_tags must be at least 1")
	}
	if cfg.Workflow.ConnectAttempts < 1 || cfg.Workflow.ReconnectAttempts < 1 || cfg.Workflow.UploadAttempts < 1 {
		return StationConfig{}, fmt.Errorf("workflow attempt budgets must be at least 1")
	}
	return cfg, nil
}
