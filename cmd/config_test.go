// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/provisor/pkg/mgmt"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "station.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadStationConfigOverlay(t *testing.T) {
	path := writeConfig(t, `
[firmware]
image = "fw/latest.bin"
flasher = ["python3", "flash.py"]

[reports]
dir = "/srv/reports"
signing_key = "/etc/provisor/key"

[reference_tag]
id = "04:11:22:33:44:55:66"

[workflow]
required_tags = 2
post_reset_delay = "2s"
call_timeout = "500ms"
`)

	cfg, err := LoadStationConfig(path)
	require.NoError(t, err)

	def := DefaultStationConfig()
	assert.Equal(t, "fw/latest.bin", cfg.FirmwareImage)
	assert.Equal(t, []string{"python3", "flash.py"}, cfg.Flasher)
	assert.Equal(t, "/srv/reports", cfg.ReportDir)
	assert.Equal(t, "/etc/provisor/key", cfg.SigningKey)
	assert.Equal(t, mgmt.TagID{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, cfg.Workflow.ReferenceTagID)
	assert.Equal(t, 2, cfg.Workflow.RequiredTags)
	assert.Equal(t, 2*time.Second, cfg.Workflow.PostResetDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.CallTimeout)

	// Untouched keys keep their defaults
	assert.Equal(t, def.LedgerCSV, cfg.LedgerCSV)
	assert.Equal(t, def.Workflow.ConnectAttempts, cfg.Workflow.ConnectAttempts)
	assert.Equal(t, def.Workflow.ReferenceTagType, cfg.Workflow.ReferenceTagType)
	assert.Equal(t, def.Workflow.BrowserCheck, cfg.Workflow.BrowserCheck)
}

func TestLoadStationConfigExplicitFalse(t *testing.T) {
	cfg, err := LoadStationConfig(writeConfig(t, "[workflow]\nbrowser_check = false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Workflow.BrowserCheck)
}

func TestLoadStationConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad duration", "[workflow]\npoll_interval = \"soon\"\n", "workflow.poll_interval"},
		{"unknown key", "[workflow]\nretries = 3\n", "unknown key"},
		{"bad tag id", "[reference_tag]\nid = \"zz\"\n", "reference_tag.id"},
		{"tag type range", "[reference_tag]\ntype = 300\n", "reference_tag.type"},
		{"no tags", "[workflow]\nrequired_tags = 0\n", "required_tags"},
		{"zero attempts", "[workflow]\nupload_attempts = 0\n", "attempt budgets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadStationConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadStationConfigMissingFile(t *testing.T) {
	_, err := LoadStationConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug", "json")
	assert.NoError(t, err)
	_, err = newLogger("loud", "console")
	assert.Error(t, err)
	_, err = newLogger("info", "xml")
	assert.Error(t, err)
}
