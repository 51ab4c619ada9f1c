// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"time"

	"github.com/Thermoquad/provisor/pkg/mgmt"
	"github.com/Thermoquad/provisor/pkg/tfp"
)

// Config holds the station settings of a run
type Config struct {
	// Released charger firmware
	Firmware Firmware
	// Controller image flashed on Basic units
	EVSEFirmware string

	BenchAddr string
	ProxyPort int

	ReferenceTagType   uint8
	ReferenceTagID     mgmt.TagID
	ReferenceTagMaxAge int64
	RequiredTags       int

	ConnectAttempts   int
	ReconnectAttempts int
	PollInterval      time.Duration
	PollTimeout       time.Duration

	UploadAttempts  int
	UploadBackoff   time.Duration
	PostUploadDelay time.Duration
	PostResetDelay  time.Duration

	EnrollmentInterval time.Duration
	ButtonInterval     time.Duration
	ButtonTimeout      time.Duration
	EnumerateWindow    time.Duration

	// Fetch the web interface before the electrical test
	BrowserCheck bool
}

// DefaultConfig returns the production station settings
func DefaultConfig() Config {
	return Config{
		BenchAddr:          "localhost:4223",
		ProxyPort:          tfp.DefaultPort,
		ReferenceTagType:   2,
		ReferenceTagID:     mgmt.TagID{0x04, 0xBA, 0x38, 0x42, 0xEF, 0x6C, 0x80},
		ReferenceTagMaxAge: 100,
		RequiredTags:       3,
		ConnectAttempts:    30,
		ReconnectAttempts:  45,
		PollInterval:       time.Second,
		PollTimeout:        time.Second,
		UploadAttempts:     5,
		UploadBackoff:      3 * time.Second,
		PostUploadDelay:    3 * time.Second,
		PostResetDelay:     10 * time.Second,
		EnrollmentInterval: 100 * time.Millisecond,
		ButtonInterval:     100 * time.Millisecond,
		ButtonTimeout:      60 * time.Second,
		EnumerateWindow:    time.Second,
		BrowserCheck:       true,
	}
}
