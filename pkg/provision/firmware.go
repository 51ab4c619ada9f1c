// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package provision

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

var (
	runningVersionPattern = regexp.MustCompile(`WARP2 (?:CHARGER|Charger) V(\d+).(\d+).(\d+)`)
	imageVersionPattern   = regexp.MustCompile(`warp2_charger_firmware_(\d+)_(\d+)_(\d+).bin`)
)

// ErrNoVersion is returned when no version number can be found
var ErrNoVersion = errors.New("no firmware version found")

// Version is a major.minor.patch firmware version
type Version [3]int

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}

// Compare returns -1, 0 or 1 ordering v against o
func (v Version) Compare(o Version) int {
	for i := range v {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

func versionFrom(m []string) Version {
	var v Version
	for i := range v {
		v[i], _ = strconv.Atoi(m[i+1])
	}
	return v
}

// RunningVersion extracts the firmware version from the event log banner
func RunningVersion(eventLog string) (Version, error) {
	m := runningVersionPattern.FindStringSubmatch(eventLog)
	if m == nil {
		return Version{}, ErrNoVersion
	}
	return versionFrom(m), nil
}

// Firmware is the released controller firmware image
type Firmware struct {
	Path    string
	Name    string
	Version Version
}

// ResolveFirmware follows a "latest" symlink to the image and reads its
// version from the file name.
func ResolveFirmware(path string) (Firmware, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return Firmware{}, fmt.Errorf("resolving firmware image: %w", err)
	}
	name := filepath.Base(resolved)
	m := imageVersionPattern.FindStringSubmatch(name)
	if m == nil {
		return Firmware{}, fmt.Errorf("firmware image %s: %w", name, ErrNoVersion)
	}
	return Firmware{Path: resolved, Name: name, Version: versionFrom(m)}, nil
}
