// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scancode parses the QR codes printed on the docket, the wallbox
// label and the ESP brick.
package scancode

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Thermoquad/provisor/pkg/tfp"
)

// ErrNoMatch is returned when a code does not follow its grammar
var ErrNoMatch = errors.New("scan code does not match expected format")

// Variant is the product line letter
type Variant string

const (
	Basic Variant = "B"
	Smart Variant = "S"
	Pro   Variant = "P"
)

func (v Variant) String() string {
	switch v {
	case Basic:
		return "Basic"
	case Smart:
		return "Smart"
	case Pro:
		return "Pro"
	default:
		return string(v)
	}
}

// HasNetwork reports whether the variant carries an ESP brick
func (v Variant) HasNetwork() bool {
	return v != Basic
}

var (
	docketPattern  = regexp.MustCompile(`^T:WARP2-C(B|S|P)-(11|22)KW-(50|75);V:(\d+\.\d+);S:(5\d{9});B:(\d{4}-\d{2});O:(SO/B?[0-9]+);I:(\d+/\d+);E:(\d+);C:([01]);;;*$`)
	wallboxPattern = regexp.MustCompile(`^T:WARP2-C(B|S|P)-(11|22)KW-(50|75);V:(\d+\.\d+);S:(5\d{9});B:(\d{4}-\d{2});;;*$`)
	networkPattern = regexp.MustCompile(fmt.Sprintf(
		`^WIFI:S:(esp32|warp|warp2)-([%[1]s]{3,6});T:WPA;P:([%[1]s]{4}-[%[1]s]{4}-[%[1]s]{4}-[%[1]s]{4});;$`,
		tfp.Base58Alphabet))
)

// Wallbox holds the fields printed on the wallbox label
type Wallbox struct {
	Variant     Variant
	Power       string // kW, "11" or "22"
	CableLength string // decimetres, "50" or "75"
	HWVersion   string
	Serial      string
	Built       string // YYYY-MM
	Raw         string
}

// CableMetres returns the cable length in metres
func (w Wallbox) CableMetres() float64 {
	n, _ := strconv.Atoi(w.CableLength)
	return float64(n) / 10
}

// Docket holds the wallbox fields plus the order data from the docket
type Docket struct {
	Wallbox
	Order                string
	Item                 string
	SupplyCableExtension int
	HasCEE               bool
}

// NeedsCEEProfile reports whether the unit must be powered from the CEE supply
func (d Docket) NeedsCEEProfile() bool {
	return d.SupplyCableExtension != 0 || d.HasCEE
}

// Network holds the WiFi credentials from the ESP brick label
type Network struct {
	HardwareType string
	UID          string
	Passphrase   string
	Raw          string
}

// SSID is the host name the charger announces
func (n Network) SSID() string {
	return "warp2-" + n.UID
}

func normalize(code string) string {
	return strings.TrimRight(code, "\r\n")
}

func ParseDocket(code string) (Docket, error) {
	code = normalize(code)
	m := docketPattern.FindStringSubmatch(code)
	if m == nil {
		return Docket{}, fmt.Errorf("docket: %w", ErrNoMatch)
	}
	extension, err := strconv.Atoi(m[9])
	if err != nil {
		return Docket{}, fmt.Errorf("docket: supply cable extension %q: %w", m[9], err)
	}
	return Docket{
		Wallbox: Wallbox{
			Variant:     Variant(m[1]),
			Power:       m[2],
			CableLength: m[3],
			HWVersion:   m[4],
			Serial:      m[5],
			Built:       m[6],
			Raw:         m[0],
		},
		Order:                m[7],
		Item:                 m[8],
		SupplyCableExtension: extension,
		HasCEE:               m[10] == "1",
	}, nil
}

func ParseWallbox(code string) (Wallbox, error) {
	code = normalize(code)
	m := wallboxPattern.FindStringSubmatch(code)
	if m == nil {
		return Wallbox{}, fmt.Errorf("wallbox: %w", ErrNoMatch)
	}
	return Wallbox{
		Variant:     Variant(m[1]),
		Power:       m[2],
		CableLength: m[3],
		HWVersion:   m[4],
		Serial:      m[5],
		Built:       m[6],
		Raw:         m[0],
	}, nil
}

func ParseNetwork(code string) (Network, error) {
	code = normalize(code)
	m := networkPattern.FindStringSubmatch(code)
	if m == nil {
		return Network{}, fmt.Errorf("network: %w", ErrNoMatch)
	}
	return Network{
		HardwareType: m[1],
		UID:          m[2],
		Passphrase:   m[3],
		Raw:          m[0],
	}, nil
}

// Mismatches lists the shared fields on which docket and wallbox disagree
func Mismatches(d Docket, w Wallbox) []string {
	var fields []string
	check := func(name, a, b string) {
		if a != b {
			fields = append(fields, fmt.Sprintf("%s (docket %q, wallbox %q)", name, a, b))
		}
	}
	check("variant", string(d.Variant), string(w.Variant))
	check("power", d.Power, w.Power)
	check("cable length", d.CableLength, w.CableLength)
	check("hardware version", d.HWVersion, w.HWVersion)
	check("serial", d.Serial, w.Serial)
	check("build month", d.Built, w.Built)
	return fields
}
