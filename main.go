// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Provisor - WARP2 charger stage 2 provisioning
//
// A CLI tool for provisioning chargers at the end of the production line and
// for inspecting the charge controller protocol.

package main

import (
	"os"

	"github.com/Thermoquad/provisor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
