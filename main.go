// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// bmslink - VCU/BMS CAN link controller
//
// Drives the VCU side of the VCU/BMS CAN link: periodic heartbeats,
// discharge requests, decoding of BMS traffic and CAN fault recovery.

package main

import (
	"os"

	"github.com/Thermoquad/bmslink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
