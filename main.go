// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// ican - ICAN CAN bus node and bus tools
//
// Runs a bus node (identity, firmware update, relays, buttons) on an SLCAN
// adapter and provides commands to log, discover, flash and monitor nodes.

package main

import (
	"os"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/cmd"
)

func main() {
	err := cmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
