// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"

	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bus flags
	busBitrate string
	skipSetup  bool

	// Node configuration
	storePath string
)

// Version is the application version reported on the bus
var Version = "release/2.1.0"

var rootCmd = &cobra.Command{
	Use:   "ican",
	Short: "ICAN bus node and tools",
	Long: `ican - An ICAN CAN bus node and a set of bus tools.

The run command operates a node (device identity, firmware update, relays and
buttons). The other commands inspect and drive the bus through an SLCAN
adapter: frame logging, discovery, flashing and monitoring.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the ICAN_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// glog reads its flags from the standard flag set
		_ = flag.CommandLine.Parse(nil)
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Bus flags
	rootCmd.PersistentFlags().StringVar(&busBitrate, "bitrate", "", "CAN bitrate override (b22_222, b25, b50, b100 or bit/s)")
	rootCmd.PersistentFlags().BoolVar(&skipSetup, "skip-setup", false, "Leave the adapter channel configuration untouched")

	rootCmd.PersistentFlags().StringVar(&storePath, "store", "ican.cbor", "Node configuration file")

	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
