// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
)

var (
	frameTestTimeout int
	frameTestNG      bool
)

var frameTestCmd = &cobra.Command{
	Use:     "frame_test",
	Aliases: []string{"packet_test"},
	Short:   "Test connection by waiting for a valid CAN frame",
	Long: `Wait for a valid CAN frame on the bus until timeout.

This command brings up the SLCAN channel on a serial port or WebSocket and
waits for any complete frame. Malformed adapter output is ignored. With --ng
only frames carrying the ICAN NG bit count.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking adapter wiring, bitrate and bus termination.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	frameTestCmd.Flags().BoolVar(&frameTestNG, "ng", false, "Only accept ICAN NG frames")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	var invalid atomic.Int32
	bus, connInfo, err := openToolBus(func(error) { invalid.Add(1) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("ican - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(frameTestTimeout)*time.Second)
	defer cancel()

	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
				bus.Close()
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			bus.Close()
			os.Exit(2)
		}

		a := f.Address()
		if frameTestNG && !a.NG {
			continue
		}

		if n := invalid.Load(); n > 0 {
			fmt.Printf("(skipped %d malformed adapter lines)\n", n)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  ID: 0x%08X\n", f.ID)
		if a.NG {
			fmt.Printf("  Message: %s (%d)\n", a.Msg, uint8(a.Msg))
			fmt.Printf("  Device: %s/%d\n", ican.DeviceType(a.Type), a.DeviceID)
		}
		fmt.Printf("  Length: %d bytes\n", f.Len)
		if alerts := bus.Alerts(); alerts != 0 {
			fmt.Printf("  Adapter alerts: %s\n", ican.FormatAlerts(alerts))
		}
		return nil
	}
}
