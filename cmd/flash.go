// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/flasher"
	"github.com/Thermoquad/ican/pkg/ican"
)

var (
	flashTimeout    int
	flashRetries    int
	flashChunkDelay int
	flashNoRestart  bool
	flashVerifyOnly bool
)

var flashCmd = &cobra.Command{
	Use:   "flash TYPE/ID IMAGE",
	Short: "Upload a firmware image to a node",
	Long: `Upload a firmware image to one node over the bus.

The sequence is:
  1. Broadcast UPDATE_SILENCE on, so other nodes stop transmitting
  2. RESTART the target into update mode and poll AVAILABLE until it reports it
  3. Stream the image in 8-byte FLASH_WRITE frames
  4. Compare the FLASH_VERIFY reply with the local SHA-256 of the image
  5. RESTART the target into the new image
  6. Broadcast UPDATE_SILENCE off

With --verify-only the image is only compared against what the target holds.

Exit codes:
  0 - Image written and verified
  1 - Flashing failed
  2 - Connection error`,
	Args: cobra.ExactArgs(2),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().IntVar(&flashTimeout, "timeout", 2, "Timeout in seconds for each reply")
	flashCmd.Flags().IntVar(&flashRetries, "retries", flasher.DefaultRetries, "AVAILABLE polls before giving up")
	flashCmd.Flags().IntVar(&flashChunkDelay, "chunk-delay", 1, "Milliseconds between FLASH_WRITE frames")
	flashCmd.Flags().BoolVar(&flashNoRestart, "no-restart", false, "Leave the target in update mode")
	flashCmd.Flags().BoolVar(&flashVerifyOnly, "verify-only", false, "Only compare the image checksum")
}

func runFlash(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(args[0])
	if err != nil {
		return err
	}
	image, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	bus, connInfo, err := openToolBus(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("ican - Firmware Flash\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Target: %s/%d\n", ican.DeviceType(target.Type), target.ID)
	fmt.Printf("Image: %s (%d bytes, checksum %s)\n\n", args[1], len(image), hex.EncodeToString(flasher.Checksum(image)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lastPercent := -1
	fl := flasher.New(flasher.Config{
		Transport:    bus,
		Target:       target,
		ReplyTimeout: time.Duration(flashTimeout) * time.Second,
		Retries:      flashRetries,
		ChunkDelay:   time.Duration(flashChunkDelay) * time.Millisecond,
		NoRestart:    flashNoRestart,
		Progress: func(sent, total int) {
			if percent := sent * 100 / total; percent != lastPercent {
				lastPercent = percent
				fmt.Printf("\rWriting: %3d%% (%d/%d bytes)", percent, sent, total)
			}
		},
	})

	if flashVerifyOnly {
		err = fl.Verify(ctx, image)
	} else {
		err = fl.Flash(ctx, image)
		fmt.Println()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		bus.Close()
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: image verified\n")
	if !flashVerifyOnly && !flashNoRestart {
		fmt.Printf("Target restarting into the new image\n")
	}
	return nil
}
