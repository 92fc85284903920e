// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
)

var (
	sendListen int
	sendCount  int
	sendGap    int
)

var sendCmd = &cobra.Command{
	Use:   "send FRAME...",
	Short: "Transmit candump-style frames",
	Long: `Transmit one or more frames given as candump-style ID#DATA or ID#R.

The ID is the 29-bit hexadecimal identifier, DATA up to 8 bytes of hex and R
marks a remote (request) frame. Lines printed by "log --candump" are accepted
as they are, including timestamp and interface name.

Examples:
  # Switch output 2 of relay node 7 on
  ican send 10050782#0201

  # Ask every node for its uptime and show the replies for 2 seconds
  ican send 10000009#R --listen 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendListen, "listen", 0, "Seconds to print received frames after sending")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of times to send the frames")
	sendCmd.Flags().IntVar(&sendGap, "gap", 10, "Milliseconds between frames")
}

func runSend(cmd *cobra.Command, args []string) error {
	frames := make([]ican.Frame, 0, len(args))
	for _, arg := range args {
		f, err := ican.ParseCandump(arg)
		if err != nil {
			return fmt.Errorf("invalid frame %q: %w", arg, err)
		}
		frames = append(frames, f)
	}

	bus, connInfo, err := openToolBus(nil)
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)

	for i := 0; i < sendCount; i++ {
		for _, f := range frames {
			out := ican.NewFrame(f.ID, f.Payload(), f.Request)
			if err := bus.Send(out); err != nil {
				return err
			}
			fmt.Printf("-> %s", ican.FormatFrame(out))
			time.Sleep(time.Duration(sendGap) * time.Millisecond)
		}
	}

	if sendListen <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sendListen)*time.Second)
	defer cancel()
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Printf("<- %s", ican.FormatFrame(f))
	}
}
