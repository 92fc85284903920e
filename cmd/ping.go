// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/node"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping TYPE/ID",
	Short: "Test a node by requesting its uptime",
	Long: `Send UPTIME requests to one node and wait for the replies.

The target is given as device type and id, for example relais/7 or 5/7.
Every node answers UPTIME from its device handler, so this verifies:
  - The adapter is on the bus at the right bitrate
  - The node is powered and its identity is as expected
  - Bidirectional frame flow works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

// parseTarget parses a node identity given as TYPE/ID, where TYPE is a
// device type name or number
func parseTarget(s string) (node.Identity, error) {
	typ, id, ok := strings.Cut(s, "/")
	if !ok {
		return node.Identity{}, fmt.Errorf("invalid target %q, want TYPE/ID", s)
	}
	devType, err := ican.ParseDeviceType(typ)
	if err != nil {
		return node.Identity{}, err
	}
	n, err := strconv.ParseUint(id, 0, 8)
	if err != nil {
		return node.Identity{}, fmt.Errorf("invalid device id %q: %w", id, err)
	}
	if n == ican.BroadcastID {
		return node.Identity{}, fmt.Errorf("device id 0 is the broadcast address")
	}
	return node.Identity{ID: uint8(n), Type: uint8(devType)}, nil
}

func runPing(cmd *cobra.Command, args []string) error {
	target, err := parseTarget(args[0])
	if err != nil {
		return err
	}

	bus, connInfo, err := openToolBus(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("ican - Node Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Target: %s/%d\n", ican.DeviceType(target.Type), target.ID)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	request := ican.NewMessage(target.ID, target.Type, ican.MsgUptime, nil, true)
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := bus.Send(request); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
		reply, err := awaitReply(ctx, bus, target, ican.MsgUptime)
		cancel()

		switch {
		case err == nil:
			rtt := time.Since(startTime)
			uptime := time.Duration(ican.DecodeUptime(reply.Payload())) * time.Minute
			fmt.Printf("reply from %s/%d, uptime=%s, rtt=%v\n",
				ican.DeviceType(target.Type), target.ID, formatUptime(uptime), rtt.Round(time.Millisecond))
			successCount++
		case ctx.Err() != nil:
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("READ FAILED: %v\n", err)
			bus.Close()
			os.Exit(2)
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		bus.Close()
		os.Exit(1)
	}
	return nil
}

// awaitReply waits for a non-request msg frame sent by target
func awaitReply(ctx context.Context, t node.Transport, target node.Identity, msg ican.MsgID) (ican.Frame, error) {
	for {
		f, err := t.Receive(ctx)
		if err != nil {
			return ican.Frame{}, err
		}
		a := f.Address()
		if a.NG && !f.Request && a.Msg == msg && a.DeviceID == target.ID && a.Type == target.Type {
			return f, nil
		}
	}
}
