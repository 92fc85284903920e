// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/device"
	"github.com/Thermoquad/ican/pkg/ican"
)

var (
	discoveryTimeout int
	discoveryType    string
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover nodes on the bus",
	Long: `Broadcast REQUEST_PARAMETER and AVAILABLE and list the nodes that answer.

Every node answers REQUEST_PARAMETER with its version string, UID, custom
string, uptime, bitrate, hardware revision and legacy sensor mode, and
AVAILABLE with its update state. Answers are grouped by device type and id.

Examples:
  # All nodes
  ican discovery --port /dev/ttyACM0

  # Relay nodes only
  ican discovery --port /dev/ttyACM0 --type relais

Exit codes:
  0 - Discovery successful (at least one node found)
  1 - Discovery failed (no nodes answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Timeout in seconds for discovery")
	discoveryCmd.Flags().StringVar(&discoveryType, "type", "", "Only ask nodes of this device type")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	var devType ican.DeviceType
	if discoveryType != "" {
		var err error
		devType, err = ican.ParseDeviceType(discoveryType)
		if err != nil {
			return err
		}
	}

	bus, connInfo, err := openToolBus(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("ican - Node Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	fmt.Printf("Sending %s and %s...\n", ican.MsgRequestParameter, ican.MsgAvailable)
	if err := sendDiscoveryRequest(bus, devType); err != nil {
		fmt.Printf("SEND FAILED: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(discoveryTimeout)*time.Second)
	defer cancel()

	nodes := newDiscoveredNodes()
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fmt.Printf("READ FAILED: %v\n", err)
				os.Exit(2)
			}
			break
		}
		if n := nodes.collect(f); n != nil && n.frames == 1 {
			fmt.Printf("  found %s/%d\n", ican.DeviceType(n.devType), n.id)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Nodes found: %d\n", len(nodes.byAddr))

	if len(nodes.byAddr) == 0 {
		fmt.Printf("No nodes discovered. Check bitrate, termination and node power.\n")
		os.Exit(1)
	}

	for _, n := range nodes.sorted() {
		fmt.Print(n.String())
	}
	return nil
}

// discoveredNode accumulates the parameters one node reported
type discoveredNode struct {
	id      uint8
	devType uint8
	frames  int

	version      string
	uid          ican.UID
	hasUID       bool
	customString string
	uptime       uint32
	hasUptime    bool
	bitrate      ican.Bitrate
	hwRev        uint8
	hasHWRev     bool
	legacySensor uint8
	availability ican.Availability
	hasAvailable bool
}

func (n *discoveredNode) String() string {
	result := fmt.Sprintf("\nNode %d (%s):\n", n.id, ican.DeviceType(n.devType))
	if n.hasAvailable {
		result += fmt.Sprintf("  State:         %s\n", n.availability)
	}
	if n.version != "" {
		result += fmt.Sprintf("  Version:       %s\n", n.version)
	}
	if n.hasUID {
		result += fmt.Sprintf("  UID:           %s\n", device.FormatUID(n.uid))
	}
	if n.customString != "" {
		result += fmt.Sprintf("  Custom String: %s\n", n.customString)
	}
	if n.hasUptime {
		result += fmt.Sprintf("  Uptime:        %s\n", formatUptime(time.Duration(n.uptime)*time.Minute))
	}
	if n.bitrate != 0 {
		result += fmt.Sprintf("  Bitrate:       %s\n", n.bitrate)
	}
	if n.hasHWRev {
		result += fmt.Sprintf("  HW Revision:   %d\n", n.hwRev)
		result += fmt.Sprintf("  Legacy Sensor: %d\n", n.legacySensor)
	}
	return result
}

type discoveredNodes struct {
	byAddr map[uint16]*discoveredNode
}

func newDiscoveredNodes() *discoveredNodes {
	return &discoveredNodes{byAddr: make(map[uint16]*discoveredNode)}
}

// collect records a reply. It returns the node the frame belongs to, or nil
// for requests and frames that are not NG.
func (d *discoveredNodes) collect(f ican.Frame) *discoveredNode {
	a := f.Address()
	if !a.NG || f.Request {
		return nil
	}

	key := uint16(a.Type)<<8 | uint16(a.DeviceID)
	n, ok := d.byAddr[key]
	if !ok {
		n = &discoveredNode{id: a.DeviceID, devType: a.Type}
		d.byAddr[key] = n
	}
	n.frames++

	switch a.Msg {
	case ican.MsgAvailable:
		n.availability = ican.Availability(f.Byte(0))
		n.hasAvailable = true
	case ican.MsgApplicationVersionString:
		n.version = ican.DecodeString(f.Payload())
	case ican.MsgDeviceUID0, ican.MsgDeviceUID1:
		if f.Len == ican.UIDLen {
			copy(n.uid[:], f.Payload())
			n.hasUID = true
		}
	case ican.MsgCustomString:
		n.customString = ican.DecodeString(f.Payload())
	case ican.MsgUptime:
		n.uptime = ican.DecodeUptime(f.Payload())
		n.hasUptime = true
	case ican.MsgBaudrate:
		n.bitrate = ican.Bitrate(f.Byte(0))
	case ican.MsgHWRev:
		n.hwRev = f.Byte(0)
		n.hasHWRev = true
	case ican.MsgSensorLegacyMode:
		n.legacySensor = f.Byte(0)
	}
	return n
}

// sorted returns the nodes ordered by type, then id
func (d *discoveredNodes) sorted() []*discoveredNode {
	keys := make([]int, 0, len(d.byAddr))
	for k := range d.byAddr {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)

	result := make([]*discoveredNode, 0, len(keys))
	for _, k := range keys {
		result = append(result, d.byAddr[uint16(k)])
	}
	return result
}
