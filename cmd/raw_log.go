// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/transport"
)

var (
	logCandump bool
	logIface   string
)

var rawLogCmd = &cobra.Command{
	Use:     "log",
	Aliases: []string{"raw_log"},
	Short:   "Display bus frames in human-readable format",
	Long: `Continuously decode and display ICAN frames as they arrive.

Each frame is shown with timestamp, message name, device id and type, and the
decoded payload. With --candump the output is in the can-utils log format and
can be replayed with the send command.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&logCandump, "candump", false, "Print frames in candump log format")
	rawLogCmd.Flags().StringVar(&logIface, "iface", "can0", "Interface name in candump output")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	bus, connInfo, err := openToolBus(func(err error) {
		if !logCandump {
			fmt.Printf("[ERROR] %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	if !logCandump {
		fmt.Printf("ican - Frame Log\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	for {
		f, err := bus.Receive(context.Background())
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				glog.Info("Connection closed")
				return nil
			}
			return err
		}

		if logCandump {
			fmt.Println(ican.FormatCandump(logIface, f))
			continue
		}
		fmt.Print(ican.FormatFrame(f))
		if alerts := bus.Alerts(); alerts != 0 {
			fmt.Printf("[ALERT] %s\n", ican.FormatAlerts(alerts))
		}
	}
}
