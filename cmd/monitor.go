// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/transport"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Monitor bus health, node errors and traffic statistics",
	Long: `Track bus traffic, adapter alerts and DEVICE_ERROR reports with statistics.

This command watches the bus and detects:
  - Malformed adapter output (decode failures)
  - Adapter alerts (bus errors, error passive, queue overruns)
  - DEVICE_ERROR frames reported by nodes
  - Statistics and trends (frame rate, error rate, nodes seen)

By default, only errors are displayed. Use --show-all to display every frame.

Errors are highlighted immediately, with periodic statistics summaries
displayed at configurable intervals in text mode.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds, text mode)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runTUIMode()
	}
	return runTextMode()
}

// printDeviceError prints a DEVICE_ERROR frame in highlighted format
func printDeviceError(f ican.Frame) {
	timestamp := f.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31m%s\033[0m\n", timestamp, describeDeviceError(f))
}

// printUptime prints an uptime reply
func printUptime(f ican.Frame) {
	timestamp := f.Timestamp.Format("15:04:05.000")
	a := f.Address()
	uptime := time.Duration(ican.DecodeUptime(f.Payload())) * time.Minute
	fmt.Printf("[%s] \033[1;32mUPTIME:\033[0m %s/%d up %s\n", timestamp, ican.DeviceType(a.Type), a.DeviceID, formatUptime(uptime))
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode() error {
	decodeErrs := make(chan error, 16)
	bus, connInfo, err := openToolBus(func(err error) {
		select {
		case decodeErrs <- err:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m)

	// Bus reader goroutine
	go func() {
		for {
			f, err := bus.Receive(context.Background())
			if err != nil {
				p.Send(busClosedMsg{err: err})
				return
			}
			p.Send(frameMsg{frame: f})
			if alerts := bus.Alerts(); alerts != 0 {
				p.Send(alertMsg{alerts: alerts})
			}
		}
	}()

	go func() {
		for err := range decodeErrs {
			p.Send(decodeErrMsg{err: err})
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode() error {
	decodeErrs := make(chan error, 16)
	bus, connInfo, err := openToolBus(func(err error) {
		select {
		case decodeErrs <- err:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	fmt.Printf("ican - Bus Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := ican.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking bus reads
	frames := make(chan ican.Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			f, err := bus.Receive(context.Background())
			if err != nil {
				readErr <- err
				return
			}
			frames <- f
		}
	}()

	for {
		select {
		case f := <-frames:
			stats.Update(&f, nil)
			if alerts := bus.Alerts(); alerts != 0 {
				fmt.Printf("[%s] \033[1;33mADAPTER ALERT:\033[0m %s\n", time.Now().Format("15:04:05.000"), ican.FormatAlerts(alerts))
			}

			switch {
			case f.Msg() == ican.MsgDeviceError && !f.Request && f.Address().NG:
				printDeviceError(f)
			case f.Msg() == ican.MsgUptime && !f.Request && f.Address().NG:
				// Always print uptime replies (for debugging)
				printUptime(f)
			case showAll:
				fmt.Print(ican.FormatFrame(f))
			}

		case err := <-decodeErrs:
			stats.Update(nil, err)
			fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", time.Now().Format("15:04:05.000"), err)

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
