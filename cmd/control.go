// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/node"
	"github.com/Thermoquad/ican/pkg/transport"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling ICAN nodes",
	Long: `Control ICAN nodes via an interactive terminal UI.

This command provides a TUI for monitoring and controlling the nodes on the
bus through an SLCAN adapter on a serial port or WebSocket.

Features:
  - Node discovery (REQUEST_PARAMETER, AVAILABLE)
  - Node parameters and uptime
  - Relay output control
  - Node restart
  - Statistics tracking
  - Event logging (button events, device errors)
  - Automatic reconnection on connection loss

The TUI discovers nodes first before enabling control. Tab switches between
node list and control panel. Arrow keys navigate the node list.

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles bus lifecycle and reconnection
type connectionManager struct {
	bus        *transport.SLCAN
	connInfo   string
	mu         sync.RWMutex
	p          *tea.Program
	done       chan struct{}
	decodeErrs atomic.Int32
}

func (cm *connectionManager) getBus() *transport.SLCAN {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.bus
}

func (cm *connectionManager) setBus(bus *transport.SLCAN, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.bus = bus
	cm.connInfo = connInfo
}

func (cm *connectionManager) open() (*transport.SLCAN, string, error) {
	return openToolBus(func(error) { cm.decodeErrs.Add(1) })
}

// send transmits f on the current bus
func (cm *connectionManager) send(f ican.Frame) error {
	bus := cm.getBus()
	if bus == nil {
		return fmt.Errorf("connection lost")
	}
	return bus.Send(f)
}

func runControl(cmd *cobra.Command, args []string) error {
	cm := &connectionManager{
		done: make(chan struct{}),
	}

	bus, connInfo, err := cm.open()
	if err != nil {
		return err
	}
	cm.setBus(bus, connInfo)

	m := initialControlModel(cm, connInfo)

	// Create TUI program with alt screen and mouse support
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop()

	// Send initial discovery request
	sendDiscoveryRequest(bus, ican.DeviceUnknown)

	_, err = p.Run()

	close(cm.done) // Signal goroutines to stop
	cm.getBus().Close()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop handles reading from the bus with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromBus() {
			// Notify TUI about connection loss
			cm.p.Send(connectionLostMsg{})

			if !cm.reconnect() {
				return // Shutdown requested during reconnect
			}
		}
	}
}

// readFromBus reads frames from the bus until it fails.
// Returns true if the connection was lost, false if shutdown requested.
func (cm *connectionManager) readFromBus() bool {
	bus := cm.getBus()

	// Buffered channel for batching updates
	frames := make(chan ican.Frame, 100)
	readerDone := make(chan struct{})

	// Reader goroutine - receives frames and sends to batch channel
	go func() {
		defer close(readerDone)
		for {
			f, err := bus.Receive(context.Background())
			if err != nil {
				return
			}
			select {
			case frames <- f:
			default:
			}
		}
	}()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				batch := controlBatchMsg{
					decodeErrors: int(cm.decodeErrs.Swap(0)),
					alerts:       bus.Alerts(),
				}

				// Drain all available frames from batch channel
			drainLoop:
				for {
					select {
					case f := <-frames:
						batch.frames = append(batch.frames, f)
					default:
						break drainLoop
					}
				}

				// Send batch if we have anything
				if len(batch.frames) > 0 || batch.decodeErrors > 0 || batch.alerts != 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	// Wait for reader to finish (connection lost or shutdown)
	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true // Connection lost
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	if bus := cm.getBus(); bus != nil {
		bus.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		bus, connInfo, err := cm.open()
		if err == nil {
			cm.setBus(bus, connInfo)

			// Notify TUI about reconnection
			cm.p.Send(reconnectedMsg{connInfo: connInfo})

			sendDiscoveryRequest(bus, ican.DeviceUnknown)
			return true
		}

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// sendDiscoveryRequest broadcasts REQUEST_PARAMETER and AVAILABLE to the
// nodes of devType (DeviceUnknown addresses every node)
func sendDiscoveryRequest(t node.Transport, devType ican.DeviceType) error {
	for _, msg := range []ican.MsgID{ican.MsgRequestParameter, ican.MsgAvailable} {
		id := ican.Encode(ican.BroadcastID, uint8(devType), msg)
		if err := t.Send(ican.NewFrame(id, nil, true)); err != nil {
			return fmt.Errorf("failed to send %s: %w", msg, err)
		}
	}
	return nil
}
