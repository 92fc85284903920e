// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/store"
	"github.com/Thermoquad/ican/pkg/transport"
)

// statusInterval is how often the adapter error flags are polled
const statusInterval = time.Second

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("ICAN_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}
	fmt.Fprintln(os.Stderr)

	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (transport.Connection, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := transport.OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := transport.OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	ports, _ := transport.ListSerialPorts()
	if len(ports) > 0 {
		return nil, "", fmt.Errorf("either --port or --url must be specified (available ports: %s)", strings.Join(ports, ", "))
	}
	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// resolveBitrate returns the --bitrate flag, the stored preset, or the
// default, in that order. st may be nil.
func resolveBitrate(st store.Store) (ican.Bitrate, error) {
	if busBitrate != "" {
		return ican.ParseBitrate(busBitrate)
	}
	if st != nil {
		if b := ican.Bitrate(st.U8(store.KeyBitrate, uint8(ican.DefaultBitrate))); b.Valid() {
			return b, nil
		}
	}
	return ican.DefaultBitrate, nil
}

// OpenBus opens the connection and brings up the SLCAN channel on it.
// Status polling and setup follow the command line flags.
func OpenBus(cfg transport.SLCANConfig) (*transport.SLCAN, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", err
	}

	cfg.StatusInterval = statusInterval
	cfg.SkipSetup = skipSetup
	bus, err := transport.NewSLCAN(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	return bus, fmt.Sprintf("%s, CAN %d bit/s", connInfo, cfg.Bitrate.BitsPerSecond()), nil
}

// openToolBus opens the bus for a command that does not run a node.
// onDecodeError may be nil.
func openToolBus(onDecodeError func(error)) (*transport.SLCAN, string, error) {
	bitrate, err := resolveBitrate(nil)
	if err != nil {
		return nil, "", err
	}
	return OpenBus(transport.SLCANConfig{Bitrate: bitrate, OnDecodeError: onDecodeError})
}
