// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport connects an ICAN node to a bus: SLCAN adapters over a
// serial port or WebSocket, and an in-process virtual bus.
package transport

import (
	"fmt"
	"strconv"

	"github.com/Thermoquad/ican/pkg/ican"
)

// SLCAN (Lawicel) line protocol bytes
const (
	slcanCR   = '\r'
	slcanBell = '\a'

	// maxLineLen fits the longest frame line: T + 8 id + dlc + 16 data
	maxLineLen = 32
)

// Lawicel status flag bits (reply to the F command)
const (
	statusRxFIFOFull   = 1 << 0
	statusTxFIFOFull   = 1 << 1
	statusErrorWarning = 1 << 2
	statusDataOverrun  = 1 << 3
	statusErrorPassive = 1 << 5
	statusArbLost      = 1 << 6
	statusBusError     = 1 << 7
)

// StatusAlerts maps an SLCAN status byte to transport alert bits
func StatusAlerts(status byte) uint32 {
	var alerts uint32
	if status&statusRxFIFOFull != 0 {
		alerts |= ican.AlertRxQueueFull
	}
	if status&statusTxFIFOFull != 0 {
		alerts |= ican.AlertTxFailed
	}
	if status&statusErrorWarning != 0 {
		alerts |= ican.AlertAboveErrWarn
	}
	if status&statusDataOverrun != 0 {
		alerts |= ican.AlertRxFIFOOverrun
	}
	if status&statusErrorPassive != 0 {
		alerts |= ican.AlertErrPass
	}
	if status&statusArbLost != 0 {
		alerts |= ican.AlertArbLost
	}
	if status&statusBusError != 0 {
		alerts |= ican.AlertBusError
	}
	return alerts
}

// BitrateCommand returns the SLCAN command that selects b. 50k and 100k use
// the standard presets, 25k and 22.222k use BTR0/BTR1 values for 16 MHz
// SJA1000-based adapters.
func BitrateCommand(b ican.Bitrate) (string, error) {
	switch b {
	case ican.Bitrate50000:
		return "S2", nil
	case ican.Bitrate100000:
		return "S3", nil
	case ican.Bitrate25000:
		return "s131C", nil
	case ican.Bitrate22222:
		return "s132D", nil
	default:
		return "", fmt.Errorf("no SLCAN setting for bitrate %d", uint8(b))
	}
}

// EncodeFrame returns the SLCAN line for f. Frames are always sent with
// extended identifiers.
func EncodeFrame(f ican.Frame) []byte {
	n := f.Len
	if n > ican.MaxDataLen {
		n = ican.MaxDataLen
	}

	line := make([]byte, 0, maxLineLen)
	if f.Request {
		line = append(line, 'R')
	} else {
		line = append(line, 'T')
	}
	line = fmt.Appendf(line, "%08X%d", f.ID&ican.MaxExtendedID, n)
	if !f.Request {
		line = fmt.Appendf(line, "%X", f.Data[:n])
	}
	return append(line, slcanCR)
}

// EventKind classifies a decoded SLCAN line
type EventKind int

// Decoded line kinds
const (
	EventFrame  EventKind = iota // received bus frame
	EventStatus                  // F status reply
	EventAck                     // command accepted (CR, z or Z)
	EventError                   // bell
)

// Event is a decoded SLCAN line
type Event struct {
	Kind   EventKind
	Frame  ican.Frame
	Status byte
}

// Decoder turns the adapter byte stream into events
type Decoder struct {
	line []byte
}

// NewDecoder creates a new SLCAN decoder
func NewDecoder() *Decoder {
	return &Decoder{line: make([]byte, 0, maxLineLen)}
}

// Reset discards a partial line
func (d *Decoder) Reset() {
	d.line = d.line[:0]
}

// DecodeByte processes a single byte. It returns a completed event, or nil
// while a line is incomplete, and an error for malformed lines.
func (d *Decoder) DecodeByte(b byte) (*Event, error) {
	switch b {
	case slcanBell:
		d.Reset()
		return &Event{Kind: EventError}, nil
	case slcanCR:
		line := d.line
		d.Reset()
		return parseLine(line)
	case '\n':
		// some adapters terminate with CRLF
		return nil, nil
	}

	if len(d.line) >= maxLineLen {
		d.Reset()
		return nil, fmt.Errorf("line overflow")
	}
	d.line = append(d.line, b)
	return nil, nil
}

func parseLine(line []byte) (*Event, error) {
	if len(line) == 0 {
		return &Event{Kind: EventAck}, nil
	}

	switch line[0] {
	case 'z', 'Z':
		if len(line) == 1 {
			return &Event{Kind: EventAck}, nil
		}
	case 'F':
		if len(line) != 3 {
			return nil, fmt.Errorf("invalid status reply %q", line)
		}
		v, err := strconv.ParseUint(string(line[1:]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid status reply %q: %w", line, err)
		}
		return &Event{Kind: EventStatus, Status: byte(v)}, nil
	case 'T', 'R':
		return parseFrame(line, 8)
	case 't', 'r':
		return parseFrame(line, 3)
	}
	// version, serial number and other replies
	return &Event{Kind: EventAck}, nil
}

func parseFrame(line []byte, idLen int) (*Event, error) {
	request := line[0] == 'R' || line[0] == 'r'
	if len(line) < 1+idLen+1 {
		return nil, fmt.Errorf("short frame line %q", line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier in %q: %w", line, err)
	}
	if id > ican.MaxExtendedID {
		return nil, fmt.Errorf("identifier %X exceeds 29 bits", id)
	}

	dlc := int(line[1+idLen] - '0')
	if dlc < 0 || dlc > ican.MaxDataLen {
		return nil, fmt.Errorf("invalid length in %q", line)
	}

	hexData := line[2+idLen:]
	if request {
		f := ican.NewFrame(uint32(id), nil, true)
		f.Len = uint8(dlc)
		return &Event{Kind: EventFrame, Frame: f}, nil
	}

	// a trailing 4-digit timestamp is allowed and ignored
	if len(hexData) != dlc*2 && len(hexData) != dlc*2+4 {
		return nil, fmt.Errorf("length mismatch in %q", line)
	}
	data := make([]byte, dlc)
	for i := 0; i < dlc; i++ {
		v, err := strconv.ParseUint(string(hexData[i*2:i*2+2]), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid data in %q: %w", line, err)
		}
		data[i] = byte(v)
	}
	return &Event{Kind: EventFrame, Frame: ican.NewFrame(uint32(id), data, false)}, nil
}
