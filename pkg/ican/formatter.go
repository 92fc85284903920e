// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f Frame) string {
	a := f.Address()
	timestamp := f.Timestamp.Format("15:04:05.000")

	kind := ""
	if f.Request {
		kind = " RTR"
	}
	if !a.NG {
		return fmt.Sprintf("[%s] LEGACY id=%08X%s len=%d data=% X\n", timestamp, f.ID, kind, f.Len, f.Payload())
	}

	result := fmt.Sprintf("[%s] %s (%d)%s dev=%d type=%s len=%d\n",
		timestamp, a.Msg, uint8(a.Msg), kind, a.DeviceID, DeviceType(a.Type), f.Len)
	if !f.Request && f.Len > 0 {
		result += FormatPayload(a.Msg, f.Payload())
	}
	return result
}

// FormatPayload formats the payload based on message id
func FormatPayload(msg MsgID, data []byte) string {
	var first byte
	if len(data) > 0 {
		first = data[0]
	}

	switch msg {
	case MsgAvailable:
		if len(data) == 0 {
			return "  (no payload)\n"
		}
		return fmt.Sprintf("  Mode: %s (%d)\n", Availability(data[0]), data[0])

	case MsgDeviceError:
		e := DecodeDeviceError(data)
		if e.Component == ComponentCAN {
			return fmt.Sprintf("  Component: %s, Alerts: %s (0x%08X)\n", e.Component, FormatAlerts(e.Alerts), e.Alerts)
		}
		return fmt.Sprintf("  Component: %s, Code: %d\n", e.Component, e.Code)

	case MsgRestart:
		if len(data) == 0 {
			return "  (no payload)\n"
		}
		return fmt.Sprintf("  Target: %s (%d)\n", Availability(data[0]), data[0])

	case MsgDeviceUID0, MsgDeviceUID1, MsgFlashVerify, MsgFlashWrite:
		return fmt.Sprintf("  Bytes: %s\n", hex.EncodeToString(data))

	case MsgDeviceIDType:
		p := DecodeIDType(data)
		return fmt.Sprintf("  ID: %d, Type: %s (%d)\n", p.ID, DeviceType(p.Type), p.Type)

	case MsgBaudrate:
		b := Bitrate(first)
		return fmt.Sprintf("  Bitrate: %s (%d bps)\n", b, b.BitsPerSecond())

	case MsgUptime:
		minutes := DecodeUptime(data)
		return fmt.Sprintf("  Uptime: %s\n", time.Duration(minutes)*time.Minute)

	case MsgApplicationVersionString, MsgCustomString:
		return fmt.Sprintf("  Text: %q\n", DecodeString(data))

	case MsgUpdateSilence:
		state := "off"
		if first != SilenceOff {
			state = "on"
		}
		return fmt.Sprintf("  Silence: %s\n", state)

	case MsgButtonEvent:
		e := DecodeButtonEvent(data)
		return fmt.Sprintf("  Button: %d, State: %s, Count: %d\n", e.Button, e.State, e.Count)

	case MsgRelais:
		r := DecodeRelais(data)
		return fmt.Sprintf("  Output: %d, State: %d, Time: %d, Bank: %d\n", r.Number, r.State, r.Time, r.Bank)

	case MsgHWRev, MsgSensorLegacyMode, MsgDeviceGroup:
		return fmt.Sprintf("  Value: %d\n", first)

	default:
		return fmt.Sprintf("  Data: % X\n", data)
	}
}

// FormatCandump formats a frame in the can-utils log format:
// (seconds.micros) iface ID#DATA
func FormatCandump(iface string, f Frame) string {
	ts := f.Timestamp
	payload := strings.ToUpper(hex.EncodeToString(f.Payload()))
	if f.Request {
		payload = "R"
	}
	return fmt.Sprintf("(%d.%06d) %s %08X#%s", ts.Unix(), ts.Nanosecond()/1000, iface, f.ID, payload)
}

// ParseCandump parses a line produced by FormatCandump or candump -L.
// The timestamp and interface name are optional.
func ParseCandump(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	idxHash := strings.Index(line, "#")
	if idxHash == -1 {
		return Frame{}, fmt.Errorf("no # separator found")
	}

	idPart := strings.TrimSpace(line[:idxHash])
	var ts time.Time
	if strings.HasPrefix(idPart, "(") {
		end := strings.Index(idPart, ")")
		if end == -1 {
			return Frame{}, fmt.Errorf("unterminated timestamp")
		}
		secs, err := strconv.ParseFloat(idPart[1:end], 64)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		ts = time.Unix(0, int64(secs*float64(time.Second)))
		idPart = strings.TrimSpace(idPart[end+1:])
	}
	if idx := strings.LastIndex(idPart, " "); idx != -1 {
		idPart = idPart[idx+1:]
	}

	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid CAN ID %q: %w", idPart, err)
	}
	if id > MaxExtendedID {
		return Frame{}, fmt.Errorf("CAN ID %X exceeds 29 bits", id)
	}

	payloadHex := strings.TrimSpace(line[idxHash+1:])
	var f Frame
	if strings.HasPrefix(payloadHex, "R") {
		f = NewFrame(uint32(id), nil, true)
	} else {
		data, err := hex.DecodeString(payloadHex)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid payload: %w", err)
		}
		if len(data) > MaxDataLen {
			return Frame{}, fmt.Errorf("payload too long: %d bytes", len(data))
		}
		f = NewFrame(uint32(id), data, false)
	}
	if !ts.IsZero() {
		f.Timestamp = ts
	}
	return f, nil
}
