// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

import "encoding/binary"

// Payload layouts. All multi-byte fields are little-endian. Decoders accept
// short or long input: missing bytes read as zero, excess bytes are ignored.

// clamp copies data into a fixed 8-byte buffer
func clamp(data []byte) [MaxDataLen]byte {
	var buf [MaxDataLen]byte
	copy(buf[:], data)
	return buf
}

// ButtonEvent is the BUTTON_EVENT payload.
//
// Layout (4 bytes):
//
//	0    button id
//	1    state (ButtonState)
//	2..3 count (u16 LE)
type ButtonEvent struct {
	Button uint8
	State  ButtonState
	Count  uint16
}

// ButtonEventLen is the encoded size of ButtonEvent
const ButtonEventLen = 4

// Encode returns the wire bytes
func (e ButtonEvent) Encode() [ButtonEventLen]byte {
	var b [ButtonEventLen]byte
	b[0] = e.Button
	b[1] = uint8(e.State)
	binary.LittleEndian.PutUint16(b[2:4], e.Count)
	return b
}

// DecodeButtonEvent decodes a BUTTON_EVENT payload
func DecodeButtonEvent(data []byte) ButtonEvent {
	b := clamp(data)
	return ButtonEvent{
		Button: b[0],
		State:  ButtonState(b[1]),
		Count:  binary.LittleEndian.Uint16(b[2:4]),
	}
}

// DeviceError is the DEVICE_ERROR payload.
//
// Layout (8 bytes):
//
//	0    component or error tag (ErrorCode)
//	1    detail code
//	2..3 reserved, zero
//	4..7 alert bitmask (u32 LE)
type DeviceError struct {
	Component ErrorCode
	Code      uint8
	Alerts    uint32
}

// DeviceErrorLen is the encoded size of DeviceError
const DeviceErrorLen = 8

// Encode returns the wire bytes
func (e DeviceError) Encode() [DeviceErrorLen]byte {
	var b [DeviceErrorLen]byte
	b[0] = uint8(e.Component)
	b[1] = e.Code
	binary.LittleEndian.PutUint32(b[4:8], e.Alerts)
	return b
}

// DecodeDeviceError decodes a DEVICE_ERROR payload
func DecodeDeviceError(data []byte) DeviceError {
	b := clamp(data)
	return DeviceError{
		Component: ErrorCode(b[0]),
		Code:      b[1],
		Alerts:    binary.LittleEndian.Uint32(b[4:8]),
	}
}

// Relais is the RELAIS payload.
//
// Layout (8 bytes):
//
//	0    output number
//	1    state (0 off, non-zero on)
//	2..4 time (u24 LE)
//	5    bank
//	6..7 reserved, zero
type Relais struct {
	Number uint8
	State  uint8
	Time   uint32
	Bank   uint8
}

// RelaisLen is the encoded size of Relais
const RelaisLen = 8

// maxRelaisTime is the largest value of the 24-bit time field
const maxRelaisTime = 0xFFFFFF

// Encode returns the wire bytes. Time is truncated to 24 bits.
func (r Relais) Encode() [RelaisLen]byte {
	var b [RelaisLen]byte
	t := r.Time & maxRelaisTime
	b[0] = r.Number
	b[1] = r.State
	b[2] = byte(t)
	b[3] = byte(t >> 8)
	b[4] = byte(t >> 16)
	b[5] = r.Bank
	return b
}

// DecodeRelais decodes a RELAIS payload
func DecodeRelais(data []byte) Relais {
	b := clamp(data)
	return Relais{
		Number: b[0],
		State:  b[1],
		Time:   uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16,
		Bank:   b[5],
	}
}

// IDType is the DEVICE_ID_TYPE payload.
//
// Layout (2 bytes):
//
//	0 device id
//	1 device type
type IDType struct {
	ID   uint8
	Type uint8
}

// IDTypeLen is the encoded size of IDType
const IDTypeLen = 2

// Encode returns the wire bytes
func (p IDType) Encode() [IDTypeLen]byte {
	return [IDTypeLen]byte{p.ID, p.Type}
}

// DecodeIDType decodes a DEVICE_ID_TYPE payload
func DecodeIDType(data []byte) IDType {
	b := clamp(data)
	return IDType{ID: b[0], Type: b[1]}
}

// UptimeLen is the encoded size of an UPTIME payload (u32 LE minutes)
const UptimeLen = 4

// EncodeUptime returns the UPTIME wire bytes
func EncodeUptime(minutes uint32) [UptimeLen]byte {
	var b [UptimeLen]byte
	binary.LittleEndian.PutUint32(b[:], minutes)
	return b
}

// DecodeUptime decodes an UPTIME payload
func DecodeUptime(data []byte) uint32 {
	b := clamp(data)
	return binary.LittleEndian.Uint32(b[:4])
}

// UIDLen is the size of a hardware unique id
const UIDLen = 8

// UID is a node's 8-byte hardware unique id
type UID [UIDLen]byte

// IsZero reports whether every byte is zero (the select-any wildcard)
func (u UID) IsZero() bool {
	return u == UID{}
}

// DecodeString returns the bytes up to the first NUL, at most 8
func DecodeString(data []byte) string {
	b := clamp(data)
	n := 0
	for n < len(data) && n < MaxDataLen && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
