// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

import "time"

// Frame is a classic CAN frame with a 29-bit extended identifier
type Frame struct {
	ID        uint32
	Data      [MaxDataLen]byte
	Len       uint8
	Request   bool // remote transmission request
	Timestamp time.Time
}

// NewFrame builds a frame from id and data. Data beyond 8 bytes is dropped
// and the identifier is clamped to 29 bits.
func NewFrame(id uint32, data []byte, request bool) Frame {
	f := Frame{
		ID:        id & MaxExtendedID,
		Request:   request,
		Timestamp: time.Now(),
	}
	f.Len = uint8(copy(f.Data[:], data))
	return f
}

// NewMessage builds a frame for a message from the given source identity
func NewMessage(deviceID, deviceType uint8, msg MsgID, data []byte, request bool) Frame {
	return NewFrame(Encode(deviceID, deviceType, msg), data, request)
}

// Payload returns the valid data bytes
func (f Frame) Payload() []byte {
	n := f.Len
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Address returns the decoded identifier
func (f Frame) Address() Address {
	return Decode(f.ID)
}

// Msg returns the MESSAGE_ID field
func (f Frame) Msg() MsgID {
	return MessageOf(f.ID)
}

// Byte returns data byte i, or 0 when the frame is shorter
func (f Frame) Byte(i int) byte {
	if i < 0 || i >= int(f.Len) || i >= MaxDataLen {
		return 0
	}
	return f.Data[i]
}

// Handler is a member of a node's dispatch chain. TryHandle returns true
// when the handler claims the frame, which stops the chain.
type Handler interface {
	TryHandle(f Frame) bool
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(f Frame) bool

// TryHandle implements Handler
func (h HandlerFunc) TryHandle(f Frame) bool {
	return h(f)
}

// Dispatcher routes a frame through a dispatch chain without filtering
type Dispatcher interface {
	Dispatch(f Frame) bool
}

// Sender transmits frames on behalf of the local node
type Sender interface {
	// Send transmits msg with the local identity as source
	Send(msg MsgID, data []byte, request bool) error
	// SendID transmits a frame with a fully specified identifier
	SendID(id uint32, data []byte, request bool) error
}
