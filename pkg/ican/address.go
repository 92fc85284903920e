// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

// Address is a decoded 29-bit ICAN identifier
type Address struct {
	NG       bool
	Group    uint8
	Type     uint8
	DeviceID uint8
	Msg      MsgID
}

// Decode splits an identifier into its fields. Identifiers without the NG
// bit decode to meaningless fields and must be rejected by the caller.
func Decode(id uint32) Address {
	return Address{
		NG:       id&IDNGMask != 0,
		Group:    uint8((id & IDGroupMask) >> idGroupShift),
		Type:     uint8((id & IDTypeMask) >> idTypeShift),
		DeviceID: uint8((id & IDDeviceMask) >> idDeviceShift),
		Msg:      MsgID(id & IDMessageMask),
	}
}

// Encode builds an identifier for the given device id, device type and
// message. The NG bit is always set. Device types wider than 6 bits are
// truncated by the TYPE mask.
func Encode(deviceID, deviceType uint8, msg MsgID) uint32 {
	return IDNGMask |
		(uint32(deviceType)<<idTypeShift)&IDTypeMask |
		(uint32(deviceID)<<idDeviceShift)&IDDeviceMask |
		uint32(msg)
}

// ID re-encodes the address, including the group field
func (a Address) ID() uint32 {
	var id uint32
	if a.NG {
		id |= IDNGMask
	}
	id |= (uint32(a.Group) << idGroupShift) & IDGroupMask
	id |= (uint32(a.Type) << idTypeShift) & IDTypeMask
	id |= (uint32(a.DeviceID) << idDeviceShift) & IDDeviceMask
	return id | uint32(a.Msg)
}

// MatchesIdentity reports whether id is an NG frame addressed to exactly
// this device id and device type
func MatchesIdentity(id uint32, deviceID, deviceType uint8) bool {
	a := Decode(id)
	return a.NG && a.DeviceID == deviceID && a.Type == deviceType
}

// IsBroadcast reports whether id is an NG frame with device id 0
func IsBroadcast(id uint32) bool {
	a := Decode(id)
	return a.NG && a.DeviceID == BroadcastID
}

// MessageOf returns the MESSAGE_ID field of id
func MessageOf(id uint32) MsgID {
	return MsgID(id & IDMessageMask)
}

// WithMessage replaces the MESSAGE_ID field of id, keeping every other field
func WithMessage(id uint32, msg MsgID) uint32 {
	return (id &^ IDMessageMask) | uint32(msg)
}
