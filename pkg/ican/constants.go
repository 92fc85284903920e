// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ican provides a Go implementation of the ICAN building-automation
// CAN protocol.
//
// ICAN runs on classic CAN with 29-bit extended identifiers. Every node on the
// bus (button panel, relay bank, roller shutter, gateway) shares the same
// addressing scheme and message catalogue. This package provides the
// identifier codec, frame and payload layouts, formatting and statistics.
package ican

// Identifier field masks (29-bit extended identifier, MSB to LSB)
const (
	IDNGMask      = 0x10000000 // 1 bit, next-generation frame marker
	IDGroupMask   = 0x0FC00000 // 6 bits
	IDTypeMask    = 0x003F0000 // 6 bits
	IDDeviceMask  = 0x0000FF00 // 8 bits
	IDMessageMask = 0x000000FF // 8 bits

	idGroupShift  = 22
	idTypeShift   = 16
	idDeviceShift = 8

	// MaxExtendedID is the largest valid 29-bit identifier
	MaxExtendedID = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload limit
const MaxDataLen = 8

// BroadcastID is the device id every node accepts
const BroadcastID = 0

// MsgID identifies the semantic message kind (MESSAGE_ID field)
type MsgID uint8

// Message ids
const (
	MsgAvailable                MsgID = 0
	MsgDeviceError              MsgID = 1
	MsgRestart                  MsgID = 2
	MsgDeviceUID0               MsgID = 3
	MsgDeviceUID1               MsgID = 4
	MsgDeviceIDType             MsgID = 5
	MsgDeviceGroup              MsgID = 6
	MsgApplicationVersion       MsgID = 7
	MsgBaudrate                 MsgID = 8
	MsgUptime                   MsgID = 9
	MsgCustomString             MsgID = 10
	MsgPWMFrequency             MsgID = 11
	MsgRequestParameter         MsgID = 12
	MsgApplicationVersionString MsgID = 13
	MsgUpdateSilence            MsgID = 14
	MsgFlashSelect              MsgID = 16
	MsgFlashErase               MsgID = 17
	MsgFlashRead                MsgID = 18
	MsgFlashWrite               MsgID = 19
	MsgFlashVerify              MsgID = 20
	MsgButtonEvent              MsgID = 30
	MsgTemperatureSensor        MsgID = 31
	MsgHWRev                    MsgID = 41
	MsgSensorLegacyMode         MsgID = 42
	MsgLampGroup                MsgID = 90
	MsgPIRSensor                MsgID = 128
	MsgHumiditySensor           MsgID = 129
	MsgRelais                   MsgID = 130
	MsgRelaisState              MsgID = 131
	MsgRollershutter            MsgID = 132
	MsgRollershutterState       MsgID = 133
	MsgRollershutterMode        MsgID = 134
	MsgAmbientLightSensor       MsgID = 140
	MsgAmbientLightSensorWhite  MsgID = 141
	MsgNightlight               MsgID = 150
	MsgPressureSensor           MsgID = 151
	MsgCO2Equivalent            MsgID = 152
	MsgVOCBreath                MsgID = 153
	MsgAirQuality               MsgID = 154
	MsgLogDownload              MsgID = 155
	MsgPing                     MsgID = 156
	MsgPingDisable              MsgID = 157
)

// SilenceThreshold is the highest message id still transmitted while the
// bus is silenced for an update
const SilenceThreshold = MsgFlashVerify

// Availability is the AVAILABLE payload and the RESTART update marker
type Availability uint8

// Availability values
const (
	NotReady    Availability = 0
	Application Availability = 1
	UpdateMode  Availability = 2
)

// Silence values for UPDATE_SILENCE
const (
	SilenceOff uint8 = 0
	SilenceOn  uint8 = 1
)

// ErrorCode is the component or error tag carried in DEVICE_ERROR
type ErrorCode uint8

// Error codes
const (
	ErrorFlashOverrun    ErrorCode = 0x01
	ErrorNoConfig        ErrorCode = 0x02
	ErrorDeviceIDType    ErrorCode = 0x03
	ErrorFirmwareCorrupt ErrorCode = 0x04
	ComponentCAN         ErrorCode = 0x05
	ComponentLight       ErrorCode = 0x06
	ComponentRelais      ErrorCode = 0x07
	ComponentMain        ErrorCode = 0x08
	ComponentUpdate      ErrorCode = 0x09
	ComponentNightlight  ErrorCode = 0x0A
	ComponentAmbient     ErrorCode = 0x0B
)

// ButtonState is the state carried in BUTTON_EVENT
type ButtonState uint8

// Button states
const (
	ButtonReleased ButtonState = 0
	ButtonPressed  ButtonState = 1
	ButtonHold     ButtonState = 2
	ButtonSingle   ButtonState = 3
	ButtonDouble   ButtonState = 4
	ButtonTriple   ButtonState = 5
)

// DeviceType is the node role carried in the TYPE field
type DeviceType uint8

// Device types
const (
	DeviceUnknown       DeviceType = 0x00
	DeviceLegacyRelais  DeviceType = 0x02
	DeviceLegacyLamps   DeviceType = 0x03
	DeviceButton        DeviceType = 0x04
	DeviceRelais        DeviceType = 0x05
	DeviceGateway       DeviceType = 0x06
	DeviceRollershutter DeviceType = 0x07
	DeviceSSR           DeviceType = 0x08
)

// Bitrate is the persisted bus bitrate preset
type Bitrate uint8

// Bitrate presets
const (
	Bitrate22222  Bitrate = 1
	Bitrate25000  Bitrate = 2
	Bitrate50000  Bitrate = 3
	Bitrate100000 Bitrate = 4

	DefaultBitrate = Bitrate50000
)

// RollershutterMode values
const (
	RollershutterSoftware uint8 = 1
	RollershutterHardware uint8 = 2
)

// Transport alert bits (TWAI controller layout, carried verbatim in
// DEVICE_ERROR frames)
const (
	AlertTxIdle             uint32 = 0x00000001
	AlertTxSuccess          uint32 = 0x00000002
	AlertRxData             uint32 = 0x00000004
	AlertBelowErrWarn       uint32 = 0x00000008
	AlertErrActive          uint32 = 0x00000010
	AlertRecoveryInProgress uint32 = 0x00000020
	AlertBusRecovered       uint32 = 0x00000040
	AlertArbLost            uint32 = 0x00000080
	AlertAboveErrWarn       uint32 = 0x00000100
	AlertBusError           uint32 = 0x00000200
	AlertTxFailed           uint32 = 0x00000400
	AlertRxQueueFull        uint32 = 0x00000800
	AlertErrPass            uint32 = 0x00001000
	AlertBusOff             uint32 = 0x00002000
	AlertRxFIFOOverrun      uint32 = 0x00004000

	// ReportedAlerts are the alerts a node reports on the bus
	ReportedAlerts = AlertRxQueueFull | AlertArbLost | AlertBusError
)
