// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

import (
	"fmt"
	"strconv"
	"strings"
)

// String returns the wire-catalogue name of a message id
func (m MsgID) String() string {
	switch m {
	// Core (0-20)
	case MsgAvailable:
		return "AVAILABLE"
	case MsgDeviceError:
		return "DEVICE_ERROR"
	case MsgRestart:
		return "RESTART"
	case MsgDeviceUID0:
		return "DEVICE_UID0"
	case MsgDeviceUID1:
		return "DEVICE_UID1"
	case MsgDeviceIDType:
		return "DEVICE_ID_TYPE"
	case MsgDeviceGroup:
		return "DEVICE_GROUP"
	case MsgApplicationVersion:
		return "APPLICATION_VERSION"
	case MsgBaudrate:
		return "BAUDRATE"
	case MsgUptime:
		return "UPTIME"
	case MsgCustomString:
		return "CUSTOM_STRING"
	case MsgPWMFrequency:
		return "PWM_FREQUENCY"
	case MsgRequestParameter:
		return "REQUEST_PARAMETER"
	case MsgApplicationVersionString:
		return "APPLICATION_VERSION_STRING"
	case MsgUpdateSilence:
		return "UPDATE_SILENCE"
	case MsgFlashSelect:
		return "FLASH_SELECT"
	case MsgFlashErase:
		return "FLASH_ERASE"
	case MsgFlashRead:
		return "FLASH_READ"
	case MsgFlashWrite:
		return "FLASH_WRITE"
	case MsgFlashVerify:
		return "FLASH_VERIFY"

	// Inputs and hardware
	case MsgButtonEvent:
		return "BUTTON_EVENT"
	case MsgTemperatureSensor:
		return "TEMPERATURE_SENSOR"
	case MsgHWRev:
		return "HW_REV"
	case MsgSensorLegacyMode:
		return "SENSOR_LEGACY_MODE"
	case MsgLampGroup:
		return "LAMP_GROUP"

	// Application (128+)
	case MsgPIRSensor:
		return "PIR_SENSOR"
	case MsgHumiditySensor:
		return "HUMIDITY_SENSOR"
	case MsgRelais:
		return "RELAIS"
	case MsgRelaisState:
		return "RELAIS_STATE"
	case MsgRollershutter:
		return "ROLLERSHUTTER"
	case MsgRollershutterState:
		return "ROLLERSHUTTER_STATE"
	case MsgRollershutterMode:
		return "ROLLERSHUTTER_MODE"
	case MsgAmbientLightSensor:
		return "AMBIENT_LIGHT_SENSOR"
	case MsgAmbientLightSensorWhite:
		return "AMBIENT_LIGHT_SENSOR_WHITE"
	case MsgNightlight:
		return "NIGHTLIGHT"
	case MsgPressureSensor:
		return "PRESSURE_SENSOR"
	case MsgCO2Equivalent:
		return "CO2_EQUIVALENT"
	case MsgVOCBreath:
		return "VOC_BREATH"
	case MsgAirQuality:
		return "AIR_QUALITY"
	case MsgLogDownload:
		return "LOG_DOWNLOAD"
	case MsgPing:
		return "PING"
	case MsgPingDisable:
		return "PING_DISABLE"

	default:
		return fmt.Sprintf("MSG_%d", uint8(m))
	}
}

var deviceTypeNames = map[DeviceType]string{
	DeviceUnknown:       "Unknown",
	DeviceLegacyRelais:  "LegacyRelais",
	DeviceLegacyLamps:   "LegacyLamps",
	DeviceButton:        "Button",
	DeviceRelais:        "Relais",
	DeviceGateway:       "Gateway",
	DeviceRollershutter: "Rollershutter",
	DeviceSSR:           "SSR",
}

// String returns the device type name
func (t DeviceType) String() string {
	if name, ok := deviceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type%d", uint8(t))
}

// ParseDeviceType accepts a device type name (case-insensitive) or a number
func ParseDeviceType(s string) (DeviceType, error) {
	for t, name := range deviceTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown device type %q", s)
	}
	if n > IDTypeMask>>idTypeShift {
		return 0, fmt.Errorf("device type %d exceeds 6 bits", n)
	}
	return DeviceType(n), nil
}

var bitrateNames = map[Bitrate]string{
	Bitrate22222:  "b22_222",
	Bitrate25000:  "b25",
	Bitrate50000:  "b50",
	Bitrate100000: "b100",
}

var bitrateBPS = map[Bitrate]int{
	Bitrate22222:  22222,
	Bitrate25000:  25000,
	Bitrate50000:  50000,
	Bitrate100000: 100000,
}

// String returns the preset name (b22_222, b25, b50, b100)
func (b Bitrate) String() string {
	if name, ok := bitrateNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bitrate%d", uint8(b))
}

// Valid reports whether b is a known preset
func (b Bitrate) Valid() bool {
	_, ok := bitrateBPS[b]
	return ok
}

// BitsPerSecond returns the nominal bus speed, or 0 for unknown presets
func (b Bitrate) BitsPerSecond() int {
	return bitrateBPS[b]
}

// BitrateFromBPS maps a bus speed onto a preset
func BitrateFromBPS(bps int) (Bitrate, error) {
	for b, v := range bitrateBPS {
		if v == bps {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unsupported bitrate %d", bps)
}

// ParseBitrate accepts a preset name, a preset number (1-4) or a speed in
// bits per second
func ParseBitrate(s string) (Bitrate, error) {
	for b, name := range bitrateNames {
		if strings.EqualFold(name, s) {
			return b, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown bitrate %q", s)
	}
	if b := Bitrate(n); n > 0 && n < 256 && b.Valid() {
		return b, nil
	}
	if b, err := BitrateFromBPS(n); err == nil {
		return b, nil
	}
	// kbit/s shorthand
	return BitrateFromBPS(n * 1000)
}

// String returns the button state name
func (s ButtonState) String() string {
	switch s {
	case ButtonReleased:
		return "RELEASED"
	case ButtonPressed:
		return "PRESSED"
	case ButtonHold:
		return "HOLD"
	case ButtonSingle:
		return "SINGLE"
	case ButtonDouble:
		return "DOUBLE"
	case ButtonTriple:
		return "TRIPLE"
	default:
		return fmt.Sprintf("STATE_%d", uint8(s))
	}
}

// String returns the error or component name
func (c ErrorCode) String() string {
	switch c {
	case ErrorFlashOverrun:
		return "FLASH_OVERRUN"
	case ErrorNoConfig:
		return "NO_CONFIG"
	case ErrorDeviceIDType:
		return "DEVICE_ID_TYPE"
	case ErrorFirmwareCorrupt:
		return "FIRMWARE_CORRUPT"
	case ComponentCAN:
		return "COMPONENT_CAN"
	case ComponentLight:
		return "COMPONENT_LIGHT"
	case ComponentRelais:
		return "COMPONENT_RELAIS"
	case ComponentMain:
		return "COMPONENT_MAIN"
	case ComponentUpdate:
		return "COMPONENT_UPDATE"
	case ComponentNightlight:
		return "COMPONENT_NIGHTLIGHT"
	case ComponentAmbient:
		return "COMPONENT_AMBIENT"
	default:
		return fmt.Sprintf("ERROR_0x%02X", uint8(c))
	}
}

// String returns the availability name
func (a Availability) String() string {
	switch a {
	case NotReady:
		return "NOT_READY"
	case Application:
		return "APPLICATION"
	case UpdateMode:
		return "UPDATE"
	default:
		return fmt.Sprintf("AVAILABLE_%d", uint8(a))
	}
}

// FormatAlerts lists the names of the set alert bits
func FormatAlerts(alerts uint32) string {
	names := []struct {
		bit  uint32
		name string
	}{
		{AlertTxIdle, "TX_IDLE"},
		{AlertTxSuccess, "TX_SUCCESS"},
		{AlertRxData, "RX_DATA"},
		{AlertBelowErrWarn, "BELOW_ERR_WARN"},
		{AlertErrActive, "ERR_ACTIVE"},
		{AlertRecoveryInProgress, "RECOVERY_IN_PROGRESS"},
		{AlertBusRecovered, "BUS_RECOVERED"},
		{AlertArbLost, "ARB_LOST"},
		{AlertAboveErrWarn, "ABOVE_ERR_WARN"},
		{AlertBusError, "BUS_ERROR"},
		{AlertTxFailed, "TX_FAILED"},
		{AlertRxQueueFull, "RX_QUEUE_FULL"},
		{AlertErrPass, "ERR_PASS"},
		{AlertBusOff, "BUS_OFF"},
		{AlertRxFIFOOverrun, "RX_FIFO_OVERRUN"},
	}
	var parts []string
	for _, n := range names {
		if alerts&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
