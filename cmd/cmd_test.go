// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ican/pkg/device"
	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/node"
	"github.com/Thermoquad/ican/pkg/store"
)

// ============================================================
// Formatting Tests
// ============================================================

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{61 * time.Second, "1 minute and 1 second"},
		{90 * time.Minute, "1 hour and 30 minutes"},
		{26*time.Hour + 3*time.Minute, "1 day, 2 hours, and 3 minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, formatUptime(tt.in))
		})
	}
}

func TestDescribeDeviceError(t *testing.T) {
	canErr := ican.DeviceError{Component: ican.ComponentCAN, Alerts: ican.AlertBusOff}.Encode()
	f := ican.NewMessage(3, uint8(ican.DeviceRelais), ican.MsgDeviceError, canErr[:], false)
	msg := describeDeviceError(f)
	require.Contains(t, msg, "Relais/3 DEVICE_ERROR COMPONENT_CAN")
	require.Contains(t, msg, "BUS_OFF")

	relaisErr := ican.DeviceError{Component: ican.ComponentRelais, Code: 2}.Encode()
	f = ican.NewMessage(3, uint8(ican.DeviceRelais), ican.MsgDeviceError, relaisErr[:], false)
	require.Equal(t, "Relais/3 DEVICE_ERROR COMPONENT_RELAIS: code 2", describeDeviceError(f))
}

func TestDeviceSummary(t *testing.T) {
	st := store.NewMemory()
	require.NoError(t, st.SetU8(store.KeyID, 7))
	require.NoError(t, st.SetU8(store.KeyType, uint8(ican.DeviceRelais)))
	require.NoError(t, st.SetString(store.KeyCustomString, "hall"))

	summary := deviceSummary(st)
	require.Contains(t, summary, "APP VERSION: "+device.VersionString(Version)+"\n")
	require.Contains(t, summary, "Device ID: 7\n")
	require.Contains(t, summary, "Device Type: 5 (Relais)\n")
	require.Contains(t, summary, "Custom String: hall\n")
	require.Contains(t, summary, "CANBus bitrate: "+ican.DefaultBitrate.String()+"\n")
}

// ============================================================
// Argument Parsing Tests
// ============================================================

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    node.Identity
		wantErr bool
	}{
		{in: "relais/7", want: node.Identity{ID: 7, Type: uint8(ican.DeviceRelais)}},
		{in: "5/0x07", want: node.Identity{ID: 7, Type: uint8(ican.DeviceRelais)}},
		{in: "Button/12", want: node.Identity{ID: 12, Type: uint8(ican.DeviceButton)}},
		{in: "relais", wantErr: true},
		{in: "relais/0", wantErr: true},
		{in: "relais/256", wantErr: true},
		{in: "relais/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTarget(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseButtonSpecs(t *testing.T) {
	got, err := parseButtonSpecs([]string{"4", " 5:20 ", "6"})
	require.NoError(t, err)
	require.Equal(t, []buttonSpec{
		{offset: 4, id: 10},
		{offset: 5, id: 20},
		{offset: 6, id: 12},
	}, got)

	for _, bad := range [][]string{
		{"x"},
		{"-1"},
		{"3:zz"},
		{"4:11", "5"}, // second entry defaults to 11
	} {
		_, err := parseButtonSpecs(bad)
		require.Error(t, err, "%v", bad)
	}
}

func TestLoadIdentity(t *testing.T) {
	st := store.NewMemory()
	require.Equal(t, node.Identity{Type: uint8(ican.DeviceRelais)}, loadIdentity(st, ican.DeviceRelais))

	require.NoError(t, st.SetU8(store.KeyID, 9))
	require.NoError(t, st.SetU8(store.KeyType, uint8(ican.DeviceButton)))
	require.Equal(t, node.Identity{ID: 9, Type: uint8(ican.DeviceButton)}, loadIdentity(st, ican.DeviceRelais))
}

// ============================================================
// Discovery Tests
// ============================================================

func TestDiscoveredNodes_Collect(t *testing.T) {
	d := newDiscoveredNodes()

	require.Nil(t, d.collect(ican.NewMessage(7, 5, ican.MsgUptime, nil, true)))
	require.Nil(t, d.collect(ican.NewFrame(0x123, []byte{1}, false)))

	uptime := ican.EncodeUptime(90)
	uid := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frames := []ican.Frame{
		ican.NewMessage(7, 5, ican.MsgApplicationVersionString, []byte("2.1.0"), false),
		ican.NewMessage(7, 5, ican.MsgDeviceUID0, uid, false),
		ican.NewMessage(7, 5, ican.MsgUptime, uptime[:], false),
		ican.NewMessage(7, 5, ican.MsgAvailable, []byte{byte(ican.Application)}, false),
		ican.NewMessage(7, 5, ican.MsgHWRev, []byte{3}, false),
		ican.NewMessage(2, 5, ican.MsgAvailable, []byte{byte(ican.UpdateMode)}, false),
		ican.NewMessage(1, 4, ican.MsgCustomString, []byte("hall"), false),
	}
	for _, f := range frames {
		require.NotNil(t, d.collect(f))
	}

	nodes := d.sorted()
	require.Len(t, nodes, 3)
	require.Equal(t, []uint8{1, 2, 7}, []uint8{nodes[0].id, nodes[1].id, nodes[2].id})

	n := nodes[2]
	require.Equal(t, 5, n.frames)
	require.Equal(t, "2.1.0", n.version)
	require.True(t, n.hasUID)
	require.Equal(t, ican.UID{1, 2, 3, 4, 5, 6, 7, 8}, n.uid)
	require.Equal(t, uint32(90), n.uptime)
	require.Equal(t, ican.Application, n.availability)
	require.Equal(t, uint8(3), n.hwRev)

	require.Contains(t, n.String(), "Uptime:        1 hour and 30 minutes")
	require.Equal(t, "hall", nodes[0].customString)
	require.Equal(t, ican.UpdateMode, nodes[1].availability)
}

// ============================================================
// Control Model Tests
// ============================================================

func TestControlModel_ProcessFrame(t *testing.T) {
	m := initialControlModel(nil, "test")

	m.processFrame(ican.NewMessage(7, 5, ican.MsgApplicationVersionString, []byte("2.1.0"), false))
	require.Len(t, m.devices, 1)
	require.Equal(t, "Relais/7", m.devices[0].Title())
	require.Equal(t, "2.1.0", m.devices[0].Description())

	// requests and legacy frames do not add nodes
	m.processFrame(ican.NewMessage(8, 5, ican.MsgUptime, nil, true))
	m.processFrame(ican.NewFrame(0x123, nil, false))
	require.Len(t, m.devices, 1)

	// RELAIS updates known nodes only
	on := ican.Relais{Number: 2, State: 1}.Encode()
	m.processFrame(ican.NewMessage(7, 5, ican.MsgRelais, on[:], false))
	m.processFrame(ican.NewMessage(9, 5, ican.MsgRelais, on[:], false))
	require.Len(t, m.devices, 1)
	require.Equal(t, map[uint8]bool{2: true}, m.devices[0].outputs)

	m.processBatch(controlBatchMsg{decodeErrors: 2, alerts: ican.AlertBusOff})
	require.Equal(t, uint64(2), m.stats.DecodeErrors)
	require.Contains(t, m.errorLog[len(m.errorLog)-1].message, "BUS_OFF")
}

func TestControlModel_Discovery(t *testing.T) {
	m := initialControlModel(nil, "test")
	now := time.Now()

	m.discoveryStarted = now.Add(-2 * time.Second)
	require.False(t, m.discoveryQuiet(now))
	m.discoveryStarted = now.Add(-4 * time.Second)
	require.True(t, m.discoveryQuiet(now))

	m.processFrame(ican.NewMessage(7, 5, ican.MsgAvailable, []byte{1}, false))
	m.processFrame(ican.NewMessage(1, 4, ican.MsgAvailable, []byte{1}, false))
	m.processFrame(ican.NewMessage(2, 5, ican.MsgAvailable, []byte{1}, false))
	require.False(t, m.discoveryQuiet(time.Now()))

	m.finishDiscovery()
	require.True(t, m.discoveryDone)
	require.Equal(t, []string{"Button/1", "Relais/2", "Relais/7"},
		[]string{m.devices[0].name(), m.devices[1].name(), m.devices[2].name()})

	// button nodes have no output controls
	require.Equal(t, "Button/1", m.getSelectedDevice().name())
	m.cycleFocus(1)
	require.Equal(t, focusRestartButton, m.focusedField)
	m.cycleFocus(1)
	require.Equal(t, focusDeviceList, m.focusedField)

	m.deviceList.Select(1)
	m.cycleFocus(1)
	require.Equal(t, focusOutputInput, m.focusedField)

	m.resetDiscovery()
	require.False(t, m.discoveryDone)
	require.Empty(t, m.devices)
	require.Nil(t, m.getSelectedDevice())
}

func TestControlModel_OutputNumber(t *testing.T) {
	m := initialControlModel(nil, "test")

	num, err := m.outputNumber()
	require.NoError(t, err)
	require.Equal(t, uint8(0), num)

	m.outputInput.SetValue("6")
	num, err = m.outputNumber()
	require.NoError(t, err)
	require.Equal(t, uint8(6), num)

	m.outputInput.SetValue("7")
	_, err = m.outputNumber()
	require.Error(t, err)
}
