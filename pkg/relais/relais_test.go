// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relais

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ican/pkg/ican"
)

type failingOutputs struct{}

func (failingOutputs) Set(num uint8, on bool) error { return errors.New("line busy") }
func (failingOutputs) Close() error                 { return nil }

type reporter struct {
	errors []ican.DeviceError
}

func (r *reporter) ReportError(e ican.DeviceError) {
	r.errors = append(r.errors, e)
}

func relaisFrame(r ican.Relais, request bool) ican.Frame {
	payload := r.Encode()
	return ican.NewMessage(3, uint8(ican.DeviceRelais), ican.MsgRelais, payload[:], request)
}

// ============================================================
// Handler Tests
// ============================================================

func TestHandler_Switch(t *testing.T) {
	tests := []struct {
		name  string
		frame ican.Relais
		level bool
	}{
		{"on", ican.Relais{Number: 2, State: 1}, true},
		{"any non-zero is on", ican.Relais{Number: 2, State: 0x80}, true},
		{"off", ican.Relais{Number: 2, State: 0}, false},
		{"time is ignored", ican.Relais{Number: 2, State: 1, Time: 5000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &Memory{}
			h := New(out, nil)
			require.True(t, h.TryHandle(relaisFrame(tt.frame, false)))
			require.Equal(t, tt.level, out.Level(2))
			require.Equal(t, tt.level, h.State(0, 2))
		})
	}
}

func TestHandler_OutOfRange(t *testing.T) {
	out := &Memory{}
	r := &reporter{}
	h := New(out, r)

	require.True(t, h.TryHandle(relaisFrame(ican.Relais{Number: MaxOutputs, State: 1}, false)))
	require.False(t, h.State(0, MaxOutputs))
	require.Empty(t, r.errors)
}

func TestHandler_OtherBank(t *testing.T) {
	out := &Memory{}
	h := New(out, nil)

	// the line is driven, bank state is only tracked for bank 0
	require.True(t, h.TryHandle(relaisFrame(ican.Relais{Number: 1, State: 1, Bank: 3}, false)))
	require.True(t, out.Level(1))
	require.False(t, h.State(3, 1))
	require.False(t, h.State(0, 1))
}

func TestHandler_RequestNotAnswered(t *testing.T) {
	out := &Memory{}
	h := New(out, nil)

	require.True(t, h.TryHandle(relaisFrame(ican.Relais{Number: 0, State: 1}, true)))
	require.False(t, out.Level(0))
}

func TestHandler_ShortPayload(t *testing.T) {
	out := &Memory{}
	h := New(out, nil)
	f := ican.NewMessage(3, uint8(ican.DeviceRelais), ican.MsgRelais, []byte{4, 1}, false)

	require.True(t, h.TryHandle(f))
	require.True(t, out.Level(4))
}

func TestHandler_IgnoresOtherMessages(t *testing.T) {
	h := New(&Memory{}, nil)
	for _, msg := range []ican.MsgID{ican.MsgRelaisState, ican.MsgAvailable, ican.MsgButtonEvent} {
		f := ican.NewMessage(3, uint8(ican.DeviceRelais), msg, []byte{0, 1}, false)
		require.False(t, h.TryHandle(f), msg.String())
	}
}

func TestHandler_OutputFailureReported(t *testing.T) {
	r := &reporter{}
	h := New(failingOutputs{}, r)

	require.True(t, h.TryHandle(relaisFrame(ican.Relais{Number: 5, State: 1}, false)))
	require.Equal(t, []ican.DeviceError{{Component: ican.ComponentRelais, Code: 5}}, r.errors)
	require.False(t, h.State(0, 5))
}

func TestMemory_OutOfRange(t *testing.T) {
	require.Error(t, (&Memory{}).Set(MaxOutputs, true))
}
