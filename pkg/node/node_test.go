// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ican/pkg/ican"
)

// fakeTransport feeds queued frames to the node and records sends
type fakeTransport struct {
	rx chan ican.Frame

	mu     sync.Mutex
	sent   []ican.Frame
	alerts uint32
	closed bool
	err    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rx: make(chan ican.Frame, 16)}
}

func (t *fakeTransport) Receive(ctx context.Context) (ican.Frame, error) {
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()
	if err != nil {
		return ican.Frame{}, err
	}
	select {
	case f := <-t.rx:
		return f, nil
	case <-ctx.Done():
		return ican.Frame{}, ctx.Err()
	}
}

func (t *fakeTransport) Send(f ican.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, f)
	return nil
}

func (t *fakeTransport) Alerts() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.alerts
	t.alerts = 0
	return a
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) Sent() []ican.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ican.Frame(nil), t.sent...)
}

// recorder is a handler that records frames and claims by message id
type recorder struct {
	mu     sync.Mutex
	name   string
	claim  map[ican.MsgID]bool
	frames []ican.Frame
	log    *[]string
}

func (r *recorder) TryHandle(f ican.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	if r.log != nil {
		*r.log = append(*r.log, r.name)
	}
	return r.claim[f.Msg()]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

var local = Identity{ID: 7, Type: uint8(ican.DeviceButton)}

// ============================================================
// Filter Tests
// ============================================================

func TestRoute_Filter(t *testing.T) {
	tests := []struct {
		name     string
		filter   bool
		id       uint32
		expected bool
	}{
		{"filter off accepts foreign", false, ican.Encode(9, 5, ican.MsgRelais), true},
		{"filter off accepts legacy", false, 0x123, true},
		{"broadcast", true, ican.Encode(0, 5, ican.MsgRequestParameter), true},
		{"exact identity", true, ican.Encode(7, uint8(ican.DeviceButton), ican.MsgRestart), true},
		{"same id other type", true, ican.Encode(7, 5, ican.MsgRestart), false},
		{"other id same type", true, ican.Encode(8, uint8(ican.DeviceButton), ican.MsgRestart), false},
		{"legacy with filter", true, 0x00000700, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(newFakeTransport(), Config{Identity: local, FilterEnabled: tt.filter})
			r := &recorder{}
			n.Register(r)
			n.Route(ican.NewFrame(tt.id, nil, false))
			if got := r.count() == 1; got != tt.expected {
				t.Errorf("expected handler invoked=%v, got %v", tt.expected, got)
			}
		})
	}
}

// ============================================================
// Dispatch Chain Tests
// ============================================================

func TestDispatch_FirstClaimWins(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local})
	var order []string
	a := &recorder{name: "a", log: &order}
	b := &recorder{name: "b", log: &order, claim: map[ican.MsgID]bool{ican.MsgUptime: true}}
	c := &recorder{name: "c", log: &order}
	n.Register(a)
	n.Register(b)
	n.Register(c)

	require.True(t, n.Route(ican.NewMessage(7, 4, ican.MsgUptime, nil, true)))
	require.Equal(t, []string{"a", "b"}, order)

	order = order[:0]
	require.False(t, n.Route(ican.NewMessage(7, 4, ican.MsgHWRev, nil, true)))
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestDispatch_EmptyChain(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local})
	require.False(t, n.Route(ican.NewMessage(7, 4, ican.MsgPing, nil, false)))
}

// ============================================================
// Silence Tests
// ============================================================

func TestSilence_GatesSend(t *testing.T) {
	tr := newFakeTransport()
	n := New(tr, Config{Identity: local, FilterEnabled: true})

	n.Route(ican.NewMessage(0, 0, ican.MsgUpdateSilence, []byte{ican.SilenceOn}, false))
	require.True(t, n.Silenced())

	for _, msg := range []ican.MsgID{ican.MsgAvailable, ican.MsgDeviceError, ican.MsgFlashVerify, ican.MsgButtonEvent, ican.MsgRelais, 21} {
		require.NoError(t, n.Send(msg, []byte{1}, false))
	}
	var sent []ican.MsgID
	for _, f := range tr.Sent() {
		sent = append(sent, f.Msg())
	}
	require.Equal(t, []ican.MsgID{ican.MsgAvailable, ican.MsgDeviceError, ican.MsgFlashVerify}, sent)
	require.Equal(t, uint64(3), n.Counters().Silenced)

	n.Route(ican.NewMessage(0, 0, ican.MsgUpdateSilence, []byte{ican.SilenceOff}, false))
	require.False(t, n.Silenced())
	require.NoError(t, n.Send(ican.MsgButtonEvent, nil, false))
	require.Len(t, tr.Sent(), 4)
}

func TestSilence_MissingByteTurnsOff(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local})
	n.Route(ican.NewMessage(0, 0, ican.MsgUpdateSilence, []byte{1}, false))
	n.Route(ican.NewMessage(0, 0, ican.MsgUpdateSilence, nil, false))
	require.False(t, n.Silenced())
}

func TestSilence_IgnoredWhenFiltered(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local, FilterEnabled: true})
	n.Route(ican.NewMessage(9, 5, ican.MsgUpdateSilence, []byte{1}, false))
	require.False(t, n.Silenced())
}

func TestSilence_StillDispatched(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local})
	r := &recorder{}
	n.Register(r)
	n.Route(ican.NewMessage(0, 0, ican.MsgUpdateSilence, []byte{1}, false))
	require.Equal(t, 1, r.count())
}

// ============================================================
// Receive Loop Tests
// ============================================================

func TestRun_AnnouncesAndDispatches(t *testing.T) {
	tr := newFakeTransport()
	n := New(tr, Config{Identity: local, FilterEnabled: true, Announce: true, PollInterval: 5 * time.Millisecond})
	r := &recorder{}
	n.Register(r)

	var observed []Direction
	var omu sync.Mutex
	n.Observe(func(dir Direction, f ican.Frame) {
		omu.Lock()
		observed = append(observed, dir)
		omu.Unlock()
	})

	errc := make(chan error, 1)
	go func() { errc <- n.Run(context.Background()) }()

	tr.rx <- ican.NewMessage(7, uint8(ican.DeviceButton), ican.MsgPing, nil, false)
	tr.rx <- ican.NewMessage(3, uint8(ican.DeviceButton), ican.MsgPing, nil, false)
	require.Eventually(t, func() bool { return n.Counters().Received == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Shutdown(ctx))
	require.NoError(t, <-errc)

	require.Equal(t, 1, r.count())
	require.Equal(t, uint64(1), n.Counters().Filtered)

	sent := tr.Sent()
	require.NotEmpty(t, sent)
	require.Equal(t, ican.MsgAvailable, sent[0].Msg())
	require.Equal(t, []byte{byte(ican.Application)}, sent[0].Payload())

	omu.Lock()
	require.Equal(t, []Direction{Tx, Rx, Rx}, observed)
	omu.Unlock()

	tr.mu.Lock()
	require.True(t, tr.closed)
	tr.mu.Unlock()
}

func TestRun_ReportsAlerts(t *testing.T) {
	tr := newFakeTransport()
	tr.alerts = ican.AlertBusError | ican.AlertTxSuccess
	n := New(tr, Config{Identity: local, PollInterval: 5 * time.Millisecond})

	go n.Run(context.Background())
	require.Eventually(t, func() bool { return len(tr.Sent()) == 1 }, time.Second, time.Millisecond)

	f := tr.Sent()[0]
	require.Equal(t, ican.MsgDeviceError, f.Msg())
	e := ican.DecodeDeviceError(f.Payload())
	require.Equal(t, ican.ComponentCAN, e.Component)
	require.Equal(t, ican.AlertBusError|ican.AlertTxSuccess, e.Alerts)

	// unreported alerts alone produce nothing
	tr.mu.Lock()
	tr.alerts = ican.AlertTxIdle
	tr.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	require.Len(t, tr.Sent(), 1)

	require.NoError(t, n.Shutdown(context.Background()))
}

func TestRun_TransportError(t *testing.T) {
	tr := newFakeTransport()
	tr.err = errors.New("adapter unplugged")
	n := New(tr, Config{Identity: local})
	err := n.Run(context.Background())
	require.ErrorContains(t, err, "adapter unplugged")
}

func TestRun_ContextCancel(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRun_Twice(t *testing.T) {
	n := New(newFakeTransport(), Config{Identity: local, PollInterval: 5 * time.Millisecond})
	go n.Run(context.Background())
	require.Eventually(t, func() bool { return n.started.Load() }, time.Second, time.Millisecond)
	require.Error(t, n.Run(context.Background()))
	require.NoError(t, n.Shutdown(context.Background()))
}

func TestShutdown_NotStarted(t *testing.T) {
	tr := newFakeTransport()
	n := New(tr, Config{Identity: local})
	require.NoError(t, n.Shutdown(context.Background()))
	require.True(t, tr.closed)
}

func TestReportError(t *testing.T) {
	tr := newFakeTransport()
	n := New(tr, Config{Identity: local})
	n.ReportError(ican.DeviceError{Component: ican.ErrorNoConfig})
	sent := tr.Sent()
	require.Len(t, sent, 1)
	require.True(t, ican.MatchesIdentity(sent[0].ID, local.ID, local.Type))
	require.Equal(t, ican.ErrorNoConfig, ican.DecodeDeviceError(sent[0].Payload()).Component)
}
