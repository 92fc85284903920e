// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package button

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/sched"
)

// ============================================================
// State Machine Tests
// ============================================================

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		inputs []Input
		emits  []ican.ButtonState
		ops    []TimerOp
		final  ican.ButtonState
	}{
		{
			name:   "press",
			inputs: []Input{InputPressed},
			emits:  []ican.ButtonState{ican.ButtonPressed},
			ops:    []TimerOp{TimerKeep},
			final:  ican.ButtonPressed,
		},
		{
			name:   "single click",
			inputs: []Input{InputPressed, InputReleased, InputTimeout},
			emits:  []ican.ButtonState{ican.ButtonPressed, ican.ButtonSingle},
			ops:    []TimerOp{TimerKeep, TimerArm, TimerKeep},
			final:  ican.ButtonReleased,
		},
		{
			name:   "double click",
			inputs: []Input{InputPressed, InputReleased, InputPressed, InputReleased, InputTimeout},
			emits:  []ican.ButtonState{ican.ButtonPressed, ican.ButtonDouble},
			ops:    []TimerOp{TimerKeep, TimerArm, TimerKeep, TimerArm, TimerKeep},
			final:  ican.ButtonReleased,
		},
		{
			name:   "triple click",
			inputs: []Input{InputPressed, InputReleased, InputPressed, InputReleased, InputPressed, InputReleased},
			emits:  []ican.ButtonState{ican.ButtonPressed, ican.ButtonTriple},
			ops:    []TimerOp{TimerKeep, TimerArm, TimerKeep, TimerArm, TimerKeep, TimerCancel},
			final:  ican.ButtonReleased,
		},
		{
			name:   "hold and release",
			inputs: []Input{InputPressed, InputRepeat, InputRepeat, InputReleased},
			emits:  []ican.ButtonState{ican.ButtonPressed, ican.ButtonHold, ican.ButtonHold, ican.ButtonReleased},
			ops:    []TimerOp{TimerKeep, TimerKeep, TimerKeep, TimerKeep},
			final:  ican.ButtonReleased,
		},
		{
			name:   "release while released is ignored",
			inputs: []Input{InputReleased, InputRepeat, InputTimeout},
			emits:  nil,
			ops:    []TimerOp{TimerKeep, TimerKeep, TimerKeep},
			final:  ican.ButtonReleased,
		},
		{
			name:   "repeat during multi-click is ignored",
			inputs: []Input{InputPressed, InputReleased, InputRepeat},
			emits:  []ican.ButtonState{ican.ButtonPressed},
			ops:    []TimerOp{TimerKeep, TimerArm, TimerKeep},
			final:  ican.ButtonSingle,
		},
		{
			name:   "timeout while held is ignored",
			inputs: []Input{InputPressed, InputTimeout},
			emits:  []ican.ButtonState{ican.ButtonPressed},
			ops:    []TimerOp{TimerKeep, TimerKeep},
			final:  ican.ButtonPressed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(Hall1)
			var emits []ican.ButtonState
			var ops []TimerOp
			for _, in := range tt.inputs {
				ev, op := m.Step(in)
				if ev != nil {
					require.Equal(t, Hall1, ev.Button)
					emits = append(emits, ev.State)
				}
				ops = append(ops, op)
			}
			require.Equal(t, tt.emits, emits)
			require.Equal(t, tt.ops, ops)
			require.Equal(t, tt.final, m.State())
		})
	}
}

func TestMachine_HoldCount(t *testing.T) {
	m := NewMachine(Hall2)
	m.Step(InputPressed)
	var last *ican.ButtonEvent
	for i := 0; i < 5; i++ {
		last, _ = m.Step(InputRepeat)
	}
	require.Equal(t, uint16(5), last.Count)

	rel, _ := m.Step(InputReleased)
	require.Equal(t, ican.ButtonReleased, rel.State)
	require.Equal(t, uint16(5), rel.Count)

	// a new press resets the count
	press, _ := m.Step(InputPressed)
	require.Equal(t, uint16(0), press.Count)
}

// ============================================================
// Button Tests
// ============================================================

// eventSender collects BUTTON_EVENT payloads
type eventSender struct {
	mu     sync.Mutex
	events []ican.ButtonEvent
	times  []time.Time
}

func (s *eventSender) Send(msg ican.MsgID, data []byte, request bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == ican.MsgButtonEvent {
		s.events = append(s.events, ican.DecodeButtonEvent(data))
		s.times = append(s.times, time.Now())
	}
	return nil
}

func (s *eventSender) SendID(id uint32, data []byte, request bool) error {
	return s.Send(ican.MessageOf(id), data, request)
}

func (s *eventSender) states() []ican.ButtonState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ican.ButtonState, len(s.events))
	for i, e := range s.events {
		out[i] = e.State
	}
	return out
}

const testWindow = 60 * time.Millisecond

func startButton(t *testing.T) (*Button, *eventSender) {
	t.Helper()
	s := &eventSender{}
	b := New(Config{ID: Hall3, Sender: s, Scheduler: sched.New(), Window: testWindow})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, s
}

func TestButton_SingleClickAfterWindow(t *testing.T) {
	b, s := startButton(t)
	start := time.Now()
	b.Post(InputPressed)
	b.Post(InputReleased)

	require.Eventually(t, func() bool { return len(s.states()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []ican.ButtonState{ican.ButtonPressed, ican.ButtonSingle}, s.states())

	s.mu.Lock()
	elapsed := s.times[1].Sub(start)
	ev := s.events[1]
	s.mu.Unlock()
	require.GreaterOrEqual(t, elapsed, testWindow)
	require.Equal(t, Hall3, ev.Button)
}

func TestButton_DoubleClickRestartsWindow(t *testing.T) {
	b, s := startButton(t)
	b.Post(InputPressed)
	b.Post(InputReleased)
	time.Sleep(testWindow / 6)
	b.Post(InputPressed)
	b.Post(InputReleased)

	require.Eventually(t, func() bool { return len(s.states()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(2 * testWindow)
	require.Equal(t, []ican.ButtonState{ican.ButtonPressed, ican.ButtonDouble}, s.states())
}

func TestButton_TripleClickCancelsTimer(t *testing.T) {
	b, s := startButton(t)
	for i := 0; i < 3; i++ {
		b.Post(InputPressed)
		b.Post(InputReleased)
	}

	require.Eventually(t, func() bool { return len(s.states()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(3 * testWindow)
	require.Equal(t, []ican.ButtonState{ican.ButtonPressed, ican.ButtonTriple}, s.states())
}

func TestButton_StaleTimeoutDiscarded(t *testing.T) {
	b, s := startButton(t)
	b.Post(InputPressed)
	b.Post(InputReleased)
	// a timeout from an older window must not end the current one
	b.post(input{in: InputTimeout, gen: 0})

	time.Sleep(testWindow / 3)
	require.Equal(t, []ican.ButtonState{ican.ButtonPressed}, s.states())
	require.Eventually(t, func() bool { return len(s.states()) == 2 }, time.Second, time.Millisecond)
}

func TestButton_PostAfterStop(t *testing.T) {
	b := New(Config{ID: Hall1, Sender: &eventSender{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, b.Run(ctx))
	require.False(t, b.Post(InputPressed))
}

// ============================================================
// Edge Generator Tests
// ============================================================

func TestEdges_LongPressRepeats(t *testing.T) {
	b, s := startButton(t)
	e := NewEdges(b, sched.New(), 20*time.Millisecond, 10*time.Millisecond)

	e.Press()
	e.Press() // bounce ignored
	require.Eventually(t, func() bool { return len(s.states()) >= 4 }, time.Second, time.Millisecond)
	e.Release()

	require.Eventually(t, func() bool {
		st := s.states()
		return st[len(st)-1] == ican.ButtonReleased
	}, time.Second, time.Millisecond)

	st := s.states()
	require.Equal(t, ican.ButtonPressed, st[0])
	for _, state := range st[1 : len(st)-1] {
		require.Equal(t, ican.ButtonHold, state)
	}

	// no repeats after release
	n := len(st)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, s.states(), n)
}

func TestEdges_ShortPressIsClick(t *testing.T) {
	b, s := startButton(t)
	e := NewEdges(b, sched.New(), 200*time.Millisecond, 100*time.Millisecond)

	e.Press()
	e.Release()
	e.Release() // ignored

	require.Eventually(t, func() bool { return len(s.states()) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, []ican.ButtonState{ican.ButtonPressed, ican.ButtonSingle}, s.states())
}
