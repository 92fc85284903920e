// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package button

import "github.com/Thermoquad/ican/pkg/ican"

// Input drives the multi-click state machine
type Input int

// Machine inputs
const (
	InputPressed  Input = iota // debounced press edge
	InputReleased              // debounced release edge
	InputRepeat                // long-press or auto-repeat tick while held
	InputTimeout               // multi-click window expired
)

// String returns the input name
func (i Input) String() string {
	switch i {
	case InputPressed:
		return "pressed"
	case InputReleased:
		return "released"
	case InputRepeat:
		return "repeat"
	case InputTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// TimerOp tells the owner of a Machine what to do with the multi-click timer
type TimerOp int

// Timer operations
const (
	TimerKeep   TimerOp = iota // leave the timer as it is
	TimerArm                   // (re)start the multi-click window
	TimerCancel                // stop the timer
)

// Machine is the multi-click state machine of one button. It is not safe for
// concurrent use; a Button owns one and feeds it from a single goroutine.
type Machine struct {
	id    uint8
	state ican.ButtonState
	count uint16
}

// NewMachine creates a machine in the RELEASED state
func NewMachine(id uint8) *Machine {
	return &Machine{id: id, state: ican.ButtonReleased}
}

// State returns the current state
func (m *Machine) State() ican.ButtonState {
	return m.state
}

func (m *Machine) event(state ican.ButtonState) *ican.ButtonEvent {
	return &ican.ButtonEvent{Button: m.id, State: state, Count: m.count}
}

// Step applies one input. It returns the event to transmit, if any, and the
// timer operation the caller must perform.
func (m *Machine) Step(in Input) (*ican.ButtonEvent, TimerOp) {
	switch in {
	case InputPressed:
		if m.state == ican.ButtonReleased {
			m.state = ican.ButtonPressed
			m.count = 0
			return m.event(ican.ButtonPressed), TimerKeep
		}

	case InputReleased:
		switch m.state {
		case ican.ButtonPressed:
			m.state = ican.ButtonSingle
			return nil, TimerArm
		case ican.ButtonSingle:
			m.state = ican.ButtonDouble
			return nil, TimerArm
		case ican.ButtonDouble:
			m.state = ican.ButtonReleased
			return m.event(ican.ButtonTriple), TimerCancel
		case ican.ButtonHold:
			m.state = ican.ButtonReleased
			return m.event(ican.ButtonReleased), TimerKeep
		}

	case InputRepeat:
		if m.state == ican.ButtonPressed || m.state == ican.ButtonHold {
			m.state = ican.ButtonHold
			m.count++
			return m.event(ican.ButtonHold), TimerKeep
		}

	case InputTimeout:
		if m.state == ican.ButtonSingle || m.state == ican.ButtonDouble {
			ev := m.event(m.state)
			m.state = ican.ButtonReleased
			return ev, TimerKeep
		}
	}
	return nil, TimerKeep
}
