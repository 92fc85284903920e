// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package relais switches relay outputs on RELAIS messages.
package relais

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
)

// MaxOutputs is the number of outputs of a relay board
const MaxOutputs = 7

// MaxBanks is the number of banks whose state is tracked
const MaxBanks = 1

// Outputs drives the physical relay lines
type Outputs interface {
	Set(num uint8, on bool) error
	Close() error
}

// Reporter receives output failures
type Reporter interface {
	ReportError(e ican.DeviceError)
}

// Handler applies RELAIS frames to Outputs
type Handler struct {
	outputs  Outputs
	reporter Reporter

	mu    sync.Mutex
	state [MaxBanks]uint16
}

// New creates a relay handler. reporter may be nil.
func New(outputs Outputs, reporter Reporter) *Handler {
	return &Handler{outputs: outputs, reporter: reporter}
}

// TryHandle claims RELAIS frames. Requests are claimed without an answer.
func (h *Handler) TryHandle(f ican.Frame) bool {
	if f.Msg() != ican.MsgRelais {
		return false
	}
	if f.Request {
		return true
	}

	r := ican.DecodeRelais(f.Payload())
	if r.Time != 0 {
		glog.V(1).Infof("relais: time %d on output %d ignored", r.Time, r.Number)
	}
	if err := h.Set(r.Bank, r.Number, r.State != 0); err != nil {
		glog.Errorf("relais: %v", err)
		if h.reporter != nil {
			h.reporter.ReportError(ican.DeviceError{Component: ican.ComponentRelais, Code: r.Number})
		}
	}
	return true
}

// Set switches output num. Numbers past MaxOutputs are ignored.
func (h *Handler) Set(bank, num uint8, on bool) error {
	if num >= MaxOutputs {
		glog.V(1).Infof("relais: output %d out of range", num)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.outputs.Set(num, on); err != nil {
		return fmt.Errorf("failed to switch output %d: %w", num, err)
	}
	if int(bank) < MaxBanks {
		if on {
			h.state[bank] |= 1 << num
		} else {
			h.state[bank] &^= 1 << num
		}
	}
	glog.V(1).Infof("relais: bank %d output %d -> %t", bank, num, on)
	return nil
}

// State reports the last value written to output num of bank
func (h *Handler) State(bank, num uint8) bool {
	if int(bank) >= MaxBanks || num >= MaxOutputs {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state[bank]&(1<<num) != 0
}

// Memory is an Outputs that only records levels
type Memory struct {
	mu     sync.Mutex
	levels [MaxOutputs]bool
}

// Set records the level of num
func (m *Memory) Set(num uint8, on bool) error {
	if num >= MaxOutputs {
		return fmt.Errorf("output %d out of range", num)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[num] = on
	return nil
}

// Level returns the recorded level of num
func (m *Memory) Level(num uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[num]
}

// Close does nothing
func (m *Memory) Close() error {
	return nil
}
