// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package button turns debounced button edges into BUTTON_EVENT frames with
// press, hold, release and single/double/triple click detection.
package button

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/sched"
)

// Button ids of the standard panel inputs
const (
	Hall1 uint8 = 10
	Hall2 uint8 = 11
	Hall3 uint8 = 12
)

// DefaultMultiClickWindow is the time allowed between releases of a
// multi-click
const DefaultMultiClickWindow = 250 * time.Millisecond

// inputQueueLen bounds the per-button input backlog
const inputQueueLen = 32

// Config configures a Button
type Config struct {
	ID     uint8
	Sender ican.Sender
	// Scheduler runs the multi-click timer; shared between buttons
	Scheduler *sched.Scheduler
	// Window is the multi-click window (DefaultMultiClickWindow when zero)
	Window time.Duration
}

type input struct {
	in  Input
	gen uint64
}

// Button owns one Machine. Edges and timer expiries are queued and applied
// by Run, one at a time.
type Button struct {
	id     uint8
	sender ican.Sender
	sched  *sched.Scheduler
	window time.Duration
	key    string

	inputs chan input
	done   chan struct{}

	// owned by Run
	machine *Machine
	gen     uint64
}

// New creates a button
func New(cfg Config) *Button {
	if cfg.Window <= 0 {
		cfg.Window = DefaultMultiClickWindow
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.New()
	}
	return &Button{
		id:      cfg.ID,
		sender:  cfg.Sender,
		sched:   cfg.Scheduler,
		window:  cfg.Window,
		key:     fmt.Sprintf("button-%d", cfg.ID),
		inputs:  make(chan input, inputQueueLen),
		done:    make(chan struct{}),
		machine: NewMachine(cfg.ID),
	}
}

// ID returns the button id
func (b *Button) ID() uint8 {
	return b.id
}

// Post queues an edge. It blocks while the queue is full and returns false
// once the button has stopped.
func (b *Button) Post(in Input) bool {
	return b.post(input{in: in})
}

func (b *Button) post(i input) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.inputs <- i:
		return true
	case <-b.done:
		return false
	}
}

// Run applies queued inputs until ctx is done
func (b *Button) Run(ctx context.Context) error {
	defer close(b.done)
	defer b.sched.Cancel(b.key)

	for {
		select {
		case <-ctx.Done():
			return nil
		case i := <-b.inputs:
			b.apply(i)
		}
	}
}

func (b *Button) apply(i input) {
	if i.in == InputTimeout && i.gen != b.gen {
		glog.V(2).Infof("button %d: stale timeout discarded", b.id)
		return
	}

	ev, op := b.machine.Step(i.in)
	switch op {
	case TimerArm:
		b.gen++
		gen := b.gen
		b.sched.Schedule(b.key, b.window, func() {
			b.post(input{in: InputTimeout, gen: gen})
		})
	case TimerCancel:
		b.gen++
		b.sched.Cancel(b.key)
	}

	if ev == nil {
		return
	}
	glog.V(1).Infof("button %d: %s (count %d)", b.id, ev.State, ev.Count)
	payload := ev.Encode()
	if err := b.sender.Send(ican.MsgButtonEvent, payload[:], false); err != nil {
		glog.Errorf("button %d: failed to send %s: %v", b.id, ev.State, err)
	}
}
