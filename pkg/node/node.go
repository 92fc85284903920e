// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node runs an ICAN bus participant: the receive loop, the
// acceptance filter, the handler dispatch chain and the update silence gate.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
)

// DefaultPollInterval bounds each receive wait so shutdown requests are
// noticed promptly
const DefaultPollInterval = 100 * time.Millisecond

// Transport moves frames between the node and the bus
type Transport interface {
	// Receive blocks until a frame arrives or ctx is done
	Receive(ctx context.Context) (ican.Frame, error)
	// Send blocks until the transport accepts the frame
	Send(f ican.Frame) error
	// Alerts returns and clears the pending alert bits
	Alerts() uint32
	Close() error
}

// Identity is the node's (device id, device type) pair
type Identity struct {
	ID   uint8
	Type uint8
}

// String formats the identity for logs
func (i Identity) String() string {
	return fmt.Sprintf("%d/%s", i.ID, ican.DeviceType(i.Type))
}

// Direction of an observed frame
type Direction int

// Frame directions
const (
	Rx Direction = iota
	Tx
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// Observer sees every frame the node receives or transmits. Observers run
// on the sending or receiving goroutine and must not block.
type Observer func(dir Direction, f ican.Frame)

// Config holds node settings
type Config struct {
	Identity Identity
	// FilterEnabled drops frames addressed to other nodes before dispatch
	FilterEnabled bool
	// PollInterval bounds each receive wait (DefaultPollInterval when zero)
	PollInterval time.Duration
	// Announce sends AVAILABLE{APPLICATION} when the loop starts
	Announce bool
}

// Counters is a snapshot of node traffic
type Counters struct {
	Received    uint64
	Transmitted uint64
	Filtered    uint64
	Silenced    uint64
	Alerts      uint64
}

// Node is a single bus participant
type Node struct {
	transport Transport
	cfg       Config

	mu        sync.RWMutex
	handlers  []ican.Handler
	observers []Observer

	silenced atomic.Bool

	received    atomic.Uint64
	transmitted atomic.Uint64
	filtered    atomic.Uint64
	dropped     atomic.Uint64
	alertFrames atomic.Uint64

	started  atomic.Bool
	stopReq  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a node on the given transport
func New(t Transport, cfg Config) *Node {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Node{
		transport: t,
		cfg:       cfg,
		done:      make(chan struct{}),
	}
}

// Identity returns the live identity. It does not change while running.
func (n *Node) Identity() Identity {
	return n.cfg.Identity
}

// Register appends a handler to the dispatch chain. Handlers are tried in
// registration order.
func (n *Node) Register(h ican.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, h)
}

// Observe adds a frame observer
func (n *Node) Observe(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, o)
}

// Silenced reports whether the update silence gate is closed
func (n *Node) Silenced() bool {
	return n.silenced.Load()
}

// Accepts reports whether the acceptance filter passes id
func (n *Node) Accepts(id uint32) bool {
	if !n.cfg.FilterEnabled {
		return true
	}
	return ican.IsBroadcast(id) || ican.MatchesIdentity(id, n.cfg.Identity.ID, n.cfg.Identity.Type)
}

// Route applies the acceptance filter and the silence flag, then runs the
// dispatch chain. It reports whether a handler claimed the frame.
func (n *Node) Route(f ican.Frame) bool {
	if !n.Accepts(f.ID) {
		n.filtered.Add(1)
		return false
	}
	if f.Msg() == ican.MsgUpdateSilence && !f.Request {
		on := f.Byte(0) != ican.SilenceOff
		if n.silenced.Swap(on) != on {
			glog.Infof("node %s: update silence %v", n.cfg.Identity, on)
		}
	}
	return n.Dispatch(f)
}

// Dispatch runs the handler chain without filtering
func (n *Node) Dispatch(f ican.Frame) bool {
	n.mu.RLock()
	handlers := n.handlers
	n.mu.RUnlock()

	for _, h := range handlers {
		if h.TryHandle(f) {
			return true
		}
	}
	return false
}

// Send transmits msg from the local identity
func (n *Node) Send(msg ican.MsgID, data []byte, request bool) error {
	return n.SendID(ican.Encode(n.cfg.Identity.ID, n.cfg.Identity.Type, msg), data, request)
}

// SendID transmits a frame with the given identifier. While silenced, frames
// whose message id is above FLASH_VERIFY are dropped without error.
func (n *Node) SendID(id uint32, data []byte, request bool) error {
	msg := ican.MessageOf(id)
	if n.silenced.Load() && msg > ican.SilenceThreshold {
		n.dropped.Add(1)
		glog.V(2).Infof("node %s: silenced, dropping %s", n.cfg.Identity, msg)
		return nil
	}

	f := ican.NewFrame(id, data, request)
	if err := n.transport.Send(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg, err)
	}
	n.transmitted.Add(1)
	n.notify(Tx, f)
	return nil
}

// ReportError broadcasts a DEVICE_ERROR frame. Send failures are logged.
func (n *Node) ReportError(e ican.DeviceError) {
	payload := e.Encode()
	if err := n.Send(ican.MsgDeviceError, payload[:], false); err != nil {
		glog.Errorf("node %s: failed to report %s: %v", n.cfg.Identity, e.Component, err)
	}
}

func (n *Node) notify(dir Direction, f ican.Frame) {
	n.mu.RLock()
	observers := n.observers
	n.mu.RUnlock()
	for _, o := range observers {
		o(dir, f)
	}
}

// Counters returns a snapshot of the traffic counters
func (n *Node) Counters() Counters {
	return Counters{
		Received:    n.received.Load(),
		Transmitted: n.transmitted.Load(),
		Filtered:    n.filtered.Load(),
		Silenced:    n.dropped.Load(),
		Alerts:      n.alertFrames.Load(),
	}
}

// Run is the receive loop. It returns nil after Shutdown or when ctx is
// done, and an error when the transport fails.
func (n *Node) Run(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return errors.New("node already running")
	}
	defer n.doneOnce.Do(func() { close(n.done) })

	glog.Infof("node %s: running (filter=%v)", n.cfg.Identity, n.cfg.FilterEnabled)
	if n.cfg.Announce {
		if err := n.Send(ican.MsgAvailable, []byte{byte(ican.Application)}, false); err != nil {
			glog.Warningf("node %s: announce failed: %v", n.cfg.Identity, err)
		}
	}

	for !n.stopReq.Load() {
		if ctx.Err() != nil {
			return nil
		}

		if alerts := n.transport.Alerts(); alerts&ican.ReportedAlerts != 0 {
			n.alertFrames.Add(1)
			glog.Warningf("node %s: bus alerts %s", n.cfg.Identity, ican.FormatAlerts(alerts))
			n.ReportError(ican.DeviceError{Component: ican.ComponentCAN, Alerts: alerts})
		}

		rctx, cancel := context.WithTimeout(ctx, n.cfg.PollInterval)
		f, err := n.transport.Receive(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			if n.stopReq.Load() {
				return nil
			}
			return fmt.Errorf("receive failed: %w", err)
		}

		n.received.Add(1)
		n.notify(Rx, f)
		if glog.V(1) {
			glog.Infof("node %s: rx %08X %s", n.cfg.Identity, f.ID, f.Msg())
		}
		n.Route(f)
	}
	glog.Infof("node %s: stopped", n.cfg.Identity)
	return nil
}

// Shutdown asks the receive loop to stop, waits for it, then closes the
// transport
func (n *Node) Shutdown(ctx context.Context) error {
	n.stopReq.Store(true)
	if n.started.Load() {
		select {
		case <-n.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for receive loop: %w", ctx.Err())
		}
	}
	if err := n.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
