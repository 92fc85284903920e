// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/ican/pkg/ican"
)

// VirtualBus is an in-process CAN bus. Every frame sent by one endpoint is
// delivered to every other open endpoint, in send order.
type VirtualBus struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
	queueLen  int
}

// NewVirtualBus creates a bus whose endpoints buffer up to queueLen frames
// (DefaultRxQueueLen when zero)
func NewVirtualBus(queueLen int) *VirtualBus {
	if queueLen <= 0 {
		queueLen = DefaultRxQueueLen
	}
	return &VirtualBus{
		endpoints: make(map[*Endpoint]struct{}),
		queueLen:  queueLen,
	}
}

// Endpoint attaches a new participant to the bus
func (b *VirtualBus) Endpoint(name string) *Endpoint {
	e := &Endpoint{
		name:   name,
		bus:    b,
		frames: make(chan ican.Frame, b.queueLen),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *VirtualBus) deliver(from *Endpoint, f ican.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := range b.endpoints {
		if e == from {
			continue
		}
		select {
		case e.frames <- f:
		default:
			e.alerts.Or(ican.AlertRxQueueFull)
		}
	}
}

func (b *VirtualBus) detach(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, e)
}

// Endpoint is one participant on a VirtualBus. It implements node.Transport.
type Endpoint struct {
	name   string
	bus    *VirtualBus
	frames chan ican.Frame
	alerts atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// Name returns the endpoint name
func (e *Endpoint) Name() string {
	return e.name
}

// Receive implements node.Transport
func (e *Endpoint) Receive(ctx context.Context) (ican.Frame, error) {
	select {
	case f := <-e.frames:
		return f, nil
	case <-e.done:
		return ican.Frame{}, ErrClosed
	case <-ctx.Done():
		return ican.Frame{}, ctx.Err()
	}
}

// Send implements node.Transport
func (e *Endpoint) Send(f ican.Frame) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	e.bus.deliver(e, f)
	return nil
}

// Alerts implements node.Transport
func (e *Endpoint) Alerts() uint32 {
	return e.alerts.Swap(0)
}

// RaiseAlerts sets alert bits as if the controller had reported them
func (e *Endpoint) RaiseAlerts(bits uint32) {
	e.alerts.Or(bits)
}

// Close implements node.Transport
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.bus.detach(e)
		close(e.done)
	})
	return nil
}
