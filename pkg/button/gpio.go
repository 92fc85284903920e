// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package button

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/Thermoquad/ican/pkg/sched"
)

// Long-press timing of the edge generator
const (
	DefaultLongPress   = time.Second
	DefaultRepeatEvery = 500 * time.Millisecond
	DefaultDebounce    = 20 * time.Millisecond
)

// Edges converts raw press/release levels into machine inputs, adding
// InputRepeat after a long press and then periodically while held
type Edges struct {
	button      *Button
	sched       *sched.Scheduler
	key         string
	longPress   time.Duration
	repeatEvery time.Duration

	mu      sync.Mutex
	pressed bool
	gen     uint64
}

// NewEdges creates an edge generator feeding b
func NewEdges(b *Button, s *sched.Scheduler, longPress, repeatEvery time.Duration) *Edges {
	if longPress <= 0 {
		longPress = DefaultLongPress
	}
	if repeatEvery <= 0 {
		repeatEvery = DefaultRepeatEvery
	}
	return &Edges{
		button:      b,
		sched:       s,
		key:         fmt.Sprintf("repeat-%d", b.ID()),
		longPress:   longPress,
		repeatEvery: repeatEvery,
	}
}

// Press reports the button going down. Repeated presses are ignored.
func (e *Edges) Press() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pressed {
		return
	}
	e.pressed = true
	e.gen++
	gen := e.gen
	e.button.Post(InputPressed)
	e.sched.Schedule(e.key, e.longPress, func() { e.tick(gen) })
}

// Release reports the button going up
func (e *Edges) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pressed {
		return
	}
	e.pressed = false
	e.sched.Cancel(e.key)
	e.button.Post(InputReleased)
}

func (e *Edges) tick(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pressed || gen != e.gen {
		return
	}
	e.button.Post(InputRepeat)
	e.sched.Schedule(e.key, e.repeatEvery, func() { e.tick(gen) })
}

// GPIOConfig describes a button wired to a GPIO character device line
type GPIOConfig struct {
	Chip   string // e.g. "gpiochip0"
	Offset int
	// ActiveLow treats a low level as pressed
	ActiveLow bool
	PullUp    bool
	Debounce  time.Duration
}

// GPIOInput is a button line watched for edges
type GPIOInput struct {
	line  *gpiod.Line
	edges *Edges
}

// WatchGPIO requests the line and feeds its edges to edges
func WatchGPIO(cfg GPIOConfig, edges *Edges) (*GPIOInput, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	g := &GPIOInput{edges: edges}
	opts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithBothEdges,
		gpiod.WithDebounce(cfg.Debounce),
		gpiod.WithEventHandler(g.handle),
	}
	if cfg.PullUp {
		opts = append(opts, gpiod.WithPullUp)
	}
	if cfg.ActiveLow {
		opts = append(opts, gpiod.AsActiveLow)
	}

	line, err := gpiod.RequestLine(cfg.Chip, cfg.Offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s:%d: %w", cfg.Chip, cfg.Offset, err)
	}
	g.line = line
	glog.Infof("button %d: watching %s:%d", edges.button.ID(), cfg.Chip, cfg.Offset)
	return g, nil
}

// handle runs on the gpiocdev event goroutine. Active-low lines are
// inverted by the kernel, so a rising edge is always a press.
func (g *GPIOInput) handle(evt gpiod.LineEvent) {
	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		g.edges.Press()
	case gpiod.LineEventFallingEdge:
		g.edges.Release()
	}
}

// Close releases the line
func (g *GPIOInput) Close() error {
	return g.line.Close()
}
