// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

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

// ErrClosed is returned by a transport after Close
var ErrClosed = errors.New("transport closed")

// DefaultRxQueueLen is the receive queue depth
const DefaultRxQueueLen = 64

// SLCANConfig configures an SLCAN adapter
type SLCANConfig struct {
	Bitrate ican.Bitrate
	// RxQueueLen is the receive queue depth (DefaultRxQueueLen when zero)
	RxQueueLen int
	// StatusInterval polls the adapter status flags; zero disables polling
	StatusInterval time.Duration
	// SkipSetup leaves the adapter channel configuration untouched
	SkipSetup bool
	// OnDecodeError sees every malformed adapter line. It runs on the read
	// goroutine.
	OnDecodeError func(err error)
}

// SLCAN is a node transport over a Lawicel ASCII adapter
type SLCAN struct {
	conn Connection
	cfg  SLCANConfig

	frames chan ican.Frame
	alerts atomic.Uint32

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	errMu   sync.Mutex
	readErr error
}

// NewSLCAN configures the adapter behind conn and starts reading from it
func NewSLCAN(conn Connection, cfg SLCANConfig) (*SLCAN, error) {
	if cfg.RxQueueLen <= 0 {
		cfg.RxQueueLen = DefaultRxQueueLen
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = ican.DefaultBitrate
	}

	s := &SLCAN{
		conn:   conn,
		cfg:    cfg,
		frames: make(chan ican.Frame, cfg.RxQueueLen),
		done:   make(chan struct{}),
	}

	if !cfg.SkipSetup {
		speed, err := BitrateCommand(cfg.Bitrate)
		if err != nil {
			return nil, err
		}
		// Close first in case the channel was left open
		for _, cmd := range []string{"C", speed, "O"} {
			if err := s.command(cmd); err != nil {
				return nil, fmt.Errorf("adapter setup (%s): %w", cmd, err)
			}
		}
		glog.Infof("slcan: channel open at %d bit/s", cfg.Bitrate.BitsPerSecond())
	}

	s.wg.Add(1)
	go s.readLoop()

	if cfg.StatusInterval > 0 {
		s.wg.Add(1)
		go s.statusLoop()
	}
	return s, nil
}

func (s *SLCAN) command(cmd string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(append([]byte(cmd), slcanCR))
	return err
}

func (s *SLCAN) readLoop() {
	defer s.wg.Done()

	dec := NewDecoder()
	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				glog.Errorf("slcan: read failed: %v", err)
				s.errMu.Lock()
				s.readErr = err
				s.errMu.Unlock()
				s.shutdown()
			}
			return
		}

		for _, b := range buf[:n] {
			ev, err := dec.DecodeByte(b)
			if err != nil {
				glog.V(1).Infof("slcan: %v", err)
				if s.cfg.OnDecodeError != nil {
					s.cfg.OnDecodeError(err)
				}
				continue
			}
			if ev != nil {
				s.handleEvent(ev)
			}
		}
	}
}

func (s *SLCAN) handleEvent(ev *Event) {
	switch ev.Kind {
	case EventFrame:
		select {
		case s.frames <- ev.Frame:
		default:
			s.alerts.Or(ican.AlertRxQueueFull)
		}
	case EventStatus:
		if alerts := StatusAlerts(ev.Status); alerts != 0 {
			s.alerts.Or(alerts)
		}
	case EventError:
		glog.V(1).Info("slcan: adapter rejected command")
		s.alerts.Or(ican.AlertTxFailed)
	}
}

func (s *SLCAN) statusLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.command("F"); err != nil {
				glog.Warningf("slcan: status poll failed: %v", err)
			}
		}
	}
}

// Receive implements node.Transport
func (s *SLCAN) Receive(ctx context.Context) (ican.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		if err := s.err(); err != nil {
			return ican.Frame{}, fmt.Errorf("adapter connection lost: %w", err)
		}
		return ican.Frame{}, ErrClosed
	case <-ctx.Done():
		return ican.Frame{}, ctx.Err()
	}
}

// Send implements node.Transport. It blocks until the connection accepts
// the whole line.
func (s *SLCAN) Send(f ican.Frame) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(EncodeFrame(f)); err != nil {
		s.alerts.Or(ican.AlertTxFailed)
		return fmt.Errorf("slcan write: %w", err)
	}
	return nil
}

// Alerts implements node.Transport
func (s *SLCAN) Alerts() uint32 {
	return s.alerts.Swap(0)
}

func (s *SLCAN) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *SLCAN) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close closes the adapter channel and the underlying connection
func (s *SLCAN) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if !s.cfg.SkipSetup && s.err() == nil {
		if err := s.command("C"); err != nil {
			glog.V(1).Infof("slcan: close command failed: %v", err)
		}
	}
	s.shutdown()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}
