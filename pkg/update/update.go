// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package update receives firmware images over the bus.
//
// A flashing tool puts the node into update mode with RESTART{UPDATE_MODE},
// streams the image as FLASH_WRITE payloads, checks FLASH_VERIFY against its
// own digest and finishes with a plain RESTART, which switches the boot
// partition and restarts.
package update

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/store"
)

// VerifyLen is the number of digest bytes answered for FLASH_VERIFY
const VerifyLen = 8

// ErrNotPending is returned when no update session is open
var ErrNotPending = errors.New("no update pending")

// Mode is the updater state
type Mode int

// Updater modes
const (
	Normal Mode = iota
	Pending
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Normal:
		return "NORMAL"
	case Pending:
		return "PENDING_UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Bus is the part of a node the updater talks to
type Bus interface {
	ican.Sender
	ReportError(e ican.DeviceError)
}

// Updater handles AVAILABLE, RESTART, FLASH_WRITE and FLASH_VERIFY
type Updater struct {
	bus      Bus
	platform Platform

	mu      sync.Mutex
	mode    Mode
	target  Partition
	session io.WriteCloser
	written int64
}

// New creates an updater in NORMAL mode
func New(bus Bus, platform Platform) *Updater {
	return &Updater{
		bus:      bus,
		platform: platform,
		target:   platform.NextUpdatePartition(),
	}
}

// Init stores defaultType as the device type when none is configured yet and
// confirms the running image. It runs once at startup.
func (u *Updater) Init(s store.Store, defaultType ican.DeviceType) error {
	if !s.Has(store.KeyType) {
		glog.Infof("update: no device type configured, using %s", defaultType)
		if err := s.SetU8(store.KeyType, uint8(defaultType)); err != nil {
			return fmt.Errorf("failed to store default type: %w", err)
		}
	}
	if err := u.platform.MarkValid(); err != nil {
		return fmt.Errorf("failed to confirm running image: %w", err)
	}
	glog.Infof("update: running from %s, updates go to %s", u.platform.Running(), u.target)
	return nil
}

// Mode returns the current mode
func (u *Updater) Mode() Mode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Written returns the number of image bytes written in the current session
func (u *Updater) Written() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.written
}

// TryHandle claims the update messages
func (u *Updater) TryHandle(f ican.Frame) bool {
	switch f.Msg() {
	case ican.MsgFlashWrite:
		u.write(f.Payload())
		return true

	case ican.MsgAvailable:
		if f.Request {
			u.answerAvailable()
		}
		return true

	case ican.MsgRestart:
		if ican.Availability(f.Byte(0)) == ican.UpdateMode {
			u.begin()
		} else {
			u.finish()
		}
		return true

	case ican.MsgFlashVerify:
		if f.Request {
			u.verify()
		}
		return true
	}
	return false
}

func (u *Updater) answerAvailable() {
	mode := ican.Application
	if u.Mode() == Pending {
		mode = ican.UpdateMode
	}
	if err := u.bus.Send(ican.MsgAvailable, []byte{byte(mode)}, false); err != nil {
		glog.Errorf("update: failed to answer AVAILABLE: %v", err)
	}
}

func (u *Updater) fail(code ican.ErrorCode, format string, args ...any) {
	glog.Errorf("update: "+format, args...)
	u.bus.ReportError(ican.DeviceError{Component: ican.ComponentUpdate, Code: uint8(code)})
}

// begin opens a session on the update partition. A session that is already
// open is discarded.
func (u *Updater) begin() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.session != nil {
		glog.Warningf("update: restarting session after %d bytes", u.written)
		u.session.Close()
		u.session = nil
	}

	w, err := u.platform.Begin(u.target)
	if err != nil {
		u.mode = Normal
		u.fail(ican.ErrorFlashOverrun, "failed to begin session on %s: %v", u.target, err)
		return
	}
	u.session = w
	u.written = 0
	u.mode = Pending
	glog.Infof("update: changed to update mode, writing %s", u.target)
}

func (u *Updater) write(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.session == nil {
		glog.V(1).Infof("update: FLASH_WRITE ignored: %v", ErrNotPending)
		return
	}
	n, err := u.session.Write(data)
	u.written += int64(n)
	if err != nil {
		u.fail(ican.ErrorFlashOverrun, "write failed at offset %d: %v", u.written, err)
	}
}

func (u *Updater) verify() {
	sum, err := u.platform.Digest(u.target)
	if err != nil {
		u.fail(ican.ErrorFirmwareCorrupt, "failed to hash %s: %v", u.target, err)
		return
	}
	glog.Infof("update: verify checksum %s", hex.EncodeToString(sum[:VerifyLen]))
	if err := u.bus.Send(ican.MsgFlashVerify, sum[:VerifyLen], false); err != nil {
		glog.Errorf("update: failed to answer FLASH_VERIFY: %v", err)
	}
}

// finish commits a pending update and restarts. Without a pending update it
// only restarts.
func (u *Updater) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.mode == Pending {
		glog.Infof("update: complete after %d bytes, restarting", u.written)
		err := u.session.Close()
		u.session = nil
		u.mode = Normal
		if err != nil {
			u.fail(ican.ErrorFirmwareCorrupt, "failed to close session: %v", err)
			return
		}
		if err := u.platform.SetBoot(u.target); err != nil {
			u.fail(ican.ErrorFirmwareCorrupt, "failed to select %s: %v", u.target, err)
			return
		}
	} else {
		glog.Info("update: restart requested")
	}

	if err := u.platform.Restart(); err != nil {
		u.fail(ican.ComponentMain, "restart failed: %v", err)
	}
}
