// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasher uploads firmware images to a node over the bus.
package flasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/node"
)

// Defaults
const (
	DefaultReplyTimeout = 2 * time.Second
	DefaultRetries      = 5
	verifyLen           = 8
)

// Errors
var (
	ErrNoReply        = errors.New("target did not reply")
	ErrVerifyMismatch = errors.New("verify checksum mismatch")
	ErrEmptyImage     = errors.New("empty image")
)

// Progress is called after each chunk with the bytes sent so far
type Progress func(sent, total int)

// Config configures a flashing session
type Config struct {
	Transport node.Transport
	Target    node.Identity
	// ReplyTimeout bounds each wait for AVAILABLE and FLASH_VERIFY replies
	ReplyTimeout time.Duration
	// Retries is the number of AVAILABLE polls before giving up
	Retries int
	// ChunkDelay paces FLASH_WRITE frames for adapters with small queues
	ChunkDelay time.Duration
	Progress   Progress
	// NoRestart leaves the target in update mode after a successful verify
	NoRestart bool
}

// Flasher drives the update sequence against one target
type Flasher struct {
	cfg Config
}

// New creates a flasher
func New(cfg Config) *Flasher {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = DefaultReplyTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	return &Flasher{cfg: cfg}
}

// Checksum returns the truncated digest a target answers for image
func Checksum(image []byte) []byte {
	sum := sha256.Sum256(image)
	return sum[:verifyLen]
}

func (fl *Flasher) targetID(msg ican.MsgID) uint32 {
	return ican.Encode(fl.cfg.Target.ID, fl.cfg.Target.Type, msg)
}

func (fl *Flasher) send(id uint32, data []byte, request bool) error {
	f := ican.NewFrame(id, data, request)
	if err := fl.cfg.Transport.Send(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", ican.MessageOf(id), err)
	}
	return nil
}

// silence broadcasts UPDATE_SILENCE
func (fl *Flasher) silence(on bool) error {
	v := ican.SilenceOff
	if on {
		v = ican.SilenceOn
	}
	return fl.send(ican.Encode(ican.BroadcastID, 0, ican.MsgUpdateSilence), []byte{v}, false)
}

// await waits for a reply to msg from the target
func (fl *Flasher) await(ctx context.Context, msg ican.MsgID) (ican.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, fl.cfg.ReplyTimeout)
	defer cancel()

	for {
		f, err := fl.cfg.Transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ican.Frame{}, fmt.Errorf("%s: %w", msg, ErrNoReply)
			}
			return ican.Frame{}, err
		}
		a := f.Address()
		if f.Request || a.Msg != msg || !a.NG || a.DeviceID != fl.cfg.Target.ID || a.Type != fl.cfg.Target.Type {
			glog.V(2).Infof("flasher: skipping %08X %s", f.ID, f.Msg())
			continue
		}
		return f, nil
	}
}

// enterUpdate sends RESTART{UPDATE_MODE} and polls AVAILABLE until the target
// reports update mode. RESTART is repeated while the target reports another
// mode.
func (fl *Flasher) enterUpdate(ctx context.Context) error {
	if err := fl.send(fl.targetID(ican.MsgRestart), []byte{byte(ican.UpdateMode)}, false); err != nil {
		return err
	}
	for attempt := 1; attempt <= fl.cfg.Retries; attempt++ {
		if err := fl.send(fl.targetID(ican.MsgAvailable), nil, true); err != nil {
			return err
		}
		f, err := fl.await(ctx, ican.MsgAvailable)
		if errors.Is(err, ErrNoReply) {
			glog.Warningf("flasher: no AVAILABLE reply (attempt %d/%d)", attempt, fl.cfg.Retries)
			continue
		}
		if err != nil {
			return err
		}
		if mode := ican.Availability(f.Byte(0)); mode != ican.UpdateMode {
			// the RESTART may have been lost
			glog.Warningf("flasher: target reports %s, resending RESTART", mode)
			if err := fl.send(fl.targetID(ican.MsgRestart), []byte{byte(ican.UpdateMode)}, false); err != nil {
				return err
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("target %s did not enter update mode: %w", fl.cfg.Target, ErrNoReply)
}

// Verify requests FLASH_VERIFY and compares it to the image checksum
func (fl *Flasher) Verify(ctx context.Context, image []byte) error {
	if err := fl.send(fl.targetID(ican.MsgFlashVerify), nil, true); err != nil {
		return err
	}
	f, err := fl.await(ctx, ican.MsgFlashVerify)
	if err != nil {
		return err
	}
	want := Checksum(image)
	if got := f.Payload(); !bytes.Equal(got, want) {
		return fmt.Errorf("%w: target %s, image %s", ErrVerifyMismatch, hex.EncodeToString(got), hex.EncodeToString(want))
	}
	return nil
}

// Flash uploads image and restarts the target into it. The bus is silenced
// for the duration and released again on every exit path.
func (fl *Flasher) Flash(ctx context.Context, image []byte) (err error) {
	if len(image) == 0 {
		return ErrEmptyImage
	}

	if err := fl.silence(true); err != nil {
		return err
	}
	defer func() {
		if serr := fl.silence(false); serr != nil && err == nil {
			err = serr
		}
	}()

	glog.Infof("flasher: entering update mode on %s", fl.cfg.Target)
	if err := fl.enterUpdate(ctx); err != nil {
		return err
	}

	writeID := fl.targetID(ican.MsgFlashWrite)
	for off := 0; off < len(image); off += ican.MaxDataLen {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+ican.MaxDataLen, len(image))
		if err := fl.send(writeID, image[off:end], false); err != nil {
			return fmt.Errorf("at offset %d: %w", off, err)
		}
		if fl.cfg.Progress != nil {
			fl.cfg.Progress(end, len(image))
		}
		if fl.cfg.ChunkDelay > 0 {
			time.Sleep(fl.cfg.ChunkDelay)
		}
	}

	if err := fl.Verify(ctx, image); err != nil {
		return err
	}
	glog.Infof("flasher: verified %d bytes (%s)", len(image), hex.EncodeToString(Checksum(image)))

	if fl.cfg.NoRestart {
		return nil
	}
	return fl.send(fl.targetID(ican.MsgRestart), []byte{0}, false)
}
