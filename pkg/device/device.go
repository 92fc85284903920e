// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device answers identity and configuration messages: version,
// hardware UID, id/type assignment, bitrate, uptime and free-form strings.
package device

import (
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/Thermoquad/ican/pkg/ican"
	"github.com/Thermoquad/ican/pkg/node"
	"github.com/Thermoquad/ican/pkg/store"
)

// Bus is the part of a node the handler talks to
type Bus interface {
	ican.Sender
	ican.Dispatcher
	Identity() node.Identity
	ReportError(e ican.DeviceError)
}

// releasePrefix is stripped from build versions before they go on the bus
const releasePrefix = "release/"

// fanOut lists the parameters answered for REQUEST_PARAMETER, in order
var fanOut = []ican.MsgID{
	ican.MsgApplicationVersionString,
	ican.MsgDeviceUID0,
	ican.MsgDeviceUID1,
	ican.MsgCustomString,
	ican.MsgUptime,
	ican.MsgBaudrate,
	ican.MsgHWRev,
	ican.MsgSensorLegacyMode,
}

// Config holds handler dependencies
type Config struct {
	Bus     Bus
	Store   store.Store
	UID     ican.UID
	Version string
	// Start is the process start time used for UPTIME (time.Now when zero)
	Start time.Time
}

// Handler answers device identity messages
type Handler struct {
	bus     Bus
	store   store.Store
	uid     ican.UID
	version string
	start   time.Time

	mu       sync.Mutex
	selected bool
}

// New creates a device handler
func New(cfg Config) *Handler {
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	return &Handler{
		bus:     cfg.Bus,
		store:   cfg.Store,
		uid:     cfg.UID,
		version: cfg.Version,
		start:   cfg.Start,
	}
}

// Selected reports whether the last UID select matched this node
func (h *Handler) Selected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selected
}

// VersionString returns the version as sent on the bus: release prefix
// stripped, at most 8 bytes
func VersionString(version string) string {
	v := strings.TrimPrefix(version, releasePrefix)
	if len(v) > ican.MaxDataLen {
		v = v[:ican.MaxDataLen]
	}
	return v
}

// TryHandle implements ican.Handler
func (h *Handler) TryHandle(f ican.Frame) bool {
	switch f.Msg() {
	case ican.MsgRequestParameter:
		h.requestParameters(f)
		// left unclaimed so later handlers see the request too
		return false

	case ican.MsgDeviceGroup:
		if f.Request {
			h.send(ican.MsgDeviceGroup, []byte{0})
		}
		return true

	case ican.MsgApplicationVersionString:
		if f.Request {
			h.send(ican.MsgApplicationVersionString, []byte(VersionString(h.version)))
		}
		return true

	case ican.MsgDeviceIDType:
		h.handleIDType(f)
		return true

	case ican.MsgDeviceUID0, ican.MsgDeviceUID1:
		h.handleUID(f)
		return true

	case ican.MsgBaudrate:
		if f.Request {
			h.send(ican.MsgBaudrate, []byte{h.store.U8(store.KeyBitrate, uint8(ican.DefaultBitrate))})
		} else if f.Len == 1 && f.Byte(0) > 0 {
			h.persistU8(store.KeyBitrate, f.Byte(0))
		}
		return true

	case ican.MsgCustomString:
		if f.Request {
			h.send(ican.MsgCustomString, []byte(h.store.String(store.KeyCustomString, "")))
		} else {
			h.persistString(store.KeyCustomString, ican.DecodeString(f.Payload()))
		}
		return true

	case ican.MsgUptime:
		if f.Request {
			payload := ican.EncodeUptime(h.uptimeMinutes())
			h.send(ican.MsgUptime, payload[:])
		}
		return true

	case ican.MsgHWRev:
		h.handleEchoedU8(f, store.KeyHWRev)
		return true

	case ican.MsgSensorLegacyMode:
		h.handleEchoedU8(f, store.KeyLegacySensor)
		return true
	}
	return false
}

func (h *Handler) requestParameters(f ican.Frame) {
	glog.V(1).Infof("device: parameter request from %08X", f.ID)
	for _, msg := range fanOut {
		h.bus.Dispatch(ican.NewFrame(ican.WithMessage(f.ID, msg), nil, true))
	}
}

func (h *Handler) handleIDType(f ican.Frame) {
	if f.Request {
		id := h.bus.Identity()
		payload := ican.IDType{ID: id.ID, Type: id.Type}.Encode()
		h.send(ican.MsgDeviceIDType, payload[:])
		return
	}
	if f.Len != ican.IDTypeLen {
		return
	}
	if !h.Selected() {
		glog.V(1).Info("device: id/type write ignored, node not selected")
		return
	}

	p := ican.DecodeIDType(f.Payload())
	if !h.persistU8(store.KeyType, p.Type) {
		return
	}
	if p.ID != 0 {
		h.persistU8(store.KeyID, p.ID)
	}
	glog.Infof("device: identity set to %d/%s, effective after restart", p.ID, ican.DeviceType(p.Type))
}

func (h *Handler) handleUID(f ican.Frame) {
	if f.Request {
		h.send(f.Msg(), h.uid[:])
		return
	}
	if f.Len != ican.UIDLen {
		return
	}

	var got ican.UID
	copy(got[:], f.Payload())
	selected := got.IsZero() || got == h.uid

	h.mu.Lock()
	h.selected = selected
	h.mu.Unlock()
	glog.V(1).Infof("device: uid select %x, selected=%v", got, selected)
}

func (h *Handler) handleEchoedU8(f ican.Frame, key string) {
	if f.Len == 1 && !f.Request {
		h.persistU8(key, f.Byte(0))
	}
	h.send(f.Msg(), []byte{h.store.U8(key, 0)})
}

func (h *Handler) uptimeMinutes() uint32 {
	return uint32(time.Since(h.start) / time.Minute)
}

func (h *Handler) send(msg ican.MsgID, data []byte) {
	if err := h.bus.Send(msg, data, false); err != nil {
		glog.Errorf("device: failed to answer %s: %v", msg, err)
	}
}

// persistU8 writes key and reports persistence failures on the bus
func (h *Handler) persistU8(key string, v uint8) bool {
	if err := h.store.SetU8(key, v); err != nil {
		h.persistFailed(key, err)
		return false
	}
	return true
}

func (h *Handler) persistString(key, v string) bool {
	if err := h.store.SetString(key, v); err != nil {
		h.persistFailed(key, err)
		return false
	}
	return true
}

func (h *Handler) persistFailed(key string, err error) {
	glog.Errorf("device: failed to persist %s: %v", key, err)
	h.bus.ReportError(ican.DeviceError{Component: ican.ErrorNoConfig})
}
