// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ican

import (
	"fmt"
	"time"
)

// Statistics tracks bus traffic and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames  uint64
	NGFrames     uint64
	LegacyFrames uint64
	Requests     uint64
	DecodeErrors uint64
	DeviceErrors uint64
	AlertFrames  uint64
	ButtonEvents uint64
	UpdateFrames uint64
	Alerts       uint32 // union of every alert bitmask seen

	PerMessage  map[MsgID]uint64
	DevicesSeen map[uint16]time.Time // type<<8 | id

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		PerMessage:     make(map[MsgID]uint64),
		DevicesSeen:    make(map[uint16]time.Time),
	}
}

// Update updates statistics based on a frame or a decode error
func (s *Statistics) Update(f *Frame, decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil || f == nil {
		s.DecodeErrors++
		return
	}

	a := f.Address()
	if !a.NG {
		s.LegacyFrames++
		return
	}
	s.NGFrames++
	s.PerMessage[a.Msg]++
	s.DevicesSeen[uint16(a.Type)<<8|uint16(a.DeviceID)] = s.LastUpdateTime
	if f.Request {
		s.Requests++
		return
	}

	switch {
	case a.Msg == MsgDeviceError:
		s.DeviceErrors++
		if e := DecodeDeviceError(f.Payload()); e.Component == ComponentCAN {
			s.AlertFrames++
			s.Alerts |= e.Alerts
		}
	case a.Msg == MsgButtonEvent:
		s.ButtonEvents++
	case a.Msg >= MsgFlashSelect && a.Msg <= MsgFlashVerify:
		s.UpdateFrames++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.DecodeErrors+s.DeviceErrors) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var ngPercent, legacyPercent, decodePercent float64
	if s.TotalFrames > 0 {
		ngPercent = float64(s.NGFrames) * 100.0 / float64(s.TotalFrames)
		legacyPercent = float64(s.LegacyFrames) * 100.0 / float64(s.TotalFrames)
		decodePercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("NG Frames:       %8d (%.1f%%)\n", s.NGFrames, ngPercent)

	if s.LegacyFrames > 0 {
		result += fmt.Sprintf("Legacy Frames:   %8d (%.1f%%)\n", s.LegacyFrames, legacyPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodePercent)
	}
	if s.Requests > 0 {
		result += fmt.Sprintf("Requests:        %8d\n", s.Requests)
	}
	if s.DeviceErrors > 0 {
		result += fmt.Sprintf("Device Errors:   %8d\n", s.DeviceErrors)
		if s.AlertFrames > 0 {
			result += fmt.Sprintf("  Bus Alerts:       %5d (%s)\n", s.AlertFrames, FormatAlerts(s.Alerts))
		}
	}
	if s.ButtonEvents > 0 {
		result += fmt.Sprintf("Button Events:   %8d\n", s.ButtonEvents)
	}
	if s.UpdateFrames > 0 {
		result += fmt.Sprintf("Update Frames:   %8d\n", s.UpdateFrames)
	}

	result += fmt.Sprintf("Devices Seen:    %8d\n", len(s.DevicesSeen))
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
