// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists node configuration (identity, bitrate, hardware
// revision) across restarts.
package store

import (
	"errors"
	"sync"
)

// Configuration keys
const (
	KeyID           = "can_id"
	KeyType         = "can_type"
	KeyBitrate      = "can_bitrate"
	KeyHWRev        = "hw_rev"
	KeyLegacySensor = "leg_sen"
	KeyCustomString = "custom_string"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("store closed")

// Store is a small durable key/value store. Setters return only after the
// value is durable.
type Store interface {
	// U8 returns the value of key, or def when the key is absent
	U8(key string, def uint8) uint8
	SetU8(key string, v uint8) error
	// String returns the value of key, or def when the key is absent
	String(key string, def string) string
	SetString(key string, v string) error
	Has(key string) bool
	Close() error
}

// Memory is a non-durable Store for tests and simulations
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	closed bool

	// FailWrites makes every setter return this error when non-nil
	FailWrites error
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) set(key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.values[key] = v
	return nil
}

// U8 implements Store
func (m *Memory) U8(key string, def uint8) uint8 {
	if v, ok := m.get(key); ok && len(v) == 1 {
		return v[0]
	}
	return def
}

// SetU8 implements Store
func (m *Memory) SetU8(key string, v uint8) error {
	return m.set(key, []byte{v})
}

// String implements Store
func (m *Memory) String(key string, def string) string {
	if v, ok := m.get(key); ok {
		return string(v)
	}
	return def
}

// SetString implements Store
func (m *Memory) SetString(key string, v string) error {
	return m.set(key, []byte(v))
}

// Has implements Store
func (m *Memory) Has(key string) bool {
	_, ok := m.get(key)
	return ok
}

// Close implements Store
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
