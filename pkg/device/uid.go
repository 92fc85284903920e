// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/denisbrodbeck/machineid"

	"github.com/Thermoquad/ican/pkg/ican"
)

// uidAppID scopes the machine id hash to this application
const uidAppID = "ican"

// MachineUID derives a stable 8-byte UID from the host machine id. The raw
// machine id never leaves the host.
func MachineUID() (ican.UID, error) {
	id, err := machineid.ProtectedID(uidAppID)
	if err != nil {
		return ican.UID{}, fmt.Errorf("failed to read machine id: %w", err)
	}
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) < ican.UIDLen {
		return ican.UID{}, fmt.Errorf("unexpected machine id format")
	}
	var uid ican.UID
	copy(uid[:], raw)
	return uid, nil
}

// ParseUID parses 16 hex digits, optionally separated by ':' or '-'
func ParseUID(s string) (ican.UID, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(s)
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ican.UID{}, fmt.Errorf("invalid UID %q: %w", s, err)
	}
	if len(raw) != ican.UIDLen {
		return ican.UID{}, fmt.Errorf("invalid UID %q: need %d bytes, got %d", s, ican.UIDLen, len(raw))
	}
	var uid ican.UID
	copy(uid[:], raw)
	return uid, nil
}

// FormatUID formats a UID as colon-separated hex
func FormatUID(uid ican.UID) string {
	parts := make([]string, len(uid))
	for i, b := range uid {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}
