// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"testing"
	"time"
)

func TestExtractAddresses(t *testing.T) {
	addresses := map[string]any{
		"internal-net": []any{
			map[string]any{"addr": "192.168.42.11", "OS-EXT-IPS:type": "fixed"},
			map[string]any{"addr": "10.0.0.5", "OS-EXT-IPS:type": "floating"},
		},
	}
	external, internal := extractAddresses(addresses)
	if len(external) != 1 || external[0] != "10.0.0.5" {
		t.Errorf("unexpected external ips: %v", external)
	}
	if len(internal) != 1 || internal[0] != "192.168.42.11" {
		t.Errorf("unexpected internal ips: %v", internal)
	}
}

func TestExtractAddressesMalformed(t *testing.T) {
	external, internal := extractAddresses(map[string]any{"net": "garbage"})
	if len(external) != 0 || len(internal) != 0 {
		t.Errorf("malformed addresses must yield no ips, got %v / %v", external, internal)
	}
}

func TestSessionValidity(t *testing.T) {
	if (&session{expires: time.Now().Add(30 * time.Second)}).valid() {
		t.Error("a session within the expiry margin must not be reused")
	}
	if !(&session{expires: time.Now().Add(10 * time.Minute)}).valid() {
		t.Error("a fresh session must be reused")
	}
	var nilSession *session
	if nilSession.valid() {
		t.Error("a nil session must not be valid")
	}
}
