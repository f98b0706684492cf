// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package models

import "testing"

func TestTenantName(t *testing.T) {
	name := TenantName("a73942ec-403e-4458-a5f1-d2b3be0d3041", "project_name")
	expected := "a73942ec403e4458a5f1d2b3be0d3041-project_name"
	if name != expected {
		t.Errorf("expected %q, got %q", expected, name)
	}
}

func TestKeyName(t *testing.T) {
	tests := []struct {
		uuid     string
		name     string
		expected string
	}{
		{
			"97a6e00b2c624af488bfe724a1c0ebf8",
			"veery_looo@ng_key_blah_blah_blah",
			"97a6e00b2c624af488bfe724a1c0ebf8-veery_looo_ng_key",
		},
		{
			"97a6e00b-2c62-4af4-88bf-e724a1c0ebf8",
			"short",
			"97a6e00b2c624af488bfe724a1c0ebf8-short",
		},
	}
	for _, tt := range tests {
		if got := KeyName(tt.uuid, tt.name); got != tt.expected {
			t.Errorf("KeyName(%q, %q) = %q, expected %q", tt.uuid, tt.name, got, tt.expected)
		}
	}
}

func TestSshKeyFingerprint(t *testing.T) {
	publicKey := "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQCw2MaqOkQi4LUJXVnIgmgWKCUnVdDF3IFngm" +
		"+YS4cTT+6Wvc6C0g3QZYnSCiQd3lJLWsizYUlCILVQRAH9JUAt+iyrcxrY68boc0aejuMGpPXXaZ0+RTC6gKw7" +
		"IzNbvkgpbY7DzB0dNuMYERLVM83SPABudGELk/kxEPvDO1J0RY5Is5QziebU18gWWwK87jmjRQfphM6lcS08Bd" +
		"17U+4MAe/vCJbIJnI9ctoHLRczrGN0w/DtNJDAfao4yLa+PdStPNAxkBTHY/OWycbdEJRL+Ile73FkpcoVfWbb" +
		"JcdrvvVSKWIZATyHmlnUSBLQe5WQg8F3ZF17G5bDFMnSueoH joe@example.com"
	fingerprint, err := SshKeyFingerprint(publicKey)
	if err != nil {
		t.Fatal(err)
	}
	expected := "1b:a8:73:34:57:80:5e:c8:e0:36:6a:b1:a8:62:ad:a3"
	if fingerprint != expected {
		t.Errorf("expected %q, got %q", expected, fingerprint)
	}
}

func TestSshKeyFingerprintMalformed(t *testing.T) {
	if _, err := SshKeyFingerprint("ssh-rsa"); err == nil {
		t.Error("expected an error for a key without a body")
	}
	if _, err := SshKeyFingerprint("ssh-rsa not-base64!!! comment"); err == nil {
		t.Error("expected an error for a key with an invalid body")
	}
}
