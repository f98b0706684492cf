// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^-a-zA-Z0-9 _]+`)

// Hex form of a uuid without dashes, as used in backend object names.
func uuidHex(uuid string) string {
	return strings.ReplaceAll(uuid, "-", "")
}

// Conventional name of the backend tenant for a project.
func TenantName(projectUUID, projectName string) string {
	return uuidHex(projectUUID) + "-" + projectName
}

// Conventional name of a keypair on the backend. The sanitized part of
// the name is capped so that the full name stays below the backend's
// 50 character keypair name limit.
func KeyName(keyUUID, keyName string) string {
	safe := unsafeNameChars.ReplaceAllString(keyName, "_")
	if len(safe) > 17 {
		safe = safe[:17]
	}
	return uuidHex(keyUUID) + "-" + safe
}

// Fingerprint of an ssh public key: the md5 sum of the base64-decoded
// key body, grouped by colons.
func SshKeyFingerprint(publicKey string) (string, error) {
	parts := strings.Fields(publicKey)
	if len(parts) < 2 {
		return "", fmt.Errorf("malformed public key: expected at least type and body")
	}
	raw, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed public key body: %w", err)
	}
	sum := md5.Sum(raw)
	hexParts := make([]string, len(sum))
	for i, b := range sum {
		hexParts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(hexParts, ":"), nil
}
