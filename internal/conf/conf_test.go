// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"os"
	"path/filepath"
	"testing"
)

const testYaml = `
db:
  host: localhost
  port: "5432"
  database: nodeconductor
  user: postgres
  password: secret
openstackCredentials:
  - authURL: http://keystone.example.com:5000/v3
    username: admin
    password: adminpass
    tenantName: admin
defaultSecurityGroups:
  - name: ssh
    description: allow ssh
    rules:
      - protocol: tcp
        fromPort: 22
        toPort: 22
        cidr: 0.0.0.0/0
`

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewConfig(t *testing.T) {
	c, err := NewConfig(writeConf(t, testYaml))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.Database != "nodeconductor" {
		t.Errorf("expected db name nodeconductor, got %s", c.DB.Database)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestNewConfigDefaults(t *testing.T) {
	c, err := NewConfig(writeConf(t, testYaml))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Events.Host != "localhost" || c.Events.Port != 5959 {
		t.Errorf("expected event sink default localhost:5959, got %s:%d", c.Events.Host, c.Events.Port)
	}
	if c.QuotaRatios.Volumes != 4 || c.QuotaRatios.Snapshots != 20 {
		t.Errorf("unexpected quota ratios: %+v", c.QuotaRatios)
	}
	if c.Supervisor.IntervalSeconds != 60 {
		t.Errorf("expected supervisor interval 60, got %d", c.Supervisor.IntervalSeconds)
	}
}

func TestCredentialsFor(t *testing.T) {
	c, err := NewConfig(writeConf(t, testYaml))
	if err != nil {
		t.Fatal(err)
	}
	creds, ok := c.CredentialsFor("http://keystone.example.com:5000/v3")
	if !ok {
		t.Fatal("expected credentials to be found")
	}
	if creds.Username != "admin" {
		t.Errorf("expected username admin, got %s", creds.Username)
	}
	if _, ok := c.CredentialsFor("http://other.example.com:5000/v3"); ok {
		t.Error("expected no credentials for unknown auth url")
	}
}

func TestValidateRejectsBadProtocol(t *testing.T) {
	bad := testYaml + `
      - protocol: sctp
        fromPort: 1
        toPort: 1
        cidr: 0.0.0.0/0
`
	c, err := NewConfig(writeConf(t, bad))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Validate(); err == nil {
		t.Error("expected validation error for unknown protocol")
	}
}
