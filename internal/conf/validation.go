// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package conf

import "fmt"

// Validate the configuration before the service boots with it.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("conf: db.host is required")
	}
	if c.DB.Database == "" {
		return fmt.Errorf("conf: db.database is required")
	}
	for i, creds := range c.OpenStack {
		if creds.AuthURL == "" {
			return fmt.Errorf("conf: openstackCredentials[%d].authURL is required", i)
		}
		if creds.Username == "" || creds.Password == "" {
			return fmt.Errorf("conf: openstackCredentials[%d] needs username and password", i)
		}
	}
	for i, group := range c.DefaultSecurityGroups {
		if group.Name == "" {
			return fmt.Errorf("conf: defaultSecurityGroups[%d].name is required", i)
		}
		for j, rule := range group.Rules {
			switch rule.Protocol {
			case "tcp", "udp", "icmp":
			default:
				return fmt.Errorf(
					"conf: defaultSecurityGroups[%d].rules[%d]: unknown protocol %q",
					i, j, rule.Protocol)
			}
		}
	}
	return nil
}
