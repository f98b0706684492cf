// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package events

import "github.com/nodeconductor/nodeconductor/internal/models"

// Context builders keyed by entity short name, so that records carry
// fields like instance_name and project_uuid the index consumers
// filter on.

func InstanceContext(i *models.Instance) map[string]any {
	return map[string]any{
		"instance_uuid": i.UUID,
		"instance_name": i.Name,
		"instance_state": i.State.String(),
	}
}

func LinkContext(l *models.ServiceProjectLink) map[string]any {
	return map[string]any{
		"service_project_link_uuid": l.UUID,
		"project_uuid":              l.ProjectUUID,
		"service_uuid":              l.ServiceUUID,
	}
}

func ProjectContext(p *models.Project) map[string]any {
	return map[string]any{
		"project_uuid":  p.UUID,
		"project_name":  p.Name,
		"customer_uuid": p.CustomerUUID,
	}
}

func CustomerContext(c *models.Customer) map[string]any {
	return map[string]any{
		"customer_uuid":         c.UUID,
		"customer_name":         c.Name,
		"customer_abbreviation": c.Abbreviation,
	}
}

func SecurityGroupContext(g *models.SecurityGroup) map[string]any {
	return map[string]any{
		"security_group_uuid": g.UUID,
		"security_group_name": g.Name,
	}
}

func SshKeyContext(k *models.SshPublicKey) map[string]any {
	return map[string]any{
		"ssh_key_uuid": k.UUID,
		"ssh_key_name": k.Name,
	}
}

// Merge combines context maps; later maps win on key collisions.
func Merge(contexts ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, c := range contexts {
		for k, v := range c {
			merged[k] = v
		}
	}
	return merged
}
