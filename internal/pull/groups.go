// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/mqtt"
)

// PullSecurityGroups mirrors the tenant's security groups including
// their rules. Local groups missing remotely are deleted
// unconditionally.
func (p *Puller) PullSecurityGroups(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	remote, err := tb.ListSecurityGroups(ctx)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]backend.RemoteSecurityGroup, len(remote))
	for _, group := range remote {
		remoteByID[group.ID] = group
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		var local []models.SecurityGroup
		_, err := tx.Select(&local,
			"SELECT * FROM security_groups WHERE link_uuid = :link AND backend_id != ''",
			map[string]any{"link": link.UUID})
		if err != nil {
			return err
		}
		localByID := make(map[string]*models.SecurityGroup, len(local))
		for i := range local {
			localByID[local[i].BackendID] = &local[i]
		}

		remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
		for _, id := range remoteOnly {
			group := remoteByID[id]
			localGroup := &models.SecurityGroup{
				UUID:        uuid.NewString(),
				LinkUUID:    link.UUID,
				Name:        group.Name,
				Description: group.Description,
				State:       models.SyncStateInSync,
				BackendID:   group.ID,
			}
			if err := tx.Insert(localGroup); err != nil {
				return err
			}
			if err := p.pullRules(tx, localGroup, group.Rules); err != nil {
				return err
			}
		}
		for _, id := range both {
			group, localGroup := remoteByID[id], localByID[id]
			if group.Name != localGroup.Name || group.Description != localGroup.Description {
				localGroup.Name = group.Name
				localGroup.Description = group.Description
				if _, err := tx.Update(localGroup); err != nil {
					return err
				}
			}
			if err := p.pullRules(tx, localGroup, group.Rules); err != nil {
				return err
			}
		}
		for _, id := range localOnly {
			localGroup := localByID[id]
			_, err := tx.Exec(
				"DELETE FROM security_group_rules WHERE group_uuid = :group",
				map[string]any{"group": localGroup.UUID})
			if err != nil {
				return err
			}
			if _, err := tx.Delete(localGroup); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerSecurityGroupsSynced)
	return nil
}

// Rules recurse with the same diff skeleton, keyed by the rule's
// backend id.
func (p *Puller) pullRules(tx *gorp.Transaction, group *models.SecurityGroup, remote []backend.RemoteRule) error {
	remoteByID := make(map[string]backend.RemoteRule, len(remote))
	for _, rule := range remote {
		remoteByID[rule.ID] = rule
	}

	var local []models.SecurityGroupRule
	_, err := tx.Select(&local,
		"SELECT * FROM security_group_rules WHERE group_uuid = :group AND backend_id != ''",
		map[string]any{"group": group.UUID})
	if err != nil {
		return err
	}
	localByID := make(map[string]*models.SecurityGroupRule, len(local))
	for i := range local {
		localByID[local[i].BackendID] = &local[i]
	}

	remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
	for _, id := range remoteOnly {
		rule := remoteByID[id]
		err := tx.Insert(&models.SecurityGroupRule{
			UUID:      uuid.NewString(),
			GroupUUID: group.UUID,
			Protocol:  rule.Protocol,
			FromPort:  rule.FromPort,
			ToPort:    rule.ToPort,
			CIDR:      rule.CIDR,
			BackendID: rule.ID,
		})
		if err != nil {
			return err
		}
	}
	for _, id := range both {
		rule, localRule := remoteByID[id], localByID[id]
		if rule.Protocol == localRule.Protocol && rule.FromPort == localRule.FromPort &&
			rule.ToPort == localRule.ToPort && rule.CIDR == localRule.CIDR {
			continue
		}
		localRule.Protocol = rule.Protocol
		localRule.FromPort = rule.FromPort
		localRule.ToPort = rule.ToPort
		localRule.CIDR = rule.CIDR
		if _, err := tx.Update(localRule); err != nil {
			return err
		}
	}
	for _, id := range localOnly {
		if _, err := tx.Delete(localByID[id]); err != nil {
			return err
		}
	}
	return nil
}
