// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// Rule identity for the push diff. Backend ids do not participate;
// two rules are the same rule iff these four fields match.
func ruleKey(protocol string, fromPort, toPort int, cidr string) string {
	return fmt.Sprintf("%s/%d/%d/%s", protocol, fromPort, toPort, cidr)
}

// PushSecurityGroups reconciles the backend's security groups of one
// link with the local desired state: local groups missing remotely are
// created, groups present on both sides but differing are updated,
// remote groups with no local counterpart are deleted.
func (p *Pusher) PushSecurityGroups(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	remote, err := tb.ListSecurityGroups(ctx)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]backend.RemoteSecurityGroup, len(remote))
	for _, group := range remote {
		remoteByID[group.ID] = group
	}

	var local []models.SecurityGroup
	_, err = p.DB.Select(&local,
		"SELECT * FROM security_groups WHERE link_uuid = :link",
		map[string]any{"link": link.UUID})
	if err != nil {
		return err
	}

	matched := map[string]bool{}
	for i := range local {
		group := &local[i]
		var localRules []models.SecurityGroupRule
		_, err := p.DB.Select(&localRules,
			"SELECT * FROM security_group_rules WHERE group_uuid = :group",
			map[string]any{"group": group.UUID})
		if err != nil {
			return err
		}

		remoteGroup, exists := remoteByID[group.BackendID]
		if group.BackendID == "" || !exists {
			if err := p.createGroup(ctx, group, localRules, tb); err != nil {
				p.Sink.Emit(events.LevelError, events.TypeResourceCreationFailed,
					"Security group synchronization failed.", events.SecurityGroupContext(group))
				return err
			}
			continue
		}
		matched[group.BackendID] = true
		if err := p.updateGroup(ctx, group, localRules, remoteGroup, tb); err != nil {
			return err
		}
	}

	// Remote groups nothing local claims.
	for id := range remoteByID {
		if matched[id] {
			continue
		}
		if err := tb.DeleteSecurityGroup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pusher) createGroup(ctx context.Context, group *models.SecurityGroup, localRules []models.SecurityGroupRule, tb backend.TenantBackend) error {
	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return startSync(tx, group)
	})
	if err != nil {
		return err
	}

	backendID, err := tb.CreateSecurityGroup(ctx, group.Name, group.Description)
	if err != nil {
		return err
	}
	group.BackendID = backendID
	for i := range localRules {
		rule := &localRules[i]
		ruleID, err := tb.CreateSecurityGroupRule(ctx, backendID, backend.RemoteRule{
			Protocol: rule.Protocol,
			FromPort: rule.FromPort,
			ToPort:   rule.ToPort,
			CIDR:     rule.CIDR,
		})
		if err != nil {
			return err
		}
		rule.BackendID = ruleID
	}

	return p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		for i := range localRules {
			if _, err := tx.Update(&localRules[i]); err != nil {
				return err
			}
		}
		return models.TransitionSync(tx, group, models.SyncStateInSync)
	})
}

func (p *Pusher) updateGroup(ctx context.Context, group *models.SecurityGroup, localRules []models.SecurityGroupRule, remoteGroup backend.RemoteSecurityGroup, tb backend.TenantBackend) error {
	scalarsDiffer := group.Name != remoteGroup.Name || group.Description != remoteGroup.Description

	localByKey := make(map[string]*models.SecurityGroupRule, len(localRules))
	for i := range localRules {
		rule := &localRules[i]
		localByKey[ruleKey(rule.Protocol, rule.FromPort, rule.ToPort, rule.CIDR)] = rule
	}
	remoteByKey := make(map[string]backend.RemoteRule, len(remoteGroup.Rules))
	for _, rule := range remoteGroup.Rules {
		remoteByKey[ruleKey(rule.Protocol, rule.FromPort, rule.ToPort, rule.CIDR)] = rule
	}

	rulesDiffer := len(localByKey) != len(remoteByKey)
	for key := range localByKey {
		if _, ok := remoteByKey[key]; !ok {
			rulesDiffer = true
		}
	}
	if !scalarsDiffer && !rulesDiffer {
		return nil
	}

	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return startSync(tx, group)
	})
	if err != nil {
		return err
	}

	if scalarsDiffer {
		if err := tb.UpdateSecurityGroup(ctx, group.BackendID, group.Name, group.Description); err != nil {
			return err
		}
	}
	for key, remoteRule := range remoteByKey {
		if _, ok := localByKey[key]; ok {
			continue
		}
		if err := tb.DeleteSecurityGroupRule(ctx, remoteRule.ID); err != nil {
			return err
		}
	}
	for key, localRule := range localByKey {
		if remoteRule, ok := remoteByKey[key]; ok {
			localRule.BackendID = remoteRule.ID
			continue
		}
		ruleID, err := tb.CreateSecurityGroupRule(ctx, group.BackendID, backend.RemoteRule{
			Protocol: localRule.Protocol,
			FromPort: localRule.FromPort,
			ToPort:   localRule.ToPort,
			CIDR:     localRule.CIDR,
		})
		if err != nil {
			return err
		}
		localRule.BackendID = ruleID
	}

	return p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		for i := range localRules {
			if _, err := tx.Update(&localRules[i]); err != nil {
				return err
			}
		}
		return models.TransitionSync(tx, group, models.SyncStateInSync)
	})
}

// PushInstanceSecurityGroups aligns the group membership of a running
// server with the locally attached groups.
func (p *Pusher) PushInstanceSecurityGroups(ctx context.Context, instance *models.Instance, tb backend.TenantBackend) error {
	var groups []models.SecurityGroup
	_, err := p.DB.Select(&groups, `
		SELECT g.* FROM security_groups g
		JOIN instance_security_groups m ON m.group_uuid = g.uuid
		WHERE m.instance_uuid = :instance`,
		map[string]any{"instance": instance.UUID})
	if err != nil {
		return err
	}
	desired := make([]string, len(groups))
	for i, group := range groups {
		desired[i] = group.Name
	}
	attached, err := tb.ListServerSecurityGroups(ctx, instance.BackendID)
	if err != nil {
		return err
	}

	desiredSet := make(map[string]bool, len(desired))
	for _, name := range desired {
		desiredSet[name] = true
	}
	attachedSet := make(map[string]bool, len(attached))
	for _, name := range attached {
		attachedSet[name] = true
	}

	for _, name := range desired {
		if !attachedSet[name] {
			if err := tb.AddServerSecurityGroup(ctx, instance.BackendID, name); err != nil {
				return err
			}
		}
	}
	for _, name := range attached {
		if !desiredSet[name] {
			if err := tb.RemoveServerSecurityGroup(ctx, instance.BackendID, name); err != nil {
				return err
			}
		}
	}
	return nil
}
