// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package push propagates local desired state to the remote backend.
// All operations are idempotent and safe to re-run after a partial
// failure.
package push

import (
	"context"
	"log/slog"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/sethvargo/go-password/password"
)

// Pusher propagates links, keys, security groups and quota limits.
type Pusher struct {
	DB   *db.DB
	Sink events.Sink
	// Security groups every new link starts with.
	DefaultGroups []conf.DefaultSecurityGroup
}

// Walk the sync state machine to Syncing through whatever legal edges
// the current state requires.
func startSync(tx gorp.SqlExecutor, e models.SyncStateful) error {
	if e.GetSyncState() == models.SyncStateSyncing {
		return nil
	}
	if e.GetSyncState() != models.SyncStateScheduled {
		if err := models.TransitionSync(tx, e, models.SyncStateScheduled); err != nil {
			return err
		}
	}
	return models.TransitionSync(tx, e, models.SyncStateSyncing)
}

// PropagateLink materializes a service project link on the backend:
// tenant, tenant admin user, internal network. Pre-existing backend
// objects are adopted rather than treated as errors, so a re-run after
// a partial failure converges.
func (p *Pusher) PropagateLink(ctx context.Context, link *models.ServiceProjectLink, b backend.Backend) error {
	var project models.Project
	err := p.DB.SelectOne(&project,
		"SELECT * FROM projects WHERE uuid = :uuid",
		map[string]any{"uuid": link.ProjectUUID})
	if err != nil {
		return err
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return startSync(tx, link)
	})
	if err != nil {
		return err
	}

	tenantName := models.TenantName(project.UUID, project.Name)
	tenantID, err := b.GetOrCreateTenant(ctx, tenantName)
	if err != nil {
		return err
	}
	link.TenantID = tenantID

	valid := false
	if link.Username != "" {
		valid, err = b.CheckUserPassword(ctx, link.Username, link.Password)
		if err != nil {
			return err
		}
	}
	if !valid {
		random, err := password.Generate(8, 2, 0, false, true)
		if err != nil {
			return err
		}
		secret, err := password.Generate(32, 10, 0, false, true)
		if err != nil {
			return err
		}
		username := random + "-" + project.Name
		slog.Info("creating tenant user", "username", username, "tenantID", tenantID)
		if err := b.CreateUser(ctx, username, secret); err != nil {
			return err
		}
		link.Username = username
		link.Password = secret
	}
	if err := b.EnsureUserIsTenantAdmin(ctx, link.Username, tenantID); err != nil {
		return err
	}

	networkID, err := b.GetOrCreateInternalNetwork(ctx, tenantID, tenantName)
	if err != nil {
		return err
	}
	link.InternalNetworkID = networkID

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if err := p.ensureDefaultGroups(tx, link); err != nil {
			return err
		}
		return models.TransitionSync(tx, link, models.SyncStateInSync)
	})
	if err != nil {
		return err
	}
	p.Sink.Emit(events.LevelInfo, events.TypeLinkSyncSucceeded,
		"Service project link synchronization succeeded.", events.LinkContext(link))
	return nil
}

// Every new link starts with the configured default security groups
// as local records in New state. The group push materializes them.
func (p *Pusher) ensureDefaultGroups(tx gorp.SqlExecutor, link *models.ServiceProjectLink) error {
	for _, def := range p.DefaultGroups {
		count, err := tx.SelectInt(
			"SELECT COUNT(*) FROM security_groups WHERE link_uuid = :link AND name = :name",
			map[string]any{"link": link.UUID, "name": def.Name})
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		group := &models.SecurityGroup{
			UUID:        uuid.NewString(),
			LinkUUID:    link.UUID,
			Name:        def.Name,
			Description: def.Description,
			State:       models.SyncStateNew,
		}
		if err := tx.Insert(group); err != nil {
			return err
		}
		for _, rule := range def.Rules {
			err := tx.Insert(&models.SecurityGroupRule{
				UUID:      uuid.NewString(),
				GroupUUID: group.UUID,
				Protocol:  rule.Protocol,
				FromPort:  rule.FromPort,
				ToPort:    rule.ToPort,
				CIDR:      rule.CIDR,
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
