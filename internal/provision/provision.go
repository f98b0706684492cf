// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision drives the multi-step instance lifecycle
// pipelines: boot, resize, delete, backup and restore. Each pipeline
// advances the instance state machine as it goes; a failed step leaves
// the instance for the caller's error handler to mark Erred.
package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// Remote status words the pipelines wait for.
const (
	volumeStatusAvailable = "available"
	volumeStatusError     = "error"
	volumeStatusInUse     = "in-use"

	serverStatusActive       = "ACTIVE"
	serverStatusShutoff      = "SHUTOFF"
	serverStatusVerifyResize = "VERIFY_RESIZE"
)

// Provisioner runs the instance lifecycle pipelines.
type Provisioner struct {
	DB     *db.DB
	Sink   events.Sink
	Ledger *quotas.Ledger
}

// Quota deltas one booted instance draws from its link.
func bootDeltas(i *models.Instance) map[string]float64 {
	return map[string]float64{
		quotas.VCPU:         float64(i.Cores),
		quotas.RAM:          float64(i.RAM),
		quotas.Storage:      float64(i.SystemVolumeSize + i.DataVolumeSize),
		quotas.MaxInstances: 1,
	}
}

// PreflightBoot validates that the link has quota headroom for the
// instance. Request handlers call this before scheduling the boot.
func (p *Provisioner) PreflightBoot(instance *models.Instance, link *models.ServiceProjectLink) error {
	return p.Ledger.ValidateChange(p.DB.DbMap, quotas.LinkScope(link.UUID), bootDeltas(instance))
}

// Boot materializes a scheduled instance: volumes, server, waits. The
// pipeline is re-entrant; ids are persisted as soon as they are known
// so a retry skips completed steps.
func (p *Provisioner) Boot(ctx context.Context, instance *models.Instance, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return models.TransitionInstance(tx, instance, models.InstanceStateProvisioning)
	})
	if err != nil {
		return err
	}

	var project models.Project
	err = p.DB.SelectOne(&project,
		"SELECT * FROM projects WHERE uuid = :uuid",
		map[string]any{"uuid": link.ProjectUUID})
	if err != nil {
		return err
	}
	networkID, err := tb.ResolveNetwork(ctx, models.TenantName(project.UUID, project.Name))
	if err != nil {
		return err
	}

	keyName := ""
	if instance.KeyName != "" {
		key, err := tb.FindKeypair(ctx, instance.KeyFingerprint, instance.KeyName)
		if err != nil {
			return err
		}
		keyName = key.Name
	}

	if instance.SystemVolumeID == "" {
		id, err := tb.CreateVolume(ctx, instance.SystemVolumeSize/1024,
			instance.Name+"-system", instance.ImageBackendID)
		if err != nil {
			return err
		}
		instance.SystemVolumeID = id
		if _, err := p.DB.Update(instance); err != nil {
			return err
		}
	}
	if err := tb.WaitVolumeStatus(ctx, instance.SystemVolumeID, volumeStatusAvailable, volumeStatusError); err != nil {
		return err
	}
	if instance.DataVolumeID == "" {
		id, err := tb.CreateVolume(ctx, instance.DataVolumeSize/1024, instance.Name+"-data", "")
		if err != nil {
			return err
		}
		instance.DataVolumeID = id
		if _, err := p.DB.Update(instance); err != nil {
			return err
		}
	}
	if err := tb.WaitVolumeStatus(ctx, instance.DataVolumeID, volumeStatusAvailable, volumeStatusError); err != nil {
		return err
	}

	groupIDs, err := p.securityGroupIDs(instance)
	if err != nil {
		return err
	}

	if instance.BackendID == "" {
		slog.Info("creating server", "instance", instance.UUID, "name", instance.Name)
		serverID, err := tb.CreateServer(ctx, backend.CreateServerOpts{
			Name:             instance.Name,
			FlavorID:         instance.FlavorBackendID,
			SystemVolumeID:   instance.SystemVolumeID,
			DataVolumeID:     instance.DataVolumeID,
			NetworkID:        networkID,
			KeyName:          keyName,
			SecurityGroupIDs: groupIDs,
			AvailabilityZone: instance.AvailabilityZone,
		})
		if err != nil {
			return err
		}
		instance.BackendID = serverID
		if _, err := p.DB.Update(instance); err != nil {
			return err
		}
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusActive); err != nil {
		return err
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		scope := quotas.LinkScope(link.UUID)
		for name, delta := range bootDeltas(instance) {
			if err := p.Ledger.AddUsage(tx, scope, name, delta); err != nil {
				return err
			}
		}
		return models.TransitionInstance(tx, instance, models.InstanceStateOnline)
	})
	if err != nil {
		return err
	}
	p.Sink.Emit(events.LevelInfo, events.TypeResourceCreationSucceeded,
		fmt.Sprintf("Instance %s creation succeeded.", instance.Name),
		events.InstanceContext(instance))
	return nil
}

// Backend ids of the synchronized security groups attached to the
// instance.
func (p *Provisioner) securityGroupIDs(instance *models.Instance) ([]string, error) {
	var groups []models.SecurityGroup
	_, err := p.DB.Select(&groups, `
		SELECT g.* FROM security_groups g
		JOIN instance_security_groups m ON m.group_uuid = g.uuid
		WHERE m.instance_uuid = :instance AND g.backend_id != ''`,
		map[string]any{"instance": instance.UUID})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(groups))
	for i, group := range groups {
		ids[i] = group.BackendID
	}
	return ids, nil
}

// Fail marks the instance Erred and records the cause. Task error
// handlers call this when any pipeline step gives up.
func (p *Provisioner) Fail(instance *models.Instance, cause error) {
	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return models.TransitionInstance(tx, instance, models.InstanceStateErred)
	})
	if err != nil {
		slog.Error("failed to mark instance erred", "instance", instance.UUID, "error", err)
	}
	p.Sink.Emit(events.LevelError, events.TypeResourceCreationFailed,
		fmt.Sprintf("Instance %s provisioning failed: %v.", instance.Name, cause),
		events.InstanceContext(instance))
}
