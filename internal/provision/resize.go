// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// Request errors of the resize surface. The wording is part of the
// API contract.
var (
	ErrResizeBothRequested    = errors.New("Cannot resize both disk size and flavor simultaneously")
	ErrResizeNothingRequested = errors.New("Either disk_size or flavor is required")
)

// Resize changes either the flavor or the data disk size of an
// offline instance, never both in one request.
func (p *Provisioner) Resize(ctx context.Context, instance *models.Instance, link *models.ServiceProjectLink, flavor *models.Flavor, newDiskSize int, tb backend.TenantBackend) error {
	if flavor != nil && newDiskSize > 0 {
		return ErrResizeBothRequested
	}
	if flavor == nil && newDiskSize == 0 {
		return ErrResizeNothingRequested
	}
	if flavor != nil {
		return p.resizeFlavor(ctx, instance, link, flavor, tb)
	}
	return p.extendDisk(ctx, instance, link, newDiskSize, tb)
}

func (p *Provisioner) resizeFlavor(ctx context.Context, instance *models.Instance, link *models.ServiceProjectLink, flavor *models.Flavor, tb backend.TenantBackend) error {
	var service models.Service
	err := p.DB.SelectOne(&service,
		"SELECT * FROM services WHERE uuid = :uuid",
		map[string]any{"uuid": link.ServiceUUID})
	if err != nil {
		return err
	}
	if flavor.SettingsUUID != service.SettingsUUID {
		return fmt.Errorf("new flavor is not within the same service settings")
	}

	deltas := map[string]float64{
		quotas.VCPU: float64(flavor.Cores - instance.Cores),
		quotas.RAM:  float64(flavor.RAM - instance.RAM),
	}
	if err := p.Ledger.ValidateChange(p.DB.DbMap, quotas.LinkScope(link.UUID), deltas); err != nil {
		return err
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if err := models.TransitionInstance(tx, instance, models.InstanceStateResizingScheduled); err != nil {
			return err
		}
		return models.TransitionInstance(tx, instance, models.InstanceStateResizing)
	})
	if err != nil {
		return err
	}

	if err := tb.ResizeServer(ctx, instance.BackendID, flavor.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusVerifyResize); err != nil {
		return err
	}
	if err := tb.ConfirmServerResize(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusShutoff); err != nil {
		return err
	}

	return p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		scope := quotas.LinkScope(link.UUID)
		for name, delta := range deltas {
			if err := p.Ledger.AddUsage(tx, scope, name, delta); err != nil {
				return err
			}
		}
		instance.Cores = flavor.Cores
		instance.RAM = flavor.RAM
		instance.FlavorBackendID = flavor.BackendID
		instance.FlavorName = flavor.Name
		return models.TransitionInstance(tx, instance, models.InstanceStateOffline)
	})
}

func (p *Provisioner) extendDisk(ctx context.Context, instance *models.Instance, link *models.ServiceProjectLink, newDiskSize int, tb backend.TenantBackend) error {
	if newDiskSize <= instance.DataVolumeSize {
		return fmt.Errorf("disk size must be greater than the current %d", instance.DataVolumeSize)
	}
	deltas := map[string]float64{
		quotas.Storage: float64(newDiskSize - instance.DataVolumeSize),
	}
	if err := p.Ledger.ValidateChange(p.DB.DbMap, quotas.LinkScope(link.UUID), deltas); err != nil {
		return err
	}

	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if err := models.TransitionInstance(tx, instance, models.InstanceStateResizingScheduled); err != nil {
			return err
		}
		return models.TransitionInstance(tx, instance, models.InstanceStateResizing)
	})
	if err != nil {
		return err
	}

	if err := tb.DetachVolume(ctx, instance.BackendID, instance.DataVolumeID); err != nil {
		return err
	}
	if err := tb.WaitVolumeStatus(ctx, instance.DataVolumeID, volumeStatusAvailable, volumeStatusError); err != nil {
		return err
	}
	if err := tb.ExtendVolume(ctx, instance.DataVolumeID, newDiskSize/1024); err != nil {
		return err
	}
	if err := tb.WaitVolumeStatus(ctx, instance.DataVolumeID, volumeStatusAvailable, volumeStatusError); err != nil {
		return err
	}
	if err := tb.AttachVolume(ctx, instance.BackendID, instance.DataVolumeID); err != nil {
		return err
	}
	if err := tb.WaitVolumeStatus(ctx, instance.DataVolumeID, volumeStatusInUse, volumeStatusError); err != nil {
		return err
	}

	return p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		scope := quotas.LinkScope(link.UUID)
		for name, delta := range deltas {
			if err := p.Ledger.AddUsage(tx, scope, name, delta); err != nil {
				return err
			}
		}
		instance.DataVolumeSize = newDiskSize
		return models.TransitionInstance(tx, instance, models.InstanceStateOffline)
	})
}
