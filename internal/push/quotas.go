// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// PushQuotas writes the link's local quota limits to the backend.
// Storage is tracked in MiB locally and converted to GiB at the cinder
// edge. Scheduled whenever a limit changes locally.
func (p *Pusher) PushQuotas(ctx context.Context, link *models.ServiceProjectLink, ledger *quotas.Ledger, tb backend.TenantBackend) error {
	scope := quotas.LinkScope(link.UUID)
	limit := func(name string) (float64, error) {
		quota, err := ledger.Get(p.DB.DbMap, scope, name)
		if err != nil {
			return 0, err
		}
		return quota.Limit, nil
	}

	ram, err := limit(quotas.RAM)
	if err != nil {
		return err
	}
	vcpu, err := limit(quotas.VCPU)
	if err != nil {
		return err
	}
	maxInstances, err := limit(quotas.MaxInstances)
	if err != nil {
		return err
	}
	storage, err := limit(quotas.Storage)
	if err != nil {
		return err
	}

	err = tb.SetComputeQuota(ctx, backend.ComputeQuota{
		RAM:       int(ram),
		Cores:     int(vcpu),
		Instances: int(maxInstances),
	})
	if err != nil {
		return err
	}
	return tb.SetVolumeQuota(ctx, backend.VolumeQuota{
		Gigabytes: int(storage) / 1024,
	})
}
