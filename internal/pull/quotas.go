// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/mqtt"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// PullQuotas refreshes the link's quota limits from the backend.
// Cinder reports storage in GiB; locally all sizes are MiB, so the
// conversion happens here at the edge.
func (p *Puller) PullQuotas(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	compute, err := tb.GetComputeQuota(ctx)
	if err != nil {
		return err
	}
	volume, err := tb.GetVolumeQuota(ctx)
	if err != nil {
		return err
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		scope := quotas.LinkScope(link.UUID)
		limits := map[string]float64{
			quotas.RAM:          float64(compute.RAM),
			quotas.VCPU:         float64(compute.Cores),
			quotas.MaxInstances: float64(compute.Instances),
			quotas.Storage:      float64(volume.Gigabytes * 1024),
		}
		for name, limit := range limits {
			if err := p.Ledger.SetLimit(tx, scope, name, limit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerQuotasSynced)
	return nil
}
