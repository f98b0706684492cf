// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"

	computequotas "github.com/gophercloud/gophercloud/v2/openstack/compute/v2/quotasets"
	volumequotas "github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/quotasets"
	"github.com/nodeconductor/nodeconductor/internal/backend"
)

func (t *tenant) GetComputeQuota(ctx context.Context) (backend.ComputeQuota, error) {
	var result backend.ComputeQuota
	quota, err := computequotas.Get(ctx, t.compute, t.access.TenantID).Extract()
	if err != nil {
		return result, backend.Classify(err)
	}
	result.RAM = quota.RAM
	result.Cores = quota.Cores
	result.Instances = quota.Instances
	return result, nil
}

func (t *tenant) SetComputeQuota(ctx context.Context, quota backend.ComputeQuota) error {
	slog.Info("setting compute quota", "tenantID", t.access.TenantID,
		"ram", quota.RAM, "cores", quota.Cores, "instances", quota.Instances)
	_, err := computequotas.Update(ctx, t.compute, t.access.TenantID, computequotas.UpdateOpts{
		RAM:       &quota.RAM,
		Cores:     &quota.Cores,
		Instances: &quota.Instances,
	}).Extract()
	return backend.Classify(err)
}

func (t *tenant) GetVolumeQuota(ctx context.Context) (backend.VolumeQuota, error) {
	var result backend.VolumeQuota
	quota, err := volumequotas.Get(ctx, t.volume, t.access.TenantID).Extract()
	if err != nil {
		return result, backend.Classify(err)
	}
	result.Gigabytes = quota.Gigabytes
	return result, nil
}

func (t *tenant) SetVolumeQuota(ctx context.Context, quota backend.VolumeQuota) error {
	slog.Info("setting volume quota", "tenantID", t.access.TenantID, "gigabytes", quota.Gigabytes)
	_, err := volumequotas.Update(ctx, t.volume, t.access.TenantID, volumequotas.UpdateOpts{
		Gigabytes: &quota.Gigabytes,
	}).Extract()
	return backend.Classify(err)
}
