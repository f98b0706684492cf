// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"

	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/nodeconductor/nodeconductor/internal/backend"
)

// ListFlavors returns all public flavors of the deployment.
func (o *OpenStack) ListFlavors(ctx context.Context) ([]backend.RemoteFlavor, error) {
	compute, err := o.adminClient(ctx, openstack.NewComputeV2)
	if err != nil {
		return nil, err
	}

	pages, err := flavors.ListDetail(compute, flavors.ListOpts{
		AccessType: flavors.PublicAccess,
	}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteFlavor, len(remote))
	for i, f := range remote {
		result[i] = backend.RemoteFlavor{
			ID:    f.ID,
			Name:  f.Name,
			Cores: f.VCPUs,
			RAM:   f.RAM,
			// Nova reports disk in GiB.
			Disk: f.Disk * 1024,
		}
	}
	slog.Info("fetched flavors", "count", len(result))
	return result, nil
}

// ListImages returns all active, non-deleted images.
func (o *OpenStack) ListImages(ctx context.Context) ([]backend.RemoteImage, error) {
	image, err := o.adminClient(ctx, openstack.NewImageV2)
	if err != nil {
		return nil, err
	}

	pages, err := images.List(image, images.ListOpts{
		Status: images.ImageStatusActive,
	}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := images.ExtractImages(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteImage, len(remote))
	for i, img := range remote {
		result[i] = backend.RemoteImage{
			ID:     img.ID,
			Name:   img.Name,
			MinRAM: img.MinRAMMegabytes,
			// Glance reports min disk in GiB.
			MinDisk: img.MinDiskGigabytes * 1024,
		}
	}
	slog.Info("fetched images", "count", len(result))
	return result, nil
}
