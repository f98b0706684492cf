// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/nodeconductor/nodeconductor/internal/backend"
)

// CreateServer boots a server from the pre-created volumes. Both
// volumes are deleted on termination.
func (t *tenant) CreateServer(ctx context.Context, opts backend.CreateServerOpts) (string, error) {
	availabilityZone := opts.AvailabilityZone
	if availabilityZone == "" {
		availabilityZone = t.creds.AvailabilityZone
	}

	createOpts := servers.CreateOpts{
		Name:             opts.Name,
		FlavorRef:        opts.FlavorID,
		AvailabilityZone: availabilityZone,
		Networks:         []servers.Network{{UUID: opts.NetworkID}},
		SecurityGroups:   opts.SecurityGroupIDs,
		BlockDevice: []servers.BlockDevice{
			{
				BootIndex:           0,
				SourceType:          servers.SourceVolume,
				DestinationType:     servers.DestinationVolume,
				UUID:                opts.SystemVolumeID,
				DeleteOnTermination: true,
			},
			{
				BootIndex:           -1,
				SourceType:          servers.SourceVolume,
				DestinationType:     servers.DestinationVolume,
				UUID:                opts.DataVolumeID,
				DeleteOnTermination: true,
			},
		},
	}

	slog.Info("creating server", "name", opts.Name, "flavorID", opts.FlavorID)
	server, err := servers.Create(ctx, t.compute, keypairs.CreateOptsExt{
		CreateOptsBuilder: createOpts,
		KeyName:           opts.KeyName,
	}, nil).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return server.ID, nil
}

func (t *tenant) getServer(ctx context.Context, id string) (*servers.Server, error) {
	server, err := servers.Get(ctx, t.compute, id).Extract()
	if err != nil {
		return nil, backend.Classify(err)
	}
	return server, nil
}

// WaitServerStatus polls until the server reaches the target status.
// The ERROR status fails immediately.
func (t *tenant) WaitServerStatus(ctx context.Context, id, target string) error {
	return backend.Poll(ctx, "server "+id+" to become "+target, func(ctx context.Context) (bool, error) {
		server, err := t.getServer(ctx, id)
		if err != nil {
			return false, err
		}
		if server.Status == "ERROR" && target != "ERROR" {
			return false, &backend.InternalError{Err: errors.New("server " + id + " entered ERROR status")}
		}
		return server.Status == target, nil
	})
}

// WaitServerDeleted polls until the server is gone.
func (t *tenant) WaitServerDeleted(ctx context.Context, id string) error {
	return backend.Poll(ctx, "server "+id+" to be deleted", func(ctx context.Context) (bool, error) {
		_, err := t.getServer(ctx, id)
		if errors.Is(err, backend.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
}

func (t *tenant) StartServer(ctx context.Context, id string) error {
	slog.Info("starting server", "id", id)
	return backend.Classify(servers.Start(ctx, t.compute, id).ExtractErr())
}

func (t *tenant) StopServer(ctx context.Context, id string) error {
	slog.Info("stopping server", "id", id)
	return backend.Classify(servers.Stop(ctx, t.compute, id).ExtractErr())
}

func (t *tenant) DeleteServer(ctx context.Context, id string) error {
	slog.Info("deleting server", "id", id)
	return backend.Classify(servers.Delete(ctx, t.compute, id).ExtractErr())
}

// ResizeServer submits a resize with manual revert policy; the caller
// confirms once the server reaches VERIFY_RESIZE.
func (t *tenant) ResizeServer(ctx context.Context, id, flavorID string) error {
	slog.Info("resizing server", "id", id, "flavorID", flavorID)
	return backend.Classify(servers.Resize(ctx, t.compute, id, servers.ResizeOpts{
		FlavorRef: flavorID,
	}).ExtractErr())
}

func (t *tenant) ConfirmServerResize(ctx context.Context, id string) error {
	slog.Info("confirming server resize", "id", id)
	return backend.Classify(servers.ConfirmResize(ctx, t.compute, id).ExtractErr())
}

func (t *tenant) ListServers(ctx context.Context) ([]backend.RemoteServer, error) {
	pages, err := servers.List(t.compute, servers.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteServer, len(remote))
	for i, server := range remote {
		converted := backend.RemoteServer{
			ID:      server.ID,
			Name:    server.Name,
			Status:  server.Status,
			KeyName: server.KeyName,
		}
		if id, ok := server.Flavor["id"].(string); ok {
			converted.FlavorID = id
		}
		converted.ExternalIPs, converted.InternalIPs = extractAddresses(server.Addresses)
		result[i] = converted
	}
	return result, nil
}

// Nova reports addresses per network as a list of maps carrying the
// address and whether it is floating or fixed.
func extractAddresses(addresses map[string]any) (external, internal []string) {
	for _, entries := range addresses {
		list, ok := entries.([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			addr, ok := fields["addr"].(string)
			if !ok {
				continue
			}
			kind, _ := fields["OS-EXT-IPS:type"].(string)
			if strings.EqualFold(kind, "floating") {
				external = append(external, addr)
			} else {
				internal = append(internal, addr)
			}
		}
	}
	return external, internal
}
