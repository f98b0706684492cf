// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"
	"strings"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/mqtt"
)

// Local state of an imported server, derived from the nova status.
func stateFromStatus(status string) models.InstanceState {
	switch status {
	case "ACTIVE":
		return models.InstanceStateOnline
	case "SHUTOFF", "VERIFY_RESIZE":
		return models.InstanceStateOffline
	}
	return models.InstanceStateErred
}

// PullInstances mirrors the tenant's servers. Instances in a stable
// state that disappeared remotely are marked Erred, never silently
// removed; instances in an unstable state are owned by a pipeline and
// left alone.
func (p *Puller) PullInstances(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	remote, err := tb.ListServers(ctx)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]backend.RemoteServer, len(remote))
	for _, server := range remote {
		remoteByID[server.ID] = server
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		var local []models.Instance
		_, err := tx.Select(&local,
			"SELECT * FROM instances WHERE link_uuid = :link AND backend_id != ''",
			map[string]any{"link": link.UUID})
		if err != nil {
			return err
		}
		localByID := make(map[string]*models.Instance, len(local))
		for i := range local {
			localByID[local[i].BackendID] = &local[i]
		}

		remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
		for _, id := range remoteOnly {
			server := remoteByID[id]
			err := tx.Insert(&models.Instance{
				UUID:            uuid.NewString(),
				LinkUUID:        link.UUID,
				Name:            server.Name,
				State:           stateFromStatus(server.Status),
				BackendID:       server.ID,
				FlavorBackendID: server.FlavorID,
				KeyName:         server.KeyName,
				ExternalIPs:     strings.Join(server.ExternalIPs, ","),
				InternalIPs:     strings.Join(server.InternalIPs, ","),
			})
			if err != nil {
				return err
			}
		}
		for _, id := range both {
			server, instance := remoteByID[id], localByID[id]
			externalIPs := strings.Join(server.ExternalIPs, ",")
			internalIPs := strings.Join(server.InternalIPs, ",")
			if instance.ExternalIPs == externalIPs && instance.InternalIPs == internalIPs &&
				instance.FlavorBackendID == server.FlavorID {
				continue
			}
			instance.ExternalIPs = externalIPs
			instance.InternalIPs = internalIPs
			instance.FlavorBackendID = server.FlavorID
			if _, err := tx.Update(instance); err != nil {
				return err
			}
		}
		for _, id := range localOnly {
			instance := localByID[id]
			if !instance.State.Stable() {
				// A pipeline owns it.
				continue
			}
			if instance.State == models.InstanceStateErred {
				continue
			}
			if err := models.TransitionInstance(tx, instance, models.InstanceStateErred); err != nil {
				return err
			}
			p.Sink.Emit(events.LevelError, events.TypeResourceStateChanged,
				"Instance "+instance.Name+" disappeared from the backend.",
				events.InstanceContext(instance))
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerInstancesSynced)
	return nil
}

// PullFloatingIPs mirrors the tenant's floating ips. Locally BOOKED
// ips without a backend id are reservations and survive the diff.
func (p *Puller) PullFloatingIPs(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	remote, err := tb.ListFloatingIPs(ctx)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]backend.RemoteFloatingIP, len(remote))
	for _, ip := range remote {
		remoteByID[ip.ID] = ip
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		var local []models.FloatingIP
		_, err := tx.Select(&local,
			"SELECT * FROM floating_ips WHERE link_uuid = :link AND backend_id != ''",
			map[string]any{"link": link.UUID})
		if err != nil {
			return err
		}
		localByID := make(map[string]*models.FloatingIP, len(local))
		for i := range local {
			localByID[local[i].BackendID] = &local[i]
		}

		remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
		for _, id := range remoteOnly {
			ip := remoteByID[id]
			err := tx.Insert(&models.FloatingIP{
				UUID:             uuid.NewString(),
				LinkUUID:         link.UUID,
				Address:          ip.Address,
				Status:           ip.Status,
				BackendID:        ip.ID,
				BackendNetworkID: ip.BackendNetworkID,
			})
			if err != nil {
				return err
			}
		}
		for _, id := range both {
			ip, localIP := remoteByID[id], localByID[id]
			// A locally booked ip keeps its reservation marker even
			// while the backend still reports it as DOWN.
			if localIP.Status == models.FloatingIPStatusBooked && ip.Status == models.FloatingIPStatusDown {
				continue
			}
			if localIP.Address == ip.Address && localIP.Status == ip.Status {
				continue
			}
			localIP.Address = ip.Address
			localIP.Status = ip.Status
			if _, err := tx.Update(localIP); err != nil {
				return err
			}
		}
		for _, id := range localOnly {
			if _, err := tx.Delete(localByID[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerFloatingIPsSynced)
	return nil
}
