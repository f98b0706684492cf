// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// Delete removes the instance from the backend and then from the
// local mirror. An instance that never reached the backend is removed
// locally right away. Floating ips associated with the instance go
// back to DOWN but stay allocated to the tenant.
func (p *Provisioner) Delete(ctx context.Context, instance *models.Instance, link *models.ServiceProjectLink, tb backend.TenantBackend) error {
	if instance.BackendID == "" {
		err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
			return p.dropInstance(tx, instance, link)
		})
		if err != nil {
			return err
		}
		p.Sink.Emit(events.LevelInfo, events.TypeResourceDeletionSucceeded,
			fmt.Sprintf("Instance %s deletion succeeded.", instance.Name),
			events.InstanceContext(instance))
		return nil
	}

	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if instance.State != models.InstanceStateDeletionScheduled {
			if err := models.TransitionInstance(tx, instance, models.InstanceStateDeletionScheduled); err != nil {
				return err
			}
		}
		return models.TransitionInstance(tx, instance, models.InstanceStateDeleting)
	})
	if err != nil {
		return err
	}

	if err := tb.DeleteServer(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerDeleted(ctx, instance.BackendID); err != nil {
		return err
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if err := p.releaseFloatingIPs(tx, instance, link); err != nil {
			return err
		}
		return p.dropInstance(tx, instance, link)
	})
	if err != nil {
		return err
	}
	p.Sink.Emit(events.LevelInfo, events.TypeResourceDeletionSucceeded,
		fmt.Sprintf("Instance %s deletion succeeded.", instance.Name),
		events.InstanceContext(instance))
	return nil
}

// Drop the row, its group memberships and its quota draw.
func (p *Provisioner) dropInstance(tx *gorp.Transaction, instance *models.Instance, link *models.ServiceProjectLink) error {
	scope := quotas.LinkScope(link.UUID)
	// Only a booted instance holds usage.
	if instance.State.PostProvisioning() || instance.State == models.InstanceStateDeleting {
		for name, delta := range bootDeltas(instance) {
			if err := p.Ledger.AddUsage(tx, scope, name, -delta); err != nil {
				return err
			}
		}
	}
	_, err := tx.Exec("DELETE FROM instance_security_groups WHERE instance_uuid = $1", instance.UUID)
	if err != nil {
		return err
	}
	_, err = tx.Delete(instance)
	return err
}

// Floating ips whose address the instance held transition from ACTIVE
// back to DOWN, not deallocated.
func (p *Provisioner) releaseFloatingIPs(tx *gorp.Transaction, instance *models.Instance, link *models.ServiceProjectLink) error {
	held := map[string]bool{}
	for _, address := range strings.Split(instance.ExternalIPs, ",") {
		if address != "" {
			held[address] = true
		}
	}
	if len(held) == 0 {
		return nil
	}
	var ips []models.FloatingIP
	_, err := tx.Select(&ips,
		"SELECT * FROM floating_ips WHERE link_uuid = :link AND status = :status",
		map[string]any{"link": link.UUID, "status": models.FloatingIPStatusActive})
	if err != nil {
		return err
	}
	for i := range ips {
		ip := &ips[i]
		if !held[ip.Address] {
			continue
		}
		ip.Status = models.FloatingIPStatusDown
		if _, err := tx.Update(ip); err != nil {
			return err
		}
	}
	return nil
}

// BookFloatingIP reserves a DOWN floating ip of the link for an
// instance being provisioned. Returns ErrNotFound when the tenant has
// no free ip.
func (p *Provisioner) BookFloatingIP(link *models.ServiceProjectLink) (*models.FloatingIP, error) {
	var ip models.FloatingIP
	err := p.DB.SelectOne(&ip,
		"SELECT * FROM floating_ips WHERE link_uuid = :link AND status = :status AND backend_id != ''",
		map[string]any{"link": link.UUID, "status": models.FloatingIPStatusDown})
	if err != nil {
		return nil, backend.ErrNotFound
	}
	ip.Status = models.FloatingIPStatusBooked
	if _, err := p.DB.Update(&ip); err != nil {
		return nil, err
	}
	return &ip, nil
}
