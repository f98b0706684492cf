// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// Start powers an offline instance on.
func (p *Provisioner) Start(ctx context.Context, instance *models.Instance, tb backend.TenantBackend) error {
	err := p.advance(instance, models.InstanceStateStartingScheduled, models.InstanceStateStarting)
	if err != nil {
		return err
	}
	if err := tb.StartServer(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusActive); err != nil {
		return err
	}
	return p.finish(instance, models.InstanceStateOnline, "started")
}

// Stop powers an online instance off.
func (p *Provisioner) Stop(ctx context.Context, instance *models.Instance, tb backend.TenantBackend) error {
	err := p.advance(instance, models.InstanceStateStoppingScheduled, models.InstanceStateStopping)
	if err != nil {
		return err
	}
	if err := tb.StopServer(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusShutoff); err != nil {
		return err
	}
	return p.finish(instance, models.InstanceStateOffline, "stopped")
}

// Restart power-cycles an online instance.
func (p *Provisioner) Restart(ctx context.Context, instance *models.Instance, tb backend.TenantBackend) error {
	err := p.advance(instance, models.InstanceStateRestartingScheduled, models.InstanceStateRestarting)
	if err != nil {
		return err
	}
	if err := tb.StopServer(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusShutoff); err != nil {
		return err
	}
	if err := tb.StartServer(ctx, instance.BackendID); err != nil {
		return err
	}
	if err := tb.WaitServerStatus(ctx, instance.BackendID, serverStatusActive); err != nil {
		return err
	}
	return p.finish(instance, models.InstanceStateOnline, "restarted")
}

func (p *Provisioner) advance(instance *models.Instance, scheduled, running models.InstanceState) error {
	return p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		if instance.State != scheduled {
			if err := models.TransitionInstance(tx, instance, scheduled); err != nil {
				return err
			}
		}
		return models.TransitionInstance(tx, instance, running)
	})
}

func (p *Provisioner) finish(instance *models.Instance, target models.InstanceState, verb string) error {
	err := p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		return models.TransitionInstance(tx, instance, target)
	})
	if err != nil {
		return err
	}
	p.Sink.Emit(events.LevelInfo, events.TypeResourceStateChanged,
		fmt.Sprintf("Instance %s %s.", instance.Name, verb),
		events.InstanceContext(instance))
	return nil
}
