// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor drives the periodic reconciliation sweeps: pull
// the mirror for every stable link, refresh the public catalogs, scan
// quota thresholds and recover erred links.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/pull"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
	"github.com/nodeconductor/nodeconductor/internal/tasks"
	"github.com/sapcc/go-bits/jobloop"
)

// Fraction of the limit at which a quota is reported.
const quotaAlertThreshold = 0.80

// Task names the supervisor enqueues. The handlers are registered by
// the composition root.
const (
	TaskSyncLink           = "sync_service_project_link"
	TaskRegisterMonitoring = "register_instance_in_monitoring"
)

// Supervisor owns the sweep loop.
type Supervisor struct {
	DB        *db.DB
	Sink      events.Sink
	Ledger    *quotas.Ledger
	Puller    *pull.Puller
	Backends  *backend.Registry
	Scheduler *tasks.Scheduler
	// Admin credentials per auth endpoint.
	Creds []conf.OpenStackCredentials
	// Time between sweeps, jittered.
	Interval time.Duration
}

// Run sweeps until the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jobloop.DefaultJitter(s.Interval)):
		}
	}
}

// Sweep runs one full reconciliation pass. Every step catches its own
// errors so one broken endpoint never starves the others.
func (s *Supervisor) Sweep(ctx context.Context) {
	var allSettings []models.ServiceSettings
	_, err := s.DB.Select(&allSettings, "SELECT * FROM service_settings")
	if err != nil {
		slog.Error("sweep: failed to list service settings", "error", err)
		return
	}

	for i := range allSettings {
		settings := &allSettings[i]
		b, err := s.backendFor(settings)
		if err != nil {
			slog.Error("sweep: no backend for settings", "settings", settings.UUID, "error", err)
			continue
		}
		s.pullCatalogs(ctx, settings, b)
		s.pullLinks(ctx, settings, b)
	}

	s.recoverErredLinks()
	s.scanMonitoringRegistration()
	s.scanQuotaThresholds()
}

func (s *Supervisor) backendFor(settings *models.ServiceSettings) (backend.Backend, error) {
	for _, creds := range s.Creds {
		if creds.AuthURL == settings.BackendURL {
			return s.Backends.Get(settings, creds)
		}
	}
	return nil, fmt.Errorf("no credentials configured for %q", settings.BackendURL)
}

// One catalog pull per endpoint, flavors and images together.
func (s *Supervisor) pullCatalogs(ctx context.Context, settings *models.ServiceSettings, b backend.Backend) {
	if err := s.Puller.PullFlavors(ctx, settings, b); err != nil {
		slog.Error("sweep: flavor pull failed", "settings", settings.UUID, "error", err)
	}
	if err := s.Puller.PullImages(ctx, settings, b); err != nil {
		slog.Error("sweep: image pull failed", "settings", settings.UUID, "error", err)
	}
}

func (s *Supervisor) pullLinks(ctx context.Context, settings *models.ServiceSettings, b backend.Backend) {
	var links []models.ServiceProjectLink
	_, err := s.DB.Select(&links, `
		SELECT l.* FROM service_project_links l
		JOIN services s ON l.service_uuid = s.uuid
		WHERE s.settings_uuid = :settings`,
		map[string]any{"settings": settings.UUID})
	if err != nil {
		slog.Error("sweep: failed to list links", "settings", settings.UUID, "error", err)
		return
	}

	for i := range links {
		link := &links[i]
		// An unstable link is owned by a running push.
		if link.State != models.SyncStateInSync {
			continue
		}
		tb, err := b.Tenant(ctx, backend.TenantAccess{
			TenantID: link.TenantID,
			Username: link.Username,
			Password: link.Password,
		})
		if err != nil {
			slog.Error("sweep: failed to open tenant session", "link", link.UUID, "error", err)
			continue
		}
		s.pullLink(ctx, link, tb)
	}
}

// The per-link pull order is fixed; a failed step is reported and the
// next step still runs.
func (s *Supervisor) pullLink(ctx context.Context, link *models.ServiceProjectLink, tb backend.TenantBackend) {
	steps := []struct {
		name string
		run  func() error
	}{
		{"security_groups", func() error { return s.Puller.PullSecurityGroups(ctx, link, tb) }},
		{"instances", func() error { return s.Puller.PullInstances(ctx, link, tb) }},
		{"quota", func() error { return s.Puller.PullQuotas(ctx, link, tb) }},
		{"floating_ips", func() error { return s.Puller.PullFloatingIPs(ctx, link, tb) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			slog.Error("sweep: pull step failed", "link", link.UUID, "step", step.name, "error", err)
			s.Sink.Emit(events.LevelError, events.TypeBackendError,
				fmt.Sprintf("Pull step %s failed: %v.", step.name, err),
				events.LinkContext(link))
		}
	}
}

// Erred links whose settings are healthy again get another sync.
func (s *Supervisor) recoverErredLinks() {
	var links []models.ServiceProjectLink
	_, err := s.DB.Select(&links, `
		SELECT l.* FROM service_project_links l
		JOIN services s ON l.service_uuid = s.uuid
		JOIN service_settings st ON s.settings_uuid = st.uuid
		WHERE l.state = :erred AND st.state = :insync`,
		map[string]any{"erred": models.SyncStateErred, "insync": models.SyncStateInSync})
	if err != nil {
		slog.Error("sweep: failed to list erred links", "error", err)
		return
	}
	for i := range links {
		link := &links[i]
		err := s.DB.WithTransaction(func(tx *gorp.Transaction) error {
			return models.TransitionSync(tx, link, models.SyncStateScheduled)
		})
		if err != nil {
			slog.Error("sweep: failed to reschedule link", "link", link.UUID, "error", err)
			continue
		}
		if s.Scheduler != nil {
			if _, err := s.Scheduler.Enqueue(tasks.Spec{Name: TaskSyncLink, Args: link.UUID}, 0); err != nil {
				slog.Error("sweep: failed to enqueue link sync", "link", link.UUID, "error", err)
			}
		}
	}
}

// Online instances not yet known to the monitoring system get a
// registration task.
func (s *Supervisor) scanMonitoringRegistration() {
	if s.Scheduler == nil {
		return
	}
	var instances []models.Instance
	_, err := s.DB.Select(&instances, `
		SELECT * FROM instances
		WHERE state = :online AND monitoring_host_id = ''`,
		map[string]any{"online": models.InstanceStateOnline})
	if err != nil {
		slog.Error("sweep: failed to list unmonitored instances", "error", err)
		return
	}
	for _, instance := range instances {
		if _, err := s.Scheduler.Enqueue(tasks.Spec{Name: TaskRegisterMonitoring, Args: instance.UUID}, 0); err != nil {
			slog.Error("sweep: failed to enqueue monitoring registration", "instance", instance.UUID, "error", err)
		}
	}
}

func (s *Supervisor) scanQuotaThresholds() {
	over, err := s.Ledger.OverThreshold(s.DB.DbMap, quotaAlertThreshold)
	if err != nil {
		slog.Error("sweep: quota threshold scan failed", "error", err)
		return
	}
	for _, quota := range over {
		s.Sink.Emit(events.LevelWarning, events.TypeQuotaThresholdReached,
			fmt.Sprintf("Quota %s is over the %d%% threshold (limit: %g, used: %g).",
				quota.Name, int(quotaAlertThreshold*100), quota.Limit, quota.Usage),
			map[string]any{
				"quota_name":  quota.Name,
				"scope_type":  string(quota.ScopeType),
				"scope_uuid":  quota.ScopeUUID,
				"quota_limit": quota.Limit,
				"quota_usage": quota.Usage,
			})
	}
}
