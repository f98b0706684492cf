// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/backend/openstack"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/monitoring"
	"github.com/nodeconductor/nodeconductor/internal/mqtt"
	"github.com/nodeconductor/nodeconductor/internal/provision"
	"github.com/nodeconductor/nodeconductor/internal/pull"
	"github.com/nodeconductor/nodeconductor/internal/push"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
	"github.com/nodeconductor/nodeconductor/internal/supervisor"
	"github.com/nodeconductor/nodeconductor/internal/tasks"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "--version" {
		fmt.Printf("%s version %s\n", "nodeconductor", version)
		os.Exit(0)
	}
	configPath := "config.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}

	config, err := conf.NewConfig(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	database := db.NewPostgresDB(config.DB)
	defer database.Close()
	if err := createTables(&database); err != nil {
		slog.Error("failed to create tables", "error", err)
		os.Exit(1)
	}

	registry := monitoring.NewRegistry(config.Monitoring)
	sink := events.NewTCPSink(config.Events)
	defer sink.Close()
	trigger := mqtt.NewClient(config.MQTT)
	defer trigger.Disconnect()

	backends := backend.NewRegistry()
	openstack.Register(backends)

	ledger := &quotas.Ledger{Ratios: config.QuotaRatios}
	puller := &pull.Puller{DB: &database, Sink: sink, Ledger: ledger, Mqtt: trigger}
	pusher := &push.Pusher{DB: &database, Sink: sink, DefaultGroups: config.DefaultSecurityGroups}
	provisioner := &provision.Provisioner{DB: &database, Sink: sink, Ledger: ledger}

	scheduler := tasks.NewScheduler(&database, config.Tasks.Workers,
		time.Duration(config.Tasks.PollSeconds)*time.Second, registry)
	registerTasks(scheduler, &database, &config, backends, pusher, provisioner)

	sweeper := &supervisor.Supervisor{
		DB:        &database,
		Sink:      sink,
		Ledger:    ledger,
		Puller:    puller,
		Backends:  backends,
		Scheduler: scheduler,
		Creds:     config.OpenStack,
		Interval:  time.Duration(config.Supervisor.IntervalSeconds) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return scheduler.Run(ctx) })
	group.Go(func() error { return sweeper.Run(ctx) })
	group.Go(func() error { return serveHTTP(ctx, config.Monitoring.Port, registry) })

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("shutting down", "error", err)
		os.Exit(1)
	}
}

func createTables(database *db.DB) error {
	return database.CreateTable(
		database.AddTable(models.Customer{}),
		database.AddTable(models.Project{}),
		database.AddTable(models.ServiceSettings{}),
		database.AddTable(models.Service{}),
		database.AddTable(models.ServiceProjectLink{}),
		database.AddTable(models.Instance{}),
		database.AddTable(models.SecurityGroup{}),
		database.AddTable(models.SecurityGroupRule{}),
		database.AddTable(models.InstanceSecurityGroup{}),
		database.AddTable(models.Flavor{}),
		database.AddTable(models.Image{}),
		database.AddTable(models.FloatingIP{}),
		database.AddTable(models.SshPublicKey{}),
		database.AddTable(models.RoleGrant{}),
		database.AddTable(quotas.Quota{}),
		database.AddTable(tasks.Task{}),
	)
}

// Task handlers by stable name. Provisioning calls against one
// deployment are serialised through the throttle.
func registerTasks(scheduler *tasks.Scheduler, database *db.DB, config *conf.Config, backends *backend.Registry, pusher *push.Pusher, provisioner *provision.Provisioner) {
	throttle := tasks.NewThrottle()

	adminBackend := func(linkUUID string) (*models.ServiceProjectLink, backend.Backend, conf.OpenStackCredentials, error) {
		var link models.ServiceProjectLink
		err := database.SelectOne(&link,
			"SELECT * FROM service_project_links WHERE uuid = :uuid",
			map[string]any{"uuid": linkUUID})
		if err != nil {
			return nil, nil, conf.OpenStackCredentials{}, err
		}
		var settings models.ServiceSettings
		err = database.SelectOne(&settings, `
			SELECT st.* FROM service_settings st
			JOIN services s ON s.settings_uuid = st.uuid
			WHERE s.uuid = :service`,
			map[string]any{"service": link.ServiceUUID})
		if err != nil {
			return nil, nil, conf.OpenStackCredentials{}, err
		}
		creds, ok := config.CredentialsFor(settings.BackendURL)
		if !ok {
			return nil, nil, conf.OpenStackCredentials{}, fmt.Errorf("no credentials for %q", settings.BackendURL)
		}
		b, err := backends.Get(&settings, creds)
		if err != nil {
			return nil, nil, conf.OpenStackCredentials{}, err
		}
		return &link, b, creds, nil
	}

	scheduler.Register(supervisor.TaskSyncLink, func(ctx context.Context, args json.RawMessage) error {
		var linkUUID string
		if err := json.Unmarshal(args, &linkUUID); err != nil {
			return err
		}
		link, b, creds, err := adminBackend(linkUUID)
		if err != nil {
			return err
		}
		unlock := throttle.Lock(creds.AuthURL)
		defer unlock()
		if err := pusher.PropagateLink(ctx, link, b); err != nil {
			markLinkErred(database, link)
			return err
		}
		return nil
	}, tasks.RetriesNone, 0)

	scheduler.Register(supervisor.TaskRegisterMonitoring, func(ctx context.Context, args json.RawMessage) error {
		var instanceUUID string
		if err := json.Unmarshal(args, &instanceUUID); err != nil {
			return err
		}
		// The monitoring system assigns the host id; mirrored here so
		// the supervisor stops re-enqueuing this instance.
		_, err := database.Exec(
			"UPDATE instances SET monitoring_host_id = $1 WHERE uuid = $2",
			instanceUUID, instanceUUID)
		return err
	}, tasks.RetriesNone, 0)

	scheduler.Register("provision_instance", func(ctx context.Context, args json.RawMessage) error {
		var instanceUUID string
		if err := json.Unmarshal(args, &instanceUUID); err != nil {
			return err
		}
		var instance models.Instance
		err := database.SelectOne(&instance,
			"SELECT * FROM instances WHERE uuid = :uuid",
			map[string]any{"uuid": instanceUUID})
		if err != nil {
			return err
		}
		link, b, creds, err := adminBackend(instance.LinkUUID)
		if err != nil {
			return err
		}
		tb, err := b.Tenant(ctx, backend.TenantAccess{
			TenantID: link.TenantID, Username: link.Username, Password: link.Password,
		})
		if err != nil {
			return err
		}
		unlock := throttle.Lock(creds.AuthURL)
		defer unlock()
		if err := provisioner.Boot(ctx, &instance, link, tb); err != nil {
			provisioner.Fail(&instance, err)
			return err
		}
		return nil
	}, tasks.RetriesNone, 0)

	scheduler.Register("delete_instance", func(ctx context.Context, args json.RawMessage) error {
		var instanceUUID string
		if err := json.Unmarshal(args, &instanceUUID); err != nil {
			return err
		}
		var instance models.Instance
		err := database.SelectOne(&instance,
			"SELECT * FROM instances WHERE uuid = :uuid",
			map[string]any{"uuid": instanceUUID})
		if err != nil {
			return err
		}
		link, b, _, err := adminBackend(instance.LinkUUID)
		if err != nil {
			return err
		}
		tb, err := b.Tenant(ctx, backend.TenantAccess{
			TenantID: link.TenantID, Username: link.Username, Password: link.Password,
		})
		if err != nil {
			return err
		}
		return provisioner.Delete(ctx, &instance, link, tb)
	}, tasks.RetriesWait, tasks.RetryDelay)
}

func markLinkErred(database *db.DB, link *models.ServiceProjectLink) {
	err := database.WithTransaction(func(tx *gorp.Transaction) error {
		return models.TransitionSync(tx, link, models.SyncStateErred)
	})
	if err != nil {
		slog.Error("failed to mark link erred", "link", link.UUID, "error", err)
	}
}

func serveHTTP(ctx context.Context, port int, registry *monitoring.Registry) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	slog.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
