// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package pull refreshes the local mirror from the remote backend.
// Every resource kind runs the same diff-and-apply skeleton keyed by
// backend id; all writes of one run commit in a single transaction.
package pull

import (
	"context"
	"log/slog"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/mqtt"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
)

// Puller applies remote state to the local mirror.
type Puller struct {
	DB     *db.DB
	Sink   events.Sink
	Ledger *quotas.Ledger
	// Optional: topics are published after successful pulls.
	Mqtt mqtt.Client
}

func (p *Puller) trigger(topic string) {
	if p.Mqtt != nil {
		p.Mqtt.Publish(topic, "triggered")
	}
}

// The three set difference of a diff run: backend ids present only
// remotely, present on both sides, and present only locally.
func diffKeys[R any, L any](remote map[string]R, local map[string]L) (remoteOnly, both, localOnly []string) {
	for key := range remote {
		if _, ok := local[key]; ok {
			both = append(both, key)
		} else {
			remoteOnly = append(remoteOnly, key)
		}
	}
	for key := range local {
		if _, ok := remote[key]; !ok {
			localOnly = append(localOnly, key)
		}
	}
	return remoteOnly, both, localOnly
}

// PullFlavors mirrors the public flavor catalog of one service
// settings row. Local flavors in use by an instance are retained with
// a warning instead of deleted.
func (p *Puller) PullFlavors(ctx context.Context, settings *models.ServiceSettings, b backend.Backend) error {
	remote, err := b.ListFlavors(ctx)
	if err != nil {
		return err
	}
	remoteByID := make(map[string]backend.RemoteFlavor, len(remote))
	for _, flavor := range remote {
		remoteByID[flavor.ID] = flavor
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		var local []models.Flavor
		_, err := tx.Select(&local,
			"SELECT * FROM flavors WHERE settings_uuid = :settings",
			map[string]any{"settings": settings.UUID})
		if err != nil {
			return err
		}
		localByID := make(map[string]*models.Flavor, len(local))
		for i := range local {
			localByID[local[i].BackendID] = &local[i]
		}

		remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
		for _, id := range remoteOnly {
			flavor := remoteByID[id]
			err := tx.Insert(&models.Flavor{
				UUID:         uuid.NewString(),
				SettingsUUID: settings.UUID,
				BackendID:    flavor.ID,
				Name:         flavor.Name,
				Cores:        flavor.Cores,
				RAM:          flavor.RAM,
				Disk:         flavor.Disk,
			})
			if err != nil {
				return err
			}
		}
		for _, id := range both {
			flavor, localFlavor := remoteByID[id], localByID[id]
			if flavor.Name == localFlavor.Name && flavor.Cores == localFlavor.Cores &&
				flavor.RAM == localFlavor.RAM && flavor.Disk == localFlavor.Disk {
				continue
			}
			localFlavor.Name = flavor.Name
			localFlavor.Cores = flavor.Cores
			localFlavor.RAM = flavor.RAM
			localFlavor.Disk = flavor.Disk
			if _, err := tx.Update(localFlavor); err != nil {
				return err
			}
		}
		for _, id := range localOnly {
			localFlavor := localByID[id]
			inUse, err := tx.SelectInt(
				"SELECT COUNT(*) FROM instances WHERE flavor_backend_id = :id",
				map[string]any{"id": localFlavor.BackendID})
			if err != nil {
				return err
			}
			if inUse > 0 {
				slog.Warn("flavor disappeared from backend but is still in use, keeping it",
					"backendID", localFlavor.BackendID)
				continue
			}
			if _, err := tx.Delete(localFlavor); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerFlavorsSynced)
	return nil
}

// PullImages mirrors the public image catalog. Remote ids colliding
// among themselves are not imported and recorded as an error.
func (p *Puller) PullImages(ctx context.Context, settings *models.ServiceSettings, b backend.Backend) error {
	remote, err := b.ListImages(ctx)
	if err != nil {
		return err
	}
	remoteByID := map[string]backend.RemoteImage{}
	duplicates := map[string]bool{}
	for _, image := range remote {
		if _, seen := remoteByID[image.ID]; seen {
			duplicates[image.ID] = true
			continue
		}
		remoteByID[image.ID] = image
	}
	for id := range duplicates {
		delete(remoteByID, id)
		p.Sink.Emit(events.LevelError, events.TypeBackendError,
			"Remote image catalog contains duplicate backend id, skipping it.",
			map[string]any{"image_backend_id": id})
	}

	err = p.DB.WithTransaction(func(tx *gorp.Transaction) error {
		var local []models.Image
		_, err := tx.Select(&local,
			"SELECT * FROM images WHERE settings_uuid = :settings",
			map[string]any{"settings": settings.UUID})
		if err != nil {
			return err
		}
		localByID := make(map[string]*models.Image, len(local))
		for i := range local {
			localByID[local[i].BackendID] = &local[i]
		}

		remoteOnly, both, localOnly := diffKeys(remoteByID, localByID)
		for _, id := range remoteOnly {
			image := remoteByID[id]
			err := tx.Insert(&models.Image{
				UUID:         uuid.NewString(),
				SettingsUUID: settings.UUID,
				BackendID:    image.ID,
				Name:         image.Name,
				MinRAM:       image.MinRAM,
				MinDisk:      image.MinDisk,
			})
			if err != nil {
				return err
			}
		}
		for _, id := range both {
			image, localImage := remoteByID[id], localByID[id]
			if image.Name == localImage.Name && image.MinRAM == localImage.MinRAM &&
				image.MinDisk == localImage.MinDisk {
				continue
			}
			localImage.Name = image.Name
			localImage.MinRAM = image.MinRAM
			localImage.MinDisk = image.MinDisk
			if _, err := tx.Update(localImage); err != nil {
				return err
			}
		}
		// Duplicate remote ids stay local until the catalog is fixed.
		for _, id := range localOnly {
			if duplicates[id] {
				continue
			}
			if _, err := tx.Delete(localByID[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.trigger(mqtt.TriggerImagesSynced)
	return nil
}
