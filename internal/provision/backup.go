// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"log/slog"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"golang.org/x/sync/errgroup"
)

// BackupInstance backs up every volume of the instance in a fan-out.
// Each volume is snapshotted, the snapshot cloned into a temporary
// volume, the temporary volume backed up. Temporary resources are
// removed whatever the outcome.
func (p *Provisioner) BackupInstance(ctx context.Context, instance *models.Instance, tb backend.TenantBackend) ([]string, error) {
	var volumeIDs []string
	for _, id := range []string{instance.SystemVolumeID, instance.DataVolumeID} {
		if id != "" {
			volumeIDs = append(volumeIDs, id)
		}
	}

	backupIDs := make([]string, len(volumeIDs))
	group, ctx := errgroup.WithContext(ctx)
	for i, volumeID := range volumeIDs {
		group.Go(func() error {
			backupID, err := p.backupVolume(ctx, volumeID, instance.Name, tb)
			if err != nil {
				return err
			}
			backupIDs[i] = backupID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return backupIDs, nil
}

func (p *Provisioner) backupVolume(ctx context.Context, volumeID, description string, tb backend.TenantBackend) (string, error) {
	snapshotID, err := tb.CreateSnapshot(ctx, volumeID, description)
	if err != nil {
		return "", err
	}
	// Cleanup must run even when the pipeline's context is gone.
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := tb.DeleteSnapshot(cleanupCtx, snapshotID); err != nil {
			slog.Error("failed to delete temporary snapshot", "id", snapshotID, "error", err)
		}
	}()
	if err := tb.WaitSnapshotStatus(ctx, snapshotID, volumeStatusAvailable, volumeStatusError); err != nil {
		return "", err
	}

	tempID, err := tb.CreateVolumeFromSnapshot(ctx, snapshotID, description+"-tmp")
	if err != nil {
		return "", err
	}
	defer func() {
		if err := tb.DeleteVolume(cleanupCtx, tempID); err != nil {
			slog.Error("failed to delete temporary volume", "id", tempID, "error", err)
		}
	}()
	if err := tb.WaitVolumeStatus(ctx, tempID, volumeStatusAvailable, volumeStatusError); err != nil {
		return "", err
	}

	return tb.CreateVolumeBackup(ctx, tempID, description)
}

// RestoreInstanceVolumes turns backups back into volumes, in the same
// order as given, and waits for each to become available.
func (p *Provisioner) RestoreInstanceVolumes(ctx context.Context, backupIDs []string, tb backend.TenantBackend) ([]string, error) {
	volumeIDs := make([]string, len(backupIDs))
	group, ctx := errgroup.WithContext(ctx)
	for i, backupID := range backupIDs {
		group.Go(func() error {
			volumeID, err := tb.RestoreVolumeBackup(ctx, backupID)
			if err != nil {
				return err
			}
			if err := tb.WaitVolumeStatus(ctx, volumeID, volumeStatusAvailable, volumeStatusError); err != nil {
				return err
			}
			volumeIDs[i] = volumeID
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return volumeIDs, nil
}
