// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"

	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/backups"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/volumeattach"
	"github.com/nodeconductor/nodeconductor/internal/backend"
)

// CreateVolume creates a volume of the given size; a non-empty image
// id makes it bootable from that image.
func (t *tenant) CreateVolume(ctx context.Context, sizeGiB int, name, imageID string) (string, error) {
	slog.Info("creating volume", "name", name, "sizeGiB", sizeGiB, "imageID", imageID)
	volume, err := volumes.Create(ctx, t.volume, volumes.CreateOpts{
		Size:    sizeGiB,
		Name:    name,
		ImageID: imageID,
	}, nil).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return volume.ID, nil
}

// WaitVolumeStatus polls until the volume reaches the target status.
// Observing the failure status fails immediately.
func (t *tenant) WaitVolumeStatus(ctx context.Context, id, target, failure string) error {
	return backend.Poll(ctx, "volume "+id+" to become "+target, func(ctx context.Context) (bool, error) {
		volume, err := volumes.Get(ctx, t.volume, id).Extract()
		if err != nil {
			return false, backend.Classify(err)
		}
		if failure != "" && volume.Status == failure {
			return false, &backend.InternalError{Err: errStatus("volume", id, volume.Status)}
		}
		return volume.Status == target, nil
	})
}

func (t *tenant) DeleteVolume(ctx context.Context, id string) error {
	slog.Info("deleting volume", "id", id)
	return backend.Classify(volumes.Delete(ctx, t.volume, id, volumes.DeleteOpts{}).ExtractErr())
}

func (t *tenant) ExtendVolume(ctx context.Context, id string, newSizeGiB int) error {
	slog.Info("extending volume", "id", id, "newSizeGiB", newSizeGiB)
	return backend.Classify(volumes.ExtendSize(ctx, t.volume, id, volumes.ExtendSizeOpts{
		NewSize: newSizeGiB,
	}).ExtractErr())
}

func (t *tenant) AttachVolume(ctx context.Context, serverID, volumeID string) error {
	slog.Info("attaching volume", "serverID", serverID, "volumeID", volumeID)
	_, err := volumeattach.Create(ctx, t.compute, serverID, volumeattach.CreateOpts{
		VolumeID: volumeID,
	}).Extract()
	return backend.Classify(err)
}

func (t *tenant) DetachVolume(ctx context.Context, serverID, volumeID string) error {
	slog.Info("detaching volume", "serverID", serverID, "volumeID", volumeID)
	// Nova uses the volume id as the attachment id.
	return backend.Classify(volumeattach.Delete(ctx, t.compute, serverID, volumeID).ExtractErr())
}

func (t *tenant) ListVolumes(ctx context.Context) ([]backend.RemoteVolume, error) {
	pages, err := volumes.List(t.volume, volumes.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := volumes.ExtractVolumes(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteVolume, len(remote))
	for i, volume := range remote {
		result[i] = backend.RemoteVolume{
			ID:     volume.ID,
			Status: volume.Status,
			Size:   volume.Size,
		}
	}
	return result, nil
}

func (t *tenant) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	slog.Info("creating snapshot", "volumeID", volumeID)
	snapshot, err := snapshots.Create(ctx, t.volume, snapshots.CreateOpts{
		VolumeID:    volumeID,
		Description: description,
		Force:       true,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return snapshot.ID, nil
}

func (t *tenant) WaitSnapshotStatus(ctx context.Context, id, target, failure string) error {
	return backend.Poll(ctx, "snapshot "+id+" to become "+target, func(ctx context.Context) (bool, error) {
		snapshot, err := snapshots.Get(ctx, t.volume, id).Extract()
		if err != nil {
			return false, backend.Classify(err)
		}
		if failure != "" && snapshot.Status == failure {
			return false, &backend.InternalError{Err: errStatus("snapshot", id, snapshot.Status)}
		}
		return snapshot.Status == target, nil
	})
}

func (t *tenant) DeleteSnapshot(ctx context.Context, id string) error {
	slog.Info("deleting snapshot", "id", id)
	return backend.Classify(snapshots.Delete(ctx, t.volume, id).ExtractErr())
}

// CreateVolumeFromSnapshot materializes a temporary volume backing a
// snapshot, used by the backup pipeline.
func (t *tenant) CreateVolumeFromSnapshot(ctx context.Context, snapshotID, name string) (string, error) {
	snapshot, err := snapshots.Get(ctx, t.volume, snapshotID).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	volume, err := volumes.Create(ctx, t.volume, volumes.CreateOpts{
		Size:       snapshot.Size,
		Name:       name,
		SnapshotID: snapshotID,
	}, nil).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return volume.ID, nil
}

func (t *tenant) CreateVolumeBackup(ctx context.Context, volumeID, description string) (string, error) {
	slog.Info("creating volume backup", "volumeID", volumeID)
	backup, err := backups.Create(ctx, t.volume, backups.CreateOpts{
		VolumeID:    volumeID,
		Description: description,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return backup.ID, nil
}

func (t *tenant) RestoreVolumeBackup(ctx context.Context, backupID string) (string, error) {
	slog.Info("restoring volume backup", "backupID", backupID)
	restore, err := backups.RestoreFromBackup(ctx, t.volume, backupID, backups.RestoreOpts{}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return restore.VolumeID, nil
}

func (t *tenant) DeleteBackup(ctx context.Context, id string) error {
	slog.Info("deleting backup", "id", id)
	return backend.Classify(backups.Delete(ctx, t.volume, id).ExtractErr())
}
