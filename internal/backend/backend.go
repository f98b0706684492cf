// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the adapter contract the synchronization
// core calls against a cloud deployment. One concrete adapter exists
// per backend family; adapters register themselves into the registry
// keyed by the service settings type tag.
package backend

import "context"

// Remote payloads returned by adapters. Scalar fields only; sizes are
// reported in MiB so that unit conversion stays inside the adapter.

type RemoteFlavor struct {
	ID    string
	Name  string
	Cores int
	RAM   int
	Disk  int
}

type RemoteImage struct {
	ID      string
	Name    string
	MinRAM  int
	MinDisk int
}

type RemoteServer struct {
	ID          string
	Name        string
	Status      string
	FlavorID    string
	KeyName     string
	ExternalIPs []string
	InternalIPs []string
}

type RemoteVolume struct {
	ID     string
	Status string
	Size   int
}

type RemoteRule struct {
	ID       string
	Protocol string
	FromPort int
	ToPort   int
	CIDR     string
}

type RemoteSecurityGroup struct {
	ID          string
	Name        string
	Description string
	Rules       []RemoteRule
}

type RemoteFloatingIP struct {
	ID                string
	Address           string
	Status            string
	BackendNetworkID  string
}

type RemoteKeypair struct {
	Name        string
	Fingerprint string
}

// Compute quota values pushed to and pulled from the backend.
type ComputeQuota struct {
	RAM       int
	Cores     int
	Instances int
}

// Volume quota values. Gigabytes at the wire; callers hold MiB.
type VolumeQuota struct {
	Gigabytes int
}

// Credentials of a tenant-scope session. For OpenStack this is the
// service project link's stored user plus its backend tenant.
type TenantAccess struct {
	TenantID string
	Username string
	Password string
}

// Options of a server create call. Volume ids reference pre-created
// bootable volumes; both are deleted on server termination.
type CreateServerOpts struct {
	Name             string
	FlavorID         string
	SystemVolumeID   string
	DataVolumeID     string
	NetworkID        string
	KeyName          string
	SecurityGroupIDs []string
	AvailabilityZone string
}

// Backend is the admin-scope surface of one deployment: identity
// bootstrap, public catalogs and the entry point to tenant sessions.
type Backend interface {
	// Create the tenant or look it up by name when it already exists.
	GetOrCreateTenant(ctx context.Context, name string) (tenantID string, err error)
	// Report whether the stored user credentials still authenticate.
	CheckUserPassword(ctx context.Context, username, password string) (bool, error)
	CreateUser(ctx context.Context, username, password string) error
	EnsureUserIsTenantAdmin(ctx context.Context, username, tenantID string) error
	// Create the conventional internal network of a tenant, or look
	// it up when it already exists.
	GetOrCreateInternalNetwork(ctx context.Context, tenantID, name string) (networkID string, err error)

	ListFlavors(ctx context.Context) ([]RemoteFlavor, error)
	ListImages(ctx context.Context) ([]RemoteImage, error)

	// Tenant returns the tenant-scope surface for the given access.
	Tenant(ctx context.Context, access TenantAccess) (TenantBackend, error)
}

// TenantBackend is the tenant-scope surface: resource lifecycle within
// one tenant. Every operation either succeeds, fails with a transient
// error (retried by the caller's task) or fails with a semantic error
// (not retried).
type TenantBackend interface {
	CreateVolume(ctx context.Context, sizeGiB int, name, imageID string) (string, error)
	WaitVolumeStatus(ctx context.Context, id, target, failure string) error
	DeleteVolume(ctx context.Context, id string) error
	ExtendVolume(ctx context.Context, id string, newSizeGiB int) error
	DetachVolume(ctx context.Context, serverID, volumeID string) error
	AttachVolume(ctx context.Context, serverID, volumeID string) error
	ListVolumes(ctx context.Context) ([]RemoteVolume, error)

	CreateSnapshot(ctx context.Context, volumeID, description string) (snapshotID string, err error)
	WaitSnapshotStatus(ctx context.Context, id, target, failure string) error
	DeleteSnapshot(ctx context.Context, id string) error
	CreateVolumeFromSnapshot(ctx context.Context, snapshotID string, name string) (volumeID string, err error)
	CreateVolumeBackup(ctx context.Context, volumeID, description string) (backupID string, err error)
	RestoreVolumeBackup(ctx context.Context, backupID string) (volumeID string, err error)
	DeleteBackup(ctx context.Context, id string) error

	CreateServer(ctx context.Context, opts CreateServerOpts) (serverID string, err error)
	WaitServerStatus(ctx context.Context, id, target string) error
	WaitServerDeleted(ctx context.Context, id string) error
	StartServer(ctx context.Context, id string) error
	StopServer(ctx context.Context, id string) error
	DeleteServer(ctx context.Context, id string) error
	ResizeServer(ctx context.Context, id, flavorID string) error
	ConfirmServerResize(ctx context.Context, id string) error
	ListServers(ctx context.Context) ([]RemoteServer, error)

	// Resolve the tenant network by its conventional name. Exactly one
	// match is required.
	ResolveNetwork(ctx context.Context, name string) (string, error)

	CreateKeypair(ctx context.Context, name, publicKey string) error
	DeleteKeypair(ctx context.Context, name string) error
	// Find a keypair by fingerprint among keys whose name ends with
	// the given suffix. Returns ErrNotFound when no key matches.
	FindKeypair(ctx context.Context, fingerprint, nameSuffix string) (RemoteKeypair, error)

	ListSecurityGroups(ctx context.Context) ([]RemoteSecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, name, description string) (string, error)
	UpdateSecurityGroup(ctx context.Context, id, name, description string) error
	DeleteSecurityGroup(ctx context.Context, id string) error
	CreateSecurityGroupRule(ctx context.Context, groupID string, rule RemoteRule) (string, error)
	DeleteSecurityGroupRule(ctx context.Context, id string) error

	// Names of the security groups the server is a member of.
	ListServerSecurityGroups(ctx context.Context, serverID string) ([]string, error)
	AddServerSecurityGroup(ctx context.Context, serverID, groupName string) error
	RemoveServerSecurityGroup(ctx context.Context, serverID, groupName string) error

	ListFloatingIPs(ctx context.Context) ([]RemoteFloatingIP, error)

	GetComputeQuota(ctx context.Context) (ComputeQuota, error)
	SetComputeQuota(ctx context.Context, quota ComputeQuota) error
	GetVolumeQuota(ctx context.Context) (VolumeQuota, error)
	SetVolumeQuota(ctx context.Context, quota VolumeQuota) error
}
