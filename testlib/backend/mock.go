// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides an in-memory cloud for testing the
// synchronization core without a real deployment.
package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// MockBackend implements both the admin and the tenant scope surface
// over in-memory maps. Waits complete immediately. Operation failures
// can be injected per operation name through Fail.
type MockBackend struct {
	mu sync.Mutex

	// Tenant name -> id.
	Tenants map[string]string
	// Username -> password.
	Users map[string]string
	// "username/tenantID" pairs holding the admin role.
	AdminRoles map[string]bool
	// Network name -> id.
	Networks map[string]string

	Flavors []backend.RemoteFlavor
	Images  []backend.RemoteImage

	Servers        map[string]*backend.RemoteServer
	Volumes        map[string]*backend.RemoteVolume
	Snapshots      map[string]string // snapshot id -> volume id
	Backups        map[string]string // backup id -> volume id
	SecurityGroups map[string]*backend.RemoteSecurityGroup
	// Server id -> names of attached security groups.
	ServerGroups map[string][]string
	Keypairs     map[string]backend.RemoteKeypair
	FloatingIPs  []backend.RemoteFloatingIP

	ComputeQuota backend.ComputeQuota
	VolumeQuota  backend.VolumeQuota

	// Errors returned by the named operation, e.g. "CreateServer".
	Fail map[string]error

	// Log of operation names, in call order.
	Calls []string

	nextID int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		Tenants:        map[string]string{},
		Users:          map[string]string{},
		AdminRoles:     map[string]bool{},
		Networks:       map[string]string{},
		Servers:        map[string]*backend.RemoteServer{},
		Volumes:        map[string]*backend.RemoteVolume{},
		Snapshots:      map[string]string{},
		Backups:        map[string]string{},
		SecurityGroups: map[string]*backend.RemoteSecurityGroup{},
		ServerGroups:   map[string][]string{},
		Keypairs:       map[string]backend.RemoteKeypair{},
		Fail:           map[string]error{},
	}
}

func (m *MockBackend) call(op string) error {
	m.Calls = append(m.Calls, op)
	return m.Fail[op]
}

func (m *MockBackend) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *MockBackend) GetOrCreateTenant(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetOrCreateTenant"); err != nil {
		return "", err
	}
	// A remotely pre-existing tenant reports a conflict on create,
	// which the adapter swallows by looking it up.
	if id, ok := m.Tenants[name]; ok {
		return id, nil
	}
	id := m.id("tenant")
	m.Tenants[name] = id
	return id, nil
}

func (m *MockBackend) CheckUserPassword(ctx context.Context, username, password string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CheckUserPassword"); err != nil {
		return false, err
	}
	stored, ok := m.Users[username]
	return ok && stored == password, nil
}

func (m *MockBackend) CreateUser(ctx context.Context, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateUser"); err != nil {
		return err
	}
	m.Users[username] = password
	return nil
}

func (m *MockBackend) EnsureUserIsTenantAdmin(ctx context.Context, username, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("EnsureUserIsTenantAdmin"); err != nil {
		return err
	}
	m.AdminRoles[username+"/"+tenantID] = true
	return nil
}

func (m *MockBackend) GetOrCreateInternalNetwork(ctx context.Context, tenantID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetOrCreateInternalNetwork"); err != nil {
		return "", err
	}
	if id, ok := m.Networks[name]; ok {
		return id, nil
	}
	id := m.id("network")
	m.Networks[name] = id
	return id, nil
}

func (m *MockBackend) ListFlavors(ctx context.Context) ([]backend.RemoteFlavor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListFlavors"); err != nil {
		return nil, err
	}
	return append([]backend.RemoteFlavor{}, m.Flavors...), nil
}

func (m *MockBackend) ListImages(ctx context.Context) ([]backend.RemoteImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListImages"); err != nil {
		return nil, err
	}
	return append([]backend.RemoteImage{}, m.Images...), nil
}

func (m *MockBackend) Tenant(ctx context.Context, access backend.TenantAccess) (backend.TenantBackend, error) {
	if err := m.call("Tenant"); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MockBackend) CreateVolume(ctx context.Context, sizeGiB int, name, imageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateVolume"); err != nil {
		return "", err
	}
	id := m.id("volume")
	m.Volumes[id] = &backend.RemoteVolume{ID: id, Status: "available", Size: sizeGiB}
	return id, nil
}

func (m *MockBackend) WaitVolumeStatus(ctx context.Context, id, target, failure string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("WaitVolumeStatus"); err != nil {
		return err
	}
	volume, ok := m.Volumes[id]
	if !ok {
		return backend.ErrNotFound
	}
	volume.Status = target
	return nil
}

func (m *MockBackend) DeleteVolume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteVolume"); err != nil {
		return err
	}
	delete(m.Volumes, id)
	return nil
}

func (m *MockBackend) ExtendVolume(ctx context.Context, id string, newSizeGiB int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ExtendVolume"); err != nil {
		return err
	}
	volume, ok := m.Volumes[id]
	if !ok {
		return backend.ErrNotFound
	}
	volume.Size = newSizeGiB
	return nil
}

func (m *MockBackend) DetachVolume(ctx context.Context, serverID, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call("DetachVolume")
}

func (m *MockBackend) AttachVolume(ctx context.Context, serverID, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call("AttachVolume")
}

func (m *MockBackend) ListVolumes(ctx context.Context) ([]backend.RemoteVolume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListVolumes"); err != nil {
		return nil, err
	}
	var result []backend.RemoteVolume
	for _, volume := range m.Volumes {
		result = append(result, *volume)
	}
	return result, nil
}

func (m *MockBackend) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateSnapshot"); err != nil {
		return "", err
	}
	id := m.id("snapshot")
	m.Snapshots[id] = volumeID
	return id, nil
}

func (m *MockBackend) WaitSnapshotStatus(ctx context.Context, id, target, failure string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("WaitSnapshotStatus"); err != nil {
		return err
	}
	if _, ok := m.Snapshots[id]; !ok {
		return backend.ErrNotFound
	}
	return nil
}

func (m *MockBackend) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteSnapshot"); err != nil {
		return err
	}
	delete(m.Snapshots, id)
	return nil
}

func (m *MockBackend) CreateVolumeFromSnapshot(ctx context.Context, snapshotID, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateVolumeFromSnapshot"); err != nil {
		return "", err
	}
	if _, ok := m.Snapshots[snapshotID]; !ok {
		return "", backend.ErrNotFound
	}
	id := m.id("volume")
	m.Volumes[id] = &backend.RemoteVolume{ID: id, Status: "available"}
	return id, nil
}

func (m *MockBackend) CreateVolumeBackup(ctx context.Context, volumeID, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateVolumeBackup"); err != nil {
		return "", err
	}
	id := m.id("backup")
	m.Backups[id] = volumeID
	return id, nil
}

func (m *MockBackend) RestoreVolumeBackup(ctx context.Context, backupID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RestoreVolumeBackup"); err != nil {
		return "", err
	}
	if _, ok := m.Backups[backupID]; !ok {
		return "", backend.ErrNotFound
	}
	id := m.id("volume")
	m.Volumes[id] = &backend.RemoteVolume{ID: id, Status: "available"}
	return id, nil
}

func (m *MockBackend) DeleteBackup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteBackup"); err != nil {
		return err
	}
	delete(m.Backups, id)
	return nil
}

func (m *MockBackend) CreateServer(ctx context.Context, opts backend.CreateServerOpts) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateServer"); err != nil {
		return "", err
	}
	id := m.id("server")
	m.Servers[id] = &backend.RemoteServer{
		ID:       id,
		Name:     opts.Name,
		Status:   "ACTIVE",
		FlavorID: opts.FlavorID,
		KeyName:  opts.KeyName,
	}
	return id, nil
}

func (m *MockBackend) WaitServerStatus(ctx context.Context, id, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("WaitServerStatus"); err != nil {
		return err
	}
	server, ok := m.Servers[id]
	if !ok {
		return backend.ErrNotFound
	}
	server.Status = target
	return nil
}

func (m *MockBackend) WaitServerDeleted(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("WaitServerDeleted"); err != nil {
		return err
	}
	if _, ok := m.Servers[id]; ok {
		return &backend.InternalError{Err: fmt.Errorf("server %s still exists", id)}
	}
	return nil
}

func (m *MockBackend) StartServer(ctx context.Context, id string) error {
	return m.serverOp("StartServer", id)
}

func (m *MockBackend) StopServer(ctx context.Context, id string) error {
	return m.serverOp("StopServer", id)
}

func (m *MockBackend) serverOp(op, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(op); err != nil {
		return err
	}
	if _, ok := m.Servers[id]; !ok {
		return backend.ErrNotFound
	}
	return nil
}

func (m *MockBackend) DeleteServer(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteServer"); err != nil {
		return err
	}
	delete(m.Servers, id)
	return nil
}

func (m *MockBackend) ResizeServer(ctx context.Context, id, flavorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ResizeServer"); err != nil {
		return err
	}
	server, ok := m.Servers[id]
	if !ok {
		return backend.ErrNotFound
	}
	server.FlavorID = flavorID
	server.Status = "VERIFY_RESIZE"
	return nil
}

func (m *MockBackend) ConfirmServerResize(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ConfirmServerResize"); err != nil {
		return err
	}
	server, ok := m.Servers[id]
	if !ok {
		return backend.ErrNotFound
	}
	server.Status = "SHUTOFF"
	return nil
}

func (m *MockBackend) ListServers(ctx context.Context) ([]backend.RemoteServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListServers"); err != nil {
		return nil, err
	}
	var result []backend.RemoteServer
	for _, server := range m.Servers {
		result = append(result, *server)
	}
	return result, nil
}

func (m *MockBackend) ResolveNetwork(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ResolveNetwork"); err != nil {
		return "", err
	}
	id, ok := m.Networks[name]
	if !ok {
		return "", &backend.InternalError{Err: fmt.Errorf("expected exactly one network named %q, found 0", name)}
	}
	return id, nil
}

func (m *MockBackend) CreateKeypair(ctx context.Context, name, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateKeypair"); err != nil {
		return err
	}
	// Derive the fingerprint the way the real backend would, so that
	// the pre-create lookup finds keys created earlier.
	fingerprint, _ := models.SshKeyFingerprint(publicKey)
	m.Keypairs[name] = backend.RemoteKeypair{Name: name, Fingerprint: fingerprint}
	return nil
}

func (m *MockBackend) DeleteKeypair(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteKeypair"); err != nil {
		return err
	}
	if _, ok := m.Keypairs[name]; !ok {
		return backend.ErrNotFound
	}
	delete(m.Keypairs, name)
	return nil
}

func (m *MockBackend) FindKeypair(ctx context.Context, fingerprint, nameSuffix string) (backend.RemoteKeypair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("FindKeypair"); err != nil {
		return backend.RemoteKeypair{}, err
	}
	for name, key := range m.Keypairs {
		if key.Fingerprint == fingerprint && strings.HasSuffix(name, nameSuffix) {
			return key, nil
		}
	}
	return backend.RemoteKeypair{}, backend.ErrNotFound
}

func (m *MockBackend) ListSecurityGroups(ctx context.Context) ([]backend.RemoteSecurityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListSecurityGroups"); err != nil {
		return nil, err
	}
	var result []backend.RemoteSecurityGroup
	for _, group := range m.SecurityGroups {
		result = append(result, *group)
	}
	return result, nil
}

func (m *MockBackend) CreateSecurityGroup(ctx context.Context, name, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateSecurityGroup"); err != nil {
		return "", err
	}
	id := m.id("sg")
	m.SecurityGroups[id] = &backend.RemoteSecurityGroup{ID: id, Name: name, Description: description}
	return id, nil
}

func (m *MockBackend) UpdateSecurityGroup(ctx context.Context, id, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("UpdateSecurityGroup"); err != nil {
		return err
	}
	group, ok := m.SecurityGroups[id]
	if !ok {
		return backend.ErrNotFound
	}
	group.Name = name
	group.Description = description
	return nil
}

func (m *MockBackend) DeleteSecurityGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteSecurityGroup"); err != nil {
		return err
	}
	delete(m.SecurityGroups, id)
	return nil
}

func (m *MockBackend) CreateSecurityGroupRule(ctx context.Context, groupID string, rule backend.RemoteRule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateSecurityGroupRule"); err != nil {
		return "", err
	}
	group, ok := m.SecurityGroups[groupID]
	if !ok {
		return "", backend.ErrNotFound
	}
	rule.ID = m.id("rule")
	group.Rules = append(group.Rules, rule)
	return rule.ID, nil
}

func (m *MockBackend) DeleteSecurityGroupRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("DeleteSecurityGroupRule"); err != nil {
		return err
	}
	for _, group := range m.SecurityGroups {
		for i, rule := range group.Rules {
			if rule.ID == id {
				group.Rules = append(group.Rules[:i], group.Rules[i+1:]...)
				return nil
			}
		}
	}
	return backend.ErrNotFound
}

func (m *MockBackend) ListServerSecurityGroups(ctx context.Context, serverID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListServerSecurityGroups"); err != nil {
		return nil, err
	}
	return append([]string{}, m.ServerGroups[serverID]...), nil
}

func (m *MockBackend) AddServerSecurityGroup(ctx context.Context, serverID, groupName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("AddServerSecurityGroup"); err != nil {
		return err
	}
	m.ServerGroups[serverID] = append(m.ServerGroups[serverID], groupName)
	return nil
}

func (m *MockBackend) RemoveServerSecurityGroup(ctx context.Context, serverID, groupName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RemoveServerSecurityGroup"); err != nil {
		return err
	}
	attached := m.ServerGroups[serverID]
	for i, name := range attached {
		if name == groupName {
			m.ServerGroups[serverID] = append(attached[:i], attached[i+1:]...)
			return nil
		}
	}
	return backend.ErrNotFound
}

func (m *MockBackend) ListFloatingIPs(ctx context.Context) ([]backend.RemoteFloatingIP, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("ListFloatingIPs"); err != nil {
		return nil, err
	}
	return append([]backend.RemoteFloatingIP{}, m.FloatingIPs...), nil
}

func (m *MockBackend) GetComputeQuota(ctx context.Context) (backend.ComputeQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetComputeQuota"); err != nil {
		return backend.ComputeQuota{}, err
	}
	return m.ComputeQuota, nil
}

func (m *MockBackend) SetComputeQuota(ctx context.Context, quota backend.ComputeQuota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetComputeQuota"); err != nil {
		return err
	}
	m.ComputeQuota = quota
	return nil
}

func (m *MockBackend) GetVolumeQuota(ctx context.Context) (backend.VolumeQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetVolumeQuota"); err != nil {
		return backend.VolumeQuota{}, err
	}
	return m.VolumeQuota, nil
}

func (m *MockBackend) SetVolumeQuota(ctx context.Context, quota backend.VolumeQuota) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("SetVolumeQuota"); err != nil {
		return err
	}
	m.VolumeQuota = quota
	return nil
}
