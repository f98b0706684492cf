// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
	testlibBackend "github.com/nodeconductor/nodeconductor/testlib/backend"
	testlibDB "github.com/nodeconductor/nodeconductor/testlib/db"
	testlibEvents "github.com/nodeconductor/nodeconductor/testlib/events"
)

const projectUUID = "a73942ec403e4458a5f1d2b3be0d3041"

func setup(t *testing.T) (testlibDB.DBEnv, *Provisioner, *testlibBackend.MockBackend) {
	env := testlibDB.SetupDBEnv(t)
	t.Cleanup(env.Close)
	err := env.CreateTable(
		env.AddTable(models.Project{}),
		env.AddTable(models.Service{}),
		env.AddTable(models.ServiceProjectLink{}),
		env.AddTable(models.Instance{}),
		env.AddTable(models.Flavor{}),
		env.AddTable(models.SecurityGroup{}),
		env.AddTable(models.InstanceSecurityGroup{}),
		env.AddTable(models.FloatingIP{}),
		env.AddTable(quotas.Quota{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	provisioner := &Provisioner{DB: env.DB, Sink: &testlibEvents.MockSink{}, Ledger: &quotas.Ledger{}}
	return env, provisioner, testlibBackend.NewMockBackend()
}

func backendServerOpts(name string) backend.CreateServerOpts {
	return backend.CreateServerOpts{Name: name, FlavorID: "flavor-1"}
}

func seedLink(t *testing.T, env testlibDB.DBEnv, mock *testlibBackend.MockBackend) *models.ServiceProjectLink {
	t.Helper()
	err := env.Insert(
		&models.Project{UUID: projectUUID, CustomerUUID: "c-1", Name: "project_name"},
		&models.Service{UUID: "s-1", CustomerUUID: "c-1", SettingsUUID: "set-1"},
	)
	if err != nil {
		t.Fatal(err)
	}
	link := &models.ServiceProjectLink{
		UUID: "l-1", ServiceUUID: "s-1", ProjectUUID: projectUUID,
		State: models.SyncStateInSync, TenantID: "t-1",
	}
	if err := env.Insert(link); err != nil {
		t.Fatal(err)
	}
	mock.Networks[projectUUID+"-project_name"] = "net-1"
	return link
}

func seedInstance(t *testing.T, env testlibDB.DBEnv, state models.InstanceState) *models.Instance {
	t.Helper()
	instance := &models.Instance{
		UUID: "i-1", LinkUUID: "l-1", Name: "web", State: state,
		Cores: 2, RAM: 512,
		SystemVolumeSize: 10240, DataVolumeSize: 20480,
		FlavorBackendID: "flavor-1", ImageBackendID: "image-1",
	}
	if err := env.Insert(instance); err != nil {
		t.Fatal(err)
	}
	return instance
}

func TestBoot(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateProvisioningScheduled)

	if err := provisioner.Boot(context.Background(), instance, link, mock); err != nil {
		t.Fatal(err)
	}

	var persisted models.Instance
	if err := env.SelectOne(&persisted, "SELECT * FROM instances WHERE uuid = 'i-1'"); err != nil {
		t.Fatal(err)
	}
	if persisted.State != models.InstanceStateOnline {
		t.Errorf("expected Online, got %s", persisted.State)
	}
	if persisted.BackendID == "" || persisted.SystemVolumeID == "" || persisted.DataVolumeID == "" {
		t.Errorf("backend ids not persisted: %+v", persisted)
	}
	system := mock.Volumes[persisted.SystemVolumeID]
	if system == nil || system.Size != 10 {
		t.Errorf("expected a 10 GiB system volume, got %+v", system)
	}
	data := mock.Volumes[persisted.DataVolumeID]
	if data == nil || data.Size != 20 {
		t.Errorf("expected a 20 GiB data volume, got %+v", data)
	}
	if _, ok := mock.Servers[persisted.BackendID]; !ok {
		t.Error("expected a server on the backend")
	}

	usage, err := provisioner.Ledger.Get(env.DbMap, quotas.LinkScope(link.UUID), quotas.VCPU)
	if err != nil {
		t.Fatal(err)
	}
	if usage.Usage != 2 {
		t.Errorf("expected vcpu usage 2, got %g", usage.Usage)
	}
}

func TestBootReusesExistingVolumes(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateProvisioningScheduled)

	systemID, _ := mock.CreateVolume(context.Background(), 10, "web-system", "image-1")
	dataID, _ := mock.CreateVolume(context.Background(), 20, "web-data", "")
	instance.SystemVolumeID = systemID
	instance.DataVolumeID = dataID
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}
	mock.Calls = nil

	if err := provisioner.Boot(context.Background(), instance, link, mock); err != nil {
		t.Fatal(err)
	}
	for _, op := range mock.Calls {
		if op == "CreateVolume" {
			t.Error("existing volumes must not be recreated")
		}
	}
}

func TestResizeRequestValidation(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)
	flavor := &models.Flavor{UUID: "f-1", SettingsUUID: "set-1", BackendID: "flavor-2", Cores: 4, RAM: 2048}

	err := provisioner.Resize(context.Background(), instance, link, flavor, 40960, mock)
	if err == nil || err.Error() != "Cannot resize both disk size and flavor simultaneously" {
		t.Errorf("unexpected error %v", err)
	}
	err = provisioner.Resize(context.Background(), instance, link, nil, 0, mock)
	if err == nil || err.Error() != "Either disk_size or flavor is required" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestResizeFlavorQuotaExceeded(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)
	instance.BackendID = "srv-1"
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}

	scope := quotas.LinkScope(link.UUID)
	if err := provisioner.Ledger.SetLimit(env.DbMap, scope, quotas.RAM, 1024); err != nil {
		t.Fatal(err)
	}
	flavor := &models.Flavor{UUID: "f-1", SettingsUUID: "set-1", BackendID: "flavor-2", Name: "big", Cores: 2, RAM: 2048}

	err := provisioner.Resize(context.Background(), instance, link, flavor, 0, mock)
	var exceeded *quotas.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected a quota error, got %v", err)
	}

	var persisted models.Instance
	if err := env.SelectOne(&persisted, "SELECT * FROM instances WHERE uuid = 'i-1'"); err != nil {
		t.Fatal(err)
	}
	if persisted.State != models.InstanceStateOffline {
		t.Errorf("a failed pre-flight must not change state, got %s", persisted.State)
	}
	for _, op := range mock.Calls {
		if op == "ResizeServer" {
			t.Error("the backend must not be touched after a failed pre-flight")
		}
	}
}

func TestResizeFlavor(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)

	serverID, _ := mock.CreateServer(context.Background(), backendServerOpts("web"))
	instance.BackendID = serverID
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}
	flavor := &models.Flavor{UUID: "f-1", SettingsUUID: "set-1", BackendID: "flavor-2", Name: "big", Cores: 4, RAM: 2048}

	if err := provisioner.Resize(context.Background(), instance, link, flavor, 0, mock); err != nil {
		t.Fatal(err)
	}
	var persisted models.Instance
	if err := env.SelectOne(&persisted, "SELECT * FROM instances WHERE uuid = 'i-1'"); err != nil {
		t.Fatal(err)
	}
	if persisted.State != models.InstanceStateOffline || persisted.Cores != 4 || persisted.RAM != 2048 {
		t.Errorf("resize not applied: %+v", persisted)
	}
	if persisted.FlavorBackendID != "flavor-2" {
		t.Errorf("expected flavor-2, got %s", persisted.FlavorBackendID)
	}
	confirmed := false
	for _, op := range mock.Calls {
		if op == "ConfirmServerResize" {
			confirmed = true
		}
	}
	if !confirmed {
		t.Error("expected the resize to be confirmed")
	}
}

func TestResizeFlavorWrongSettings(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)
	flavor := &models.Flavor{UUID: "f-1", SettingsUUID: "other", BackendID: "flavor-2", Cores: 4, RAM: 2048}

	if err := provisioner.Resize(context.Background(), instance, link, flavor, 0, mock); err == nil {
		t.Error("expected a settings mismatch error")
	}
}

func TestExtendDisk(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)

	serverID, _ := mock.CreateServer(context.Background(), backendServerOpts("web"))
	dataID, _ := mock.CreateVolume(context.Background(), 20, "web-data", "")
	instance.BackendID = serverID
	instance.DataVolumeID = dataID
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}

	if err := provisioner.Resize(context.Background(), instance, link, nil, 40960, mock); err != nil {
		t.Fatal(err)
	}
	var persisted models.Instance
	if err := env.SelectOne(&persisted, "SELECT * FROM instances WHERE uuid = 'i-1'"); err != nil {
		t.Fatal(err)
	}
	if persisted.DataVolumeSize != 40960 {
		t.Errorf("expected 40960 MiB, got %d", persisted.DataVolumeSize)
	}
	if mock.Volumes[dataID].Size != 40 {
		t.Errorf("expected the volume extended to 40 GiB, got %d", mock.Volumes[dataID].Size)
	}
}

func TestDelete(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOnline)

	serverID, _ := mock.CreateServer(context.Background(), backendServerOpts("web"))
	instance.BackendID = serverID
	instance.ExternalIPs = "10.0.0.9"
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}
	ip := &models.FloatingIP{
		UUID: "fip-1", LinkUUID: link.UUID, Address: "10.0.0.9",
		Status: models.FloatingIPStatusActive, BackendID: "ip-1",
	}
	if err := env.Insert(ip); err != nil {
		t.Fatal(err)
	}

	if err := provisioner.Delete(context.Background(), instance, link, mock); err != nil {
		t.Fatal(err)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM instances")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("expected the row dropped")
	}
	if _, ok := mock.Servers[serverID]; ok {
		t.Error("expected the server deleted")
	}
	var released models.FloatingIP
	if err := env.SelectOne(&released, "SELECT * FROM floating_ips WHERE uuid = 'fip-1'"); err != nil {
		t.Fatal(err)
	}
	if released.Status != models.FloatingIPStatusDown {
		t.Errorf("expected the ip back to DOWN, got %s", released.Status)
	}
}

func TestDeleteWithoutBackendID(t *testing.T) {
	env, provisioner, mock := setup(t)
	link := seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateProvisioningScheduled)

	if err := provisioner.Delete(context.Background(), instance, link, mock); err != nil {
		t.Fatal(err)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM instances")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("expected the row dropped without backend calls")
	}
	for _, op := range mock.Calls {
		if op == "DeleteServer" {
			t.Error("no server existed, nothing to delete remotely")
		}
	}
}

func TestBackupCleansUpTemporaries(t *testing.T) {
	env, provisioner, mock := setup(t)
	seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)

	systemID, _ := mock.CreateVolume(context.Background(), 10, "web-system", "image-1")
	dataID, _ := mock.CreateVolume(context.Background(), 20, "web-data", "")
	instance.SystemVolumeID = systemID
	instance.DataVolumeID = dataID

	backupIDs, err := provisioner.BackupInstance(context.Background(), instance, mock)
	if err != nil {
		t.Fatal(err)
	}
	if len(backupIDs) != 2 {
		t.Fatalf("expected two backups, got %v", backupIDs)
	}
	if len(mock.Snapshots) != 0 {
		t.Errorf("temporary snapshots not cleaned up: %v", mock.Snapshots)
	}
	if len(mock.Volumes) != 2 {
		t.Errorf("temporary volumes not cleaned up: %v", mock.Volumes)
	}
}

func TestRestore(t *testing.T) {
	env, provisioner, mock := setup(t)
	seedLink(t, env, mock)
	volumeID, _ := mock.CreateVolume(context.Background(), 10, "web-system", "image-1")
	backupID, _ := mock.CreateVolumeBackup(context.Background(), volumeID, "web")

	volumeIDs, err := provisioner.RestoreInstanceVolumes(context.Background(), []string{backupID}, mock)
	if err != nil {
		t.Fatal(err)
	}
	if len(volumeIDs) != 1 || volumeIDs[0] == "" {
		t.Fatalf("expected one restored volume, got %v", volumeIDs)
	}
	if _, ok := mock.Volumes[volumeIDs[0]]; !ok {
		t.Error("restored volume missing on the backend")
	}
}

func TestStartStop(t *testing.T) {
	env, provisioner, mock := setup(t)
	seedLink(t, env, mock)
	instance := seedInstance(t, env, models.InstanceStateOffline)
	serverID, _ := mock.CreateServer(context.Background(), backendServerOpts("web"))
	instance.BackendID = serverID
	if _, err := env.Update(instance); err != nil {
		t.Fatal(err)
	}

	if err := provisioner.Start(context.Background(), instance, mock); err != nil {
		t.Fatal(err)
	}
	if instance.State != models.InstanceStateOnline {
		t.Errorf("expected Online after start, got %s", instance.State)
	}
	if err := provisioner.Stop(context.Background(), instance, mock); err != nil {
		t.Fatal(err)
	}
	if instance.State != models.InstanceStateOffline {
		t.Errorf("expected Offline after stop, got %s", instance.State)
	}
}
