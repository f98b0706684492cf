// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package pull

import (
	"context"
	"testing"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
	testlibBackend "github.com/nodeconductor/nodeconductor/testlib/backend"
	testlibDB "github.com/nodeconductor/nodeconductor/testlib/db"
	testlibEvents "github.com/nodeconductor/nodeconductor/testlib/events"
)

func setup(t *testing.T) (testlibDB.DBEnv, *Puller, *testlibBackend.MockBackend, *testlibEvents.MockSink) {
	env := testlibDB.SetupDBEnv(t)
	t.Cleanup(env.Close)
	err := env.CreateTable(
		env.AddTable(models.ServiceSettings{}),
		env.AddTable(models.ServiceProjectLink{}),
		env.AddTable(models.Flavor{}),
		env.AddTable(models.Image{}),
		env.AddTable(models.Instance{}),
		env.AddTable(models.SecurityGroup{}),
		env.AddTable(models.SecurityGroupRule{}),
		env.AddTable(models.FloatingIP{}),
		env.AddTable(models.Project{}),
		env.AddTable(quotas.Quota{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	sink := &testlibEvents.MockSink{}
	puller := &Puller{DB: env.DB, Sink: sink, Ledger: &quotas.Ledger{}}
	mock := testlibBackend.NewMockBackend()
	return env, puller, mock, sink
}

func settingsRow(t *testing.T, env testlibDB.DBEnv) *models.ServiceSettings {
	t.Helper()
	settings := &models.ServiceSettings{UUID: "set-1", Type: "openstack", Name: "devstack"}
	if err := env.Insert(settings); err != nil {
		t.Fatal(err)
	}
	return settings
}

func linkRow(t *testing.T, env testlibDB.DBEnv) *models.ServiceProjectLink {
	t.Helper()
	link := &models.ServiceProjectLink{
		UUID: "l-1", ServiceUUID: "s-1", ProjectUUID: "p-1",
		State: models.SyncStateInSync, TenantID: "t-1",
	}
	if err := env.Insert(link); err != nil {
		t.Fatal(err)
	}
	return link
}

func TestPullFlavors(t *testing.T) {
	env, puller, mock, _ := setup(t)
	settings := settingsRow(t, env)

	// Local flavors A and B; remote has A (changed) and C.
	err := env.Insert(
		&models.Flavor{UUID: "f-0", SettingsUUID: "set-1", BackendID: "A", Name: "small", Cores: 1, RAM: 1, Disk: 1},
		&models.Flavor{UUID: "f-1", SettingsUUID: "set-1", BackendID: "B", Name: "gone", Cores: 2, RAM: 2, Disk: 2},
	)
	if err != nil {
		t.Fatal(err)
	}
	mock.Flavors = []backend.RemoteFlavor{
		{ID: "A", Name: "small", Cores: 3, RAM: 5, Disk: 8},
		{ID: "C", Name: "new", Cores: 1, RAM: 1, Disk: 1},
	}

	if err := puller.PullFlavors(context.Background(), settings, mock); err != nil {
		t.Fatal(err)
	}

	var local []models.Flavor
	if _, err := env.Select(&local, "SELECT * FROM flavors ORDER BY backend_id"); err != nil {
		t.Fatal(err)
	}
	if len(local) != 2 {
		t.Fatalf("expected flavors A and C, got %v", local)
	}
	if local[0].BackendID != "A" || local[0].Cores != 3 || local[0].RAM != 5 || local[0].Disk != 8 {
		t.Errorf("flavor A scalars not updated: %+v", local[0])
	}
	if local[1].BackendID != "C" {
		t.Errorf("flavor C not created: %+v", local[1])
	}
}

func TestPullFlavorsKeepsInUse(t *testing.T) {
	env, puller, mock, _ := setup(t)
	settings := settingsRow(t, env)

	err := env.Insert(
		&models.Flavor{UUID: "f-1", SettingsUUID: "set-1", BackendID: "B", Name: "gone"},
		&models.Instance{UUID: "i-1", LinkUUID: "l-1", Name: "web", State: models.InstanceStateOnline,
			BackendID: "srv-1", FlavorBackendID: "B"},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := puller.PullFlavors(context.Background(), settings, mock); err != nil {
		t.Fatal(err)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM flavors")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("an in-use flavor must be retained, got %d rows", count)
	}
}

func TestPullFlavorsIdempotent(t *testing.T) {
	env, puller, mock, _ := setup(t)
	settings := settingsRow(t, env)
	mock.Flavors = []backend.RemoteFlavor{{ID: "A", Name: "small", Cores: 1, RAM: 1, Disk: 1}}

	for range 2 {
		if err := puller.PullFlavors(context.Background(), settings, mock); err != nil {
			t.Fatal(err)
		}
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM flavors")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("second pull must change nothing, got %d rows", count)
	}
}

func TestPullImagesSkipsDuplicates(t *testing.T) {
	env, puller, mock, sink := setup(t)
	settings := settingsRow(t, env)
	mock.Images = []backend.RemoteImage{
		{ID: "img-1", Name: "ubuntu"},
		{ID: "img-1", Name: "ubuntu-copy"},
		{ID: "img-2", Name: "debian"},
	}

	if err := puller.PullImages(context.Background(), settings, mock); err != nil {
		t.Fatal(err)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM images")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("neither colliding image may be imported, got %d rows", count)
	}
	if len(sink.Emitted) != 1 {
		t.Errorf("expected one error event for the duplicate, got %v", sink.Types())
	}
}

func TestPullInstancesMarksVanishedErred(t *testing.T) {
	env, puller, mock, sink := setup(t)
	link := linkRow(t, env)

	err := env.Insert(
		&models.Instance{UUID: "i-1", LinkUUID: "l-1", Name: "stable", State: models.InstanceStateOnline, BackendID: "gone-1"},
		&models.Instance{UUID: "i-2", LinkUUID: "l-1", Name: "busy", State: models.InstanceStateProvisioning, BackendID: "gone-2"},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := puller.PullInstances(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	var stable, busy models.Instance
	if err := env.SelectOne(&stable, "SELECT * FROM instances WHERE uuid = 'i-1'"); err != nil {
		t.Fatal(err)
	}
	if err := env.SelectOne(&busy, "SELECT * FROM instances WHERE uuid = 'i-2'"); err != nil {
		t.Fatal(err)
	}
	if stable.State != models.InstanceStateErred {
		t.Errorf("vanished stable instance must become Erred, got %s", stable.State)
	}
	if busy.State != models.InstanceStateProvisioning {
		t.Errorf("unstable instance must be left alone, got %s", busy.State)
	}
	if len(sink.Emitted) != 1 {
		t.Errorf("expected one state change event, got %v", sink.Types())
	}
}

func TestPullInstancesImportsRemote(t *testing.T) {
	env, puller, mock, _ := setup(t)
	link := linkRow(t, env)
	mock.Servers["srv-1"] = &backend.RemoteServer{
		ID: "srv-1", Name: "imported", Status: "ACTIVE", FlavorID: "A",
		ExternalIPs: []string{"10.0.0.5"}, InternalIPs: []string{"192.168.42.11"},
	}

	if err := puller.PullInstances(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}
	var imported models.Instance
	if err := env.SelectOne(&imported, "SELECT * FROM instances WHERE backend_id = 'srv-1'"); err != nil {
		t.Fatal(err)
	}
	if imported.State != models.InstanceStateOnline {
		t.Errorf("expected Online, got %s", imported.State)
	}
	if imported.ExternalIPs != "10.0.0.5" || imported.InternalIPs != "192.168.42.11" {
		t.Errorf("ips not copied: %+v", imported)
	}
}

func TestPullSecurityGroupsRoundTrip(t *testing.T) {
	env, puller, mock, _ := setup(t)
	link := linkRow(t, env)
	mock.SecurityGroups["sg-1"] = &backend.RemoteSecurityGroup{
		ID: "sg-1", Name: "http", Description: "web traffic",
		Rules: []backend.RemoteRule{{ID: "r-1", Protocol: "tcp", FromPort: 80, ToPort: 80, CIDR: "0.0.0.0/0"}},
	}

	if err := puller.PullSecurityGroups(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	var group models.SecurityGroup
	if err := env.SelectOne(&group, "SELECT * FROM security_groups WHERE backend_id = 'sg-1'"); err != nil {
		t.Fatal(err)
	}
	if group.State != models.SyncStateInSync {
		t.Errorf("imported group must be In Sync, got %s", group.State)
	}
	var rules []models.SecurityGroupRule
	if _, err := env.Select(&rules, "SELECT * FROM security_group_rules"); err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Protocol != "tcp" || rules[0].FromPort != 80 {
		t.Errorf("rules not mirrored: %v", rules)
	}

	// Remote rule disappears; local follows.
	mock.SecurityGroups["sg-1"].Rules = nil
	if err := puller.PullSecurityGroups(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM security_group_rules")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected rules deleted, got %d", count)
	}
}

func TestPullFloatingIPsKeepsBooked(t *testing.T) {
	env, puller, mock, _ := setup(t)
	link := linkRow(t, env)

	err := env.Insert(
		&models.FloatingIP{UUID: "fip-1", LinkUUID: "l-1", Address: "10.0.0.9",
			Status: models.FloatingIPStatusBooked, BackendID: "ip-1"},
		&models.FloatingIP{UUID: "fip-2", LinkUUID: "l-1", Address: "10.0.0.10",
			Status: models.FloatingIPStatusActive, BackendID: "ip-2"},
	)
	if err != nil {
		t.Fatal(err)
	}
	mock.FloatingIPs = []backend.RemoteFloatingIP{
		{ID: "ip-1", Address: "10.0.0.9", Status: models.FloatingIPStatusDown},
	}

	if err := puller.PullFloatingIPs(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	var booked models.FloatingIP
	if err := env.SelectOne(&booked, "SELECT * FROM floating_ips WHERE uuid = 'fip-1'"); err != nil {
		t.Fatal(err)
	}
	if booked.Status != models.FloatingIPStatusBooked {
		t.Errorf("booked ip must keep its reservation, got %s", booked.Status)
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM floating_ips")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("vanished ip must be deleted, got %d rows", count)
	}
}

func TestPullQuotasConvertsStorage(t *testing.T) {
	env, puller, mock, _ := setup(t)
	link := linkRow(t, env)
	mock.ComputeQuota = backend.ComputeQuota{RAM: 2048, Cores: 4, Instances: 10}
	mock.VolumeQuota = backend.VolumeQuota{Gigabytes: 100}

	if err := puller.PullQuotas(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	scope := quotas.LinkScope("l-1")
	for name, expected := range map[string]float64{
		quotas.RAM:          2048,
		quotas.VCPU:         4,
		quotas.MaxInstances: 10,
		quotas.Storage:      102400,
	} {
		quota, err := puller.Ledger.Get(env.DbMap, scope, name)
		if err != nil {
			t.Fatal(err)
		}
		if quota.Limit != expected {
			t.Errorf("%s: expected limit %g, got %g", name, expected, quota.Limit)
		}
	}
}
