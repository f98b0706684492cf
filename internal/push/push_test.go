// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"regexp"
	"testing"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/models"
	"github.com/nodeconductor/nodeconductor/internal/quotas"
	testlibBackend "github.com/nodeconductor/nodeconductor/testlib/backend"
	testlibDB "github.com/nodeconductor/nodeconductor/testlib/db"
	testlibEvents "github.com/nodeconductor/nodeconductor/testlib/events"
)

const projectUUID = "a73942ec403e4458a5f1d2b3be0d3041"

func setup(t *testing.T) (testlibDB.DBEnv, *Pusher, *testlibBackend.MockBackend) {
	env := testlibDB.SetupDBEnv(t)
	t.Cleanup(env.Close)
	err := env.CreateTable(
		env.AddTable(models.Project{}),
		env.AddTable(models.ServiceProjectLink{}),
		env.AddTable(models.Instance{}),
		env.AddTable(models.SecurityGroup{}),
		env.AddTable(models.SecurityGroupRule{}),
		env.AddTable(models.InstanceSecurityGroup{}),
		env.AddTable(models.SshPublicKey{}),
		env.AddTable(quotas.Quota{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	pusher := &Pusher{DB: env.DB, Sink: &testlibEvents.MockSink{}}
	return env, pusher, testlibBackend.NewMockBackend()
}

func seedLink(t *testing.T, env testlibDB.DBEnv, state models.SyncState) *models.ServiceProjectLink {
	t.Helper()
	err := env.Insert(&models.Project{UUID: projectUUID, CustomerUUID: "c-1", Name: "project_name"})
	if err != nil {
		t.Fatal(err)
	}
	link := &models.ServiceProjectLink{
		UUID: "l-1", ServiceUUID: "s-1", ProjectUUID: projectUUID, State: state,
	}
	if err := env.Insert(link); err != nil {
		t.Fatal(err)
	}
	return link
}

func TestPropagateLink(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateNew)

	if err := pusher.PropagateLink(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	var persisted models.ServiceProjectLink
	if err := env.SelectOne(&persisted, "SELECT * FROM service_project_links WHERE uuid = 'l-1'"); err != nil {
		t.Fatal(err)
	}
	if matched := regexp.MustCompile(`^[A-Za-z0-9]+-project_name$`).MatchString(persisted.Username); !matched {
		t.Errorf("unexpected username %q", persisted.Username)
	}
	if persisted.Password == "" {
		t.Error("expected a generated password")
	}
	if persisted.TenantID == "" {
		t.Error("expected a tenant id")
	}
	if persisted.State != models.SyncStateInSync {
		t.Errorf("expected In Sync, got %s", persisted.State)
	}
	networkName := projectUUID + "-project_name"
	if _, ok := mock.Networks[networkName]; !ok {
		t.Errorf("expected network %q on the backend, got %v", networkName, mock.Networks)
	}
}

func TestPropagateLinkAdoptsExistingTenant(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateNew)
	mock.Tenants[projectUUID+"-project_name"] = "tenant-existing"

	if err := pusher.PropagateLink(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}
	if link.TenantID != "tenant-existing" {
		t.Errorf("expected the pre-existing tenant to be adopted, got %q", link.TenantID)
	}
	if link.State != models.SyncStateInSync {
		t.Errorf("expected In Sync, got %s", link.State)
	}
}

func TestPropagateLinkKeepsValidCredentials(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateInSync)
	link.Username = "abc123-project_name"
	link.Password = "secret"
	if _, err := env.Update(link); err != nil {
		t.Fatal(err)
	}
	mock.Users["abc123-project_name"] = "secret"

	if err := pusher.PropagateLink(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}
	if link.Username != "abc123-project_name" || link.Password != "secret" {
		t.Errorf("working credentials must be kept, got %q/%q", link.Username, link.Password)
	}
}

func TestPropagateLinkCreatesDefaultGroups(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateNew)
	pusher.DefaultGroups = []conf.DefaultSecurityGroup{{
		Name:        "ssh",
		Description: "remote access",
		Rules:       []conf.DefaultSecurityGroupRule{{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDR: "0.0.0.0/0"}},
	}}

	for range 2 {
		if err := pusher.PropagateLink(context.Background(), link, mock); err != nil {
			t.Fatal(err)
		}
	}
	count, err := env.SelectInt("SELECT COUNT(*) FROM security_groups WHERE name = 'ssh'")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected exactly one default group, got %d", count)
	}
	rules, err := env.SelectInt("SELECT COUNT(*) FROM security_group_rules")
	if err != nil {
		t.Fatal(err)
	}
	if rules != 1 {
		t.Errorf("expected one default rule, got %d", rules)
	}
}

func TestPushSshKeySkipsDuplicate(t *testing.T) {
	_, pusher, mock := setup(t)
	key := &models.SshPublicKey{
		UUID: "0123456789abcdef0123456789abcdef", UserUUID: "u-1",
		Name: "laptop", PublicKey: "ssh-rsa Zm9vYmFy", Fingerprint: "aa:bb",
	}
	name := models.KeyName(key.UUID, key.Name)
	mock.Keypairs[name] = backend.RemoteKeypair{Name: name, Fingerprint: "aa:bb"}

	if err := pusher.PushSshKey(context.Background(), key, mock); err != nil {
		t.Fatal(err)
	}
	for _, op := range mock.Calls {
		if op == "CreateKeypair" {
			t.Error("an already uploaded key must not be created again")
		}
	}
}

func TestPushSshKeyCreates(t *testing.T) {
	_, pusher, mock := setup(t)
	key := &models.SshPublicKey{
		UUID: "0123456789abcdef0123456789abcdef", UserUUID: "u-1",
		Name: "laptop", PublicKey: "ssh-rsa Zm9vYmFy", Fingerprint: "aa:bb",
	}

	if err := pusher.PushSshKey(context.Background(), key, mock); err != nil {
		t.Fatal(err)
	}
	name := models.KeyName(key.UUID, key.Name)
	if _, ok := mock.Keypairs[name]; !ok {
		t.Errorf("expected keypair %q on the backend, got %v", name, mock.Keypairs)
	}
}

func TestRemoveSshKeyToleratesMissing(t *testing.T) {
	_, pusher, mock := setup(t)
	key := &models.SshPublicKey{UUID: "0123456789abcdef0123456789abcdef", Name: "laptop"}
	if err := pusher.RemoveSshKey(context.Background(), key, mock); err != nil {
		t.Fatal(err)
	}
}

func TestPushSecurityGroups(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateInSync)

	// One local group missing remotely, one remote group with no
	// local counterpart.
	group := &models.SecurityGroup{
		UUID: "g-1", LinkUUID: link.UUID, Name: "http", Description: "web", State: models.SyncStateNew,
	}
	rule := &models.SecurityGroupRule{
		UUID: "r-1", GroupUUID: "g-1", Protocol: "tcp", FromPort: 80, ToPort: 80, CIDR: "0.0.0.0/0",
	}
	if err := env.Insert(group, rule); err != nil {
		t.Fatal(err)
	}
	mock.SecurityGroups["sg-extra"] = &backend.RemoteSecurityGroup{ID: "sg-extra", Name: "stale"}

	if err := pusher.PushSecurityGroups(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}

	var persisted models.SecurityGroup
	if err := env.SelectOne(&persisted, "SELECT * FROM security_groups WHERE uuid = 'g-1'"); err != nil {
		t.Fatal(err)
	}
	if persisted.State != models.SyncStateInSync || persisted.BackendID == "" {
		t.Errorf("expected In Sync with a backend id, got %+v", persisted)
	}
	created := mock.SecurityGroups[persisted.BackendID]
	if created == nil || len(created.Rules) != 1 || created.Rules[0].FromPort != 80 {
		t.Errorf("rules not pushed: %+v", created)
	}
	if _, ok := mock.SecurityGroups["sg-extra"]; ok {
		t.Error("the extra remote group must be deleted")
	}
}

func TestPushSecurityGroupsUpdatesRules(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateInSync)

	mock.SecurityGroups["sg-1"] = &backend.RemoteSecurityGroup{
		ID: "sg-1", Name: "http", Description: "web",
		Rules: []backend.RemoteRule{{ID: "old", Protocol: "tcp", FromPort: 8080, ToPort: 8080, CIDR: "0.0.0.0/0"}},
	}
	group := &models.SecurityGroup{
		UUID: "g-1", LinkUUID: link.UUID, Name: "http", Description: "web",
		State: models.SyncStateInSync, BackendID: "sg-1",
	}
	rule := &models.SecurityGroupRule{
		UUID: "r-1", GroupUUID: "g-1", Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: "0.0.0.0/0",
	}
	if err := env.Insert(group, rule); err != nil {
		t.Fatal(err)
	}

	if err := pusher.PushSecurityGroups(context.Background(), link, mock); err != nil {
		t.Fatal(err)
	}
	remote := mock.SecurityGroups["sg-1"]
	if len(remote.Rules) != 1 || remote.Rules[0].FromPort != 443 {
		t.Errorf("expected the stale rule replaced, got %+v", remote.Rules)
	}
}

func TestPushInstanceSecurityGroups(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateInSync)

	instance := &models.Instance{
		UUID: "i-1", LinkUUID: link.UUID, Name: "web",
		State: models.InstanceStateOnline, BackendID: "srv-1",
	}
	err := env.Insert(
		instance,
		&models.SecurityGroup{UUID: "g-1", LinkUUID: link.UUID, Name: "http", State: models.SyncStateInSync, BackendID: "sg-1"},
		&models.InstanceSecurityGroup{UUID: "m-1", InstanceUUID: "i-1", GroupUUID: "g-1"},
	)
	if err != nil {
		t.Fatal(err)
	}
	mock.ServerGroups["srv-1"] = []string{"stale"}

	if err := pusher.PushInstanceSecurityGroups(context.Background(), instance, mock); err != nil {
		t.Fatal(err)
	}
	attached := mock.ServerGroups["srv-1"]
	if len(attached) != 1 || attached[0] != "http" {
		t.Errorf("expected membership {http}, got %v", attached)
	}
}

func TestPushQuotas(t *testing.T) {
	env, pusher, mock := setup(t)
	link := seedLink(t, env, models.SyncStateInSync)

	ledger := &quotas.Ledger{}
	scope := quotas.LinkScope(link.UUID)
	for name, limit := range map[string]float64{
		quotas.RAM:          4096,
		quotas.VCPU:         8,
		quotas.MaxInstances: 5,
		quotas.Storage:      204800,
	} {
		if err := ledger.SetLimit(env.DbMap, scope, name, limit); err != nil {
			t.Fatal(err)
		}
	}

	if err := pusher.PushQuotas(context.Background(), link, ledger, mock); err != nil {
		t.Fatal(err)
	}
	if mock.ComputeQuota.RAM != 4096 || mock.ComputeQuota.Cores != 8 || mock.ComputeQuota.Instances != 5 {
		t.Errorf("compute quota not pushed: %+v", mock.ComputeQuota)
	}
	if mock.VolumeQuota.Gigabytes != 200 {
		t.Errorf("expected 200 GiB, got %d", mock.VolumeQuota.Gigabytes)
	}
}
