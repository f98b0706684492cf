// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package models holds the persisted entities of the cloud
// synchronization core and their state machines.
package models

import "fmt"

// A tenant-owning organization. Owns projects and services.
type Customer struct {
	UUID         string  `db:"uuid,primarykey"`
	Name         string  `db:"name"`
	Abbreviation string  `db:"abbreviation"`
	Balance      float64 `db:"balance"`
}

func (Customer) TableName() string { return "customers" }

// A collaboration scope under exactly one customer.
type Project struct {
	UUID         string `db:"uuid,primarykey"`
	CustomerUUID string `db:"customer_uuid"`
	Name         string `db:"name"`
}

func (Project) TableName() string { return "projects" }

// Credentials and endpoint for one backend deployment. Shared settings
// are visible across customers.
type ServiceSettings struct {
	UUID string `db:"uuid,primarykey"`
	// Backend family tag, e.g. "openstack".
	Type       string `db:"type"`
	Name       string `db:"name"`
	BackendURL string `db:"backend_url"`
	Username   string `db:"username"`
	Password   string `db:"password"`
	// Serialized json map of backend specific options.
	Options      string    `db:"options"`
	Shared       bool      `db:"shared"`
	CustomerUUID string    `db:"customer_uuid"`
	State        SyncState `db:"state"`
}

func (ServiceSettings) TableName() string { return "service_settings" }

func (s *ServiceSettings) Describe() string {
	return fmt.Sprintf("service settings %s (%s)", s.Name, s.UUID)
}
func (s *ServiceSettings) GetSyncState() SyncState      { return s.State }
func (s *ServiceSettings) SetSyncState(state SyncState) { s.State = state }

// A named use of service settings within one customer. Bound to
// projects through service project links.
type Service struct {
	UUID             string `db:"uuid,primarykey"`
	CustomerUUID     string `db:"customer_uuid"`
	SettingsUUID     string `db:"settings_uuid"`
	Name             string `db:"name"`
	AvailabilityZone string `db:"availability_zone"`
}

func (Service) TableName() string { return "services" }

// The binding of one service to one project. This is the unit of
// propagation: it maps 1:1 to a backend tenant plus an internal
// network plus an admin role grant.
type ServiceProjectLink struct {
	UUID        string    `db:"uuid,primarykey"`
	ServiceUUID string    `db:"service_uuid"`
	ProjectUUID string    `db:"project_uuid"`
	State       SyncState `db:"state"`
	// Backend tenant this link is materialized as. Non-empty whenever
	// the state is In Sync.
	TenantID string `db:"tenant_id"`
	// Tenant-scope credentials created during propagation.
	Username string `db:"username"`
	Password string `db:"password"`
	// Internal network created for the tenant.
	InternalNetworkID string `db:"internal_network_id"`
}

func (ServiceProjectLink) TableName() string { return "service_project_links" }

func (l *ServiceProjectLink) Describe() string {
	return fmt.Sprintf("service project link %s", l.UUID)
}
func (l *ServiceProjectLink) GetSyncState() SyncState      { return l.State }
func (l *ServiceProjectLink) SetSyncState(state SyncState) { l.State = state }

// A virtual machine instance managed on behalf of a user. Sizes are
// stored in MiB and converted to GiB only at the cinder edge.
type Instance struct {
	UUID     string        `db:"uuid,primarykey"`
	LinkUUID string        `db:"link_uuid"`
	Name     string        `db:"name"`
	State    InstanceState `db:"state"`
	// Empty until the server create call has been submitted.
	BackendID        string `db:"backend_id"`
	Cores            int    `db:"cores"`
	RAM              int    `db:"ram"`
	SystemVolumeID   string `db:"system_volume_id"`
	SystemVolumeSize int    `db:"system_volume_size"`
	DataVolumeID     string `db:"data_volume_id"`
	DataVolumeSize   int    `db:"data_volume_size"`
	FlavorBackendID  string `db:"flavor_backend_id"`
	FlavorName       string `db:"flavor_name"`
	ImageBackendID   string `db:"image_backend_id"`
	// Comma separated ip lists as reported by the backend.
	ExternalIPs      string `db:"external_ips"`
	InternalIPs      string `db:"internal_ips"`
	KeyName          string `db:"key_name"`
	KeyFingerprint   string `db:"key_fingerprint"`
	AvailabilityZone string `db:"availability_zone"`
	// Set once the instance is registered in monitoring.
	MonitoringHostID string `db:"monitoring_host_id"`
}

func (Instance) TableName() string { return "instances" }

func (i *Instance) Describe() string {
	return fmt.Sprintf("instance %s (%s)", i.Name, i.UUID)
}
func (i *Instance) GetInstanceState() InstanceState      { return i.State }
func (i *Instance) SetInstanceState(state InstanceState) { i.State = state }

// A security group local to one service project link.
type SecurityGroup struct {
	UUID        string    `db:"uuid,primarykey"`
	LinkUUID    string    `db:"link_uuid"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	State       SyncState `db:"state"`
	// Non-empty iff the state is In Sync.
	BackendID string `db:"backend_id"`
}

func (SecurityGroup) TableName() string { return "security_groups" }

func (g *SecurityGroup) Describe() string {
	return fmt.Sprintf("security group %s (%s)", g.Name, g.UUID)
}
func (g *SecurityGroup) GetSyncState() SyncState      { return g.State }
func (g *SecurityGroup) SetSyncState(state SyncState) { g.State = state }

// One rule of a security group. For icmp the from/to ports carry the
// icmp type and code.
type SecurityGroupRule struct {
	UUID      string `db:"uuid,primarykey"`
	GroupUUID string `db:"group_uuid"`
	Protocol  string `db:"protocol"`
	FromPort  int    `db:"from_port"`
	ToPort    int    `db:"to_port"`
	CIDR      string `db:"cidr"`
	BackendID string `db:"backend_id"`
}

func (SecurityGroupRule) TableName() string { return "security_group_rules" }

// Membership of an instance in a security group.
type InstanceSecurityGroup struct {
	UUID         string `db:"uuid,primarykey"`
	InstanceUUID string `db:"instance_uuid"`
	GroupUUID    string `db:"group_uuid"`
}

func (InstanceSecurityGroup) TableName() string { return "instance_security_groups" }

// Pull-only mirror of a public flavor, scoped to service settings.
type Flavor struct {
	UUID         string `db:"uuid,primarykey"`
	SettingsUUID string `db:"settings_uuid"`
	BackendID    string `db:"backend_id"`
	Name         string `db:"name"`
	Cores        int    `db:"cores"`
	RAM          int    `db:"ram"`
	Disk         int    `db:"disk"`
}

func (Flavor) TableName() string { return "flavors" }

// Pull-only mirror of a public image, scoped to service settings.
type Image struct {
	UUID         string `db:"uuid,primarykey"`
	SettingsUUID string `db:"settings_uuid"`
	BackendID    string `db:"backend_id"`
	Name         string `db:"name"`
	MinRAM       int    `db:"min_ram"`
	MinDisk      int    `db:"min_disk"`
}

func (Image) TableName() string { return "images" }

// Statuses of a floating ip as reported by neutron, plus the local
// BOOKED marker for ips reserved for an instance being provisioned.
const (
	FloatingIPStatusActive = "ACTIVE"
	FloatingIPStatusDown   = "DOWN"
	FloatingIPStatusBooked = "BOOKED"
)

// A floating ip address within one service project link.
type FloatingIP struct {
	UUID             string `db:"uuid,primarykey"`
	LinkUUID         string `db:"link_uuid"`
	Address          string `db:"address"`
	Status           string `db:"status"`
	BackendID        string `db:"backend_id"`
	BackendNetworkID string `db:"backend_network_id"`
}

func (FloatingIP) TableName() string { return "floating_ips" }

// Per-user ssh key material, propagated to every link the user is
// entitled to.
type SshPublicKey struct {
	UUID      string `db:"uuid,primarykey"`
	UserUUID  string `db:"user_uuid"`
	Name      string `db:"name"`
	PublicKey string `db:"public_key"`
	// Derived md5 of the decoded base64 payload, colon grouped.
	Fingerprint string `db:"fingerprint"`
}

func (SshPublicKey) TableName() string { return "ssh_public_keys" }

// A role grant of a user within a customer or project. Only the
// attributes needed for the user count quota are kept.
type RoleGrant struct {
	UUID     string `db:"uuid,primarykey"`
	UserUUID string `db:"user_uuid"`
	// Scope of the grant, either a customer or a project uuid.
	CustomerUUID string `db:"customer_uuid"`
	ProjectUUID  string `db:"project_uuid"`
	Role         string `db:"role"`
}

func (RoleGrant) TableName() string { return "role_grants" }
