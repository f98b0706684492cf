// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package openstack implements the backend adapter contract against
// an OpenStack deployment through gophercloud.
package openstack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// Type tag under which this adapter registers.
const TypeTag = "openstack"

// Register the adapter factory.
func Register(registry *backend.Registry) {
	registry.Register(TypeTag, func(settings *models.ServiceSettings, creds conf.OpenStackCredentials) (backend.Backend, error) {
		return NewOpenStack(creds), nil
	})
}

// OpenStack adapter for one deployment, identified by its keystone
// auth url.
type OpenStack struct {
	creds    conf.OpenStackCredentials
	sessions *sessionCache
}

func NewOpenStack(creds conf.OpenStackCredentials) *OpenStack {
	return &OpenStack{creds: creds, sessions: newSessionCache()}
}

func (o *OpenStack) identityClient(ctx context.Context) (*gophercloud.ServiceClient, error) {
	provider, err := o.sessions.admin(ctx, o.creds)
	if err != nil {
		return nil, err
	}
	client, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, backend.Classify(err)
	}
	return client, nil
}

func (o *OpenStack) adminClient(ctx context.Context, newClient func(*gophercloud.ProviderClient, gophercloud.EndpointOpts) (*gophercloud.ServiceClient, error)) (*gophercloud.ServiceClient, error) {
	provider, err := o.sessions.admin(ctx, o.creds)
	if err != nil {
		return nil, err
	}
	client, err := newClient(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, backend.Classify(err)
	}
	return client, nil
}

// GetOrCreateTenant creates the tenant, falling back to a lookup by
// name when the create reports a conflict.
func (o *OpenStack) GetOrCreateTenant(ctx context.Context, name string) (string, error) {
	identity, err := o.identityClient(ctx)
	if err != nil {
		return "", err
	}

	slog.Info("creating tenant", "name", name)
	project, err := projects.Create(ctx, identity, projects.CreateOpts{Name: name}).Extract()
	if err == nil {
		return project.ID, nil
	}
	if !backend.Conflict(err) {
		return "", backend.Classify(err)
	}

	slog.Info("tenant already exists, looking it up instead", "name", name)
	pages, err := projects.List(identity, projects.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return "", backend.Classify(err)
	}
	existing, err := projects.ExtractProjects(pages)
	if err != nil {
		return "", backend.Classify(err)
	}
	if len(existing) != 1 {
		return "", &backend.InternalError{Err: fmt.Errorf("expected exactly one tenant named %q, found %d", name, len(existing))}
	}
	return existing[0].ID, nil
}

// CheckUserPassword reports whether the credentials still sign in.
func (o *OpenStack) CheckUserPassword(ctx context.Context, username, password string) (bool, error) {
	_, err := openstack.AuthenticatedClient(ctx, gophercloud.AuthOptions{
		IdentityEndpoint: o.creds.AuthURL,
		Username:         username,
		Password:         password,
		DomainName:       o.domainName(),
	})
	if err == nil {
		return true, nil
	}
	if backend.Retryable(backend.Classify(err)) {
		return false, backend.Classify(err)
	}
	return false, nil
}

func (o *OpenStack) domainName() string {
	if o.creds.DomainName != "" {
		return o.creds.DomainName
	}
	return "Default"
}

func (o *OpenStack) CreateUser(ctx context.Context, username, password string) error {
	identity, err := o.identityClient(ctx)
	if err != nil {
		return err
	}
	slog.Info("creating keystone user", "username", username)
	_, err = users.Create(ctx, identity, users.CreateOpts{
		Name:     username,
		Password: password,
	}).Extract()
	return backend.Classify(err)
}

// EnsureUserIsTenantAdmin grants the admin role to the user within
// the tenant. An already present grant reports a conflict, which is
// swallowed for idempotence.
func (o *OpenStack) EnsureUserIsTenantAdmin(ctx context.Context, username, tenantID string) error {
	identity, err := o.identityClient(ctx)
	if err != nil {
		return err
	}

	user, err := o.findUser(ctx, identity, username)
	if err != nil {
		return err
	}
	role, err := o.findRole(ctx, identity, "admin")
	if err != nil {
		return err
	}

	slog.Info("assigning admin role", "username", username, "tenantID", tenantID)
	err = roles.Assign(ctx, identity, role.ID, roles.AssignOpts{
		UserID:    user.ID,
		ProjectID: tenantID,
	}).ExtractErr()
	if err != nil && !backend.Conflict(err) {
		return backend.Classify(err)
	}
	return nil
}

func (o *OpenStack) findUser(ctx context.Context, identity *gophercloud.ServiceClient, name string) (*users.User, error) {
	pages, err := users.List(identity, users.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	found, err := users.ExtractUsers(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}
	if len(found) != 1 {
		return nil, &backend.InternalError{Err: fmt.Errorf("expected exactly one user named %q, found %d", name, len(found))}
	}
	return &found[0], nil
}

func (o *OpenStack) findRole(ctx context.Context, identity *gophercloud.ServiceClient, name string) (*roles.Role, error) {
	pages, err := roles.List(identity, roles.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	found, err := roles.ExtractRoles(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}
	if len(found) != 1 {
		return nil, &backend.InternalError{Err: fmt.Errorf("expected exactly one role named %q, found %d", name, len(found))}
	}
	return &found[0], nil
}

// GetOrCreateInternalNetwork creates the conventional tenant network
// with its single subnet, or returns the existing network's id.
func (o *OpenStack) GetOrCreateInternalNetwork(ctx context.Context, tenantID, name string) (string, error) {
	network, err := o.adminClient(ctx, openstack.NewNetworkV2)
	if err != nil {
		return "", err
	}

	pages, err := networks.List(network, networks.ListOpts{Name: name, TenantID: tenantID}).AllPages(ctx)
	if err != nil {
		return "", backend.Classify(err)
	}
	existing, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", backend.Classify(err)
	}
	if len(existing) > 0 {
		slog.Info("network already exists, using it instead", "name", name)
		return existing[0].ID, nil
	}

	slog.Info("creating network", "name", name)
	created, err := networks.Create(ctx, network, networks.CreateOpts{
		Name:     name,
		TenantID: tenantID,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}

	subnetName := name + "-sn01"
	slog.Info("creating subnet", "name", subnetName)
	dhcp := true
	noGateway := ""
	_, err = subnets.Create(ctx, network, subnets.CreateOpts{
		NetworkID: created.ID,
		Name:      subnetName,
		CIDR:      "192.168.42.0/24",
		IPVersion: gophercloud.IPv4,
		AllocationPools: []subnets.AllocationPool{
			{Start: "192.168.42.10", End: "192.168.42.250"},
		},
		EnableDHCP: &dhcp,
		GatewayIP:  &noGateway,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return created.ID, nil
}

// Tenant returns the tenant-scope surface backed by a session for the
// link's stored user.
func (o *OpenStack) Tenant(ctx context.Context, access backend.TenantAccess) (backend.TenantBackend, error) {
	provider, err := o.sessions.tenant(ctx, o.creds.AuthURL, o.creds.DomainName, access)
	if err != nil {
		return nil, err
	}

	compute, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, backend.Classify(err)
	}
	volume, err := openstack.NewBlockStorageV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, backend.Classify(err)
	}
	network, err := openstack.NewNetworkV2(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, backend.Classify(err)
	}

	return &tenant{
		access:  access,
		creds:   o.creds,
		compute: compute,
		volume:  volume,
		network: network,
	}, nil
}
