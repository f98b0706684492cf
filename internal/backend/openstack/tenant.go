// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/secgroups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
)

func errStatus(kind, id, status string) error {
	return fmt.Errorf("%s %s entered %s status", kind, id, status)
}

// Tenant-scope surface over one tenant session.
type tenant struct {
	access  backend.TenantAccess
	creds   conf.OpenStackCredentials
	compute *gophercloud.ServiceClient
	volume  *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
}

// ResolveNetwork returns the id of the network with the given name.
// Exactly one match is required.
func (t *tenant) ResolveNetwork(ctx context.Context, name string) (string, error) {
	pages, err := networks.List(t.network, networks.ListOpts{
		Name:     name,
		TenantID: t.access.TenantID,
	}).AllPages(ctx)
	if err != nil {
		return "", backend.Classify(err)
	}
	found, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", backend.Classify(err)
	}
	if len(found) != 1 {
		return "", &backend.InternalError{Err: fmt.Errorf("expected exactly one network named %q, found %d", name, len(found))}
	}
	return found[0].ID, nil
}

func (t *tenant) CreateKeypair(ctx context.Context, name, publicKey string) error {
	slog.Info("creating keypair", "name", name)
	_, err := keypairs.Create(ctx, t.compute, keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}).Extract()
	return backend.Classify(err)
}

func (t *tenant) DeleteKeypair(ctx context.Context, name string) error {
	slog.Info("deleting keypair", "name", name)
	err := keypairs.Delete(ctx, t.compute, name, nil).ExtractErr()
	return backend.Classify(err)
}

// FindKeypair looks up a key by fingerprint among keys whose name
// ends with the given suffix.
func (t *tenant) FindKeypair(ctx context.Context, fingerprint, nameSuffix string) (backend.RemoteKeypair, error) {
	var result backend.RemoteKeypair
	pages, err := keypairs.List(t.compute, nil).AllPages(ctx)
	if err != nil {
		return result, backend.Classify(err)
	}
	remote, err := keypairs.ExtractKeyPairs(pages)
	if err != nil {
		return result, backend.Classify(err)
	}

	var matches []backend.RemoteKeypair
	for _, key := range remote {
		if key.Fingerprint == fingerprint && strings.HasSuffix(key.Name, nameSuffix) {
			matches = append(matches, backend.RemoteKeypair{Name: key.Name, Fingerprint: key.Fingerprint})
		}
	}
	if len(matches) == 0 {
		return result, backend.ErrNotFound
	}
	if len(matches) > 1 {
		return result, &backend.InternalError{Err: fmt.Errorf("expected exactly one keypair with fingerprint %s, found %d", fingerprint, len(matches))}
	}
	return matches[0], nil
}

func (t *tenant) ListSecurityGroups(ctx context.Context) ([]backend.RemoteSecurityGroup, error) {
	pages, err := groups.List(t.network, groups.ListOpts{
		TenantID: t.access.TenantID,
	}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := groups.ExtractGroups(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteSecurityGroup, len(remote))
	for i, group := range remote {
		converted := backend.RemoteSecurityGroup{
			ID:          group.ID,
			Name:        group.Name,
			Description: group.Description,
		}
		for _, rule := range group.Rules {
			// Only ingress ipv4 rules are modeled locally.
			if rule.Direction != string(rules.DirIngress) || rule.EtherType != string(rules.EtherType4) {
				continue
			}
			converted.Rules = append(converted.Rules, backend.RemoteRule{
				ID:       rule.ID,
				Protocol: rule.Protocol,
				FromPort: rule.PortRangeMin,
				ToPort:   rule.PortRangeMax,
				CIDR:     rule.RemoteIPPrefix,
			})
		}
		result[i] = converted
	}
	return result, nil
}

func (t *tenant) CreateSecurityGroup(ctx context.Context, name, description string) (string, error) {
	slog.Info("creating security group", "name", name)
	group, err := groups.Create(ctx, t.network, groups.CreateOpts{
		Name:        name,
		Description: description,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return group.ID, nil
}

func (t *tenant) UpdateSecurityGroup(ctx context.Context, id, name, description string) error {
	slog.Info("updating security group", "id", id, "name", name)
	_, err := groups.Update(ctx, t.network, id, groups.UpdateOpts{
		Name:        name,
		Description: &description,
	}).Extract()
	return backend.Classify(err)
}

func (t *tenant) DeleteSecurityGroup(ctx context.Context, id string) error {
	slog.Info("deleting security group", "id", id)
	return backend.Classify(groups.Delete(ctx, t.network, id).ExtractErr())
}

func (t *tenant) CreateSecurityGroupRule(ctx context.Context, groupID string, rule backend.RemoteRule) (string, error) {
	created, err := rules.Create(ctx, t.network, rules.CreateOpts{
		SecGroupID:     groupID,
		Direction:      rules.DirIngress,
		EtherType:      rules.EtherType4,
		Protocol:       rules.RuleProtocol(rule.Protocol),
		PortRangeMin:   rule.FromPort,
		PortRangeMax:   rule.ToPort,
		RemoteIPPrefix: rule.CIDR,
	}).Extract()
	if err != nil {
		return "", backend.Classify(err)
	}
	return created.ID, nil
}

func (t *tenant) DeleteSecurityGroupRule(ctx context.Context, id string) error {
	return backend.Classify(rules.Delete(ctx, t.network, id).ExtractErr())
}

func (t *tenant) ListServerSecurityGroups(ctx context.Context, serverID string) ([]string, error) {
	pages, err := secgroups.ListByServer(t.compute, serverID).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	attached, err := secgroups.ExtractSecurityGroups(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}
	names := make([]string, len(attached))
	for i, group := range attached {
		names[i] = group.Name
	}
	return names, nil
}

func (t *tenant) AddServerSecurityGroup(ctx context.Context, serverID, groupName string) error {
	slog.Info("adding server to security group", "serverID", serverID, "group", groupName)
	return backend.Classify(secgroups.AddServer(ctx, t.compute, serverID, groupName).ExtractErr())
}

func (t *tenant) RemoveServerSecurityGroup(ctx context.Context, serverID, groupName string) error {
	slog.Info("removing server from security group", "serverID", serverID, "group", groupName)
	return backend.Classify(secgroups.RemoveServer(ctx, t.compute, serverID, groupName).ExtractErr())
}

func (t *tenant) ListFloatingIPs(ctx context.Context) ([]backend.RemoteFloatingIP, error) {
	pages, err := floatingips.List(t.network, floatingips.ListOpts{
		TenantID: t.access.TenantID,
	}).AllPages(ctx)
	if err != nil {
		return nil, backend.Classify(err)
	}
	remote, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return nil, backend.Classify(err)
	}

	result := make([]backend.RemoteFloatingIP, len(remote))
	for i, ip := range remote {
		result[i] = backend.RemoteFloatingIP{
			ID:               ip.ID,
			Address:          ip.FloatingIP,
			Status:           ip.Status,
			BackendNetworkID: ip.FloatingNetworkID,
		}
	}
	return result, nil
}
