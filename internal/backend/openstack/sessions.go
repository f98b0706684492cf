// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package openstack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/tokens"
	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/conf"
)

// Sessions are cached per scope and re-created 60 seconds before
// their token expires.
const sessionExpiryMargin = 60 * time.Second

type session struct {
	provider *gophercloud.ProviderClient
	expires  time.Time
}

func (s *session) valid() bool {
	return s != nil && time.Now().Before(s.expires.Add(-sessionExpiryMargin))
}

// Cache of authenticated provider clients, keyed by the scope they
// were created for.
type sessionCache struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionCache() *sessionCache {
	return &sessionCache{sessions: map[string]*session{}}
}

// get returns a cached provider for the key or authenticates a new one.
func (c *sessionCache) get(ctx context.Context, key string, opts gophercloud.AuthOptions) (*gophercloud.ProviderClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.sessions[key]; s.valid() {
		return s.provider, nil
	}

	slog.Info("creating openstack session", "authURL", opts.IdentityEndpoint, "scope", key)
	opts.AllowReauth = true
	if opts.DomainName == "" && opts.DomainID == "" {
		opts.DomainName = "Default"
	}
	provider, err := openstack.AuthenticatedClient(ctx, opts)
	if err != nil {
		return nil, backend.Classify(err)
	}
	c.sessions[key] = &session{provider: provider, expires: tokenExpiry(provider)}
	return provider, nil
}

// Expiry of the token behind an authenticated provider. Falls back to
// a conservative 10 minutes when the result cannot be inspected.
func tokenExpiry(provider *gophercloud.ProviderClient) time.Time {
	if result, ok := provider.GetAuthResult().(tokens.CreateResult); ok {
		if token, err := result.ExtractToken(); err == nil {
			return token.ExpiresAt
		}
	}
	return time.Now().Add(10 * time.Minute)
}

// admin returns a session scoped to the configured admin tenant.
func (c *sessionCache) admin(ctx context.Context, creds conf.OpenStackCredentials) (*gophercloud.ProviderClient, error) {
	return c.get(ctx, "admin", gophercloud.AuthOptions{
		IdentityEndpoint: creds.AuthURL,
		Username:         creds.Username,
		Password:         creds.Password,
		DomainName:       creds.DomainName,
		TenantName:       creds.TenantName,
	})
}

// tenant returns a session scoped to the given tenant, authenticated
// as the user created for its service project link.
func (c *sessionCache) tenant(ctx context.Context, authURL, domainName string, access backend.TenantAccess) (*gophercloud.ProviderClient, error) {
	return c.get(ctx, "tenant:"+access.TenantID, gophercloud.AuthOptions{
		IdentityEndpoint: authURL,
		Username:         access.Username,
		Password:         access.Password,
		DomainName:       domainName,
		TenantID:         access.TenantID,
	})
}
