// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"fmt"
	"sync"

	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// Factory builds an adapter for one service settings row using the
// admin credentials configured for its endpoint.
type Factory func(settings *models.ServiceSettings, creds conf.OpenStackCredentials) (Backend, error)

// Registry maps service settings type tags to adapter factories.
// Adapters register at startup; lookups happen per task.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(typeTag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeTag] = f
}

// Get builds an adapter for the given settings row.
func (r *Registry) Get(settings *models.ServiceSettings, creds conf.OpenStackCredentials) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[settings.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no backend registered for type %q", settings.Type)
	}
	return factory(settings, creds)
}
