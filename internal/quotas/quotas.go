// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package quotas tracks limit and usage per (scope, quota name) with
// hierarchical roll-up from service project link to project to
// customer, and validates mutations before they reach any backend.
package quotas

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// Quota names known to the core.
const (
	VCPU                   = "vcpu"
	RAM                    = "ram"
	Storage                = "storage"
	MaxInstances           = "max_instances"
	SecurityGroupCount     = "security_group_count"
	SecurityGroupRuleCount = "security_group_rule_count"
	UserCount              = "nc_user_count"
	ResourceCount          = "nc_resource_count"
	Volumes                = "volumes"
	Snapshots              = "snapshots"
)

// Unlimited quota limit.
const LimitUnlimited = -1

// Scope types a quota can be attached to.
type ScopeType string

const (
	ScopeCustomer ScopeType = "customer"
	ScopeProject  ScopeType = "project"
	ScopeLink     ScopeType = "link"
)

// One legitimate quota scope: a customer, project or service project
// link, identified by its uuid.
type Scope struct {
	Type ScopeType
	UUID string
}

func CustomerScope(uuid string) Scope { return Scope{ScopeCustomer, uuid} }
func ProjectScope(uuid string) Scope  { return Scope{ScopeProject, uuid} }
func LinkScope(uuid string) Scope     { return Scope{ScopeLink, uuid} }

// One quota row: a (scope, name) pair with a limit and a usage.
type Quota struct {
	UUID      string    `db:"uuid,primarykey"`
	ScopeType ScopeType `db:"scope_type"`
	ScopeUUID string    `db:"scope_uuid"`
	Name      string    `db:"name"`
	// Administrative cap; -1 means unlimited.
	Limit float64 `db:"quota_limit"`
	Usage float64 `db:"quota_usage"`
}

func (Quota) TableName() string { return "quotas" }

// Returned by ValidateChange when a requested mutation would exceed
// one or more limits. Raised at the request boundary, never after a
// backend call has been made.
type ExceededError struct {
	Complaints []string
}

func (e *ExceededError) Error() string {
	return "one or more quotas are over limit: " + strings.Join(e.Complaints, "; ")
}

// Ledger mutates quota rows through the caller's executor so that
// usage updates commit atomically with the mutation that caused them.
type Ledger struct {
	// Ratios used to derive volume quotas from max_instances.
	Ratios conf.QuotaInstanceRatios
}

// Get returns the quota row for (scope, name), creating an unlimited
// zero-usage row if none exists yet.
func (l *Ledger) Get(q gorp.SqlExecutor, scope Scope, name string) (*Quota, error) {
	var quota Quota
	err := q.SelectOne(&quota,
		"SELECT * FROM quotas WHERE scope_type = :st AND scope_uuid = :su AND name = :name",
		map[string]any{"st": scope.Type, "su": scope.UUID, "name": name})
	if errors.Is(err, sql.ErrNoRows) {
		quota = Quota{
			UUID:      uuid.NewString(),
			ScopeType: scope.Type,
			ScopeUUID: scope.UUID,
			Name:      name,
			Limit:     LimitUnlimited,
		}
		if err := q.Insert(&quota); err != nil {
			return nil, err
		}
		return &quota, nil
	}
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

// Parents of a scope for usage roll-up. A link rolls up to its
// project, a project to its customer, a customer to nothing.
func (l *Ledger) parents(q gorp.SqlExecutor, scope Scope) ([]Scope, error) {
	switch scope.Type {
	case ScopeLink:
		var link models.ServiceProjectLink
		err := q.SelectOne(&link,
			"SELECT * FROM service_project_links WHERE uuid = :uuid",
			map[string]any{"uuid": scope.UUID})
		if err != nil {
			return nil, err
		}
		return []Scope{ProjectScope(link.ProjectUUID)}, nil
	case ScopeProject:
		var project models.Project
		err := q.SelectOne(&project,
			"SELECT * FROM projects WHERE uuid = :uuid",
			map[string]any{"uuid": scope.UUID})
		if err != nil {
			return nil, err
		}
		return []Scope{CustomerScope(project.CustomerUUID)}, nil
	}
	return nil, nil
}

// AddUsage applies the delta to the scope's quota and propagates the
// same delta up the parent chain. Usage never goes below zero.
func (l *Ledger) AddUsage(q gorp.SqlExecutor, scope Scope, name string, delta float64) error {
	for {
		quota, err := l.Get(q, scope, name)
		if err != nil {
			return err
		}
		quota.Usage += delta
		if quota.Usage < 0 {
			quota.Usage = 0
		}
		if _, err := q.Update(quota); err != nil {
			return err
		}
		parents, err := l.parents(q, scope)
		if err != nil {
			return err
		}
		if len(parents) == 0 {
			return nil
		}
		scope = parents[0]
	}
}

// SetLimit is idempotent and does not propagate to parents.
func (l *Ledger) SetLimit(q gorp.SqlExecutor, scope Scope, name string, limit float64) error {
	quota, err := l.Get(q, scope, name)
	if err != nil {
		return err
	}
	quota.Limit = limit
	_, err = q.Update(quota)
	return err
}

// SetMaxInstances sets the max_instances limit on a link and derives
// the volumes and snapshots limits from the configured ratios. The
// derivation never overrides an explicitly supplied limit.
func (l *Ledger) SetMaxInstances(q gorp.SqlExecutor, scope Scope, limit float64, explicit map[string]float64) error {
	if err := l.SetLimit(q, scope, MaxInstances, limit); err != nil {
		return err
	}
	derived := map[string]float64{
		Volumes:   limit * float64(l.Ratios.Volumes),
		Snapshots: limit * float64(l.Ratios.Snapshots),
	}
	for name, value := range derived {
		if supplied, ok := explicit[name]; ok {
			value = supplied
		}
		if err := l.SetLimit(q, scope, name, value); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChange checks that usage + delta stays within the limit for
// every provided quota name and returns an ExceededError listing
// every violation. Request handlers call this before mutating state.
func (l *Ledger) ValidateChange(q gorp.SqlExecutor, scope Scope, deltas map[string]float64) error {
	var complaints []string
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	// Stable complaint order.
	sort.Strings(names)
	for _, name := range names {
		delta := deltas[name]
		if delta <= 0 {
			continue
		}
		quota, err := l.Get(q, scope, name)
		if err != nil {
			return err
		}
		if quota.Limit == LimitUnlimited {
			continue
		}
		if quota.Usage+delta > quota.Limit {
			complaints = append(complaints, fmt.Sprintf(
				"%s quota limit: %g, requires: %g (currently used: %g)",
				name, quota.Limit, quota.Usage+delta, quota.Usage))
		}
	}
	if len(complaints) > 0 {
		return &ExceededError{Complaints: complaints}
	}
	return nil
}

// ListForScope returns all quota rows of one scope.
func (l *Ledger) ListForScope(q gorp.SqlExecutor, scope Scope) ([]Quota, error) {
	var quotas []Quota
	_, err := q.Select(&quotas,
		"SELECT * FROM quotas WHERE scope_type = :st AND scope_uuid = :su",
		map[string]any{"st": scope.Type, "su": scope.UUID})
	return quotas, err
}

// OverThreshold returns all link quotas whose usage has reached the
// given fraction of the limit. Unlimited quotas are never reported.
func (l *Ledger) OverThreshold(q gorp.SqlExecutor, threshold float64) ([]Quota, error) {
	var quotas []Quota
	_, err := q.Select(&quotas,
		"SELECT * FROM quotas WHERE scope_type = :st AND quota_limit > 0",
		map[string]any{"st": ScopeLink})
	if err != nil {
		return nil, err
	}
	var over []Quota
	for _, quota := range quotas {
		if quota.Usage/quota.Limit >= threshold {
			over = append(over, quota)
		}
	}
	return over, nil
}
