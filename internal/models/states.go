// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"

	"github.com/go-gorp/gorp"
)

// States are persisted as small integers. Two distinct families exist:
// synchronizable entities (settings, links, security groups) and
// virtual machine instances.

// State family for entities that are synchronized with a backend.
type SyncState int

const (
	SyncStateNew SyncState = iota + 1
	SyncStateScheduled
	SyncStateSyncing
	SyncStateInSync
	SyncStateErred
)

func (s SyncState) String() string {
	switch s {
	case SyncStateNew:
		return "New"
	case SyncStateScheduled:
		return "Sync Scheduled"
	case SyncStateSyncing:
		return "Syncing"
	case SyncStateInSync:
		return "In Sync"
	case SyncStateErred:
		return "Erred"
	}
	return fmt.Sprintf("SyncState(%d)", int(s))
}

// Stable sync states accept new user-initiated mutations.
func (s SyncState) Stable() bool {
	return s == SyncStateInSync || s == SyncStateErred
}

var syncEdges = map[SyncState][]SyncState{
	SyncStateNew:       {SyncStateScheduled},
	SyncStateScheduled: {SyncStateSyncing},
	SyncStateSyncing:   {SyncStateInSync},
	// In Sync and Erred entities can be re-scheduled for another sync.
	SyncStateInSync: {SyncStateScheduled},
	SyncStateErred:  {SyncStateScheduled},
}

// CanTransition reports whether target is a legal next state. Erred is
// reachable from every state except itself.
func (s SyncState) CanTransition(target SyncState) bool {
	if target == SyncStateErred {
		return s != SyncStateErred
	}
	for _, next := range syncEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// State family for virtual machine instances.
type InstanceState int

const (
	InstanceStateProvisioningScheduled InstanceState = iota + 1
	InstanceStateProvisioning
	InstanceStateOnline
	InstanceStateOffline
	InstanceStateStartingScheduled
	InstanceStateStarting
	InstanceStateStoppingScheduled
	InstanceStateStopping
	InstanceStateRestartingScheduled
	InstanceStateRestarting
	InstanceStateResizingScheduled
	InstanceStateResizing
	InstanceStateDeletionScheduled
	InstanceStateDeleting
	InstanceStateErred
)

func (s InstanceState) String() string {
	switch s {
	case InstanceStateProvisioningScheduled:
		return "Provisioning Scheduled"
	case InstanceStateProvisioning:
		return "Provisioning"
	case InstanceStateOnline:
		return "Online"
	case InstanceStateOffline:
		return "Offline"
	case InstanceStateStartingScheduled:
		return "Starting Scheduled"
	case InstanceStateStarting:
		return "Starting"
	case InstanceStateStoppingScheduled:
		return "Stopping Scheduled"
	case InstanceStateStopping:
		return "Stopping"
	case InstanceStateRestartingScheduled:
		return "Restarting Scheduled"
	case InstanceStateRestarting:
		return "Restarting"
	case InstanceStateResizingScheduled:
		return "Resizing Scheduled"
	case InstanceStateResizing:
		return "Resizing"
	case InstanceStateDeletionScheduled:
		return "Deletion Scheduled"
	case InstanceStateDeleting:
		return "Deleting"
	case InstanceStateErred:
		return "Erred"
	}
	return fmt.Sprintf("InstanceState(%d)", int(s))
}

// Stable instance states accept new user-initiated mutations.
func (s InstanceState) Stable() bool {
	return s == InstanceStateOnline || s == InstanceStateOffline || s == InstanceStateErred
}

// States in which the instance must have a backend id.
func (s InstanceState) PostProvisioning() bool {
	switch s {
	case InstanceStateOnline, InstanceStateOffline,
		InstanceStateStarting, InstanceStateStopping, InstanceStateRestarting,
		InstanceStateResizing, InstanceStateDeleting:
		return true
	}
	return false
}

var instanceEdges = map[InstanceState][]InstanceState{
	InstanceStateProvisioningScheduled: {InstanceStateProvisioning},
	InstanceStateProvisioning:          {InstanceStateOnline},
	InstanceStateOnline: {
		InstanceStateStoppingScheduled,
		InstanceStateRestartingScheduled,
		InstanceStateDeletionScheduled,
	},
	InstanceStateOffline: {
		InstanceStateStartingScheduled,
		InstanceStateResizingScheduled,
		InstanceStateDeletionScheduled,
	},
	InstanceStateStartingScheduled:   {InstanceStateStarting},
	InstanceStateStarting:            {InstanceStateOnline},
	InstanceStateStoppingScheduled:   {InstanceStateStopping},
	InstanceStateStopping:            {InstanceStateOffline},
	InstanceStateRestartingScheduled: {InstanceStateRestarting},
	InstanceStateRestarting:          {InstanceStateOnline},
	InstanceStateResizingScheduled:   {InstanceStateResizing},
	InstanceStateResizing:            {InstanceStateOffline},
	InstanceStateDeletionScheduled:   {InstanceStateDeleting},
	InstanceStateErred:               {InstanceStateDeletionScheduled},
}

// CanTransition reports whether target is a legal next state. Erred is
// reachable from every state except itself.
func (s InstanceState) CanTransition(target InstanceState) bool {
	if target == InstanceStateErred {
		return s != InstanceStateErred
	}
	for _, next := range instanceEdges[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Returned when an entity is asked to transition along an edge its
// state machine does not have, or when a mutation is requested while
// the entity is in an unstable state. Request handlers surface this
// as a conflict (409).
type ConcurrentStateError struct {
	Entity string
	From   string
	To     string
}

func (e *ConcurrentStateError) Error() string {
	return fmt.Sprintf("%s cannot transition from %q to %q", e.Entity, e.From, e.To)
}

// Entity whose sync state is persisted in the database.
type SyncStateful interface {
	TableName() string
	Describe() string
	GetSyncState() SyncState
	SetSyncState(SyncState)
}

// Entity whose instance state is persisted in the database.
type InstanceStateful interface {
	TableName() string
	Describe() string
	GetInstanceState() InstanceState
	SetInstanceState(InstanceState)
}

// TransitionSync checks legality, mutates the entity and persists it
// through the given executor, all before the surrounding transaction
// commits.
func TransitionSync(q gorp.SqlExecutor, e SyncStateful, target SyncState) error {
	from := e.GetSyncState()
	if !from.CanTransition(target) {
		return &ConcurrentStateError{Entity: e.Describe(), From: from.String(), To: target.String()}
	}
	e.SetSyncState(target)
	if _, err := q.Update(e); err != nil {
		e.SetSyncState(from)
		return err
	}
	return nil
}

// TransitionInstance checks legality, mutates the entity and persists
// it through the given executor.
func TransitionInstance(q gorp.SqlExecutor, e InstanceStateful, target InstanceState) error {
	from := e.GetInstanceState()
	if !from.CanTransition(target) {
		return &ConcurrentStateError{Entity: e.Describe(), From: from.String(), To: target.String()}
	}
	e.SetInstanceState(target)
	if _, err := q.Update(e); err != nil {
		e.SetInstanceState(from)
		return err
	}
	return nil
}
