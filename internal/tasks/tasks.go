// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package tasks is a durable task queue backed by the database. Tasks
// are identified by a stable name registered up front; arguments
// travel as json. Chains run their members in order and short-circuit
// into an error continuation on the first failure.
package tasks

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Task states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateWaiting   = "waiting"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Default retry policies. Side-effectful pushes are not retried
// blindly; waits poll for a long time with a short delay.
const (
	RetriesNone = 0
	RetriesWait = 300

	RetryDelay = 3 * time.Second
)

// One durable queue entry.
type Task struct {
	ID       string `db:"id,primarykey"`
	Name     string `db:"name"`
	Args     string `db:"args"`
	State    string `db:"state"`
	Attempts int    `db:"attempts"`
	// Retries left before the task fails for good.
	MaxRetries        int       `db:"max_retries"`
	RetryDelaySeconds int       `db:"retry_delay_seconds"`
	NextAttempt       time.Time `db:"next_attempt"`
	// Successor in a chain, started when this task succeeds.
	NextTaskID string `db:"next_task_id"`
	// Error continuation, started when this task fails for good.
	OnFailureID string    `db:"on_failure_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (Task) TableName() string { return "tasks" }

// Spec describes one task to enqueue.
type Spec struct {
	Name string
	Args any
}

func newTask(spec Spec, state string, nextAttempt time.Time, maxRetries int, retryDelay time.Duration) (*Task, error) {
	args, err := json.Marshal(spec.Args)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:                uuid.NewString(),
		Name:              spec.Name,
		Args:              string(args),
		State:             state,
		MaxRetries:        maxRetries,
		RetryDelaySeconds: int(retryDelay.Seconds()),
		NextAttempt:       nextAttempt,
		CreatedAt:         time.Now().UTC(),
	}, nil
}
