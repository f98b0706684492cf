// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/db"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Handler executes one task. A non-nil error re-enqueues the task
// while retries remain and fails it for good afterwards.
type Handler func(ctx context.Context, args json.RawMessage) error

type registration struct {
	fn         Handler
	maxRetries int
	retryDelay time.Duration
}

// Scheduler owns the durable queue: enqueuing, chaining and the
// worker pool draining due tasks.
type Scheduler struct {
	DB *db.DB
	// Number of worker goroutines.
	Workers int
	// How long an idle worker sleeps before polling again.
	PollInterval time.Duration

	mu       sync.Mutex
	registry map[string]registration

	executed *prometheus.CounterVec
}

func NewScheduler(database *db.DB, workers int, pollInterval time.Duration, registry prometheus.Registerer) *Scheduler {
	executed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodeconductor_tasks_executed_total",
		Help: "Executed tasks by name and outcome.",
	}, []string{"task", "outcome"})
	if registry != nil {
		registry.MustRegister(executed)
	}
	return &Scheduler{
		DB:           database,
		Workers:      workers,
		PollInterval: pollInterval,
		registry:     map[string]registration{},
		executed:     executed,
	}
}

// Register binds a task name to its handler and retry policy. Names
// are stable identifiers persisted in the queue; never reuse one for
// a different behavior.
func (s *Scheduler) Register(name string, fn Handler, maxRetries int, retryDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = registration{fn: fn, maxRetries: maxRetries, retryDelay: retryDelay}
}

func (s *Scheduler) lookup(name string) (registration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registry[name]
	return reg, ok
}

// Enqueue inserts one pending task due after the given delay.
func (s *Scheduler) Enqueue(spec Spec, delay time.Duration) (*Task, error) {
	reg, ok := s.lookup(spec.Name)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", spec.Name)
	}
	task, err := newTask(spec, StatePending, time.Now().UTC().Add(delay), reg.maxRetries, reg.retryDelay)
	if err != nil {
		return nil, err
	}
	if err := s.DB.Insert(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Chain enqueues the specs as a pipeline: each member starts only
// after its predecessor succeeded. The first permanent failure
// short-circuits into the error continuation; unstarted members are
// cancelled.
func (s *Scheduler) Chain(onError *Spec, specs ...Spec) ([]*Task, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("empty chain")
	}
	var failureID string
	chain := make([]*Task, 0, len(specs)+1)
	if onError != nil {
		reg, ok := s.lookup(onError.Name)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", onError.Name)
		}
		failure, err := newTask(*onError, StateWaiting, time.Now().UTC(), reg.maxRetries, reg.retryDelay)
		if err != nil {
			return nil, err
		}
		failureID = failure.ID
		chain = append(chain, failure)
	}

	members := make([]*Task, len(specs))
	for i, spec := range specs {
		reg, ok := s.lookup(spec.Name)
		if !ok {
			return nil, fmt.Errorf("unknown task %q", spec.Name)
		}
		state := StateWaiting
		if i == 0 {
			state = StatePending
		}
		task, err := newTask(spec, state, time.Now().UTC(), reg.maxRetries, reg.retryDelay)
		if err != nil {
			return nil, err
		}
		task.OnFailureID = failureID
		members[i] = task
	}
	for i := range members {
		if i+1 < len(members) {
			members[i].NextTaskID = members[i+1].ID
		}
		chain = append(chain, members[i])
	}

	err := s.DB.WithTransaction(func(tx *gorp.Transaction) error {
		for _, task := range chain {
			if err := tx.Insert(task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// Run drains the queue until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for range s.Workers {
		group.Go(func() error {
			return s.worker(ctx)
		})
	}
	return group.Wait()
}

func (s *Scheduler) worker(ctx context.Context) error {
	for {
		task, err := s.claim()
		if err != nil {
			slog.Error("failed to claim a task", "error", err)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.PollInterval):
			}
			continue
		}
		s.execute(ctx, task)
	}
}

// Drain runs due tasks until none is left. Newly due successors and
// retries scheduled into the past are picked up in the same call.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		task, err := s.claim()
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		s.execute(ctx, task)
	}
}

// Claim the oldest due pending task. The mutex serialises claims of
// this process; the state flip guards against double execution.
func (s *Scheduler) claim() (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var task Task
	err := s.DB.SelectOne(&task, `
		SELECT * FROM tasks
		WHERE state = :state AND next_attempt <= :now
		ORDER BY created_at LIMIT 1`,
		map[string]any{"state": StatePending, "now": time.Now().UTC()})
	if err != nil {
		// No row is the idle case, not an error.
		return nil, nil //nolint:nilerr
	}
	task.State = StateRunning
	if _, err := s.DB.Update(&task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	reg, ok := s.lookup(task.Name)
	if !ok {
		slog.Error("no handler registered for task", "task", task.Name)
		s.fail(task)
		return
	}
	err := reg.fn(ctx, json.RawMessage(task.Args))
	if err == nil {
		task.State = StateSucceeded
		if _, err := s.DB.Update(task); err != nil {
			slog.Error("failed to persist task result", "task", task.Name, "error", err)
		}
		s.executed.WithLabelValues(task.Name, "succeeded").Inc()
		s.promote(task.NextTaskID)
		return
	}

	if task.Attempts < task.MaxRetries {
		task.Attempts++
		task.State = StatePending
		task.NextAttempt = time.Now().UTC().Add(time.Duration(task.RetryDelaySeconds) * time.Second)
		if _, err := s.DB.Update(task); err != nil {
			slog.Error("failed to reschedule task", "task", task.Name, "error", err)
		}
		s.executed.WithLabelValues(task.Name, "retried").Inc()
		return
	}

	slog.Error("task failed for good", "task", task.Name, "attempts", task.Attempts, "error", err)
	s.fail(task)
}

func (s *Scheduler) fail(task *Task) {
	task.State = StateFailed
	if _, err := s.DB.Update(task); err != nil {
		slog.Error("failed to persist task failure", "task", task.Name, "error", err)
	}
	s.executed.WithLabelValues(task.Name, "failed").Inc()
	// Cancel everything downstream, then release the continuation.
	s.cancelChain(task.NextTaskID)
	s.promote(task.OnFailureID)
}

// Flip a waiting task to pending.
func (s *Scheduler) promote(id string) {
	if id == "" {
		return
	}
	var task Task
	if err := s.DB.SelectOne(&task, "SELECT * FROM tasks WHERE id = :id", map[string]any{"id": id}); err != nil {
		slog.Error("failed to load successor task", "id", id, "error", err)
		return
	}
	if task.State != StateWaiting {
		return
	}
	task.State = StatePending
	task.NextAttempt = time.Now().UTC()
	if _, err := s.DB.Update(&task); err != nil {
		slog.Error("failed to promote task", "id", id, "error", err)
	}
}

func (s *Scheduler) cancelChain(id string) {
	for id != "" {
		var task Task
		if err := s.DB.SelectOne(&task, "SELECT * FROM tasks WHERE id = :id", map[string]any{"id": id}); err != nil {
			return
		}
		task.State = StateCancelled
		if _, err := s.DB.Update(&task); err != nil {
			slog.Error("failed to cancel task", "id", id, "error", err)
		}
		id = task.NextTaskID
	}
}
