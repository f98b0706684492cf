// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
)

// The core distinguishes three backend failure kinds plus not-found.
// Transient failures are retried up to the per-task ceiling; semantic
// and internal failures transition the owning entity to Erred.

// Network timeout, 5xx or auth expiry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient backend error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// The remote state does not match our request, e.g. a conflict or a
// quota denial.
type SemanticError struct {
	Err error
}

func (e *SemanticError) Error() string { return "backend error: " + e.Err.Error() }
func (e *SemanticError) Unwrap() error { return e.Err }

// Our helpers could not reach a consistent state after a bounded
// wait. Handled like a semantic error.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string { return "backend helper error: " + e.Err.Error() }
func (e *InternalError) Unwrap() error { return e.Err }

// The object does not exist on the backend. During reconciliation
// this is a signal to delete or mark-erred locally, and a delete poll
// treats it as success.
var ErrNotFound = errors.New("not found in backend")

// Retryable reports whether the error should be retried by the task
// that produced it.
func Retryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Classify wraps a raw adapter error into the taxonomy above. Nil
// stays nil, already-classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *TransientError
	var semantic *SemanticError
	var internal *InternalError
	if errors.As(err, &transient) || errors.As(err, &semantic) ||
		errors.As(err, &internal) || errors.Is(err, ErrNotFound) {
		return err
	}

	if gophercloud.ResponseCodeIs(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	// Expired tokens are re-created on the next attempt.
	if gophercloud.ResponseCodeIs(err, http.StatusUnauthorized) {
		return &TransientError{Err: err}
	}
	var codeErr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &codeErr) {
		if codeErr.Actual >= 500 {
			return &TransientError{Err: err}
		}
		return &SemanticError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}
	return &SemanticError{Err: err}
}

// Conflict reports whether the error is an HTTP 409. Create calls use
// this for get-or-create idempotence.
func Conflict(err error) bool {
	return gophercloud.ResponseCodeIs(err, http.StatusConflict)
}
