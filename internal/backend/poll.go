// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"time"
)

// Every wait on a remote terminal state is a bounded poll: 20
// attempts, 3 seconds apart, which together with task retries bounds
// each pipeline step to the 10 minute ceiling.
const (
	PollAttempts = 20
	PollInterval = 3 * time.Second
)

// Poll calls check until it reports done, the attempts are exhausted
// or the context is canceled. Exhaustion is an InternalError: the
// backend did not reach the expected state in bounded time.
func Poll(ctx context.Context, what string, check func(ctx context.Context) (bool, error)) error {
	for attempt := range PollAttempts {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt == PollAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(PollInterval):
		}
	}
	return &InternalError{Err: fmt.Errorf("timed out waiting for %s", what)}
}
