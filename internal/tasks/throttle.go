// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import "sync"

// Throttle serialises heavy provisioning calls per backend. The key
// is the auth endpoint url, so burst demand against one deployment
// queues instead of overloading it.
type Throttle struct {
	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

func NewThrottle() *Throttle {
	return &Throttle{keys: map[string]*sync.Mutex{}}
}

// Lock blocks until the key is free and returns the unlock function.
func (t *Throttle) Lock(key string) func() {
	t.mu.Lock()
	lock, ok := t.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		t.keys[key] = lock
	}
	t.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
