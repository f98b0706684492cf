// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"

	"github.com/nodeconductor/nodeconductor/internal/events"
)

// One recorded event emission.
type Emitted struct {
	Level   events.Level
	Type    string
	Message string
	Context map[string]any
}

// Mock event sink that records emissions and can be used for testing.
type MockSink struct {
	mu      sync.Mutex
	Emitted []Emitted
}

func (m *MockSink) Emit(level events.Level, eventType, message string, context map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Emitted = append(m.Emitted, Emitted{level, eventType, message, context})
}

// Types returns the emitted event types in order.
func (m *MockSink) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Emitted))
	for i, e := range m.Emitted {
		types[i] = e.Type
	}
	return types
}
