// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Mock mqtt client that records published topics and can be used for testing.
type MockClient struct {
	mu sync.Mutex
	// Topics published so far, in order.
	Published []string
}

func (m *MockClient) Publish(topic string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, topic)
}

func (m *MockClient) Connect() error {
	return nil
}

func (m *MockClient) Disconnect() {
	// Do nothing
}

func (m *MockClient) Subscribe(topic string, callback pahomqtt.MessageHandler) error {
	return nil
}
