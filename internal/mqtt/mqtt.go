// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nodeconductor/nodeconductor/internal/conf"
)

// Topics published after a successful pull of each resource kind. Other
// services can subscribe to react to fresh mirror data.
const (
	TriggerFlavorsSynced        = "nodeconductor/sync/flavors"
	TriggerImagesSynced         = "nodeconductor/sync/images"
	TriggerSecurityGroupsSynced = "nodeconductor/sync/securitygroups"
	TriggerInstancesSynced      = "nodeconductor/sync/instances"
	TriggerFloatingIPsSynced    = "nodeconductor/sync/floatingips"
	TriggerQuotasSynced         = "nodeconductor/sync/quotas"
)

type Client interface {
	Connect() error
	Publish(topic string, obj any)
	Disconnect()
	Subscribe(topic string, callback mqtt.MessageHandler) error
}

type client struct {
	conf conf.MQTTConfig
	// MQTT client to publish mqtt data.
	client *mqtt.Client
	// Lock to prevent concurrent writes to the MQTT client.
	lock *sync.Mutex
}

func NewClient(conf conf.MQTTConfig) Client {
	return &client{conf: conf, lock: &sync.Mutex{}}
}

// Called when the connection to the mqtt broker is lost.
func (t *client) onUnexpectedConnectionLoss(client mqtt.Client, err error) {
	slog.Error("lost connection to mqtt broker", "error", err)
}

// Connect to the mqtt broker.
func (t *client) Connect() error {
	if t.client != nil {
		return nil
	}

	slog.Info("connecting to mqtt broker", "url", t.conf.URL)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.conf.URL)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectRetry(false)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(t.onUnexpectedConnectionLoss)
	//nolint:gosec // The client id does not need to be cryptographically secure.
	opts.SetClientID(fmt.Sprintf("nodeconductor-%d", rand.Intn(1_000_000)))
	opts.SetOrderMatters(false)
	opts.SetProtocolVersion(4)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, msg mqtt.Message) {
		slog.Warn("received unexpected message on topic", "topic", msg.Topic())
	})
	opts.SetUsername(t.conf.Username)
	opts.SetPassword(t.conf.Password)

	client := mqtt.NewClient(opts)
	if conn := client.Connect(); conn.Wait() && conn.Error() != nil {
		return conn.Error()
	}
	t.client = &client
	slog.Info("connected to mqtt broker")

	return nil
}

// Publish mqtt data to the mqtt broker.
// In case of errors, log them out and return.
func (t *client) Publish(topic string, obj any) {
	if err := t.publish(topic, obj); err != nil {
		slog.Error("failed to publish mqtt data", "topic", topic, "error", err)
		return
	}
	slog.Info("published mqtt data", "topic", topic)
}

func (t *client) publish(topic string, obj any) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	// Connect if we aren't already.
	if err := t.Connect(); err != nil {
		return err
	}
	client := *t.client

	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	pub := client.Publish(topic, 2, true, string(data))
	if pub.Wait() && pub.Error() != nil {
		return pub.Error()
	}
	return nil
}

// Subscribe to a topic on the mqtt broker.
func (t *client) Subscribe(topic string, callback mqtt.MessageHandler) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.Connect(); err != nil {
		return err
	}
	client := *t.client
	if sub := client.Subscribe(topic, 2, callback); sub.Wait() && sub.Error() != nil {
		return sub.Error()
	}
	return nil
}

// Disconnect from the mqtt broker.
func (t *client) Disconnect() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.client == nil {
		return
	}
	(*t.client).Disconnect(1000)
	t.client = nil
}
