// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package monitoring

import (
	"testing"

	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistryGatherAddsLabels(t *testing.T) {
	registry := NewRegistry(conf.MonitoringConfig{
		Labels: map[string]string{"service": "nodeconductor"},
	})
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodeconductor_test_total",
		Help: "Test counter",
	})
	registry.MustRegister(counter)
	counter.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	var found bool
	for _, family := range families {
		if family.GetName() != "nodeconductor_test_total" {
			continue
		}
		for _, metric := range family.Metric {
			for _, label := range metric.Label {
				if label.GetName() == "service" && label.GetValue() == "nodeconductor" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected service label on gathered metric")
	}
}
