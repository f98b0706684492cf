// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/nodeconductor/nodeconductor/internal/conf"
)

func TestTCPSinkEmit(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	lines := make(chan string, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		lines <- line
	}()

	addr := listener.Addr().(*net.TCPAddr)
	sink := NewTCPSink(conf.EventSinkConfig{Host: "127.0.0.1", Port: addr.Port})
	defer sink.Close()
	sink.now = func() time.Time {
		return time.Date(2016, 2, 10, 10, 30, 0, 0, time.UTC)
	}

	sink.Emit(LevelInfo, TypeResourceCreationSucceeded, "Instance web-1 has been created.",
		map[string]any{"instance_name": "web-1", "project_uuid": "p-1"})

	var line string
	select {
	case line = <-lines:
	case <-time.After(5 * time.Second):
		t.Fatal("no event record received")
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("record should be newline terminated")
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatal(err)
	}
	expected := map[string]any{
		"@timestamp":      "2016-02-10T10:30:00Z",
		"@version":        float64(1),
		"message":         "Instance web-1 has been created.",
		"levelname":       "INFO",
		"logger":          "nodeconductor",
		"importance":      "normal",
		"importance_code": float64(20),
		"event_type":      TypeResourceCreationSucceeded,
		"instance_name":   "web-1",
		"project_uuid":    "p-1",
	}
	for key, want := range expected {
		if got := record[key]; got != want {
			t.Errorf("record[%q] = %v, expected %v", key, got, want)
		}
	}
}

func TestTCPSinkUnreachableDoesNotFail(t *testing.T) {
	// Port 1 is never listening. Emit must swallow the error.
	sink := NewTCPSink(conf.EventSinkConfig{Host: "127.0.0.1", Port: 1})
	defer sink.Close()
	sink.Emit(LevelError, TypeBackendError, "backend down", nil)
}

func TestLevelImportance(t *testing.T) {
	tests := []struct {
		level      Level
		name       string
		importance string
		code       int
	}{
		{LevelDebug, "DEBUG", "low", 10},
		{LevelInfo, "INFO", "normal", 20},
		{LevelWarning, "WARNING", "high", 30},
		{LevelError, "ERROR", "very high", 40},
		{LevelCritical, "CRITICAL", "critical", 50},
	}
	for _, tt := range tests {
		if tt.level.Name() != tt.name {
			t.Errorf("expected name %q, got %q", tt.name, tt.level.Name())
		}
		if tt.level.Importance() != tt.importance {
			t.Errorf("expected importance %q, got %q", tt.importance, tt.level.Importance())
		}
		if tt.level.Code() != tt.code {
			t.Errorf("expected code %d, got %d", tt.code, tt.level.Code())
		}
	}
}
