// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

// Package events emits audit records for state transitions, sync
// outcomes and backend errors, and queries them back from the
// elasticsearch index they are shipped to.
package events

import (
	"encoding/json"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nodeconductor/nodeconductor/internal/conf"
)

// Severity of an event record.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) Name() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	}
	return "CRITICAL"
}

// Importance shown to users, derived from the severity.
func (l Level) Importance() string {
	switch l {
	case LevelDebug:
		return "low"
	case LevelInfo:
		return "normal"
	case LevelWarning:
		return "high"
	case LevelError:
		return "very high"
	}
	return "critical"
}

// Numeric code matching the severity, kept stable for consumers of
// the index.
func (l Level) Code() int {
	switch l {
	case LevelDebug:
		return 10
	case LevelInfo:
		return 20
	case LevelWarning:
		return 30
	case LevelError:
		return 40
	}
	return 50
}

// Stable event type tags emitted by the core.
const (
	TypeResourceCreationScheduled = "resource_creation_scheduled"
	TypeResourceCreationSucceeded = "resource_creation_succeeded"
	TypeResourceCreationFailed    = "resource_creation_failed"
	TypeResourceUpdateSucceeded   = "resource_update_succeeded"
	TypeResourceDeletionScheduled = "resource_deletion_scheduled"
	TypeResourceDeletionSucceeded = "resource_deletion_succeeded"
	TypeResourceDeletionFailed    = "resource_deletion_failed"
	TypeResourceStateChanged      = "resource_state_changed"
	TypeLinkSyncSucceeded         = "service_project_link_sync_succeeded"
	TypeLinkSyncFailed            = "service_project_link_sync_failed"
	TypeSshKeySyncSucceeded       = "ssh_key_sync_succeeded"
	TypeSshKeySyncFailed          = "ssh_key_sync_failed"
	TypeQuotaThresholdReached     = "quota_threshold_reached"
	TypeBackendError              = "backend_error"
)

// Sink receives event records. Implementations must be fire-and-forget:
// a failed send never fails the originating operation.
type Sink interface {
	Emit(level Level, eventType, message string, context map[string]any)
}

// Sink writing line-delimited json records over a tcp socket, in the
// logstash wire format.
type TCPSink struct {
	conf conf.EventSinkConfig

	mu   sync.Mutex
	conn net.Conn

	// Overridable for tests.
	now func() time.Time
}

func NewTCPSink(c conf.EventSinkConfig) *TCPSink {
	return &TCPSink{conf: c, now: time.Now}
}

// Emit serializes and sends one event record. Errors are logged and
// swallowed; the connection is dropped and re-dialed on the next emit.
func (s *TCPSink) Emit(level Level, eventType, message string, context map[string]any) {
	record := map[string]any{
		"@timestamp":      s.now().UTC().Format("2006-01-02T15:04:05.999999") + "Z",
		"@version":        1,
		"message":         message,
		"levelname":       level.Name(),
		"logger":          "nodeconductor",
		"importance":      level.Importance(),
		"importance_code": level.Code(),
		"event_type":      eventType,
	}
	for k, v := range context {
		record[k] = v
	}
	payload, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to serialize event record", "eventType", eventType, "error", err)
		return
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		addr := net.JoinHostPort(s.conf.Host, strconv.Itoa(s.conf.Port))
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			slog.Error("failed to connect to event sink", "addr", addr, "error", err)
			return
		}
		s.conn = conn
	}
	if _, err := s.conn.Write(payload); err != nil {
		slog.Error("failed to send event record", "eventType", eventType, "error", err)
		s.conn.Close()
		s.conn = nil
	}
}

// Close the sink connection if one is open.
func (s *TCPSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
