// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package push

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nodeconductor/nodeconductor/internal/backend"
	"github.com/nodeconductor/nodeconductor/internal/events"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// PushSshKey uploads the key to the tenant under its canonical name.
// A fingerprint lookup precedes creation so an already uploaded key is
// not duplicated. Keys are never edited in place; updates go through
// RemoveSshKey followed by PushSshKey.
func (p *Pusher) PushSshKey(ctx context.Context, key *models.SshPublicKey, tb backend.TenantBackend) error {
	name := models.KeyName(key.UUID, key.Name)
	_, err := tb.FindKeypair(ctx, key.Fingerprint, name)
	if err == nil {
		slog.Info("ssh key already present on backend", "name", name)
		return nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	if err := tb.CreateKeypair(ctx, name, key.PublicKey); err != nil {
		p.Sink.Emit(events.LevelError, events.TypeSshKeySyncFailed,
			"SSH key synchronization failed.", events.SshKeyContext(key))
		return err
	}
	p.Sink.Emit(events.LevelInfo, events.TypeSshKeySyncSucceeded,
		"SSH key synchronization succeeded.", events.SshKeyContext(key))
	return nil
}

// RemoveSshKey deletes the key from the tenant. A key that is already
// gone is not an error.
func (p *Pusher) RemoveSshKey(ctx context.Context, key *models.SshPublicKey, tb backend.TenantBackend) error {
	name := models.KeyName(key.UUID, key.Name)
	err := tb.DeleteKeypair(ctx, name)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	return nil
}
