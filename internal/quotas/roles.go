// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package quotas

import (
	"github.com/go-gorp/gorp"
	"github.com/nodeconductor/nodeconductor/internal/models"
)

// The nc_user_count quota on a customer counts users who hold at
// least one role anywhere in the customer, either directly or in one
// of its projects. It is used to cap free tier customers.

// Customer a role grant belongs to. Project grants resolve through
// the project row.
func (l *Ledger) grantCustomer(q gorp.SqlExecutor, grant *models.RoleGrant) (string, error) {
	if grant.CustomerUUID != "" {
		return grant.CustomerUUID, nil
	}
	var project models.Project
	err := q.SelectOne(&project,
		"SELECT * FROM projects WHERE uuid = :uuid",
		map[string]any{"uuid": grant.ProjectUUID})
	if err != nil {
		return "", err
	}
	return project.CustomerUUID, nil
}

// Number of role grants the user holds within the customer, directly
// or through the customer's projects.
func (l *Ledger) countGrants(q gorp.SqlExecutor, customerUUID, userUUID string) (int64, error) {
	return q.SelectInt(
		`SELECT COUNT(*) FROM role_grants
		 WHERE user_uuid = :user AND (customer_uuid = :customer
		   OR project_uuid IN (SELECT uuid FROM projects WHERE customer_uuid = :customer))`,
		map[string]any{"user": userUUID, "customer": customerUUID})
}

// OnRoleGranted must be called after the grant row has been inserted.
// The user count is incremented only when this is the user's first
// role anywhere in the customer.
func (l *Ledger) OnRoleGranted(q gorp.SqlExecutor, grant *models.RoleGrant) error {
	customerUUID, err := l.grantCustomer(q, grant)
	if err != nil {
		return err
	}
	count, err := l.countGrants(q, customerUUID, grant.UserUUID)
	if err != nil {
		return err
	}
	if count != 1 {
		return nil
	}
	return l.AddUsage(q, CustomerScope(customerUUID), UserCount, 1)
}

// OnRoleRevoked must be called after the grant row has been deleted.
// The user count is decremented only when the user holds no further
// role anywhere in the customer.
func (l *Ledger) OnRoleRevoked(q gorp.SqlExecutor, grant *models.RoleGrant) error {
	customerUUID, err := l.grantCustomer(q, grant)
	if err != nil {
		return err
	}
	count, err := l.countGrants(q, customerUUID, grant.UserUUID)
	if err != nil {
		return err
	}
	if count != 0 {
		return nil
	}
	return l.AddUsage(q, CustomerScope(customerUUID), UserCount, -1)
}
