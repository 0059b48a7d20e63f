package engine

import (
	"context"
	"errors"

	"atelier/internal/engine/auth"
	"atelier/internal/events"
)

// Identity is the resolved RBAC view of an actor within a project.
type Identity struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

// WhoAmI resolves the actor's roles and effective permissions for a project.
func (e Engine) WhoAmI(ctx context.Context, projectID, actorID string) (Identity, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Identity{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, projectID, actorID)
	if err != nil {
		return Identity{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, projectID, actorID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// GrantRole assigns a role to an actor within a project. The granting actor
// needs rbac.manage.
func (e Engine) GrantRole(ctx context.Context, projectID, grantedBy, actorID, roleID string) error {
	if actorID == "" || roleID == "" {
		return errors.New("actor_id and role_id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, projectID, grantedBy, "rbac.manage")
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: "rbac.manage"}
	}
	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.RoleGranted, projectID, "rbac", actorID, grantedBy, events.EventPayload{"role_id": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a role from an actor within a project.
func (e Engine) RevokeRole(ctx context.Context, projectID, revokedBy, actorID, roleID string) error {
	if actorID == "" || roleID == "" {
		return errors.New("actor_id and role_id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, projectID, revokedBy, "rbac.manage")
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: "rbac.manage"}
	}
	if err := e.Repo.RevokeRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.RoleRevoked, projectID, "rbac", actorID, revokedBy, events.EventPayload{"role_id": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}
