package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project + config exist in DB,
// seeding defaults if missing. It prefers overrides, then single-project DB.
// If the project does not exist, it is created on the fly.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createProject(ctx, r, projectID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed project config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

// createProject inserts a minimal project/rbac footprint using the seed config.
func createProject(ctx context.Context, r repo.Repo, projectID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(projectID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:        projectID,
		Kind:      "furniture-project",
		Status:    "active",
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,kind,status,description,created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Kind, p.Status, p.Description, p.CreatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := r.UpsertProjectConfigTx(ctx, tx, projectID, seedCfg); err != nil {
		return fmt.Errorf("insert project config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := seedRBAC(ctx, r, tx, projectID, actorID, seedCfg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// seedRBAC loads the config's roles into the DB and grants the creating
// actor the owner role.
func seedRBAC(ctx context.Context, r repo.Repo, tx *sql.Tx, projectID, actorID string, cfg *config.Config) error {
	for roleID, role := range cfg.RBAC.Roles {
		if err := r.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", roleID, err)
		}
		for _, perm := range role.Permissions {
			if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
				return fmt.Errorf("insert permission %s: %w", perm, err)
			}
			if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm, roleID, err)
			}
		}
	}
	if err := r.AssignRole(ctx, tx, projectID, actorID, "owner"); err != nil {
		return fmt.Errorf("assign owner role: %w", err)
	}
	return nil
}
