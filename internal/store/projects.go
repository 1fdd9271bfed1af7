package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// UpsertProject inserts or updates a project by id, grounded on the
// teacher's ON CONFLICT upsert idiom (internal/store/models.go in
// apps/ReleaseParty/backend).
func (s *Store) UpsertProject(ctx context.Context, p Project) error {
	envsJSON, err := json.Marshal(p.Environments)
	if err != nil {
		return fmt.Errorf("marshal environments: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, slug, repo_ref, installation_id, environments, env_vars, image, root_dir, build_cmd, pre_deploy_cmd, start_cmd, cpus, memory_mb, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now())
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			repo_ref = excluded.repo_ref,
			installation_id = excluded.installation_id,
			environments = excluded.environments,
			env_vars = excluded.env_vars,
			image = excluded.image,
			root_dir = excluded.root_dir,
			build_cmd = excluded.build_cmd,
			pre_deploy_cmd = excluded.pre_deploy_cmd,
			start_cmd = excluded.start_cmd,
			cpus = excluded.cpus,
			memory_mb = excluded.memory_mb,
			status = excluded.status,
			updated_at = now()
	`, p.ID, p.Slug, p.RepoRef, p.InstallationID, envsJSON, p.EnvVars,
		p.Config.Image, p.Config.RootDir, p.Config.BuildCmd, p.Config.PreDeployCmd, p.Config.StartCmd,
		p.Config.CPUs, p.Config.MemoryMB, p.Status)
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, repo_ref, installation_id, environments, env_vars, image, root_dir, build_cmd, pre_deploy_cmd, start_cmd, cpus, memory_mb, status, created_at, updated_at
		FROM projects WHERE id = $1
	`, id)
	return scanProject(row)
}

func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, repo_ref, installation_id, environments, env_vars, image, root_dir, build_cmd, pre_deploy_cmd, start_cmd, cpus, memory_mb, status, created_at, updated_at
		FROM projects WHERE slug = $1
	`, slug)
	return scanProject(row)
}

func (s *Store) GetProjectByRepoRef(ctx context.Context, repoRef string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, repo_ref, installation_id, environments, env_vars, image, root_dir, build_cmd, pre_deploy_cmd, start_cmd, cpus, memory_mb, status, created_at, updated_at
		FROM projects WHERE repo_ref = $1
	`, repoRef)
	return scanProject(row)
}

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var envsJSON []byte
	if err := row.Scan(&p.ID, &p.Slug, &p.RepoRef, &p.InstallationID, &envsJSON, &p.EnvVars,
		&p.Config.Image, &p.Config.RootDir, &p.Config.BuildCmd, &p.Config.PreDeployCmd, &p.Config.StartCmd,
		&p.Config.CPUs, &p.Config.MemoryMB, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("scan project: %w", err)
	}
	if err := json.Unmarshal(envsJSON, &p.Environments); err != nil {
		return Project{}, fmt.Errorf("unmarshal environments: %w", err)
	}
	return p, nil
}

// ListActiveProjectIDs returns every active project's id, used by the
// standalone reaper scheduler's sweep-all tick.
func (s *Store) ListActiveProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM projects WHERE status = $1`, ProjectActive)
	if err != nil {
		return nil, fmt.Errorf("list active project ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetProjectStatus updates a project's status. C6 Start reads that status
// and skips the deployment of any project that is not active.
func (s *Store) SetProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProjectRow removes the project row outright; callers must first
// have driven the cleanup cascade (containers, aliases, deployments, router
// config) per spec §3/§4.8.
func (s *Store) DeleteProjectRow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}
