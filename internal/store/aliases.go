package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertAlias implements C2's upsert(subdomain, ...): if a row for
// subdomain exists, its current deployment_id becomes
// previous_deployment_id and deployment_id becomes the new one; otherwise a
// fresh row is inserted with no previous. Grounded on the ON CONFLICT
// idiom in apps/ReleaseParty/backend/internal/store/models.go.
func (s *Store) UpsertAlias(ctx context.Context, id, projectID, subdomain, deploymentID string, typ AliasType, value, environmentID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aliases (id, subdomain, deployment_id, previous_deployment_id, type, value, environment_id, project_id)
		VALUES ($1,$2,$3,'',$4,$5,$6,$7)
		ON CONFLICT (subdomain) DO UPDATE SET
			previous_deployment_id = aliases.deployment_id,
			deployment_id = excluded.deployment_id,
			type = excluded.type,
			value = excluded.value,
			environment_id = excluded.environment_id
	`, id, subdomain, deploymentID, typ, value, environmentID, projectID)
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

// SwapAlias implements C2's swap(subdomain): an involution that exchanges
// deployment_id and previous_deployment_id. Fails with ErrInvalidSwap if
// there is no previous deployment to swap in.
var ErrInvalidSwap = errors.New("no previous deployment to swap in")

func (s *Store) SwapAlias(ctx context.Context, subdomain string) (Alias, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Alias{}, fmt.Errorf("begin swap: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, subdomain, deployment_id, previous_deployment_id, type, value, environment_id, project_id
		FROM aliases WHERE subdomain = $1 FOR UPDATE
	`, subdomain)
	a, err := scanAlias(row)
	if err != nil {
		return Alias{}, err
	}
	if a.PreviousDeploymentID == "" {
		return Alias{}, ErrInvalidSwap
	}
	a.DeploymentID, a.PreviousDeploymentID = a.PreviousDeploymentID, a.DeploymentID
	if _, err := tx.ExecContext(ctx, `
		UPDATE aliases SET deployment_id = $1, previous_deployment_id = $2 WHERE id = $3
	`, a.DeploymentID, a.PreviousDeploymentID, a.ID); err != nil {
		return Alias{}, fmt.Errorf("swap alias: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Alias{}, fmt.Errorf("commit swap: %w", err)
	}
	return a, nil
}

func (s *Store) GetAliasBySubdomain(ctx context.Context, subdomain string) (Alias, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subdomain, deployment_id, previous_deployment_id, type, value, environment_id, project_id
		FROM aliases WHERE subdomain = $1
	`, subdomain)
	return scanAlias(row)
}

func (s *Store) ListAliasesByProject(ctx context.Context, projectID string) ([]Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subdomain, deployment_id, previous_deployment_id, type, value, environment_id, project_id
		FROM aliases WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	var out []Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.ID, &a.Subdomain, &a.DeploymentID, &a.PreviousDeploymentID, &a.Type, &a.Value, &a.EnvironmentID, &a.ProjectID); err != nil {
			return nil, fmt.Errorf("scan alias row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveDeploymentIDs is C2's active_deployment_ids: the union of
// deployment_id and previous_deployment_id across a project's aliases —
// the Reaper's protected set.
func (s *Store) ActiveDeploymentIDs(ctx context.Context, projectID string) (map[string]bool, error) {
	aliases, err := s.ListAliasesByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(aliases)*2)
	for _, a := range aliases {
		active[a.DeploymentID] = true
		if a.PreviousDeploymentID != "" {
			active[a.PreviousDeploymentID] = true
		}
	}
	return active, nil
}

func (s *Store) DeleteAliasesForDeployments(ctx context.Context, deploymentIDs []string) error {
	if len(deploymentIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM aliases WHERE deployment_id = ANY($1) OR previous_deployment_id = ANY($1)
	`, deploymentIDs)
	if err != nil {
		return fmt.Errorf("delete aliases for deployments: %w", err)
	}
	return nil
}

func scanAlias(row *sql.Row) (Alias, error) {
	var a Alias
	if err := row.Scan(&a.ID, &a.Subdomain, &a.DeploymentID, &a.PreviousDeploymentID, &a.Type, &a.Value, &a.EnvironmentID, &a.ProjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alias{}, ErrNotFound
		}
		return Alias{}, fmt.Errorf("scan alias: %w", err)
	}
	return a, nil
}
