package store

import (
	"context"
	"fmt"
)

func (s *Store) ListDomainsByProject(ctx context.Context, projectID string) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, hostname, type, environment_id, redirect_to_domain_id, status
		FROM domains WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()
	var out []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Hostname, &d.Type, &d.EnvironmentID, &d.RedirectToDomainID, &d.Status); err != nil {
			return nil, fmt.Errorf("scan domain row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) UpsertDomain(ctx context.Context, d Domain) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO domains (id, project_id, hostname, type, environment_id, redirect_to_domain_id, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			type = excluded.type,
			environment_id = excluded.environment_id,
			redirect_to_domain_id = excluded.redirect_to_domain_id,
			status = excluded.status
	`, d.ID, d.ProjectID, d.Hostname, d.Type, d.EnvironmentID, d.RedirectToDomainID, d.Status)
	if err != nil {
		return fmt.Errorf("upsert domain: %w", err)
	}
	return nil
}

func (s *Store) DeleteDomainsForProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete domains: %w", err)
	}
	return nil
}
