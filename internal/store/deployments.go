package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (s *Store) CreateDeployment(ctx context.Context, d Deployment) error {
	cfgJSON, err := json.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, project_id, environment_id, branch, commit_sha, commit_message, commit_author, commit_date,
			config_snapshot, env_vars_snapshot, container_id, container_status, status, conclusion, trigger, job_id, created_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,0)
	`, d.ID, d.ProjectID, d.EnvironmentID, d.Branch, d.Commit.SHA, d.Commit.Message, d.Commit.Author, nullTime(d.Commit.Date),
		cfgJSON, d.EnvVars, d.ContainerID, d.ContainerStatus, d.Status, d.Conclusion, d.Trigger, d.JobID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	return nil
}

func (s *Store) GetDeployment(ctx context.Context, id string) (Deployment, error) {
	row := s.db.QueryRowContext(ctx, deploymentSelect+` WHERE id = $1`, id)
	return scanDeployment(row)
}

const deploymentSelect = `
	SELECT id, project_id, environment_id, branch, commit_sha, commit_message, commit_author, commit_date,
		config_snapshot, env_vars_snapshot, container_id, container_status, status, conclusion, trigger, job_id,
		created_at, concluded_at, version
	FROM deployments`

func scanDeployment(row *sql.Row) (Deployment, error) {
	var d Deployment
	var cfgJSON []byte
	var commitDate sql.NullTime
	var concludedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.ProjectID, &d.EnvironmentID, &d.Branch, &d.Commit.SHA, &d.Commit.Message, &d.Commit.Author, &commitDate,
		&cfgJSON, &d.EnvVars, &d.ContainerID, &d.ContainerStatus, &d.Status, &d.Conclusion, &d.Trigger, &d.JobID,
		&d.CreatedAt, &concludedAt, &d.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Deployment{}, ErrNotFound
		}
		return Deployment{}, fmt.Errorf("scan deployment: %w", err)
	}
	if err := json.Unmarshal(cfgJSON, &d.Config); err != nil {
		return Deployment{}, fmt.Errorf("unmarshal config snapshot: %w", err)
	}
	if commitDate.Valid {
		d.Commit.Date = commitDate.Time
	}
	if concludedAt.Valid {
		d.ConcludedAt = &concludedAt.Time
	}
	return d, nil
}

// SetJobID persists the job_id returned by the queue at Create time.
func (s *Store) SetJobID(ctx context.Context, id, jobID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET job_id = $1 WHERE id = $2`, jobID, id)
	return err
}

// ErrConflict is returned by TransitionToInProgress when the row is no
// longer in the status the transition starts from — another worker already
// advanced this deployment.
var ErrConflict = errors.New("deployment version conflict")

// TransitionToInProgress is the Start-step write: queued -> in_progress.
// It is a no-op (ErrConflict) if the row has already moved past queued,
// which makes at-least-once delivery of the start job safe (spec §5).
func (s *Store) TransitionToInProgress(ctx context.Context, id string, containerID string, containerStatus ContainerStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $1, container_id = $2, container_status = $3, version = version + 1
		WHERE id = $4 AND status = $5
	`, DeploymentInProgress, containerID, containerStatus, id, DeploymentQueued)
	if err != nil {
		return fmt.Errorf("transition to in_progress: %w", err)
	}
	return checkRowsAffected(res)
}

// Conclude drives a deployment to a terminal state. Idempotent: calling it
// again on an already-completed row is a no-op and returns nil (Finalize ∘
// Finalize = Finalize, spec §8).
func (s *Store) Conclude(ctx context.Context, id string, conclusion Conclusion, containerStatus ContainerStatus, concludedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = $1, conclusion = $2, container_status = $3, concluded_at = $4, version = version + 1
		WHERE id = $5 AND status != $1
	`, DeploymentCompleted, conclusion, containerStatus, concludedAt, id)
	if err != nil {
		return fmt.Errorf("conclude deployment: %w", err)
	}
	_, err = res.RowsAffected()
	return err // 0 rows affected means already completed: idempotent no-op, not an error
}

// SetContainerStatus is the only write the reaper is allowed to make to an
// already-completed deployment (spec §9 "weak vs owning references").
func (s *Store) SetContainerStatus(ctx context.Context, id string, status ContainerStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET container_status = $1 WHERE id = $2`, status, id)
	return err
}

// RecordContainerStarted is the Start-step write that follows a successful
// Docker Run: container_id and container_status=running land together so no
// row is ever observable with one set and not the other.
func (s *Store) RecordContainerStarted(ctx context.Context, id, containerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE deployments SET container_id = $1, container_status = $2 WHERE id = $3`, containerID, ContainerRunning, id)
	return err
}

func (s *Store) ListInProgressRunning(ctx context.Context) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, deploymentSelect+` WHERE status = $1 AND container_status = $2`, DeploymentInProgress, ContainerRunning)
	if err != nil {
		return nil, fmt.Errorf("list in-progress deployments: %w", err)
	}
	defer rows.Close()
	return scanDeployments(rows)
}

// ListStuckInProgress returns in_progress rows whose container was never
// recorded as running — the crash window between TransitionToInProgress and
// RecordContainerStarted. Without this, a worker crash there leaves a
// deployment invisible to ListInProgressRunning forever (spec §7: the
// monitor must re-inspect and complete the transition after a crash).
func (s *Store) ListStuckInProgress(ctx context.Context) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, deploymentSelect+` WHERE status = $1 AND container_status != $2`, DeploymentInProgress, ContainerRunning)
	if err != nil {
		return nil, fmt.Errorf("list stuck in-progress deployments: %w", err)
	}
	defer rows.Close()
	return scanDeployments(rows)
}

func (s *Store) ListByProject(ctx context.Context, projectID string) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, deploymentSelect+` WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()
	return scanDeployments(rows)
}

// ListTerminalRunningContainers returns completed deployments whose
// container is still (believed to be) running — the Reaper's candidate set
// before filtering against the active alias set (spec §4.8).
func (s *Store) ListTerminalRunningContainers(ctx context.Context, projectID string) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, deploymentSelect+`
		WHERE project_id = $1 AND status = $2 AND container_status = $3 AND container_id != ''
	`, projectID, DeploymentCompleted, ContainerRunning)
	if err != nil {
		return nil, fmt.Errorf("list reaper candidates: %w", err)
	}
	defer rows.Close()
	return scanDeployments(rows)
}

func scanDeployments(rows *sql.Rows) ([]Deployment, error) {
	var out []Deployment
	for rows.Next() {
		var d Deployment
		var cfgJSON []byte
		var commitDate sql.NullTime
		var concludedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.EnvironmentID, &d.Branch, &d.Commit.SHA, &d.Commit.Message, &d.Commit.Author, &commitDate,
			&cfgJSON, &d.EnvVars, &d.ContainerID, &d.ContainerStatus, &d.Status, &d.Conclusion, &d.Trigger, &d.JobID,
			&d.CreatedAt, &concludedAt, &d.Version); err != nil {
			return nil, fmt.Errorf("scan deployment row: %w", err)
		}
		if err := json.Unmarshal(cfgJSON, &d.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config snapshot: %w", err)
		}
		if commitDate.Valid {
			d.Commit.Date = commitDate.Time
		}
		if concludedAt.Valid {
			d.ConcludedAt = &concludedAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDeploymentsBatch deletes up to limit deployment rows for a project,
// used by the project-deletion cascade (spec §4.8, batches of 100).
func (s *Store) DeleteDeploymentsBatch(ctx context.Context, projectID string, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deployments WHERE id IN (
			SELECT id FROM deployments WHERE project_id = $1 LIMIT $2
		)
	`, projectID, limit)
	if err != nil {
		return 0, fmt.Errorf("delete deployments batch: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
