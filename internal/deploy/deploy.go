// Package deploy implements C6: the deployment state machine that creates,
// runs, finalizes, fails, cancels, and rolls back deployments. Grounded on
// apps/ReleaseParty/backend's collaborator-injection shape (a single struct
// holding *store.Store, the github app, and a logger, methods doing the
// orchestration) and agents/shared/docker/client.go for the container
// lifecycle calls. The Temporal workflow/activity wiring that drives this
// state machine asynchronously lives in workflow.go.
package deploy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"drydock/internal/alias"
	"drydock/internal/containerrt"
	"drydock/internal/crypto"
	"drydock/internal/deployerr"
	"drydock/internal/environment"
	"drydock/internal/eventbus"
	"drydock/internal/githubapp"
	"drydock/internal/jobqueue"
	"drydock/internal/router"
	"drydock/internal/store"
)

// Deploy wires the collaborators C6 coordinates: the relational store, the
// Redis-backed event bus, the router config writer, the Temporal-backed job
// queue, the Docker runtime, the GitHub App client, and the env-var crypto
// box. One Deploy is constructed per process (cmd/api and cmd/worker each
// build their own, same as the teacher's Server/Activities split).
type Deploy struct {
	Store   *store.Store
	Bus     *eventbus.Bus
	Router  *router.Writer
	Queue   *jobqueue.Queue
	Docker  *containerrt.Client
	GitHub  *githubapp.App
	Box     *crypto.Box
	Log     *log.Logger

	RunnerNetwork     string
	DeployDomain      string
	Scheme            router.Scheme
	DeploymentTimeout time.Duration
	JobTimeout        time.Duration
	ProbeInterval     time.Duration
	HTTPProbeTimeout  time.Duration
}

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func jobIDFor(deploymentID string) string {
	return "deploy-start-" + deploymentID
}

// Create implements C6 Create: resolves the environment for branch,
// snapshots the project's config and env vars onto a new Deployment row,
// enqueues the start job, and announces the creation on the project's
// updates stream.
func (d *Deploy) Create(ctx context.Context, project store.Project, trigger store.Trigger, branch string, commit githubapp.Commit) (store.Deployment, error) {
	envs := make([]environment.Environment, 0, len(project.Environments))
	for _, e := range project.Environments {
		envs = append(envs, environment.Environment{ID: e.ID, Slug: e.Slug, Branch: e.Branch})
	}
	env, ok := environment.Match(branch, envs)
	if !ok {
		return store.Deployment{}, deployerr.ValidationFailed(fmt.Sprintf("no environment matches branch %q", branch))
	}

	dep := store.Deployment{
		ID:            newID(),
		ProjectID:     project.ID,
		EnvironmentID: env.ID,
		Branch:        branch,
		Commit: store.Commit{
			SHA:     commit.SHA,
			Message: commit.Message,
			Author:  commit.Author,
			Date:    commit.Date,
		},
		Config:    project.Config,
		EnvVars:   project.EnvVars, // already-encrypted snapshot, see internal/crypto
		Status:    store.DeploymentQueued,
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.Store.CreateDeployment(ctx, dep); err != nil {
		return store.Deployment{}, fmt.Errorf("create deployment: %w", err)
	}

	jobID, err := d.Queue.Enqueue(ctx, jobIDFor(dep.ID), d.JobTimeout, StartDeploymentWorkflow, dep.ID)
	if err != nil {
		return store.Deployment{}, fmt.Errorf("enqueue start job: %w", err)
	}
	if err := d.Store.SetJobID(ctx, dep.ID, jobID); err != nil {
		return store.Deployment{}, fmt.Errorf("persist job id: %w", err)
	}
	dep.JobID = jobID

	if err := d.publish(ctx, project.ID, eventbus.Event{
		Type:             eventbus.EventDeploymentCreation,
		ProjectID:        project.ID,
		DeploymentID:     dep.ID,
		DeploymentStatus: string(dep.Status),
		Timestamp:        time.Now().UTC(),
	}); err != nil {
		d.logf("publish deployment_creation: %v", err)
	}
	return dep, nil
}

// Start is the worker-side activity body for the start job (spec §4.6
// "Start"). If the project is no longer active the deployment is skipped
// without touching Docker; otherwise it builds and runs the deployment
// container and records it as running.
func (d *Deploy) Start(ctx context.Context, deploymentID string) error {
	dep, err := d.Store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	project, err := d.Store.GetProject(ctx, dep.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	if project.Status != store.ProjectActive {
		return d.Store.Conclude(ctx, dep.ID, store.ConclusionSkipped, store.ContainerNone, time.Now().UTC())
	}

	if err := d.Store.TransitionToInProgress(ctx, dep.ID, "", store.ContainerNone); err != nil {
		if err == store.ErrConflict {
			return nil // already advanced past queued: at-least-once redelivery, no-op
		}
		return fmt.Errorf("transition to in_progress: %w", err)
	}
	if err := d.publishBoth(ctx, dep.ProjectID, dep.ID, eventbus.EventDeploymentStatusUpdate, "in_progress"); err != nil {
		d.logf("publish in_progress: %v", err)
	}

	envVarsJSON, err := d.Box.DecryptString(dep.EnvVars)
	if err != nil {
		return deployerr.Integrity("decrypt deployment env vars")
	}
	var envVars map[string]string
	if envVarsJSON != "" {
		if err := json.Unmarshal([]byte(envVarsJSON), &envVars); err != nil {
			return fmt.Errorf("unmarshal env vars: %w", err)
		}
	}

	cloneURL, err := d.authenticatedCloneURL(ctx, project.InstallationID, project.RepoRef)
	if err != nil {
		return d.Fail(ctx, dep.ID, fmt.Sprintf("obtain clone credentials: %v", err))
	}

	script := containerrt.BuildRunScript(cloneURL, dep.Commit.SHA, dep.Branch, dep.Config.RootDir, dep.Config.BuildCmd, dep.Config.PreDeployCmd, dep.Config.StartCmd)

	spec := containerrt.RunSpec{
		Name:          "deployment-" + dep.ID,
		Image:         dep.Config.Image,
		Network:       d.RunnerNetwork,
		Script:        script,
		CPUs:          dep.Config.CPUs,
		MemoryMB:      int64(dep.Config.MemoryMB),
		Scheme:        containerrt.Scheme(d.Scheme),
		DeploymentID:  dep.ID,
		ProjectID:     dep.ProjectID,
		EnvironmentID: dep.EnvironmentID,
		Branch:        dep.Branch,
		Subdomain:     alias.BranchAlias(project.Slug, dep.Branch),
		DeployDomain:  d.DeployDomain,
		EnvVars:       envVars,
	}

	containerID, err := d.Docker.Run(ctx, spec)
	if err != nil {
		return d.Fail(ctx, dep.ID, fmt.Sprintf("create container: %v", err))
	}

	if err := d.Store.RecordContainerStarted(ctx, dep.ID, containerID); err != nil {
		return fmt.Errorf("record container started: %w", err)
	}
	return nil
}

func environmentSlug(project store.Project, environmentID string) string {
	for _, e := range project.Environments {
		if e.ID == environmentID {
			return e.Slug
		}
	}
	return environmentID
}

// authenticatedCloneURL builds an HTTPS clone URL with a fresh installation
// token embedded (spec §4.6 step 2). repoRef is the plain "owner/name" form
// stored on the project, and the token is issued for the installation id
// the caller passes in (the project's InstallationID).
func (d *Deploy) authenticatedCloneURL(ctx context.Context, installationID int64, repoRef string) (string, error) {
	token, err := d.GitHub.InstallationAccessToken(ctx, installationID)
	if err != nil {
		return "", fmt.Errorf("installation token: %w", err)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token.Token, repoRef), nil
}

// Finalize implements C6 Finalize: assigns the branch/environment/
// environment-id aliases, regenerates the router config, and publishes
// succeeded. Idempotent — Conclude is a no-op on an already-completed row,
// and the alias/router writes are themselves idempotent upserts, so
// re-running Finalize on an already-succeeded deployment changes nothing
// (spec §8: Finalize ∘ Finalize = Finalize).
func (d *Deploy) Finalize(ctx context.Context, deploymentID string) error {
	dep, err := d.Store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	if dep.Status == store.DeploymentCompleted {
		return nil
	}
	project, err := d.Store.GetProject(ctx, dep.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	now := time.Now().UTC()
	if err := d.Store.Conclude(ctx, dep.ID, store.ConclusionSucceeded, store.ContainerRunning, now); err != nil {
		return fmt.Errorf("conclude succeeded: %w", err)
	}

	envSlug := environmentSlug(project, dep.EnvironmentID)
	envAliasSub := alias.EnvironmentAlias(project.Slug, dep.EnvironmentID, envSlug)
	envIDAliasSub := alias.EnvironmentIDAlias(project.Slug, dep.EnvironmentID)
	branchAliasSub := alias.BranchAlias(project.Slug, dep.Branch)

	for _, a := range []struct {
		subdomain string
		typ       store.AliasType
		value     string
	}{
		{branchAliasSub, store.AliasBranch, dep.Branch},
		{envAliasSub, store.AliasEnvironment, dep.EnvironmentID},
		{envIDAliasSub, store.AliasEnvironmentID, dep.EnvironmentID},
	} {
		if err := d.Store.UpsertAlias(ctx, newID(), project.ID, a.subdomain, dep.ID, a.typ, a.value, dep.EnvironmentID); err != nil {
			return fmt.Errorf("upsert alias %s: %w", a.subdomain, err)
		}
	}

	if err := d.regenerateRouterConfig(ctx, project.ID); err != nil {
		d.logf("regenerate router config for %s: %v", project.ID, err) // warning only, spec §7
	}

	if err := d.publishBoth(ctx, project.ID, dep.ID, eventbus.EventDeploymentStatusUpdate, "succeeded"); err != nil {
		d.logf("publish succeeded: %v", err)
	}

	return d.enqueueReap(ctx, project.ID)
}

// Fail implements C6 Fail(reason): tears down the container if one exists
// and drives the deployment to completed/failed.
func (d *Deploy) Fail(ctx context.Context, deploymentID, reason string) error {
	dep, err := d.Store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	if dep.Status == store.DeploymentCompleted {
		return nil
	}

	containerStatus := dep.ContainerStatus
	if dep.ContainerID != "" && dep.ContainerStatus != store.ContainerRemoved && dep.ContainerStatus != store.ContainerStopped {
		if dep.ContainerStatus == store.ContainerRunning {
			if err := d.Docker.InjectLogLine(ctx, dep.ContainerID, "deployment failed: "+reason); err != nil {
				d.logf("inject failure log line into container %s: %v", dep.ContainerID, err)
			}
		}
		removed, err := d.Docker.KillAndRemove(ctx, dep.ContainerID)
		if err != nil {
			d.logf("kill+remove container %s for failed deployment %s: %v", dep.ContainerID, dep.ID, err)
		}
		if removed {
			containerStatus = store.ContainerRemoved
		} else {
			containerStatus = store.ContainerNone
		}
	}

	if err := d.Store.Conclude(ctx, dep.ID, store.ConclusionFailed, containerStatus, time.Now().UTC()); err != nil {
		return fmt.Errorf("conclude failed: %w", err)
	}
	d.logf("deployment %s failed: %s", dep.ID, reason)
	if err := d.publishBoth(ctx, dep.ProjectID, dep.ID, eventbus.EventDeploymentStatusUpdate, "failed"); err != nil {
		d.logf("publish failed: %v", err)
	}
	return nil
}

// Cancel implements C6 Cancel: aborts the start job via the queue, then
// tears down the container the same way Fail does and concludes canceled.
// If the job has already completed, Abort returns false and Cancel surfaces
// InvalidState without touching the row (spec §4.6, scenario 4).
func (d *Deploy) Cancel(ctx context.Context, deploymentID string) error {
	dep, err := d.Store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}
	if dep.Status == store.DeploymentCompleted {
		return deployerr.InvalidState("deployment already settled")
	}

	aborted, err := d.Queue.Abort(ctx, dep.JobID)
	if err != nil {
		return fmt.Errorf("abort job: %w", err)
	}
	if !aborted {
		return deployerr.InvalidState("job already completed")
	}

	containerStatus := dep.ContainerStatus
	if dep.ContainerID != "" {
		removed, err := d.Docker.KillAndRemove(ctx, dep.ContainerID)
		if err != nil {
			d.logf("kill+remove container %s for canceled deployment %s: %v", dep.ContainerID, dep.ID, err)
		}
		if removed {
			containerStatus = store.ContainerRemoved
		} else {
			containerStatus = store.ContainerNone
		}
	}

	if err := d.Store.Conclude(ctx, dep.ID, store.ConclusionCanceled, containerStatus, time.Now().UTC()); err != nil {
		return fmt.Errorf("conclude canceled: %w", err)
	}
	return d.publishBoth(ctx, dep.ProjectID, dep.ID, eventbus.EventDeploymentStatusUpdate, "canceled")
}

// Rollback implements C6 Rollback(environment): swaps the environment
// alias's current/previous deployment pair and regenerates router config.
func (d *Deploy) Rollback(ctx context.Context, project store.Project, environmentID string) error {
	envSlug := environmentSlug(project, environmentID)
	subdomain := alias.EnvironmentAlias(project.Slug, environmentID, envSlug)

	swapped, err := d.Store.SwapAlias(ctx, subdomain)
	if err != nil {
		if err == store.ErrInvalidSwap {
			return deployerr.InvalidState("no previous deployment to roll back to")
		}
		return fmt.Errorf("swap alias: %w", err)
	}

	if err := d.regenerateRouterConfig(ctx, project.ID); err != nil {
		d.logf("regenerate router config after rollback for %s: %v", project.ID, err)
	}

	return d.publish(ctx, project.ID, eventbus.Event{
		Type:             eventbus.EventDeploymentRollback,
		ProjectID:        project.ID,
		DeploymentID:     swapped.DeploymentID,
		DeploymentStatus: "rolled_back",
		Timestamp:        time.Now().UTC(),
	})
}

func (d *Deploy) regenerateRouterConfig(ctx context.Context, projectID string) error {
	project, err := d.Store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	aliases, err := d.Store.ListAliasesByProject(ctx, projectID)
	if err != nil {
		return err
	}
	domains, err := d.Store.ListDomainsByProject(ctx, projectID)
	if err != nil {
		return err
	}
	return d.Router.Write(project, aliases, domains, d.Scheme)
}

func (d *Deploy) publish(ctx context.Context, projectID string, e eventbus.Event) error {
	_, err := d.Bus.Append(ctx, eventbus.ProjectUpdatesStream(projectID), e)
	return err
}

func (d *Deploy) publishBoth(ctx context.Context, projectID, deploymentID string, typ eventbus.EventType, status string) error {
	e := eventbus.Event{
		Type:             typ,
		ProjectID:        projectID,
		DeploymentID:     deploymentID,
		DeploymentStatus: status,
		Timestamp:        time.Now().UTC(),
	}
	if _, err := d.Bus.Append(ctx, eventbus.ProjectUpdatesStream(projectID), e); err != nil {
		return err
	}
	_, err := d.Bus.Append(ctx, eventbus.DeploymentStatusStream(projectID, deploymentID), e)
	return err
}

func (d *Deploy) logf(format string, args ...interface{}) {
	if d.Log != nil {
		d.Log.Printf(format, args...)
	}
}
