package deploy

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Activity name constants mirror the teacher's activityFetchDyadTask-style
// naming (agents/manager/internal/beam/activities.go): workflows invoke each
// activity by this literal string. cmd/worker registers the Activities
// struct whole, which names every activity after its Go method, so each
// constant must equal the name of the method it invokes.
const (
	ActivityStartDeployment    = "StartDeployment"
	ActivityFailDeployment     = "FailDeployment"
	ActivityFinalizeDeployment = "FinalizeDeployment"
	ActivityReapProject        = "ReapProject"
	ActivityCleanupProject     = "CleanupProject"
)

// Activities wraps a *Deploy (and, for reap/cleanup, an
// *internal/reaper.Reaper) so every state-machine operation Temporal can
// drive is reachable as a registered activity, the same
// "one struct, register it whole, dispatch by method" shape
// agents/manager/internal/beam/activities.go uses for its own Activities
// type.
type Activities struct {
	Deploy *Deploy
	Reaper interface {
		Sweep(ctx context.Context, projectID string) error
		CleanupProject(ctx context.Context, projectID string) error
	}
}

func NewActivities(d *Deploy, reaper interface {
	Sweep(ctx context.Context, projectID string) error
	CleanupProject(ctx context.Context, projectID string) error
}) *Activities {
	return &Activities{Deploy: d, Reaper: reaper}
}

// StartDeployment is the Temporal activity body for C6 Start.
func (a *Activities) StartDeployment(ctx context.Context, deploymentID string) error {
	return a.Deploy.Start(ctx, deploymentID)
}

// FailDeployment is the Temporal activity body for C6 Fail. Workflows run
// it with terminalActivityOptions, so Temporal retries it up to three
// attempts; Fail returns early once the row is completed, so a retry after
// a successful attempt changes nothing.
func (a *Activities) FailDeployment(ctx context.Context, deploymentID, reason string) error {
	return a.Deploy.Fail(ctx, deploymentID, reason)
}

// FinalizeDeployment is the Temporal activity body the Monitor enqueues
// once a deployment's container reports ready.
func (a *Activities) FinalizeDeployment(ctx context.Context, deploymentID string) error {
	return a.Deploy.Finalize(ctx, deploymentID)
}

// ReapProject is the Temporal activity body for C8's per-project sweep.
func (a *Activities) ReapProject(ctx context.Context, projectID string) error {
	return a.Reaper.Sweep(ctx, projectID)
}

// CleanupProject is the Temporal activity body for the project-deletion
// cascade (spec §4.8): removes every deployment's container, the router
// config, and every row scoped to the project.
func (a *Activities) CleanupProject(ctx context.Context, projectID string) error {
	return a.Reaper.CleanupProject(ctx, projectID)
}

var startActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 5 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 1, // Start's own failure path already calls Fail; retrying would double-provision containers
	},
}

var terminalActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 2 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		MaximumAttempts: 3,
	},
}

// StartDeploymentWorkflow is C6's asynchronous driver for Start: it runs
// the activity once, and on any error drives the deployment straight to
// fail(reason) rather than leaving it stuck in_progress (spec §4.6,
// "any transient exception during these steps... yields fail(reason)").
func StartDeploymentWorkflow(ctx workflow.Context, deploymentID string) error {
	ctx = workflow.WithActivityOptions(ctx, startActivityOptions)
	err := workflow.ExecuteActivity(ctx, ActivityStartDeployment, deploymentID).Get(ctx, nil)
	if err == nil {
		return nil
	}

	failCtx := workflow.WithActivityOptions(ctx, terminalActivityOptions)
	failErr := workflow.ExecuteActivity(failCtx, ActivityFailDeployment, deploymentID, err.Error()).Get(failCtx, nil)
	if failErr != nil {
		return failErr
	}
	return nil
}

// FailDeploymentWorkflow lets the Monitor or the control API drive a
// failure through the same durable-execution path as Start, so a crash
// mid-teardown is retried by Temporal rather than left half-done.
func FailDeploymentWorkflow(ctx workflow.Context, deploymentID, reason string) error {
	ctx = workflow.WithActivityOptions(ctx, terminalActivityOptions)
	return workflow.ExecuteActivity(ctx, ActivityFailDeployment, deploymentID, reason).Get(ctx, nil)
}

// FinalizeDeploymentWorkflow lets the Monitor drive a successful
// readiness result through the durable path.
func FinalizeDeploymentWorkflow(ctx workflow.Context, deploymentID string) error {
	ctx = workflow.WithActivityOptions(ctx, terminalActivityOptions)
	return workflow.ExecuteActivity(ctx, ActivityFinalizeDeployment, deploymentID).Get(ctx, nil)
}

// CleanupInactiveWorkflow is C8's per-project sweep, enqueued after every
// successful Finalize. The standalone cron loop in cmd/worker
// (reaper.Scheduler) calls Reaper.Sweep directly instead of enqueueing it.
func CleanupInactiveWorkflow(ctx workflow.Context, projectID string) error {
	ctx = workflow.WithActivityOptions(ctx, terminalActivityOptions)
	return workflow.ExecuteActivity(ctx, ActivityReapProject, projectID).Get(ctx, nil)
}

// ProjectCleanupWorkflow drives the project-deletion cascade durably so a
// worker crash mid-cascade resumes rather than leaving orphaned containers.
func ProjectCleanupWorkflow(ctx workflow.Context, projectID string) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	return workflow.ExecuteActivity(ctx, ActivityCleanupProject, projectID).Get(ctx, nil)
}

// enqueueReap fires the per-project sweep after a successful Finalize, so
// a previous deployment's now-unreferenced container doesn't wait a full
// reaper interval before it's reclaimed (spec §4.8).
func (d *Deploy) enqueueReap(ctx context.Context, projectID string) error {
	_, err := d.Queue.Enqueue(ctx, "reap-"+projectID+"-"+newID(), d.JobTimeout, CleanupInactiveWorkflow, projectID)
	return err
}
