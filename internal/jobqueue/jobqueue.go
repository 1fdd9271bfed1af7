// Package jobqueue implements C5: a durable task queue with abortable tasks,
// backed by Temporal workflow executions. Grounded on
// agents/manager/cmd/manager/beams.go's ExecuteWorkflow/WorkflowIDReusePolicy
// idiom and agents/manager/cmd/worker/main.go's client.Dial/worker.New
// bootstrap shape.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// Queue enqueues deployment jobs as Temporal workflow executions. The
// workflow ID doubles as the job_id persisted on the Deployment row (spec
// §4.5: "per-job opaque job_id returned to the submitter").
type Queue struct {
	Temporal  client.Client
	TaskQueue string
}

func New(c client.Client, taskQueue string) *Queue {
	return &Queue{Temporal: c, TaskQueue: taskQueue}
}

// Enqueue durably submits workflow for execution under jobID, bounding the
// whole run by timeout (spec §4.5's job_timeout). Returns jobID unchanged so
// callers can persist it as Deployment.JobID in one expression. A duplicate
// submission under an already-running jobID is treated as success — At-
// most-once on success, at-least-once on crash recovery (spec §4.5) means
// the caller may retry the enqueue step itself.
func (q *Queue) Enqueue(ctx context.Context, jobID string, timeout time.Duration, workflow interface{}, args ...interface{}) (string, error) {
	opts := client.StartWorkflowOptions{
		ID:                    jobID,
		TaskQueue:             q.TaskQueue,
		WorkflowExecutionTimeout: timeout,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
	_, err := q.Temporal.ExecuteWorkflow(ctx, opts, workflow, args...)
	if err == nil {
		return jobID, nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return jobID, nil
	}
	return "", fmt.Errorf("enqueue job %s: %w", jobID, err)
}

// Abort requests cancellation of jobID. It returns true iff the job existed
// and the signal was delivered (spec §4.5); a NotFound from Temporal means
// the job never existed or already completed, which is reported as
// (false, nil) rather than an error so callers can distinguish "nothing to
// cancel" from a transport failure.
func (q *Queue) Abort(ctx context.Context, jobID string) (bool, error) {
	err := q.Temporal.CancelWorkflow(ctx, jobID, "")
	if err == nil {
		return true, nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("abort job %s: %w", jobID, err)
}

// EnqueueCron submits workflow as a Temporal-native cron schedule (spec
// §4.5's "periodic jobs (cron-style)"). Nothing in cmd/ calls it: the
// periodic reaper sweep in cmd/worker runs on internal/reaper's
// robfig/cron Scheduler, outside Temporal.
func (q *Queue) EnqueueCron(ctx context.Context, jobID, cronSchedule string, workflow interface{}, args ...interface{}) error {
	opts := client.StartWorkflowOptions{
		ID:                    jobID,
		TaskQueue:             q.TaskQueue,
		CronSchedule:          cronSchedule,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	_, err := q.Temporal.ExecuteWorkflow(ctx, opts, workflow, args...)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("enqueue cron job %s: %w", jobID, err)
	}
	return nil
}
