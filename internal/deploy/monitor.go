package deploy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"drydock/internal/containerrt"
	"drydock/internal/store"
)

// Monitor is the single long-lived process spec §4.6/§5 describes: one
// goroutine polling every in-progress deployment in parallel each tick,
// rather than a Temporal workflow per deployment sleeping in a loop. It
// lives in cmd/worker next to the Temporal worker, sharing the same
// *Deploy and thus the same Queue used to drive Fail/Finalize durably once
// a verdict is reached.
type Monitor struct {
	Deploy *Deploy
}

func NewMonitor(d *Deploy) *Monitor {
	return &Monitor{Deploy: d}
}

// Run polls on Deploy.ProbeInterval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Deploy.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	deployments, err := m.Deploy.Store.ListInProgressRunning(ctx)
	if err != nil {
		m.Deploy.logf("monitor: list in-progress deployments: %v", err)
		return
	}
	for _, dep := range deployments {
		dep := dep
		go m.probe(ctx, dep)
	}

	stuck, err := m.Deploy.Store.ListStuckInProgress(ctx)
	if err != nil {
		m.Deploy.logf("monitor: list stuck in-progress deployments: %v", err)
		return
	}
	for _, dep := range stuck {
		dep := dep
		go m.recoverStuck(ctx, dep)
	}
}

// recoverStuck handles a deployment left in_progress with no container_id
// recorded — Start crashed after TransitionToInProgress but before
// RecordContainerStarted. It looks for an orphaned container by the labels
// Start always stamps on creation; if one turns up running, it adopts it so
// the next tick's ListInProgressRunning/probe picks up from there, otherwise
// it fails the deployment (spec §7).
func (m *Monitor) recoverStuck(ctx context.Context, dep store.Deployment) {
	if time.Since(dep.CreatedAt) > m.Deploy.DeploymentTimeout {
		m.fail(ctx, dep.ID, "deployment timed out waiting for readiness")
		return
	}

	containerID, status, found, err := m.Deploy.Docker.ContainerByLabels(ctx, m.Deploy.RunnerNetwork, map[string]string{"deployment_id": dep.ID})
	if err != nil {
		m.Deploy.logf("monitor: recover stuck deployment %s: %v", dep.ID, err)
		return
	}
	if !found {
		m.fail(ctx, dep.ID, "recovered after crash: no container was ever created")
		return
	}
	if !status.Running {
		m.fail(ctx, dep.ID, fmt.Sprintf("recovered after crash: container exited with code %d before being recorded", status.ExitCode))
		return
	}
	if err := m.Deploy.Store.RecordContainerStarted(ctx, dep.ID, containerID); err != nil {
		m.Deploy.logf("monitor: adopt recovered container %s for deployment %s: %v", containerID, dep.ID, err)
	}
}

// probe implements the per-deployment readiness check spec §4.6 describes:
// timeout first, then whether the container has already exited, then an
// HTTP GET against the container's address on the runner network.
func (m *Monitor) probe(ctx context.Context, dep store.Deployment) {
	if time.Since(dep.CreatedAt) > m.Deploy.DeploymentTimeout {
		m.fail(ctx, dep.ID, "deployment timed out waiting for readiness")
		return
	}
	if dep.ContainerID == "" {
		return
	}

	status, err := m.Deploy.Docker.Inspect(ctx, dep.ContainerID, m.Deploy.RunnerNetwork)
	if err != nil {
		m.Deploy.logf("monitor: inspect container %s (deployment %s): %v", dep.ContainerID, dep.ID, err)
		return
	}
	if !status.Running {
		m.fail(ctx, dep.ID, fmt.Sprintf("container exited with code %d before becoming ready", status.ExitCode))
		return
	}
	if status.IP == "" {
		return // network attach still in progress
	}

	if m.httpReady(ctx, status.IP) {
		m.finalize(ctx, dep.ID)
	}
}

func (m *Monitor) httpReady(ctx context.Context, ip string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.Deploy.HTTPProbeTimeout)
	defer cancel()
	url := fmt.Sprintf("http://%s:%d/", ip, containerrt.ServicePort)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (m *Monitor) fail(ctx context.Context, deploymentID, reason string) {
	if _, err := m.Deploy.Queue.Enqueue(ctx, "deploy-fail-"+deploymentID, m.Deploy.JobTimeout, FailDeploymentWorkflow, deploymentID, reason); err != nil {
		m.Deploy.logf("monitor: enqueue fail for %s: %v", deploymentID, err)
	}
}

func (m *Monitor) finalize(ctx context.Context, deploymentID string) {
	if _, err := m.Deploy.Queue.Enqueue(ctx, "deploy-finalize-"+deploymentID, m.Deploy.JobTimeout, FinalizeDeploymentWorkflow, deploymentID); err != nil {
		m.Deploy.logf("monitor: enqueue finalize for %s: %v", deploymentID, err)
	}
}
