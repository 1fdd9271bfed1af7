// Package reaper implements C8: the periodic sweep that reclaims deployment
// containers no longer referenced by any alias, and the project-deletion
// cascade that removes everything scoped to a project. Grounded on
// agents/manager/internal/beam's activity-struct shape for the sweep body
// and app/tasks/cleanup.py (original_source/) for the cascade's delete
// ordering: containers first, then rows, then the router config, and the
// project row last.
package reaper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"drydock/internal/containerrt"
	"drydock/internal/router"
	"drydock/internal/store"
)

const deleteBatchSize = 100

// Reaper holds the collaborators the sweep and cascade need: the store for
// candidate/active-set queries, the container runtime to stop and remove
// containers, and the router writer to regenerate (or remove) a project's
// routing document after deletion.
type Reaper struct {
	Store  *store.Store
	Docker *containerrt.Client
	Router *router.Writer
	Log    *log.Logger
}

func New(s *store.Store, docker *containerrt.Client, w *router.Writer, logger *log.Logger) *Reaper {
	return &Reaper{Store: s, Docker: docker, Router: w, Log: logger}
}

// Sweep implements C8's periodic reclaim for one project: it lists
// completed deployments whose container is still believed running, removes
// every one not in the project's active alias set (current or previous for
// any alias), and records container_status=removed for each container it
// removed, or no status when Docker no longer had the container.
func (r *Reaper) Sweep(ctx context.Context, projectID string) error {
	candidates, err := r.Store.ListTerminalRunningContainers(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list reap candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}
	active, err := r.Store.ActiveDeploymentIDs(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list active deployment ids: %w", err)
	}

	var reaped, skipped int
	for _, dep := range candidates {
		if active[dep.ID] {
			skipped++
			continue
		}
		removed, err := r.Docker.KillAndRemove(ctx, dep.ContainerID)
		if err != nil {
			r.logf("reap: remove container %s (deployment %s): %v", dep.ContainerID, dep.ID, err)
			continue
		}
		newStatus := store.ContainerRemoved
		if !removed {
			newStatus = store.ContainerNone
		}
		if err := r.Store.SetContainerStatus(ctx, dep.ID, newStatus); err != nil {
			r.logf("reap: record container status for deployment %s: %v", dep.ID, err)
			continue
		}
		reaped++
	}
	r.logf("reap project %s: removed %d, protected %d", projectID, reaped, skipped)
	return nil
}

// CleanupProject implements the project-deletion cascade (spec §4.8): every
// deployment container is force-removed regardless of the active alias
// set (the project itself is going away, so there is nothing left to
// protect), then aliases, domains, and deployment rows (in batches) are
// deleted, then the router config file is removed, and the project row
// itself goes last.
func (r *Reaper) CleanupProject(ctx context.Context, projectID string) error {
	project, err := r.Store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	deployments, err := r.Store.ListByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list project deployments: %w", err)
	}
	for _, dep := range deployments {
		if dep.ContainerID == "" || dep.ContainerStatus == store.ContainerRemoved {
			continue
		}
		if _, err := r.Docker.KillAndRemove(ctx, dep.ContainerID); err != nil {
			r.logf("cleanup: remove container %s (deployment %s): %v", dep.ContainerID, dep.ID, err)
		}
	}

	deploymentIDs := make([]string, 0, len(deployments))
	for _, dep := range deployments {
		deploymentIDs = append(deploymentIDs, dep.ID)
	}
	if err := r.Store.DeleteAliasesForDeployments(ctx, deploymentIDs); err != nil {
		return fmt.Errorf("delete aliases: %w", err)
	}
	if err := r.Store.DeleteDomainsForProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete domains: %w", err)
	}
	for {
		n, err := r.Store.DeleteDeploymentsBatch(ctx, projectID, deleteBatchSize)
		if err != nil {
			return fmt.Errorf("delete deployments batch: %w", err)
		}
		if n < deleteBatchSize {
			break
		}
	}

	if err := r.Router.Write(project, nil, nil, router.SchemeHTTPS); err != nil {
		r.logf("cleanup: remove router config for project %s: %v", projectID, err)
	}

	if err := r.Store.DeleteProjectRow(ctx, projectID); err != nil {
		return fmt.Errorf("delete project row: %w", err)
	}
	return nil
}

func (r *Reaper) logf(format string, args ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, args...)
	}
}

// Scheduler drives the standalone per-project sweep independent of Temporal,
// for a process that wants the reaper running even if the Temporal cluster
// is briefly unreachable. cmd/worker wires this alongside the Temporal
// worker; ReapProject (the Temporal activity) and this Scheduler both call
// Sweep, so the two paths never diverge in behavior. Scheduling itself uses
// the same cron library Temporal's own SDK depends on, rather than a
// hand-rolled ticker, so the interval is expressed as a standard cron spec
// ("@every" duration syntax) instead of a raw time.Duration loop.
type Scheduler struct {
	Reaper   *Reaper
	Store    *store.Store
	Interval time.Duration

	cron *cron.Cron
}

// Run starts the cron scheduler and blocks until ctx is done, then stops it
// and waits for any in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.Interval), func() {
		s.sweepAll(ctx)
	}); err != nil {
		s.Reaper.logf("reap scheduler: bad interval %s: %v", s.Interval, err)
		return
	}
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepAll(ctx context.Context) {
	projectIDs, err := s.Store.ListActiveProjectIDs(ctx)
	if err != nil {
		s.Reaper.logf("reap scheduler: list active projects: %v", err)
		return
	}
	for _, id := range projectIDs {
		if err := s.Reaper.Sweep(ctx, id); err != nil {
			s.Reaper.logf("reap scheduler: sweep project %s: %v", id, err)
		}
	}
}
