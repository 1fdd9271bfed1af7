package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"drydock/internal/config"
	"drydock/internal/crypto"
	"drydock/internal/containerrt"
	"drydock/internal/deploy"
	"drydock/internal/eventbus"
	"drydock/internal/githubapp"
	"drydock/internal/jobqueue"
	"drydock/internal/reaper"
	"drydock/internal/router"
	"drydock/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "drydock-worker ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	app, err := githubapp.New(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.BaseURL)
	if err != nil {
		logger.Fatalf("github app: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer st.Close()

	box, err := crypto.NewBox(cfg.EncryptionPassphrase)
	if err != nil {
		logger.Fatalf("crypto: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	bus := eventbus.New(rdb)

	routerWriter := router.NewWriter(cfg.RouterConfigDir, cfg.DeployDomain)

	docker, err := containerrt.NewClient()
	if err != nil {
		logger.Fatalf("docker: %v", err)
	}
	defer docker.Close()

	temporalClient, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		logger.Fatalf("temporal client: %v", err)
	}
	defer temporalClient.Close()
	queue := jobqueue.New(temporalClient, cfg.TemporalTaskQueue)

	d := &deploy.Deploy{
		Store:             st,
		Bus:               bus,
		Router:            routerWriter,
		Queue:             queue,
		Docker:            docker,
		GitHub:            app,
		Box:               box,
		Log:               logger,
		RunnerNetwork:     cfg.RunnerNetwork,
		DeployDomain:      cfg.DeployDomain,
		Scheme:            router.SchemeHTTPS,
		DeploymentTimeout: cfg.DeploymentTimeout,
		JobTimeout:        cfg.JobTimeout,
		ProbeInterval:     cfg.ProbeInterval,
		HTTPProbeTimeout:  cfg.HTTPProbeTimeout,
	}

	reap := reaper.New(st, docker, routerWriter, logger)
	activities := deploy.NewActivities(d, reap)

	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(deploy.StartDeploymentWorkflow)
	w.RegisterWorkflow(deploy.FailDeploymentWorkflow)
	w.RegisterWorkflow(deploy.FinalizeDeploymentWorkflow)
	w.RegisterWorkflow(deploy.CleanupInactiveWorkflow)
	w.RegisterWorkflow(deploy.ProjectCleanupWorkflow)
	w.RegisterActivity(activities)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	monitor := deploy.NewMonitor(d)
	go monitor.Run(ctx)

	scheduler := &reaper.Scheduler{Reaper: reap, Store: st, Interval: cfg.ReaperInterval}
	go scheduler.Run(ctx)

	logger.Printf("worker started (task queue: %s)", cfg.TemporalTaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatalf("worker error: %v", err)
	}
	cancel()
}
